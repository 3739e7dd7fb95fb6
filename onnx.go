package voiceconv

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var envMu sync.Mutex

// OnnxConfig ONNX 运行时的公共配置，各引擎通过 convertutil.CopyProperties 从自身 Config 复制
type OnnxConfig struct {
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	UseCuda            bool   // 是否启用 CUDA
	UseCoreML          bool   // 是否启用 CoreML (Apple Silicon)
	NumThreads         int    // ONNX 线程数, 0 表示由 CPU 核心数决定
	EnableCpuMemArena  bool   // 是否启用内存池

	SessionOptions *ort.SessionOptions
}

// New 初始化 ONNX 运行时环境并构建会话参数
//
// 运行时环境在进程内只初始化一次，重复调用只会重新构建 SessionOptions
func (oc *OnnxConfig) New() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		if oc.OnnxRuntimeLibPath != "" {
			ort.SetSharedLibraryPath(oc.OnnxRuntimeLibPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("初始化 ONNX 运行时失败: %w", err)
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("创建 SessionOptions 失败: %w", err)
	}
	if oc.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(oc.NumThreads); err != nil {
			opts.Destroy()
			return fmt.Errorf("设置线程数失败: %w", err)
		}
	}
	if err := opts.SetCpuMemArena(oc.EnableCpuMemArena); err != nil {
		opts.Destroy()
		return fmt.Errorf("设置内存池失败: %w", err)
	}

	switch {
	case oc.UseCuda:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return fmt.Errorf("创建 CUDA 参数失败: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			opts.Destroy()
			return fmt.Errorf("启用 CUDA 失败: %w", err)
		}
	case oc.UseCoreML:
		if err := opts.AppendExecutionProviderCoreML(0); err != nil {
			// CoreML 不可用时回退到 CPU
			Logger().Warn("启用 CoreML 失败, 回退到 CPU", zap.Error(err))
		}
	}

	if oc.SessionOptions != nil {
		oc.SessionOptions.Destroy()
	}
	oc.SessionOptions = opts
	return nil
}

// Destroy 释放 SessionOptions，运行时环境保持可用
func (oc *OnnxConfig) Destroy() {
	if oc.SessionOptions != nil {
		oc.SessionOptions.Destroy()
		oc.SessionOptions = nil
	}
}

// DefaultLibraryPath 返回当前平台 onnxruntime 动态库的默认路径
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./lib/onnxruntime.dll"
	case "darwin":
		return "./lib/libonnxruntime.dylib"
	default:
		return "./lib/libonnxruntime.so"
	}
}
