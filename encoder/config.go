// Package encoder 将 16kHz 音频编码为逐帧的内容特征
package encoder

import "github.com/getcharzp/go-voiceconv"

const (
	// SampleRate 编码器输入采样率
	SampleRate = 16000
	// FrameSamples 编码器每帧对应的采样数
	FrameSamples = 320
	// PitchFrameSamples 音高帧长度, 编码器帧重复 2 次后与之对齐
	PitchFrameSamples = FrameSamples / 2
	// inputName 输入节点名
	inputName = "source"
)

// Config 定义内容编码器的配置参数
type Config struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	ModelPath          string // HuBERT ONNX 模型路径

	// 可选参数
	NumThreads        int  // (可选) ONNX 线程数, 默认由CPU核心数决定
	EnableCpuMemArena bool // (可选) 是否启用内存池
}

// DefaultConfig 返回一套默认的配置 (基于常见的目录结构)
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: voiceconv.DefaultLibraryPath(),
		ModelPath:          "./hubert_weights/hubert_base.onnx",
	}
}
