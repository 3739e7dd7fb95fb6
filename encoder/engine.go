package encoder

import (
	"fmt"
	"sync"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/checkpoint"
	"github.com/getcharzp/go-voiceconv/hardware"
	"github.com/up-zero/gotool/convertutil"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Engine 封装了 HuBERT 内容编码器的 ONNX 运行时
//
// v1 与 v2 读取不同的输出节点, 会话按需创建
type Engine struct {
	mu       sync.Mutex
	oc       *voiceconv.OnnxConfig
	config   Config
	half     bool
	sessions map[checkpoint.Version]*ort.DynamicAdvancedSession
}

// Load 按硬件配置加载编码器, 重复调用会重新加载
//
// # Params:
//
//	cfg: 编码器配置
//	profile: 硬件配置, 决定执行设备与精度
func Load(cfg Config, profile hardware.Profile) (*Engine, error) {
	if cfg.ModelPath == "" {
		return nil, voiceconv.Errorf(voiceconv.ErrModelNotFound, "编码器模型路径不能为空")
	}

	oc := new(voiceconv.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, oc); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	oc.UseCuda = profile.Device.Kind == hardware.DeviceGPU
	oc.UseCoreML = profile.Device.Kind == hardware.DeviceAltAccelerator
	if err := oc.New(); err != nil {
		return nil, err
	}

	voiceconv.Component("encoder").Info("加载内容编码器",
		zap.String("model", cfg.ModelPath),
		zap.Stringer("precision", profile.Precision))

	return &Engine{
		oc:       oc,
		config:   cfg,
		half:     profile.IsHalf(),
		sessions: make(map[checkpoint.Version]*ort.DynamicAdvancedSession),
	}, nil
}

// session 获取 version 对应的会话
func (e *Engine) session(version checkpoint.Version) (*ort.DynamicAdvancedSession, error) {
	if s, ok := e.sessions[version]; ok {
		return s, nil
	}
	output := fmt.Sprintf("feats_%d", version.InputDim())
	s, err := ort.NewDynamicAdvancedSession(e.config.ModelPath, []string{inputName}, []string{output}, e.oc.SessionOptions)
	if err != nil {
		return nil, fmt.Errorf("创建 ONNX 会话失败: %w", err)
	}
	e.sessions[version] = s
	return s, nil
}

// Encode 实现 Encoder
func (e *Engine) Encode(samples []float32, version checkpoint.Version) ([][]float32, error) {
	if len(samples) < FrameSamples {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions == nil {
		return nil, fmt.Errorf("编码器已释放")
	}
	session, err := e.session(version)
	if err != nil {
		return nil, err
	}

	input := samples
	if e.half {
		input = append([]float32(nil), samples...)
		checkpoint.Quantize(input)
	}
	tSource, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return nil, fmt.Errorf("创建 source tensor 失败: %w", err)
	}
	defer tSource.Destroy()

	outputs := make([]ort.Value, 1)
	if err := session.Run([]ort.Value{tSource}, outputs); err != nil {
		return nil, voiceconv.E(voiceconv.KindRuntimeInference, "内容编码", err)
	}
	defer outputs[0].Destroy()

	result, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("推理输出类型断言失败，期望 *Tensor[float32]")
	}
	shape := result.GetShape()
	if len(shape) != 3 || int(shape[2]) != version.InputDim() {
		return nil, voiceconv.Errorf(voiceconv.ErrShapeMismatch, "编码器输出形状 %v, 需要 [1, T, %d]", shape, version.InputDim())
	}
	return splitFrames(result.GetData(), int(shape[1]), int(shape[2])), nil
}

// Destroy 实现 Encoder
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		s.Destroy()
	}
	e.sessions = nil
	if e.oc != nil {
		e.oc.Destroy()
	}
}

// splitFrames 把 [T*D] 的输出复制为 [T][D]
func splitFrames(data []float32, frames, dim int) [][]float32 {
	out := make([][]float32, frames)
	for t := range out {
		row := make([]float32, dim)
		copy(row, data[t*dim:(t+1)*dim])
		out[t] = row
	}
	return out
}
