package checkpoint

import (
	"fmt"
	"math/rand/v2"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/hardware"
	"github.com/up-zero/gotool/convertutil"
	ort "github.com/yalue/onnxruntime_go"
)

// OnnxConfig 生成网络的 ONNX 运行参数
type OnnxConfig struct {
	OnnxRuntimeLibPath string
	NumThreads         int  // (可选) ONNX 线程数
	EnableCpuMemArena  bool // (可选) 是否启用内存池
}

// OnnxBuilder 用模型文件中导出的 ONNX 网络构建生成器
type OnnxBuilder struct {
	cfg OnnxConfig
}

// NewOnnxBuilder 创建 OnnxBuilder
func NewOnnxBuilder(cfg OnnxConfig) *OnnxBuilder {
	return &OnnxBuilder{cfg: cfg}
}

// Build 实现 Builder
func (b *OnnxBuilder) Build(spec ModelSpec) (Generator, error) {
	if len(spec.Graph) == 0 {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "模型文件中没有可执行的生成网络")
	}

	oc := new(voiceconv.OnnxConfig)
	_ = convertutil.CopyProperties(b.cfg, oc)
	oc.UseCuda = spec.Profile.Device.Kind == hardware.DeviceGPU
	oc.UseCoreML = spec.Profile.Device.Kind == hardware.DeviceAltAccelerator
	if err := oc.New(); err != nil {
		return nil, err
	}
	defer oc.Destroy()

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(spec.Graph, spec.Variant.InputNames,
		[]string{spec.Variant.OutputName}, oc.SessionOptions)
	if err != nil {
		return nil, fmt.Errorf("创建生成网络会话失败: %w", err)
	}

	return &onnxGenerator{
		session:       session,
		variant:       spec.Variant,
		interChannels: spec.Arch.InterChannels(),
		half:          spec.Profile.IsHalf(),
	}, nil
}

type onnxGenerator struct {
	session       *ort.DynamicAdvancedSession
	variant       Variant
	interChannels int
	half          bool
}

// Synthesize 实现 Generator
func (g *onnxGenerator) Synthesize(in SynthInput) ([]float32, error) {
	frames := int64(in.Frames())
	if frames == 0 {
		return nil, nil
	}
	dim := int64(len(in.Features[0]))
	if int(dim) != g.variant.InputDim() {
		return nil, voiceconv.Errorf(voiceconv.ErrShapeMismatch, "特征维度 %d, 网络需要 %d", dim, g.variant.InputDim())
	}

	phone := make([]float32, 0, frames*dim)
	for _, f := range in.Features {
		phone = append(phone, f...)
	}
	if g.half {
		Quantize(phone)
	}

	var inputs []ort.Value
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()

	tPhone, err := ort.NewTensor(ort.NewShape(1, frames, dim), phone)
	if err != nil {
		return nil, fmt.Errorf("创建 phone tensor 失败: %w", err)
	}
	inputs = append(inputs, tPhone)
	tLen, err := ort.NewTensor(ort.NewShape(1), []int64{frames})
	if err != nil {
		return nil, fmt.Errorf("创建 phone_lengths tensor 失败: %w", err)
	}
	inputs = append(inputs, tLen)

	if g.variant.PitchGuided {
		if int64(len(in.Pitch)) != frames || int64(len(in.PitchF)) != frames {
			return nil, voiceconv.Errorf(voiceconv.ErrShapeMismatch, "音高帧数 %d/%d 与特征帧数 %d 不一致",
				len(in.Pitch), len(in.PitchF), frames)
		}
		tPitch, err := ort.NewTensor(ort.NewShape(1, frames), in.Pitch)
		if err != nil {
			return nil, fmt.Errorf("创建 pitch tensor 失败: %w", err)
		}
		inputs = append(inputs, tPitch)
		tPitchF, err := ort.NewTensor(ort.NewShape(1, frames), in.PitchF)
		if err != nil {
			return nil, fmt.Errorf("创建 pitchf tensor 失败: %w", err)
		}
		inputs = append(inputs, tPitchF)
	}

	tSid, err := ort.NewTensor(ort.NewShape(1), []int64{in.SpeakerID})
	if err != nil {
		return nil, fmt.Errorf("创建 ds tensor 失败: %w", err)
	}
	inputs = append(inputs, tSid)

	noise := make([]float32, int64(g.interChannels)*frames)
	for i := range noise {
		noise[i] = float32(rand.NormFloat64())
	}
	tRnd, err := ort.NewTensor(ort.NewShape(1, int64(g.interChannels), frames), noise)
	if err != nil {
		return nil, fmt.Errorf("创建 rnd tensor 失败: %w", err)
	}
	inputs = append(inputs, tRnd)

	outputs := make([]ort.Value, 1)
	if err := g.session.Run(inputs, outputs); err != nil {
		return nil, voiceconv.E(voiceconv.KindRuntimeInference, "生成网络推理", err)
	}
	defer outputs[0].Destroy()

	audio, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("推理输出类型断言失败，期望 *Tensor[float32]")
	}
	raw := audio.GetData()
	result := make([]float32, len(raw))
	copy(result, raw)
	return result, nil
}

// Destroy 实现 Generator
func (g *onnxGenerator) Destroy() {
	if g.session != nil {
		g.session.Destroy()
		g.session = nil
	}
}
