package checkpoint

import (
	"strings"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/hardware"
	"go.uber.org/zap"
)

// Model 一次转换会话持有的模型资源
type Model struct {
	Checkpoint *Checkpoint
	Variant    Variant
	SampleRate int
	Generator  Generator
}

// PitchGuided 是否使用音高引导
func (m *Model) PitchGuided() bool {
	return m.Variant.PitchGuided
}

// Release 销毁生成网络并释放参数
func (m *Model) Release() {
	if m == nil {
		return
	}
	if m.Generator != nil {
		m.Generator.Destroy()
		m.Generator = nil
	}
	if m.Checkpoint != nil {
		m.Checkpoint.Weight = nil
		m.Checkpoint.Graph = nil
		m.Checkpoint = nil
	}
}

// Load 读取模型文件并构建生成网络, 重复调用会重新加载
//
// # Params:
//
//	path: 模型文件路径
//	profile: 硬件配置, 决定设备与精度
//	builder: 生成网络构建器
func Load(path string, profile hardware.Profile, builder Builder) (*Model, error) {
	ckpt, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromCheckpoint(ckpt, profile, builder)
}

// FromCheckpoint 用已解析的模型文件构建生成网络
func FromCheckpoint(ckpt *Checkpoint, profile hardware.Profile, builder Builder) (*Model, error) {
	logger := voiceconv.Component("checkpoint")
	if ckpt.Weight == nil || ckpt.Config == nil {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "缺少 weight 或 config 段")
	}

	arch := ckpt.Arch()
	sr, err := arch.SampleRate()
	if err != nil || sr <= 0 {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "无法读取采样率: %v", err)
	}

	variant, err := SelectVariant(ckpt.F0, ckpt.Version)
	if err != nil {
		return nil, err
	}

	emb, ok := ckpt.Weight["emb_g.weight"]
	if !ok {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "缺少说话人 embedding (emb_g.weight)")
	}
	if err := arch.SetSpeakerCount(int(emb.Dim(0))); err != nil {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "%v", err)
	}
	if err := checkShapes(ckpt.Weight, arch, variant); err != nil {
		return nil, err
	}

	// enc_q 只在训练时使用
	for name := range ckpt.Weight {
		if strings.HasPrefix(name, "enc_q.") {
			delete(ckpt.Weight, name)
		}
	}
	unexpected, missing := variant.matchWeights(ckpt.Weight)
	logger.Info("加载模型参数",
		zap.String("variant", variant.Name),
		zap.Int("sample_rate", sr),
		zap.Strings("unexpected_keys", unexpected),
		zap.Strings("missing_keys", missing))

	castWeights(ckpt.Weight, profile.Precision)

	gen, err := builder.Build(ModelSpec{
		Variant:    variant,
		Arch:       arch,
		Weights:    ckpt.Weight,
		Graph:      ckpt.Graph,
		SampleRate: sr,
		Profile:    profile,
	})
	if err != nil {
		return nil, err
	}

	return &Model{
		Checkpoint: ckpt,
		Variant:    variant,
		SampleRate: sr,
		Generator:  gen,
	}, nil
}

// checkShapes 校验补丁后的 config 与参数是否一致
func checkShapes(weights map[string]Tensor, arch ArchConfig, variant Variant) error {
	emb := weights["emb_g.weight"]
	if gin, err := arch.GinChannels(); err == nil && emb.Dim(1) >= 0 && int64(gin) != emb.Dim(1) {
		return voiceconv.Errorf(voiceconv.ErrShapeMismatch, "emb_g.weight 宽度 %d 与 gin_channels %d 不一致", emb.Dim(1), gin)
	}
	if phone, ok := weights["enc_p.emb_phone.weight"]; ok {
		// Linear(input_dim, hidden) 的权重形状为 [hidden, input_dim]
		if phone.Dim(1) != int64(variant.InputDim()) {
			return voiceconv.Errorf(voiceconv.ErrShapeMismatch, "enc_p.emb_phone.weight 输入宽度 %d, %s 需要 %d",
				phone.Dim(1), variant.Version, variant.InputDim())
		}
	}
	return nil
}
