package checkpoint

import "github.com/getcharzp/go-voiceconv/hardware"

// SynthInput 一段合成所需的输入, 所有序列帧数相同
type SynthInput struct {
	Features  [][]float32 // [帧][特征维度]
	Pitch     []int64     // 量化音高 1..255, 无音高引导时为 nil
	PitchF    []float32   // 音高 (Hz)
	SpeakerID int64
}

// Frames 帧数
func (in SynthInput) Frames() int {
	return len(in.Features)
}

// Generator 生成网络
//
// 部分加速器上内部缓冲区不可重入, 每个并发请求应持有独立实例
type Generator interface {
	// Synthesize 输出目标采样率下的波形, 长度为 帧数 * (采样率/100)
	Synthesize(in SynthInput) ([]float32, error)
	// Destroy 释放网络占用的资源
	Destroy()
}

// ModelSpec 构建生成网络所需的全部信息
type ModelSpec struct {
	Variant    Variant
	Arch       ArchConfig
	Weights    map[string]Tensor
	Graph      []byte
	SampleRate int
	Profile    hardware.Profile
}

// Builder 根据 ModelSpec 构建生成网络
type Builder interface {
	Build(spec ModelSpec) (Generator, error)
}

// BuilderFunc 函数形式的 Builder
type BuilderFunc func(spec ModelSpec) (Generator, error)

// Build 实现 Builder
func (f BuilderFunc) Build(spec ModelSpec) (Generator, error) { return f(spec) }
