package checkpoint

import (
	"strings"

	"github.com/getcharzp/go-voiceconv"
)

// Version 模型版本
type Version string

const (
	// V1 256 维内容特征
	V1 Version = "v1"
	// V2 768 维内容特征
	V2 Version = "v2"
)

// InputDim 内容特征维度
func (v Version) InputDim() int {
	if v == V2 {
		return 768
	}
	return 256
}

// Variant 生成网络的变体, 由 (f0, version) 唯一确定
type Variant struct {
	Name        string
	PitchGuided bool
	Version     Version
	InputNames  []string
	OutputName  string
	required    []string // 必须存在的参数
	prefixes    []string // 推理网络的参数前缀
}

// InputDim 内容特征维度
func (v Variant) InputDim() int {
	return v.Version.InputDim()
}

type variantKey struct {
	pitch   bool
	version Version
}

var (
	pitchInputs   = []string{"phone", "phone_lengths", "pitch", "pitchf", "ds", "rnd"}
	noPitchInputs = []string{"phone", "phone_lengths", "ds", "rnd"}
	basePrefixes  = []string{"enc_p.", "dec.", "flow.", "emb_g."}
	baseRequired  = []string{"emb_g.weight", "enc_p.emb_phone.weight"}

	variants = map[variantKey]Variant{
		{true, V1}:  newVariant("synthesizer_v1_f0", true, V1),
		{false, V1}: newVariant("synthesizer_v1_nof0", false, V1),
		{true, V2}:  newVariant("synthesizer_v2_f0", true, V2),
		{false, V2}: newVariant("synthesizer_v2_nof0", false, V2),
	}
)

func newVariant(name string, pitch bool, version Version) Variant {
	v := Variant{
		Name:        name,
		PitchGuided: pitch,
		Version:     version,
		InputNames:  noPitchInputs,
		OutputName:  "audio",
		required:    baseRequired,
		prefixes:    basePrefixes,
	}
	if pitch {
		v.InputNames = pitchInputs
		v.required = append(append([]string{}, baseRequired...), "enc_p.emb_pitch.weight")
	}
	return v
}

// SelectVariant 根据 f0 与 version 选择网络变体
func SelectVariant(f0 int, version string) (Variant, error) {
	ver := Version(strings.ToLower(strings.TrimSpace(version)))
	if ver == "" {
		ver = V1
	}
	v, ok := variants[variantKey{pitch: f0 == 1, version: ver}]
	if !ok {
		return Variant{}, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "未知的模型版本 %q", version)
	}
	return v, nil
}

// matchWeights 宽松匹配参数, 返回多余与缺失的键
func (v Variant) matchWeights(weights map[string]Tensor) (unexpected, missing []string) {
	for name := range weights {
		known := false
		for _, p := range v.prefixes {
			if strings.HasPrefix(name, p) {
				known = true
				break
			}
		}
		if !known {
			unexpected = append(unexpected, name)
		}
	}
	for _, name := range v.required {
		if _, ok := weights[name]; !ok {
			missing = append(missing, name)
		}
	}
	return unexpected, missing
}
