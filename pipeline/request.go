// Package pipeline 变声推理流程: 分段、音高、内容特征、检索混合与合成
package pipeline

import (
	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/f0"
)

// 输出格式
const (
	FormatWAV = "wav"
	FormatPCM = "pcm"
)

// Request 一次变声请求
type Request struct {
	Audio      []float32 // 单声道音频
	SampleRate int       // Audio 的采样率

	PitchShift   float64 // 移调半音数
	Method       string  // 音高算法, 见 f0.ParseMethod
	IndexRatio   float64 // 检索混合比例 [0, 1], 0 表示忽略索引
	FilterRadius int     // 音高中值滤波半径 [0, 7], >= 3 时生效
	RMSMixRatio  float64 // 响度包络比例 [0, 1], 1 表示完全跟随源音频
	Protect      float64 // 清音保护 [0, 0.5]
	HopLength    int     // 音高估计帧移 [1, 512]
	AutoTune     bool    // 音高吸附到半音
	F0Min        float64 // 音高下限 (Hz)
	F0Max        float64 // 音高上限 (Hz)

	ResampleRate int    // 输出重采样率, 0 表示保持模型采样率
	SpeakerID    int64  // 说话人
	OutputFormat string // wav 或 pcm
}

// DefaultRequest 返回一组常用参数
func DefaultRequest() Request {
	return Request{
		Method:       f0.YINSmooth,
		IndexRatio:   0.5,
		FilterRadius: 3,
		RMSMixRatio:  0.25,
		Protect:      0.33,
		HopLength:    128,
		F0Min:        50,
		F0Max:        1100,
		OutputFormat: FormatWAV,
	}
}

// OctavesToSemitones 八度转半音
func OctavesToSemitones(octaves float64) float64 {
	return octaves * 12
}

// Validate 校验参数并解析音高算法, 不读取音频
//
// 越界参数直接报错, 不做截断
func (r Request) Validate() (f0.Method, error) {
	method, err := f0.ParseMethod(r.Method)
	if err != nil {
		return f0.Method{}, err
	}
	invalid := func(format string, args ...any) (f0.Method, error) {
		return f0.Method{}, voiceconv.Errorf(voiceconv.ErrInvalidParameter, format, args...)
	}
	switch {
	case r.IndexRatio < 0 || r.IndexRatio > 1:
		return invalid("index_rate %g 超出 [0, 1]", r.IndexRatio)
	case r.RMSMixRatio < 0 || r.RMSMixRatio > 1:
		return invalid("rms_mix_rate %g 超出 [0, 1]", r.RMSMixRatio)
	case r.Protect < 0 || r.Protect > 0.5:
		return invalid("protect %g 超出 [0, 0.5]", r.Protect)
	case r.FilterRadius < 0 || r.FilterRadius > 7:
		return invalid("filter_radius %d 超出 [0, 7]", r.FilterRadius)
	case r.HopLength < 1 || r.HopLength > 512:
		return invalid("hop_length %d 超出 [1, 512]", r.HopLength)
	case r.F0Min <= 0 || r.F0Max <= r.F0Min:
		return invalid("音高范围 [%g, %g] 无效", r.F0Min, r.F0Max)
	case r.F0Max >= encoderRate/2:
		return invalid("f0_max %g 必须低于 %d Hz", r.F0Max, encoderRate/2)
	case r.PitchShift < -48 || r.PitchShift > 48:
		return invalid("移调 %g 超出 [-48, 48] 半音", r.PitchShift)
	case r.SpeakerID < 0:
		return invalid("speaker_id %d 不能为负", r.SpeakerID)
	case r.ResampleRate < 0:
		return invalid("resample_rate %d 不能为负", r.ResampleRate)
	}
	switch r.OutputFormat {
	case "", FormatWAV, FormatPCM:
	default:
		return invalid("不支持的输出格式 %q", r.OutputFormat)
	}
	return method, nil
}
