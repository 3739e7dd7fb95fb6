package f0

import "github.com/getcharzp/go-voiceconv"

// Options 后处理参数
type Options struct {
	Semitones    float64 // 移调半音数
	AutoTune     bool    // 吸附到半音
	FilterRadius int     // >= 3 时启用中值滤波
}

// Contour 对齐到帧网格的音高
type Contour struct {
	Hz     []float32 // 连续音高, 0 为清音
	Coarse []int64   // 量化音高 1..255
}

// Compute 估计音高并对齐到 frames 个 step 采样的帧, 再依次做滤波、吸附、移调与量化
//
// # Params:
//
//	est: 音高估计器
//	samples: 单声道音频
//	p: 估计参数
//	step: 目标帧长 (采样数)
//	frames: 目标帧数
//	opts: 后处理参数
func Compute(est Estimator, samples []float32, p Params, step, frames int, opts Options) (Contour, error) {
	if est == nil {
		return Contour{}, voiceconv.Errorf(voiceconv.ErrUnsupportedMethod, "未指定音高算法")
	}
	raw, err := est.Estimate(samples, p)
	if err != nil {
		return Contour{}, err
	}
	aligned := MedianFilter(Align(raw, p.HopLength, step, frames), opts.FilterRadius)
	if opts.AutoTune {
		AutoTune(aligned)
	}
	Shift(aligned, opts.Semitones)

	hz := make([]float32, len(aligned))
	for i, f := range aligned {
		hz[i] = float32(f)
	}
	return Contour{Hz: hz, Coarse: Coarse(aligned)}, nil
}
