package f0

import (
	"math"

	"github.com/getcharzp/go-voiceconv"
)

// Params 估计参数
type Params struct {
	SampleRate int
	HopLength  int     // 帧移 (采样数)
	Min        float64 // 最低音高 (Hz)
	Max        float64 // 最高音高 (Hz)
}

// Validate 检查参数范围
func (p Params) Validate() error {
	if p.SampleRate <= 0 {
		return voiceconv.Errorf(voiceconv.ErrInvalidParameter, "采样率必须大于 0")
	}
	if p.HopLength <= 0 {
		return voiceconv.Errorf(voiceconv.ErrInvalidParameter, "hop_length 必须大于 0")
	}
	if p.Min <= 0 || p.Max <= p.Min || p.Max >= float64(p.SampleRate)/2 {
		return voiceconv.Errorf(voiceconv.ErrInvalidParameter, "音高范围 [%g, %g] 无效", p.Min, p.Max)
	}
	return nil
}

// Frames 以 hop 为步长、帧中心对齐起点时的帧数
func (p Params) Frames(n int) int {
	if n <= 0 {
		return 0
	}
	return n/p.HopLength + 1
}

// Estimator 音高估计器, 实现必须是无状态的, 可以并发调用
type Estimator interface {
	// Estimate 返回每帧音高 (Hz), 0 表示清音或静音, 长度为 p.Frames(len(samples))
	Estimate(samples []float32, p Params) ([]float64, error)
}

const (
	// silenceThreshold 帧峰值低于全局峰值的该比例时视为静音
	silenceThreshold = 0.03
)

// frameAt 取以 center 为中心、长度为 n 的片段, 越界部分补零
func frameAt(samples []float32, center, n int, dst []float64) []float64 {
	dst = dst[:n]
	start := center - n/2
	for i := range dst {
		j := start + i
		if j < 0 || j >= len(samples) {
			dst[i] = 0
		} else {
			dst[i] = float64(samples[j])
		}
	}
	return dst
}

// peakAbs 最大绝对值
func peakAbs[T float32 | float64](x []T) float64 {
	var peak float64
	for _, v := range x {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	return peak
}

// parabolic 对 y[i-1], y[i], y[i+1] 做抛物线插值, 返回极值位置的偏移量
func parabolic(prev, cur, next float64) float64 {
	den := prev - 2*cur + next
	if den == 0 {
		return 0
	}
	shift := 0.5 * (prev - next) / den
	if shift > 1 || shift < -1 {
		return 0
	}
	return shift
}
