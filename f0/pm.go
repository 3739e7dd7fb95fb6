package f0

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/conv"
	"github.com/up-zero/gotool/mediautil"
)

const (
	// voicingThreshold 归一化自相关峰值低于该值时判为清音
	voicingThreshold = 0.45
	// octaveCost 每高一个八度加的分数, 避免选中周期的整数倍
	octaveCost = 0.01
)

// pmEstimator 加窗自相关法 (窗口自相关校正)
type pmEstimator struct{}

// Estimate 实现 Estimator
func (pmEstimator) Estimate(samples []float32, p Params) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	frames := p.Frames(len(samples))
	out := make([]float64, frames)
	if frames == 0 {
		return out, nil
	}

	sr := float64(p.SampleRate)
	// 窗长覆盖 3 个最低音高周期
	winLen := int(math.Ceil(3 * sr / p.Min))
	minLag := max(2, int(math.Floor(sr/p.Max)))
	maxLag := min(int(math.Ceil(sr/p.Min)), winLen/2)

	window := mediautil.HannWindow(winLen)
	win := make([]float64, winLen)
	for i, w := range window {
		win[i] = float64(w)
	}
	rw, err := lagCorrelation(win)
	if err != nil {
		return nil, err
	}

	globalPeak := peakAbs(samples)
	if globalPeak == 0 {
		return out, nil
	}

	buf := make([]float64, winLen)
	for i := range frames {
		frame := frameAt(samples, i*p.HopLength, winLen, buf)
		if peakAbs(frame) < silenceThreshold*globalPeak {
			continue
		}
		var mean float64
		for _, v := range frame {
			mean += v
		}
		mean /= float64(winLen)
		for j := range frame {
			frame[j] = (frame[j] - mean) * win[j]
		}

		ra, err := lagCorrelation(frame)
		if err != nil {
			return nil, err
		}
		if ra[0] == 0 {
			continue
		}

		// r_x(τ) ≈ r_a(τ) / r_w(τ)
		r := func(lag int) float64 { return ra[lag] / ra[0] / (rw[lag] / rw[0]) }
		best, bestScore, bestLag := 0.0, math.Inf(-1), 0
		for lag := minLag; lag <= maxLag && lag+1 < winLen; lag++ {
			v := r(lag)
			if v < voicingThreshold || v < r(lag-1) || v < r(lag+1) {
				continue
			}
			score := v + octaveCost*math.Log2(sr/float64(lag)/p.Min)
			if score > bestScore {
				best, bestScore, bestLag = v, score, lag
			}
		}
		if bestLag == 0 || best < voicingThreshold {
			continue
		}
		lag := float64(bestLag) + parabolic(r(bestLag-1), best, r(bestLag+1))
		f := sr / lag
		if f >= p.Min && f <= p.Max {
			out[i] = f
		}
	}
	return out, nil
}

// lagCorrelation 返回非负滞后的自相关, 下标即滞后
func lagCorrelation(x []float64) ([]float64, error) {
	full, err := conv.AutoCorrelate(x)
	if err != nil {
		return nil, fmt.Errorf("计算自相关失败: %w", err)
	}
	return full[len(x)-1:], nil
}
