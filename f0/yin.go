package f0

import (
	"math"
	"slices"
)

const (
	// yinThreshold 累积均值归一化差分的绝对阈值
	yinThreshold = 0.15
)

// yinEstimator YIN 算法, smooth 时追加倍频纠正与三点中值平滑
type yinEstimator struct {
	smooth bool
}

// Estimate 实现 Estimator
func (y yinEstimator) Estimate(samples []float32, p Params) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	frames := p.Frames(len(samples))
	out := make([]float64, frames)
	if frames == 0 {
		return out, nil
	}

	sr := float64(p.SampleRate)
	maxLag := int(math.Ceil(sr / p.Min))
	minLag := max(2, int(math.Floor(sr/p.Max)))
	win := maxLag

	globalPeak := peakAbs(samples)
	if globalPeak == 0 {
		return out, nil
	}

	buf := make([]float64, win+maxLag+1)
	diff := make([]float64, maxLag+2)
	for i := range frames {
		// 分析窗从帧中心前 win/2 开始
		seg := frameAt(samples, i*p.HopLength+(maxLag+1)/2, win+maxLag+1, buf)
		if peakAbs(seg[:win]) < silenceThreshold*globalPeak {
			continue
		}
		out[i] = yinFrame(seg, win, minLag, maxLag, diff, sr)
		if out[i] < p.Min || out[i] > p.Max {
			out[i] = 0
		}
	}

	if y.smooth {
		out = smoothContour(out)
	}
	return out, nil
}

// yinFrame 估计单帧音高, 无可靠周期时返回 0
func yinFrame(seg []float64, win, minLag, maxLag int, diff []float64, sr float64) float64 {
	diff[0] = 1
	var running float64
	for tau := 1; tau <= maxLag+1; tau++ {
		var d float64
		for j := range win {
			delta := seg[j] - seg[j+tau]
			d += delta * delta
		}
		running += d
		if running == 0 {
			diff[tau] = 1
		} else {
			diff[tau] = d * float64(tau) / running
		}
	}

	for tau := minLag; tau <= maxLag; tau++ {
		if diff[tau] >= yinThreshold {
			continue
		}
		for tau+1 <= maxLag && diff[tau+1] < diff[tau] {
			tau++
		}
		lag := float64(tau) + parabolic(diff[tau-1], diff[tau], diff[tau+1])
		return sr / lag
	}
	return 0
}

// smoothContour 纠正相对邻域的倍频与半频跳变, 再对浊音帧做三点中值
func smoothContour(contour []float64) []float64 {
	fixed := slices.Clone(contour)
	for i, f := range contour {
		if f <= 0 {
			continue
		}
		ref := voicedMedian(contour, i, 2)
		if ref <= 0 {
			continue
		}
		switch octave := math.Log2(f / ref); {
		case octave > 0.8 && octave < 1.2:
			fixed[i] = f / 2
		case octave < -0.8 && octave > -1.2:
			fixed[i] = f * 2
		}
	}

	out := slices.Clone(fixed)
	for i, f := range fixed {
		if f > 0 {
			out[i] = voicedMedian(fixed, i, 1)
		}
	}
	return out
}

// voicedMedian 取 [i-r, i+r] 内浊音帧的中值 (不含清音帧)
func voicedMedian(contour []float64, i, r int) float64 {
	var vals []float64
	for j := max(0, i-r); j <= min(len(contour)-1, i+r); j++ {
		if contour[j] > 0 {
			vals = append(vals, contour[j])
		}
	}
	if len(vals) == 0 {
		return 0
	}
	slices.Sort(vals)
	return vals[len(vals)/2]
}
