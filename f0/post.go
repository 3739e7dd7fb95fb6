package f0

import (
	"math"
	"slices"
)

const (
	// coarseMin 粗量化使用的音高下限
	coarseMin = 50.0
	// coarseMax 粗量化使用的音高上限
	coarseMax = 1100.0
	// tuningA4 标准音高
	tuningA4 = 440.0
)

var (
	melMin = mel(coarseMin)
	melMax = mel(coarseMax)
)

func mel(f float64) float64 {
	return 1127 * math.Log(1+f/700)
}

// Shift 按半音数移调, 原地修改
func Shift(contour []float64, semitones float64) {
	if semitones == 0 {
		return
	}
	factor := math.Pow(2, semitones/12)
	for i := range contour {
		contour[i] *= factor
	}
}

// AutoTune 将每个浊音帧吸附到最近的十二平均律音高, 原地修改
func AutoTune(contour []float64) {
	for i, f := range contour {
		if f <= 0 {
			continue
		}
		n := math.Round(12 * math.Log2(f/tuningA4))
		contour[i] = tuningA4 * math.Pow(2, n/12)
	}
}

// MedianFilter radius >= 3 时做中值滤波, 窗长为不小于 radius 的奇数
//
// 边界处窗口收缩到有效范围
func MedianFilter(contour []float64, radius int) []float64 {
	if radius < 3 || len(contour) == 0 {
		return contour
	}
	kernel := radius | 1
	half := kernel / 2
	out := make([]float64, len(contour))
	window := make([]float64, 0, kernel)
	for i := range contour {
		window = append(window[:0], contour[max(0, i-half):min(len(contour), i+half+1)]...)
		slices.Sort(window)
		out[i] = window[len(window)/2]
	}
	return out
}

// Coarse 将音高按梅尔刻度量化到 1..255, 清音帧为 1
func Coarse(contour []float64) []int64 {
	out := make([]int64, len(contour))
	for i, f := range contour {
		m := mel(f)
		if m > 0 {
			m = (m-melMin)*254/(melMax-melMin) + 1
		}
		m = min(max(m, 1), 255)
		out[i] = int64(math.Round(m))
	}
	return out
}

// Align 把以 hop 为步长的曲线线性插值到以 step 为步长的 frames 帧
//
// 相邻帧有一侧为清音时取最近帧的值, 不在清浊之间插出虚假音高
func Align(contour []float64, hop, step, frames int) []float64 {
	out := make([]float64, frames)
	if len(contour) == 0 || hop <= 0 {
		return out
	}
	for j := range out {
		pos := float64(j*step) / float64(hop)
		lo := int(math.Floor(pos))
		if lo >= len(contour)-1 {
			out[j] = contour[len(contour)-1]
			continue
		}
		frac := pos - float64(lo)
		a, b := contour[lo], contour[lo+1]
		switch {
		case a > 0 && b > 0:
			out[j] = a + (b-a)*frac
		case frac < 0.5:
			out[j] = a
		default:
			out[j] = b
		}
	}
	return out
}
