package pipeline

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design/pass"
	"github.com/cwbudde/algo-dsp/dsp/resample"
	dsptime "github.com/cwbudde/algo-dsp/stats/time"
)

const (
	highPassHz    = 48
	highPassOrder = 5
	peakCeiling   = 0.99
)

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

// HighPass 48Hz 五阶 Butterworth 高通, 正反向各滤一次 (零相位)
func HighPass(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 {
		return nil
	}
	buf := toFloat64(samples)
	chain := biquad.NewChain(pass.ButterworthHP(highPassHz, highPassOrder, float64(sampleRate)))
	chain.ProcessBlock(buf)
	reverse(buf)
	chain.Reset()
	chain.ProcessBlock(buf)
	reverse(buf)
	return toFloat32(buf)
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// Resample 多相 FIR 重采样, 补偿滤波器延迟, 输出长度为 round(n*to/from)
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from == to || len(samples) == 0 {
		return append([]float32(nil), samples...), nil
	}
	r, err := resample.NewForRates(float64(from), float64(to))
	if err != nil {
		return nil, fmt.Errorf("创建重采样器失败: %w", err)
	}
	up, down := r.Ratio()
	delay := int(math.Round(float64(len(r.Prototype())-1) / float64(2*down)))
	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))

	// 尾部补零把延迟部分推出来
	tail := (delay+1)*down/up + 1
	in := make([]float64, len(samples)+tail)
	for i, v := range samples {
		in[i] = float64(v)
	}
	y := r.Process(in)

	out := make([]float32, want)
	for i := range out {
		if j := i + delay; j < len(y) {
			out[i] = float32(y[j])
		}
	}
	return out, nil
}

// reflectIndex 以 numpy reflect 方式把越界下标折返到 [0, n)
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// padReflect 两侧各做 p 个采样的镜像填充
func padReflect(s []float32, p int) []float32 {
	n := len(s)
	res := make([]float32, n+2*p)
	if n == 0 {
		return res
	}
	for i := range res {
		res[i] = s[reflectIndex(i-p, n)]
	}
	return res
}

// frameRMS 以 hop 为步长、帧中心对齐起点计算 RMS, 窗长 2*hop
func frameRMS(samples []float32, hop int) []float64 {
	if len(samples) == 0 || hop <= 0 {
		return nil
	}
	frames := len(samples)/hop + 1
	out := make([]float64, frames)
	win := make([]float64, 0, 2*hop)
	for i := range out {
		win = win[:0]
		for j := i*hop - hop; j < i*hop+hop; j++ {
			if j >= 0 && j < len(samples) {
				win = append(win, float64(samples[j]))
			}
		}
		out[i] = dsptime.RMS(win)
	}
	return out
}

// interpolate 线性插值到 n 点 (半像素对齐)
func interpolate(x []float64, n int) []float64 {
	out := make([]float64, n)
	if len(x) == 0 {
		return out
	}
	scale := float64(len(x)) / float64(n)
	for i := range out {
		pos := (float64(i)+0.5)*scale - 0.5
		pos = math.Min(math.Max(pos, 0), float64(len(x)-1))
		lo := int(pos)
		hi := min(lo+1, len(x)-1)
		frac := pos - float64(lo)
		out[i] = x[lo]*(1-frac) + x[hi]*frac
	}
	return out
}

// LimitPeak 峰值超过 0.99 时整体缩放到 0.99, 原地修改
func LimitPeak(samples []float32) {
	var peak float64
	for _, v := range samples {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	if peak <= peakCeiling {
		return
	}
	scale := float32(peakCeiling / peak)
	for i := range samples {
		samples[i] *= scale
	}
}
