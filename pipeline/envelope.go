package pipeline

import "math"

// Protect 把清音帧 (音高为 0) 的混合特征按 protect 拉回原始特征
//
// out = blended + 2*protect*(orig - blended); protect 为 0.5 时清音帧完全使用原始特征.
// pitch 为 nil (无音高引导) 时直接返回 blended.
func Protect(orig, blended [][]float32, pitch []float32, protect float64) [][]float32 {
	if pitch == nil || protect == 0 {
		return blended
	}
	alpha := float32(2 * protect)
	out := make([][]float32, len(blended))
	for t, b := range blended {
		if t >= len(pitch) || pitch[t] > 0 || t >= len(orig) {
			out[t] = b
			continue
		}
		row := make([]float32, len(b))
		for i := range row {
			row[i] = b[i] + alpha*(orig[t][i]-b[i])
		}
		out[t] = row
	}
	return out
}

// MixEnvelope 按 ratio 让输出响度向源音频靠拢, 原地修改 out
//
// 两侧以 0.5s 为步长计算 RMS 并插值到输出长度, out *= (rms_src / max(rms_out, 1e-6))^ratio
func MixEnvelope(source []float32, sourceRate int, out []float32, outRate int, ratio float64) {
	if ratio == 0 || len(source) == 0 || len(out) == 0 {
		return
	}
	src := interpolate(frameRMS(source, sourceRate/2), len(out))
	dst := interpolate(frameRMS(out, outRate/2), len(out))
	for i := range out {
		gain := math.Pow(src[i]/math.Max(dst[i], 1e-6), ratio)
		out[i] = float32(float64(out[i]) * gain)
	}
}
