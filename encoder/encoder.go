package encoder

import "github.com/getcharzp/go-voiceconv/checkpoint"

// Encoder 内容编码器
type Encoder interface {
	// Encode 编码 16kHz 单声道音频, 返回 [帧][维度], 帧长为 FrameSamples
	Encode(samples []float32, version checkpoint.Version) ([][]float32, error)
	// Destroy 释放编码器占用的资源
	Destroy()
}

// Repeat 将每帧特征重复 n 次
//
// 返回的帧共享原始切片, 调用方修改时需要先复制
func Repeat(feats [][]float32, n int) [][]float32 {
	if n <= 1 {
		return feats
	}
	out := make([][]float32, 0, len(feats)*n)
	for _, f := range feats {
		for range n {
			out = append(out, f)
		}
	}
	return out
}

// Frames 计算 n 个采样对应的编码器帧数
func Frames(n int) int {
	if n < FrameSamples {
		return 0
	}
	return n / FrameSamples
}
