package pipeline

import "github.com/getcharzp/go-voiceconv/hardware"

const (
	// encoderRate 内容编码器与音高估计的采样率
	encoderRate = 16000
	// frameSize 流程帧长 (16kHz 下 10ms)
	frameSize = 160
)

// Chunk 一个分段, [Start, End) 为帧序号
type Chunk struct {
	Start int
	End   int
}

// Frames 分段帧数
func (c Chunk) Frames() int { return c.End - c.Start }

// Plan 分段计划
//
// 输入两侧各镜像填充 Pad 个采样; 每段从填充后的音频中取 [Start*160, End*160+2*Pad),
// 两侧各带 Pad 个采样的上下文, 合成后再裁掉. 各段核心帧首尾相接, 总帧数恰好为 Frames.
type Plan struct {
	Pad    int // 每侧上下文 (采样数), 为帧长的整数倍
	Frames int
	Chunks []Chunk
}

// PadFrames 上下文帧数
func (p Plan) PadFrames() int { return p.Pad / frameSize }

// NewPlan 按窗口参数切分 16kHz 音频
//
// 长度超过 Max 时, 在 Center 的整数倍附近 ±Query 范围内选能量最小的位置作为切分点
func NewPlan(audio []float32, w hardware.Windows) Plan {
	plan := Plan{
		Pad:    w.Pad * encoderRate,
		Frames: len(audio) / frameSize,
	}
	if plan.Frames == 0 {
		return plan
	}

	var cuts []int
	tQuery, tCenter, tMax := w.Query*encoderRate, w.Center*encoderRate, w.Max*encoderRate
	if len(audio)+frameSize > tMax && tCenter > 0 {
		energy := windowEnergy(audio)
		last := 0
		for t := tCenter; t < len(audio); t += tCenter {
			lo, hi := max(0, t-tQuery), min(len(energy), t+tQuery)
			best := lo
			for i := lo; i < hi; i++ {
				if energy[i] < energy[best] {
					best = i
				}
			}
			cut := best / frameSize
			if cut > last && cut < plan.Frames {
				cuts = append(cuts, cut)
				last = cut
			}
		}
	}

	start := 0
	for _, c := range cuts {
		plan.Chunks = append(plan.Chunks, Chunk{Start: start, End: c})
		start = c
	}
	plan.Chunks = append(plan.Chunks, Chunk{Start: start, End: plan.Frames})
	return plan
}

// windowEnergy 以每个采样为中心、160 点窗口内的绝对值之和
func windowEnergy(audio []float32) []float64 {
	padded := padReflect(audio, frameSize/2)
	out := make([]float64, len(audio))
	var sum float64
	for i := range frameSize {
		sum += abs32(padded[i])
	}
	for i := range out {
		out[i] = sum
		if i+frameSize < len(padded) {
			sum += abs32(padded[i+frameSize]) - abs32(padded[i])
		}
	}
	return out
}

func abs32(v float32) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}

// segment 取出分段 c 带上下文的音频
func (p Plan) segment(padded []float32, c Chunk) []float32 {
	return padded[c.Start*frameSize : c.End*frameSize+2*p.Pad]
}
