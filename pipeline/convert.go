package pipeline

import (
	"context"
	"time"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/checkpoint"
	"github.com/getcharzp/go-voiceconv/encoder"
	"github.com/getcharzp/go-voiceconv/f0"
	"github.com/getcharzp/go-voiceconv/hardware"
	"github.com/getcharzp/go-voiceconv/index"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/getcharzp/go-voiceconv/pipeline"

// 流程阶段, 用于耗时统计
const (
	StagePitch     = "pitch"
	StageEncode    = "encode"
	StageRetrieve  = "retrieve"
	StageSynthesis = "synthesis"
	StagePost      = "post"
)

// Session 一次转换所需的模型资源, 由调用方负责加载与释放
type Session struct {
	Encoder     encoder.Encoder
	Generator   checkpoint.Generator
	Version     checkpoint.Version
	PitchGuided bool
	SampleRate  int          // 生成网络输出采样率
	Index       *index.Index // 可选
	Windows     hardware.Windows
	NeighborK   int // 检索近邻数, 0 使用 index.DefaultK

	// Observe (可选) 每个阶段结束时回调
	Observe func(stage string, d time.Duration)
}

// Result 转换结果
type Result struct {
	Audio      []float32
	SampleRate int
	Frames     int // 16kHz 下 10ms 帧数
	Chunks     int
}

// converter 单次转换的状态
type converter struct {
	req    Request
	sess   Session
	method f0.Method
	est    f0.Estimator
	plan   Plan
	hopOut int
	logger *zap.Logger
	tracer trace.Tracer
}

// Convert 执行一次变声
//
// # Params:
//
//	ctx: 只用于传递 trace, 不支持取消
//	req: 请求参数与源音频
//	sess: 模型资源
func Convert(ctx context.Context, req Request, sess Session) (Result, error) {
	method, err := req.Validate()
	if err != nil {
		return Result{}, err
	}
	if sess.Encoder == nil || sess.Generator == nil {
		return Result{}, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "缺少编码器或生成网络")
	}
	if sess.SampleRate < 100 {
		return Result{}, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "目标采样率 %d 无效", sess.SampleRate)
	}
	if req.SampleRate <= 0 {
		return Result{}, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "源采样率 %d 无效", req.SampleRate)
	}

	c := &converter{
		req:    req,
		sess:   sess,
		method: method,
		est:    method.Estimator(),
		hopOut: sess.SampleRate / 100,
		logger: voiceconv.Component("pipeline"),
		tracer: otel.Tracer(tracerName),
	}
	ctx, span := c.tracer.Start(ctx, "pipeline.Convert", trace.WithAttributes(
		attribute.String("f0.method", method.String()),
		attribute.Int("sample_rate", sess.SampleRate),
	))
	defer span.End()

	audio, err := Resample(req.Audio, req.SampleRate, encoderRate)
	if err != nil {
		return Result{}, err
	}
	audio = HighPass(audio, encoderRate)
	c.plan = NewPlan(audio, sess.Windows)
	c.logger.Debug("分段计划",
		zap.Int("frames", c.plan.Frames),
		zap.Int("chunks", len(c.plan.Chunks)),
		zap.Int("pad", c.plan.Pad))
	if c.plan.Frames == 0 {
		return Result{SampleRate: c.outputRate()}, nil
	}

	padded := padReflect(audio, c.plan.Pad)
	out := make([]float32, 0, c.plan.Frames*c.hopOut)
	for i, chunk := range c.plan.Chunks {
		part, err := c.chunk(ctx, c.plan.segment(padded, chunk), chunk)
		if err != nil {
			span.RecordError(err)
			c.logger.Error("分段转换失败", zap.Int("chunk", i), zap.Error(err))
			return Result{}, err
		}
		out = append(out, part...)
	}

	start := time.Now()
	_, postSpan := c.tracer.Start(ctx, "pipeline."+StagePost)
	MixEnvelope(audio[:c.plan.Frames*frameSize], encoderRate, out, sess.SampleRate, req.RMSMixRatio)
	LimitPeak(out)
	rate := sess.SampleRate
	if req.ResampleRate > 0 && req.ResampleRate != rate {
		if out, err = Resample(out, rate, req.ResampleRate); err != nil {
			postSpan.End()
			return Result{}, err
		}
		rate = req.ResampleRate
	}
	postSpan.End()
	c.observe(StagePost, start)

	return Result{Audio: out, SampleRate: rate, Frames: c.plan.Frames, Chunks: len(c.plan.Chunks)}, nil
}

// PitchTrack 按分段计划估计整段音高并拼接核心帧, 长度恰好为 plan.Frames
func PitchTrack(audio []float32, plan Plan, est f0.Estimator, p f0.Params, opts f0.Options) (f0.Contour, error) {
	padded := padReflect(audio, plan.Pad)
	var track f0.Contour
	for _, chunk := range plan.Chunks {
		c, err := chunkPitch(plan.segment(padded, chunk), plan, chunk, est, p, opts)
		if err != nil {
			return f0.Contour{}, err
		}
		pad := plan.PadFrames()
		track.Hz = append(track.Hz, c.Hz[pad:pad+chunk.Frames()]...)
		track.Coarse = append(track.Coarse, c.Coarse[pad:pad+chunk.Frames()]...)
	}
	return track, nil
}

func chunkPitch(seg []float32, plan Plan, chunk Chunk, est f0.Estimator, p f0.Params, opts f0.Options) (f0.Contour, error) {
	return f0.Compute(est, seg, p, frameSize, chunk.Frames()+2*plan.PadFrames(), opts)
}

func (c *converter) outputRate() int {
	if c.req.ResampleRate > 0 {
		return c.req.ResampleRate
	}
	return c.sess.SampleRate
}

func (c *converter) observe(stage string, start time.Time) {
	if c.sess.Observe != nil {
		c.sess.Observe(stage, time.Since(start))
	}
}

// stage 在 span 中执行一个阶段
func (c *converter) stage(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	_, span := c.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	err := fn()
	if err != nil {
		span.RecordError(err)
	}
	c.observe(name, start)
	return err
}

// chunk 转换一个分段, 返回裁掉上下文后的核心音频
func (c *converter) chunk(ctx context.Context, seg []float32, chunk Chunk) ([]float32, error) {
	padFrames := c.plan.PadFrames()
	segFrames := chunk.Frames() + 2*padFrames

	var pitch f0.Contour
	if c.sess.PitchGuided {
		err := c.stage(ctx, StagePitch, func() (err error) {
			pitch, err = chunkPitch(seg, c.plan, chunk, c.est, f0.Params{
				SampleRate: encoderRate,
				HopLength:  c.req.HopLength,
				Min:        c.req.F0Min,
				Max:        c.req.F0Max,
			}, f0.Options{
				Semitones:    c.req.PitchShift,
				AutoTune:     c.req.AutoTune,
				FilterRadius: c.req.FilterRadius,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	var feats [][]float32
	if err := c.stage(ctx, StageEncode, func() (err error) {
		feats, err = c.sess.Encoder.Encode(seg, c.sess.Version)
		return err
	}); err != nil {
		return nil, err
	}

	blended := feats
	if err := c.stage(ctx, StageRetrieve, func() (err error) {
		blended, err = index.Blend(feats, c.sess.Index, c.req.IndexRatio, c.sess.NeighborK)
		return err
	}); err != nil {
		return nil, err
	}

	orig := encoder.Repeat(feats, 2)
	mixed := encoder.Repeat(blended, 2)
	n := min(len(mixed), segFrames)
	in := checkpoint.SynthInput{SpeakerID: c.req.SpeakerID}
	if c.sess.PitchGuided {
		in.Pitch = pitch.Coarse[:n]
		in.PitchF = pitch.Hz[:n]
		mixed = Protect(orig, mixed[:n], in.PitchF, c.req.Protect)
	}
	in.Features = mixed[:n]

	var wave []float32
	if err := c.stage(ctx, StageSynthesis, func() (err error) {
		wave, err = c.sess.Generator.Synthesize(in)
		if err != nil && voiceconv.KindOf(err) == voiceconv.KindUnknown {
			err = voiceconv.E(voiceconv.KindRuntimeInference, "合成", err)
		}
		return err
	}); err != nil {
		return nil, err
	}

	// 编码器帧数不足时只会缺少右侧上下文; 核心部分仍不足的采样补零
	core := make([]float32, chunk.Frames()*c.hopOut)
	from := padFrames * c.hopOut
	if from < len(wave) {
		copy(core, wave[from:])
	}
	return core, nil
}
