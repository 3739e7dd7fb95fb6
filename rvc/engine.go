package rvc

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/catalog"
	"github.com/getcharzp/go-voiceconv/checkpoint"
	"github.com/getcharzp/go-voiceconv/encoder"
	"github.com/getcharzp/go-voiceconv/hardware"
	"github.com/getcharzp/go-voiceconv/index"
	"github.com/getcharzp/go-voiceconv/pipeline"
	"github.com/up-zero/gotool/convertutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/getcharzp/go-voiceconv/rvc"

// EncoderLoader 加载内容编码器
type EncoderLoader func(cfg encoder.Config, profile hardware.Profile) (encoder.Encoder, error)

// loadOnnxEncoder 默认的编码器加载方式
func loadOnnxEncoder(cfg encoder.Config, profile hardware.Profile) (encoder.Encoder, error) {
	e, err := encoder.Load(cfg, profile)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Engine 变声引擎, 设备只探测一次, 模型每次转换时加载并在结束后释放
type Engine struct {
	cfg         Config
	shared      *hardware.Shared
	builder     checkpoint.Builder
	loadEncoder EncoderLoader
	metrics     *Metrics
	catalog     *catalog.Catalog
	ownCatalog  bool

	overridesOnce sync.Once
	logger        *zap.Logger
	tracer        trace.Tracer
}

// Option 引擎可选项
type Option func(*Engine)

// WithProber 使用指定的设备探测器
func WithProber(p hardware.Prober) Option {
	return func(e *Engine) {
		e.shared = hardware.NewShared(hardware.NewResolver(p), e.cfg.IsHalf)
	}
}

// WithShared 与其他引擎共用同一份硬件配置
func WithShared(s *hardware.Shared) Option {
	return func(e *Engine) { e.shared = s }
}

// WithBuilder 使用指定的生成网络构建器
func WithBuilder(b checkpoint.Builder) Option {
	return func(e *Engine) { e.builder = b }
}

// WithEncoderLoader 使用指定的编码器加载方式
func WithEncoderLoader(l EncoderLoader) Option {
	return func(e *Engine) { e.loadEncoder = l }
}

// WithMetrics 记录 Prometheus 指标
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCatalog 使用已打开的模型目录, 引擎不负责关闭
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// NewEngine 创建变声引擎
//
// 不会探测设备或加载模型, 这些在第一次 Run 时进行
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.ModelsDir == "" {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "未配置模型根目录")
	}
	if cfg.OutputDir == "" {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "未配置输出目录")
	}
	if cfg.NeighborK <= 0 {
		cfg.NeighborK = index.DefaultK
	}

	e := &Engine{
		cfg:         cfg,
		loadEncoder: loadOnnxEncoder,
		logger:      voiceconv.Component("rvc"),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.shared == nil {
		e.shared = hardware.NewShared(hardware.NewResolver(nil), cfg.IsHalf)
	}
	if e.builder == nil {
		var onnxConfig checkpoint.OnnxConfig
		if err := convertutil.CopyProperties(cfg, &onnxConfig); err != nil {
			return nil, fmt.Errorf("复制配置失败: %w", err)
		}
		e.builder = checkpoint.NewOnnxBuilder(onnxConfig)
	}
	if e.catalog == nil && cfg.CatalogDir != "" {
		c, err := catalog.Open(catalog.Options{Dir: cfg.CatalogDir})
		if err != nil {
			return nil, err
		}
		e.catalog = c
		e.ownCatalog = true
	}
	return e, nil
}

// Destroy 释放引擎持有的资源
func (e *Engine) Destroy() error {
	if e.ownCatalog && e.catalog != nil {
		err := e.catalog.Close()
		e.catalog = nil
		return err
	}
	return nil
}

// Profile 返回硬件配置, 首次调用时探测
func (e *Engine) Profile() hardware.Profile {
	p, _ := e.shared.Get()
	return p
}

// Catalog 返回模型目录, 未配置时为 nil
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// RunFile 读取 WAV 文件并执行一次转换
//
// # Params:
//
//	ctx: 用于传递 trace
//	inputPath: 源音频路径
//	req: 转换参数, Audio 与 SampleRate 会被覆盖
//	modelName: 模型目录名
func (e *Engine) RunFile(ctx context.Context, inputPath string, req pipeline.Request, modelName string) (string, error) {
	if _, err := req.Validate(); err != nil {
		return "", err
	}
	audio, err := ReadAudio(inputPath)
	if err != nil {
		return "", err
	}
	req.Audio = audio
	req.SampleRate = inputRate
	return e.Run(ctx, req, modelName)
}

// Run 执行一次转换, 返回输出文件路径
//
// 参数校验与模型目录解析在探测设备之前进行, 模型在返回前释放
func (e *Engine) Run(ctx context.Context, req pipeline.Request, modelName string) (outPath string, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "rvc.Run", trace.WithAttributes(attribute.String("model", modelName)))
	var seconds float64
	defer func() {
		if r := recover(); r != nil {
			err = voiceconv.E(voiceconv.KindRuntimeInference, "变声", fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error("变声失败", zap.String("model", modelName), zap.Stringer("kind", voiceconv.KindOf(err)), zap.Error(err))
		} else {
			e.logger.Info("变声完成",
				zap.String("model", modelName),
				zap.String("output", outPath),
				zap.Float64("audio_seconds", seconds),
				zap.Duration("elapsed", time.Since(start)))
		}
		e.metrics.observeRun(modelName, err, seconds)
		span.End()
	}()

	if _, err := req.Validate(); err != nil {
		return "", err
	}
	files, err := ResolveModel(e.cfg.ModelsDir, modelName)
	if err != nil {
		return "", err
	}

	profile, overrides := e.shared.Get()
	e.applyOverrides(overrides)
	span.SetAttributes(
		attribute.String("device", profile.Device.Name),
		attribute.Bool("half", profile.IsHalf()),
	)

	sess, release, err := e.load(files, profile, req.SpeakerID)
	defer release()
	if err != nil {
		return "", err
	}

	res, err := pipeline.Convert(ctx, req, sess)
	if err != nil {
		return "", err
	}
	data, ext, err := encodeAudio(res.Audio, res.SampleRate, req.OutputFormat)
	if err != nil {
		return "", err
	}
	outPath, err = writeOutput(e.cfg.OutputDir, modelName, data, ext)
	if err != nil {
		return "", err
	}
	if res.SampleRate > 0 {
		seconds = float64(len(res.Audio)) / float64(res.SampleRate)
	}
	return outPath, nil
}

// applyOverrides 改写建议只落盘一次
func (e *Engine) applyOverrides(overrides []hardware.Override) {
	e.overridesOnce.Do(func() {
		if e.cfg.ConfigRoot == "" || len(overrides) == 0 {
			return
		}
		if err := hardware.ApplyOverrides(e.cfg.ConfigRoot, overrides); err != nil {
			e.logger.Warn("改写配置文件失败", zap.Error(err))
		}
	})
}

// load 加载一次转换所需的全部模型, 返回的 release 总是可以调用
func (e *Engine) load(files ModelFiles, profile hardware.Profile, speakerID int64) (pipeline.Session, func(), error) {
	var (
		enc   encoder.Encoder
		model *checkpoint.Model
	)
	release := func() {
		if model != nil {
			model.Release()
		}
		if enc != nil {
			enc.Destroy()
		}
		runtime.GC()
		debug.FreeOSMemory()
	}

	encCfg := encoder.DefaultConfig()
	if err := convertutil.CopyProperties(e.cfg, &encCfg); err != nil {
		return pipeline.Session{}, release, fmt.Errorf("复制配置失败: %w", err)
	}
	encCfg.ModelPath = e.cfg.HubertModelPath
	var err error
	if enc, err = e.loadEncoder(encCfg, profile); err != nil {
		return pipeline.Session{}, release, err
	}

	if model, err = checkpoint.Load(files.Weights, profile, e.builder); err != nil {
		return pipeline.Session{}, release, err
	}
	speakers, err := model.Checkpoint.Arch().SpeakerCount()
	if err != nil {
		return pipeline.Session{}, release, voiceconv.E(voiceconv.KindConfiguration, "读取说话人数量", err)
	}
	if speakerID >= int64(speakers) {
		return pipeline.Session{}, release, voiceconv.Errorf(voiceconv.ErrInvalidParameter,
			"说话人 %d 超出范围, 模型共 %d 个说话人", speakerID, speakers)
	}

	var idx *index.Index
	if files.Index != "" {
		if idx, err = index.LoadFile(files.Index); err != nil {
			return pipeline.Session{}, release, err
		}
	}
	e.record(files, model, speakers, idx != nil)

	e.logger.Debug("模型已加载",
		zap.String("model", files.Name),
		zap.String("variant", model.Variant.Name),
		zap.Int("sample_rate", model.SampleRate),
		zap.Bool("index", idx != nil))

	return pipeline.Session{
		Encoder:     enc,
		Generator:   model.Generator,
		Version:     model.Variant.Version,
		PitchGuided: model.PitchGuided(),
		SampleRate:  model.SampleRate,
		Index:       idx,
		Windows:     profile.Windows,
		NeighborK:   e.cfg.NeighborK,
		Observe:     e.metrics.observeStage,
	}, release, nil
}

// record 记录模型元数据, 失败只记日志
func (e *Engine) record(files ModelFiles, model *checkpoint.Model, speakers int, hasIndex bool) {
	if e.catalog == nil {
		return
	}
	fp, err := catalog.FingerprintFile(files.Weights)
	if err != nil {
		e.logger.Warn("计算模型指纹失败", zap.Error(err))
		return
	}
	_, err = e.catalog.Record(catalog.Entry{
		Fingerprint: fp,
		Name:        files.Name,
		Version:     string(model.Variant.Version),
		PitchGuided: model.PitchGuided(),
		SampleRate:  model.SampleRate,
		Speakers:    speakers,
		Info:        model.Checkpoint.Info,
		HasIndex:    hasIndex,
	})
	if err != nil {
		e.logger.Warn("记录模型元数据失败", zap.Error(err))
	}
}
