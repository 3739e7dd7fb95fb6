package rvc

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/catalog"
	"github.com/getcharzp/go-voiceconv/checkpoint"
	"github.com/getcharzp/go-voiceconv/encoder"
	"github.com/getcharzp/go-voiceconv/hardware"
	"github.com/getcharzp/go-voiceconv/index"
	"github.com/getcharzp/go-voiceconv/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/up-zero/gotool/mediautil"
)

type fakeEncoder struct {
	destroyed *atomic.Int32
}

func (e fakeEncoder) Encode(samples []float32, version checkpoint.Version) ([][]float32, error) {
	out := make([][]float32, len(samples)/encoder.FrameSamples)
	for t := range out {
		row := make([]float32, version.InputDim())
		for i := range row {
			row[i] = float32((t+i)%5) / 5
		}
		out[t] = row
	}
	return out, nil
}

func (e fakeEncoder) Destroy() { e.destroyed.Add(1) }

type fakeGenerator struct {
	hop       int
	err       error
	destroyed *atomic.Int32
}

func (g *fakeGenerator) Synthesize(in checkpoint.SynthInput) ([]float32, error) {
	if g.err != nil {
		return nil, g.err
	}
	out := make([]float32, in.Frames()*g.hop)
	for i := range out {
		out[i] = 0.2 * float32(math.Sin(float64(i)*0.03))
	}
	return out, nil
}

func (g *fakeGenerator) Destroy() { g.destroyed.Add(1) }

// harness 测试用的引擎与计数器
type harness struct {
	cfg        Config
	probes     atomic.Int32
	encoders   atomic.Int32
	generators atomic.Int32
	genErr     error
}

func newHarness(t *testing.T) *harness {
	root := t.TempDir()
	h := &harness{cfg: Config{
		ModelsDir: filepath.Join(root, "models"),
		OutputDir: filepath.Join(root, "out"),
		IsHalf:    true,
	}}
	require.NoError(t, os.MkdirAll(h.cfg.ModelsDir, 0o755))
	require.NoError(t, os.MkdirAll(h.cfg.OutputDir, 0o755))
	return h
}

func (h *harness) engine(t *testing.T, opts ...Option) *Engine {
	base := []Option{
		WithProber(hardware.ProberFunc(func() (hardware.Device, error) {
			h.probes.Add(1)
			return hardware.Device{Kind: hardware.DeviceCPU, Name: "cpu"}, nil
		})),
		WithBuilder(checkpoint.BuilderFunc(func(spec checkpoint.ModelSpec) (checkpoint.Generator, error) {
			return &fakeGenerator{hop: spec.SampleRate / 100, err: h.genErr, destroyed: &h.generators}, nil
		})),
		WithEncoderLoader(func(cfg encoder.Config, profile hardware.Profile) (encoder.Encoder, error) {
			return fakeEncoder{destroyed: &h.encoders}, nil
		}),
	}
	e, err := NewEngine(h.cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Destroy() })
	return e
}

func testCheckpoint(version string, f0 int, sr int) *checkpoint.Checkpoint {
	dim := int64(checkpoint.Version(version).InputDim())
	fill := func(n int) []float32 { return make([]float32, n) }
	weight := map[string]checkpoint.Tensor{
		"emb_g.weight":           {Shape: []int64{3, 4}, DType: "f32", Data: fill(12)},
		"enc_p.emb_phone.weight": {Shape: []int64{2, dim}, DType: "f32", Data: fill(int(2 * dim))},
	}
	if f0 == 1 {
		weight["enc_p.emb_pitch.weight"] = checkpoint.Tensor{Shape: []int64{256, 2}, DType: "f32", Data: fill(512)}
	}
	return &checkpoint.Checkpoint{
		Weight:  weight,
		Config:  []any{1025, 32, 192, 192, 768, 2, 6, 3, 0.0, "1", 1, 4, sr},
		F0:      f0,
		Version: version,
	}
}

func (h *harness) addModel(t *testing.T, name string, ckpt *checkpoint.Checkpoint) string {
	dir := filepath.Join(h.cfg.ModelsDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, checkpoint.WriteFile(filepath.Join(dir, name+weightsExt), ckpt))
	return dir
}

func sine(n int, hz float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.5 * float32(math.Sin(2*math.Pi*hz*float64(i)/inputRate))
	}
	return out
}

func request(audio []float32) pipeline.Request {
	req := pipeline.DefaultRequest()
	req.Audio = audio
	req.SampleRate = inputRate
	return req
}

func outputFiles(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestResolveModel(t *testing.T) {
	h := newHarness(t)
	dir := h.addModel(t, "alto", testCheckpoint("v2", 0, 40000))

	files, err := ResolveModel(h.cfg.ModelsDir, "alto")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alto.ckpt"), files.Weights)
	assert.Empty(t, files.Index)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "alto.index"), nil, 0o644))
	files, err = ResolveModel(h.cfg.ModelsDir, "alto")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alto.index"), files.Index)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.index"), nil, 0o644))
	_, err = ResolveModel(h.cfg.ModelsDir, "alto")
	assert.Equal(t, voiceconv.KindConfiguration, voiceconv.KindOf(err))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.ckpt"), nil, 0o644))
	_, err = ResolveModel(h.cfg.ModelsDir, "alto")
	assert.ErrorIs(t, err, voiceconv.ErrInvalidCheckpoint)

	_, err = ResolveModel(h.cfg.ModelsDir, "missing")
	assert.ErrorIs(t, err, voiceconv.ErrModelNotFound)

	_, err = ResolveModel(h.cfg.ModelsDir, "../alto")
	assert.Equal(t, voiceconv.KindValidation, voiceconv.KindOf(err))

	require.NoError(t, os.MkdirAll(filepath.Join(h.cfg.ModelsDir, "empty"), 0o755))
	_, err = ResolveModel(h.cfg.ModelsDir, "empty")
	assert.Equal(t, voiceconv.KindResourceNotFound, voiceconv.KindOf(err))
}

func TestListModels(t *testing.T) {
	h := newHarness(t)
	h.addModel(t, "tenor", testCheckpoint("v1", 0, 40000))
	h.addModel(t, "alto", testCheckpoint("v2", 1, 48000))
	require.NoError(t, os.MkdirAll(filepath.Join(h.cfg.ModelsDir, "broken"), 0o755))

	models, err := ListModels(h.cfg.ModelsDir)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "alto", models[0].Name)
	assert.Equal(t, "tenor", models[1].Name)
}

func TestRunModelNotFoundBeforeProbe(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t)

	_, err := e.Run(context.Background(), request(sine(16000, 220)), "missing")
	assert.ErrorIs(t, err, voiceconv.ErrModelNotFound)
	assert.Equal(t, voiceconv.KindResourceNotFound, voiceconv.KindOf(err))
	assert.Zero(t, h.probes.Load(), "缺少模型时不应探测设备")
}

func TestRunFileRejectsMethodBeforeReading(t *testing.T) {
	h := newHarness(t)
	h.addModel(t, "alto", testCheckpoint("v2", 1, 40000))
	e := h.engine(t)

	req := pipeline.DefaultRequest()
	req.Method = "crepe"
	_, err := e.RunFile(context.Background(), filepath.Join(t.TempDir(), "absent.wav"), req, "alto")
	assert.ErrorIs(t, err, voiceconv.ErrUnsupportedMethod)
	assert.Zero(t, h.probes.Load())
}

func TestRunWritesWav(t *testing.T) {
	h := newHarness(t)
	h.addModel(t, "alto", testCheckpoint("v2", 0, 40000))
	cat, err := catalog.Open(catalog.Options{InMemory: true})
	require.NoError(t, err)
	defer cat.Close()
	e := h.engine(t, WithCatalog(cat))

	for i := 0; i < 2; i++ {
		path, err := e.Run(context.Background(), request(sine(16000, 220)), "alto")
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "RIFF", string(data[:4]))
		// 100 帧 * 400 采样 * 2 字节 + 文件头
		assert.Len(t, data, 44+100*400*2)
		assert.Equal(t, ".wav", filepath.Ext(path))
	}

	assert.EqualValues(t, 1, h.probes.Load(), "设备只探测一次")
	assert.EqualValues(t, 2, h.encoders.Load(), "每次转换后释放编码器")
	assert.EqualValues(t, 2, h.generators.Load(), "每次转换后释放生成网络")

	entries, err := cat.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alto", entries[0].Name)
	assert.Equal(t, 2, entries[0].Loads)
	assert.Equal(t, 3, entries[0].Speakers)
	assert.Equal(t, "v2", entries[0].Version)
}

func TestRunPitchGuidedPCM(t *testing.T) {
	h := newHarness(t)
	h.addModel(t, "alto", testCheckpoint("v1", 1, 48000))
	e := h.engine(t)

	req := request(sine(8000, 220))
	req.OutputFormat = pipeline.FormatPCM
	path, err := e.Run(context.Background(), req, "alto")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 50*480*2)
	assert.Equal(t, ".pcm", filepath.Ext(path))
}

func TestRunWithIndex(t *testing.T) {
	h := newHarness(t)
	dir := h.addModel(t, "alto", testCheckpoint("v1", 0, 40000))

	vectors := make([][]float32, 32)
	for i := range vectors {
		row := make([]float32, 256)
		for j := range row {
			row[j] = float32((i+j)%5) / 5
		}
		vectors[i] = row
	}
	idx, err := index.Build(index.Config{Dim: 256, Seed: 7}, 0, vectors)
	require.NoError(t, err)
	require.NoError(t, idx.SaveFile(filepath.Join(dir, "alto.index")))

	e := h.engine(t)
	_, err = e.Run(context.Background(), request(sine(16000, 220)), "alto")
	require.NoError(t, err)

	// v2 模型配 256 维索引
	h.addModel(t, "soprano", testCheckpoint("v2", 0, 40000))
	require.NoError(t, idx.SaveFile(filepath.Join(h.cfg.ModelsDir, "soprano", "soprano.index")))
	_, err = e.Run(context.Background(), request(sine(16000, 220)), "soprano")
	assert.ErrorIs(t, err, voiceconv.ErrIndexDimensionMismatch)
	assert.EqualValues(t, 2, h.generators.Load())
}

func TestRunSpeakerOutOfRange(t *testing.T) {
	h := newHarness(t)
	h.addModel(t, "alto", testCheckpoint("v2", 0, 40000))
	e := h.engine(t)

	req := request(sine(16000, 220))
	req.SpeakerID = 3
	_, err := e.Run(context.Background(), req, "alto")
	assert.Equal(t, voiceconv.KindValidation, voiceconv.KindOf(err))
	assert.EqualValues(t, 1, h.generators.Load())
}

func TestRunGeneratorFailureLeavesNoOutput(t *testing.T) {
	h := newHarness(t)
	h.genErr = errors.New("显存不足")
	h.addModel(t, "alto", testCheckpoint("v2", 0, 40000))
	e := h.engine(t)

	_, err := e.Run(context.Background(), request(sine(16000, 220)), "alto")
	assert.Equal(t, voiceconv.KindRuntimeInference, voiceconv.KindOf(err))
	assert.Empty(t, outputFiles(t, h.cfg.OutputDir))
	assert.EqualValues(t, 1, h.encoders.Load())
}

func TestRunFile(t *testing.T) {
	h := newHarness(t)
	h.addModel(t, "alto", testCheckpoint("v2", 0, 32000))
	e := h.engine(t)

	wav, err := mediautil.Float32ToWavBytes(sine(16000, 330), inputRate, channels, bitsPerSample)
	require.NoError(t, err)
	input := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(input, wav, 0o644))

	path, err := e.RunFile(context.Background(), input, pipeline.DefaultRequest(), "alto")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Len(t, outputFiles(t, h.cfg.OutputDir), 1)
}

func TestMetrics(t *testing.T) {
	h := newHarness(t)
	h.addModel(t, "alto", testCheckpoint("v2", 0, 40000))
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	e := h.engine(t, WithMetrics(m))

	_, err = e.Run(context.Background(), request(sine(16000, 220)), "alto")
	require.NoError(t, err)
	_, err = e.Run(context.Background(), request(sine(16000, 220)), "missing")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.conversions.WithLabelValues("alto", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conversions.WithLabelValues("missing", "resource_not_found")))
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.audioSeconds.WithLabelValues("alto")), 1e-6)
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageSeconds.MustCurryWith(prometheus.Labels{"stage": pipeline.StageSynthesis})))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "重复注册应失败")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voiceconv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models_dir: /srv/models\nis_half: false\nneighbor_k: 4\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/models", cfg.ModelsDir)
	assert.False(t, cfg.IsHalf)
	assert.Equal(t, 4, cfg.NeighborK)
	assert.Equal(t, DefaultConfig().OutputDir, cfg.OutputDir)

	require.NoError(t, os.WriteFile(path, []byte("models_dir: [\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Equal(t, voiceconv.KindConfiguration, voiceconv.KindOf(err))
}

func TestNewEngineValidatesConfig(t *testing.T) {
	_, err := NewEngine(Config{OutputDir: "out"})
	assert.Equal(t, voiceconv.KindValidation, voiceconv.KindOf(err))
}
