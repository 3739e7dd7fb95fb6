package checkpoint

import (
	"bytes"
	"testing"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"pgregory.net/rapid"
)

type fakeGenerator struct {
	destroyed bool
}

func (g *fakeGenerator) Synthesize(in SynthInput) ([]float32, error) {
	return make([]float32, in.Frames()*400), nil
}

func (g *fakeGenerator) Destroy() { g.destroyed = true }

type recordingBuilder struct {
	spec ModelSpec
	gen  *fakeGenerator
}

func (b *recordingBuilder) Build(spec ModelSpec) (Generator, error) {
	b.spec = spec
	b.gen = &fakeGenerator{}
	return b.gen, nil
}

func filled(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func testCheckpoint(version string, f0 int, sr int) *Checkpoint {
	dim := int64(256)
	if version == "v2" {
		dim = 768
	}
	weight := map[string]Tensor{
		"emb_g.weight":           {Shape: []int64{3, 4}, DType: dtypeFloat32, Data: filled(12, 0.1)},
		"enc_p.emb_phone.weight": {Shape: []int64{2, dim}, DType: dtypeFloat32, Data: filled(int(2*dim), 0.2)},
		"dec.conv_pre.weight":    {Shape: []int64{2}, DType: dtypeFloat32, Data: []float32{1.0001, -2}},
		"enc_q.pre.weight":       {Shape: []int64{1}, DType: dtypeFloat32, Data: []float32{3}},
	}
	if f0 == 1 {
		weight["enc_p.emb_pitch.weight"] = Tensor{Shape: []int64{256, 2}, DType: dtypeFloat32, Data: filled(512, 0.3)}
	}
	return &Checkpoint{
		Weight:  weight,
		Config:  []any{1025, 32, 192, 192, 768, 2, 6, 3, 0.0, "1", 1, 4, sr},
		F0:      f0,
		Version: version,
	}
}

func roundTrip(t require.TestingT, ckpt *Checkpoint) *Checkpoint {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, ckpt))
	out, err := Read(&buf)
	require.NoError(t, err)
	return out
}

func TestReadWriteRoundTrip(t *testing.T) {
	in := testCheckpoint("v2", 1, 40000)
	in.Info = "300epoch"
	in.Graph = []byte{1, 2, 3}
	out := roundTrip(t, in)

	assert.Equal(t, "v2", out.Version)
	assert.Equal(t, 1, out.F0)
	assert.Equal(t, "300epoch", out.Info)
	assert.Equal(t, []byte{1, 2, 3}, out.Graph)
	assert.Equal(t, in.Weight, out.Weight)
	sr, err := out.Arch().SampleRate()
	require.NoError(t, err)
	assert.Equal(t, 40000, sr)
}

func TestReadDefaults(t *testing.T) {
	raw, err := msgpack.Marshal(map[string]any{
		"weight": map[string]Tensor{},
		"config": []any{48000},
	})
	require.NoError(t, err)
	ckpt, err := Read(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, ckpt.F0)
	assert.Equal(t, "v1", ckpt.Version)
}

func TestReadRejectsMissingSections(t *testing.T) {
	for _, missing := range []string{"weight", "config"} {
		doc := map[string]any{
			"weight": map[string]Tensor{},
			"config": []any{40000},
		}
		delete(doc, missing)
		raw, err := msgpack.Marshal(doc)
		require.NoError(t, err)

		_, err = Read(bytes.NewReader(raw))
		assert.ErrorIs(t, err, voiceconv.ErrInvalidCheckpoint, missing)
		assert.Equal(t, voiceconv.KindConfiguration, voiceconv.KindOf(err))
	}
}

func TestReadRejectsInconsistentTensor(t *testing.T) {
	ckpt := testCheckpoint("v1", 1, 40000)
	ckpt.Weight["dec.bad"] = Tensor{Shape: []int64{3, 3}, Data: []float32{1}}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, ckpt))
	_, err := Read(&buf)
	assert.ErrorIs(t, err, voiceconv.ErrShapeMismatch)
}

func TestSelectVariant(t *testing.T) {
	cases := []struct {
		f0      int
		version string
		name    string
		dim     int
	}{
		{1, "v1", "synthesizer_v1_f0", 256},
		{0, "v1", "synthesizer_v1_nof0", 256},
		{1, "v2", "synthesizer_v2_f0", 768},
		{0, "V2", "synthesizer_v2_nof0", 768},
		{1, "", "synthesizer_v1_f0", 256},
	}
	for _, c := range cases {
		v, err := SelectVariant(c.f0, c.version)
		require.NoError(t, err)
		assert.Equal(t, c.name, v.Name)
		assert.Equal(t, c.dim, v.InputDim())
		assert.Equal(t, c.f0 == 1, v.PitchGuided)
	}

	_, err := SelectVariant(1, "v3")
	assert.ErrorIs(t, err, voiceconv.ErrInvalidCheckpoint)
}

func TestLoadPatchesSpeakerCount(t *testing.T) {
	b := &recordingBuilder{}
	m, err := FromCheckpoint(roundTrip(t, testCheckpoint("v2", 1, 48000)), hardware.Profile{}, b)
	require.NoError(t, err)

	assert.Equal(t, 48000, m.SampleRate)
	assert.True(t, m.PitchGuided())
	n, err := b.spec.Arch.SpeakerCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NotContains(t, b.spec.Weights, "enc_q.pre.weight")
	assert.Equal(t, "synthesizer_v2_f0", b.spec.Variant.Name)
}

func TestLoadShapeMismatch(t *testing.T) {
	ckpt := testCheckpoint("v2", 0, 40000)
	ckpt.Version = "v1"
	_, err := FromCheckpoint(ckpt, hardware.Profile{}, &recordingBuilder{})
	assert.ErrorIs(t, err, voiceconv.ErrShapeMismatch)

	ckpt = testCheckpoint("v1", 1, 40000)
	ckpt.Config[len(ckpt.Config)-2] = 8
	_, err = FromCheckpoint(ckpt, hardware.Profile{}, &recordingBuilder{})
	assert.ErrorIs(t, err, voiceconv.ErrShapeMismatch)
}

func TestLoadHalfPrecisionQuantizes(t *testing.T) {
	b := &recordingBuilder{}
	_, err := FromCheckpoint(testCheckpoint("v1", 1, 40000), hardware.Profile{Precision: hardware.PrecisionHalf}, b)
	require.NoError(t, err)

	w := b.spec.Weights["dec.conv_pre.weight"]
	assert.Equal(t, dtypeFloat16, w.DType)
	assert.Equal(t, float32(1), w.Data[0])
	assert.Equal(t, float32(-2), w.Data[1])
}

func TestModelRelease(t *testing.T) {
	b := &recordingBuilder{}
	m, err := FromCheckpoint(testCheckpoint("v1", 0, 32000), hardware.Profile{}, b)
	require.NoError(t, err)
	m.Release()
	assert.True(t, b.gen.destroyed)
	assert.Nil(t, m.Checkpoint)
	m.Release()
}

func TestLoadSampleRateProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sr := rapid.IntRange(8000, 96000).Draw(rt, "sr")
		version := rapid.SampledFrom([]string{"v1", "v2"}).Draw(rt, "version")
		f0 := rapid.IntRange(0, 1).Draw(rt, "f0")

		m, err := FromCheckpoint(roundTrip(rt, testCheckpoint(version, f0, sr)), hardware.Profile{}, &recordingBuilder{})
		require.NoError(rt, err)
		assert.Equal(rt, sr, m.SampleRate)
	})
}
