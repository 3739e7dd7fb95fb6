package encoder

import (
	"testing"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepeat(t *testing.T) {
	feats := [][]float32{{1, 2}, {3, 4}, {5, 6}}
	out := Repeat(feats, 2)
	require.Len(t, out, 6)
	for i, f := range out {
		assert.Equal(t, feats[i/2], f)
	}
	assert.Equal(t, feats, Repeat(feats, 1))
}

func TestFrames(t *testing.T) {
	assert.Equal(t, 0, Frames(100))
	assert.Equal(t, 1, Frames(320))
	assert.Equal(t, 150, Frames(3*SampleRate))
	assert.Equal(t, 2*Frames(3*SampleRate)*PitchFrameSamples, 3*SampleRate)
}

func TestSplitFrames(t *testing.T) {
	out := splitFrames([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}, {5, 6}}, out)
}

func TestLoadRequiresModelPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = ""
	_, err := Load(cfg, hardware.Profile{})
	assert.ErrorIs(t, err, voiceconv.ErrModelNotFound)
	assert.Equal(t, voiceconv.KindResourceNotFound, voiceconv.KindOf(err))
}
