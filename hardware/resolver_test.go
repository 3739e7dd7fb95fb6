package hardware

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveWindows(t *testing.T) {
	cases := []struct {
		name      string
		dev       Device
		half      bool
		precision Precision
		windows   Windows
		overrides bool
	}{
		{"modern gpu half", Device{Kind: DeviceGPU, Name: "NVIDIA GeForce RTX 3090", MemoryGiB: 24}, true, PrecisionHalf, halfWindows, false},
		{"modern gpu full", Device{Kind: DeviceGPU, Name: "NVIDIA GeForce RTX 3090", MemoryGiB: 24}, false, PrecisionFull, fullWindows, false},
		{"legacy gpu", Device{Kind: DeviceGPU, Name: "NVIDIA GeForce GTX 1080", MemoryGiB: 8}, true, PrecisionFull, fullWindows, true},
		{"gtx 16 series", Device{Kind: DeviceGPU, Name: "NVIDIA GeForce GTX 1660", MemoryGiB: 6}, true, PrecisionFull, fullWindows, true},
		{"v100 is fine", Device{Kind: DeviceGPU, Name: "Tesla V100-SXM2-16GB", MemoryGiB: 16}, true, PrecisionHalf, halfWindows, false},
		{"low memory half", Device{Kind: DeviceGPU, Name: "NVIDIA T400", MemoryGiB: 4}, true, PrecisionHalf, lowMemWindows, true},
		{"alt accelerator", Device{Kind: DeviceAltAccelerator, Name: "apple-silicon"}, false, PrecisionFull, fullWindows, false},
		{"cpu forces half", Device{Kind: DeviceCPU, Name: "cpu"}, false, PrecisionHalf, halfWindows, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, overrides := Derive(c.dev, c.half)
			assert.Equal(t, c.precision, p.Precision)
			assert.Equal(t, c.windows, p.Windows)
			assert.Equal(t, c.overrides, len(overrides) > 0)
		})
	}
}

func TestResolveFallsBackToCPU(t *testing.T) {
	r := NewResolver(ProberFunc(func() (Device, error) {
		return Device{}, errors.New("no driver")
	}))
	p, overrides := r.Resolve(false)
	assert.Equal(t, DeviceCPU, p.Device.Kind)
	assert.True(t, p.IsHalf())
	assert.Empty(t, overrides)
}

func TestSharedProbesOnce(t *testing.T) {
	calls := 0
	r := NewResolver(ProberFunc(func() (Device, error) {
		calls++
		return Device{Kind: DeviceGPU, Name: "RTX 4090", MemoryGiB: 24}, nil
	}))
	s := NewShared(r, true)
	assert.False(t, s.Probed())
	p1, _ := s.Get()
	p2, _ := s.Get()
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, calls)
	assert.True(t, s.Probed())
}

func TestSystemProberParsesNvidiaSmi(t *testing.T) {
	p := &SystemProber{
		goos: "linux", goarch: "amd64",
		run: func(name string, args ...string) ([]byte, error) {
			return []byte("NVIDIA GeForce GTX 1070, 8192\n"), nil
		},
	}
	dev, err := p.Probe()
	require.NoError(t, err)
	assert.Equal(t, DeviceGPU, dev.Kind)
	assert.Equal(t, "NVIDIA GeForce GTX 1070", dev.Name)
	assert.Equal(t, 8, dev.MemoryGiB)
}

func TestSystemProberPlatformFallback(t *testing.T) {
	missing := func(string, ...string) ([]byte, error) { return nil, errors.New("not found") }

	mac := &SystemProber{goos: "darwin", goarch: "arm64", run: missing}
	dev, err := mac.Probe()
	require.NoError(t, err)
	assert.Equal(t, DeviceAltAccelerator, dev.Kind)

	linux := &SystemProber{goos: "linux", goarch: "amd64", run: missing}
	dev, err = linux.Probe()
	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, dev.Kind)
}

func TestApplyOverrides(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "configs"), 0o755))
	cfg := filepath.Join(root, "configs", "40k.json")
	require.NoError(t, os.WriteFile(cfg, []byte(`{"train": {"fp16_run": true}}`), 0o644))

	_, overrides := Derive(Device{Kind: DeviceGPU, Name: "GTX 1060", MemoryGiB: 6}, true)
	require.NoError(t, ApplyOverrides(root, overrides))

	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Equal(t, `{"train": {"fp16_run": false}}`, string(data))
}
