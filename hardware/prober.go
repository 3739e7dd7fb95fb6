package hardware

import (
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Prober 设备探测接口
type Prober interface {
	Probe() (Device, error)
}

// ProberFunc 函数形式的 Prober
type ProberFunc func() (Device, error)

// Probe 实现 Prober
func (f ProberFunc) Probe() (Device, error) { return f() }

// SystemProber 通过 nvidia-smi 与平台信息探测设备
type SystemProber struct {
	goos, goarch string
	run          func(name string, args ...string) ([]byte, error)
}

// NewSystemProber 创建基于当前系统的探测器
func NewSystemProber() *SystemProber {
	return &SystemProber{
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
	}
}

// Probe 实现 Prober
func (p *SystemProber) Probe() (Device, error) {
	if dev, ok := p.probeCUDA(); ok {
		return dev, nil
	}
	if p.goos == "darwin" && p.goarch == "arm64" {
		return Device{Kind: DeviceAltAccelerator, Name: "apple-silicon"}, nil
	}
	return Device{Kind: DeviceCPU, Name: "cpu"}, nil
}

// probeCUDA 读取第一块显卡的名称与显存
func (p *SystemProber) probeCUDA() (Device, bool) {
	out, err := p.run("nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	if err != nil {
		return Device{}, false
	}
	dev, err := parseNvidiaSmi(out)
	if err != nil {
		return Device{}, false
	}
	return dev, true
}

// parseNvidiaSmi 解析 "NVIDIA GeForce GTX 1080, 8192" 格式的输出
func parseNvidiaSmi(out []byte) (Device, error) {
	line, _, _ := bytes.Cut(bytes.TrimSpace(out), []byte("\n"))
	name, mem, ok := strings.Cut(string(line), ",")
	if !ok {
		return Device{}, fmt.Errorf("无法解析 nvidia-smi 输出: %q", line)
	}
	mib, err := strconv.ParseFloat(strings.TrimSpace(mem), 64)
	if err != nil {
		return Device{}, fmt.Errorf("无法解析显存大小: %w", err)
	}
	return Device{
		Kind:      DeviceGPU,
		Name:      strings.TrimSpace(name),
		MemoryGiB: int(mib/1024 + 0.4),
	}, nil
}
