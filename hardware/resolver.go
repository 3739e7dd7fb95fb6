package hardware

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/getcharzp/go-voiceconv"
	"go.uber.org/zap"
)

// Derive 根据设备信息推导配置，纯函数
//
// 返回的 Override 列表由调用方决定是否落盘, 见 ApplyOverrides
//
// # Params:
//
//	dev: 探测到的设备
//	half: 调用方期望的半精度开关
func Derive(dev Device, half bool) (Profile, []Override) {
	var overrides []Override

	switch dev.Kind {
	case DeviceGPU:
		if legacyChip(dev.Name) {
			half = false
			overrides = append(overrides, precisionOverrides()...)
		}
		if dev.MemoryGiB <= lowMemThreshold && len(overrides) == 0 {
			overrides = append(overrides, precisionOverrides()...)
		}
	case DeviceCPU:
		// CPU 回退时固定使用半精度窗口
		half = true
	}

	p := Profile{Device: dev, Precision: PrecisionFull, Windows: fullWindows}
	if half {
		p.Precision = PrecisionHalf
		p.Windows = halfWindows
	}
	if dev.Kind == DeviceGPU && dev.MemoryGiB <= lowMemThreshold {
		p.Windows = lowMemWindows
	}
	return p, overrides
}

// legacyChip 缺乏稳定半精度吞吐的消费级显卡 (16 系 / 10 系 / P40)
func legacyChip(name string) bool {
	upper := strings.ToUpper(name)
	switch {
	case strings.Contains(name, "16") && !strings.Contains(upper, "V100"):
		return true
	case strings.Contains(upper, "P40"):
		return true
	case strings.Contains(name, "1060"), strings.Contains(name, "1070"), strings.Contains(name, "1080"):
		return true
	}
	return false
}

// Resolver 按优先级探测设备: 独立显卡 -> 备用加速器 -> CPU
type Resolver struct {
	prober Prober
	logger *zap.Logger
}

// NewResolver 创建 Resolver, prober 为 nil 时使用 SystemProber
func NewResolver(prober Prober) *Resolver {
	if prober == nil {
		prober = NewSystemProber()
	}
	return &Resolver{prober: prober, logger: voiceconv.Component("hardware")}
}

// Resolve 探测设备并推导配置，探测失败时回退到 CPU
func (r *Resolver) Resolve(half bool) (Profile, []Override) {
	dev, err := r.prober.Probe()
	if err != nil {
		r.logger.Warn("设备探测失败, 使用 CPU 推理", zap.Error(err))
		dev = Device{Kind: DeviceCPU, Name: "cpu"}
	}

	p, overrides := Derive(dev, half)
	if half && !p.IsHalf() {
		r.logger.Info("该显卡强制使用单精度", zap.String("device", dev.Name))
	}
	if dev.Kind == DeviceCPU {
		r.logger.Info("未检测到可用显卡, 使用 CPU 推理")
	}
	r.logger.Debug("硬件配置", zap.Stringer("profile", p), zap.Int("overrides", len(overrides)))
	return p, overrides
}

// Shared 进程级只探测一次的配置
type Shared struct {
	resolver *Resolver
	half     bool

	once      sync.Once
	probed    atomic.Bool
	profile   Profile
	overrides []Override
}

// NewShared 创建进程级配置
func NewShared(resolver *Resolver, half bool) *Shared {
	return &Shared{resolver: resolver, half: half}
}

// Get 返回配置, 首次调用时探测
func (s *Shared) Get() (Profile, []Override) {
	s.once.Do(func() {
		s.profile, s.overrides = s.resolver.Resolve(s.half)
		s.probed.Store(true)
	})
	return s.profile, s.overrides
}

// Probed 是否已经探测过设备
func (s *Shared) Probed() bool {
	return s.probed.Load()
}
