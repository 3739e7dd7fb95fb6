// Package hardware 探测推理设备并推导精度与分段窗口参数
package hardware

import "fmt"

// DeviceKind 计算设备类型
type DeviceKind int

const (
	// DeviceCPU 通用 CPU
	DeviceCPU DeviceKind = iota
	// DeviceAltAccelerator 备用加速器 (Apple Silicon)
	DeviceAltAccelerator
	// DeviceGPU 独立显卡 (CUDA)
	DeviceGPU
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceGPU:
		return "gpu"
	case DeviceAltAccelerator:
		return "mps"
	default:
		return "cpu"
	}
}

// Precision 推理精度
type Precision int

const (
	// PrecisionFull 单精度 float32
	PrecisionFull Precision = iota
	// PrecisionHalf 半精度 float16
	PrecisionHalf
)

func (p Precision) String() string {
	if p == PrecisionHalf {
		return "half"
	}
	return "full"
}

// Device 探测到的设备信息
type Device struct {
	Kind      DeviceKind
	Name      string
	MemoryGiB int // 显存 (GiB)，CPU 与备用加速器为 0
}

// Windows 分段参数，单位为秒
type Windows struct {
	Pad    int // 每段两侧的上下文长度
	Query  int // 切分点搜索半径
	Center int // 切分点间隔
	Max    int // 不切分的最大长度
}

var (
	halfWindows     = Windows{Pad: 3, Query: 10, Center: 60, Max: 65}
	fullWindows     = Windows{Pad: 1, Query: 6, Center: 38, Max: 41}
	lowMemWindows   = Windows{Pad: 1, Query: 5, Center: 30, Max: 32}
	lowMemThreshold = 4
)

// Profile 进程级硬件配置，创建后只读
type Profile struct {
	Device    Device
	Precision Precision
	Windows   Windows
}

// IsHalf 是否使用半精度
func (p Profile) IsHalf() bool {
	return p.Precision == PrecisionHalf
}

func (p Profile) String() string {
	return fmt.Sprintf("%s(%s) precision=%s pad=%d query=%d center=%d max=%d",
		p.Device.Kind, p.Device.Name, p.Precision,
		p.Windows.Pad, p.Windows.Query, p.Windows.Center, p.Windows.Max)
}
