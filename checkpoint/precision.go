package checkpoint

import (
	"github.com/getcharzp/go-voiceconv/hardware"
	"github.com/x448/float16"
)

const (
	dtypeFloat32 = "f32"
	dtypeFloat16 = "f16"
)

// Quantize 把数值舍入到 float16 可表示的值, 原地修改
func Quantize(values []float32) {
	for i, v := range values {
		values[i] = float16.Fromfloat32(v).Float32()
	}
}

// castWeights 按精度转换全部参数
func castWeights(weights map[string]Tensor, precision hardware.Precision) {
	for name, t := range weights {
		switch precision {
		case hardware.PrecisionHalf:
			if t.DType != dtypeFloat16 {
				Quantize(t.Data)
				t.DType = dtypeFloat16
			}
		default:
			// float16 数据本身就是 float32 的子集, 只需要改标记
			t.DType = dtypeFloat32
		}
		weights[name] = t
	}
}
