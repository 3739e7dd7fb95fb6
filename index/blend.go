package index

import (
	"math"

	"github.com/getcharzp/go-voiceconv"
)

// DefaultK 默认近邻个数
const DefaultK = 8

// Blend 用索引中的近邻特征替换部分原始特征
//
// 每帧取 k 个近邻, 按 1/d² 归一化加权平均 (d 为平方欧氏距离), 再与原始特征按 ratio 线性混合.
// idx 为 nil 或 ratio 为 0 时原样返回 features. 帧数与维度保持不变.
func Blend(features [][]float32, idx *Index, ratio float64, k int) ([][]float32, error) {
	if idx == nil || ratio == 0 || len(features) == 0 {
		return features, nil
	}
	if ratio < 0 || ratio > 1 {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "检索比例 %g 超出 [0, 1]", ratio)
	}
	if k <= 0 {
		k = DefaultK
	}
	dim := idx.Dim()

	out := make([][]float32, len(features))
	acc := make([]float64, dim)
	for t, f := range features {
		if len(f) != dim {
			return nil, voiceconv.Errorf(voiceconv.ErrIndexDimensionMismatch, "第 %d 帧维度 %d, 索引维度 %d", t, len(f), dim)
		}
		neighbors, err := idx.Search(f, k)
		if err != nil {
			return nil, err
		}
		if len(neighbors) == 0 {
			out[t] = f
			continue
		}

		clear(acc)
		var total float64
		for _, n := range neighbors {
			w := 1 / math.Pow(math.Max(float64(n.Distance), 1e-12), 2)
			total += w
			for i, v := range idx.Vector(n.ID) {
				acc[i] += w * float64(v)
			}
		}

		row := make([]float32, dim)
		for i := range row {
			row[i] = float32(ratio*acc[i]/total + (1-ratio)*float64(f[i]))
		}
		out[t] = row
	}
	return out, nil
}
