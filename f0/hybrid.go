package f0

import (
	"math"
	"slices"

	"golang.org/x/sync/errgroup"
)

// hybridEstimator 并发运行各组成算法, 按帧取浊音值的几何平均
type hybridEstimator struct {
	parts []Estimator
}

// Estimate 实现 Estimator
func (h hybridEstimator) Estimate(samples []float32, p Params) ([]float64, error) {
	contours := make([][]float64, len(h.parts))
	var g errgroup.Group
	for i, est := range h.parts {
		g.Go(func() error {
			c, err := est.Estimate(samples, p)
			contours[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Combine(contours...), nil
}

// Combine 按帧合并多条曲线
//
// 清音帧 (0) 不参与合并, 全部为清音时结果为 0; 求和前先排序, 结果与曲线顺序无关
func Combine(contours ...[]float64) []float64 {
	if len(contours) == 0 {
		return nil
	}
	n := len(contours[0])
	for _, c := range contours[1:] {
		n = min(n, len(c))
	}

	out := make([]float64, n)
	voiced := make([]float64, 0, len(contours))
	for i := range n {
		voiced = voiced[:0]
		for _, c := range contours {
			if c[i] > 0 {
				voiced = append(voiced, c[i])
			}
		}
		if len(voiced) == 0 {
			continue
		}
		slices.Sort(voiced)
		var logSum float64
		for _, v := range voiced {
			logSum += math.Log(v)
		}
		out[i] = math.Exp(logSum / float64(len(voiced)))
	}
	return out
}
