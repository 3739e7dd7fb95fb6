// Package f0 提取音高曲线并做后处理
package f0

import (
	"strings"

	"github.com/getcharzp/go-voiceconv"
)

const (
	// PM 归一化自相关
	PM = "pm"
	// YIN 累积均值归一化差分
	YIN = "yin"
	// YINSmooth YIN 加倍频纠正与中值平滑
	YINSmooth = "yin-smooth"

	hybridPrefix = "hybrid["
)

var estimators = map[string]Estimator{
	PM:        pmEstimator{},
	YIN:       yinEstimator{},
	YINSmooth: yinEstimator{smooth: true},
}

// Method 已校验的音高提取算法
type Method struct {
	name  string
	parts []string
}

// ParseMethod 解析算法名称, 支持 pm, yin, yin-smooth 与 hybrid[a+b+...]
//
// 混合算法至少包含两个不同的基础算法
func ParseMethod(name string) (Method, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := estimators[name]; ok {
		return Method{name: name, parts: []string{name}}, nil
	}
	if !strings.HasPrefix(name, hybridPrefix) || !strings.HasSuffix(name, "]") {
		return Method{}, voiceconv.Errorf(voiceconv.ErrUnsupportedMethod, "%q", name)
	}

	inner := strings.TrimSuffix(strings.TrimPrefix(name, hybridPrefix), "]")
	seen := make(map[string]bool)
	var parts []string
	for _, p := range strings.Split(inner, "+") {
		p = strings.TrimSpace(p)
		if _, ok := estimators[p]; !ok {
			return Method{}, voiceconv.Errorf(voiceconv.ErrUnsupportedMethod, "%q 中的 %q", name, p)
		}
		if seen[p] {
			return Method{}, voiceconv.Errorf(voiceconv.ErrUnsupportedMethod, "%q 中重复的 %q", name, p)
		}
		seen[p] = true
		parts = append(parts, p)
	}
	if len(parts) < 2 {
		return Method{}, voiceconv.Errorf(voiceconv.ErrUnsupportedMethod, "%q 至少需要两个算法", name)
	}
	return Method{name: hybridPrefix + strings.Join(parts, "+") + "]", parts: parts}, nil
}

// String 规范化后的名称
func (m Method) String() string {
	return m.name
}

// Hybrid 是否为混合算法
func (m Method) Hybrid() bool {
	return len(m.parts) > 1
}

// Parts 组成算法
func (m Method) Parts() []string {
	return append([]string(nil), m.parts...)
}

// Estimator 返回对应的估计器, 零值 Method 返回 nil
func (m Method) Estimator() Estimator {
	switch len(m.parts) {
	case 0:
		return nil
	case 1:
		return estimators[m.parts[0]]
	}
	h := hybridEstimator{}
	for _, p := range m.parts {
		h.parts = append(h.parts, estimators[p])
	}
	return h
}
