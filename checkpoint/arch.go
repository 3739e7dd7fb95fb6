package checkpoint

import (
	"fmt"
	"strconv"
)

// ArchConfig 有序超参数列表
//
// 末位为采样率, 倒数第二位为说话人向量维度 (gin_channels), 倒数第三位为说话人数量
type ArchConfig struct {
	Values []any
}

// SampleRate 模型原生采样率
func (a ArchConfig) SampleRate() (int, error) {
	return a.intFromEnd(1)
}

// SpeakerCount 说话人 embedding 行数
func (a ArchConfig) SpeakerCount() (int, error) {
	return a.intFromEnd(3)
}

// GinChannels 说话人 embedding 维度
func (a ArchConfig) GinChannels() (int, error) {
	return a.intFromEnd(2)
}

// InterChannels 隐变量通道数, 用于生成噪声输入
func (a ArchConfig) InterChannels() int {
	if len(a.Values) > 2 {
		if v, err := toInt(a.Values[2]); err == nil && v > 0 {
			return v
		}
	}
	return 192
}

// SetSpeakerCount 覆盖说话人数量
func (a ArchConfig) SetSpeakerCount(n int) error {
	if len(a.Values) < 3 {
		return fmt.Errorf("config 长度 %d 不足", len(a.Values))
	}
	a.Values[len(a.Values)-3] = int64(n)
	return nil
}

func (a ArchConfig) intFromEnd(pos int) (int, error) {
	if len(a.Values) < pos {
		return 0, fmt.Errorf("config 长度 %d 不足", len(a.Values))
	}
	return toInt(a.Values[len(a.Values)-pos])
}

// toInt msgpack 会按数值大小选择整数宽度, 这里统一转换
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float32:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("无法转换为整数: %T", v)
	}
}
