// Package checkpoint 读取声音模型权重, 校验结构并构建生成网络
package checkpoint

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/getcharzp/go-voiceconv"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	keyWeight  = "weight"
	keyConfig  = "config"
	keyF0      = "f0"
	keyVersion = "version"
	keyInfo    = "info"
	keySR      = "sr"
	keyGraph   = "graph"
)

// Tensor 以 float32 展平存储的参数张量
type Tensor struct {
	Shape []int64   `msgpack:"shape"`
	DType string    `msgpack:"dtype"`
	Data  []float32 `msgpack:"data"`
}

// NumElements 元素个数
func (t Tensor) NumElements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Dim 返回第 i 维大小, 不存在时返回 -1
func (t Tensor) Dim(i int) int64 {
	if i < 0 || i >= len(t.Shape) {
		return -1
	}
	return t.Shape[i]
}

// Checkpoint 模型文件内容
type Checkpoint struct {
	Weight  map[string]Tensor `msgpack:"weight"`
	Config  []any             `msgpack:"config"`
	F0      int               `msgpack:"f0"`
	Version string            `msgpack:"version"`
	Info    string            `msgpack:"info,omitempty"`
	SR      string            `msgpack:"sr,omitempty"`
	Graph   []byte            `msgpack:"graph,omitempty"` // 导出的 ONNX 生成网络
}

// Arch 返回超参数视图
func (c *Checkpoint) Arch() ArchConfig {
	return ArchConfig{Values: c.Config}
}

// Read 从流中解析模型文件
//
// 先检查 weight 与 config 两个段是否存在, 再解码张量
func Read(r io.Reader) (*Checkpoint, error) {
	var raw map[string]msgpack.RawMessage
	if err := msgpack.NewDecoder(bufio.NewReader(r)).Decode(&raw); err != nil {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "无法解析模型文件: %v", err)
	}
	if _, ok := raw[keyWeight]; !ok {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "缺少 %s 段", keyWeight)
	}
	if _, ok := raw[keyConfig]; !ok {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "缺少 %s 段", keyConfig)
	}

	ckpt := &Checkpoint{F0: 1, Version: "v1"}
	if err := msgpack.Unmarshal(raw[keyConfig], &ckpt.Config); err != nil {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "config 段格式错误: %v", err)
	}
	if v, ok := raw[keyF0]; ok {
		if err := msgpack.Unmarshal(v, &ckpt.F0); err != nil {
			return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "f0 字段格式错误: %v", err)
		}
	}
	if v, ok := raw[keyVersion]; ok {
		if err := msgpack.Unmarshal(v, &ckpt.Version); err != nil {
			return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "version 字段格式错误: %v", err)
		}
	}
	for key, dst := range map[string]*string{keyInfo: &ckpt.Info, keySR: &ckpt.SR} {
		if v, ok := raw[key]; ok {
			_ = msgpack.Unmarshal(v, dst)
		}
	}
	if v, ok := raw[keyGraph]; ok {
		if err := msgpack.Unmarshal(v, &ckpt.Graph); err != nil {
			return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "graph 字段格式错误: %v", err)
		}
	}
	if err := msgpack.Unmarshal(raw[keyWeight], &ckpt.Weight); err != nil {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "weight 段格式错误: %v", err)
	}
	for name, t := range ckpt.Weight {
		if int64(len(t.Data)) != t.NumElements() {
			return nil, voiceconv.Errorf(voiceconv.ErrShapeMismatch, "%s 形状 %v 与数据长度 %d 不一致", name, t.Shape, len(t.Data))
		}
	}
	return ckpt, nil
}

// Write 将模型文件写入流, 与 Read 互逆
func Write(w io.Writer, ckpt *Checkpoint) error {
	bw := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(bw)
	if err := enc.Encode(ckpt); err != nil {
		return fmt.Errorf("编码模型文件失败: %w", err)
	}
	return bw.Flush()
}

// ReadFile 读取模型文件
func ReadFile(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取模型文件: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// WriteFile 保存模型文件
func WriteFile(path string, ckpt *Checkpoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("无法创建模型文件: %w", err)
	}
	if err := Write(f, ckpt); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
