package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"

	"github.com/getcharzp/go-voiceconv"
)

var magic = [4]byte{'V', 'C', 'I', 'X'}

const formatVersion uint32 = 1

type header struct {
	Version   uint32
	Dim       uint32
	M         uint32
	EfC       uint32
	EfS       uint32
	SpeakerID int64
	Seed      uint64
	Count     uint32
	MaxLevel  uint32
	EntryID   int32
}

// Save 序列化索引
//
// 格式: "VCIX" | header | 每个节点 [level][dim × float32][每层 邻居数 + 邻居序号]
func (x *Index) Save(w io.Writer) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	bw := bufio.NewWriter(w)
	le := binary.LittleEndian
	if _, err := bw.Write(magic[:]); err != nil {
		return fmt.Errorf("写入索引头失败: %w", err)
	}
	h := header{
		Version:   formatVersion,
		Dim:       uint32(x.cfg.Dim),
		M:         uint32(x.cfg.M),
		EfC:       uint32(x.cfg.EfConstruction),
		EfS:       uint32(x.cfg.EfSearch),
		SpeakerID: x.speakerID,
		Seed:      x.cfg.Seed,
		Count:     uint32(len(x.nodes)),
		MaxLevel:  uint32(x.maxLevel),
		EntryID:   x.entryID,
	}
	if err := binary.Write(bw, le, h); err != nil {
		return fmt.Errorf("写入索引头失败: %w", err)
	}

	for _, nd := range x.nodes {
		if err := binary.Write(bw, le, uint32(nd.level)); err != nil {
			return err
		}
		if err := binary.Write(bw, le, nd.vector); err != nil {
			return err
		}
		for lev := 0; lev <= nd.level; lev++ {
			friends := nd.friends[lev]
			if err := binary.Write(bw, le, uint32(len(friends))); err != nil {
				return err
			}
			if err := binary.Write(bw, le, friends); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Load 反序列化索引
func Load(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	le := binary.LittleEndian
	invalid := func(format string, args ...any) error {
		return voiceconv.Errorf(voiceconv.ErrInvalidIndex, format, args...)
	}

	var m [4]byte
	if _, err := io.ReadFull(br, m[:]); err != nil {
		return nil, invalid("%v", err)
	}
	if m != magic {
		return nil, invalid("魔数 %q", m[:])
	}
	var h header
	if err := binary.Read(br, le, &h); err != nil {
		return nil, invalid("%v", err)
	}
	if h.Version != formatVersion {
		return nil, invalid("不支持的版本 %d", h.Version)
	}
	if h.Dim == 0 {
		return nil, invalid("维度为 0")
	}
	if h.Count > 0 && (h.EntryID < 0 || uint32(h.EntryID) >= h.Count) {
		return nil, invalid("入口节点 %d 越界", h.EntryID)
	}

	nodes := make([]*node, h.Count)
	for i := range nodes {
		var level uint32
		if err := binary.Read(br, le, &level); err != nil {
			return nil, invalid("%v", err)
		}
		if level > 31 {
			return nil, invalid("节点 %d 层级 %d", i, level)
		}
		vec := make([]float32, h.Dim)
		if err := binary.Read(br, le, vec); err != nil {
			return nil, invalid("%v", err)
		}
		friends := make([][]uint32, level+1)
		for lev := range friends {
			var n uint32
			if err := binary.Read(br, le, &n); err != nil {
				return nil, invalid("%v", err)
			}
			if n > h.Count {
				return nil, invalid("节点 %d 邻居数 %d", i, n)
			}
			friends[lev] = make([]uint32, n)
			if err := binary.Read(br, le, friends[lev]); err != nil {
				return nil, invalid("%v", err)
			}
			for _, f := range friends[lev] {
				if f >= h.Count {
					return nil, invalid("节点 %d 的邻居 %d 越界", i, f)
				}
			}
		}
		nodes[i] = &node{vector: vec, level: int(level), friends: friends}
	}

	cfg := Config{
		Dim:            int(h.Dim),
		M:              int(h.M),
		EfConstruction: int(h.EfC),
		EfSearch:       int(h.EfS),
		Seed:           h.Seed,
	}
	cfg.setDefaults()
	return &Index{
		cfg:       cfg,
		speakerID: h.SpeakerID,
		nodes:     nodes,
		entryID:   h.EntryID,
		maxLevel:  int(h.MaxLevel),
		levelMul:  1.0 / math.Log(float64(cfg.M)),
		rng:       rand.New(rand.NewPCG(h.Seed, uint64(h.Count))),
	}, nil
}

// SaveFile 保存索引文件
func (x *Index) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("无法创建索引文件: %w", err)
	}
	if err := x.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile 读取索引文件
func LoadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, voiceconv.E(voiceconv.KindResourceNotFound, "读取索引文件", err)
	}
	defer f.Close()
	return Load(f)
}
