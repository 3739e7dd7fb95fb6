// Package index 说话人特征检索索引 (HNSW, 平方欧氏距离) 与特征混合
package index

import (
	"container/heap"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/getcharzp/go-voiceconv"
)

// Config 索引参数
type Config struct {
	Dim            int    // 向量维度, 必填
	M              int    // 每层最大连接数 (第 0 层为 2*M), 默认 16
	EfConstruction int    // 建图时的候选列表大小, 默认 200
	EfSearch       int    // 检索时的候选列表大小, 默认 64
	Seed           uint64 // 层级随机数种子
}

func (c *Config) setDefaults() {
	if c.M < 2 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 64
	}
}

// maxConns 第 layer 层的最大连接数
func (c *Config) maxConns(layer int) int {
	if layer == 0 {
		return c.M * 2
	}
	return c.M
}

// Neighbor 检索结果
type Neighbor struct {
	ID       int     // 向量在索引中的序号
	Distance float32 // 平方欧氏距离
}

type distItem struct {
	id   uint32
	dist float32
}

type minDistHeap []distItem

func (h minDistHeap) Len() int           { return len(h) }
func (h minDistHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minDistHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minDistHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *minDistHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type maxDistHeap []distItem

func (h maxDistHeap) Len() int           { return len(h) }
func (h maxDistHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxDistHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxDistHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *maxDistHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type node struct {
	vector  []float32
	level   int
	friends [][]uint32 // friends[layer] 该层的邻居
}

// Index 只追加的 HNSW 索引
//
// 检索只持有读锁, 同一个索引可以被多个请求并发检索
type Index struct {
	mu        sync.RWMutex
	cfg       Config
	speakerID int64
	nodes     []*node
	entryID   int32 // 入口节点, 空索引为 -1
	maxLevel  int
	levelMul  float64
	rng       *rand.Rand
}

// New 创建空索引
func New(cfg Config) (*Index, error) {
	if cfg.Dim <= 0 {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "索引维度必须大于 0")
	}
	cfg.setDefaults()
	return &Index{
		cfg:      cfg,
		entryID:  -1,
		levelMul: 1.0 / math.Log(float64(cfg.M)),
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Build 用一组向量建立索引
func Build(cfg Config, speakerID int64, vectors [][]float32) (*Index, error) {
	idx, err := New(cfg)
	if err != nil {
		return nil, err
	}
	idx.speakerID = speakerID
	for _, v := range vectors {
		if err := idx.Add(v); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Dim 向量维度
func (x *Index) Dim() int { return x.cfg.Dim }

// Config 索引参数
func (x *Index) Config() Config { return x.cfg }

// SpeakerID 索引对应的说话人
func (x *Index) SpeakerID() int64 { return x.speakerID }

// Len 向量个数
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.nodes)
}

// Add 追加一个向量
func (x *Index) Add(vector []float32) error {
	if len(vector) != x.cfg.Dim {
		return voiceconv.Errorf(voiceconv.ErrIndexDimensionMismatch, "向量维度 %d, 索引维度 %d", len(vector), x.cfg.Dim)
	}
	vec := append([]float32(nil), vector...)

	x.mu.Lock()
	defer x.mu.Unlock()

	id := uint32(len(x.nodes))
	level := x.randomLevel()
	nd := &node{vector: vec, level: level, friends: make([][]uint32, level+1)}
	x.nodes = append(x.nodes, nd)

	if x.entryID < 0 {
		x.entryID = int32(id)
		x.maxLevel = level
		return nil
	}

	cur := x.greedy(vec, uint32(x.entryID), x.maxLevel, level)
	ep := []uint32{cur}
	for lev := min(level, x.maxLevel); lev >= 0; lev-- {
		candidates := x.searchLayer(vec, ep, x.cfg.EfConstruction, lev)
		maxC := x.cfg.maxConns(lev)
		nd.friends[lev] = x.selectClosest(vec, candidates, maxC)
		for _, nID := range nd.friends[lev] {
			nn := x.nodes[nID]
			if lev >= len(nn.friends) {
				continue
			}
			nn.friends[lev] = append(nn.friends[lev], id)
			if len(nn.friends[lev]) > maxC {
				nn.friends[lev] = x.selectClosest(nn.vector, nn.friends[lev], maxC)
			}
		}
		ep = candidates
	}

	if level > x.maxLevel {
		x.entryID = int32(id)
		x.maxLevel = level
	}
	return nil
}

// Search 返回距离 query 最近的 k 个向量, 按距离升序
func (x *Index) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != x.cfg.Dim {
		return nil, voiceconv.Errorf(voiceconv.ErrIndexDimensionMismatch, "查询维度 %d, 索引维度 %d", len(query), x.cfg.Dim)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.nodes) == 0 || k <= 0 {
		return nil, nil
	}

	cur := x.greedy(query, uint32(x.entryID), x.maxLevel, 0)
	candidates := x.searchLayer(query, []uint32{cur}, max(x.cfg.EfSearch, k), 0)

	result := make([]Neighbor, 0, len(candidates))
	for _, id := range candidates {
		result = append(result, Neighbor{ID: int(id), Distance: squaredL2(query, x.nodes[id].vector)})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Distance < result[j].Distance })
	if len(result) > k {
		result = result[:k]
	}
	return result, nil
}

// Vector 返回第 id 个向量, 调用方不能修改
func (x *Index) Vector(id int) []float32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.nodes[id].vector
}

// greedy 从 top 层贪心下降到 bottom+1 层, 返回最近的节点
func (x *Index) greedy(query []float32, cur uint32, top, bottom int) uint32 {
	curDist := squaredL2(query, x.nodes[cur].vector)
	for lev := top; lev > bottom; lev-- {
		for changed := true; changed; {
			changed = false
			nd := x.nodes[cur]
			if lev >= len(nd.friends) {
				break
			}
			for _, fID := range nd.friends[lev] {
				if d := squaredL2(query, x.nodes[fID].vector); d < curDist {
					cur, curDist, changed = fID, d, true
				}
			}
		}
	}
	return cur
}

// searchLayer 在单层上做束搜索, 返回最多 ef 个节点
func (x *Index) searchLayer(query []float32, entryPoints []uint32, ef int, layer int) []uint32 {
	visited := make(map[uint32]struct{}, ef*2)
	var candidates minDistHeap
	var results maxDistHeap

	for _, ep := range entryPoints {
		visited[ep] = struct{}{}
		d := squaredL2(query, x.nodes[ep].vector)
		heap.Push(&candidates, distItem{id: ep, dist: d})
		heap.Push(&results, distItem{id: ep, dist: d})
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(&candidates).(distItem)
		if results.Len() >= ef && closest.dist > results[0].dist {
			break
		}
		nd := x.nodes[closest.id]
		if layer >= len(nd.friends) {
			continue
		}
		for _, fID := range nd.friends[layer] {
			if _, seen := visited[fID]; seen {
				continue
			}
			visited[fID] = struct{}{}
			d := squaredL2(query, x.nodes[fID].vector)
			if results.Len() < ef || d < results[0].dist {
				heap.Push(&candidates, distItem{id: fID, dist: d})
				heap.Push(&results, distItem{id: fID, dist: d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]uint32, results.Len())
	for i := range out {
		out[i] = results[i].id
	}
	return out
}

// selectClosest 从候选中选出最近的 maxN 个
func (x *Index) selectClosest(query []float32, candidates []uint32, maxN int) []uint32 {
	if len(candidates) <= maxN {
		return append([]uint32(nil), candidates...)
	}
	items := make([]distItem, len(candidates))
	for i, id := range candidates {
		items[i] = distItem{id: id, dist: squaredL2(query, x.nodes[id].vector)}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].dist < items[j].dist })
	out := make([]uint32, maxN)
	for i := range out {
		out[i] = items[i].id
	}
	return out
}

// randomLevel 按指数分布生成节点层级
func (x *Index) randomLevel() int {
	r := max(x.rng.Float64(), math.SmallestNonzeroFloat64)
	return min(int(-math.Log(r)*x.levelMul), 31)
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
