package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"graph-migrator/internal/errs"
)

// MemoryGraph 内存图，用于试运行和测试
type MemoryGraph struct {
	mu    sync.RWMutex
	Nodes map[string]*StoredNode `json:"nodes"`
	Edges map[string]*StoredEdge `json:"edges"`
	seq   int
}

// NewMemoryGraph 创建新图
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		Nodes: make(map[string]*StoredNode),
		Edges: make(map[string]*StoredEdge),
	}
}

// ReplaceNodes 删除标签下全部节点及其边，再写入新批次
func (g *MemoryGraph) ReplaceNodes(ctx context.Context, label string, batch []Properties) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.New(errs.KindSinkUnavailable, "replace", label, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := make(map[string]bool)
	for id, n := range g.Nodes {
		if n.Label == label {
			removed[id] = true
			delete(g.Nodes, id)
		}
	}
	for id, e := range g.Edges {
		if removed[e.From] || removed[e.To] {
			delete(g.Edges, id)
		}
	}

	for _, props := range batch {
		g.seq++
		id := fmt.Sprintf("%s:%d", label, g.seq)
		g.Nodes[id] = &StoredNode{ID: id, Label: label, Properties: props}
	}
	return len(batch), nil
}

// MergeEdges 按值匹配端点，边不存在时创建
func (g *MemoryGraph) MergeEdges(ctx context.Context, batch EdgeBatch) (MergeResult, error) {
	var res MergeResult
	if err := ctx.Err(); err != nil {
		return res, errs.New(errs.KindSinkUnavailable, "merge", batch.Type, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	sources := g.index(batch.SourceLabel, batch.SourceKey)
	targets := g.index(batch.TargetLabel, batch.TargetKey)

	// 先全部解析，任何一个端点缺失都不写入
	type link struct{ from, to string }
	links := make([]link, 0, len(batch.Pairs))
	for _, p := range batch.Pairs {
		from, ok := sources[ValueKey(p.Source)]
		if !ok {
			return res, errs.Errorf(errs.KindDanglingReference, "merge", "",
				"source endpoint %s not found", Endpoint(batch.SourceLabel, batch.SourceKey, p.Source))
		}
		to, ok := targets[ValueKey(p.Target)]
		if !ok {
			return res, errs.Errorf(errs.KindDanglingReference, "merge", "",
				"target endpoint %s not found", Endpoint(batch.TargetLabel, batch.TargetKey, p.Target))
		}
		links = append(links, link{from, to})
	}

	for _, l := range links {
		id := EdgeID(l.from, batch.Type, l.to)
		res.Merged++
		if _, exists := g.Edges[id]; exists {
			continue
		}
		g.Edges[id] = &StoredEdge{ID: id, Type: batch.Type, From: l.from, To: l.to}
		res.Created++
	}
	return res, nil
}

// index 标识值 -> 节点ID
func (g *MemoryGraph) index(label, key string) map[any]string {
	idx := make(map[any]string)
	for id, n := range g.Nodes {
		if n.Label != label {
			continue
		}
		if v, ok := n.Properties[key]; ok {
			idx[ValueKey(v)] = id
		}
	}
	return idx
}

// Stats 统计各标签节点数和各类型边数
func (g *MemoryGraph) Stats(ctx context.Context) (*Stats, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := NewStats()
	for _, n := range g.Nodes {
		s.Nodes[n.Label]++
	}
	for _, e := range g.Edges {
		s.Edges[e.Type]++
	}
	return s, nil
}

// NodesByLabel 返回标签下的节点属性，按 ID 排序
func (g *MemoryGraph) NodesByLabel(label string) []Properties {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for id, n := range g.Nodes {
		if n.Label == label {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]Properties, len(ids))
	for i, id := range ids {
		out[i] = g.Nodes[id].Properties
	}
	return out
}

// Close 内存图无需释放
func (g *MemoryGraph) Close(ctx context.Context) error {
	return nil
}

// ToJSON 导出为JSON
func (g *MemoryGraph) ToJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return json.MarshalIndent(g, "", "  ")
}
