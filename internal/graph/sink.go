// Package graph 图存储接口与内存实现
package graph

import (
	"context"
	"sort"
)

// Sink 图存储
type Sink interface {
	// ReplaceNodes 删除 label 的全部节点（连同它们的边），再写入 batch。
	// 删除成功而写入失败时返回 PartialReplaceFailure。
	ReplaceNodes(ctx context.Context, label string, batch []Properties) (int, error)

	// MergeEdges 对每一对端点按值精确匹配两端节点，边不存在时才创建。
	// 任一端点不存在时返回 DanglingReferenceError，不会创建节点。
	MergeEdges(ctx context.Context, batch EdgeBatch) (MergeResult, error)

	// Close 释放连接
	Close(ctx context.Context) error
}

// Stats 图统计
type Stats struct {
	Nodes map[string]int64 `json:"nodes"` // 标签 -> 节点数
	Edges map[string]int64 `json:"edges"` // 关系类型 -> 边数
}

// NewStats 创建空统计
func NewStats() *Stats {
	return &Stats{Nodes: make(map[string]int64), Edges: make(map[string]int64)}
}

// TotalNodes 节点总数
func (s *Stats) TotalNodes() int64 {
	var n int64
	for _, c := range s.Nodes {
		n += c
	}
	return n
}

// TotalEdges 边总数
func (s *Stats) TotalEdges() int64 {
	var n int64
	for _, c := range s.Edges {
		n += c
	}
	return n
}

// Labels 排序后的标签
func (s *Stats) Labels() []string {
	return sortedKeys(s.Nodes)
}

// Types 排序后的关系类型
func (s *Stats) Types() []string {
	return sortedKeys(s.Edges)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Inspector 能统计内容的图存储
type Inspector interface {
	Stats(ctx context.Context) (*Stats, error)
}

// Indexer 能为标识属性建索引的图存储
type Indexer interface {
	EnsureIdentityIndex(ctx context.Context, label, key string) error
}
