package graph

import "fmt"

// Edge 一条有向、带类型的关系
type Edge struct {
	SourceLabel string `json:"source_label"`
	SourceKey   string `json:"source_key"`
	SourceValue any    `json:"source_value"`
	TargetLabel string `json:"target_label"`
	TargetKey   string `json:"target_key"`
	TargetValue any    `json:"target_value"`
	Type        string `json:"type"`
}

// EndpointPair 一条边两端的标识值
type EndpointPair struct {
	Source any `json:"source"`
	Target any `json:"target"`
}

// EdgeBatch 端点标签、标识属性和类型都相同的一批边
type EdgeBatch struct {
	SourceLabel string
	SourceKey   string
	TargetLabel string
	TargetKey   string
	Type        string
	Pairs       []EndpointPair
}

// Edges 展开成单条边
func (b EdgeBatch) Edges() []Edge {
	out := make([]Edge, len(b.Pairs))
	for i, p := range b.Pairs {
		out[i] = Edge{
			SourceLabel: b.SourceLabel, SourceKey: b.SourceKey, SourceValue: p.Source,
			TargetLabel: b.TargetLabel, TargetKey: b.TargetKey, TargetValue: p.Target,
			Type: b.Type,
		}
	}
	return out
}

// MergeResult 合并结果：Merged 为处理的边数，Created 为其中新建的边数
type MergeResult struct {
	Merged  int
	Created int
}

// Add 累加
func (r *MergeResult) Add(o MergeResult) {
	r.Merged += o.Merged
	r.Created += o.Created
}

// StoredEdge 存储中的边
type StoredEdge struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	From string `json:"from"` // 节点ID
	To   string `json:"to"`   // 节点ID
}

// EdgeID 由两端节点和类型决定，同一对节点同一类型只有一条边
func EdgeID(from, edgeType, to string) string {
	return fmt.Sprintf("%s-[%s]->%s", from, edgeType, to)
}

// Endpoint 描述一个端点，用于悬空引用的报错
func Endpoint(label, key string, value any) string {
	return fmt.Sprintf("(:%s {%s: %v})", label, key, value)
}
