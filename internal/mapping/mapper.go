// Package mapping 把行数据翻译成目标词表的属性
package mapping

import "graph-migrator/internal/catalog"

// Mapper 属性映射器
type Mapper struct {
	mapping catalog.SchemaMapping
}

// New 创建映射器
func New(mapping catalog.SchemaMapping) *Mapper {
	return &Mapper{mapping: mapping}
}

// MapRow 按标签映射一行
//
// 标签没有映射时原样返回；有映射时只保留映射表里出现且行中存在的字段，
// 其余字段丢弃。缺字段不算错误。
func (m *Mapper) MapRow(label string, row map[string]any) map[string]any {
	fields, ok := m.mapping[label]
	if !ok {
		return row
	}
	out := make(map[string]any, len(fields))
	for src, dst := range fields {
		if v, present := row[src]; present {
			out[dst] = v
		}
	}
	return out
}

// Constrained 标签是否处于词表约束模式
func (m *Mapper) Constrained(label string) bool {
	_, ok := m.mapping[label]
	return ok
}
