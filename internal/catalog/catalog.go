// Package catalog 描述关系表到图节点、图关系的声明式映射
//
// Catalog 在启动时加载一次，之后只读。实体表决定节点标签，关系表决定边的
// 类型和两端节点；词表映射决定每个标签的属性命名。
package catalog

import (
	"fmt"
	"sort"
)

// TableDescriptor 实体表描述：哪张表对应哪个节点标签，投影哪些列
type TableDescriptor struct {
	SourceTable string
	Columns     []string
	TargetLabel string
	// IdentityKey 节点标识属性（映射后的名字），在同一标签内唯一
	IdentityKey string
}

// RelationshipKind 关系来源
type RelationshipKind string

const (
	// KindBridge 来自独立的桥接表（多对多）
	KindBridge RelationshipKind = "bridge"
	// KindForeignKey 来自源实体表自身的外键列（一对多）
	KindForeignKey RelationshipKind = "foreign_key"
)

// RelationshipDescriptor 关系表描述
//
// Columns 的前两列分别引用 SourceLabel 和 TargetLabel 节点的标识属性。
// RelationshipType 为空时，关系类型在处理每一行时从 TypeColumn 读取。
type RelationshipDescriptor struct {
	SourceTable      string
	Columns          []string
	SourceLabel      string
	TargetLabel      string
	SourceKey        string
	TargetKey        string
	RelationshipType string
	TypeColumn       string
	AllowedTypes     []string
	Kind             RelationshipKind
}

// Derived 关系类型是否从行数据中读取
func (d RelationshipDescriptor) Derived() bool {
	return d.RelationshipType == ""
}

// Name 用于日志和报告的关系名
func (d RelationshipDescriptor) Name() string {
	if d.Kind == KindForeignKey && len(d.Columns) > 1 {
		return fmt.Sprintf("%s.%s", d.SourceTable, d.Columns[1])
	}
	return d.SourceTable
}

// TypeAllowed 判断行数据中的关系类型是否在声明的白名单内
func (d RelationshipDescriptor) TypeAllowed(t string) bool {
	for _, a := range d.AllowedTypes {
		if a == t {
			return true
		}
	}
	return false
}

// SchemaMapping 标签 -> (源字段 -> 目标词表字段)
type SchemaMapping map[string]map[string]string

// Catalog 已校验的只读配置
type Catalog struct {
	entities      []TableDescriptor
	relationships []RelationshipDescriptor
	mapping       SchemaMapping
	byLabel       map[string]int
}

// Entities 按声明顺序返回实体表
func (c *Catalog) Entities() []TableDescriptor {
	out := make([]TableDescriptor, len(c.entities))
	copy(out, c.entities)
	return out
}

// Relationships 按声明顺序返回关系表
func (c *Catalog) Relationships() []RelationshipDescriptor {
	out := make([]RelationshipDescriptor, len(c.relationships))
	copy(out, c.relationships)
	return out
}

// Mapping 返回词表映射
func (c *Catalog) Mapping() SchemaMapping {
	return c.mapping
}

// Entity 按标签查找实体表
func (c *Catalog) Entity(label string) (TableDescriptor, bool) {
	i, ok := c.byLabel[label]
	if !ok {
		return TableDescriptor{}, false
	}
	return c.entities[i], true
}

// Labels 所有已声明的标签（按声明顺序）
func (c *Catalog) Labels() []string {
	labels := make([]string, 0, len(c.entities))
	for _, e := range c.entities {
		labels = append(labels, e.TargetLabel)
	}
	return labels
}

// RelationshipTypes 所有可能出现的关系类型，排序去重
func (c *Catalog) RelationshipTypes() []string {
	seen := make(map[string]bool)
	for _, r := range c.relationships {
		if r.RelationshipType != "" {
			seen[r.RelationshipType] = true
		}
		for _, t := range r.AllowedTypes {
			seen[t] = true
		}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// producedKeys 标签节点上会出现的属性名
func producedKeys(td TableDescriptor, mapping SchemaMapping) []string {
	if m, ok := mapping[td.TargetLabel]; ok {
		keys := make([]string, 0, len(m))
		for _, col := range td.Columns {
			if k, ok := m[col]; ok {
				keys = append(keys, k)
			}
		}
		return keys
	}
	return td.Columns
}
