// Package renderer 把 catalog、推断结果和迁移报告渲染成文档
package renderer

import (
	"fmt"
	"sort"
	"strings"

	"graph-migrator/internal/analyzer"
	"graph-migrator/internal/catalog"
)

// MermaidRenderer Mermaid 图渲染器
type MermaidRenderer struct{}

// NewMermaidRenderer 创建渲染器
func NewMermaidRenderer() *MermaidRenderer {
	return &MermaidRenderer{}
}

// Render 渲染目标图模型：每个标签一个实体，每种关系类型一条连线
//
// 桥接表关系画成多对多，外键关系画成多对一。
func (m *MermaidRenderer) Render(c *catalog.Catalog) string {
	var sb strings.Builder

	sb.WriteString("erDiagram\n")

	for _, td := range c.Entities() {
		sb.WriteString(fmt.Sprintf("    %s {\n", td.TargetLabel))
		for _, prop := range properties(td, c.Mapping()) {
			key := ""
			if prop == td.IdentityKey {
				key = " PK"
			}
			sb.WriteString(fmt.Sprintf("        any %s%s\n", prop, key))
		}
		sb.WriteString("    }\n")
	}

	sb.WriteString("\n")

	for _, rd := range c.Relationships() {
		relType := "}o--o{"
		if rd.Kind == catalog.KindForeignKey {
			relType = "}o--||"
		}
		types := []string{rd.RelationshipType}
		if rd.Derived() {
			types = rd.AllowedTypes
		}
		for _, t := range types {
			sb.WriteString(fmt.Sprintf("    %s %s %s : %s\n", rd.SourceLabel, relType, rd.TargetLabel, t))
		}
	}

	return sb.String()
}

// RenderReferences 渲染源库的表引用关系，推断出的引用画成虚线
func (m *MermaidRenderer) RenderReferences(refs []analyzer.Reference) string {
	var sb strings.Builder

	sb.WriteString("erDiagram\n")
	for _, ref := range refs {
		relType := "||--o{"
		if !ref.Declared {
			relType = "||..o{"
		}
		label := fmt.Sprintf("\"%s %.2f\"", ref.FromColumn, ref.Confidence)
		sb.WriteString(fmt.Sprintf("    %s %s %s : %s\n", ref.ToTable, relType, ref.FromTable, label))
	}
	return sb.String()
}

// properties 节点上的属性名：有词表映射用映射后的名字，否则用列名
func properties(td catalog.TableDescriptor, mapping catalog.SchemaMapping) []string {
	m, ok := mapping[td.TargetLabel]
	if !ok {
		return td.Columns
	}
	props := make([]string, 0, len(m))
	for _, col := range td.Columns {
		if p, ok := m[col]; ok {
			props = append(props, p)
		}
	}
	sort.SliceStable(props, func(i, j int) bool { return props[i] == td.IdentityKey && props[j] != td.IdentityKey })
	return props
}
