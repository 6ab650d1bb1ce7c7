package catalog

import (
	"errors"
	"fmt"

	"graph-migrator/internal/adapter"
	"graph-migrator/internal/errs"
)

// CheckSource 对照数据源的实际结构检查所有声明的表和列
func (c *Catalog) CheckSource(meta *adapter.SchemaMetadata) error {
	var problems []error
	check := func(table string, columns []string) {
		t, ok := meta.Table(table)
		if !ok {
			problems = append(problems, fmt.Errorf("table %q does not exist in source%s", table, suggest(table, meta.TableNames())))
			return
		}
		for _, col := range columns {
			if _, ok := t.Column(col); !ok {
				problems = append(problems, fmt.Errorf("table %s has no column %q%s", table, col, suggest(col, t.ColumnNames())))
			}
		}
	}
	for _, e := range c.entities {
		check(e.SourceTable, e.Columns)
	}
	for _, r := range c.relationships {
		check(r.SourceTable, r.Columns)
	}
	if len(problems) > 0 {
		return errs.New(errs.KindConfiguration, "check source", "", errors.Join(problems...))
	}
	return nil
}

// ToFile 转回 YAML 结构
func (c *Catalog) ToFile() File {
	var f File
	for _, e := range c.entities {
		f.Entities = append(f.Entities, EntityFile{
			Table:    e.SourceTable,
			Columns:  e.Columns,
			Label:    e.TargetLabel,
			Identity: e.IdentityKey,
		})
	}
	for _, r := range c.relationships {
		rf := RelationshipFile{
			Table:      r.SourceTable,
			Columns:    r.Columns,
			Source:     r.SourceLabel,
			Target:     r.TargetLabel,
			SourceKey:  r.SourceKey,
			TargetKey:  r.TargetKey,
			Type:       r.RelationshipType,
			TypeColumn: r.TypeColumn,
			Types:      r.AllowedTypes,
		}
		if r.Kind != KindBridge {
			rf.Kind = string(r.Kind)
		}
		f.Relationships = append(f.Relationships, rf)
	}
	if len(c.mapping) > 0 {
		f.Mapping = c.mapping
	}
	return f
}
