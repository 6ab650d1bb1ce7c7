package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"graph-migrator/internal/errs"

	"gopkg.in/yaml.v3"
)

// identPattern 表名、列名、标签、关系类型、属性名的白名单格式
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier 判断名字能否安全地作为标识符拼入查询
func ValidIdentifier(s string) bool {
	return identPattern.MatchString(s)
}

// File catalog 的 YAML 结构
type File struct {
	Entities      []EntityFile                 `yaml:"entities"`
	Relationships []RelationshipFile           `yaml:"relationships"`
	Mapping       map[string]map[string]string `yaml:"mapping,omitempty"`
}

// EntityFile 实体表配置
type EntityFile struct {
	Table    string   `yaml:"table"`
	Columns  []string `yaml:"columns,flow"`
	Label    string   `yaml:"label"`
	Identity string   `yaml:"identity,omitempty"`
}

// RelationshipFile 关系表配置
type RelationshipFile struct {
	Table      string   `yaml:"table"`
	Kind       string   `yaml:"kind,omitempty"`
	Columns    []string `yaml:"columns,flow"`
	Source     string   `yaml:"source"`
	Target     string   `yaml:"target"`
	JoinKey    string   `yaml:"join_key,omitempty"`
	SourceKey  string   `yaml:"source_key,omitempty"`
	TargetKey  string   `yaml:"target_key,omitempty"`
	Type       string   `yaml:"type,omitempty"`
	TypeColumn string   `yaml:"type_column,omitempty"`
	Types      []string `yaml:"types,omitempty,flow"`
}

// Load 从文件加载 catalog
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindConfiguration, "load", "", err)
	}
	return Parse(data)
}

// Parse 解析并校验 YAML
func Parse(data []byte) (*Catalog, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errs.New(errs.KindConfiguration, "parse", "", err)
	}
	return New(f)
}

// New 校验配置并构建 Catalog，所有问题一次性返回
func New(f File) (*Catalog, error) {
	v := &validator{}
	c := &Catalog{
		mapping: SchemaMapping{},
		byLabel: make(map[string]int),
	}

	if len(f.Entities) == 0 {
		v.addf("no entity tables declared")
	}

	for i, ef := range f.Entities {
		where := fmt.Sprintf("entities[%d]", i)
		v.ident(where+".table", ef.Table)
		v.ident(where+".label", ef.Label)
		v.columns(where, ef.Columns)
		if _, dup := c.byLabel[ef.Label]; dup {
			v.addf("%s: duplicate label %q", where, ef.Label)
			continue
		}
		c.byLabel[ef.Label] = len(c.entities)
		c.entities = append(c.entities, TableDescriptor{
			SourceTable: ef.Table,
			Columns:     ef.Columns,
			TargetLabel: ef.Label,
			IdentityKey: ef.Identity,
		})
	}

	for label, fields := range f.Mapping {
		idx, ok := c.byLabel[label]
		if !ok {
			v.addf("mapping: undeclared label %q%s", label, suggest(label, c.Labels()))
			continue
		}
		td := c.entities[idx]
		targets := make(map[string]string)
		for src, dst := range fields {
			if !contains(td.Columns, src) {
				v.addf("mapping.%s: field %q is not a column of %s%s", label, src, td.SourceTable, suggest(src, td.Columns))
			}
			v.ident(fmt.Sprintf("mapping.%s.%s", label, src), dst)
			if prev, dup := targets[dst]; dup {
				v.addf("mapping.%s: fields %q and %q both map to %q", label, prev, src, dst)
			}
			targets[dst] = src
		}
		c.mapping[label] = fields
	}

	for i := range c.entities {
		td := &c.entities[i]
		produced := producedKeys(*td, c.mapping)
		if td.IdentityKey == "" && len(td.Columns) > 0 {
			td.IdentityKey = td.Columns[0]
			if m, ok := c.mapping[td.TargetLabel]; ok {
				mapped, ok := m[td.Columns[0]]
				if !ok {
					// 有映射的标签只保留映射过的字段
					v.addf("entity %s: identity column %q of %s has no mapping entry; add %s: %s to mapping.%s or set identity",
						td.TargetLabel, td.Columns[0], td.TargetLabel, td.Columns[0], td.Columns[0], td.TargetLabel)
					continue
				}
				td.IdentityKey = mapped
			}
		}
		if td.IdentityKey == "" || !contains(produced, td.IdentityKey) {
			v.addf("entity %s: identity key %q is not a property of the mapped node%s",
				td.TargetLabel, td.IdentityKey, suggest(td.IdentityKey, produced))
		}
	}

	for i, rf := range f.Relationships {
		where := fmt.Sprintf("relationships[%d]", i)
		if rd, ok := v.relationship(where, rf, c); ok {
			c.relationships = append(c.relationships, rd)
		}
	}

	if err := v.err(); err != nil {
		return nil, err
	}
	return c, nil
}

func (v *validator) relationship(where string, rf RelationshipFile, c *Catalog) (RelationshipDescriptor, bool) {
	before := len(v.problems)
	v.ident(where+".table", rf.Table)
	v.columns(where, rf.Columns)
	if len(rf.Columns) < 2 {
		v.addf("%s: at least two key columns are required", where)
	}

	kind := RelationshipKind(rf.Kind)
	if kind == "" {
		kind = KindBridge
	}
	if kind != KindBridge && kind != KindForeignKey {
		v.addf("%s: unknown kind %q", where, rf.Kind)
	}

	src, srcOK := c.Entity(rf.Source)
	if !srcOK {
		v.addf("%s: undeclared source label %q%s", where, rf.Source, suggest(rf.Source, c.Labels()))
	}
	dst, dstOK := c.Entity(rf.Target)
	if !dstOK {
		v.addf("%s: undeclared target label %q%s", where, rf.Target, suggest(rf.Target, c.Labels()))
	}

	rd := RelationshipDescriptor{
		SourceTable:      rf.Table,
		Columns:          rf.Columns,
		SourceLabel:      rf.Source,
		TargetLabel:      rf.Target,
		RelationshipType: rf.Type,
		Kind:             kind,
	}

	if srcOK {
		rd.SourceKey = firstNonEmpty(rf.SourceKey, rf.JoinKey, src.IdentityKey)
		v.joinKey(where+".source_key", rd.SourceKey, src, c.mapping)
		if kind == KindForeignKey && src.SourceTable != rf.Table {
			v.addf("%s: foreign_key relationship must read the source entity table %q, got %q", where, src.SourceTable, rf.Table)
		}
	}
	if dstOK {
		rd.TargetKey = firstNonEmpty(rf.TargetKey, rf.JoinKey, dst.IdentityKey)
		v.joinKey(where+".target_key", rd.TargetKey, dst, c.mapping)
	}

	if rf.Type != "" {
		v.ident(where+".type", rf.Type)
	} else {
		rd.TypeColumn = rf.TypeColumn
		if rd.TypeColumn == "" && len(rf.Columns) > 2 {
			rd.TypeColumn = rf.Columns[2]
		}
		switch {
		case rd.TypeColumn == "":
			v.addf("%s: no type declared and no type column available", where)
		case !contains(rf.Columns, rd.TypeColumn):
			v.addf("%s: type column %q is not projected", where, rd.TypeColumn)
		case len(rf.Columns) > 1 && (rd.TypeColumn == rf.Columns[0] || rd.TypeColumn == rf.Columns[1]):
			v.addf("%s: type column %q is a key column", where, rd.TypeColumn)
		}
		if len(rf.Types) == 0 {
			v.addf("%s: derived relationship types need an allow-list (types)", where)
		}
		for j, t := range rf.Types {
			v.ident(fmt.Sprintf("%s.types[%d]", where, j), t)
		}
		rd.AllowedTypes = rf.Types
	}

	return rd, len(v.problems) == before
}

// Encode 将配置写回 YAML
func Encode(w io.Writer, f File) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return err
	}
	return enc.Close()
}

type validator struct {
	problems []error
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Errorf(format, args...))
}

func (v *validator) ident(where, s string) {
	if !ValidIdentifier(s) {
		v.addf("%s: %q is not a valid identifier", where, s)
	}
}

func (v *validator) columns(where string, cols []string) {
	if len(cols) == 0 {
		v.addf("%s: columns must not be empty", where)
	}
	seen := make(map[string]bool)
	for j, col := range cols {
		v.ident(fmt.Sprintf("%s.columns[%d]", where, j), col)
		if seen[col] {
			v.addf("%s: duplicate column %q", where, col)
		}
		seen[col] = true
	}
}

func (v *validator) joinKey(where, key string, td TableDescriptor, mapping SchemaMapping) {
	v.ident(where, key)
	produced := producedKeys(td, mapping)
	if !contains(produced, key) {
		v.addf("%s: %q is not a property of %s%s", where, key, td.TargetLabel, suggest(key, produced))
	}
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return errs.New(errs.KindConfiguration, "validate", "", errors.Join(v.problems...))
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
