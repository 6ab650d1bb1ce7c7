package analyzer

import (
	"context"
	"sort"
	"strings"

	"graph-migrator/internal/adapter"
	"graph-migrator/internal/catalog"

	"go.uber.org/zap"
)

// DraftResult 草稿 catalog 以及被跳过的表
type DraftResult struct {
	File       catalog.File
	References []Reference
	// Skipped 表名或列名不能作为标识符、或没有可用标识列的表
	Skipped []string
}

// Drafter 从源库结构生成 catalog 草稿
//
// 恰好引用两张表、除引用列外最多一列的表视为桥接表，生成 bridge 关系；
// 其余表生成实体，实体表上的引用生成 foreign_key 关系。关系类型按目标标签命名，
// 生成后需要人工确认。设置了 EnumDetector 时，桥接表多出的那一列如果是枚举列，
// 关系类型改为逐行从该列读取。
type Drafter struct {
	inferer *RelationshipInferer
	enums   *EnumDetector
	logger  *zap.Logger
}

// NewDrafter 创建草稿生成器，enums 可以为 nil
func NewDrafter(enums *EnumDetector, logger *zap.Logger) *Drafter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drafter{inferer: NewRelationshipInferer(logger), enums: enums, logger: logger}
}

// Draft 生成草稿
func (d *Drafter) Draft(ctx context.Context, meta *adapter.SchemaMetadata, fks []adapter.ForeignKey) DraftResult {
	res := DraftResult{References: d.inferer.InferReferences(meta, fks)}

	refsByTable := make(map[string][]Reference)
	for _, ref := range res.References {
		refsByTable[ref.FromTable] = append(refsByTable[ref.FromTable], ref)
	}

	tables := make([]adapter.Table, len(meta.Tables))
	copy(tables, meta.Tables)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	labels := make(map[string]string)     // 表 -> 标签
	identities := make(map[string]string) // 表 -> 标识列
	used := make(map[string]bool)
	var bridges []adapter.Table
	for _, t := range tables {
		if !identifiersValid(t) {
			res.Skipped = append(res.Skipped, t.Name)
			continue
		}
		if isBridge(t, refsByTable[t.Name]) {
			bridges = append(bridges, t)
			continue
		}
		identity := identityColumn(t)
		label := LabelFor(t.Name)
		if identity == "" || !catalog.ValidIdentifier(label) || used[label] {
			res.Skipped = append(res.Skipped, t.Name)
			continue
		}
		used[label] = true
		labels[t.Name] = label
		identities[t.Name] = identity
		res.File.Entities = append(res.File.Entities, catalog.EntityFile{
			Table:    t.Name,
			Columns:  t.ColumnNames(),
			Label:    label,
			Identity: identity,
		})
	}

	for _, t := range tables {
		refs := refsByTable[t.Name]
		if _, ok := labels[t.Name]; !ok {
			continue
		}
		for _, ref := range refs {
			target, ok := labels[ref.ToTable]
			if !ok || ref.FromColumn == identities[t.Name] {
				continue
			}
			rf := catalog.RelationshipFile{
				Table:   t.Name,
				Kind:    string(catalog.KindForeignKey),
				Columns: []string{identities[t.Name], ref.FromColumn},
				Source:  labels[t.Name],
				Target:  target,
				Type:    TypeFor(target),
			}
			if ref.ToColumn != identities[ref.ToTable] {
				rf.TargetKey = ref.ToColumn
			}
			res.File.Relationships = append(res.File.Relationships, rf)
		}
	}

	for _, t := range bridges {
		refs := refsByTable[t.Name]
		src, okSrc := labels[refs[0].ToTable]
		dst, okDst := labels[refs[1].ToTable]
		if !okSrc || !okDst {
			res.Skipped = append(res.Skipped, t.Name)
			continue
		}
		rf := catalog.RelationshipFile{
			Table:   t.Name,
			Columns: []string{refs[0].FromColumn, refs[1].FromColumn},
			Source:  src,
			Target:  dst,
			Type:    TypeFor(dst),
		}
		if refs[0].ToColumn != identities[refs[0].ToTable] {
			rf.SourceKey = refs[0].ToColumn
		}
		if refs[1].ToColumn != identities[refs[1].ToTable] {
			rf.TargetKey = refs[1].ToColumn
		}
		if tc := d.typeColumn(ctx, t, refs); tc != nil {
			rf.Columns = append(rf.Columns, tc.Column)
			rf.Type = ""
			rf.TypeColumn = tc.Column
			rf.Types = tc.Values
		}
		res.File.Relationships = append(res.File.Relationships, rf)
	}

	d.logger.Info("catalog drafted",
		zap.Int("entities", len(res.File.Entities)),
		zap.Int("relationships", len(res.File.Relationships)),
		zap.Strings("skipped", res.Skipped))
	return res
}

// typeColumn 桥接表除两个引用列外的那一列是否可以作为关系类型
func (d *Drafter) typeColumn(ctx context.Context, t adapter.Table, refs []Reference) *TypeColumn {
	if d.enums == nil {
		return nil
	}
	for _, c := range t.Columns {
		if c.Name == refs[0].FromColumn || c.Name == refs[1].FromColumn {
			continue
		}
		tc, err := d.enums.DetectTypeColumn(ctx, t.Name, c.Name)
		if err != nil {
			d.logger.Warn("type column detection failed", zap.String("table", t.Name), zap.String("column", c.Name), zap.Error(err))
			return nil
		}
		if tc != nil && tc.Confidence >= 0.7 {
			return tc
		}
	}
	return nil
}

// isBridge 恰好两处引用，且除引用列外最多一列
func isBridge(t adapter.Table, refs []Reference) bool {
	if len(refs) != 2 {
		return false
	}
	return len(t.Columns)-2 <= 1
}

// identityColumn 单列主键；没有主键时退回名为 id 或 <table>_id 的列
func identityColumn(t adapter.Table) string {
	if pks := t.PrimaryKeys(); len(pks) == 1 {
		return pks[0]
	}
	if len(t.PrimaryKeys()) > 1 {
		return ""
	}
	for _, name := range []string{t.Name + "_id", "id"} {
		if c, ok := t.Column(name); ok {
			return c.Name
		}
	}
	return ""
}

func identifiersValid(t adapter.Table) bool {
	if !catalog.ValidIdentifier(t.Name) || len(t.Columns) == 0 {
		return false
	}
	for _, c := range t.Columns {
		if !catalog.ValidIdentifier(c.Name) {
			return false
		}
	}
	return true
}

// LabelFor 表名转标签：genre_type -> GenreType
func LabelFor(table string) string {
	var b strings.Builder
	for _, part := range strings.Split(table, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// TypeFor 按目标标签命名关系类型：GenreType -> HAS_GENRE_TYPE
func TypeFor(label string) string {
	var b strings.Builder
	b.WriteString("HAS_")
	for i, r := range label {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
