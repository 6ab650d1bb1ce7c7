package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"graph-migrator/internal/adapter"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"go.uber.org/zap"
)

// Reference 一列对另一张表单列主键的引用
type Reference struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
	Confidence float64
	// Declared 来自数据库声明的外键
	Declared bool
	Evidence []string
}

func (r Reference) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s (%.2f)", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn, r.Confidence)
}

// RelationshipInferer 关系推断器
type RelationshipInferer struct {
	threshold float64
	logger    *zap.Logger
}

// NewRelationshipInferer 创建推断器
func NewRelationshipInferer(logger *zap.Logger) *RelationshipInferer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationshipInferer{threshold: 0.5, logger: logger}
}

// InferReferences 合并声明的外键与按命名推断的引用
//
// 每个列最多保留一个引用：声明的外键优先，其次是置信度最高的推断结果。
func (r *RelationshipInferer) InferReferences(meta *adapter.SchemaMetadata, fks []adapter.ForeignKey) []Reference {
	byColumn := make(map[string]Reference)
	key := func(table, col string) string { return strings.ToLower(table + "." + col) }

	for _, fk := range fks {
		byColumn[key(fk.FromTable, fk.FromColumn)] = Reference{
			FromTable: fk.FromTable, FromColumn: fk.FromColumn,
			ToTable: fk.ToTable, ToColumn: fk.ToColumn,
			Confidence: 1, Declared: true,
			Evidence: []string{"declared foreign key"},
		}
	}

	// 只有单列主键可以作为引用目标
	targets := make(map[string]adapter.Column)
	for _, t := range meta.Tables {
		if pks := t.PrimaryKeys(); len(pks) == 1 {
			col, _ := t.Column(pks[0])
			targets[t.Name] = *col
		}
	}

	comparisons := 0
	for _, fromTable := range meta.Tables {
		for _, fromCol := range fromTable.Columns {
			if fromCol.IsPrimaryKey && len(fromTable.PrimaryKeys()) == 1 {
				continue
			}
			k := key(fromTable.Name, fromCol.Name)
			if ref, ok := byColumn[k]; ok && ref.Declared {
				continue
			}
			for _, toTable := range meta.Tables {
				toCol, ok := targets[toTable.Name]
				if !ok || toTable.Name == fromTable.Name {
					continue
				}
				comparisons++
				ref := r.calculateReference(fromTable.Name, fromCol, toTable.Name, toCol)
				if ref == nil || ref.Confidence < r.threshold {
					continue
				}
				if prev, ok := byColumn[k]; !ok || ref.Confidence > prev.Confidence {
					byColumn[k] = *ref
				}
			}
		}
	}

	refs := make([]Reference, 0, len(byColumn))
	for _, ref := range byColumn {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].FromTable != refs[j].FromTable {
			return refs[i].FromTable < refs[j].FromTable
		}
		return refs[i].FromColumn < refs[j].FromColumn
	})

	r.logger.Debug("references inferred",
		zap.Int("tables", len(meta.Tables)),
		zap.Int("declared", len(fks)),
		zap.Int("comparisons", comparisons),
		zap.Int("references", len(refs)))
	return refs
}

// calculateReference 命名相似度占 0.6，类型兼容占 0.4
func (r *RelationshipInferer) calculateReference(fromTable string, fromCol adapter.Column, toTable string, toCol adapter.Column) *Reference {
	nameScore := r.calculateNameSimilarity(fromCol.Name, toCol.Name)
	if nameScore == 0 {
		return nil
	}
	evidence := []string{fmt.Sprintf("naming %s ~ %s (%.2f)", fromCol.Name, toCol.Name, nameScore)}
	score := nameScore * 0.6

	if r.isTypeCompatible(fromCol.DataType, toCol.DataType) {
		evidence = append(evidence, fmt.Sprintf("type %s ~ %s", fromCol.DataType, toCol.DataType))
		score += 0.4
	}

	return &Reference{
		FromTable: fromTable, FromColumn: fromCol.Name,
		ToTable: toTable, ToColumn: toCol.Name,
		Confidence: score,
		Evidence:   evidence,
	}
}

// calculateNameSimilarity 计算命名相似度
func (r *RelationshipInferer) calculateNameSimilarity(name1, name2 string) float64 {
	n1 := strings.ToLower(name1)
	n2 := strings.ToLower(name2)

	if n1 == n2 {
		return 1.0
	}

	// 只叫 id 的列太泛，不参与比较
	if n1 == "id" || n2 == "id" {
		return 0
	}

	if strings.Contains(n1, n2) || strings.Contains(n2, n1) {
		return 0.8
	}

	maxLen := math.Max(float64(len(n1)), float64(len(n2)))
	if maxLen == 0 {
		return 0
	}

	distance := levenshtein.DistanceForStrings([]rune(n1), []rune(n2), levenshtein.DefaultOptions)
	similarity := 1.0 - float64(distance)/maxLen

	if similarity > 0.7 {
		return similarity
	}
	return 0
}

// isTypeCompatible 判断类型是否兼容
func (r *RelationshipInferer) isTypeCompatible(type1, type2 string) bool {
	t1 := baseType(type1)
	t2 := baseType(type2)

	if t1 == t2 {
		return true
	}

	stringTypes := map[string]bool{
		"varchar": true, "nvarchar": true, "char": true, "nchar": true, "text": true,
		"character varying": true, "character": true,
	}
	if stringTypes[t1] && stringTypes[t2] {
		return true
	}

	intTypes := map[string]bool{
		"int": true, "bigint": true, "smallint": true, "tinyint": true, "integer": true,
		"int2": true, "int4": true, "int8": true, "serial": true, "bigserial": true,
	}
	return intTypes[t1] && intTypes[t2]
}

// baseType 去掉长度和大小写：VARCHAR(255) -> varchar
func baseType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
