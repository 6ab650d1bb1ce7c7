package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"graph-migrator/internal/catalog"
	"graph-migrator/internal/extract"
)

// Sampler 读取表中指定列的全部行
type Sampler interface {
	FetchRows(ctx context.Context, table string, columns []string) ([]extract.Row, error)
}

// TypeColumn 可以作为关系类型来源的枚举列
type TypeColumn struct {
	Table      string
	Column     string
	Values     []string
	Confidence float64
}

// EnumDetector 枚举列检测器
type EnumDetector struct {
	sampler   Sampler
	maxValues int
}

// NewEnumDetector 创建检测器
func NewEnumDetector(sampler Sampler) *EnumDetector {
	return &EnumDetector{sampler: sampler, maxValues: 20}
}

// DetectTypeColumn 判断列是否是枚举列
//
// 枚举列的取值少、都是非空字符串且能作为关系类型名。返回 nil 表示不是。
func (e *EnumDetector) DetectTypeColumn(ctx context.Context, table, column string) (*TypeColumn, error) {
	rows, err := e.sampler.FetchRows(ctx, table, []string{column})
	if err != nil {
		return nil, fmt.Errorf("sample %s.%s: %w", table, column, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	distinct := make(map[string]bool)
	for _, row := range rows {
		s, ok := row[0].(string)
		if !ok || !catalog.ValidIdentifier(s) {
			return nil, nil
		}
		distinct[s] = true
		if len(distinct) > e.maxValues {
			return nil, nil
		}
	}

	values := make([]string, 0, len(distinct))
	for v := range distinct {
		values = append(values, v)
	}
	sort.Strings(values)

	return &TypeColumn{
		Table:      table,
		Column:     column,
		Values:     values,
		Confidence: e.calculateEnumConfidence(column, len(rows), len(values)),
	}, nil
}

// calculateEnumConfidence 计算枚举列置信度
func (e *EnumDetector) calculateEnumConfidence(column string, rowCount, distinct int) float64 {
	score := 0.4

	// 取值越集中越像枚举
	if distinct*4 <= rowCount {
		score += 0.3
	} else if distinct*2 <= rowCount {
		score += 0.2
	}

	colLower := strings.ToLower(column)
	for _, pattern := range []string{"type", "kind", "role", "category", "relation"} {
		if strings.Contains(colLower, pattern) {
			score += 0.3
			break
		}
	}

	return score
}
