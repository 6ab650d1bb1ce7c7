package transfer

import (
	"context"
	"strings"
	"time"

	"graph-migrator/internal/catalog"
	"graph-migrator/internal/errs"
	"graph-migrator/internal/extract"
	"graph-migrator/internal/graph"

	"go.uber.org/zap"
)

// DefaultChunkSize 每次合并提交的最大行数
const DefaultChunkSize = 1000

// EdgeResult 一个关系表的处理结果
type EdgeResult struct {
	ByType map[string]graph.MergeResult
	// SkippedNull 端点值为空而跳过的行
	SkippedNull int
}

// Total 所有类型合计
func (r EdgeResult) Total() graph.MergeResult {
	var t graph.MergeResult
	for _, m := range r.ByType {
		t.Add(m)
	}
	return t
}

// EdgeMaterializer 从关系表派生边并幂等地合并到图中
type EdgeMaterializer struct {
	fetcher   Fetcher
	sink      graph.Sink
	timeout   time.Duration
	chunkSize int
	logger    *zap.Logger
}

// NewEdgeMaterializer 创建关系物化器
func NewEdgeMaterializer(fetcher Fetcher, sink graph.Sink, timeout time.Duration, chunkSize int, logger *zap.Logger) *EdgeMaterializer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EdgeMaterializer{fetcher: fetcher, sink: sink, timeout: timeout, chunkSize: chunkSize, logger: logger}
}

// MaterializeRelationship 读取关系表，解析每行的关系类型，分块按类型批量合并
//
// 所有行先解析完再写入：类型不合法的表不会写入任何边。
// 端点缺失时返回 DanglingReferenceError，已提交的块保留（合并是幂等的）。
func (m *EdgeMaterializer) MaterializeRelationship(ctx context.Context, rd catalog.RelationshipDescriptor) (EdgeResult, error) {
	res := EdgeResult{ByType: make(map[string]graph.MergeResult)}

	rows, err := fetch(ctx, m.fetcher, m.timeout, rd.SourceTable, rd.Columns)
	if err != nil {
		return res, err
	}

	batches, skipped, err := m.resolve(rd, rows)
	if err != nil {
		return res, err
	}
	res.SkippedNull = skipped

	for _, b := range batches {
		wctx, cancel := withTimeout(ctx, m.timeout)
		merged, err := m.sink.MergeEdges(wctx, b)
		cancel()
		if err != nil {
			return res, errs.WithTable(err, rd.SourceTable)
		}
		acc := res.ByType[b.Type]
		acc.Add(merged)
		res.ByType[b.Type] = acc
	}

	m.logger.Debug("relationship merged",
		zap.String("relationship", rd.Name()),
		zap.Int("batches", len(batches)),
		zap.Int("skipped_null", skipped))
	return res, nil
}

// resolve 把行切成块，块内按关系类型分组，保持首次出现的顺序
func (m *EdgeMaterializer) resolve(rd catalog.RelationshipDescriptor, rows []extract.Row) ([]graph.EdgeBatch, int, error) {
	typeIdx := -1
	if rd.Derived() {
		for i, c := range rd.Columns {
			if c == rd.TypeColumn {
				typeIdx = i
				break
			}
		}
		if typeIdx < 0 {
			return nil, 0, errs.Errorf(errs.KindConfiguration, "resolve", rd.SourceTable,
				"type column %q is not projected", rd.TypeColumn)
		}
	}

	var batches []graph.EdgeBatch
	skipped := 0
	for start := 0; start < len(rows); start += m.chunkSize {
		end := start + m.chunkSize
		if end > len(rows) {
			end = len(rows)
		}

		byType := make(map[string]int)
		var chunk []graph.EdgeBatch
		for i, row := range rows[start:end] {
			if len(row) < 2 || row[0] == nil || row[1] == nil {
				skipped++
				continue
			}
			relType, err := relationshipType(rd, row, typeIdx, start+i+1)
			if err != nil {
				return nil, 0, err
			}
			j, ok := byType[relType]
			if !ok {
				j = len(chunk)
				byType[relType] = j
				chunk = append(chunk, graph.EdgeBatch{
					SourceLabel: rd.SourceLabel, SourceKey: rd.SourceKey,
					TargetLabel: rd.TargetLabel, TargetKey: rd.TargetKey,
					Type: relType,
				})
			}
			chunk[j].Pairs = append(chunk[j].Pairs, graph.EndpointPair{Source: row[0], Target: row[1]})
		}
		batches = append(batches, chunk...)
	}
	return batches, skipped, nil
}

// relationshipType 静态类型直接使用，忽略类型列；派生类型必须在白名单内
func relationshipType(rd catalog.RelationshipDescriptor, row extract.Row, typeIdx, line int) (string, error) {
	if !rd.Derived() {
		return rd.RelationshipType, nil
	}
	var t string
	if typeIdx < len(row) {
		t, _ = row[typeIdx].(string)
	}
	if t == "" {
		return "", errs.Errorf(errs.KindData, "resolve", rd.SourceTable,
			"row %d has no relationship type in column %q", line, rd.TypeColumn)
	}
	if !rd.TypeAllowed(t) {
		return "", errs.Errorf(errs.KindData, "resolve", rd.SourceTable,
			"row %d: relationship type %q is not declared (allowed: %s)", line, t, strings.Join(rd.AllowedTypes, ", "))
	}
	return t, nil
}
