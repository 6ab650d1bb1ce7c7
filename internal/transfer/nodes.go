// Package transfer 关系数据到图的迁移：节点物化、关系物化和两阶段编排
package transfer

import (
	"context"
	"errors"
	"time"

	"graph-migrator/internal/catalog"
	"graph-migrator/internal/errs"
	"graph-migrator/internal/extract"
	"graph-migrator/internal/graph"
	"graph-migrator/internal/mapping"

	"go.uber.org/zap"
)

// Fetcher 按列投影读取整表
type Fetcher interface {
	FetchRows(ctx context.Context, table string, columns []string) ([]extract.Row, error)
}

// NodeMaterializer 用源表的当前内容整体替换一个标签的节点
type NodeMaterializer struct {
	fetcher Fetcher
	mapper  *mapping.Mapper
	sink    graph.Sink
	timeout time.Duration
	logger  *zap.Logger
}

// NewNodeMaterializer 创建节点物化器，timeout 限制单次写入
func NewNodeMaterializer(fetcher Fetcher, mapper *mapping.Mapper, sink graph.Sink, timeout time.Duration, logger *zap.Logger) *NodeMaterializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeMaterializer{fetcher: fetcher, mapper: mapper, sink: sink, timeout: timeout, logger: logger}
}

// MaterializeLabel 读取源表，映射每一行，替换标签下的全部节点
func (m *NodeMaterializer) MaterializeLabel(ctx context.Context, td catalog.TableDescriptor) (int, error) {
	rows, err := fetch(ctx, m.fetcher, m.timeout, td.SourceTable, td.Columns)
	if err != nil {
		return 0, err
	}

	batch, err := m.buildBatch(td, rows)
	if err != nil {
		return 0, err
	}

	wctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()
	n, err := m.sink.ReplaceNodes(wctx, td.TargetLabel, batch)
	if err != nil {
		return 0, errs.WithTable(err, td.SourceTable)
	}

	m.logger.Debug("label replaced",
		zap.String("label", td.TargetLabel),
		zap.String("table", td.SourceTable),
		zap.Int("nodes", n))
	return n, nil
}

// buildBatch 映射后去掉空值；标识属性必须存在且在批次内唯一
func (m *NodeMaterializer) buildBatch(td catalog.TableDescriptor, rows []extract.Row) ([]graph.Properties, error) {
	batch := make([]graph.Properties, 0, len(rows))
	seen := make(map[any]bool, len(rows))
	for i, row := range rows {
		mapped := m.mapper.MapRow(td.TargetLabel, extract.Zip(td.Columns, row))
		props := make(graph.Properties, len(mapped))
		for k, v := range mapped {
			if v != nil {
				props[k] = v
			}
		}

		id, ok := props[td.IdentityKey]
		if !ok {
			return nil, errs.Errorf(errs.KindData, "map", td.SourceTable,
				"row %d has no value for identity key %q", i+1, td.IdentityKey)
		}
		key := graph.ValueKey(id)
		if seen[key] {
			return nil, errs.Errorf(errs.KindData, "map", td.SourceTable,
				"duplicate identity %s", graph.Endpoint(td.TargetLabel, td.IdentityKey, id))
		}
		seen[key] = true
		batch = append(batch, props)
	}
	return batch, nil
}

// fetch 单次读取同样受 timeout 限制；未分类的超时按 QueryError 处理
func fetch(ctx context.Context, f Fetcher, timeout time.Duration, table string, columns []string) ([]extract.Row, error) {
	fctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	rows, err := f.FetchRows(fctx, table, columns)
	if err != nil && errs.KindOf(err) == errs.KindUnknown && errors.Is(err, context.DeadlineExceeded) {
		return nil, errs.New(errs.KindQuery, "fetch", table, err)
	}
	return rows, err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
