// Package extract 从关系数据源按列投影读取整表
package extract

import (
	"context"
	"time"

	"graph-migrator/internal/adapter"
	"graph-migrator/internal/errs"

	"go.uber.org/zap"
)

// Row 一行数据，顺序与请求的列一致
type Row []any

// Extractor 行读取器
type Extractor struct {
	source  adapter.Source
	timeout time.Duration
	logger  *zap.Logger
}

// New 创建读取器，timeout 为单次读取的上限（0 表示不限制）
func New(source adapter.Source, timeout time.Duration, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{source: source, timeout: timeout, logger: logger}
}

// FetchRows 读取 table 的 columns 投影
//
// 每次调用单独建立连接并在返回前关闭。连接失败返回 SourceUnavailable，
// 查询失败（表或列不存在、超时）返回 QueryError。这一层不重试。
func (e *Extractor) FetchRows(ctx context.Context, table string, columns []string) ([]Row, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := e.source.Connect(ctx)
	if err != nil {
		return nil, errs.New(errs.KindSourceUnavailable, "connect", table, err)
	}
	defer conn.Close()

	query := e.source.Dialect().SelectQuery(table, columns)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.New(errs.KindQuery, "fetch", table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.New(errs.KindQuery, "scan", table, err)
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindQuery, "fetch", table, err)
	}

	e.logger.Debug("rows fetched",
		zap.String("table", table),
		zap.Int("rows", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// CountRows 源表当前行数，错误分类与 FetchRows 相同
func (e *Extractor) CountRows(ctx context.Context, table string) (int64, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	conn, err := e.source.Connect(ctx)
	if err != nil {
		return 0, errs.New(errs.KindSourceUnavailable, "connect", table, err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, e.source.Dialect().CountQuery(table))
	if err != nil {
		return 0, errs.New(errs.KindQuery, "count", table, err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, errs.New(errs.KindQuery, "count", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, errs.New(errs.KindQuery, "count", table, err)
	}
	return n, nil
}

// normalize 驱动返回的 []byte 文本转成 string，便于比较和写入图
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Zip 把一行按列名组装成 map
func Zip(columns []string, row Row) map[string]any {
	m := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			m[col] = row[i]
		}
	}
	return m
}
