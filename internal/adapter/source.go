package adapter

import (
	"context"
	"database/sql"
)

// Conn 单次操作使用的连接句柄，用完必须 Close
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
}

// Source 关系数据源
//
// 每次 Connect 都建立新连接，不在整个迁移过程中复用：
// 大表读取之间可能有很长的空闲，长连接会被服务端断开。
type Source interface {
	Dialect() Dialect
	Connect(ctx context.Context) (Conn, error)
}

// SQLSource 基于 database/sql 的数据源
type SQLSource struct {
	dialect Dialect
	open    func() (*sql.DB, error)
}

// NewSource 用 DSN 创建数据源
func NewSource(d Dialect, dsn string) *SQLSource {
	return &SQLSource{
		dialect: d,
		open: func() (*sql.DB, error) {
			return sql.Open(d.DriverName(), dsn)
		},
	}
}

// NewSourceFunc 用自定义的打开函数创建数据源
func NewSourceFunc(d Dialect, open func() (*sql.DB, error)) *SQLSource {
	return &SQLSource{dialect: d, open: open}
}

// Dialect 返回方言
func (s *SQLSource) Dialect() Dialect {
	return s.dialect
}

// Connect 打开并验证一个单连接的句柄
func (s *SQLSource) Connect(ctx context.Context) (Conn, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &dbConn{db: db}, nil
}

type dbConn struct {
	db *sql.DB
}

func (c *dbConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c *dbConn) Close() error {
	return c.db.Close()
}
