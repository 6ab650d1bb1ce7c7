package config

import (
	"context"
	"os"
	"path/filepath"

	"graph-migrator/internal/adapter"
	"graph-migrator/internal/errs"
	"graph-migrator/internal/graph"
	"graph-migrator/internal/graph/badgersink"
	"graph-migrator/internal/graph/neo4jsink"

	"go.uber.org/zap"
)

// OpenSource 按配置创建关系数据源（只在每次读取时建立连接）
func (c *Config) OpenSource() (*adapter.SQLSource, error) {
	d, err := adapter.ParseDialect(c.Source.Driver)
	if err != nil {
		return nil, errs.New(errs.KindConfiguration, "open source", "", err)
	}
	return adapter.NewSource(d, c.Source.DSN), nil
}

// OpenAdapter 按配置打开结构元数据适配器
func (c *Config) OpenAdapter(ctx context.Context) (adapter.DBAdapter, error) {
	d, err := adapter.ParseDialect(c.Source.Driver)
	if err != nil {
		return nil, errs.New(errs.KindConfiguration, "open adapter", "", err)
	}
	a, err := adapter.Open(ctx, d, c.Source.DSN, c.Source.Schema)
	if err != nil {
		return nil, errs.New(errs.KindSourceUnavailable, "open adapter", "", err)
	}
	return a, nil
}

// OpenSink 按配置打开图存储
func (c *Config) OpenSink(ctx context.Context, logger *zap.Logger) (graph.Sink, error) {
	switch c.Sink.Kind {
	case SinkNeo4j:
		s, err := neo4jsink.New(ctx, neo4jsink.Options{
			URI:      c.Sink.Neo4j.URI,
			User:     c.Sink.Neo4j.User,
			Password: c.Sink.Neo4j.Password,
			Database: c.Sink.Neo4j.Database,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case SinkBadger:
		if err := os.MkdirAll(filepath.Clean(c.Sink.Badger.Dir), 0o755); err != nil {
			return nil, errs.New(errs.KindSinkUnavailable, "open", "", err)
		}
		s, err := badgersink.Open(badgersink.Options{
			Dir:        c.Sink.Badger.Dir,
			SyncWrites: c.Sink.Badger.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case SinkMemory:
		return graph.NewMemoryGraph(), nil
	}
	return nil, errs.Errorf(errs.KindConfiguration, "open sink", "", "unknown sink %q", c.Sink.Kind)
}
