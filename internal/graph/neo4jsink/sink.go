// Package neo4jsink 把节点和关系写入 Neo4j
package neo4jsink

import (
	"context"
	"fmt"
	"strings"

	"graph-migrator/internal/errs"
	"graph-migrator/internal/graph"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Options 连接配置
type Options struct {
	URI      string
	User     string
	Password string
	Database string
	Logger   *zap.Logger
}

// Sink Neo4j 图存储
type Sink struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// New 创建驱动并验证连通性
func New(ctx context.Context, opts Options) (*Sink, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.User, opts.Password, ""))
	if err != nil {
		return nil, errs.New(errs.KindConfiguration, "connect", "", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errs.New(errs.KindSinkUnavailable, "connect", "", err)
	}
	logger.Info("connected to neo4j", zap.String("uri", opts.URI), zap.String("database", opts.Database))
	return &Sink{driver: driver, database: opts.Database, logger: logger}, nil
}

func (s *Sink) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// ReplaceNodes 同一个写事务内 DETACH DELETE 旧节点并创建新批次
func (s *Sink) ReplaceNodes(ctx context.Context, label string, batch []graph.Properties) (int, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	rows := make([]map[string]any, len(batch))
	for i, p := range batch {
		rows[i] = p
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, deleteLabelQuery(label), nil)
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		res, err = tx.Run(ctx, createNodesQuery(label), map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return 0, errs.New(errs.KindSinkUnavailable, "replace", label, err)
	}
	return len(batch), nil
}

// MergeEdges 先检查端点是否齐全，再在同一事务内 MERGE 整批关系
func (s *Sink) MergeEdges(ctx context.Context, batch graph.EdgeBatch) (graph.MergeResult, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	pairs := make([]map[string]any, len(batch.Pairs))
	for i, p := range batch.Pairs {
		pairs[i] = map[string]any{"source": p.Source, "target": p.Target}
	}
	params := map[string]any{"pairs": pairs}

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, missingEndpointQuery(batch), params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			return nil, danglingError(batch, records[0])
		}

		res, err = tx.Run(ctx, mergeEdgesQuery(batch), params)
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return graph.MergeResult{
			Merged:  len(batch.Pairs),
			Created: summary.Counters().RelationshipsCreated(),
		}, nil
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindDanglingReference {
			return graph.MergeResult{}, err
		}
		return graph.MergeResult{}, errs.New(errs.KindSinkUnavailable, "merge", batch.Type, err)
	}
	return out.(graph.MergeResult), nil
}

func danglingError(batch graph.EdgeBatch, rec *neo4j.Record) error {
	source, _ := rec.Get("source")
	target, _ := rec.Get("target")
	missingSource, _ := rec.Get("missingSource")
	if b, ok := missingSource.(bool); ok && b {
		return errs.Errorf(errs.KindDanglingReference, "merge", "",
			"source endpoint %s not found", graph.Endpoint(batch.SourceLabel, batch.SourceKey, source))
	}
	return errs.Errorf(errs.KindDanglingReference, "merge", "",
		"target endpoint %s not found", graph.Endpoint(batch.TargetLabel, batch.TargetKey, target))
}

// EnsureIdentityIndex 为标签的标识属性建索引，关系合并按它查找端点
func (s *Sink) EnsureIdentityIndex(ctx context.Context, label, key string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, identityIndexQuery(label, key), nil)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return errs.New(errs.KindSinkUnavailable, "index", label, err)
	}
	s.logger.Debug("identity index ensured", zap.String("label", label), zap.String("key", key))
	return nil
}

// Stats 统计各标签节点数和各类型边数
func (s *Sink) Stats(ctx context.Context) (*graph.Stats, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	stats := graph.NewStats()
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := collectCounts(ctx, tx, nodeCountQuery, stats.Nodes); err != nil {
			return nil, err
		}
		return nil, collectCounts(ctx, tx, edgeCountQuery, stats.Edges)
	})
	if err != nil {
		return nil, errs.New(errs.KindSinkUnavailable, "stats", "", err)
	}
	return stats, nil
}

func collectCounts(ctx context.Context, tx neo4j.ManagedTransaction, query string, into map[string]int64) error {
	res, err := tx.Run(ctx, query, nil)
	if err != nil {
		return err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		name, _ := rec.Get("name")
		count, _ := rec.Get("count")
		n, _ := count.(int64)
		into[fmt.Sprint(name)] = n
	}
	return nil
}

// Close 关闭驱动
func (s *Sink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

const (
	nodeCountQuery = "MATCH (n) UNWIND labels(n) AS name RETURN name, count(*) AS count"
	edgeCountQuery = "MATCH ()-[r]->() RETURN type(r) AS name, count(*) AS count"
)

// quote 标签、关系类型、属性名在加载配置时已校验，这里只做反引号转义
func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func deleteLabelQuery(label string) string {
	return fmt.Sprintf("MATCH (n:%s) DETACH DELETE n", quote(label))
}

func createNodesQuery(label string) string {
	return fmt.Sprintf("UNWIND $rows AS row CREATE (n:%s) SET n = row", quote(label))
}

func endpointPatterns(b graph.EdgeBatch) (string, string) {
	return fmt.Sprintf("(a:%s {%s: pair.source})", quote(b.SourceLabel), quote(b.SourceKey)),
		fmt.Sprintf("(b:%s {%s: pair.target})", quote(b.TargetLabel), quote(b.TargetKey))
}

func missingEndpointQuery(b graph.EdgeBatch) string {
	src, dst := endpointPatterns(b)
	return "UNWIND $pairs AS pair\n" +
		"OPTIONAL MATCH " + src + "\n" +
		"OPTIONAL MATCH " + dst + "\n" +
		"WITH pair, a, b WHERE a IS NULL OR b IS NULL\n" +
		"RETURN pair.source AS source, pair.target AS target, a IS NULL AS missingSource\n" +
		"LIMIT 1"
}

func mergeEdgesQuery(b graph.EdgeBatch) string {
	src, dst := endpointPatterns(b)
	return "UNWIND $pairs AS pair\n" +
		"MATCH " + src + "\n" +
		"MATCH " + dst + "\n" +
		fmt.Sprintf("MERGE (a)-[:%s]->(b)", quote(b.Type))
}

func identityIndexQuery(label, key string) string {
	name := fmt.Sprintf("migrator_%s_%s", label, key)
	return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)", quote(name), quote(label), quote(key))
}
