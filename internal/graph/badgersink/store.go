// Package badgersink 基于 BadgerDB 的嵌入式图存储
//
// 键结构：
//   - 节点:     0x01 + nodeID                 -> msgpack(StoredNode)
//   - 边:       0x02 + edgeID                 -> msgpack(StoredEdge)
//   - 标签索引: 0x03 + label + 0x00 + nodeID  -> 空
//   - 出边索引: 0x04 + nodeID + 0x00 + edgeID -> 空
//   - 入边索引: 0x05 + nodeID + 0x00 + edgeID -> 空
//
// edgeID 由两端节点ID和关系类型决定，所以同一对节点、同一类型最多一条边。
package badgersink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"graph-migrator/internal/errs"
	"graph-migrator/internal/graph"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	prefixNode       = byte(0x01)
	prefixEdge       = byte(0x02)
	prefixLabelIndex = byte(0x03)
	prefixOutgoing   = byte(0x04)
	prefixIncoming   = byte(0x05)
)

// Options 存储配置
type Options struct {
	Dir        string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger
}

// Store Badger 图存储
//
// 替换一个标签时要删除相连的边，也就会改写其他标签节点上的邻接索引，
// 所以写操作在存储内串行执行，不同标签的并发写入不会产生事务冲突。
type Store struct {
	db     *badger.DB
	logger *zap.Logger

	writeMu sync.Mutex

	// 测试用：强制走分块替换，并在写入前注入故障
	forceChunked bool
	beforeInsert func() error
}

// Open 打开存储
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bopts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(&badgerLogger{logger.Sugar()})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errs.New(errs.KindSinkUnavailable, "open", "", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory 内存模式，测试用
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// ReplaceNodes 在一个事务内删除标签下所有节点及其边并写入新批次
//
// 批次超过单事务上限时退化为分块执行；此时删除已提交而写入失败，
// 返回 PartialReplaceFailure。
func (s *Store) ReplaceNodes(ctx context.Context, label string, batch []graph.Properties) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.New(errs.KindSinkUnavailable, "replace", label, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.forceChunked {
		err := s.db.Update(func(txn *badger.Txn) error {
			ids, err := labelNodeIDs(txn, label)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := deleteNode(txn, label, id); err != nil {
					return err
				}
			}
			for _, props := range batch {
				if err := insertNode(txn, label, props); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			return len(batch), nil
		}
		if !errors.Is(err, badger.ErrTxnTooBig) {
			return 0, errs.New(errs.KindSinkUnavailable, "replace", label, err)
		}
		s.logger.Warn("replace batch exceeds one transaction, falling back to chunked replace",
			zap.String("label", label), zap.Int("nodes", len(batch)))
	}
	return s.replaceChunked(ctx, label, batch)
}

func (s *Store) replaceChunked(ctx context.Context, label string, batch []graph.Properties) (int, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ids, err = labelNodeIDs(txn, label)
		return err
	})
	if err != nil {
		return 0, errs.New(errs.KindSinkUnavailable, "replace", label, err)
	}

	w := &chunkWriter{db: s.db}
	for _, id := range ids {
		if err := w.do(func(txn *badger.Txn) error { return deleteNode(txn, label, id) }); err != nil {
			return 0, s.replaceFailure(label, w.committed, err)
		}
	}
	if err := w.flush(); err != nil {
		return 0, s.replaceFailure(label, w.committed, err)
	}
	deleted := w.committed

	if s.beforeInsert != nil {
		if err := s.beforeInsert(); err != nil {
			return 0, s.replaceFailure(label, deleted, err)
		}
	}

	w = &chunkWriter{db: s.db}
	for _, props := range batch {
		if err := w.do(func(txn *badger.Txn) error { return insertNode(txn, label, props) }); err != nil {
			return 0, s.replaceFailure(label, deleted, err)
		}
	}
	if err := w.flush(); err != nil {
		return 0, s.replaceFailure(label, deleted, err)
	}
	return len(batch), nil
}

func (s *Store) replaceFailure(label string, deleted bool, err error) error {
	if deleted {
		return errs.New(errs.KindPartialReplace, "replace", label, err)
	}
	return errs.New(errs.KindSinkUnavailable, "replace", label, err)
}

// MergeEdges 按值匹配端点，边不存在时创建；整批在一个事务内
func (s *Store) MergeEdges(ctx context.Context, batch graph.EdgeBatch) (graph.MergeResult, error) {
	var res graph.MergeResult
	if err := ctx.Err(); err != nil {
		return res, errs.New(errs.KindSinkUnavailable, "merge", batch.Type, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		res = graph.MergeResult{}
		sources, err := identityIndex(txn, batch.SourceLabel, batch.SourceKey)
		if err != nil {
			return err
		}
		targets := sources
		if batch.TargetLabel != batch.SourceLabel || batch.TargetKey != batch.SourceKey {
			if targets, err = identityIndex(txn, batch.TargetLabel, batch.TargetKey); err != nil {
				return err
			}
		}

		for _, p := range batch.Pairs {
			from, ok := sources[graph.ValueKey(p.Source)]
			if !ok {
				return errs.Errorf(errs.KindDanglingReference, "merge", "",
					"source endpoint %s not found", graph.Endpoint(batch.SourceLabel, batch.SourceKey, p.Source))
			}
			to, ok := targets[graph.ValueKey(p.Target)]
			if !ok {
				return errs.Errorf(errs.KindDanglingReference, "merge", "",
					"target endpoint %s not found", graph.Endpoint(batch.TargetLabel, batch.TargetKey, p.Target))
			}

			id := graph.EdgeID(from, batch.Type, to)
			res.Merged++
			if _, err := txn.Get(edgeKey(id)); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			data, err := msgpack.Marshal(&graph.StoredEdge{ID: id, Type: batch.Type, From: from, To: to})
			if err != nil {
				return err
			}
			if err := txn.Set(edgeKey(id), data); err != nil {
				return err
			}
			if err := txn.Set(indexKey(prefixOutgoing, from, id), nil); err != nil {
				return err
			}
			if err := txn.Set(indexKey(prefixIncoming, to, id), nil); err != nil {
				return err
			}
			res.Created++
		}
		return nil
	})
	if err != nil {
		var typed *errs.Error
		if errors.As(err, &typed) {
			return graph.MergeResult{}, err
		}
		return graph.MergeResult{}, errs.New(errs.KindSinkUnavailable, "merge", batch.Type, err)
	}
	return res, nil
}

// Stats 统计各标签节点数和各类型边数
func (s *Store) Stats(ctx context.Context) (*graph.Stats, error) {
	stats := graph.NewStats()
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixLabelIndex}
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()[1:]
			if i := bytes.IndexByte(key, 0x00); i >= 0 {
				stats.Nodes[string(key[:i])]++
			}
		}
		it.Close()

		opts = badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixEdge}
		it = txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e graph.StoredEdge
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			stats.Edges[e.Type]++
		}
		return nil
	})
	if err != nil {
		return nil, errs.New(errs.KindSinkUnavailable, "stats", "", err)
	}
	return stats, nil
}

// NodesByLabel 读取标签下全部节点属性
func (s *Store) NodesByLabel(ctx context.Context, label string) ([]graph.Properties, error) {
	var out []graph.Properties
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := labelNodeIDs(txn, label)
		if err != nil {
			return err
		}
		for _, id := range ids {
			n, err := getNode(txn, id)
			if err != nil {
				return err
			}
			out = append(out, n.Properties)
		}
		return nil
	})
	return out, err
}

// Close 关闭数据库
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

func insertNode(txn *badger.Txn, label string, props graph.Properties) error {
	id := uuid.NewString()
	data, err := msgpack.Marshal(&graph.StoredNode{ID: id, Label: label, Properties: props})
	if err != nil {
		return fmt.Errorf("encode node: %w", err)
	}
	if err := txn.Set(nodeKey(id), data); err != nil {
		return err
	}
	return txn.Set(labelKey(label, id), nil)
}

// deleteNode 删除节点、标签索引以及所有相连的边
//
// 每条边先删两端的邻接索引，最后删边本身。分块替换时一次删除可能只提交了一部分，
// 重做时边记录还在就能找到另一端的索引；边记录已不在时只剩本节点上的索引，直接删掉。
func deleteNode(txn *badger.Txn, label, id string) error {
	edgeIDs := make(map[string]bool)
	for _, prefix := range [][]byte{indexPrefix(prefixOutgoing, id), indexPrefix(prefixIncoming, id)} {
		keys, err := keysWithPrefix(txn, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			edgeIDs[string(k[len(prefix):])] = true
		}
	}
	for edgeID := range edgeIDs {
		keys := [][]byte{indexKey(prefixOutgoing, id, edgeID), indexKey(prefixIncoming, id, edgeID)}
		item, err := txn.Get(edgeKey(edgeID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var e graph.StoredEdge
			if err := item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &e) }); err != nil {
				return err
			}
			keys = append(keys, indexKey(prefixOutgoing, e.From, edgeID), indexKey(prefixIncoming, e.To, edgeID), edgeKey(edgeID))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
	}
	if err := txn.Delete(nodeKey(id)); err != nil {
		return err
	}
	return txn.Delete(labelKey(label, id))
}

func getNode(txn *badger.Txn, id string) (*graph.StoredNode, error) {
	item, err := txn.Get(nodeKey(id))
	if err != nil {
		return nil, err
	}
	var n graph.StoredNode
	err = item.Value(func(val []byte) error {
		dec := msgpack.NewDecoder(bytes.NewReader(val))
		dec.UseLooseInterfaceDecoding(true)
		return dec.Decode(&n)
	})
	return &n, err
}

// identityIndex 标签下 标识值 -> 节点ID
func identityIndex(txn *badger.Txn, label, key string) (map[any]string, error) {
	ids, err := labelNodeIDs(txn, label)
	if err != nil {
		return nil, err
	}
	idx := make(map[any]string, len(ids))
	for _, id := range ids {
		n, err := getNode(txn, id)
		if err != nil {
			return nil, err
		}
		if v, ok := n.Properties[key]; ok {
			idx[graph.ValueKey(v)] = id
		}
	}
	return idx, nil
}

func labelNodeIDs(txn *badger.Txn, label string) ([]string, error) {
	prefix := labelPrefix(label)
	keys, err := keysWithPrefix(txn, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = string(k[len(prefix):])
	}
	return ids, nil
}

func keysWithPrefix(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

func nodeKey(id string) []byte {
	return append([]byte{prefixNode}, id...)
}

func edgeKey(id string) []byte {
	return append([]byte{prefixEdge}, id...)
}

func labelPrefix(label string) []byte {
	key := make([]byte, 0, len(label)+2)
	key = append(key, prefixLabelIndex)
	key = append(key, label...)
	return append(key, 0x00)
}

func labelKey(label, id string) []byte {
	return append(labelPrefix(label), id...)
}

func indexPrefix(prefix byte, nodeID string) []byte {
	key := make([]byte, 0, len(nodeID)+2)
	key = append(key, prefix)
	key = append(key, nodeID...)
	return append(key, 0x00)
}

func indexKey(prefix byte, nodeID, edgeID string) []byte {
	return append(indexPrefix(prefix, nodeID), edgeID...)
}

// chunkWriter 事务过大时提交并开启新事务继续
type chunkWriter struct {
	db        *badger.DB
	txn       *badger.Txn
	committed bool
}

func (w *chunkWriter) do(op func(txn *badger.Txn) error) error {
	if w.txn == nil {
		w.txn = w.db.NewTransaction(true)
	}
	err := op(w.txn)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := w.commit(); err != nil {
		return err
	}
	w.txn = w.db.NewTransaction(true)
	return op(w.txn)
}

func (w *chunkWriter) flush() error {
	if w.txn == nil {
		return nil
	}
	return w.commit()
}

func (w *chunkWriter) commit() error {
	err := w.txn.Commit()
	w.txn = nil
	if err != nil {
		return err
	}
	w.committed = true
	return nil
}

// badgerLogger 把 badger 日志接到 zap
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
