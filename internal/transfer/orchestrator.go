package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"graph-migrator/internal/catalog"
	"graph-migrator/internal/errs"
	"graph-migrator/internal/graph"
	"graph-migrator/internal/mapping"
	"graph-migrator/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrRunning 已有迁移在运行
var ErrRunning = errors.New("transfer already running")

// Options 编排参数
type Options struct {
	// Workers 每个阶段内并行处理的表数，受图存储写并发能力限制
	Workers int
	// CallTimeout 单次读取或写入的上限
	CallTimeout time.Duration
	// MaxRetries 可重试错误的最大重试次数，0 表示不重试
	MaxRetries   uint64
	RetryInitial time.Duration
	RetryMax     time.Duration
	ChunkSize    int
	Logger       *zap.Logger
	// OnEvent 进度回调，会被多个 goroutine 同时调用
	OnEvent func(Event)
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Workers:      4,
		CallTimeout:  5 * time.Minute,
		MaxRetries:   3,
		RetryInitial: 500 * time.Millisecond,
		RetryMax:     30 * time.Second,
		ChunkSize:    DefaultChunkSize,
	}
}

// EventType 事件类型
type EventType string

const (
	EventState        EventType = "state"
	EventPassStarted  EventType = "pass_started"
	EventPassFinished EventType = "pass_finished"
)

// Event 进度事件
type Event struct {
	RunID  string       `json:"run_id"`
	Type   EventType    `json:"type"`
	State  State        `json:"state"`
	Phase  Phase        `json:"phase,omitempty"`
	Table  string       `json:"table,omitempty"`
	Target string       `json:"target,omitempty"`
	Result *TableResult `json:"result,omitempty"`
	Time   time.Time    `json:"time"`
}

// Orchestrator 两阶段迁移编排：先物化全部节点，再物化全部关系
type Orchestrator struct {
	cat    *catalog.Catalog
	sink   graph.Sink
	nodes  *NodeMaterializer
	edges  *EdgeMaterializer
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	running bool
}

// New 创建编排器
func New(cat *catalog.Catalog, fetcher Fetcher, sink graph.Sink, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = def.RetryMax
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		cat:    cat,
		sink:   sink,
		nodes:  NewNodeMaterializer(fetcher, mapping.New(cat.Mapping()), sink, opts.CallTimeout, opts.Logger),
		edges:  NewEdgeMaterializer(fetcher, sink, opts.CallTimeout, opts.ChunkSize, opts.Logger),
		opts:   opts,
		logger: opts.Logger,
	}
}

// State 当前状态
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// run 单次迁移的可变状态
type run struct {
	mu           sync.Mutex
	report       *Report
	failedLabels map[string]bool
	fatal        error
}

func (r *run) stopped(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal != nil {
		return r.fatal
	}
	return ctx.Err()
}

// Run 执行一次完整迁移
//
// 单表失败不影响同阶段的其他表，记录在报告中；悬空引用说明顺序或数据有问题，
// 会停止派发并以 Failed 结束。ctx 取消后不再派发新的表，已在处理的表会完成。
// 返回的 error 仅在运行被拒绝、取消或以 Failed 结束时非空。
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrRunning
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	entities := o.cat.Entities()
	rels := o.cat.Relationships()
	r := &run{
		report:       newReport(uuid.NewString()),
		failedLabels: make(map[string]bool),
	}
	r.report.Tables = make([]TableResult, len(entities)+len(rels))

	log := o.logger.With(zap.String("run_id", r.report.RunID))
	log.Info("transfer started", zap.Int("entities", len(entities)), zap.Int("relationships", len(rels)))
	o.setState(r, StateIdle)

	o.setState(r, StateNodesInProgress)
	o.dispatch(ctx, r, len(entities), func(passCtx context.Context, i int) {
		o.nodePass(ctx, passCtx, r, i, entities[i])
	}, func(i int) {
		r.report.Tables[i] = TableResult{Phase: PhaseNodes, Table: entities[i].SourceTable, Target: entities[i].TargetLabel, Status: StatusSkipped}
	})

	if err := ctx.Err(); err != nil {
		for j, rd := range rels {
			r.report.Tables[len(entities)+j] = TableResult{Phase: PhaseEdges, Table: rd.SourceTable, Target: rd.Name(), Status: StatusSkipped}
		}
		return o.finish(r, log, err)
	}

	o.setState(r, StateEdgesInProgress)
	o.ensureIndexes(context.WithoutCancel(ctx), rels)
	o.dispatch(ctx, r, len(rels), func(passCtx context.Context, j int) {
		o.edgePass(ctx, passCtx, r, len(entities)+j, rels[j])
	}, func(j int) {
		r.report.Tables[len(entities)+j] = TableResult{Phase: PhaseEdges, Table: rels[j].SourceTable, Target: rels[j].Name(), Status: StatusSkipped}
	})

	if err := r.stopped(ctx); err != nil {
		return o.finish(r, log, err)
	}
	return o.finish(r, log, nil)
}

// dispatch 按声明顺序把表交给有界的工作池，Wait 即阶段屏障
//
// 已派发的表使用不随 ctx 取消的上下文，保证不会在删除和写入之间被打断；
// 单次调用仍受 CallTimeout 限制。
func (o *Orchestrator) dispatch(ctx context.Context, r *run, n int, pass func(passCtx context.Context, i int), skip func(i int)) {
	passCtx := context.WithoutCancel(ctx)
	eg := new(errgroup.Group)
	eg.SetLimit(o.opts.Workers)
	skipped := func(i int) bool {
		if r.stopped(ctx) == nil {
			return false
		}
		r.mu.Lock()
		skip(i)
		r.mu.Unlock()
		return true
	}
	for i := 0; i < n; i++ {
		if skipped(i) {
			continue
		}
		i := i
		eg.Go(func() error {
			// 排队期间可能已被取消
			if !skipped(i) {
				pass(passCtx, i)
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func (o *Orchestrator) nodePass(ctx, passCtx context.Context, r *run, slot int, td catalog.TableDescriptor) {
	res := TableResult{Phase: PhaseNodes, Table: td.SourceTable, Target: td.TargetLabel}
	o.emit(r, Event{Type: EventPassStarted, Phase: PhaseNodes, Table: td.SourceTable, Target: td.TargetLabel})

	start := time.Now()
	var written int
	attempts, err := o.retry(ctx, td.SourceTable, func() error {
		n, err := o.nodes.MaterializeLabel(passCtx, td)
		written = n
		return err
	})
	res.Attempts = attempts
	res.Duration = time.Since(start)
	metrics.PassDuration.WithLabelValues(string(PhaseNodes)).Observe(res.Duration.Seconds())

	r.mu.Lock()
	if err != nil {
		res.Status = StatusFailed
		res.Error = newReportError(td.SourceTable, err)
		r.report.Errors = append(r.report.Errors, *res.Error)
		r.failedLabels[td.TargetLabel] = true
		metrics.PassFailures.WithLabelValues(string(PhaseNodes), errs.KindOf(err).String()).Inc()
		o.logger.Error("node pass failed",
			zap.String("table", td.SourceTable),
			zap.String("label", td.TargetLabel),
			zap.Stringer("kind", errs.KindOf(err)),
			zap.Error(err))
	} else {
		res.Status = StatusOK
		res.Nodes = written
		r.report.NodesWritten[td.TargetLabel] = written
		metrics.NodesWritten.WithLabelValues(td.TargetLabel).Add(float64(written))
		o.logger.Info("label materialized",
			zap.String("label", td.TargetLabel),
			zap.Int("nodes", written),
			zap.Duration("elapsed", res.Duration))
	}
	r.report.Tables[slot] = res
	r.mu.Unlock()

	o.emit(r, Event{Type: EventPassFinished, Phase: PhaseNodes, Table: td.SourceTable, Target: td.TargetLabel, Result: &res})
}

func (o *Orchestrator) edgePass(ctx, passCtx context.Context, r *run, slot int, rd catalog.RelationshipDescriptor) {
	res := TableResult{Phase: PhaseEdges, Table: rd.SourceTable, Target: rd.Name()}

	r.mu.Lock()
	var missing string
	for _, l := range []string{rd.SourceLabel, rd.TargetLabel} {
		if r.failedLabels[l] {
			missing = l
			break
		}
	}
	if missing != "" {
		err := errs.Errorf(errs.KindDependencyFailed, "dispatch", rd.SourceTable, "node pass for label %s failed", missing)
		res.Status = StatusSkipped
		res.Error = newReportError(rd.SourceTable, err)
		r.report.Errors = append(r.report.Errors, *res.Error)
		r.report.Tables[slot] = res
		r.mu.Unlock()
		metrics.PassFailures.WithLabelValues(string(PhaseEdges), errs.KindDependencyFailed.String()).Inc()
		o.logger.Warn("relationship skipped", zap.String("relationship", rd.Name()), zap.Error(err))
		o.emit(r, Event{Type: EventPassFinished, Phase: PhaseEdges, Table: rd.SourceTable, Target: rd.Name(), Result: &res})
		return
	}
	r.mu.Unlock()

	o.emit(r, Event{Type: EventPassStarted, Phase: PhaseEdges, Table: rd.SourceTable, Target: rd.Name()})
	start := time.Now()
	var out EdgeResult
	attempts, err := o.retry(ctx, rd.SourceTable, func() error {
		er, err := o.edges.MaterializeRelationship(passCtx, rd)
		out = er
		return err
	})
	res.Attempts = attempts
	res.Duration = time.Since(start)
	metrics.PassDuration.WithLabelValues(string(PhaseEdges)).Observe(res.Duration.Seconds())

	r.mu.Lock()
	if err != nil {
		res.Status = StatusFailed
		res.Error = newReportError(rd.SourceTable, err)
		r.report.Errors = append(r.report.Errors, *res.Error)
		if errs.KindOf(err) == errs.KindDanglingReference && r.fatal == nil {
			r.fatal = err
		}
		metrics.PassFailures.WithLabelValues(string(PhaseEdges), errs.KindOf(err).String()).Inc()
		o.logger.Error("relationship pass failed",
			zap.String("relationship", rd.Name()),
			zap.Stringer("kind", errs.KindOf(err)),
			zap.Error(err))
	} else {
		res.Status = StatusOK
		res.SkippedNull = out.SkippedNull
		res.Edges = make(map[string]int, len(out.ByType))
		res.Created = make(map[string]int, len(out.ByType))
		for t, m := range out.ByType {
			res.Edges[t] = m.Merged
			res.Created[t] = m.Created
			r.report.EdgesWritten[t] += m.Merged
			r.report.EdgesCreated[t] += m.Created
			metrics.EdgesMerged.WithLabelValues(t).Add(float64(m.Merged))
			metrics.EdgesCreated.WithLabelValues(t).Add(float64(m.Created))
		}
		total := out.Total()
		o.logger.Info("relationship materialized",
			zap.String("relationship", rd.Name()),
			zap.Int("merged", total.Merged),
			zap.Int("created", total.Created),
			zap.Int("skipped_null", out.SkippedNull),
			zap.Duration("elapsed", res.Duration))
	}
	r.report.Tables[slot] = res
	r.mu.Unlock()

	o.emit(r, Event{Type: EventPassFinished, Phase: PhaseEdges, Table: rd.SourceTable, Target: rd.Name(), Result: &res})
}

// retry 可重试错误按指数退避重试；ctx 取消后不再发起新的尝试
func (o *Orchestrator) retry(ctx context.Context, table string, op func() error) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.RetryInitial
	b.MaxInterval = o.opts.RetryMax
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, o.opts.MaxRetries), ctx)

	attempts := 0
	var last error
	err := backoff.RetryNotify(func() error {
		attempts++
		last = op()
		if last != nil && !errs.KindOf(last).Retryable() {
			return backoff.Permanent(last)
		}
		return last
	}, policy, func(err error, wait time.Duration) {
		o.logger.Warn("pass failed, retrying",
			zap.String("table", table),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil && last != nil {
		err = last
	}
	return attempts, err
}

// ensureIndexes 为关系端点用到的标识属性建索引，失败只记录日志
func (o *Orchestrator) ensureIndexes(ctx context.Context, rels []catalog.RelationshipDescriptor) {
	idx, ok := o.sink.(graph.Indexer)
	if !ok {
		return
	}
	seen := make(map[[2]string]bool)
	for _, rd := range rels {
		for _, k := range [][2]string{{rd.SourceLabel, rd.SourceKey}, {rd.TargetLabel, rd.TargetKey}} {
			if seen[k] {
				continue
			}
			seen[k] = true
			ictx, cancel := withTimeout(ctx, o.opts.CallTimeout)
			if err := idx.EnsureIdentityIndex(ictx, k[0], k[1]); err != nil {
				o.logger.Warn("identity index not created", zap.String("label", k[0]), zap.String("key", k[1]), zap.Error(err))
			}
			cancel()
		}
	}
}

func (o *Orchestrator) finish(r *run, log *zap.Logger, err error) (*Report, error) {
	state := StateDone
	if err != nil {
		state = StateFailed
	}
	r.mu.Lock()
	if err != nil && r.fatal == nil {
		r.report.Cancelled = true
	}
	r.report.FinishedAt = time.Now()
	r.mu.Unlock()
	o.setState(r, state)
	metrics.Runs.WithLabelValues(state.String()).Inc()

	log.Info("transfer finished",
		zap.Stringer("state", state),
		zap.Int("errors", len(r.report.Errors)),
		zap.Bool("cancelled", r.report.Cancelled),
		zap.Duration("elapsed", r.report.Duration()))
	return r.report, err
}

func (o *Orchestrator) setState(r *run, s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	r.mu.Lock()
	r.report.State = s
	r.mu.Unlock()
	o.emit(r, Event{Type: EventState})
}

func (o *Orchestrator) emit(r *run, e Event) {
	if o.opts.OnEvent == nil {
		return
	}
	r.mu.Lock()
	e.RunID = r.report.RunID
	e.State = r.report.State
	r.mu.Unlock()
	e.Time = time.Now()
	o.opts.OnEvent(e)
}
