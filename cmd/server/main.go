package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"graph-migrator/internal/catalog"
	"graph-migrator/internal/config"
	"graph-migrator/internal/extract"
	"graph-migrator/internal/graph"
	"graph-migrator/internal/transfer"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域
	},
}

// 任务状态
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// TransferTask 迁移任务
type TransferTask struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	Progress  int              `json:"progress"` // 0-100
	Message   string           `json:"message"`
	State     transfer.State   `json:"state"`
	Report    *transfer.Report `json:"report,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`

	cancel   context.CancelFunc
	finished int
	total    int
}

func (t *TransferTask) done() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// server 每次只允许一个迁移任务运行
type server struct {
	cat     *catalog.Catalog
	fetcher transfer.Fetcher
	sink    graph.Sink
	opts    transfer.Options
	logger  *zap.Logger

	// baseCtx 服务关闭时取消所有任务
	baseCtx context.Context

	tasksMu sync.RWMutex
	tasks   map[string]*TransferTask
	running string
}

func newServer(ctx context.Context, cat *catalog.Catalog, fetcher transfer.Fetcher, sink graph.Sink, opts transfer.Options) *server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &server{
		cat:     cat,
		fetcher: fetcher,
		sink:    sink,
		opts:    opts,
		logger:  opts.Logger,
		baseCtx: ctx,
		tasks:   make(map[string]*TransferTask),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transfer", s.handleTransfer)
	mux.HandleFunc("/api/task/", s.handleTask)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func main() {
	cfg, err := config.Load(os.Getenv("MIGRATOR_CONFIG"))
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		logger.Fatal("loading catalog failed", zap.Error(err))
	}
	source, err := cfg.OpenSource()
	if err != nil {
		logger.Fatal("opening source failed", zap.Error(err))
	}
	sink, err := cfg.OpenSink(ctx, logger)
	if err != nil {
		logger.Fatal("opening sink failed", zap.Error(err))
	}
	defer sink.Close(context.Background())

	s := newServer(ctx, cat, extract.New(source, cfg.Transfer.CallTimeout, logger), sink, cfg.TransferOptions(logger))
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: s.routes()}

	fmt.Printf("🚀 Graph Migrator Server\n")
	fmt.Printf("📡 服务地址: http://localhost%s\n", cfg.Server.Addr)
	fmt.Printf("📊 POST /api/transfer 开始迁移，/metrics 查看指标\n\n")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", zap.Error(err))
	}
	s.wait()
}

// handleTransfer 创建迁移任务
func (s *server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.tasksMu.Lock()
	if s.running != "" {
		running := s.running
		s.tasksMu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   transfer.ErrRunning.Error(),
			"task_id": running,
		})
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	now := time.Now()
	task := &TransferTask{
		ID:        uuid.NewString(),
		Status:    TaskPending,
		Message:   "任务已创建，等待执行...",
		CreatedAt: now,
		UpdatedAt: now,
		cancel:    cancel,
		total:     len(s.cat.Entities()) + len(s.cat.Relationships()),
	}
	s.tasks[task.ID] = task
	s.running = task.ID
	s.tasksMu.Unlock()

	// 异步执行迁移
	go s.runTransfer(ctx, task)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": task.ID,
		"status":  TaskPending,
	})
}

// handleTask GET 查询任务状态，DELETE 取消任务
func (s *server) handleTask(w http.ResponseWriter, r *http.Request) {
	taskID := filepath.Base(r.URL.Path)

	switch r.Method {
	case http.MethodGet:
		task, ok := s.snapshot(taskID)
		if !ok {
			http.Error(w, "Task not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		s.tasksMu.Lock()
		task, ok := s.tasks[taskID]
		if ok && !task.done() {
			task.cancel()
			task.Message = "正在取消，等待进行中的表完成..."
			task.UpdatedAt = time.Now()
		}
		s.tasksMu.Unlock()
		if !ok {
			http.Error(w, "Task not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWebSocket 持续推送任务状态直到任务结束
func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if _, ok := s.snapshot(taskID); !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		task, ok := s.snapshot(taskID)
		if !ok {
			return
		}
		if err := conn.WriteJSON(task); err != nil {
			return
		}
		if task.done() {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, task.Status))
			return
		}
		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}

// handleStats 图存储统计
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	inspector, ok := s.sink.(graph.Inspector)
	if !ok {
		http.Error(w, "sink does not support statistics", http.StatusNotImplemented)
		return
	}
	stats, err := inspector.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// runTransfer 执行迁移
func (s *server) runTransfer(ctx context.Context, task *TransferTask) {
	defer task.cancel()

	opts := s.opts
	opts.OnEvent = func(e transfer.Event) { s.onEvent(task, e) }
	orch := transfer.New(s.cat, s.fetcher, s.sink, opts)

	s.updateTask(task, func(t *TransferTask) {
		t.Status = TaskRunning
		t.Message = "正在物化节点..."
	})

	report, err := orch.Run(ctx)

	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	task.Report = report
	task.UpdatedAt = time.Now()
	if report != nil {
		task.State = report.State
	}
	switch {
	case err != nil:
		task.Status = TaskFailed
		task.Message = fmt.Sprintf("迁移失败: %v", err)
	case !report.OK():
		task.Status = TaskFailed
		task.Message = fmt.Sprintf("迁移完成，%d 个表失败", len(report.FailedTables()))
	default:
		task.Status = TaskCompleted
		task.Progress = 100
		task.Message = "迁移完成"
	}
	if s.running == task.ID {
		s.running = ""
	}
	s.logger.Info("transfer task finished", zap.String("task", task.ID), zap.String("status", task.Status))
}

func (s *server) onEvent(task *TransferTask, e transfer.Event) {
	s.updateTask(task, func(t *TransferTask) {
		t.State = e.State
		switch e.Type {
		case transfer.EventState:
			if e.State == transfer.StateEdgesInProgress {
				t.Message = "正在合并关系..."
			}
		case transfer.EventPassStarted:
			t.Message = fmt.Sprintf("处理 %s (%s)...", e.Target, e.Table)
		case transfer.EventPassFinished:
			t.finished++
			if t.total > 0 {
				t.Progress = t.finished * 100 / t.total
			}
		}
	})
}

func (s *server) updateTask(task *TransferTask, update func(t *TransferTask)) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	update(task)
	task.UpdatedAt = time.Now()
}

// snapshot 在锁内复制任务，编码时不再持锁
func (s *server) snapshot(id string) (TransferTask, bool) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return TransferTask{}, false
	}
	return *task, true
}

// wait 等待正在运行的任务结束
func (s *server) wait() {
	for {
		s.tasksMu.RLock()
		running := s.running
		s.tasksMu.RUnlock()
		if running == "" {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
