package transfer

import (
	"encoding/json"
	"fmt"
	"time"

	"graph-migrator/internal/errs"
)

// State 编排器状态
type State int

const (
	StateIdle State = iota
	StateNodesInProgress
	StateEdgesInProgress
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateNodesInProgress: "nodes_in_progress",
	StateEdgesInProgress: "edges_in_progress",
	StateDone:            "done",
	StateFailed:          "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText 以名称形式输出
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 从名称解析，用于读回 JSON 报告
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Phase 阶段
type Phase string

const (
	PhaseNodes Phase = "nodes"
	PhaseEdges Phase = "edges"
)

// Status 单个表的处理状态
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// TableResult 单个表的处理结果
type TableResult struct {
	Phase Phase  `json:"phase"`
	Table string `json:"table"`
	// Target 节点阶段为标签，关系阶段为关系名
	Target      string         `json:"target"`
	Status      Status         `json:"status"`
	Nodes       int            `json:"nodes,omitempty"`
	Edges       map[string]int `json:"edges,omitempty"`
	Created     map[string]int `json:"created,omitempty"`
	SkippedNull int            `json:"skipped_null,omitempty"`
	Attempts    int            `json:"attempts"`
	Duration    time.Duration  `json:"duration"`
	Error       *ReportError   `json:"error,omitempty"`
}

// ReportError 报告中的错误：类型、表名和消息
type ReportError struct {
	Kind    errs.Kind `json:"kind"`
	Table   string    `json:"table"`
	Message string    `json:"message"`
}

func (e ReportError) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Table, e.Message)
}

func newReportError(table string, err error) *ReportError {
	return &ReportError{Kind: errs.KindOf(err), Table: table, Message: err.Error()}
}

// Report 一次迁移的结果
type Report struct {
	RunID        string         `json:"run_id"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	State        State          `json:"state"`
	Cancelled    bool           `json:"cancelled,omitempty"`
	NodesWritten map[string]int `json:"nodes_written"` // 标签 -> 节点数
	EdgesWritten map[string]int `json:"edges_written"` // 关系类型 -> 合并的边数
	EdgesCreated map[string]int `json:"edges_created"` // 关系类型 -> 新建的边数
	Tables       []TableResult  `json:"tables"`
	Errors       []ReportError  `json:"errors"`
}

func newReport(runID string) *Report {
	return &Report{
		RunID:        runID,
		StartedAt:    time.Now(),
		State:        StateIdle,
		NodesWritten: make(map[string]int),
		EdgesWritten: make(map[string]int),
		EdgesCreated: make(map[string]int),
		Errors:       []ReportError{},
	}
}

// OK 运行完成且没有任何错误
func (r *Report) OK() bool {
	return r.State == StateDone && len(r.Errors) == 0
}

// Duration 总耗时
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedTables 失败的表
func (r *Report) FailedTables() []TableResult {
	var out []TableResult
	for _, t := range r.Tables {
		if t.Status == StatusFailed {
			out = append(out, t)
		}
	}
	return out
}

// JSON 输出带缩进的报告
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ParseReport 读回 JSON 报告
func ParseReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &r, nil
}
