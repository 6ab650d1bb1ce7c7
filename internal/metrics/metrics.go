// Package metrics 迁移过程的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NodesWritten 每个标签写入的节点数
	NodesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_migrator_nodes_written_total",
			Help: "Total number of nodes written, by label",
		},
		[]string{"label"},
	)

	// EdgesMerged 每个关系类型提交合并的边数
	EdgesMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_migrator_edges_merged_total",
			Help: "Total number of edges submitted to merge, by relationship type",
		},
		[]string{"type"},
	)

	// EdgesCreated 合并时实际新建的边数
	EdgesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_migrator_edges_created_total",
			Help: "Total number of edges newly created by merge, by relationship type",
		},
		[]string{"type"},
	)

	// PassDuration 单个表处理耗时
	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graph_migrator_pass_duration_seconds",
			Help:    "Duration of a single table pass in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"phase"},
	)

	// PassFailures 失败的表处理
	PassFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_migrator_pass_failures_total",
			Help: "Total number of failed table passes, by phase and error kind",
		},
		[]string{"phase", "kind"},
	)

	// Runs 按最终状态统计的运行次数
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_migrator_runs_total",
			Help: "Total number of transfer runs, by final state",
		},
		[]string{"state"},
	)
)
