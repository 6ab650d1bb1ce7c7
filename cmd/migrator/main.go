package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"graph-migrator/internal/catalog"
	"graph-migrator/internal/config"
	"graph-migrator/internal/extract"
	"graph-migrator/internal/graph"
	"graph-migrator/internal/renderer"
	"graph-migrator/internal/transfer"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath  string
	catalogPath string
	verbose     bool

	sourceDriver string
	sourceDSN    string
	sinkKind     string
	workers      int
	outputDir    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "migrator",
		Short:         "关系库到图数据库的迁移工具",
		Long:          "按 catalog 把关系表物化为图节点和关系：先写全部节点，再合并全部关系",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件 (YAML)")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "catalog 文件（默认取配置中的 catalog）")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出调试日志")
	rootCmd.PersistentFlags().StringVar(&sourceDriver, "type", "", "源数据库类型 (postgres/mysql/sqlserver/sqlite)")
	rootCmd.PersistentFlags().StringVar(&sourceDSN, "conn", "", "源数据库连接字符串（或使用 SOURCE_DSN）")
	rootCmd.PersistentFlags().StringVar(&sinkKind, "sink", "", "图存储 (neo4j/badger/memory)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "执行一次完整迁移",
		RunE:  runTransfer,
	}
	runCmd.Flags().IntVar(&workers, "workers", 0, "每个阶段并行处理的表数")
	runCmd.Flags().StringVar(&outputDir, "output", "./output", "报告输出目录")

	rootCmd.AddCommand(runCmd, newValidateCmd(), newDraftCmd(), newStatsCmd(), newRenderCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 配置文件 < 环境变量 < 命令行参数
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if catalogPath != "" {
		cfg.Catalog = catalogPath
	}
	if sourceDriver != "" {
		cfg.Source.Driver = sourceDriver
	}
	if sourceDSN != "" {
		cfg.Source.DSN = sourceDSN
	}
	if sinkKind != "" {
		cfg.Sink.Kind = sinkKind
	}
	if workers > 0 {
		cfg.Transfer.Workers = workers
	}
	return cfg, nil
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// signalContext SIGINT/SIGTERM 取消运行：不再派发新的表，已开始的表做完
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runTransfer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.Stringer("config", cfg))

	ctx, stop := signalContext()
	defer stop()

	fmt.Println("📖 加载 catalog...")
	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return err
	}
	fmt.Printf("✓ %d 个标签，%d 个关系表\n", len(cat.Entities()), len(cat.Relationships()))

	source, err := cfg.OpenSource()
	if err != nil {
		return err
	}

	fmt.Printf("\n🔌 连接图存储 (%s)...\n", cfg.Sink.Kind)
	sink, err := cfg.OpenSink(ctx, logger)
	if err != nil {
		return err
	}
	defer sink.Close(context.Background())
	fmt.Println("✓ 图存储连接成功")

	opts := cfg.TransferOptions(logger)
	opts.OnEvent = printEvent
	orch := transfer.New(cat, extract.New(source, cfg.Transfer.CallTimeout, logger), sink, opts)

	fmt.Println("\n🚚 开始迁移...")
	report, runErr := orch.Run(ctx)
	if report == nil {
		return runErr
	}

	printSummary(report)

	if err := writeOutputs(cfg, report, sink); err != nil {
		logger.Warn("writing outputs failed", zap.Error(err))
	}

	if runErr != nil {
		return runErr
	}
	if !report.OK() {
		return fmt.Errorf("%d 个错误，详见 %s", len(report.Errors), filepath.Join(outputDir, "report.md"))
	}
	fmt.Println("\n✅ 迁移完成！")
	return nil
}

// printEvent 会被多个 worker 同时调用，每个事件只打印一行
func printEvent(e transfer.Event) {
	switch e.Type {
	case transfer.EventState:
		switch e.State {
		case transfer.StateNodesInProgress:
			fmt.Println("\n📦 物化节点...")
		case transfer.StateEdgesInProgress:
			fmt.Println("\n🔗 合并关系...")
		}
	case transfer.EventPassFinished:
		r := e.Result
		if r == nil {
			return
		}
		switch r.Status {
		case transfer.StatusOK:
			if r.Phase == transfer.PhaseNodes {
				fmt.Printf("  ✓ %s -> %s: %d 个节点\n", r.Table, r.Target, r.Nodes)
			} else {
				total := 0
				for _, n := range r.Edges {
					total += n
				}
				fmt.Printf("  ✓ %s: %d 条关系\n", r.Target, total)
			}
		case transfer.StatusSkipped:
			fmt.Printf("  ⏭  %s: 已跳过\n", r.Target)
		default:
			msg := ""
			if r.Error != nil {
				msg = r.Error.String()
			}
			fmt.Printf("  ⚠️  %s 失败: %s\n", r.Target, msg)
		}
	}
}

func printSummary(r *transfer.Report) {
	fmt.Printf("\n📊 状态: %s，耗时 %s\n", r.State, r.Duration().Round(time.Millisecond))
	nodes, edges := 0, 0
	for _, n := range r.NodesWritten {
		nodes += n
	}
	for _, n := range r.EdgesWritten {
		edges += n
	}
	fmt.Printf("  - 节点: %d\n", nodes)
	fmt.Printf("  - 关系: %d\n", edges)
	if r.Cancelled {
		fmt.Println("  - 运行被取消，未开始的表已跳过")
	}
	for _, e := range r.Errors {
		fmt.Printf("  ⚠️  %s\n", e)
	}
}

// writeOutputs 写入报告；内存图试运行时同时导出图
func writeOutputs(cfg *config.Config, r *transfer.Report, sink graph.Sink) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	fmt.Println("\n📝 生成输出文件...")
	data, err := r.JSON()
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(outputDir, "report.json"), data); err != nil {
		return err
	}
	md := renderer.NewMarkdownRenderer().RenderReport(r)
	if err := writeFile(filepath.Join(outputDir, "report.md"), []byte(md)); err != nil {
		return err
	}

	if mem, ok := sink.(*graph.MemoryGraph); ok && cfg.Sink.Output != "" {
		data, err := mem.ToJSON()
		if err != nil {
			return err
		}
		if err := writeFile(cfg.Sink.Output, data); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("✓ %s\n", path)
	return nil
}
