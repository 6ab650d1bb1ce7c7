package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"graph-migrator/internal/analyzer"
	"graph-migrator/internal/catalog"
	"graph-migrator/internal/config"
	"graph-migrator/internal/extract"
	"graph-migrator/internal/graph"
	"graph-migrator/internal/renderer"
	"graph-migrator/internal/transfer"

	"github.com/spf13/cobra"
)

var (
	live       bool
	draftOut   string
	detectEnum bool
	reportPath string
	withSource bool
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "校验配置和 catalog",
		RunE:  runValidate,
	}
	cmd.Flags().BoolVar(&live, "live", false, "同时对照源数据库的实际结构检查表和列")
	return cmd
}

func newDraftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "从源数据库结构生成 catalog 草稿",
		RunE:  runDraft,
	}
	cmd.Flags().StringVar(&draftOut, "output", "", "草稿输出文件（默认输出到标准输出）")
	cmd.Flags().BoolVar(&detectEnum, "detect-types", true, "读取桥接表多出的列，识别逐行关系类型")
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "统计图存储中每个标签的节点数和每种关系的边数",
		RunE:  runStats,
	}
	cmd.Flags().BoolVar(&withSource, "source", false, "同时统计 catalog 中各源表的行数，并与节点数对照")
	return cmd
}

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "生成图模型的 Mermaid 图，以及迁移报告的 Markdown",
		RunE:  runRender,
	}
	cmd.Flags().StringVar(&outputDir, "output", "./output", "输出目录")
	cmd.Flags().StringVar(&reportPath, "report", "", "run 生成的 report.json")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("🔍 校验配置...")
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Println("✓ 配置有效")

	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return err
	}
	fmt.Printf("✓ catalog 有效：%d 个标签，%d 个关系表，关系类型 %v\n",
		len(cat.Entities()), len(cat.Relationships()), cat.RelationshipTypes())

	if !live {
		return nil
	}

	ctx, stop := signalContext()
	defer stop()

	fmt.Println("\n📊 读取源数据库结构...")
	a, err := cfg.OpenAdapter(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	meta, err := a.IntrospectSchema(ctx)
	if err != nil {
		return fmt.Errorf("获取元数据失败: %w", err)
	}
	fmt.Printf("✓ 发现 %d 个表\n", len(meta.Tables))

	if err := cat.CheckSource(meta); err != nil {
		return err
	}
	fmt.Println("\n✅ catalog 与源数据库一致")
	return nil
}

func runDraft(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	fmt.Fprintln(os.Stderr, "🔍 读取源数据库结构...")
	a, err := cfg.OpenAdapter(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	meta, err := a.IntrospectSchema(ctx)
	if err != nil {
		return fmt.Errorf("获取元数据失败: %w", err)
	}
	fks, err := a.GetForeignKeys(ctx)
	if err != nil {
		return fmt.Errorf("获取外键失败: %w", err)
	}
	fmt.Fprintf(os.Stderr, "✓ %d 个表，%d 个外键\n", len(meta.Tables), len(fks))

	var enums *analyzer.EnumDetector
	if detectEnum {
		source, err := cfg.OpenSource()
		if err != nil {
			return err
		}
		enums = analyzer.NewEnumDetector(extract.New(source, cfg.Transfer.CallTimeout, logger))
	}

	res := analyzer.NewDrafter(enums, logger).Draft(ctx, meta, fks)
	fmt.Fprintf(os.Stderr, "✓ %d 个实体，%d 个关系\n", len(res.File.Entities), len(res.File.Relationships))
	for _, name := range res.Skipped {
		fmt.Fprintf(os.Stderr, "  ⚠️  跳过 %s\n", name)
	}

	// 草稿至少要能通过 catalog 校验
	if _, err := catalog.New(res.File); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  草稿未通过校验，需要手工修改: %v\n", err)
	}

	var buf bytes.Buffer
	if err := catalog.Encode(&buf, res.File); err != nil {
		return err
	}
	if draftOut == "" {
		_, err := os.Stdout.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(draftOut, buf.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ %s\n", draftOut)

	refs := renderer.NewMarkdownRenderer().RenderReferences(res.References)
	refsPath := filepath.Join(filepath.Dir(draftOut), "references.md")
	if err := os.WriteFile(refsPath, []byte(refs), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ %s\n", refsPath)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Sink.Kind == config.SinkMemory {
		return fmt.Errorf("内存图只存在于 run 进程内，stats 需要 neo4j 或 badger")
	}

	ctx, stop := signalContext()
	defer stop()

	sink, err := cfg.OpenSink(ctx, logger)
	if err != nil {
		return err
	}
	defer sink.Close(context.Background())

	inspector, ok := sink.(graph.Inspector)
	if !ok {
		return fmt.Errorf("图存储 %s 不支持统计", cfg.Sink.Kind)
	}
	stats, err := inspector.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("📊 节点: %d\n", stats.TotalNodes())
	for _, label := range stats.Labels() {
		fmt.Printf("  - %s: %d\n", label, stats.Nodes[label])
	}
	fmt.Printf("\n🔗 关系: %d\n", stats.TotalEdges())
	for _, t := range stats.Types() {
		fmt.Printf("  - %s: %d\n", t, stats.Edges[t])
	}

	if !withSource {
		return nil
	}
	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return err
	}
	source, err := cfg.OpenSource()
	if err != nil {
		return err
	}
	counts, err := countSourceRows(ctx, extract.New(source, cfg.Transfer.CallTimeout, logger), cat)
	if err != nil {
		return err
	}

	fmt.Println("\n📋 源表行数:")
	for _, table := range catalogTables(cat) {
		fmt.Printf("  - %s: %d\n", table, counts[table])
	}
	mismatches := compareCounts(cat, counts, stats)
	for _, m := range mismatches {
		fmt.Printf("  ⚠️  %s\n", m)
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d 个标签的节点数与源表行数不一致", len(mismatches))
	}
	fmt.Println("\n✅ 各标签节点数与源表行数一致")
	return nil
}

type rowCounter interface {
	CountRows(ctx context.Context, table string) (int64, error)
}

// catalogTables catalog 读取的源表，按声明顺序去重
func catalogTables(cat *catalog.Catalog) []string {
	var tables []string
	seen := make(map[string]bool)
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			tables = append(tables, t)
		}
	}
	for _, td := range cat.Entities() {
		add(td.SourceTable)
	}
	for _, rd := range cat.Relationships() {
		add(rd.SourceTable)
	}
	return tables
}

func countSourceRows(ctx context.Context, counter rowCounter, cat *catalog.Catalog) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, table := range catalogTables(cat) {
		n, err := counter.CountRows(ctx, table)
		if err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}

// compareCounts 全量刷新后每个标签的节点数应等于其源表行数
func compareCounts(cat *catalog.Catalog, counts map[string]int64, stats *graph.Stats) []string {
	var out []string
	for _, td := range cat.Entities() {
		rows, nodes := counts[td.SourceTable], stats.Nodes[td.TargetLabel]
		if rows != nodes {
			out = append(out, fmt.Sprintf("%s: 源表 %s 有 %d 行，图中 %d 个节点", td.TargetLabel, td.SourceTable, rows, nodes))
		}
	}
	return out
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	fmt.Println("📝 生成输出文件...")
	mermaid := renderer.NewMermaidRenderer().Render(cat)
	if err := writeFile(filepath.Join(outputDir, "model.mmd"), []byte(mermaid)); err != nil {
		return err
	}

	if reportPath != "" {
		data, err := os.ReadFile(reportPath)
		if err != nil {
			return err
		}
		report, err := transfer.ParseReport(data)
		if err != nil {
			return err
		}
		md := renderer.NewMarkdownRenderer().RenderReport(report)
		if err := writeFile(filepath.Join(outputDir, "report.md"), []byte(md)); err != nil {
			return err
		}
	}

	fmt.Println("\n✅ 完成！")
	return nil
}
