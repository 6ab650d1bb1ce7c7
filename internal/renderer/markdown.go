package renderer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"graph-migrator/internal/analyzer"
	"graph-migrator/internal/transfer"
)

// MarkdownRenderer Markdown 报告渲染器
type MarkdownRenderer struct{}

// NewMarkdownRenderer 创建渲染器
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{}
}

// RenderReport 渲染一次迁移的结果
func (m *MarkdownRenderer) RenderReport(r *transfer.Report) string {
	var sb strings.Builder

	sb.WriteString("# 迁移报告\n\n")
	sb.WriteString(fmt.Sprintf("- 运行 ID: `%s`\n", r.RunID))
	sb.WriteString(fmt.Sprintf("- 状态: %s", r.State))
	if r.Cancelled {
		sb.WriteString("（已取消）")
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("- 耗时: %s\n\n", r.Duration().Round(time.Millisecond)))

	sb.WriteString("## 节点\n\n")
	sb.WriteString("| 标签 | 节点数 |\n")
	sb.WriteString("|------|--------|\n")
	for _, label := range sortedKeys(r.NodesWritten) {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", label, r.NodesWritten[label]))
	}
	sb.WriteString("\n")

	sb.WriteString("## 关系\n\n")
	sb.WriteString("| 类型 | 合并 | 新建 |\n")
	sb.WriteString("|------|------|------|\n")
	for _, t := range sortedKeys(r.EdgesWritten) {
		sb.WriteString(fmt.Sprintf("| %s | %d | %d |\n", t, r.EdgesWritten[t], r.EdgesCreated[t]))
	}
	sb.WriteString("\n")

	sb.WriteString("## 表\n\n")
	sb.WriteString("| 阶段 | 表 | 目标 | 状态 | 尝试 | 耗时 |\n")
	sb.WriteString("|------|----|------|------|------|------|\n")
	for _, t := range r.Tables {
		status := string(t.Status)
		if t.Status == transfer.StatusOK {
			status = "✓"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %s |\n",
			t.Phase, t.Table, t.Target, status, t.Attempts, t.Duration.Round(time.Millisecond)))
	}
	sb.WriteString("\n")

	if len(r.Errors) > 0 {
		sb.WriteString("## 错误\n\n")
		for _, e := range r.Errors {
			sb.WriteString(fmt.Sprintf("- **%s** `%s`: %s\n", e.Kind, e.Table, e.Message))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// RenderReferences 渲染推断出的表引用及其证据
func (m *MarkdownRenderer) RenderReferences(refs []analyzer.Reference) string {
	var sb strings.Builder

	sb.WriteString("# 表引用\n\n")
	if len(refs) == 0 {
		sb.WriteString("未发现引用。\n")
		return sb.String()
	}

	for _, ref := range refs {
		relType := "推断外键"
		if ref.Declared {
			relType = "外键"
		}
		sb.WriteString(fmt.Sprintf("- **%s** `%s.%s` → `%s.%s` (置信度: %.2f)\n",
			relType, ref.FromTable, ref.FromColumn, ref.ToTable, ref.ToColumn, ref.Confidence))

		if !ref.Declared && len(ref.Evidence) > 0 {
			sb.WriteString("  - 证据:\n")
			for _, ev := range ref.Evidence {
				sb.WriteString(fmt.Sprintf("    - %s\n", ev))
			}
		}
	}
	sb.WriteString("\n")

	return sb.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
