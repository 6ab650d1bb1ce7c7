package catalog

import (
	"fmt"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Closest 在候选名中找编辑距离最近的一个，距离过大时返回空
func Closest(name string, candidates []string) string {
	best := ""
	bestDist := -1
	n := strings.ToLower(name)
	for _, c := range candidates {
		d := levenshtein.DistanceForStrings([]rune(n), []rune(strings.ToLower(c)), levenshtein.DefaultOptions)
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" {
		return ""
	}
	limit := len(name) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist > limit {
		return ""
	}
	return best
}

func suggest(name string, candidates []string) string {
	if s := Closest(name, candidates); s != "" && s != name {
		return fmt.Sprintf(" (did you mean %q?)", s)
	}
	return ""
}
