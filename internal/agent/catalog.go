package agent

import "sort"

func toolPriority(t Tool) int {
	if p, ok := t.(Prioritized); ok {
		return p.Priority()
	}
	return 0
}

// SortCatalog orders tools by descending priority, then by name. The order is
// stable across runs so truncation always drops the same entries.
func SortCatalog(tools []Tool) {
	sort.SliceStable(tools, func(i, j int) bool {
		pi, pj := toolPriority(tools[i]), toolPriority(tools[j])
		if pi != pj {
			return pi > pj
		}
		return tools[i].Name() < tools[j].Name()
	})
}

// TruncateCatalog keeps the first max tools and returns the names of the rest.
// A max of zero or less means unlimited. The input order is preserved.
func TruncateCatalog(tools []Tool, max int) (kept []Tool, dropped []string) {
	if max <= 0 || len(tools) <= max {
		return tools, nil
	}
	kept = tools[:max:max]
	dropped = make([]string, 0, len(tools)-max)
	for _, t := range tools[max:] {
		dropped = append(dropped, t.Name())
	}
	return kept, dropped
}
