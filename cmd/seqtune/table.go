package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/born-ml/seqtune/internal/search"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	bestStyle   = cellStyle.Foreground(lipgloss.Color("10"))
	failedStyle = cellStyle.Foreground(lipgloss.Color("9"))
)

// renderResults formats the trials best first, one column per searched
// parameter.
func renderResults(r *search.Results) string {
	trials := r.Sorted()
	paths := make(map[string]struct{})
	for _, t := range trials {
		for p := range t.Assignment {
			paths[p] = struct{}{}
		}
	}
	params := slices.Sorted(maps.Keys(paths))

	headers := append([]string{"trial", "status", "examples", r.Metric}, params...)
	rows := make([][]string, 0, len(trials))
	for _, t := range trials {
		value := "-"
		if t.HasValue {
			value = strconv.FormatFloat(t.Value, 'f', 4, 64)
		}
		status := t.Status.String()
		if t.Interrupted {
			status = "INTERRUPTED"
		}
		row := []string{shortID(t.ID), status, strconv.FormatInt(t.Examples, 10), value}
		for _, p := range params {
			v, ok := t.Assignment[p]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, fmt.Sprint(v))
		}
		rows = append(rows, row)
	}

	best, hasBest := r.Best()
	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row < 0 || row >= len(trials):
				return cellStyle
			case trials[row].Status == search.Failed:
				return failedStyle
			case hasBest && trials[row].ID == best.ID:
				return bestStyle
			default:
				return cellStyle
			}
		}).
		String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
