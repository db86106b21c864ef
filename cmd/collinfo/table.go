package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Bold(true).
			Padding(0, 1).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	markedRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "4", Dark: "12"}).
			PaddingLeft(1).PaddingRight(1)
)

// markedTable is a table whose rows can be highlighted.
type markedTable struct {
	*lgtable.Table
	count  int
	marked map[int]bool
}

func (t *markedTable) row(mark bool, cells ...string) {
	if mark {
		t.marked[t.count] = true
	}
	t.Row(cells...)
	t.count++
}

func newTable(alignments []lipgloss.Position, headers ...string) *markedTable {
	t := &markedTable{marked: make(map[int]bool)}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			var s lipgloss.Style
			switch {
			case row < 0:
				return headerRowStyle
			case t.marked[row]:
				s = markedRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			align := lipgloss.Left
			if col < len(alignments) {
				align = alignments[col]
			}
			return s.Align(align)
		})
	return t
}
