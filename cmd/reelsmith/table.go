package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// column is one table heading. Numeric columns align right on a terminal.
type column struct {
	title   string
	numeric bool
}

func textCol(title string) column { return column{title: title} }

func numCol(title string) column { return column{title: title, numeric: true} }

// printTable renders a rounded table on a terminal. Anywhere else it prints a
// tab-separated header and rows so output can be piped to cut or awk.
func printTable(out io.Writer, cols []column, rows [][]string) {
	if len(cols) == 0 {
		return
	}
	if !isTerminal(out) {
		titles := make([]string, len(cols))
		for i, c := range cols {
			titles[i] = c.title
		}
		fmt.Fprintln(out, strings.Join(titles, "\t"))
		for _, row := range rows {
			fmt.Fprintln(out, strings.Join(padRow(row, len(cols)), "\t"))
		}
		return
	}
	fmt.Fprintln(out, renderTable(cols, rows))
}

func renderTable(cols []column, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault

	header := make(table.Row, 0, len(cols))
	configs := make([]table.ColumnConfig, 0, len(cols))
	for i, c := range cols {
		header = append(header, c.title)
		cfg := table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft}
		if c.numeric {
			cfg.Align = text.AlignRight
		}
		configs = append(configs, cfg)
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		cells := padRow(row, len(cols))
		r := make(table.Row, len(cells))
		for i, cell := range cells {
			r[i] = cell
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

// padRow truncates or extends row to exactly n cells.
func padRow(row []string, n int) []string {
	out := make([]string, n)
	copy(out, row)
	return out
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
