// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
)

// maxCellWidth truncates long cells such as problems and metadata.
const maxCellWidth = 72

// tableWriter renders aligned columns with a bold header. Colors are
// only used when the output is a terminal.
type tableWriter struct {
	renderer *lipgloss.Renderer
	header   []string
	rows     [][]string
	styles   map[int]lipgloss.Style
}

func newTableWriter(w io.Writer, color bool, header ...string) *tableWriter {
	profile := termenv.Ascii
	if color {
		profile = termenv.EnvColorProfile()
	}
	renderer := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)
	return &tableWriter{renderer: renderer, header: header, styles: make(map[int]lipgloss.Style)}
}

// styleColumn applies style to every body cell of column.
func (t *tableWriter) styleColumn(column int, style lipgloss.Style) {
	t.styles[column] = style
}

func (t *tableWriter) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *tableWriter) render(w io.Writer) {
	widths := make([]int, len(t.header))
	measure := func(cells []string) {
		for i, cell := range cells {
			if i < len(widths) {
				widths[i] = max(widths[i], min(lipgloss.Width(cell), maxCellWidth))
			}
		}
	}
	measure(t.header)
	for _, row := range t.rows {
		measure(row)
	}

	bold := t.renderer.NewStyle().Bold(true)
	fmt.Fprintln(w, t.formatRow(t.header, widths, func(int) lipgloss.Style { return bold }))
	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = strings.Repeat("─", width)
	}
	fmt.Fprintln(w, t.renderer.NewStyle().Faint(true).Render(strings.Join(parts, "  ")))
	for _, row := range t.rows {
		fmt.Fprintln(w, t.formatRow(row, widths, func(column int) lipgloss.Style {
			if style, ok := t.styles[column]; ok {
				return style
			}
			return t.renderer.NewStyle()
		}))
	}
}

func (t *tableWriter) formatRow(cells []string, widths []int, style func(int) lipgloss.Style) string {
	parts := make([]string, len(widths))
	for i, width := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		if lipgloss.Width(cell) > width {
			cell = ansi.Truncate(cell, width, "…")
		}
		padding := strings.Repeat(" ", width-lipgloss.Width(cell))
		parts[i] = style(i).Render(cell) + padding
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

func printInspectTable(w io.Writer, directories []inspectedDirectory, now time.Time, color bool) {
	if len(directories) == 0 {
		fmt.Fprintln(w, "no feature directories")
		return
	}
	table := newTableWriter(w, color, "FEATURE", "AREA", "BATCH", "AGE", "SIZE", "ITEMS", "PROBLEM")
	table.styleColumn(6, table.renderer.NewStyle().Foreground(lipgloss.Color("1")))
	for _, directory := range directories {
		area := "granted"
		if directory.Pending {
			area = "pending"
		}
		if len(directory.Batches) == 0 {
			table.addRow(directory.Feature, area, "-", "-", "-", "-", "")
			continue
		}
		for _, batch := range directory.Batches {
			table.addRow(
				directory.Feature,
				area,
				batch.Handle.Name,
				humanize.RelTime(batch.Handle.Created, now, "ago", "from now"),
				humanize.IBytes(uint64(batch.Handle.Size)),
				fmt.Sprint(batch.Items),
				batch.Problem,
			)
			if batch.Diagnostic != "" {
				table.addRow("", "", "", "", "", "", "metadata: "+batch.Diagnostic)
			}
		}
	}
	table.render(w)
}
