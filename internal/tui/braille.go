// SPDX-License-Identifier: MIT
package tui

import (
	"cardio/internal/waveform"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Each terminal cell holds a 2x4 grid of braille dots.
const (
	dotsX = 2
	dotsY = 4

	brailleBase = 0x2800
)

// brailleBits[y][x] is the bit of a dot within its cell.
var brailleBits = [dotsY][dotsX]uint8{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

// canvas is a monochrome dot raster drawn with braille characters. Beat
// columns and a background grid are kept on separate layers.
type canvas struct {
	cols, rows int
	trace      []uint8
	grid       []uint8
	beat       []bool // Per cell column.
}

func newCanvas(cols, rows int) *canvas {
	cols, rows = max(cols, 1), max(rows, 1)
	return &canvas{
		cols:  cols,
		rows:  rows,
		trace: make([]uint8, cols*rows),
		grid:  make([]uint8, cols*rows),
		beat:  make([]bool, cols),
	}
}

// Layout returns the dot space of the canvas for trace mapping.
func (c *canvas) Layout() waveform.Layout {
	return waveform.Layout{
		Width:  float64(c.cols * dotsX),
		Height: float64(c.rows * dotsY),
		Margin: 1,
	}
}

func (c *canvas) setOn(layer []uint8, x, y int) {
	if x < 0 || y < 0 || x >= c.cols*dotsX || y >= c.rows*dotsY {
		return
	}
	layer[(y/dotsY)*c.cols+x/dotsX] |= brailleBits[y%dotsY][x%dotsX]
}

// Set lights one dot of the trace layer.
func (c *canvas) Set(x, y int) { c.setOn(c.trace, x, y) }

// Line draws a straight trace segment between two dots.
func (c *canvas) Line(x0, y0, x1, y1 int) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// MarkBeat highlights the cell column holding dot column x.
func (c *canvas) MarkBeat(x int) {
	if col := x / dotsX; x >= 0 && col < c.cols {
		c.beat[col] = true
	}
}

// Grid draws dotted guide lines at the given dot positions.
func (c *canvas) Grid(xs, ys []float64) {
	h, w := c.rows*dotsY, c.cols*dotsX
	for _, gx := range xs {
		for y := 0; y < h; y += 2 {
			c.setOn(c.grid, int(gx), y)
		}
	}
	for _, gy := range ys {
		for x := 0; x < w; x += 2 {
			c.setOn(c.grid, x, int(gy))
		}
	}
}

// Plot draws a mapped trace, joining consecutive points.
func (c *canvas) Plot(points []waveform.TracePoint) {
	for i, p := range points {
		x, y := int(math.Round(p.X)), int(math.Round(p.Y))
		if i == 0 {
			c.Set(x, y)
		} else {
			prev := points[i-1]
			c.Line(int(math.Round(prev.X)), int(math.Round(prev.Y)), x, y)
		}
		if p.Beat {
			c.MarkBeat(x)
		}
	}
}

// Render returns rows of braille text. Cells with trace dots win over the
// grid; beat columns use the beat style.
func (c *canvas) Render(trace, beat, grid lipgloss.Style) string {
	var sb strings.Builder
	for row := range c.rows {
		if row > 0 {
			sb.WriteByte('\n')
		}
		for col := range c.cols {
			i := row*c.cols + col
			switch {
			case c.trace[i] != 0 && c.beat[col]:
				sb.WriteString(beat.Render(string(rune(brailleBase + int(c.trace[i])))))
			case c.trace[i] != 0:
				sb.WriteString(trace.Render(string(rune(brailleBase + int(c.trace[i])))))
			case c.grid[i] != 0:
				sb.WriteString(grid.Render(string(rune(brailleBase + int(c.grid[i])))))
			default:
				sb.WriteByte(' ')
			}
		}
	}
	return sb.String()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
