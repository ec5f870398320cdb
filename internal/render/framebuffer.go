// Package render composites per-pane grids, borders, the status bar, and
// overlays into the single cell-addressed framebuffer the transport ships
// to a client. It reads internal/grid.Grid contents but never mutates them.
package render

import "psmux/internal/grid"

// Framebuffer is a flat, cell-addressed screen image matching one client's
// terminal size.
type Framebuffer struct {
	Cols, Rows int
	cells      []grid.Cell
}

// NewFramebuffer allocates a blank (space-filled) framebuffer.
func NewFramebuffer(cols, rows int) *Framebuffer {
	fb := &Framebuffer{Cols: cols, Rows: rows, cells: make([]grid.Cell, cols*rows)}
	fb.Clear()
	return fb
}

// Clear resets every cell to a blank space with default rendition.
func (fb *Framebuffer) Clear() {
	for i := range fb.cells {
		fb.cells[i] = grid.Cell{Ch: ' '}
	}
}

func (fb *Framebuffer) index(x, y int) (int, bool) {
	if x < 0 || y < 0 || x >= fb.Cols || y >= fb.Rows {
		return 0, false
	}
	return y*fb.Cols + x, true
}

// Set writes a single cell, silently dropping out-of-bounds writes so
// callers don't need per-write bounds checks.
func (fb *Framebuffer) Set(x, y int, c grid.Cell) {
	if i, ok := fb.index(x, y); ok {
		fb.cells[i] = c
	}
}

// At returns the cell at (x, y), or a blank cell if out of bounds.
func (fb *Framebuffer) At(x, y int) grid.Cell {
	if i, ok := fb.index(x, y); ok {
		return fb.cells[i]
	}
	return grid.Cell{Ch: ' '}
}

// WriteString paints s starting at (x, y) left to right, one rune per
// cell, applying style to every cell. Runes beyond the framebuffer's right
// edge are dropped.
func (fb *Framebuffer) WriteString(x, y int, s string, style Style) {
	col := x
	for _, r := range s {
		fb.Set(col, y, style.apply(grid.Cell{Ch: r}))
		col++
	}
}

// Fill paints every cell in [x0,x1)x[y0,y1) with a blank cell styled by
// style, used for status-bar backgrounds and popup/menu canvases.
func (fb *Framebuffer) Fill(x0, y0, x1, y1 int, style Style) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			fb.Set(x, y, style.apply(grid.Cell{Ch: ' '}))
		}
	}
}

// CellsRowMajor returns a copy of the framebuffer's cells in row-major
// order, for shipping a full frame to an attached client.
func (fb *Framebuffer) CellsRowMajor() []grid.Cell {
	out := make([]grid.Cell, len(fb.cells))
	copy(out, fb.cells)
	return out
}
