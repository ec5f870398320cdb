package render

import (
	"psmux/internal/grid"
	"psmux/internal/ipc"
)

// CellRows splits the framebuffer into one []grid.Cell slice per row, the
// shape ipc.DiffFrames compares against a previous frame.
func (fb *Framebuffer) CellRows() [][]grid.Cell {
	rows := make([][]grid.Cell, fb.Rows)
	for y := 0; y < fb.Rows; y++ {
		row := make([]grid.Cell, fb.Cols)
		for x := 0; x < fb.Cols; x++ {
			row[x] = fb.At(x, y)
		}
		rows[y] = row
	}
	return rows
}

// ToFullFrame packages fb as a full RenderFrame: every cell, in row-major
// order, with Full set so the client repaints its entire viewport.
func ToFullFrame(fb *Framebuffer, seq uint64) ipc.RenderFrame {
	cells := fb.CellsRowMajor()
	wire := make([]ipc.WireCell, len(cells))
	for i, c := range cells {
		wire[i] = ipc.WireCell{Cell: c}
	}
	return ipc.RenderFrame{Cols: fb.Cols, Rows: fb.Rows, Full: true, Cells: wire, Seq: seq}
}

// ToDiffFrame packages only the cells of fb that differ from prev (which
// may be nil, meaning "treat as empty") as a sparse RenderFrame.
func ToDiffFrame(prev, fb *Framebuffer, seq uint64) ipc.RenderFrame {
	var prevRows [][]grid.Cell
	if prev != nil {
		prevRows = prev.CellRows()
	}
	diffs := ipc.DiffFrames(prevRows, fb.CellRows())
	return ipc.RenderFrame{Cols: fb.Cols, Rows: fb.Rows, Full: false, Cells: diffs, Seq: seq}
}
