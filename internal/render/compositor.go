package render

import (
	"fmt"
	"time"

	"psmux/internal/grid"
	"psmux/internal/tmux"
)

// WindowRenderOptions carries the option/state values ComposeWindow needs
// that don't belong to the pane tree itself.
type WindowRenderOptions struct {
	StatusOn          bool
	StatusPosition    string // "top" or "bottom"
	StatusLeft        string // raw format strings, expanded per-frame
	StatusRight       string
	StatusStyle       string
	PaneBorderStyle   string
	ActiveBorderStyle string
	Zoomed            bool
	ZoomedPaneID      int
	ActivePaneID      int
	CopyModePaneID    int // 0 if no pane is in copy mode
	CopyModeScrollOff int // rows scrolled back from the tail, for the copy-mode pane
	Now               time.Time
}

// Compositor turns a window's pane tree plus live grids into a framebuffer.
type Compositor struct {
	Grids *grid.Manager
}

// NewCompositor builds a Compositor reading panes from grids.
func NewCompositor(grids *grid.Manager) *Compositor {
	return &Compositor{Grids: grids}
}

// ComposeWindow renders window into a cols x rows framebuffer: panes,
// borders, status bar, in that bottom-to-top layer order.
func (c *Compositor) ComposeWindow(window *tmux.TmuxWindow, cols, rows int, opts WindowRenderOptions) *Framebuffer {
	fb := NewFramebuffer(cols, rows)
	if window == nil {
		return fb
	}

	paneRows := rows
	statusY := -1
	if opts.StatusOn && rows > 0 {
		paneRows = rows - 1
		if opts.StatusPosition == "top" {
			statusY = 0
		} else {
			statusY = rows - 1
		}
	}
	if paneRows < 0 {
		paneRows = 0
	}

	paneTop := 0
	if statusY == 0 {
		paneTop = 1
	}

	if opts.Zoomed && opts.ZoomedPaneID != 0 {
		c.paintPane(fb, opts.ZoomedPaneID, 0, paneTop, cols, paneRows, true, opts)
	} else {
		geo := tmux.ComputeLayoutGeometry(window.Layout, cols, paneRows)
		c.paintGeometry(fb, geo, paneTop, opts)
	}

	if statusY >= 0 {
		c.paintStatusBar(fb, statusY, cols, window, opts)
	}

	return fb
}

func (c *Compositor) paintGeometry(fb *Framebuffer, geo *tmux.LayoutGeometry, yOffset int, opts WindowRenderOptions) {
	if geo == nil {
		return
	}
	if geo.Type == tmux.LayoutLeaf {
		active := geo.PaneID == opts.ActivePaneID
		c.paintPane(fb, geo.PaneID, geo.X, geo.Y+yOffset, geo.W, geo.H, active, opts)
		c.paintBorder(fb, geo, yOffset, opts)
		return
	}
	for _, child := range geo.Children {
		c.paintGeometry(fb, child, yOffset, opts)
	}
	c.paintDivider(fb, geo, yOffset, opts)
}

// paintDivider draws the one-cell gap a split reserves between its two
// children (see ComputeLayoutGeometry), using the active-border style if
// either side of the divider borders the active pane.
func (c *Compositor) paintDivider(fb *Framebuffer, geo *tmux.LayoutGeometry, yOffset int, opts WindowRenderOptions) {
	if len(geo.Children) != 2 {
		return
	}
	left, right := geo.Children[0], geo.Children[1]
	style := ParseStyle(opts.PaneBorderStyle)
	if containsPane(left, opts.ActivePaneID) || containsPane(right, opts.ActivePaneID) {
		style = ParseStyle(opts.ActiveBorderStyle)
	}

	if geo.Direction == tmux.SplitVertical {
		y := left.Y + left.H + yOffset
		for x := geo.X; x < geo.X+geo.W; x++ {
			fb.Set(x, y, style.apply(grid.Cell{Ch: '─'}))
		}
		return
	}
	x := left.X + left.W
	for y := geo.Y + yOffset; y < geo.Y+geo.H+yOffset; y++ {
		fb.Set(x, y, style.apply(grid.Cell{Ch: '│'}))
	}
}

// paintBorder superimposes the copy-mode position label ("[offset/depth]")
// on the top-right of a pane that is in copy mode and draws nothing for
// other panes; interior dividers are drawn by paintDivider at the split
// level. No zoomed indicator is drawn.
func (c *Compositor) paintBorder(fb *Framebuffer, geo *tmux.LayoutGeometry, yOffset int, opts WindowRenderOptions) {
	if geo.PaneID == opts.CopyModePaneID && opts.CopyModePaneID != 0 {
		label := fmt.Sprintf("[%d/%d]", opts.CopyModeScrollOff, c.scrollbackDepth(geo.PaneID))
		style := ParseStyle(opts.ActiveBorderStyle)
		x := geo.X + geo.W - len(label)
		if x < geo.X {
			x = geo.X
		}
		fb.WriteString(x, geo.Y+yOffset, label, style)
	}
}

func (c *Compositor) scrollbackDepth(paneID int) int {
	g := c.Grids.Get(fmt.Sprintf("%%%d", paneID))
	if g == nil {
		return 0
	}
	return g.HistoryLen()
}

func containsPane(geo *tmux.LayoutGeometry, paneID int) bool {
	if geo == nil {
		return false
	}
	if geo.Type == tmux.LayoutLeaf {
		return geo.PaneID == paneID
	}
	for _, child := range geo.Children {
		if containsPane(child, paneID) {
			return true
		}
	}
	return false
}

// paintPane copies one pane's grid (or its copy-mode scrollback view) into
// the framebuffer rectangle at (x, y, w, h).
func (c *Compositor) paintPane(fb *Framebuffer, paneID, x, y, w, h int, active bool, opts WindowRenderOptions) {
	g := c.Grids.Get(fmt.Sprintf("%%%d", paneID))
	if g == nil {
		return
	}
	total := g.TotalRows()
	_, liveRows := g.Size()

	scrollOff := 0
	if paneID == opts.CopyModePaneID {
		scrollOff = opts.CopyModeScrollOff
	}

	baseRow := total - liveRows - scrollOff
	for row := 0; row < h; row++ {
		srcRow := baseRow + row
		cells := g.Row(srcRow)
		for col := 0; col < w; col++ {
			var cell grid.Cell
			if col < len(cells) {
				cell = cells[col]
			} else {
				cell = grid.Cell{Ch: ' '}
			}
			fb.Set(x+col, y+row, cell)
		}
	}
	_ = active
}

func (c *Compositor) paintStatusBar(fb *Framebuffer, y, cols int, window *tmux.TmuxWindow, opts WindowRenderOptions) {
	style := ParseStyle(opts.StatusStyle)
	fb.Fill(0, y, cols, y+1, style)

	var pane *tmux.TmuxPane
	if window != nil && window.ActivePN >= 0 && window.ActivePN < len(window.Panes) {
		pane = window.Panes[window.ActivePN]
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	left := tmux.ExpandStatusFormat(opts.StatusLeft, pane, now)
	right := tmux.ExpandStatusFormat(opts.StatusRight, pane, now)

	fb.WriteString(0, y, left, style)
	if len(right) > 0 {
		startX := cols - len(right)
		if startX < len(left) {
			startX = len(left)
		}
		fb.WriteString(startX, y, right, style)
	}
}
