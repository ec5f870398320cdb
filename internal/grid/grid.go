// Package grid implements the VT parser and cell grid that each pane uses to
// turn a child process's byte stream into a renderable screen plus bounded
// scrollback.
//
// Grid design is grounded on the teacher's internal/panestate ring-buffer
// approach (recycle backing arrays on scroll, avoid per-line reallocation)
// but is generalized from a plain-rune line buffer into a full cell grid
// carrying color/attribute state, a separate scrollback region, an
// alternate screen, and the DEC private modes a real terminal emulator
// tracks.
package grid

import "sync"

// Attr is a bitmask of SGR text attributes.
type Attr uint16

const (
	AttrBold Attr = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrReverse
	AttrHidden
	AttrStrikethrough
)

// ColorKind selects how a Color value should be interpreted.
type ColorKind uint8

const (
	ColorDefault ColorKind = iota
	ColorIndexed           // 0-255, classic ANSI + 256-color palette
	ColorRGB                // 24-bit truecolor
)

// Color is a single foreground/background color value.
type Color struct {
	Kind ColorKind
	R, G, B uint8
	Index   uint8
}

// Cell is one character cell: a rune plus its rendition.
type Cell struct {
	Ch   rune
	FG   Color
	BG   Color
	Attr Attr
}

func blankCell() Cell { return Cell{Ch: ' '} }

// Modes holds the terminal mode flags a VT parser tracks.
type Modes struct {
	Wrap          bool // DECAWM, default on
	Origin        bool // DECOM
	Insert        bool // IRM
	AltScreen     bool
	BracketPaste  bool
	MouseTracking bool
	MouseSGR      bool
	FocusEvents   bool
	Keypad        bool // DECKPAM application keypad
	CursorKeys    bool // DECCKM application cursor keys
}

// Cursor is the VT cursor position plus the rendition that applies to the
// next printed character.
type Cursor struct {
	X, Y int
	FG   Color
	BG   Color
	Attr Attr
}

// Grid is the per-pane screen + scrollback model. A Grid is safe for
// concurrent use: the pane's PTY reader goroutine calls Write while the
// compositor calls Snapshot/Rows from a different goroutine.
type Grid struct {
	mu sync.Mutex

	cols, rows int

	// screen holds exactly `rows` lines, recycled in place as the cursor
	// scrolls off the bottom (mirrors the teacher's ring-buffer newLine).
	screen [][]Cell

	// scrollback holds evicted screen lines, oldest first, capped at
	// historyLimit. Eviction drops the oldest entry (index 0).
	scrollback    [][]Cell
	historyLimit  int

	// altScreen, when active, temporarily replaces screen; primary is
	// preserved untouched and restored verbatim on exit.
	altScreen     [][]Cell
	primaryScreen [][]Cell
	primaryCursor Cursor

	cur       Cursor
	savedCur  Cursor
	modes     Modes
	scrollTop, scrollBottom int // 0-based, inclusive scroll region

	title string

	parser parserState
	dirty  bool
}

// New creates a Grid sized cols x rows with the given scrollback cap.
func New(cols, rows, historyLimit int) *Grid {
	cols, rows = sanitizeSize(cols, rows)
	if historyLimit < 0 {
		historyLimit = 0
	}
	g := &Grid{
		cols:         cols,
		rows:         rows,
		historyLimit: historyLimit,
		modes:        Modes{Wrap: true},
	}
	g.screen = newBlankLines(rows, cols)
	g.scrollBottom = rows - 1
	return g
}

func sanitizeSize(cols, rows int) (int, int) {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return cols, rows
}

func newBlankLines(rows, cols int) [][]Cell {
	lines := make([][]Cell, rows)
	for i := range lines {
		lines[i] = newBlankLine(cols)
	}
	return lines
}

func newBlankLine(cols int) []Cell {
	line := make([]Cell, cols)
	for i := range line {
		line[i] = blankCell()
	}
	return line
}

// Size returns the current screen dimensions.
func (g *Grid) Size() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cols, g.rows
}

// Title returns the last OSC-set title.
func (g *Grid) Title() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.title
}

// Modes returns a copy of the current mode flags.
func (g *Grid) Modes() Modes {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.modes
}

// Dirty reports and clears whether the grid changed since the last call.
func (g *Grid) Dirty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.dirty
	g.dirty = false
	return d
}

// HistoryLen returns the number of scrollback rows currently retained.
func (g *Grid) HistoryLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.scrollback)
}

// SetHistoryLimit changes the scrollback cap. A decrease truncates the
// oldest rows immediately without touching the visible screen.
func (g *Grid) SetHistoryLimit(limit int) {
	if limit < 0 {
		limit = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.historyLimit = limit
	if len(g.scrollback) > limit {
		g.scrollback = g.scrollback[len(g.scrollback)-limit:]
	}
}

// ClearHistory drops scrollback only; the visible screen is untouched.
func (g *Grid) ClearHistory() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scrollback = nil
}

// Resize changes the screen dimensions, preserving the bottom-most rows.
func (g *Grid) Resize(cols, rows int) {
	cols, rows = sanitizeSize(cols, rows)
	g.mu.Lock()
	defer g.mu.Unlock()
	if cols == g.cols && rows == g.rows {
		return
	}
	g.screen = reflow(g.screen, g.rows, rows, cols)
	if g.cur.Y >= rows {
		g.cur.Y = rows - 1
	}
	if g.cur.X > cols {
		g.cur.X = cols
	}
	g.cols, g.rows = cols, rows
	g.scrollTop = 0
	g.scrollBottom = rows - 1
	g.parser.reset()
	g.dirty = true
}

// reflow resizes a line buffer, truncating/padding rows and lines as needed.
// It does not attempt true reflow of wrapped text (neither does the teacher's
// terminalState); growing/shrinking rows keeps the most recent rows.
func reflow(lines [][]Cell, oldRows, newRows, newCols int) [][]Cell {
	out := make([][]Cell, newRows)
	if newRows >= oldRows {
		copy(out, lines)
		for i := oldRows; i < newRows; i++ {
			out[i] = newBlankLine(newCols)
		}
	} else {
		start := len(lines) - newRows
		copy(out, lines[start:])
	}
	for i, line := range out {
		if len(line) == newCols {
			continue
		}
		resized := make([]Cell, newCols)
		n := copy(resized, line)
		for j := n; j < newCols; j++ {
			resized[j] = blankCell()
		}
		out[i] = resized
	}
	return out
}

// Write feeds raw child-process bytes through the VT parser.
func (g *Grid) Write(chunk []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.parser.feed(g, chunk)
	g.dirty = true
	return len(chunk), nil
}

// Row returns one rendered row addressed against scrollback+screen, where
// row 0 is the oldest retained scrollback line and the last row is the
// bottom of the visible screen. This is the coordinate space copy mode and
// capture-pane operate in.
func (g *Grid) Row(i int) []Cell {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rowLocked(i)
}

func (g *Grid) rowLocked(i int) []Cell {
	if i < 0 {
		return nil
	}
	if i < len(g.scrollback) {
		return g.scrollback[i]
	}
	si := i - len(g.scrollback)
	if si < 0 || si >= len(g.screen) {
		return nil
	}
	return g.screen[si]
}

// TotalRows is len(scrollback)+len(screen): the addressable row count for Row.
func (g *Grid) TotalRows() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.scrollback) + len(g.screen)
}

// Cursor returns the live cursor position (screen-relative, 0-based).
func (g *Grid) Cursor() (x, y int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur.X, g.cur.Y
}

// CaptureText renders rows [start, end] (inclusive, in Row()'s coordinate
// space) as plain text, one line per row, trailing blanks trimmed.
func (g *Grid) CaptureText(start, end int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if start < 0 {
		start = 0
	}
	total := len(g.scrollback) + len(g.screen)
	if end >= total {
		end = total - 1
	}
	var out []byte
	for i := start; i <= end; i++ {
		row := g.rowLocked(i)
		out = append(out, lineText(row)...)
		if i != end {
			out = append(out, '\n')
		}
	}
	return string(out)
}

func lineText(row []Cell) []byte {
	end := len(row)
	for end > 0 && row[end-1].Ch == ' ' {
		end--
	}
	buf := make([]byte, 0, end)
	for _, c := range row[:end] {
		ch := c.Ch
		if ch == 0 {
			ch = ' '
		}
		buf = append(buf, []byte(string(ch))...)
	}
	return buf
}

// pushScrollback evicts `line` into scrollback honoring historyLimit.
func (g *Grid) pushScrollback(line []Cell) {
	if g.historyLimit <= 0 {
		return
	}
	cp := make([]Cell, len(line))
	copy(cp, line)
	g.scrollback = append(g.scrollback, cp)
	if len(g.scrollback) > g.historyLimit {
		g.scrollback = g.scrollback[len(g.scrollback)-g.historyLimit:]
	}
}

// enterAltScreen swaps in a blank alternate screen, preserving the primary
// screen and cursor untouched until exitAltScreen restores them verbatim.
func (g *Grid) enterAltScreen() {
	if g.modes.AltScreen {
		return
	}
	g.primaryScreen = g.screen
	g.primaryCursor = g.cur
	g.altScreen = newBlankLines(g.rows, g.cols)
	g.screen = g.altScreen
	g.modes.AltScreen = true
}

func (g *Grid) exitAltScreen() {
	if !g.modes.AltScreen {
		return
	}
	g.screen = g.primaryScreen
	g.cur = g.primaryCursor
	g.primaryScreen = nil
	g.altScreen = nil
	g.modes.AltScreen = false
}
