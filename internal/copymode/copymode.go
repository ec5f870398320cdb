// Package copymode implements the modal cursor/selection/search state a
// pane enters under copy-mode, operating directly over an internal/grid.Grid's
// scrollback+screen coordinate space. It knows nothing about sessions,
// panes, or paste buffers; callers (the command interpreter, the input
// dispatcher) read back Mode.Selection() and decide where the bytes go.
package copymode

import (
	"strings"
	"unicode"

	"psmux/internal/grid"
)

// Mode is the copy-mode state for one pane. Row coordinates are absolute,
// in the same space as Grid.Row/Grid.TotalRows (0 is the oldest scrollback
// line).
type Mode struct {
	g    *grid.Grid
	cols int
	rows int

	cx, cy  int // cursor column, absolute row
	viewTop int // absolute row index of the viewport's top line

	selecting bool
	lineWise  bool
	rectangle bool
	anchorX   int
	anchorY   int

	lastFindChar  rune
	lastFindTill  bool
	lastFindFwd   bool
	lastFindValid bool

	lastSearch    string
	lastSearchFwd bool
}

// New starts copy mode for g, with the cursor at the live cursor position
// and the viewport showing the pane's current tail.
func New(g *grid.Grid, cols, rows int) *Mode {
	total := g.TotalRows()
	curX, curY := g.Cursor()
	_, liveRows := g.Size()
	absY := total - liveRows + curY
	if absY < 0 {
		absY = 0
	}
	m := &Mode{g: g, cols: cols, rows: rows, cx: curX, cy: absY}
	m.viewTop = clamp(total-rows, 0, total)
	m.ensureCursorVisible()
	return m
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (m *Mode) totalRows() int { return m.g.TotalRows() }

func (m *Mode) rowLen(y int) int {
	row := m.g.Row(y)
	end := len(row)
	for end > 0 && row[end-1].Ch == ' ' {
		end--
	}
	return end
}

func (m *Mode) ensureCursorVisible() {
	if m.cy < m.viewTop {
		m.viewTop = m.cy
	}
	if m.cy >= m.viewTop+m.rows {
		m.viewTop = m.cy - m.rows + 1
	}
	m.viewTop = clamp(m.viewTop, 0, maxInt(0, m.totalRows()-1))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Cursor returns the cursor's absolute (column, row) position.
func (m *Mode) Cursor() (x, y int) { return m.cx, m.cy }

// ScrollOffset returns how many rows the viewport's top is scrolled back
// from the tail of the grid, the value internal/render's compositor wants
// for a copy-mode pane's border indicator.
func (m *Mode) ScrollOffset() int {
	total := m.totalRows()
	tailTop := maxInt(0, total-m.rows)
	return tailTop - m.viewTop
}

func (m *Mode) clampCx() {
	lineLen := m.rowLen(m.cy)
	if lineLen == 0 {
		m.cx = 0
		return
	}
	if m.cx >= lineLen {
		m.cx = lineLen - 1
	}
	if m.cx < 0 {
		m.cx = 0
	}
}

// MoveChar moves the cursor by (dx, dy) in character units, clamping at the
// grid's edges.
func (m *Mode) MoveChar(dx, dy int) {
	m.cy = clamp(m.cy+dy, 0, maxInt(0, m.totalRows()-1))
	m.cx = maxInt(0, m.cx+dx)
	m.clampCx()
	m.ensureCursorVisible()
}

// MoveLineStart moves to column 0 of the current row.
func (m *Mode) MoveLineStart() { m.cx = 0 }

// MoveLineEnd moves to the last non-blank column of the current row.
func (m *Mode) MoveLineEnd() {
	lineLen := m.rowLen(m.cy)
	if lineLen == 0 {
		m.cx = 0
		return
	}
	m.cx = lineLen - 1
}

// PageUp/PageDown move the cursor and viewport by a full screen.
func (m *Mode) PageUp()   { m.MoveChar(0, -m.rows) }
func (m *Mode) PageDown() { m.MoveChar(0, m.rows) }

// HalfPageUp/HalfPageDown move by half a screen.
func (m *Mode) HalfPageUp()   { m.MoveChar(0, -maxInt(1, m.rows/2)) }
func (m *Mode) HalfPageDown() { m.MoveChar(0, maxInt(1, m.rows/2)) }

// ScreenTop/ScreenMiddle/ScreenBottom move within the current viewport.
func (m *Mode) ScreenTop()    { m.cy = m.viewTop; m.clampCx() }
func (m *Mode) ScreenMiddle() { m.cy = m.viewTop + m.rows/2; m.clampCx() }
func (m *Mode) ScreenBottom() {
	m.cy = clamp(m.viewTop+m.rows-1, 0, maxInt(0, m.totalRows()-1))
	m.clampCx()
}

// HistoryTop/HistoryBottom jump to the very first or very last grid row.
func (m *Mode) HistoryTop() {
	m.cy = 0
	m.ensureCursorVisible()
	m.clampCx()
}

func (m *Mode) HistoryBottom() {
	m.cy = maxInt(0, m.totalRows()-1)
	m.ensureCursorVisible()
	m.clampCx()
}

func isWordChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isSpace(r rune) bool { return r == ' ' || r == 0 }

func classOf(r rune, bigWord bool) int {
	switch {
	case isSpace(r):
		return 0
	case bigWord:
		return 1
	case isWordChar(r):
		return 1
	default:
		return 2
	}
}

// MoveWordForward moves to the start of the next word (or WORD, if
// bigWord), scanning across row boundaries the way tmux/vi copy mode does.
func (m *Mode) MoveWordForward(bigWord bool) {
	x, y := m.cx, m.cy
	total := m.totalRows()
	cur := m.runeAt(x, y)
	curClass := classOf(cur, bigWord)
	for {
		var ok bool
		x, y, ok = m.advance(x, y, total)
		if !ok {
			break
		}
		r := m.runeAt(x, y)
		cls := classOf(r, bigWord)
		if cls != curClass {
			if cls != 0 {
				m.cx, m.cy = x, y
				m.ensureCursorVisible()
				return
			}
			curClass = 0
		}
	}
	m.cy = maxInt(0, total-1)
	m.cx = maxInt(0, m.rowLen(m.cy)-1)
	m.ensureCursorVisible()
}

// MoveWordBackward moves to the start of the previous word (or WORD).
func (m *Mode) MoveWordBackward(bigWord bool) {
	x, y := m.cx, m.cy
	for {
		nx, ny, ok := m.retreat(x, y)
		if !ok {
			m.cx, m.cy = 0, 0
			m.ensureCursorVisible()
			return
		}
		x, y = nx, ny
		r := m.runeAt(x, y)
		if classOf(r, bigWord) == 0 {
			continue
		}
		// walk back to the start of this word
		for {
			px, py, ok := m.retreat(x, y)
			if !ok {
				break
			}
			pr := m.runeAt(px, py)
			if classOf(pr, bigWord) != classOf(r, bigWord) {
				break
			}
			x, y = px, py
		}
		m.cx, m.cy = x, y
		m.ensureCursorVisible()
		return
	}
}

func (m *Mode) runeAt(x, y int) rune {
	row := m.g.Row(y)
	if x < 0 || x >= len(row) {
		return 0
	}
	return row[x].Ch
}

func (m *Mode) advance(x, y, total int) (int, int, bool) {
	lineLen := m.rowLen(y)
	if x+1 < lineLen {
		return x + 1, y, true
	}
	if y+1 < total {
		return 0, y + 1, true
	}
	return x, y, false
}

func (m *Mode) retreat(x, y int) (int, int, bool) {
	if x > 0 {
		return x - 1, y, true
	}
	if y > 0 {
		prevLen := m.rowLen(y - 1)
		return maxInt(0, prevLen-1), y - 1, true
	}
	return x, y, false
}

// FindChar searches the current row only (as tmux/vi f/F/t/T do), in the
// given direction, for ch. till stops one cell before the match (t/T)
// rather than on it (f/F). Returns false if no match was found, leaving
// the cursor unchanged.
func (m *Mode) FindChar(ch rune, forward, till bool) bool {
	row := m.g.Row(m.cy)
	if forward {
		for x := m.cx + 1; x < len(row); x++ {
			if row[x].Ch == ch {
				m.cx = x
				if till {
					m.cx--
				}
				m.rememberFind(ch, forward, till)
				return true
			}
		}
		return false
	}
	for x := m.cx - 1; x >= 0; x-- {
		if row[x].Ch == ch {
			m.cx = x
			if till {
				m.cx++
			}
			m.rememberFind(ch, forward, till)
			return true
		}
	}
	return false
}

func (m *Mode) rememberFind(ch rune, forward, till bool) {
	m.lastFindChar, m.lastFindFwd, m.lastFindTill, m.lastFindValid = ch, forward, till, true
}

// RepeatFind repeats the last FindChar; reverse flips its direction for
// this repetition only (the "," command versus ";").
func (m *Mode) RepeatFind(reverse bool) bool {
	if !m.lastFindValid {
		return false
	}
	forward := m.lastFindFwd
	if reverse {
		forward = !forward
	}
	return m.FindChar(m.lastFindChar, forward, m.lastFindTill)
}

// BeginSelection starts a fresh character-wise selection anchored at the
// current cursor position.
func (m *Mode) BeginSelection() {
	m.selecting = true
	m.lineWise = false
	m.rectangle = false
	m.anchorX, m.anchorY = m.cx, m.cy
}

// ToggleSelection turns selection mode on (character-wise) or off.
func (m *Mode) ToggleSelection() {
	if m.selecting {
		m.selecting = false
		return
	}
	m.BeginSelection()
}

// ToggleLineSelection turns on (or off) line-wise selection.
func (m *Mode) ToggleLineSelection() {
	if m.selecting && m.lineWise {
		m.selecting = false
		return
	}
	m.BeginSelection()
	m.lineWise = true
}

// ToggleRectangleSelection turns on (or off) rectangle selection.
func (m *Mode) ToggleRectangleSelection() {
	if m.selecting && m.rectangle {
		m.selecting = false
		return
	}
	m.BeginSelection()
	m.rectangle = true
}

// OtherEnd swaps the cursor and the selection anchor, tmux's "other end of
// selection" command.
func (m *Mode) OtherEnd() {
	if !m.selecting {
		return
	}
	m.cx, m.anchorX = m.anchorX, m.cx
	m.cy, m.anchorY = m.anchorY, m.cy
	m.ensureCursorVisible()
}

// HasSelection reports whether a selection is currently active.
func (m *Mode) HasSelection() bool { return m.selecting }

// ClearSelection drops the active selection without exiting copy mode.
func (m *Mode) ClearSelection() { m.selecting = false }

// Selection serializes the current selection to text. Line-wise selections
// emit whole rows; rectangle selections emit one line per grid row trimmed
// to the rectangle's columns; character-wise selections trim the first and
// last row to the selection's start/end column. Line breaks are always
// preserved between rows. Returns "" if nothing is selected.
func (m *Mode) Selection() string {
	if !m.selecting {
		return ""
	}
	startX, startY, endX, endY := m.anchorX, m.anchorY, m.cx, m.cy
	if startY > endY || (startY == endY && startX > endX) {
		startX, endX = endX, startX
		startY, endY = endY, startY
	}

	var b strings.Builder
	switch {
	case m.rectangle:
		loX, hiX := startX, endX
		if loX > hiX {
			loX, hiX = hiX, loX
		}
		for y := startY; y <= endY; y++ {
			row := m.g.Row(y)
			b.WriteString(sliceRow(row, loX, hiX+1))
			if y != endY {
				b.WriteByte('\n')
			}
		}
	case m.lineWise:
		for y := startY; y <= endY; y++ {
			row := m.g.Row(y)
			b.WriteString(sliceRow(row, 0, len(row)))
			if y != endY {
				b.WriteByte('\n')
			}
		}
	default:
		for y := startY; y <= endY; y++ {
			row := m.g.Row(y)
			from, to := 0, len(row)
			if y == startY {
				from = startX
			}
			if y == endY {
				to = endX + 1
			}
			b.WriteString(sliceRow(row, from, to))
			if y != endY {
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

func sliceRow(row []grid.Cell, from, to int) string {
	if from < 0 {
		from = 0
	}
	if to > len(row) {
		to = len(row)
	}
	if from >= to {
		return ""
	}
	var b strings.Builder
	for _, c := range row[from:to] {
		ch := c.Ch
		if ch == 0 {
			ch = ' '
		}
		b.WriteRune(ch)
	}
	return strings.TrimRight(b.String(), " ")
}

// SearchForward finds the next occurrence of pattern at or after the
// cursor, moving the cursor to its first character on success.
func (m *Mode) SearchForward(pattern string) bool {
	m.lastSearch, m.lastSearchFwd = pattern, true
	return m.searchFrom(pattern, m.cy, m.cx+1, true)
}

// SearchBackward finds the previous occurrence of pattern at or before the
// cursor.
func (m *Mode) SearchBackward(pattern string) bool {
	m.lastSearch, m.lastSearchFwd = pattern, false
	return m.searchFrom(pattern, m.cy, m.cx-1, false)
}

// RepeatSearch repeats the last search; reverse flips its direction for
// this repetition only.
func (m *Mode) RepeatSearch(reverse bool) bool {
	if m.lastSearch == "" {
		return false
	}
	forward := m.lastSearchFwd
	if reverse {
		forward = !forward
	}
	if forward {
		return m.searchFrom(m.lastSearch, m.cy, m.cx+1, true)
	}
	return m.searchFrom(m.lastSearch, m.cy, m.cx-1, false)
}

func (m *Mode) searchFrom(pattern string, startY, startX int, forward bool) bool {
	if pattern == "" {
		return false
	}
	total := m.totalRows()
	if forward {
		x := startX
		for y := startY; y < total; y++ {
			text := rowText(m.g.Row(y))
			if x < 0 {
				x = 0
			}
			if x <= len(text) {
				if idx := strings.Index(text[x:], pattern); idx >= 0 {
					m.cy, m.cx = y, x+idx
					m.ensureCursorVisible()
					return true
				}
			}
			x = 0
		}
		return false
	}
	x := startX
	for y := startY; y >= 0; y-- {
		text := rowText(m.g.Row(y))
		limit := x + 1
		if limit > len(text) {
			limit = len(text)
		}
		if limit > 0 {
			if idx := strings.LastIndex(text[:limit], pattern); idx >= 0 {
				m.cy, m.cx = y, idx
				m.ensureCursorVisible()
				return true
			}
		}
		if y > 0 {
			x = m.rowLen(y-1) - 1
		}
	}
	return false
}

func rowText(row []grid.Cell) string {
	var b strings.Builder
	for _, c := range row {
		ch := c.Ch
		if ch == 0 {
			ch = ' '
		}
		b.WriteRune(ch)
	}
	return b.String()
}
