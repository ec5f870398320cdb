package copymode

import (
	"testing"

	"psmux/internal/grid"
)

func newTestGrid(t *testing.T, lines ...string) *grid.Grid {
	t.Helper()
	g := grid.New(20, 4, 200)
	for i, line := range lines {
		if i > 0 {
			g.Write([]byte("\r\n"))
		}
		g.Write([]byte(line))
	}
	return g
}

func TestNewStartsAtLiveCursor(t *testing.T) {
	g := newTestGrid(t, "hello")
	m := New(g, 20, 4)
	x, y := m.Cursor()
	if x != 5 || y != 0 {
		t.Fatalf("Cursor() = (%d,%d), want (5,0)", x, y)
	}
}

func TestMoveCharClampsAtEdges(t *testing.T) {
	g := newTestGrid(t, "hi")
	m := New(g, 20, 4)
	m.MoveChar(-10, -10)
	x, y := m.Cursor()
	if x != 0 || y != 0 {
		t.Fatalf("Cursor() = (%d,%d), want (0,0)", x, y)
	}
}

func TestMoveLineStartAndEnd(t *testing.T) {
	g := newTestGrid(t, "hello")
	m := New(g, 20, 4)
	m.MoveLineStart()
	if x, _ := m.Cursor(); x != 0 {
		t.Fatalf("after MoveLineStart x = %d, want 0", x)
	}
	m.MoveLineEnd()
	if x, _ := m.Cursor(); x != 4 {
		t.Fatalf("after MoveLineEnd x = %d, want 4", x)
	}
}

func TestMoveWordForwardSkipsToNextWord(t *testing.T) {
	g := newTestGrid(t, "foo bar baz")
	m := New(g, 20, 4)
	m.cx, m.cy = 0, 0
	m.MoveWordForward(false)
	x, _ := m.Cursor()
	if x != 4 {
		t.Fatalf("MoveWordForward x = %d, want 4 (start of 'bar')", x)
	}
	m.MoveWordForward(false)
	x, _ = m.Cursor()
	if x != 8 {
		t.Fatalf("MoveWordForward x = %d, want 8 (start of 'baz')", x)
	}
}

func TestMoveWordBackwardReturnsToStartOfWord(t *testing.T) {
	g := newTestGrid(t, "foo bar baz")
	m := New(g, 20, 4)
	m.cx, m.cy = 8, 0
	m.MoveWordBackward(false)
	x, _ := m.Cursor()
	if x != 4 {
		t.Fatalf("MoveWordBackward x = %d, want 4 (start of 'bar')", x)
	}
}

func TestFindCharForwardAndTill(t *testing.T) {
	g := newTestGrid(t, "a-b-c")
	m := New(g, 20, 4)
	m.cx, m.cy = 0, 0

	if !m.FindChar('-', true, false) {
		t.Fatalf("FindChar forward not found")
	}
	if x, _ := m.Cursor(); x != 1 {
		t.Fatalf("FindChar(f) x = %d, want 1", x)
	}

	m.cx = 0
	if !m.FindChar('-', true, true) {
		t.Fatalf("FindChar till not found")
	}
	if x, _ := m.Cursor(); x != 0 {
		t.Fatalf("FindChar(t) x = %d, want 0", x)
	}
}

func TestRepeatFindRepeatsLastSearch(t *testing.T) {
	g := newTestGrid(t, "a-b-c-d")
	m := New(g, 20, 4)
	m.cx, m.cy = 0, 0
	m.FindChar('-', true, false)
	if !m.RepeatFind(false) {
		t.Fatalf("RepeatFind failed")
	}
	if x, _ := m.Cursor(); x != 3 {
		t.Fatalf("RepeatFind x = %d, want 3", x)
	}
}

func TestSelectionCharacterWiseAcrossRows(t *testing.T) {
	g := newTestGrid(t, "hello", "world")
	m := New(g, 20, 4)
	m.cx, m.cy = 3, 0
	m.BeginSelection()
	m.cx, m.cy = 1, 1
	got := m.Selection()
	want := "lo\nwo"
	if got != want {
		t.Fatalf("Selection() = %q, want %q", got, want)
	}
}

func TestSelectionLineWise(t *testing.T) {
	g := newTestGrid(t, "hello", "world")
	m := New(g, 20, 4)
	m.cx, m.cy = 3, 0
	m.ToggleLineSelection()
	m.cx, m.cy = 1, 1
	got := m.Selection()
	want := "hello\nworld"
	if got != want {
		t.Fatalf("Selection() = %q, want %q", got, want)
	}
}

func TestSelectionRectangle(t *testing.T) {
	g := newTestGrid(t, "abcdef", "ghijkl")
	m := New(g, 20, 4)
	m.cx, m.cy = 1, 0
	m.ToggleRectangleSelection()
	m.cx, m.cy = 3, 1
	got := m.Selection()
	want := "bcd\nhij"
	if got != want {
		t.Fatalf("Selection() = %q, want %q", got, want)
	}
}

func TestOtherEndSwapsCursorAndAnchor(t *testing.T) {
	g := newTestGrid(t, "hello world")
	m := New(g, 20, 4)
	m.cx, m.cy = 2, 0
	m.BeginSelection()
	m.cx, m.cy = 8, 0
	m.OtherEnd()
	x, y := m.Cursor()
	if x != 2 || y != 0 {
		t.Fatalf("OtherEnd Cursor() = (%d,%d), want (2,0)", x, y)
	}
}

func TestNoSelectionReturnsEmptyString(t *testing.T) {
	g := newTestGrid(t, "hello")
	m := New(g, 20, 4)
	if got := m.Selection(); got != "" {
		t.Fatalf("Selection() with nothing selected = %q, want \"\"", got)
	}
}

func TestSearchForwardFindsNextOccurrence(t *testing.T) {
	g := newTestGrid(t, "find the needle in the haystack")
	m := New(g, 20, 4)
	m.cx, m.cy = 0, 0
	if !m.SearchForward("needle") {
		t.Fatalf("SearchForward did not find match")
	}
	x, y := m.Cursor()
	if x != 9 || y != 0 {
		t.Fatalf("SearchForward Cursor() = (%d,%d), want (9,0)", x, y)
	}
}

func TestSearchBackwardFindsPriorOccurrence(t *testing.T) {
	g := newTestGrid(t, "cat cat cat")
	m := New(g, 20, 4)
	m.cx, m.cy = 10, 0
	if !m.SearchBackward("cat") {
		t.Fatalf("SearchBackward did not find match")
	}
	x, _ := m.Cursor()
	if x != 4 {
		t.Fatalf("SearchBackward x = %d, want 4", x)
	}
}

func TestRepeatSearchFindsNextOccurrence(t *testing.T) {
	g := newTestGrid(t, "cat cat cat")
	m := New(g, 20, 4)
	m.cx, m.cy = 0, 0
	m.SearchForward("cat") // lands on the second "cat", at column 4
	if !m.RepeatSearch(false) {
		t.Fatalf("RepeatSearch did not find match")
	}
	x, _ := m.Cursor()
	if x != 8 {
		t.Fatalf("RepeatSearch x = %d, want 8 (third 'cat')", x)
	}
}

func TestScrollOffsetZeroAtTail(t *testing.T) {
	g := newTestGrid(t, "only one line")
	m := New(g, 20, 4)
	if off := m.ScrollOffset(); off != 0 {
		t.Fatalf("ScrollOffset() = %d, want 0 at tail", off)
	}
}

func TestHistoryTopMovesToFirstRow(t *testing.T) {
	g := newTestGrid(t, "line1", "line2", "line3", "line4", "line5")
	m := New(g, 20, 4)
	m.HistoryTop()
	_, y := m.Cursor()
	if y != 0 {
		t.Fatalf("HistoryTop y = %d, want 0", y)
	}
}
