package grid

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxEscapeLen bounds a single CSI/OSC sequence the same way the teacher's
// terminalState bounds CSI sequences: a malformed or adversarial byte
// stream must not be able to wedge the parser in escape mode forever.
const maxEscapeLen = 4096

type escapeMode uint8

const (
	escNone escapeMode = iota
	escEsc             // saw ESC, waiting to see what follows
	escCSI
	escOSC
	escDCS // consumed and discarded (DECRQSS etc. are not modeled)
)

// parserState is the VT parser's scanner state. It is embedded in Grid and
// always accessed under Grid.mu.
type parserState struct {
	mode     escapeMode
	buf      []byte // accumulated bytes of the current escape sequence (without ESC)
	oscEsc   bool   // saw ESC while inside OSC, maybe about to see ST ( ESC \ )
	remainder [utf8.UTFMax]byte
	remLen    int
}

func (p *parserState) reset() {
	p.mode = escNone
	p.buf = p.buf[:0]
	p.oscEsc = false
}

// feed consumes chunk, applying its effect to g.
func (p *parserState) feed(g *Grid, chunk []byte) {
	if p.remLen > 0 {
		need := utf8NeedBytes(p.remainder[0]) - p.remLen
		if need > len(chunk) {
			copy(p.remainder[p.remLen:], chunk)
			p.remLen += len(chunk)
			return
		}
		copy(p.remainder[p.remLen:], chunk[:need])
		r, _ := utf8.DecodeRune(p.remainder[:p.remLen+need])
		p.consume(g, r)
		chunk = chunk[need:]
		p.remLen = 0
	}

	for len(chunk) > 0 {
		b := chunk[0]
		if b < utf8.RuneSelf {
			p.consume(g, rune(b))
			chunk = chunk[1:]
			continue
		}
		r, size := utf8.DecodeRune(chunk)
		if r == utf8.RuneError && size == 1 {
			if !utf8.FullRune(chunk) {
				p.remLen = copy(p.remainder[:], chunk)
				return
			}
			chunk = chunk[1:]
			continue
		}
		p.consume(g, r)
		chunk = chunk[size:]
	}
}

func utf8NeedBytes(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

func (p *parserState) consume(g *Grid, r rune) {
	if p.mode != escNone {
		p.consumeEscape(g, r)
		return
	}
	switch r {
	case 0x1b:
		p.mode = escEsc
		p.buf = p.buf[:0]
	case '\r':
		g.cur.X = 0
	case '\n':
		g.lineFeed()
	case '\b':
		if g.cur.X > 0 {
			g.cur.X--
		}
	case '\t':
		next := ((g.cur.X / 8) + 1) * 8
		if next > g.cols {
			next = g.cols
		}
		g.cur.X = next
	case 0x07: // BEL outside OSC: ignored (bell handled by a higher layer)
	default:
		if r < 0x20 || r == 0x7f {
			return
		}
		g.putRune(r)
	}
}

func (p *parserState) consumeEscape(g *Grid, r rune) {
	switch p.mode {
	case escEsc:
		switch r {
		case '[':
			p.mode = escCSI
			p.buf = p.buf[:0]
		case ']':
			p.mode = escOSC
			p.buf = p.buf[:0]
			p.oscEsc = false
		case 'P':
			p.mode = escDCS
			p.buf = p.buf[:0]
		case '7': // DECSC
			g.savedCur = g.cur
			p.reset()
		case '8': // DECRC
			g.cur = g.savedCur
			p.reset()
		case '=': // DECKPAM
			g.modes.Keypad = true
			p.reset()
		case '>': // DECKPNM
			g.modes.Keypad = false
			p.reset()
		case 'M': // reverse index
			g.reverseIndex()
			p.reset()
		case 'c': // RIS full reset
			g.reset()
			p.reset()
		default:
			p.reset()
		}
	case escCSI:
		if r >= 0x40 && r <= 0x7e {
			g.applyCSI(string(p.buf), byte(r))
			p.reset()
			return
		}
		if r == '\r' || r == '\n' || len(p.buf) >= maxEscapeLen {
			p.reset()
			return
		}
		p.buf = append(p.buf, byte(r))
	case escOSC:
		if r == 0x07 {
			g.applyOSC(string(p.buf))
			p.reset()
			return
		}
		if p.oscEsc && r == '\\' {
			g.applyOSC(string(p.buf))
			p.reset()
			return
		}
		p.oscEsc = r == 0x1b
		if (r == '\r' || r == '\n') || len(p.buf) >= maxEscapeLen {
			p.reset()
			return
		}
		if r != 0x1b {
			p.buf = append(p.buf, byte(r))
		}
	case escDCS:
		// DCS payloads are discarded; only the terminator is recognized.
		if p.oscEsc && r == '\\' {
			p.reset()
			return
		}
		p.oscEsc = r == 0x1b
		if len(p.buf) >= maxEscapeLen {
			p.reset()
		}
	default:
		p.reset()
	}
}

// --- Grid-side effects, invoked by the parser under g.mu ---

func (g *Grid) reset() {
	g.screen = newBlankLines(g.rows, g.cols)
	g.scrollback = nil
	g.altScreen = nil
	g.primaryScreen = nil
	g.cur = Cursor{}
	g.savedCur = Cursor{}
	g.modes = Modes{Wrap: true}
	g.scrollTop = 0
	g.scrollBottom = g.rows - 1
}

func (g *Grid) putRune(r rune) {
	if g.cols <= 0 || g.rows <= 0 {
		return
	}
	if g.cur.X >= g.cols {
		if g.modes.Wrap {
			g.lineFeed()
		} else {
			g.cur.X = g.cols - 1
		}
	}
	if g.cur.Y >= g.rows {
		g.cur.Y = g.rows - 1
	}
	if g.modes.Insert {
		g.insertBlank(1)
	}
	row := g.screen[g.cur.Y]
	if g.cur.X < len(row) {
		row[g.cur.X] = Cell{Ch: r, FG: g.cur.FG, BG: g.cur.BG, Attr: g.cur.Attr}
	}
	g.cur.X++
}

func (g *Grid) insertBlank(n int) {
	row := g.screen[g.cur.Y]
	if g.cur.X >= len(row) {
		return
	}
	for i := 0; i < n; i++ {
		row = append(row, blankCell())
		copy(row[g.cur.X+1:], row[g.cur.X:])
		row[g.cur.X] = blankCell()
	}
	if len(row) > g.cols {
		row = row[:g.cols]
	}
	g.screen[g.cur.Y] = row
}

// lineFeed advances the cursor one row, scrolling the scroll region (or the
// whole screen, outside alt-screen into scrollback) when at the bottom.
func (g *Grid) lineFeed() {
	g.cur.X = 0
	if g.cur.Y < g.scrollBottom {
		g.cur.Y++
		return
	}
	g.scrollUp(1)
}

func (g *Grid) reverseIndex() {
	if g.cur.Y > g.scrollTop {
		g.cur.Y--
		return
	}
	g.scrollDown(1)
}

// scrollUp shifts the scroll region up by n rows. Rows scrolled off the top
// of the region are discarded, except when the region is the full screen and
// we are not in the alt-screen, in which case they become scrollback.
func (g *Grid) scrollUp(n int) {
	top, bottom := g.scrollTop, g.scrollBottom
	fullScreen := top == 0 && bottom == g.rows-1
	for i := 0; i < n; i++ {
		if fullScreen && !g.modes.AltScreen {
			g.pushScrollback(g.screen[top])
		}
		copy(g.screen[top:bottom], g.screen[top+1:bottom+1])
		g.screen[bottom] = newBlankLine(g.cols)
	}
}

func (g *Grid) scrollDown(n int) {
	top, bottom := g.scrollTop, g.scrollBottom
	for i := 0; i < n; i++ {
		copy(g.screen[top+1:bottom+1], g.screen[top:bottom])
		g.screen[top] = newBlankLine(g.cols)
	}
}

// applyOSC handles Operating System Commands: "0;title", "2;title"
// (window/icon title), and "8;params;uri" (hyperlink, recorded but not
// rendered since the renderer draws plain cells).
func (g *Grid) applyOSC(payload string) {
	parts := strings.SplitN(payload, ";", 2)
	if len(parts) != 2 {
		return
	}
	switch parts[0] {
	case "0", "1", "2":
		g.title = parts[1]
	}
}

// applyCSI dispatches a parsed CSI sequence: params is the raw parameter
// bytes (digits, ';', and any of "?<=>"), final is the terminating byte.
func (g *Grid) applyCSI(params string, final byte) {
	private := false
	if len(params) > 0 && (params[0] == '?' || params[0] == '>' || params[0] == '<' || params[0] == '=') {
		private = params[0] == '?'
		params = params[1:]
	}
	args := csiArgs(params)
	arg := func(i, def int) int {
		if i >= len(args) || args[i] == 0 {
			return def
		}
		return args[i]
	}

	switch final {
	case 'A':
		g.cur.Y = clamp(g.cur.Y-arg(0, 1), g.scrollTop, g.scrollBottom)
	case 'B':
		g.cur.Y = clamp(g.cur.Y+arg(0, 1), g.scrollTop, g.scrollBottom)
	case 'C':
		g.cur.X = clamp(g.cur.X+arg(0, 1), 0, g.cols-1)
	case 'D':
		g.cur.X = clamp(g.cur.X-arg(0, 1), 0, g.cols-1)
	case 'H', 'f':
		row := arg(0, 1) - 1
		col := arg(1, 1) - 1
		if g.modes.Origin {
			row += g.scrollTop
		}
		g.cur.Y = clamp(row, 0, g.rows-1)
		g.cur.X = clamp(col, 0, g.cols-1)
	case 'G':
		g.cur.X = clamp(arg(0, 1)-1, 0, g.cols-1)
	case 'd':
		g.cur.Y = clamp(arg(0, 1)-1, 0, g.rows-1)
	case 'J':
		g.eraseInDisplay(arg(0, 0))
	case 'K':
		g.eraseInLine(arg(0, 0))
	case 'L':
		g.insertLines(arg(0, 1))
	case 'M':
		g.deleteLines(arg(0, 1))
	case 'P':
		g.deleteChars(arg(0, 1))
	case '@':
		g.insertBlank(arg(0, 1))
	case 'S':
		g.scrollUp(arg(0, 1))
	case 'T':
		g.scrollDown(arg(0, 1))
	case 'r':
		top := arg(0, 1) - 1
		bottom := arg(1, g.rows) - 1
		if top < 0 {
			top = 0
		}
		if bottom >= g.rows {
			bottom = g.rows - 1
		}
		if top < bottom {
			g.scrollTop, g.scrollBottom = top, bottom
		} else {
			g.scrollTop, g.scrollBottom = 0, g.rows-1
		}
		g.cur.X, g.cur.Y = 0, 0
	case 'm':
		g.applySGR(args)
	case 'h', 'l':
		g.applyMode(private, args, final == 'h')
	case 's':
		g.savedCur = g.cur
	case 'u':
		g.cur = g.savedCur
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func csiArgs(params string) []int {
	if params == "" {
		return nil
	}
	fields := strings.Split(params, ";")
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}

func (g *Grid) eraseInDisplay(mode int) {
	switch mode {
	case 0:
		g.eraseInLine(0)
		for y := g.cur.Y + 1; y < g.rows; y++ {
			g.screen[y] = newBlankLine(g.cols)
		}
	case 1:
		g.eraseInLine(1)
		for y := 0; y < g.cur.Y; y++ {
			g.screen[y] = newBlankLine(g.cols)
		}
	case 2, 3:
		for y := 0; y < g.rows; y++ {
			g.screen[y] = newBlankLine(g.cols)
		}
	}
}

func (g *Grid) eraseInLine(mode int) {
	row := g.screen[g.cur.Y]
	switch mode {
	case 0:
		for x := g.cur.X; x < len(row); x++ {
			row[x] = blankCell()
		}
	case 1:
		for x := 0; x <= g.cur.X && x < len(row); x++ {
			row[x] = blankCell()
		}
	case 2:
		for x := range row {
			row[x] = blankCell()
		}
	}
}

func (g *Grid) insertLines(n int) {
	if g.cur.Y < g.scrollTop || g.cur.Y > g.scrollBottom {
		return
	}
	for i := 0; i < n; i++ {
		copy(g.screen[g.cur.Y+1:g.scrollBottom+1], g.screen[g.cur.Y:g.scrollBottom])
		g.screen[g.cur.Y] = newBlankLine(g.cols)
	}
}

func (g *Grid) deleteLines(n int) {
	if g.cur.Y < g.scrollTop || g.cur.Y > g.scrollBottom {
		return
	}
	for i := 0; i < n; i++ {
		copy(g.screen[g.cur.Y:g.scrollBottom], g.screen[g.cur.Y+1:g.scrollBottom+1])
		g.screen[g.scrollBottom] = newBlankLine(g.cols)
	}
}

func (g *Grid) deleteChars(n int) {
	row := g.screen[g.cur.Y]
	if g.cur.X >= len(row) {
		return
	}
	copy(row[g.cur.X:], row[g.cur.X+n:])
	for i := len(row) - n; i < len(row); i++ {
		if i >= g.cur.X {
			row[i] = blankCell()
		}
	}
}

// applyMode handles DEC private modes (private=true, e.g. CSI ?1049h) and
// ANSI modes (private=false, e.g. CSI 4h insert mode).
func (g *Grid) applyMode(private bool, args []int, set bool) {
	for _, a := range args {
		if private {
			switch a {
			case 1:
				g.modes.CursorKeys = set
			case 6:
				g.modes.Origin = set
			case 7:
				g.modes.Wrap = set
			case 25:
				// cursor visibility; rendering concern, not modeled here
			case 1000, 1002, 1003:
				g.modes.MouseTracking = set
			case 1006:
				g.modes.MouseSGR = set
			case 1004:
				g.modes.FocusEvents = set
			case 1049, 47, 1047:
				if set {
					g.enterAltScreen()
				} else {
					g.exitAltScreen()
				}
			case 2004:
				g.modes.BracketPaste = set
			}
		} else {
			switch a {
			case 4:
				g.modes.Insert = set
			}
		}
	}
}

// applySGR applies Select Graphic Rendition parameters to the pending
// cursor rendition, including 256-color indices and 24-bit truecolor.
func (g *Grid) applySGR(args []int) {
	if len(args) == 0 {
		args = []int{0}
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == 0:
			g.cur.Attr = 0
			g.cur.FG = Color{}
			g.cur.BG = Color{}
		case a == 1:
			g.cur.Attr |= AttrBold
		case a == 2:
			g.cur.Attr |= AttrDim
		case a == 3:
			g.cur.Attr |= AttrItalic
		case a == 4:
			g.cur.Attr |= AttrUnderline
		case a == 5:
			g.cur.Attr |= AttrBlink
		case a == 7:
			g.cur.Attr |= AttrReverse
		case a == 8:
			g.cur.Attr |= AttrHidden
		case a == 9:
			g.cur.Attr |= AttrStrikethrough
		case a == 22:
			g.cur.Attr &^= AttrBold | AttrDim
		case a == 23:
			g.cur.Attr &^= AttrItalic
		case a == 24:
			g.cur.Attr &^= AttrUnderline
		case a == 27:
			g.cur.Attr &^= AttrReverse
		case a == 29:
			g.cur.Attr &^= AttrStrikethrough
		case a >= 30 && a <= 37:
			g.cur.FG = Color{Kind: ColorIndexed, Index: uint8(a - 30)}
		case a == 39:
			g.cur.FG = Color{}
		case a >= 40 && a <= 47:
			g.cur.BG = Color{Kind: ColorIndexed, Index: uint8(a - 40)}
		case a == 49:
			g.cur.BG = Color{}
		case a >= 90 && a <= 97:
			g.cur.FG = Color{Kind: ColorIndexed, Index: uint8(a - 90 + 8)}
		case a >= 100 && a <= 107:
			g.cur.BG = Color{Kind: ColorIndexed, Index: uint8(a - 100 + 8)}
		case a == 38 || a == 48:
			color, consumed := parseExtendedColor(args[i+1:])
			if a == 38 {
				g.cur.FG = color
			} else {
				g.cur.BG = color
			}
			i += consumed
		}
	}
}

// parseExtendedColor parses the tail of a 38/48 SGR sequence: either
// "5;idx" (256-color) or "2;r;g;b" (truecolor). Returns the parsed color and
// how many of rest were consumed (not counting the leading 38/48 itself).
func parseExtendedColor(rest []int) (Color, int) {
	if len(rest) == 0 {
		return Color{}, 0
	}
	switch rest[0] {
	case 5:
		if len(rest) >= 2 {
			return Color{Kind: ColorIndexed, Index: uint8(rest[1])}, 2
		}
	case 2:
		if len(rest) >= 4 {
			return Color{Kind: ColorRGB, R: uint8(rest[1]), G: uint8(rest[2]), B: uint8(rest[3])}, 4
		}
	}
	return Color{}, len(rest)
}
