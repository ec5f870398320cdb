package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"psmux/internal/grid"
)

// Style is a parsed tmux-style option value (e.g. "fg=green,bg=black,bold")
// reduced to the fields a framebuffer cell can carry. Color parsing is
// delegated to lipgloss.Color so psmux accepts the same color names,
// ANSI-256 indices, and hex triplets lipgloss itself understands rather
// than hand-rolling a second color-name table.
type Style struct {
	FG, BG grid.Color
	HasFG  bool
	HasBG  bool
	Attr   grid.Attr
}

// ParseStyle parses a tmux-style comma-separated attribute list, as found
// in options like pane-border-style, status-style, and
// pane-active-border-style.
func ParseStyle(spec string) Style {
	var st Style
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch {
		case part == "bold":
			st.Attr |= grid.AttrBold
		case part == "dim":
			st.Attr |= grid.AttrDim
		case part == "italics" || part == "italic":
			st.Attr |= grid.AttrItalic
		case part == "underscore" || part == "underline":
			st.Attr |= grid.AttrUnderline
		case part == "blink":
			st.Attr |= grid.AttrBlink
		case part == "reverse":
			st.Attr |= grid.AttrReverse
		case part == "hidden":
			st.Attr |= grid.AttrHidden
		case part == "strikethrough":
			st.Attr |= grid.AttrStrikethrough
		case strings.HasPrefix(part, "fg="):
			st.FG = colorFromSpec(strings.TrimPrefix(part, "fg="))
			st.HasFG = true
		case strings.HasPrefix(part, "bg="):
			st.BG = colorFromSpec(strings.TrimPrefix(part, "bg="))
			st.HasBG = true
		}
	}
	return st
}

// colorFromSpec converts a tmux color name, "colour<N>" 256-color index, or
// "#rrggbb" hex triplet into a grid.Color, via lipgloss's own color
// resolution so psmux's accepted palette matches what lipgloss.Style
// renders elsewhere (copy-mode previews, popup chrome).
func colorFromSpec(name string) grid.Color {
	if name == "default" || name == "" {
		return grid.Color{Kind: grid.ColorDefault}
	}
	c := lipgloss.Color(name)
	r, g, b, _ := c.RGBA()
	return grid.Color{Kind: grid.ColorRGB, R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}

// apply overlays style onto cell, leaving rune untouched and only
// overriding color/attribute fields the style actually specifies.
func (s Style) apply(c grid.Cell) grid.Cell {
	if s.HasFG {
		c.FG = s.FG
	}
	if s.HasBG {
		c.BG = s.BG
	}
	c.Attr |= s.Attr
	return c
}

// lipglossStyle renders a plain-text label (status-bar segments, popup
// titles, choose-tree entries) through a lipgloss.Style built from the same
// spec ParseStyle consumes, for the rare cases render needs an ANSI string
// rather than cell-addressed output (e.g. writing into a child PTY-backed
// popup's initial banner).
func lipglossStyle(spec string) lipgloss.Style {
	st := lipgloss.NewStyle()
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "bold":
			st = st.Bold(true)
		case part == "underscore" || part == "underline":
			st = st.Underline(true)
		case part == "reverse":
			st = st.Reverse(true)
		case part == "italics" || part == "italic":
			st = st.Italic(true)
		case strings.HasPrefix(part, "fg="):
			st = st.Foreground(lipgloss.Color(strings.TrimPrefix(part, "fg=")))
		case strings.HasPrefix(part, "bg="):
			st = st.Background(lipgloss.Color(strings.TrimPrefix(part, "bg=")))
		}
	}
	return st
}

// RenderLabel applies spec to text and returns the ANSI-styled result.
func RenderLabel(spec, text string) string {
	return lipglossStyle(spec).Render(text)
}
