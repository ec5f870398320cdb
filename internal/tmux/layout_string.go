package tmux

import (
	"fmt"
	"strconv"
	"strings"
)

// LayoutGeometry is a LayoutNode annotated with absolute cell geometry, the
// shape the canonical layout string actually serializes. The tree structure
// (LayoutNode) carries split ratios; geometry is derived from it against a
// concrete WxH so that resizing the window never has to touch the ratio tree.
type LayoutGeometry struct {
	W, H      int
	X, Y      int
	Type      LayoutNodeType
	Direction SplitDirection
	PaneID    int
	Children  []*LayoutGeometry
}

// ComputeLayoutGeometry lays out root within a w x h cell area at (0,0),
// splitting each split node along its Direction according to Ratio. One
// column/row of the available space at each split is reserved for the
// divider, matching tmux's own layout cell math (child sizes sum to
// parent size minus one cell per internal divider).
func ComputeLayoutGeometry(root *LayoutNode, w, h int) *LayoutGeometry {
	return layoutGeometryAt(root, w, h, 0, 0)
}

func layoutGeometryAt(node *LayoutNode, w, h, x, y int) *LayoutGeometry {
	if node == nil {
		return nil
	}
	g := &LayoutGeometry{W: w, H: h, X: x, Y: y, Type: node.Type, Direction: node.Direction, PaneID: node.PaneID}
	if node.Type == LayoutLeaf {
		return g
	}

	ratio := node.Ratio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}

	switch node.Direction {
	case SplitVertical:
		// top/bottom stack; one row given to the divider between them
		avail := h - 1
		if avail < 0 {
			avail = 0
		}
		topH := int(float64(avail)*ratio + 0.5)
		if topH < 0 {
			topH = 0
		}
		bottomH := avail - topH
		g.Children = []*LayoutGeometry{
			layoutGeometryAt(node.Children[0], w, topH, x, y),
			layoutGeometryAt(node.Children[1], w, bottomH, x, y+topH+1),
		}
	default: // SplitHorizontal: side by side; one column for the divider
		avail := w - 1
		if avail < 0 {
			avail = 0
		}
		leftW := int(float64(avail)*ratio + 0.5)
		if leftW < 0 {
			leftW = 0
		}
		rightW := avail - leftW
		g.Children = []*LayoutGeometry{
			layoutGeometryAt(node.Children[0], leftW, h, x, y),
			layoutGeometryAt(node.Children[1], rightW, h, x+leftW+1, y),
		}
	}
	return g
}

// EncodeLayoutString renders geo as the canonical checksum-prefixed tmux
// layout string, e.g. "8205,80x24,0,0{40x24,0,0,0,39x24,41,0,1}".
func EncodeLayoutString(geo *LayoutGeometry) string {
	body := encodeLayoutBody(geo)
	sum := layoutChecksum(body)
	return fmt.Sprintf("%04x,%s", sum, body)
}

func encodeLayoutBody(geo *LayoutGeometry) string {
	base := fmt.Sprintf("%dx%d,%d,%d", geo.W, geo.H, geo.X, geo.Y)
	if geo.Type == LayoutLeaf {
		return fmt.Sprintf("%s,%d", base, geo.PaneID)
	}
	parts := make([]string, len(geo.Children))
	for i, c := range geo.Children {
		parts[i] = encodeLayoutBody(c)
	}
	open, close := "{", "}"
	if geo.Direction == SplitVertical {
		open, close = "[", "]"
	}
	return base + open + strings.Join(parts, ",") + close
}

// layoutChecksum is tmux's own rolling checksum (layout-custom.c): each byte
// rotates the running 16-bit sum right one bit, then adds the byte in.
func layoutChecksum(s string) uint16 {
	var csum uint16
	for i := 0; i < len(s); i++ {
		csum = (csum >> 1) | ((csum & 1) << 15)
		csum += uint16(s[i])
	}
	return csum
}

// DecodeLayoutString parses a canonical layout string, verifying its
// checksum, and returns the geometry tree it describes.
func DecodeLayoutString(s string) (*LayoutGeometry, error) {
	idx := strings.IndexByte(s, ',')
	if idx < 0 {
		return nil, fmt.Errorf("layout string: missing checksum separator")
	}
	sumStr, body := s[:idx], s[idx+1:]
	want, err := strconv.ParseUint(sumStr, 16, 16)
	if err != nil {
		return nil, fmt.Errorf("layout string: invalid checksum %q: %w", sumStr, err)
	}
	if got := layoutChecksum(body); got != uint16(want) {
		return nil, fmt.Errorf("layout string: checksum mismatch (got %04x, want %04x)", got, want)
	}
	p := &layoutParser{s: body}
	geo, err := p.parseCell()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("layout string: trailing data %q", p.s[p.pos:])
	}
	return geo, nil
}

type layoutParser struct {
	s   string
	pos int
}

func (p *layoutParser) parseCell() (*LayoutGeometry, error) {
	w, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	if err := p.expect('x'); err != nil {
		return nil, err
	}
	h, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	if err := p.expect(','); err != nil {
		return nil, err
	}
	x, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	if err := p.expect(','); err != nil {
		return nil, err
	}
	y, err := p.parseInt()
	if err != nil {
		return nil, err
	}

	geo := &LayoutGeometry{W: w, H: h, X: x, Y: y, Type: LayoutLeaf}

	if p.pos < len(p.s) && (p.s[p.pos] == '{' || p.s[p.pos] == '[') {
		open := p.s[p.pos]
		close := byte('}')
		geo.Type = LayoutSplit
		geo.Direction = SplitHorizontal
		if open == '[' {
			close = ']'
			geo.Direction = SplitVertical
		}
		p.pos++
		for {
			child, err := p.parseCell()
			if err != nil {
				return nil, err
			}
			geo.Children = append(geo.Children, child)
			if p.pos >= len(p.s) {
				return nil, fmt.Errorf("layout string: unterminated group")
			}
			if p.s[p.pos] == ',' {
				p.pos++
				continue
			}
			if p.s[p.pos] == close {
				p.pos++
				break
			}
			return nil, fmt.Errorf("layout string: unexpected byte %q", p.s[p.pos])
		}
		if len(geo.Children) != 2 {
			return nil, fmt.Errorf("layout string: group has %d cells, want 2 (binary split tree only)", len(geo.Children))
		}
		return geo, nil
	}

	// leaf: ",paneid"
	if err := p.expect(','); err != nil {
		return nil, err
	}
	id, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	geo.PaneID = id
	return geo, nil
}

func (p *layoutParser) expect(b byte) error {
	if p.pos >= len(p.s) || p.s[p.pos] != b {
		return fmt.Errorf("layout string: expected %q at offset %d", b, p.pos)
	}
	p.pos++
	return nil
}

func (p *layoutParser) parseInt() (int, error) {
	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == start {
		return 0, fmt.Errorf("layout string: expected digits at offset %d", start)
	}
	n, err := strconv.Atoi(p.s[start:p.pos])
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GeometryToLayoutNode rebuilds a ratio-bearing LayoutNode tree from a
// decoded geometry tree, recovering each split's ratio from the relative
// sizes of its two children so the tree can keep driving future resizes.
func GeometryToLayoutNode(geo *LayoutGeometry) *LayoutNode {
	if geo == nil {
		return nil
	}
	if geo.Type == LayoutLeaf {
		return newLeafLayout(geo.PaneID)
	}
	node := &LayoutNode{Type: LayoutSplit, Direction: geo.Direction}
	left, right := geo.Children[0], geo.Children[1]
	switch geo.Direction {
	case SplitVertical:
		total := left.H + right.H
		if total > 0 {
			node.Ratio = float64(left.H) / float64(total)
		} else {
			node.Ratio = 0.5
		}
	default:
		total := left.W + right.W
		if total > 0 {
			node.Ratio = float64(left.W) / float64(total)
		} else {
			node.Ratio = 0.5
		}
	}
	node.Children[0] = GeometryToLayoutNode(left)
	node.Children[1] = GeometryToLayoutNode(right)
	return node
}
