// Package format implements the tmux-style "#{...}" status-line and
// list-format expansion language: plain variable substitution, ternary
// conditionals, comparison/logic operators, string modifiers, and
// window/pane/session loops. It knows nothing about sessions, windows, or
// panes itself — callers adapt their own data model to the Vars interface.
package format

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// Vars supplies the variables, and the iteration targets for loop
// expressions, that a format string can reference.
type Vars interface {
	// Get resolves a single variable name (without the "#{"/"}" wrapper).
	Get(name string) (string, bool)
	// Windows returns one Vars per window for "#{W:...}" loops, in display order.
	Windows() []Vars
	// Panes returns one Vars per pane for "#{P:...}" loops, in display order.
	Panes() []Vars
	// Sessions returns one Vars per session for "#{S:...}" loops, in display order.
	Sessions() []Vars
}

// Expand substitutes every "#{...}" expression and bare "#X" escape in
// format using v.
func Expand(format string, v Vars) string {
	var b strings.Builder
	expandInto(&b, format, v)
	return b.String()
}

// ExpandWithTime expands format and then applies strftime(3)-style
// substitution to the result using now, matching tmux's behavior of
// applying time formatting to the fully expanded status-line text.
func ExpandWithTime(format string, v Vars, now time.Time) string {
	expanded := Expand(format, v)
	if !strings.ContainsRune(expanded, '%') {
		return expanded
	}
	return strftime.Format(expanded, now)
}

func expandInto(b *strings.Builder, format string, v Vars) {
	i := 0
	for i < len(format) {
		c := format[i]
		if c != '#' || i+1 >= len(format) {
			b.WriteByte(c)
			i++
			continue
		}
		next := format[i+1]
		if next == '#' {
			b.WriteByte('#')
			i += 2
			continue
		}
		if next == '{' {
			end := matchBrace(format, i+1)
			if end < 0 {
				b.WriteString(format[i:])
				return
			}
			inner := format[i+2 : end]
			b.WriteString(evalExpr(inner, v))
			i = end + 1
			continue
		}
		if repl, ok := bareEscape(next, v); ok {
			b.WriteString(repl)
			i += 2
			continue
		}
		b.WriteByte(c)
		i++
	}
}

// matchBrace returns the index of the '}' matching the '{' at format[open],
// honoring "#{" nesting.
func matchBrace(format string, open int) int {
	depth := 0
	for i := open; i < len(format); i++ {
		switch format[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func bareEscape(c byte, v Vars) (string, bool) {
	switch c {
	case 'S':
		return lookup(v, "session_name"), true
	case 'W':
		return lookup(v, "window_name"), true
	case 'H':
		return lookup(v, "host"), true
	case 'I':
		return lookup(v, "window_index"), true
	case 'P':
		return lookup(v, "pane_index"), true
	case 'T':
		return lookup(v, "pane_title"), true
	case 'D':
		return lookup(v, "pane_id"), true
	default:
		return "", false
	}
}

func lookup(v Vars, name string) string {
	s, _ := v.Get(name)
	return s
}

var operators = []string{"==", "!=", "<=", ">=", "&&", "||", "<", ">"}

func splitOperator(expr string) (op, rest string, ok bool) {
	for _, o := range operators {
		prefix := o + ":"
		if strings.HasPrefix(expr, prefix) {
			return o, expr[len(prefix):], true
		}
	}
	return "", "", false
}

func evalExpr(expr string, v Vars) string {
	switch {
	case strings.HasPrefix(expr, "?"):
		return evalConditional(expr[1:], v)
	case strings.HasPrefix(expr, "l:"):
		return expr[2:]
	case strings.HasPrefix(expr, "b:"):
		return filepath.Base(strings.TrimRight(Expand(expr[2:], v), `\/`))
	case strings.HasPrefix(expr, "d:"):
		return filepath.Dir(Expand(expr[2:], v))
	case strings.HasPrefix(expr, "u:"):
		return strings.ToUpper(Expand(expr[2:], v))
	case strings.HasPrefix(expr, "L:"):
		return strings.ToLower(Expand(expr[2:], v))
	case strings.HasPrefix(expr, "W:"):
		return joinLoop(v.Windows(), expr[2:])
	case strings.HasPrefix(expr, "P:"):
		return joinLoop(v.Panes(), expr[2:])
	case strings.HasPrefix(expr, "S:"):
		return joinLoop(v.Sessions(), expr[2:])
	}
	if op, rest, ok := splitOperator(expr); ok {
		return evalComparison(op, rest, v)
	}
	name := Expand(expr, v)
	if s, ok := v.Get(name); ok {
		return s
	}
	return ""
}

func evalConditional(rest string, v Vars) string {
	parts := splitTopLevelArgs(rest, ',')
	if len(parts) < 2 {
		return ""
	}
	cond := Expand(parts[0], v)
	if truthy(cond) {
		return Expand(parts[1], v)
	}
	if len(parts) >= 3 {
		return Expand(parts[2], v)
	}
	return ""
}

func evalComparison(op, rest string, v Vars) string {
	parts := splitTopLevelArgs(rest, ',')
	if len(parts) != 2 {
		return "0"
	}
	a := Expand(parts[0], v)
	b := Expand(parts[1], v)

	var result bool
	switch op {
	case "&&":
		result = truthy(a) && truthy(b)
	case "||":
		result = truthy(a) || truthy(b)
	default:
		af, aerr := strconv.ParseFloat(a, 64)
		bf, berr := strconv.ParseFloat(b, 64)
		if aerr == nil && berr == nil {
			result = compareNumeric(op, af, bf)
		} else {
			result = compareString(op, a, b)
		}
	}
	if result {
		return "1"
	}
	return "0"
}

func compareNumeric(op string, a, b float64) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	}
	return false
}

func compareString(op string, a, b string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	}
	return false
}

func truthy(s string) bool { return s != "" && s != "0" }

func joinLoop(items []Vars, format string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString(Expand(format, item))
	}
	return b.String()
}

// splitTopLevelArgs splits s on sep, ignoring occurrences inside nested
// "#{...}" groups.
func splitTopLevelArgs(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	i := 0
	for i < len(s) {
		if s[i] == '#' && i+1 < len(s) && s[i+1] == '{' {
			depth++
			i += 2
			continue
		}
		if s[i] == '}' && depth > 0 {
			depth--
		}
		if s[i] == sep && depth == 0 {
			parts = append(parts, s[start:i])
			start = i + 1
		}
		i++
	}
	parts = append(parts, s[start:])
	return parts
}
