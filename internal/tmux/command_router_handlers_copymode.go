package tmux

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"

	"psmux/internal/copymode"
	"psmux/internal/ipc"
)

// handleCopyMode implements "copy-mode": enter copy mode on the target pane
// (or the caller's pane), seeded from its live grid.
func (r *CommandRouter) handleCopyMode(req ipc.TmuxRequest) ipc.TmuxResponse {
	target, err := r.resolveTargetFromRequest(req)
	if err != nil {
		return errResp(err)
	}
	if r.opts.Grids == nil {
		return errResp(fmt.Errorf("copy mode unavailable: no grid source configured"))
	}
	g := r.opts.Grids.Get(target.IDString())
	if g == nil {
		return errResp(fmt.Errorf("pane has no live grid: %s", target.IDString()))
	}
	cols, rows := target.Width, target.Height
	if cols <= 0 {
		cols = DefaultTerminalCols
	}
	if rows <= 0 {
		rows = DefaultTerminalRows
	}
	if _, err := r.sessions.EnterCopyMode(target.ID, g, cols, rows); err != nil {
		return errResp(err)
	}
	r.emitter.Emit("tmux:copy-mode-entered", map[string]any{"paneId": target.IDString()})
	return okResp("")
}

// copyModeCommandTable maps send-keys -X command names to Mode operations.
// Mirrors tmux's copy-mode-vi command set; each entry reports whether the
// cursor/selection state actually changed (used for -X commands whose
// failure should be visible, like search-forward finding nothing).
var copyModeCommandTable = map[string]func(*copyModeExec, []string) bool{
	"cursor-left":            func(c *copyModeExec, _ []string) bool { c.mode.MoveChar(-1, 0); return true },
	"cursor-right":           func(c *copyModeExec, _ []string) bool { c.mode.MoveChar(1, 0); return true },
	"cursor-up":              func(c *copyModeExec, _ []string) bool { c.mode.MoveChar(0, -1); return true },
	"cursor-down":            func(c *copyModeExec, _ []string) bool { c.mode.MoveChar(0, 1); return true },
	"start-of-line":          func(c *copyModeExec, _ []string) bool { c.mode.MoveLineStart(); return true },
	"end-of-line":            func(c *copyModeExec, _ []string) bool { c.mode.MoveLineEnd(); return true },
	"page-up":                func(c *copyModeExec, _ []string) bool { c.mode.PageUp(); return true },
	"page-down":              func(c *copyModeExec, _ []string) bool { c.mode.PageDown(); return true },
	"halfpage-up":            func(c *copyModeExec, _ []string) bool { c.mode.HalfPageUp(); return true },
	"halfpage-down":          func(c *copyModeExec, _ []string) bool { c.mode.HalfPageDown(); return true },
	"top-line":               func(c *copyModeExec, _ []string) bool { c.mode.ScreenTop(); return true },
	"middle-line":            func(c *copyModeExec, _ []string) bool { c.mode.ScreenMiddle(); return true },
	"bottom-line":            func(c *copyModeExec, _ []string) bool { c.mode.ScreenBottom(); return true },
	"history-top":            func(c *copyModeExec, _ []string) bool { c.mode.HistoryTop(); return true },
	"history-bottom":         func(c *copyModeExec, _ []string) bool { c.mode.HistoryBottom(); return true },
	"next-word":              func(c *copyModeExec, _ []string) bool { c.mode.MoveWordForward(false); return true },
	"next-word-end":          func(c *copyModeExec, _ []string) bool { c.mode.MoveWordForward(false); return true },
	"previous-word":          func(c *copyModeExec, _ []string) bool { c.mode.MoveWordBackward(false); return true },
	"next-space":             func(c *copyModeExec, _ []string) bool { c.mode.MoveWordForward(true); return true },
	"previous-space":         func(c *copyModeExec, _ []string) bool { c.mode.MoveWordBackward(true); return true },
	"begin-selection":        func(c *copyModeExec, _ []string) bool { c.mode.BeginSelection(); return true },
	"select-line":            func(c *copyModeExec, _ []string) bool { c.mode.ToggleLineSelection(); return true },
	"rectangle-toggle":       func(c *copyModeExec, _ []string) bool { c.mode.ToggleRectangleSelection(); return true },
	"clear-selection":        func(c *copyModeExec, _ []string) bool { c.mode.ClearSelection(); return true },
	"other-end":              func(c *copyModeExec, _ []string) bool { c.mode.OtherEnd(); return true },
	"jump-again":             func(c *copyModeExec, _ []string) bool { return c.mode.RepeatFind(false) },
	"jump-reverse":           func(c *copyModeExec, _ []string) bool { return c.mode.RepeatFind(true) },
	"search-again":           func(c *copyModeExec, _ []string) bool { return c.mode.RepeatSearch(false) },
	"search-reverse":         func(c *copyModeExec, _ []string) bool { return c.mode.RepeatSearch(true) },
	"search-forward":         func(c *copyModeExec, args []string) bool { return c.mode.SearchForward(strings.Join(args, " ")) },
	"search-backward":        func(c *copyModeExec, args []string) bool { return c.mode.SearchBackward(strings.Join(args, " ")) },
	"copy-selection":         func(c *copyModeExec, args []string) bool { return c.copyOut(args, false) },
	"copy-selection-and-cancel": func(c *copyModeExec, args []string) bool { return c.copyOut(args, true) },
	"cancel":                 func(c *copyModeExec, _ []string) bool { c.cancel = true; return true },
}

// copyModeExec bundles the state one -X command needs: the Mode being
// driven, the SessionManager/pane for buffer writes and mode exit, and
// whether this command ended copy mode (copy-and-cancel, cancel).
type copyModeExec struct {
	mode   *copymode.Mode
	sess   *SessionManager
	pane   *TmuxPane
	cancel bool
}

func (c *copyModeExec) copyOut(args []string, andCancel bool) bool {
	text := c.mode.Selection()
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	c.sess.PasteBuffers.Set(name, []byte(text))
	if err := clipboard.WriteAll(text); err != nil {
		slog.Debug("[copymode] clipboard write failed, paste buffer still set", "error", err)
	}
	c.mode.ClearSelection()
	if andCancel {
		c.cancel = true
	}
	return true
}

// handleSendKeysCopyModeX implements "send-keys -X <command> [args...]":
// driving an active copy-mode pane instead of writing raw bytes to its PTY.
func (r *CommandRouter) handleSendKeysCopyModeX(target *TmuxPane, args []string) ipc.TmuxResponse {
	if len(args) == 0 {
		return errResp(fmt.Errorf("send-keys -X requires a command name"))
	}
	mode, ok := r.sessions.CopyModeFor(target.ID)
	if !ok {
		return errResp(fmt.Errorf("pane is not in copy mode: %s", target.IDString()))
	}
	fn, ok := copyModeCommandTable[args[0]]
	if !ok {
		return errResp(fmt.Errorf("unknown copy-mode command: %s", args[0]))
	}
	exec := &copyModeExec{mode: mode, sess: r.sessions, pane: target}
	changed := fn(exec, args[1:])
	if exec.cancel {
		r.sessions.ExitCopyMode(target.ID)
	}
	if !changed {
		return errResp(fmt.Errorf("copy-mode command had no effect: %s", args[0]))
	}
	return okResp("")
}

// handlePasteBuffer implements "paste-buffer": writes a named (or
// most-recently-set) paste buffer's contents to the target pane's terminal.
func (r *CommandRouter) handlePasteBuffer(req ipc.TmuxRequest) ipc.TmuxResponse {
	target, err := r.resolveTargetFromRequest(req)
	if err != nil {
		return errResp(err)
	}
	if target.Terminal == nil {
		return errResp(fmt.Errorf("pane has no terminal: %s", target.IDString()))
	}
	name := mustString(req.Flags["-b"])
	buf, ok := r.sessions.PasteBuffers.Get(name)
	if !ok {
		return errResp(fmt.Errorf("no buffer found: %s", name))
	}
	if _, err := target.Terminal.Write(buf.Data); err != nil {
		return errResp(err)
	}
	return okResp("")
}

// handleSetBuffer implements "set-buffer -b name text...".
func (r *CommandRouter) handleSetBuffer(req ipc.TmuxRequest) ipc.TmuxResponse {
	name := mustString(req.Flags["-b"])
	text := strings.Join(req.Args, " ")
	actual := r.sessions.PasteBuffers.Set(name, []byte(text))
	return okResp(actual)
}

// handleShowBuffer implements "show-buffer -b name".
func (r *CommandRouter) handleShowBuffer(req ipc.TmuxRequest) ipc.TmuxResponse {
	name := mustString(req.Flags["-b"])
	buf, ok := r.sessions.PasteBuffers.Get(name)
	if !ok {
		return errResp(fmt.Errorf("no buffer found: %s", name))
	}
	return okResp(string(buf.Data))
}

// handleListBuffers implements "list-buffers".
func (r *CommandRouter) handleListBuffers(_ ipc.TmuxRequest) ipc.TmuxResponse {
	var b strings.Builder
	for _, name := range r.sessions.PasteBuffers.List() {
		buf, ok := r.sessions.PasteBuffers.Get(name)
		if !ok {
			continue
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(strconv.Itoa(len(buf.Data)))
		b.WriteString(" bytes\n")
	}
	return okResp(b.String())
}

// handleDeleteBuffer implements "delete-buffer -b name".
func (r *CommandRouter) handleDeleteBuffer(req ipc.TmuxRequest) ipc.TmuxResponse {
	name := mustString(req.Flags["-b"])
	if !r.sessions.PasteBuffers.Delete(name) {
		return errResp(fmt.Errorf("no buffer found: %s", name))
	}
	return okResp("")
}
