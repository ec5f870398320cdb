package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"psmux/internal/grid"
)

// maxSessionFrameBytes bounds a single framed message on the persistent
// channel. Rendered frames are the largest payload (a full framebuffer), so
// this is considerably larger than maxPipeRequestBytes on the one-shot
// command channel.
const maxSessionFrameBytes = 8 * 1024 * 1024

// SessionMsgType discriminates the messages carried by the persistent
// attach channel, per spec: C->S carries input and control, S->C carries
// rendered output and notifications.
type SessionMsgType string

const (
	// Client -> server.
	MsgAuth    SessionMsgType = "auth"
	MsgKey     SessionMsgType = "key"
	MsgMouse   SessionMsgType = "mouse"
	MsgResize  SessionMsgType = "resize"
	MsgCommand SessionMsgType = "command"
	MsgDetach  SessionMsgType = "detach"
	MsgPing    SessionMsgType = "ping"

	// Server -> client.
	MsgAuthOK        SessionMsgType = "auth_ok"
	MsgAuthFail      SessionMsgType = "auth_fail"
	MsgRender        SessionMsgType = "render"
	MsgBell          SessionMsgType = "bell"
	MsgExit          SessionMsgType = "exit"
	MsgDetachNotice  SessionMsgType = "detach_notice"
	MsgCommandResult SessionMsgType = "command_result"
	MsgHeartbeat     SessionMsgType = "heartbeat"
	MsgPong          SessionMsgType = "pong"
)

// KeyEvent is a single parsed key press, already translated from whatever
// escape sequence the client's own terminal produced.
type KeyEvent struct {
	Key  string `json:"key"`            // e.g. "a", "Enter", "C-c", "Up"
	Rune rune   `json:"rune,omitempty"` // literal rune for printable keys
}

// MouseEvent is a parsed SGR/X10-style mouse report.
type MouseEvent struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button int    `json:"button"`
	Event  string `json:"event"` // "press", "release", "drag", "wheel"
}

// ResizeEvent reports a client's new viewport size.
type ResizeEvent struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// CommandPayload carries a command string for -C control-mode style input
// or send-command, over the same channel as key events.
type CommandPayload struct {
	Command string `json:"command"`
}

// RenderFrame is a composited framebuffer snapshot. Full frames carry every
// cell in row-major order; diff frames carry only the cells that changed
// since the previously sent frame, each tagged with its coordinates.
type RenderFrame struct {
	Cols  int        `json:"cols"`
	Rows  int        `json:"rows"`
	Full  bool       `json:"full"`
	Cells []WireCell `json:"cells"`
	Seq   uint64     `json:"seq"`
}

// WireCell is one cell of a RenderFrame. X and Y are meaningful (and
// populated) only on diff frames; full frames rely on row-major order
// instead, so X/Y are omitted from their JSON to save bandwidth.
type WireCell struct {
	X    int       `json:"x,omitempty"`
	Y    int       `json:"y,omitempty"`
	Cell grid.Cell `json:"cell"`
}

// SessionMessage is the single envelope type multiplexed over the
// persistent attach channel; exactly one payload field is populated
// according to Type.
type SessionMessage struct {
	Type SessionMsgType `json:"type"`

	AuthKey string `json:"auth_key,omitempty"`
	Reason  string `json:"reason,omitempty"`

	Key    *KeyEvent       `json:"key,omitempty"`
	Mouse  *MouseEvent     `json:"mouse,omitempty"`
	Resize *ResizeEvent    `json:"resize,omitempty"`
	Command *CommandPayload `json:"command,omitempty"`

	Render *RenderFrame  `json:"render,omitempty"`
	Result *TmuxResponse `json:"result,omitempty"`
}

// encodeSessionFrame length-prefixes a JSON-encoded message: a 4-byte
// big-endian length followed by that many bytes of JSON. A length prefix
// (rather than the one-shot protocol's newline delimiter) is required here
// because RenderFrame payloads may legitimately contain any byte value.
func encodeSessionFrame(msg SessionMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(body) > maxSessionFrameBytes {
		return nil, fmt.Errorf("session frame too large: %d bytes", len(body))
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	return buf, nil
}

// writeSessionFrame encodes msg and writes it to w in one call.
func writeSessionFrame(w io.Writer, msg SessionMessage) error {
	frame, err := encodeSessionFrame(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// readSessionFrame reads one length-prefixed frame from r and decodes it.
func readSessionFrame(r *bufio.Reader) (SessionMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return SessionMessage{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxSessionFrameBytes {
		return SessionMessage{}, fmt.Errorf("session frame exceeds %d bytes (got %d)", maxSessionFrameBytes, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return SessionMessage{}, err
	}
	var msg SessionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return SessionMessage{}, fmt.Errorf("decode session frame: %w", err)
	}
	return msg, nil
}

// DiffFrames returns the sparse set of cells that differ between prev and
// next, for the S->C diff-frame path. prev may be nil, in which case every
// cell of next is reported (equivalent to a full frame's cell list but
// still tagged with coordinates).
func DiffFrames(prev, next [][]grid.Cell) []WireCell {
	var diffs []WireCell
	for y, row := range next {
		var prevRow []grid.Cell
		if prev != nil && y < len(prev) {
			prevRow = prev[y]
		}
		for x, cell := range row {
			if prevRow != nil && x < len(prevRow) && prevRow[x] == cell {
				continue
			}
			diffs = append(diffs, WireCell{X: x, Y: y, Cell: cell})
		}
	}
	return diffs
}
