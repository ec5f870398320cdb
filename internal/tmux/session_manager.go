package tmux

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"psmux/internal/copymode"
	"psmux/internal/terminal"
)

// TmuxSession models a tmux-like session.
type TmuxSession struct {
	ID           int               `json:"id"`
	Name         string            `json:"name"`
	Windows      []*TmuxWindow     `json:"windows"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"-"`
	IsIdle       bool              `json:"-"`
	Env          map[string]string `json:"env,omitempty"`

	// IsAgentTeam is omitted when false. Frontend treats missing as false.
	IsAgentTeam bool `json:"is_agent_team,omitempty"`

	// Worktree metadata grouped as one logical unit.
	// Nil means no worktree-related metadata is attached to the session.
	Worktree *SessionWorktreeInfo `json:"worktree,omitempty"`

	// RootPath is the user-selected directory at session creation time.
	// Set via SetRootPath independently from SetWorktreeInfo; for worktree sessions,
	// this stores the repository root (not the worktree directory) for conflict detection.
	RootPath string `json:"root_path,omitempty"`

	// ActiveWindowID is the ID of the currently active window.
	ActiveWindowID int `json:"-"`

	// UseClaudeEnv/UsePaneEnv are tri-state overrides (nil means "inherit
	// default") toggled by SetUseClaudeEnv/SetUsePaneEnv and consulted by
	// the command router's environment-fill logic.
	UseClaudeEnv *bool `json:"-"`
	UsePaneEnv   *bool `json:"-"`

	// Options holds session-scoped option overrides (set-option without -g).
	Options *Options `json:"-"`
	// Hooks holds session-scoped hook registrations (set-hook without -g).
	Hooks *Hooks `json:"-"`
}

// SessionWorktreeInfo is frontend-safe git/worktree metadata for a session.
//
// Variant semantics:
//   - Worktree session: Path is non-empty (worktree directory), RepoPath is repository root.
//   - Repo-tracked session: Path is empty, RepoPath/BranchName carry repository metadata only.
type SessionWorktreeInfo struct {
	Path       string `json:"path,omitempty"`
	RepoPath   string `json:"repo_path,omitempty"`
	BranchName string `json:"branch_name,omitempty"`
	BaseBranch string `json:"base_branch,omitempty"`
	// Keep explicit false in JSON so frontend can distinguish false from missing.
	IsDetached bool `json:"is_detached"`
}

// IsEmpty reports whether worktree metadata carries no meaningful value.
// This function assumes fields are already normalized; callers that accept
// user input must trim whitespace before calling IsEmpty.
func (info *SessionWorktreeInfo) IsEmpty() bool {
	if info == nil {
		return true
	}
	return info.Path == "" &&
		info.RepoPath == "" &&
		info.BranchName == "" &&
		info.BaseBranch == "" &&
		!info.IsDetached
}

// IsWorktreeSession reports whether this metadata points to an actual worktree path.
func (info *SessionWorktreeInfo) IsWorktreeSession() bool {
	return info != nil && strings.TrimSpace(info.Path) != ""
}

// TmuxWindow models a tmux-like window.
type TmuxWindow struct {
	ID     int         `json:"id"`
	Name   string      `json:"name"`
	Panes  []*TmuxPane `json:"panes"`
	Layout *LayoutNode `json:"layout"`
	// ActivePN is the 0-based index into the Panes slice identifying the active pane.
	// Kept in sync with TmuxPane.Index (which equals the pane's slice position).
	ActivePN int          `json:"active_pane"`
	Session  *TmuxSession `json:"-"`

	// Options holds window-scoped option overrides (set-option -w).
	Options *Options `json:"-"`
}

// TmuxPane models a tmux-like pane.
type TmuxPane struct {
	ID       int                `json:"id"`
	idString string             // cached "%N" form, set once at construction
	Index    int                `json:"index"`
	Terminal *terminal.Terminal `json:"-"`
	Title    string             `json:"title,omitempty"`
	Active   bool               `json:"active"`
	Width    int                `json:"width"`
	Height   int                `json:"height"`
	Env      map[string]string  `json:"env,omitempty"`
	Window   *TmuxWindow        `json:"-"`

	// Options holds pane-scoped option overrides (set-option -p).
	Options *Options `json:"-"`

	// CopyMode is non-nil while the pane is in copy mode; EnterCopyMode/
	// ExitCopyMode on SessionManager own its lifecycle.
	CopyMode *copymode.Mode `json:"-"`
}

func (p *TmuxPane) IDString() string {
	if p.idString != "" {
		return p.idString
	}
	return fmt.Sprintf("%%%d", p.ID)
}

// PaneSnapshot is a frontend-safe pane representation.
type PaneSnapshot struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	Title  string `json:"title,omitempty"`
	Active bool   `json:"active"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// WindowSnapshot is a frontend-safe window representation.
type WindowSnapshot struct {
	ID     int         `json:"id"`
	Name   string      `json:"name"`
	Layout *LayoutNode `json:"layout"`
	// ActivePN is the 0-based index into the Panes slice identifying the active pane.
	// Mirrors TmuxWindow.ActivePN.
	ActivePN int            `json:"active_pane"`
	Panes    []PaneSnapshot `json:"panes"`
}

// SessionSnapshot is a frontend-safe session representation.
type SessionSnapshot struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	IsIdle    bool      `json:"is_idle"`
	// IsAgentTeam is omitted when false. Frontend treats missing as false.
	IsAgentTeam bool             `json:"is_agent_team,omitempty"`
	Windows     []WindowSnapshot `json:"windows"`

	Worktree *SessionWorktreeInfo `json:"worktree,omitempty"`
	RootPath string               `json:"root_path,omitempty"`
}

func (p *TmuxPane) ttyPath() string {
	return fmt.Sprintf(`\\.\conpty\%%%d`, p.ID)
}

// SessionManager owns session/window/pane state.
type SessionManager struct {
	sessions map[string]*TmuxSession
	panes    map[int]*TmuxPane

	nextSessionID int
	nextWindowID  int
	nextPaneID    int
	now           func() time.Time
	idleThreshold time.Duration

	// activePaneID/lastPaneID back the "{last}" target token (target.go):
	// the pane active before the most recent pane/window switch.
	activePaneID int
	lastPaneID   int

	// sortedSessionNames caches the by-ID-ascending session name order
	// computed by sortedSessionNamesLocked; invalidated (set nil) by
	// markSessionMapMutationLocked whenever the session map's key set
	// changes (create/rename/remove), recomputed lazily on next read.
	// Snapshot and ListSessions sort sessions themselves and do not use it.
	sortedSessionNames []string

	// stateGeneration/topologyGeneration count mutations so that a reader
	// can tell whether anything changed since it last looked, without
	// diffing the whole tree. Topology = pane/window tree shape; state =
	// everything else (options, env, titles, idle flags). They are only
	// incremented; nothing in the repository reads them.
	stateGeneration    uint64
	topologyGeneration uint64

	// GlobalOptions/GlobalHooks are the server-wide option/hook scope, the
	// bottom of the OptionChain fallthrough for every session/window/pane.
	GlobalOptions *Options
	GlobalHooks   *Hooks

	// Bindings is the server-wide key table (shared across all clients;
	// tmux has no per-session binding scope).
	Bindings *Bindings

	// PasteBuffers is the server-wide paste-buffer stack.
	PasteBuffers *PasteBuffers

	mu sync.RWMutex
}

// NewSessionManager creates a SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions:      map[string]*TmuxSession{},
		panes:         map[int]*TmuxPane{},
		activePaneID:  -1,
		lastPaneID:    -1,
		now:           time.Now,
		idleThreshold: 5 * time.Second,
		GlobalOptions: NewOptions(),
		GlobalHooks:   NewHooks(),
		Bindings:      NewBindings(),
		PasteBuffers:  NewPasteBuffers(),
	}
}

// OptionChainFor builds the resolution chain for pane, falling through its
// window and session scopes down to the server-wide global scope.
func (m *SessionManager) OptionChainFor(pane *TmuxPane) OptionChain {
	chain := OptionChain{Global: m.GlobalOptions}
	if pane == nil {
		return chain
	}
	chain.Pane = pane.Options
	if pane.Window != nil {
		chain.Window = pane.Window.Options
		if pane.Window.Session != nil {
			chain.Session = pane.Window.Session.Options
		}
	}
	return chain
}
