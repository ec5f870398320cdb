// Package config loads the tmux-syntax config file: search-order
// resolution, comment/continuation handling, %if/%endif conditionals, and
// source-file recursion with cycle detection. Parsed directives are applied
// through the Applier interface so this package never imports internal/tmux
// directly, mirroring the GridSource decoupling CommandRouter tests use.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	// Use a short linear backoff: baseDelay * (1..maxRenameRetry).
	renameRetryBaseDelay = 10 * time.Millisecond
)

var userHomeDirFn = os.UserHomeDir

// errSourceCycle marks a source-file chain that revisits a file; unlike other
// directive failures it aborts the whole load.
var errSourceCycle = errors.New("config: source-file cycle detected")

// Applier receives the directives a config file resolves to. RunCommand
// carries anything that isn't bind-key/unbind-key/set-option/source-file —
// the same command grammar CommandRouter.Execute runs at runtime.
type Applier interface {
	SetOption(scope OptionScope, name, value string) error
	Bind(table, key, command string, repeat bool) error
	Unbind(table, key string) error
	RunCommand(command string) error
}

// OptionScope mirrors tmux.OptionScope without importing internal/tmux;
// SetOption callers translate this to their own scope type.
type OptionScope int

const (
	ScopeGlobal OptionScope = iota
	ScopeSession
	ScopeWindow
	ScopePane
)

// candidateNames are tried in order under the user's home directory, then
// under XDG-style config dir, mirroring tmux's own search order.
var candidateNames = []string{".psmux.conf", ".psmuxrc"}

// SearchPaths returns the config file locations checked at server start, in
// priority order: ~/.psmux.conf, ~/.psmuxrc, ~/.tmux.conf,
// ~/.config/psmux/psmux.conf.
func SearchPaths() []string {
	home, err := userHomeDirFn()
	if err != nil || strings.TrimSpace(home) == "" {
		return nil
	}
	paths := make([]string, 0, len(candidateNames)+2)
	for _, name := range candidateNames {
		paths = append(paths, filepath.Join(home, name))
	}
	paths = append(paths, filepath.Join(home, ".tmux.conf"))
	paths = append(paths, filepath.Join(home, ".config", "psmux", "psmux.conf"))
	return paths
}

// DefaultPath returns the first existing file in SearchPaths, or the first
// candidate (for EnsureFile to create) if none exist.
func DefaultPath() string {
	paths := SearchPaths()
	if len(paths) == 0 {
		return ""
	}
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return paths[0]
}

// Load resolves path (or the search order, if path is empty), applying every
// directive it sources through applier. A missing config file is not an
// error: a server with no config file simply runs with built-in defaults.
func Load(path string, applier Applier) error {
	if applier == nil {
		return errors.New("config: Load requires a non-nil Applier")
	}
	if strings.TrimSpace(path) == "" {
		path = firstExisting(SearchPaths())
		if path == "" {
			return nil
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	visited := make(map[string]struct{})
	return loadFile(path, applier, visited)
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func loadFile(path string, applier Applier, visited map[string]struct{}) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %q: %w", path, err)
	}
	if _, seen := visited[abs]; seen {
		return fmt.Errorf("%w at %s", errSourceCycle, abs)
	}
	visited[abs] = struct{}{}

	data, err := readLimitedFile(abs, maxConfigFileBytes)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", abs, err)
	}

	lines, err := logicalLines(string(data))
	if err != nil {
		return fmt.Errorf("config: %s: %w", abs, err)
	}

	for lineNo, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := applyDirective(line, applier, filepath.Dir(abs), visited); err != nil {
			if errors.Is(err, errSourceCycle) {
				return err
			}
			slog.Warn("[WARN-CONFIG] directive failed", "file", abs, "line", lineNo+1, "text", line, "error", err)
		}
	}
	return nil
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file exceeds %d byte limit", maxBytes)
	}
	return data, nil
}

// EnsureFile creates a minimal default config at path (or DefaultPath() if
// path is empty) if no file exists yet there, and returns the path used.
func EnsureFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	if path == "" {
		return "", errors.New("config: cannot resolve a default path")
	}
	if home, err := userHomeDirFn(); err == nil && strings.TrimSpace(home) != "" {
		if abs, absErr := filepath.Abs(path); absErr == nil && !pathWithinDir(abs, home) {
			return "", fmt.Errorf("config: refusing to create file outside home directory: %s", abs)
		}
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := atomicWrite(path, []byte(defaultConfigTemplate)); err != nil {
		return "", err
	}
	return path, nil
}

const defaultConfigTemplate = `# psmux configuration.
# Syntax matches runtime commands: one directive per line, "\" continues a
# line, "#" starts a comment, and %if/%endif bracket conditional blocks.

set-option -g prefix C-b
set-option -g escape-time 500
set-option -g repeat-time 500
`

func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".psmux.conf.tmp.*")
	if err != nil {
		return fmt.Errorf("config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}

// pathWithinDir blocks directory traversal by ensuring path is under dir.
// It also rejects Windows cross-drive escapes because filepath.Rel returns
// an absolute path when roots differ.
func pathWithinDir(path string, dir string) bool {
	relativePath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if relativePath == "." {
		return true
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(relativePath)
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}

// warnOnlyBlockedKeys lists system environment keys that set-environment
// directives should not override. This is a config-layer early warning; the
// authoritative blocklist lives in tmux.blockedEnvironmentKeys and is
// enforced at process creation time.
var warnOnlyBlockedKeys = map[string]struct{}{
	"PATH":         {},
	"PATHEXT":      {},
	"COMSPEC":      {},
	"SYSTEMROOT":   {},
	"WINDIR":       {},
	"SYSTEMDRIVE":  {},
	"APPDATA":      {},
	"LOCALAPPDATA": {},
	"PSMODULEPATH": {},
	"TEMP":         {},
	"TMP":          {},
	"USERPROFILE":  {},
}

// BlockedKeyNames returns the set of environment variable names this package
// warns about in set-environment directives. Exported for a guard test that
// verifies consistency with tmux.blockedEnvironmentKeys.
func BlockedKeyNames() map[string]struct{} {
	cp := make(map[string]struct{}, len(warnOnlyBlockedKeys))
	maps.Copy(cp, warnOnlyBlockedKeys)
	return cp
}

func warnIfBlockedEnvKey(key string) {
	if _, blocked := warnOnlyBlockedKeys[strings.ToUpper(strings.TrimSpace(key))]; blocked {
		slog.Warn("[WARN-CONFIG] set-environment targets a reserved system variable", "key", key)
	}
}
