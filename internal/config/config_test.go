package config

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeApplier struct {
	options  []optionCall
	binds    []bindCall
	unbinds  []bindCall
	commands []string
}

type optionCall struct {
	scope OptionScope
	name  string
	value string
}

type bindCall struct {
	table   string
	key     string
	command string
	repeat  bool
}

func (f *fakeApplier) SetOption(scope OptionScope, name, value string) error {
	f.options = append(f.options, optionCall{scope, name, value})
	return nil
}

func (f *fakeApplier) Bind(table, key, command string, repeat bool) error {
	f.binds = append(f.binds, bindCall{table, key, command, repeat})
	return nil
}

func (f *fakeApplier) Unbind(table, key string) error {
	f.unbinds = append(f.unbinds, bindCall{table: table, key: key})
	return nil
}

func (f *fakeApplier) RunCommand(command string) error {
	f.commands = append(f.commands, command)
	return nil
}

func withHome(t *testing.T, dir string) {
	t.Helper()
	prev := userHomeDirFn
	userHomeDirFn = func() (string, error) { return dir, nil }
	t.Cleanup(func() { userHomeDirFn = prev })
}

func TestSearchPathsOrder(t *testing.T) {
	withHome(t, "/home/u")
	paths := SearchPaths()
	want := []string{
		"/home/u/.psmux.conf",
		"/home/u/.psmuxrc",
		"/home/u/.tmux.conf",
		"/home/u/.config/psmux/psmux.conf",
	}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if filepath.ToSlash(paths[i]) != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestLoadAppliesSetOptionBindAndUnbind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "psmux.conf")
	content := `# a comment
set-option -g prefix C-a
bind-key -T prefix c new-window
bind-key -r Left select-pane -L
unbind-key -T prefix x
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	app := &fakeApplier{}
	if err := Load(path, app); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(app.options) != 1 || app.options[0].name != "prefix" || app.options[0].value != "C-a" {
		t.Fatalf("options = %+v", app.options)
	}
	if len(app.binds) != 2 {
		t.Fatalf("binds = %+v", app.binds)
	}
	if app.binds[0].table != "prefix" || app.binds[0].key != "c" || app.binds[0].command != "new-window" {
		t.Fatalf("binds[0] = %+v", app.binds[0])
	}
	if !app.binds[1].repeat || app.binds[1].key != "Left" || app.binds[1].command != "select-pane -L" {
		t.Fatalf("binds[1] = %+v", app.binds[1])
	}
	if len(app.unbinds) != 1 || app.unbinds[0].key != "x" {
		t.Fatalf("unbinds = %+v", app.unbinds)
	}
}

func TestLoadLineContinuation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "psmux.conf")
	content := "bind-key -T prefix c \\\n    new-window\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	app := &fakeApplier{}
	if err := Load(path, app); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(app.binds) != 1 || app.binds[0].command != "new-window" {
		t.Fatalf("binds = %+v", app.binds)
	}
}

func TestLoadIfEndifFalseBranchSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "psmux.conf")
	content := `%if "#{nonexistent_var}"
set-option -g prefix C-z
%endif
set-option -g repeat-time 100
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	app := &fakeApplier{}
	if err := Load(path, app); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(app.options) != 1 || app.options[0].name != "repeat-time" {
		t.Fatalf("options = %+v, want only repeat-time applied", app.options)
	}
}

func TestLoadSourceFileRecursion(t *testing.T) {
	dir := t.TempDir()
	child := filepath.Join(dir, "child.conf")
	if err := os.WriteFile(child, []byte("set-option -g status off\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	parent := filepath.Join(dir, "parent.conf")
	if err := os.WriteFile(parent, []byte("source-file child.conf\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	app := &fakeApplier{}
	if err := Load(parent, app); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(app.options) != 1 || app.options[0].name != "status" {
		t.Fatalf("options = %+v", app.options)
	}
}

func TestLoadSourceFileCycleDetected(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.conf")
	b := filepath.Join(dir, "b.conf")
	if err := os.WriteFile(a, []byte("source-file b.conf\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("source-file a.conf\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	app := &fakeApplier{}
	if err := Load(a, app); err == nil {
		t.Fatal("expected a cycle-detection error")
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	app := &fakeApplier{}
	if err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"), app); err != nil {
		t.Fatalf("Load() error = %v, want nil for a missing path with no search fallback", err)
	}
}

func TestLoadUnknownDirectivePassesThrough(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "psmux.conf")
	if err := os.WriteFile(path, []byte("new-session -d -s main\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	app := &fakeApplier{}
	if err := Load(path, app); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(app.commands) != 1 || app.commands[0] != "new-session -d -s main" {
		t.Fatalf("commands = %v", app.commands)
	}
}

func TestEnsureFileCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	withHome(t, dir)
	path := filepath.Join(dir, ".psmux.conf")

	got, err := EnsureFile("")
	if err != nil {
		t.Fatalf("EnsureFile() error = %v", err)
	}
	if got != path {
		t.Fatalf("EnsureFile() path = %q, want %q", got, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}

	// Calling again must not error or clobber an existing file.
	if _, err := EnsureFile(path); err != nil {
		t.Fatalf("second EnsureFile() error = %v", err)
	}
}

func TestBlockedKeyNamesReturnsCopy(t *testing.T) {
	a := BlockedKeyNames()
	a["INJECTED"] = struct{}{}
	b := BlockedKeyNames()
	if _, ok := b["INJECTED"]; ok {
		t.Fatal("BlockedKeyNames() should return an independent copy each call")
	}
	if _, ok := b["PATH"]; !ok {
		t.Fatal("expected PATH in the blocked key set")
	}
}
