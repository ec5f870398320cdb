package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"psmux/internal/cmdline"
)

// applyDirective tokenizes one resolved config line and routes it: the four
// directives a config file can contain that this package itself understands
// (set-option, bind-key, unbind-key, source-file) and everything else passed
// through to applier.RunCommand verbatim, the same grammar runtime commands
// use.
func applyDirective(line string, applier Applier, baseDir string, visited map[string]struct{}) error {
	words, err := cmdline.Split(line)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return nil
	}

	switch words[0] {
	case "set-option", "set":
		return applySetOption(words[1:], applier)
	case "bind-key", "bind":
		return applyBindKey(words[1:], applier)
	case "unbind-key", "unbind":
		return applyUnbindKey(words[1:], applier)
	case "source-file", "source":
		return applySourceFile(words[1:], applier, baseDir, visited)
	case "set-environment", "setenv":
		if len(words) >= 2 {
			warnIfBlockedEnvKey(words[len(words)-2])
		}
		return applier.RunCommand(line)
	default:
		return applier.RunCommand(line)
	}
}

// applySetOption handles "set-option [-g|-s|-w|-p] name value...".
func applySetOption(args []string, applier Applier) error {
	scope := ScopeGlobal
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-g":
			scope = ScopeGlobal
		case "-s":
			scope = ScopeSession
		case "-w":
			scope = ScopeWindow
		case "-p":
			scope = ScopePane
		default:
			goto parsed
		}
		i++
	}
parsed:
	if i >= len(args) {
		return fmt.Errorf("set-option: missing option name")
	}
	name := args[i]
	value := strings.Join(args[i+1:], " ")
	return applier.SetOption(scope, name, value)
}

// applyBindKey handles "bind-key [-r] [-T table] key command...".
func applyBindKey(args []string, applier Applier) error {
	table := "prefix"
	repeat := false
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-r":
			repeat = true
			i++
		case "-T":
			if i+1 >= len(args) {
				return fmt.Errorf("bind-key: -T requires a table name")
			}
			table = args[i+1]
			i += 2
		default:
			goto parsed
		}
	}
parsed:
	if i >= len(args) {
		return fmt.Errorf("bind-key: missing key")
	}
	key := args[i]
	if i+1 >= len(args) {
		return fmt.Errorf("bind-key: missing command for key %s", key)
	}
	command := strings.Join(args[i+1:], " ")
	return applier.Bind(table, key, command, repeat)
}

// applyUnbindKey handles "unbind-key [-T table] key".
func applyUnbindKey(args []string, applier Applier) error {
	table := "prefix"
	i := 0
	for i < len(args) && args[i] == "-T" {
		if i+1 >= len(args) {
			return fmt.Errorf("unbind-key: -T requires a table name")
		}
		table = args[i+1]
		i += 2
	}
	if i >= len(args) {
		return fmt.Errorf("unbind-key: missing key")
	}
	return applier.Unbind(table, args[i])
}

func applySourceFile(args []string, applier Applier, baseDir string, visited map[string]struct{}) error {
	if len(args) == 0 {
		return fmt.Errorf("source-file: missing path")
	}
	path := args[len(args)-1]
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	matches, err := filepath.Glob(path)
	if err != nil {
		return fmt.Errorf("source-file: glob %s: %w", path, err)
	}
	if len(matches) == 0 {
		matches = []string{path}
	}
	for _, m := range matches {
		if err := loadFile(m, applier, visited); err != nil {
			return err
		}
	}
	return nil
}
