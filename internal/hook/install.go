package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/steveyegge/agentbridge/internal/util"
)

// DefaultCommand is the hook command written into settings.
const DefaultCommand = "agentbridge hook stop"

// DefaultSettingsPath returns ~/.claude/settings.json.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "settings.json")
	}
	return filepath.Join(home, ".claude", "settings.json")
}

type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type hookEntry struct {
	Matcher string        `json:"matcher,omitempty"`
	Hooks   []hookCommand `json:"hooks"`
}

// settings is the part of settings.json Install reads. Entries stay raw so
// fields this package does not know survive a rewrite.
type settings struct {
	Hooks map[string][]json.RawMessage `json:"hooks"`
}

// Install adds a Stop hook running command to the Claude Code settings file
// at path. Comments and formatting elsewhere in the file are preserved. It
// reports whether the file changed; a hook already running command is left
// alone.
func Install(path, command string) (bool, error) {
	if command == "" {
		command = DefaultCommand
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("reading settings: %w", err)
	}
	if len(data) == 0 {
		data = []byte("{}")
	}

	v, err := hujson.Parse(data)
	if err != nil {
		return false, fmt.Errorf("parsing settings %s: %w", path, err)
	}

	std := v.Clone()
	std.Standardize()
	var current settings
	if err := json.Unmarshal(std.Pack(), &current); err != nil {
		return false, fmt.Errorf("parsing settings %s: %w", path, err)
	}

	entry := hookEntry{Hooks: []hookCommand{{Type: "command", Command: command}}}
	patch, err := stopHookPatch(current, entry, command)
	if err != nil {
		return false, err
	}
	if patch == nil {
		return false, nil
	}

	if err := v.Patch(patch); err != nil {
		return false, fmt.Errorf("updating settings: %w", err)
	}
	v.Format()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating settings dir: %w", err)
	}
	if err := util.AtomicWriteFile(path, v.Pack(), 0o600); err != nil {
		return false, fmt.Errorf("writing settings: %w", err)
	}
	return true, nil
}

// Installed reports whether settings at path already run command on Stop.
func Installed(path, command string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading settings: %w", err)
	}
	std, err := hujson.Standardize(data)
	if err != nil {
		return false, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	var current settings
	if err := json.Unmarshal(std, &current); err != nil {
		return false, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	return hasCommand(current.Hooks["Stop"], command), nil
}

// stopHookPatch builds the JSON Patch that adds entry. It returns nil when
// command is already configured.
func stopHookPatch(current settings, entry hookEntry, command string) ([]byte, error) {
	type op struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		Value any    `json:"value"`
	}

	var ops []op
	stop, hasStop := current.Hooks["Stop"]
	switch {
	case hasCommand(stop, command):
		return nil, nil
	case current.Hooks == nil:
		ops = append(ops, op{"add", "/hooks", map[string][]hookEntry{"Stop": {entry}}})
	case !hasStop:
		ops = append(ops, op{"add", "/hooks/Stop", []hookEntry{entry}})
	default:
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("encoding hook entry: %w", err)
		}
		ops = append(ops, op{"replace", "/hooks/Stop", append(stop, raw)})
	}

	b, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encoding settings patch: %w", err)
	}
	return b, nil
}

func hasCommand(entries []json.RawMessage, command string) bool {
	for _, raw := range entries {
		var e hookEntry
		if json.Unmarshal(raw, &e) != nil {
			continue
		}
		for _, h := range e.Hooks {
			if h.Command == command {
				return true
			}
		}
	}
	return false
}
