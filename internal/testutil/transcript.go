package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// AssistantText is a transcript record of an assistant turn with text.
func AssistantText(text string) string {
	b, _ := json.Marshal(map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []map[string]string{{"type": "text", "text": text}},
		},
	})
	return string(b)
}

// AssistantToolUse is a transcript record of a tool-only assistant turn.
func AssistantToolUse(tool string) string {
	b, _ := json.Marshal(map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []map[string]string{{"type": "tool_use", "name": tool}},
		},
	})
	return string(b)
}

// WriteTranscript writes records as a JSONL transcript in a temp dir and
// returns its path.
func WriteTranscript(t *testing.T, records ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(records, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("writing transcript: %v", err)
	}
	return path
}
