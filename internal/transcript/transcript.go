// Package transcript reads Claude Code session transcripts.
//
// A transcript is a JSONL file with one record per line. Assistant records
// carry the model's reply in message.content, which is either a plain
// string or a list of content blocks; only text blocks are user-visible.
package transcript

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
)

// contentBlock is one element of message.content.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type message struct {
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

type record struct {
	Type    string   `json:"type"`
	Message *message `json:"message,omitempty"`
}

// LastAssistantText returns the text of the last assistant record in the
// transcript at path that has any. Records without text, such as tool-use
// only turns, are skipped, as are lines that do not parse. It returns false
// when the file cannot be read or holds no assistant text.
func LastAssistantText(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return lastAssistantText(data)
}

// Offset returns the transcript's current size. Every turn appends to the
// file, so the size tells one turn's Stop apart from the next.
func Offset(path string) (int64, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

func lastAssistantText(data []byte) (string, bool) {
	lines := bytes.Split(data, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Type != "assistant" || rec.Message == nil {
			continue
		}
		if text := extractText(rec.Message.Content); text != "" {
			return text, true
		}
	}
	return "", false
}

// extractText joins the non-blank text parts of a content value with
// newlines. Content may be a string, or a list whose elements are strings
// or typed blocks.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	var parts []string
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			if t := strings.TrimSpace(str); t != "" {
				parts = append(parts, t)
			}
			continue
		}
		var block contentBlock
		if err := json.Unmarshal(item, &block); err != nil {
			continue
		}
		if block.Type != "text" {
			continue
		}
		if t := strings.TrimSpace(block.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
