// Package logstream reads run logs: whole-file parsing and live tailing.
package logstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// TypeText classifies lines that are not JSON records with a type field
const TypeText = "text"

// Entry is one non-empty line of a run log
type Entry struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Raw    string          `json:"raw"`
	Parsed json.RawMessage `json:"parsed"`
}

// ParseLine builds the entry for the n-th (1-based) non-empty line.
func ParseLine(n int, line string) Entry {
	e := Entry{
		ID:   fmt.Sprintf("log-%d", n),
		Type: TypeText,
		Raw:  line,
	}
	if !json.Valid([]byte(line)) {
		return e
	}
	e.Parsed = json.RawMessage(line)
	if t := gjson.Get(line, "type"); t.Type == gjson.String && t.Str != "" {
		e.Type = t.Str
	}
	return e
}

// ParseEntries parses every non-empty line, numbering entries by position.
func ParseEntries(content string) []Entry {
	lines := Lines(content)
	entries := make([]Entry, len(lines))
	for i, line := range lines {
		entries[i] = ParseLine(i+1, line)
	}
	return entries
}

// Lines splits content into its non-empty lines, tolerating CRLF.
func Lines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Tail returns the last n non-empty lines joined by newlines.
func Tail(content string, n int) string {
	lines := Lines(content)
	if n >= 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ReadAll parses the whole file once; a missing file has no entries.
func ReadAll(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, err
	}
	return ParseEntries(string(data)), nil
}

// ReadTail returns the last n lines of the file, or "" when it cannot be read.
func ReadTail(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return Tail(string(data), n)
}
