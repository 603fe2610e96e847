package executor

import (
	"strings"

	"github.com/tidwall/gjson"
)

// SessionID extracts the resumable session id from one JSONL record.
// Besides {"type":"session.started","session_id":...} the agent's
// {"type":"thread.started","thread_id":...} form is accepted.
func SessionID(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' || !gjson.Valid(line) {
		return ""
	}
	fields := gjson.GetMany(line, "type", "session_id", "thread_id")
	switch fields[0].String() {
	case "session.started":
		return fields[1].String()
	case "thread.started":
		return fields[2].String()
	}
	return ""
}

// ScanSessionID returns the first session id found in multi-line output.
func ScanSessionID(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if id := SessionID(line); id != "" {
			return id
		}
	}
	return ""
}

// lineScanner reassembles chunks into lines and remembers the first session id.
type lineScanner struct {
	partial []byte
	found   string
}

func (s *lineScanner) feed(chunk []byte) string {
	if s.found != "" {
		return s.found
	}
	data := append(s.partial, chunk...)
	for {
		i := indexNewline(data)
		if i < 0 {
			break
		}
		if id := SessionID(string(data[:i])); id != "" {
			s.found = id
			s.partial = nil
			return id
		}
		data = data[i+1:]
	}
	s.partial = append(s.partial[:0], data...)
	return ""
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}
