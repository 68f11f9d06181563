package classifier

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the first brace-delimited JSON object in content that
// decodes cleanly. It is used when the model answers in free text.
func ExtractJSON(content string) (json.RawMessage, bool) {
	for start := strings.IndexByte(content, '{'); start >= 0; {
		if end := matchBrace(content, start); end > start {
			candidate := content[start : end+1]
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), true
			}
		}
		next := strings.IndexByte(content[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// Braces inside JSON strings are ignored.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
