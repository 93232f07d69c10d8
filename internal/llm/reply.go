package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoReply is returned when no JSON object with a reply field is found.
var ErrNoReply = errors.New("no JSON reply object in model output")

// ReplyField is the key the model is told to answer in.
const ReplyField = "reply"

// ParseReply extracts the reply text from model output that should be a
// single JSON object. Code fences and surrounding prose are tolerated; the
// first object carrying a string reply field wins.
func ParseReply(output string) (string, error) {
	for _, candidate := range findJSONCandidates(output) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
			continue
		}
		if text, ok := obj[ReplyField].(string); ok {
			return strings.TrimSpace(text), nil
		}
	}
	return "", ErrNoReply
}

// findJSONCandidates returns the top-level {...} spans of s, honoring string
// literals and escapes. Scanning bytes is safe for the ASCII delimiters since
// UTF-8 continuation bytes never collide with them.
func findJSONCandidates(s string) []string {
	var candidates []string
	depth, start := 0, -1
	inString, escape := false, false

	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}
