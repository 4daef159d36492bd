package vision

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON digs a JSON object out of a model reply. Models wrap JSON in
// prose, fence it, or truncate it mid-array; each step recovers one of
// those failure shapes:
//
//  1. strip a fenced ``` block
//  2. parse as-is
//  3. parse the outermost { ... } span
//  4. truncation repair: from the first {, close unclosed brackets by count
func ExtractJSON(text string) (map[string]any, error) {
	candidate := stripFence(strings.TrimSpace(text))

	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out, nil
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(candidate[start:end+1]), &out); err == nil {
			return out, nil
		}
	}

	if start >= 0 {
		repaired := closeBrackets(candidate[start:])
		if err := json.Unmarshal([]byte(repaired), &out); err == nil {
			return out, nil
		}
	}

	return nil, ErrNoJSON
}

// stripFence removes a markdown code fence, with or without a language tag.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		// Fence may start mid-prose.
		if i := strings.Index(s, "```"); i >= 0 {
			inner := s[i:]
			if j := strings.Index(inner[3:], "```"); j >= 0 {
				return stripFence(inner)
			}
		}
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		// Drop the language tag line ("json").
		if !strings.Contains(s[:i], "{") {
			s = s[i+1:]
		}
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// closeBrackets appends the closers for every [ and { left open outside of
// string literals, after trimming a dangling partial token.
func closeBrackets(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	// A reply cut inside a string needs the quote closed first.
	if inString {
		s += `"`
	}
	// Trim a trailing comma so the repaired document stays valid.
	trimmed := strings.TrimRight(s, " \n\t")
	trimmed = strings.TrimSuffix(trimmed, ",")

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			trimmed += "}"
		} else {
			trimmed += "]"
		}
	}
	return trimmed
}
