package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/models"
)

// ParseObject decodes a JSON object from model output into dest.
//
// Plain JSON yields ParseOutcomeParsed. Output that needed code fences
// stripped, surrounding prose dropped, or a truncated tail closed yields
// ParseOutcomeRepaired. Anything else returns ParseOutcomeFallback and an
// error wrapping apperrors.ErrMalformedOutput; dest is then left unspecified.
func ParseObject(raw string, dest interface{}) (models.ParseOutcome, error) {
	return parse(raw, '{', '}', dest)
}

// ParseArray is ParseObject for a top-level JSON array. A truncated array is
// cut back to its last complete object and closed.
func ParseArray(raw string, dest interface{}) (models.ParseOutcome, error) {
	return parse(raw, '[', ']', dest)
}

func parse(raw string, open, close byte, dest interface{}) (models.ParseOutcome, error) {
	text := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(text), dest); err == nil {
		return models.ParseOutcomeParsed, nil
	}

	for _, candidate := range repairCandidates(text, open, close) {
		if err := json.Unmarshal([]byte(candidate), dest); err == nil {
			return models.ParseOutcomeRepaired, nil
		}
	}

	return models.ParseOutcomeFallback, fmt.Errorf("could not decode %q: %w", preview(text), apperrors.ErrMalformedOutput)
}

// repairCandidates lists progressively more aggressive rewrites of text.
func repairCandidates(text string, open, close byte) []string {
	var candidates []string

	body := StripCodeFences(text)
	if body != text {
		candidates = append(candidates, body)
	}

	start := strings.IndexByte(body, open)
	if start < 0 {
		return candidates
	}
	body = body[start:]

	if end := strings.LastIndexByte(body, close); end >= 0 {
		candidates = append(candidates, body[:end+1])
	}

	if open == '[' {
		if last := strings.LastIndexByte(body, '}'); last >= 0 {
			candidates = append(candidates, strings.TrimRight(body[:last+1], " \n\t,")+"]")
		}
	}

	candidates = append(candidates, closeTruncated(body))
	return candidates
}

// StripCodeFences removes a leading ``` or ```json fence and a trailing fence.
func StripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// closeTruncated terminates an open string and appends the closing brackets
// for every container still open at the end of s.
func closeTruncated(s string) string {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)

	for i := 0; i < len(s); i++ {
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}

	out := strings.TrimRight(b.String(), " \n\t")
	switch {
	case strings.HasSuffix(out, ","):
		out = strings.TrimSuffix(out, ",")
	case strings.HasSuffix(out, ":"):
		out += "null"
	}

	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

func preview(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
