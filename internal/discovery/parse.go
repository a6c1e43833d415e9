package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

var errNoObject = errors.New("no JSON object found in response")

// parseResponse accepts raw JSON, JSON in a fenced code block, or JSON surrounded by prose.
// The last resort repairs the first object candidate.
func parseResponse(raw string) (*response, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty response")
	}

	if out, err := decodeObject(raw); err == nil {
		return out, nil
	}
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		if out, err := decodeObject(m[1]); err == nil {
			return out, nil
		}
	}

	candidate, balanced := firstObject(raw)
	if candidate == "" {
		return nil, errNoObject
	}
	if balanced {
		if out, err := decodeObject(candidate); err == nil {
			return out, nil
		}
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("json repair failed: %w", err)
	}
	out, err := decodeObject(repaired)
	if err != nil {
		return nil, fmt.Errorf("unmarshal failed after repair: %w", err)
	}
	return out, nil
}

func decodeObject(s string) (*response, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, errNoObject
	}
	var out response
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// firstObject returns the first balanced {...} in s, skipping braces inside strings. When the
// object never closes it returns the unterminated tail and false.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
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
				return s[start : i+1], true
			}
		}
	}
	return s[start:], false
}
