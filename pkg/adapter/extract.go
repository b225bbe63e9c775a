package adapter

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \\t]*\\r?\\n?(.*?)```")

// ExtractJSON finds a JSON value embedded in model output. It accepts a bare
// JSON document, the first fenced code block holding valid JSON, or the
// outermost object/array slice surrounded by prose. The bool is false when no
// JSON could be found; that is not an error.
func ExtractJSON(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	if candidate, ok := validJSON(trimmed); ok {
		return candidate, true
	}

	for _, match := range fencedBlock.FindAllStringSubmatch(trimmed, -1) {
		if candidate, ok := validJSON(strings.TrimSpace(match[1])); ok {
			return candidate, true
		}
	}

	return sliceJSON(trimmed)
}

func validJSON(s string) (json.RawMessage, bool) {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	if !json.Valid([]byte(s)) {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, false
	}
	return json.RawMessage(buf.Bytes()), true
}

func sliceJSON(s string) (json.RawMessage, bool) {
	type span struct{ open, close byte }
	spans := []span{{'{', '}'}, {'[', ']'}}

	bestStart := -1
	var best json.RawMessage
	for _, sp := range spans {
		start := strings.IndexByte(s, sp.open)
		end := strings.LastIndexByte(s, sp.close)
		if start < 0 || end <= start {
			continue
		}
		if candidate, ok := validJSON(s[start : end+1]); ok {
			if bestStart < 0 || start < bestStart {
				bestStart = start
				best = candidate
			}
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}
