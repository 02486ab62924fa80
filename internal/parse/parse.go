// Package parse recovers structured decisions from raw model output.
//
// Models frequently wrap their JSON in markdown code fences, prepend
// prose, or both. Extract peels those artifacts away without ever
// attempting to repair the JSON itself: decoding (and decode failure)
// is the caller's concern.
package parse

import (
	"regexp"
	"strings"
)

var (
	jsonFence    = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	genericFence = regexp.MustCompile("(?s)```\\s*(.*?)```")
)

// Extract returns the best JSON candidate found in raw, in this order:
//
//  1. the outermost {...} inside the first ```json fenced block
//  2. the outermost {...} inside the first generic ``` fenced block
//  3. the outermost {...} anywhere in the text
//  4. the trimmed raw text unchanged
//
// Brace capture is greedy, from the first '{' to the last '}': decision
// payloads legitimately contain nested braces (argument values may be
// JSON fragments) and a non-greedy match would truncate them. A fence
// with no brace pair inside falls through to the next rule.
//
// Extract is a pure function: the same input always yields byte-identical
// output.
func Extract(raw string) string {
	if m := jsonFence.FindStringSubmatch(raw); m != nil {
		if obj, ok := outermostObject(m[1]); ok {
			return obj
		}
	}
	if m := genericFence.FindStringSubmatch(raw); m != nil {
		if obj, ok := outermostObject(m[1]); ok {
			return obj
		}
	}
	if obj, ok := outermostObject(raw); ok {
		return obj
	}
	return strings.TrimSpace(raw)
}

// outermostObject captures from the first '{' to the last '}' in s.
func outermostObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
