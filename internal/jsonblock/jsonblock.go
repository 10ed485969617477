// Package jsonblock recovers JSON payloads from LLM responses.
//
// Models asked for structured output frequently wrap it in markdown fences or
// surround it with prose. Extract applies a fixed recovery ladder so callers
// get the payload whenever one is present at all.
package jsonblock

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fencedRe matches a ```json ... ``` (or bare ``` ... ```) block and captures
// its body.
var fencedRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractError reports that no parseable JSON could be recovered from a
// response. RawSize and RawPrefix describe the offending text for logs; the
// full response is never embedded in the error string.
type ExtractError struct {
	RawSize   int
	RawPrefix string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("jsonblock: no parseable JSON in response (%d bytes, starts %q)", e.RawSize, e.RawPrefix)
}

// Extract recovers a JSON value from text. It tries, in order:
//
//  1. parsing the whole trimmed text directly;
//  2. the body of the first ```json fenced block;
//  3. the span from the first '{' or '[' to the matching last '}' or ']'.
//
// The returned bytes are valid JSON. When every step fails, the error is an
// *ExtractError.
func Extract(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)

	if isValid(trimmed) {
		return []byte(trimmed), nil
	}

	if m := fencedRe.FindStringSubmatch(trimmed); m != nil {
		body := strings.TrimSpace(m[1])
		if isValid(body) {
			return []byte(body), nil
		}
	}

	if span := braceSpan(trimmed); span != "" && isValid(span) {
		return []byte(span), nil
	}

	prefix := trimmed
	if len(prefix) > 120 {
		prefix = prefix[:120]
	}
	return nil, &ExtractError{RawSize: len(text), RawPrefix: prefix}
}

// Unmarshal extracts JSON from text and decodes it into v.
func Unmarshal(text string, v any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("jsonblock: decode: %w", err)
	}
	return nil
}

func isValid(s string) bool {
	if s == "" {
		return false
	}
	return json.Valid([]byte(s))
}

// braceSpan returns the widest object or array span in s, or "".
func braceSpan(s string) string {
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			return s[start : end+1]
		}
	}
	return ""
}
