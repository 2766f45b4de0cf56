// Package transcript reads the newline-delimited JSON transcripts the
// target writes and checks that a submitted message was persisted.
package transcript

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// KindUser is the record type carrying user input.
const KindUser = "user"

var (
	// ErrMalformed marks a line that is not valid JSON.
	ErrMalformed = errors.New("malformed JSON")
	// ErrMissingType marks a JSON line without a string "type" field.
	ErrMissingType = errors.New(`missing "type" field`)
)

// Record is one transcript line.
type Record struct {
	Line int    // 1-based line number
	Kind string // value of the "type" field
	Raw  string
}

// ParseError describes a line that could not be used. Parsing continues
// past it.
type ParseError struct {
	Line int
	Err  error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e ParseError) Unwrap() error { return e.Err }

// Parse splits data into records. Every line is parsed on its own; blank
// lines are skipped and unusable lines are reported without stopping.
func Parse(data []byte) ([]Record, []ParseError) {
	var records []Record
	var errs []ParseError

	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		n := i + 1
		if !gjson.ValidBytes(line) {
			errs = append(errs, ParseError{Line: n, Err: ErrMalformed})
			continue
		}
		kind := gjson.GetBytes(line, "type")
		if kind.Type != gjson.String {
			errs = append(errs, ParseError{Line: n, Err: ErrMissingType})
			continue
		}
		records = append(records, Record{Line: n, Kind: kind.Str, Raw: string(line)})
	}
	return records, errs
}

// Texts returns the textual payloads of the record. Supported shapes:
//
//	{"message": {"content": "text"}}
//	{"message": {"content": [{"type": "text", "text": "..."}, ...]}}
//	{"message": "text"}
//	{"content": "text"}
//
// For content arrays with several text blocks the joined text is
// returned as well.
func (r Record) Texts() []string {
	doc := gjson.Parse(r.Raw)
	var texts []string

	msg := doc.Get("message")
	switch {
	case msg.Type == gjson.String:
		texts = append(texts, msg.Str)
	case msg.IsObject():
		texts = appendContent(texts, msg.Get("content"))
	}
	texts = appendContent(texts, doc.Get("content"))
	return texts
}

func appendContent(texts []string, content gjson.Result) []string {
	if content.Type == gjson.String {
		return append(texts, content.Str)
	}
	if !content.IsArray() {
		return texts
	}

	var blocks []string
	content.ForEach(func(_, block gjson.Result) bool {
		switch {
		case block.Type == gjson.String:
			blocks = append(blocks, block.Str)
		case block.Get("type").Str == "text":
			blocks = append(blocks, block.Get("text").Str)
		}
		return true
	})
	texts = append(texts, blocks...)
	if len(blocks) > 1 {
		texts = append(texts, strings.Join(blocks, ""))
	}
	return texts
}

// MatchMode decides how a payload is compared with the expected message.
type MatchMode string

const (
	// MatchExact requires equality after trimming surrounding whitespace.
	MatchExact MatchMode = "exact"
	// MatchContains requires the expected message as a substring.
	MatchContains MatchMode = "contains"
)

// ParseMatchMode validates a configured mode. Empty means exact.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(s) {
	case "", MatchExact:
		return MatchExact, nil
	case MatchContains:
		return MatchContains, nil
	default:
		return "", fmt.Errorf("unknown match mode %q (want %q or %q)", s, MatchExact, MatchContains)
	}
}

// Matches reports whether text satisfies expected under the mode.
func (m MatchMode) Matches(text, expected string) bool {
	if m == MatchContains {
		return strings.Contains(text, expected)
	}
	return strings.TrimSpace(text) == strings.TrimSpace(expected)
}

// Find returns the first record of kind with a payload matching expected.
func Find(records []Record, kind, expected string, mode MatchMode) (Record, string, bool) {
	for _, rec := range records {
		if rec.Kind != kind {
			continue
		}
		for _, text := range rec.Texts() {
			if mode.Matches(text, expected) {
				return rec, text, true
			}
		}
	}
	return Record{}, "", false
}
