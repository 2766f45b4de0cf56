// Package prompt recognizes the target application's startup prompts in
// raw terminal output by plain substring matching.
package prompt

import "strconv"

// Kind indicates what a matched marker means for the handshake.
type Kind string

const (
	// KindTrust is the workspace trust confirmation prompt.
	KindTrust Kind = "trust"
	// KindReady means the application accepts typed input.
	KindReady Kind = "ready"
)

// Pattern is a literal marker searched for in terminal output.
type Pattern struct {
	Name string
	Text string
	Kind Kind
}

// Default marker texts.
const (
	TrustPromptText   = "Do you trust the files in this folder?"
	ReadyGlyphText    = "> "
	ShortcutsHintText = "for shortcuts"
)

// DefaultPatterns returns the built-in markers.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "trust_folder", Text: TrustPromptText, Kind: KindTrust},
		{Name: "input_glyph", Text: ReadyGlyphText, Kind: KindReady},
		{Name: "shortcuts_hint", Text: ShortcutsHintText, Kind: KindReady},
	}
}

// PatternsFor builds a marker set from configured texts.
func PatternsFor(trust string, ready []string) []Pattern {
	var patterns []Pattern
	if trust != "" {
		patterns = append(patterns, Pattern{Name: "trust_folder", Text: trust, Kind: KindTrust})
	}
	for i, text := range ready {
		if text == "" {
			continue
		}
		patterns = append(patterns, Pattern{Name: "ready_" + strconv.Itoa(i), Text: text, Kind: KindReady})
	}
	return patterns
}
