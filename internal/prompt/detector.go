package prompt

import (
	"errors"
	"strings"
	"sync"
)

// Detection is a marker found in output.
type Detection struct {
	Pattern Pattern
	Offset  int // byte offset of the match in the searched text
}

// Detector finds known markers in terminal output.
type Detector struct {
	patterns       []Pattern
	customPatterns []Pattern
	mu             sync.RWMutex
}

// NewDetector creates a detector with the default markers.
func NewDetector() *Detector {
	return NewDetectorWith(DefaultPatterns())
}

// NewDetectorWith creates a detector with the given base markers.
func NewDetectorWith(patterns []Pattern) *Detector {
	return &Detector{patterns: patterns}
}

// AddPattern adds a custom marker, checked before the base markers.
func (d *Detector) AddPattern(p Pattern) error {
	if p.Text == "" {
		return errors.New("pattern text is empty")
	}
	switch p.Kind {
	case KindTrust, KindReady:
	default:
		return errors.New("unknown pattern kind: " + string(p.Kind))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.customPatterns = append(d.customPatterns, p)
	return nil
}

// Detect returns the first marker of the given kind found in text.
func (d *Detector) Detect(text string, kind Kind) *Detection {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, set := range [][]Pattern{d.customPatterns, d.patterns} {
		for _, p := range set {
			if p.Kind != kind {
				continue
			}
			if idx := strings.Index(text, p.Text); idx >= 0 {
				return &Detection{Pattern: p, Offset: idx}
			}
		}
	}
	return nil
}

// DetectAll returns every marker present in text, custom markers first.
func (d *Detector) DetectAll(text string) []Detection {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var detections []Detection
	for _, set := range [][]Pattern{d.customPatterns, d.patterns} {
		for _, p := range set {
			if idx := strings.Index(text, p.Text); idx >= 0 {
				detections = append(detections, Detection{Pattern: p, Offset: idx})
			}
		}
	}
	return detections
}

// LongestMarker returns the length of the longest marker text, the tail
// a caller must keep to see markers split across output chunks.
func (d *Detector) LongestMarker() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	longest := 0
	for _, set := range [][]Pattern{d.customPatterns, d.patterns} {
		for _, p := range set {
			if len(p.Text) > longest {
				longest = len(p.Text)
			}
		}
	}
	return longest
}
