package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// idPattern is the canonical 8-4-4-4-12 hex form. uuid.Parse alone also
// accepts braces, urn: prefixes and the 32-digit form.
var idPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ErrInvalidID is returned for file stems that are not session identifiers.
var ErrInvalidID = errors.New("invalid session identifier")

// ID is a session identifier taken from a transcript file name.
type ID struct {
	Stem string
	UUID uuid.UUID
}

func (id ID) String() string {
	return id.Stem
}

// ParseID validates a file stem as a session identifier.
func ParseID(stem string) (ID, error) {
	if !idPattern.MatchString(stem) {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, stem)
	}
	u, err := uuid.Parse(stem)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: %v", ErrInvalidID, stem, err)
	}
	return ID{Stem: stem, UUID: u}, nil
}

// Stem returns the file name without its final extension.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ProjectDir returns the directory the target persists sessions for
// workdir into: every path separator of the absolute workdir is replaced
// with replacement and the result is joined under root.
func ProjectDir(root, workdir, replacement string) (string, error) {
	if root == "" {
		return "", errors.New("projects root is empty")
	}
	if !filepath.IsAbs(workdir) {
		return "", fmt.Errorf("workdir must be absolute: %q", workdir)
	}
	mangled := strings.ReplaceAll(filepath.Clean(workdir), string(filepath.Separator), replacement)
	return filepath.Join(root, mangled), nil
}
