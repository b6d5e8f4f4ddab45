package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
)

// canonical returns the absolute, symlink-resolved form of p. When p does
// not exist, its nearest existing ancestor is resolved and the remainder
// appended.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	check := abs
	for {
		parent := filepath.Dir(check)
		if parent == check {
			return abs, nil
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, err := filepath.Rel(parent, abs)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rel), nil
		}
		check = parent
	}
}

// within reports whether path lies strictly inside root. Both must be
// canonical.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ContentType maps an artifact file name to its HTTP content type.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mid", ".midi":
		return "audio/midi"
	case ".xml", ".musicxml":
		return "application/xml"
	default:
		return "application/octet-stream"
	}
}
