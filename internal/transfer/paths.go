package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath marks a name reported by an engine that would land outside its folder.
var ErrUnsafePath = errors.New("path leaves the download folder")

// LocalPath joins a slash-separated relative path reported by an engine under dir.
func LocalPath(dir, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))

	if rel == "" || clean == "." || clean == ".." || filepath.IsAbs(clean) ||
		strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}

	return filepath.Join(dir, clean), nil
}
