package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docanalysis/constants"
)

// AllowedExt reports whether files with this extension can be analyzed.
func AllowedExt(ext string) bool {
	return constants.ContentTypeForExt(ext) != ""
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return base != "." && strings.HasPrefix(base, ".")
}
