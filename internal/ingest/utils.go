package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
)

// partial-download and editor lock suffixes that never hold a finished scan
var transientSuffixes = []string{".part", ".crdownload", ".download", ".tmp", "~"}

// Extractable reports whether path names a finished upload this pipeline
// accepts. Scanner and browser leftovers such as "plan.pdf.part" or
// "~$sheet.pdf" are rejected even when the inner extension matches.
func Extractable(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if strings.HasPrefix(base, "~$") {
		return false
	}
	for _, s := range transientSuffixes {
		if strings.HasSuffix(base, s) {
			return false
		}
	}
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(base))]
	return ok
}

// Hidden reports whether the last path element is a dotfile.
func Hidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 1 && base[0] == '.' && base != ".."
}
