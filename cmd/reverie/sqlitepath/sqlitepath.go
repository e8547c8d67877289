// Package sqlitepath locates the SQLite database used by reverie commands.
package sqlitepath

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/papercomputeco/reverie/pkg/dotdir"
)

// FileName is the default database file name.
const FileName = "reverie.sqlite"

// ResolveSQLitePath returns override when set, otherwise the first existing
// database among the well-known locations. When none exists yet, the
// database goes into dotdirTarget, or the working directory when that is
// empty.
func ResolveSQLitePath(override, dotdirTarget string) string {
	if override != "" {
		return override
	}

	for _, candidate := range sqliteCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if dotdirTarget != "" {
		return filepath.Join(dotdirTarget, FileName)
	}
	return FileName
}

func sqliteCandidates() []string {
	candidates := []string{FileName}
	for _, dir := range dotdir.Candidates() {
		candidates = append(candidates, filepath.Join(dir, FileName))
	}

	if xdgHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdgHome != "" {
		candidates = append(candidates, filepath.Join(xdgHome, "reverie", FileName))
	}

	return candidates
}
