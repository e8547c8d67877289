// Package dotdir locates the .reverie/ directory that holds config.toml
// and the default SQLite database.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Name is the directory name searched for in the working and home
// directories.
const Name = ".reverie"

// HomeEnv names a directory that replaces every lookup except an explicit
// override.
const HomeEnv = "REVERIE_HOME"

// Resolve returns the absolute reverie directory, creating it when missing.
// Precedence: override, $REVERIE_HOME, ./.reverie when it already exists,
// then ~/.reverie.
func Resolve(override string) (string, error) {
	dir := override
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(HomeEnv))
	}
	if dir == "" {
		dir = firstExisting()
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating home directory: %w", err)
		}
		dir = filepath.Join(home, Name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return filepath.Abs(dir)
}

// Candidates lists the conventional directories in lookup order without
// touching the filesystem. Entries that cannot be determined are skipped.
func Candidates() []string {
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, filepath.Join(cwd, Name))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, Name))
	}
	return dirs
}

// firstExisting returns the local directory only: the home directory is the
// default anyway.
func firstExisting() string {
	cands := Candidates()
	if len(cands) == 0 {
		return ""
	}
	if info, err := os.Stat(cands[0]); err == nil && info.IsDir() {
		return cands[0]
	}
	return ""
}
