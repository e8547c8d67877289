// Package utils holds small helpers shared across reverie packages.
package utils

import "fmt"

// Set with -ldflags "-X github.com/papercomputeco/reverie/pkg/utils.Version=..."
// at release time.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// BuildInfo is a one-line description of the running binary.
func BuildInfo() string {
	sha := Sha
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("reverie %s (%s, built %s)", Version, sha, Buildtime)
}
