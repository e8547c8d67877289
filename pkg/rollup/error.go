package rollup

import "errors"

// ErrNotRollupKind is returned when asked to roll up a kind that is not
// built from lower-tier summaries.
var ErrNotRollupKind = errors.New("kind is not a rollup kind")
