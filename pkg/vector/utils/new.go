// Package vectorutils picks the vector.VectorDriver named in the config.
package vectorutils

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/reverie/pkg/config"
	"github.com/papercomputeco/reverie/pkg/vector"
	"github.com/papercomputeco/reverie/pkg/vector/qdrant"
	"github.com/papercomputeco/reverie/pkg/vector/sqlitevec"
)

// FromConfig opens the index described by vc. dims comes from the embedding
// config. For sqlite an empty target falls back to fallbackPath, the
// storage database.
func FromConfig(ctx context.Context, vc config.VectorStoreConfig, dims uint, fallbackPath string, log *slog.Logger) (vector.VectorDriver, error) {
	switch vc.Provider {
	case "qdrant":
		return qdrant.NewDriver(ctx, qdrant.Config{
			URL:        vc.Target,
			APIKey:     vc.APIKey,
			Collection: vc.Collection,
			Dimensions: dims,
		}, log)
	case "sqlite", "sqlite-vec":
		path := vc.Target
		if path == "" {
			path = fallbackPath
		}
		return sqlitevec.New(sqlitevec.Config{
			DBPath:     path,
			Dimensions: dims,
			Logger:     log,
		})
	}
	return nil, fmt.Errorf("unsupported vector store provider: %q", vc.Provider)
}
