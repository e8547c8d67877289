// Package postgres stores reverie state in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	entdriver "github.com/papercomputeco/reverie/pkg/storage/ent/driver"
)

const (
	applicationName = "reverie"
	maxOpenConns    = 16
	connIdleTimeout = 5 * time.Minute
	pingTimeout     = 10 * time.Second
)

// Driver is the ent storage driver on a pgx connection pool.
type Driver struct {
	*entdriver.EntDriver
}

// NewDriver connects to dsn, either key=value pairs or a postgres:// URI,
// and migrates the schema. Connections report application_name "reverie"
// unless dsn sets one.
func NewDriver(ctx context.Context, dsn string) (*Driver, error) {
	cc, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if _, ok := cc.RuntimeParams["application_name"]; !ok {
		cc.RuntimeParams["application_name"] = applicationName
	}

	db := stdlib.OpenDB(*cc)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxIdleTime(connIdleTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("reaching postgres at %s:%d: %w", cc.Host, cc.Port, err)
	}

	drv := entdriver.New(db, dialect.Postgres)
	if err := drv.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Driver{EntDriver: drv}, nil
}
