package entdriver

import (
	"context"
	"fmt"
)

// schema is portable between SQLite and PostgreSQL. Timestamps are stored
// as UTC unix nanoseconds, string sets as JSON arrays and raw dead-letter
// payloads as base64.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS summaries (
		id VARCHAR(255) PRIMARY KEY,
		agent_id VARCHAR(255) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		period_start BIGINT NOT NULL,
		period_end BIGINT NOT NULL,
		body TEXT NOT NULL,
		record TEXT NOT NULL,
		topics TEXT NOT NULL,
		entities TEXT NOT NULL,
		source_ids TEXT NOT NULL,
		turn_count INTEGER NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS summaries_agent_kind_end ON summaries (agent_id, kind, period_end)`,
	`CREATE TABLE IF NOT EXISTS rollup_cursors (
		agent_id VARCHAR(255) NOT NULL,
		target_kind VARCHAR(32) NOT NULL,
		high_water_mark BIGINT NOT NULL,
		PRIMARY KEY (agent_id, target_kind)
	)`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
		id VARCHAR(64) PRIMARY KEY,
		session_id VARCHAR(255) NOT NULL,
		agent_id VARCHAR(255) NOT NULL,
		job TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		last_error TEXT NOT NULL,
		failed_at BIGINT NOT NULL,
		reason VARCHAR(64) NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		agent_id VARCHAR(255) NOT NULL,
		label VARCHAR(255) NOT NULL,
		value TEXT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (agent_id, label)
	)`,
}

// addedColumns were introduced after their table. Databases created before
// then get them through ALTER TABLE.
var addedColumns = []struct {
	table, column, definition string
}{
	{tableDeadLetters, "reason", "VARCHAR(64) NOT NULL DEFAULT ''"},
	{tableDeadLetters, "payload", "TEXT NOT NULL DEFAULT ''"},
}

// Migrate creates any missing tables, indexes and columns. It only ever
// adds schema.
func (ed *EntDriver) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := ed.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	for _, c := range addedColumns {
		if ed.hasColumn(ctx, c.table, c.column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.definition)
		if _, err := ed.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

func (ed *EntDriver) hasColumn(ctx context.Context, table, column string) bool {
	rows, err := ed.DB.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE 1 = 0", column, table))
	if err != nil {
		return false
	}
	rows.Close()
	return true
}
