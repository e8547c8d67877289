// Package entdriver implements storage.Driver over database/sql, building
// dialect-specific statements with ent's SQL builder. It is database-agnostic
// and is embedded by the sqlite and postgres drivers.
package entdriver

import (
	"context"
	stdsql "database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
)

const (
	tableSummaries   = "summaries"
	tableCursors     = "rollup_cursors"
	tableDeadLetters = "dead_letters"
	tableBlocks      = "blocks"
)

var summaryColumns = []string{
	"id", "agent_id", "kind", "period_start", "period_end", "body", "record",
	"topics", "entities", "source_ids", "turn_count", "created_at",
}

var deadLetterColumns = []string{
	"id", "session_id", "agent_id", "job", "attempts", "last_error", "failed_at",
	"reason", "payload",
}

// EntDriver provides storage operations on a database/sql handle.
type EntDriver struct {
	DB      *stdsql.DB
	Dialect string
}

// New wraps db for the given ent dialect name (dialect.SQLite or
// dialect.Postgres).
func New(db *stdsql.DB, dialectName string) *EntDriver {
	return &EntDriver{DB: db, Dialect: dialectName}
}

func (ed *EntDriver) builder() *entsql.DialectBuilder {
	return entsql.Dialect(ed.Dialect)
}

// Append inserts a summary, ignoring it if the id already exists.
func (ed *EntDriver) Append(ctx context.Context, s *memory.Summary) (bool, error) {
	if s == nil {
		return false, storage.ErrNilSummary
	}
	if err := s.Validate(); err != nil {
		return false, err
	}

	topics, err := encodeSet(s.Topics)
	if err != nil {
		return false, err
	}
	entities, err := encodeSet(s.Entities)
	if err != nil {
		return false, err
	}
	sources, err := encodeSet(s.SourceSummaryIDs)
	if err != nil {
		return false, err
	}

	query, args := ed.builder().Insert(tableSummaries).
		Columns(summaryColumns...).
		Values(
			s.ID, s.AgentID, string(s.Kind),
			toNanos(s.PeriodStart), toNanos(s.PeriodEnd),
			s.Body, memory.SerializeRecord(s),
			topics, entities, sources,
			s.TurnCount, toNanos(s.CreatedAt),
		).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()

	res, err := ed.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("could not insert summary %s: %w", s.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("could not read affected rows: %w", err)
	}
	return n == 1, nil
}

// Get retrieves a summary by id.
func (ed *EntDriver) Get(ctx context.Context, agentID, id string) (*memory.Summary, error) {
	b := ed.builder()
	query, args := b.Select(summaryColumns...).
		From(b.Table(tableSummaries)).
		Where(entsql.And(entsql.EQ("agent_id", agentID), entsql.EQ("id", id))).
		Query()

	summaries, err := ed.querySummaries(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, storage.NotFoundError{Resource: "summary", ID: id}
	}
	return &summaries[0], nil
}

// Search pre-filters candidates in the database with case-insensitive
// substring matches and ranks them with storage.Rank.
func (ed *EntDriver) Search(ctx context.Context, q storage.SearchQuery) ([]memory.Summary, error) {
	preds := []*entsql.Predicate{
		entsql.EQ("agent_id", q.AgentID),
		entsql.EQ("kind", string(q.Kind)),
	}

	terms := storage.SearchTerms(q.Text)
	if len(terms) > 0 {
		var matches []*entsql.Predicate
		for _, t := range terms {
			matches = append(matches,
				entsql.ContainsFold("body", t),
				entsql.ContainsFold("topics", t),
				entsql.ContainsFold("entities", t),
			)
		}
		preds = append(preds, entsql.Or(matches...))
	}

	b := ed.builder()
	query, args := b.Select(summaryColumns...).
		From(b.Table(tableSummaries)).
		Where(entsql.And(preds...)).
		Query()

	candidates, err := ed.querySummaries(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return storage.Rank(candidates, q), nil
}

// Recent returns summaries ending at or after since, newest first.
func (ed *EntDriver) Recent(ctx context.Context, agentID string, kind memory.Kind, since time.Time, limit int) ([]memory.Summary, error) {
	preds := []*entsql.Predicate{
		entsql.EQ("agent_id", agentID),
		entsql.GTE("period_end", toNanos(since)),
	}
	if kind != "" {
		preds = append(preds, entsql.EQ("kind", string(kind)))
	}

	b := ed.builder()
	sel := b.Select(summaryColumns...).
		From(b.Table(tableSummaries)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("period_end"), entsql.Asc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}

	query, args := sel.Query()
	return ed.querySummaries(ctx, query, args)
}

// Since returns summaries of kind ending strictly after after, oldest first.
func (ed *EntDriver) Since(ctx context.Context, agentID string, kind memory.Kind, after time.Time) ([]memory.Summary, error) {
	b := ed.builder()
	query, args := b.Select(summaryColumns...).
		From(b.Table(tableSummaries)).
		Where(entsql.And(
			entsql.EQ("agent_id", agentID),
			entsql.EQ("kind", string(kind)),
			entsql.GT("period_end", toNanos(after)),
		)).
		OrderBy(entsql.Asc("period_end"), entsql.Asc("id")).
		Query()

	return ed.querySummaries(ctx, query, args)
}

// Agents lists every agent with a stored summary.
func (ed *EntDriver) Agents(ctx context.Context) ([]string, error) {
	b := ed.builder()
	query, args := b.Select("agent_id").
		Distinct().
		From(b.Table(tableSummaries)).
		OrderBy(entsql.Asc("agent_id")).
		Query()

	rows, err := ed.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan agent id: %w", err)
		}
		agents = append(agents, id)
	}
	return agents, rows.Err()
}

// GetCursor returns the stored cursor or one positioned at memory.Epoch.
func (ed *EntDriver) GetCursor(ctx context.Context, agentID string, target memory.Kind) (memory.RollupCursor, error) {
	return ed.getCursor(ctx, ed.DB, agentID, target)
}

// AdvanceCursor stores c if it moves the high-water mark forward. The read
// and the write happen in one transaction.
func (ed *EntDriver) AdvanceCursor(ctx context.Context, c memory.RollupCursor) (bool, error) {
	tx, err := ed.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := ed.getCursor(ctx, tx, c.AgentID, c.TargetKind)
	if err != nil {
		return false, err
	}
	if !c.HighWaterMark.After(current.HighWaterMark) {
		return false, nil
	}

	query, args := ed.builder().Insert(tableCursors).
		Columns("agent_id", "target_kind", "high_water_mark").
		Values(c.AgentID, string(c.TargetKind), toNanos(c.HighWaterMark)).
		OnConflict(
			entsql.ConflictColumns("agent_id", "target_kind"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("failed to store cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit cursor: %w", err)
	}
	return true, nil
}

// PutDeadLetter stores or replaces a dead-letter entry.
func (ed *EntDriver) PutDeadLetter(ctx context.Context, dl *storage.DeadLetter) error {
	job, err := json.Marshal(dl.Job)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter job: %w", err)
	}

	query, args := ed.builder().Insert(tableDeadLetters).
		Columns(deadLetterColumns...).
		Values(
			dl.ID, dl.Job.SessionID, dl.Job.AgentID, string(job),
			dl.Attempts, dl.LastError, toNanos(dl.FailedAt),
			dl.Reason, base64.StdEncoding.EncodeToString(dl.Payload),
		).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()

	if _, err := ed.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to store dead letter %s: %w", dl.ID, err)
	}
	return nil
}

// GetDeadLetter retrieves a dead-letter entry by id.
func (ed *EntDriver) GetDeadLetter(ctx context.Context, id string) (*storage.DeadLetter, error) {
	b := ed.builder()
	query, args := b.Select(deadLetterColumns...).
		From(b.Table(tableDeadLetters)).
		Where(entsql.EQ("id", id)).
		Query()

	entries, err := ed.queryDeadLetters(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, storage.NotFoundError{Resource: "dead letter", ID: id}
	}
	return &entries[0], nil
}

// ListDeadLetters returns every entry, oldest first.
func (ed *EntDriver) ListDeadLetters(ctx context.Context) ([]storage.DeadLetter, error) {
	b := ed.builder()
	query, args := b.Select(deadLetterColumns...).
		From(b.Table(tableDeadLetters)).
		OrderBy(entsql.Asc("failed_at"), entsql.Asc("id")).
		Query()

	return ed.queryDeadLetters(ctx, query, args)
}

// DeleteDeadLetter removes an entry. Deleting a missing entry is a no-op.
func (ed *EntDriver) DeleteDeadLetter(ctx context.Context, id string) error {
	query, args := ed.builder().Delete(tableDeadLetters).
		Where(entsql.EQ("id", id)).
		Query()

	if _, err := ed.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete dead letter %s: %w", id, err)
	}
	return nil
}

// SetBlock replaces the value of a block.
func (ed *EntDriver) SetBlock(ctx context.Context, blk storage.Block) error {
	query, args := ed.builder().Insert(tableBlocks).
		Columns("agent_id", "label", "value", "updated_at").
		Values(blk.AgentID, blk.Label, blk.Value, toNanos(blk.UpdatedAt)).
		OnConflict(
			entsql.ConflictColumns("agent_id", "label"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	if _, err := ed.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to store block %s: %w", blk.Label, err)
	}
	return nil
}

// GetBlock returns the current value of a block.
func (ed *EntDriver) GetBlock(ctx context.Context, agentID, label string) (*storage.Block, error) {
	b := ed.builder()
	query, args := b.Select("value", "updated_at").
		From(b.Table(tableBlocks)).
		Where(entsql.And(entsql.EQ("agent_id", agentID), entsql.EQ("label", label))).
		Query()

	var (
		value     string
		updatedAt int64
	)
	err := ed.DB.QueryRowContext(ctx, query, args...).Scan(&value, &updatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, storage.NotFoundError{Resource: "block", ID: agentID + "/" + label}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", label, err)
	}

	return &storage.Block{
		AgentID:   agentID,
		Label:     label,
		Value:     value,
		UpdatedAt: fromNanos(updatedAt),
	}, nil
}

// Close closes the database connection.
func (ed *EntDriver) Close() error {
	return ed.DB.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *stdsql.Row
}

func (ed *EntDriver) getCursor(ctx context.Context, q queryer, agentID string, target memory.Kind) (memory.RollupCursor, error) {
	b := ed.builder()
	query, args := b.Select("high_water_mark").
		From(b.Table(tableCursors)).
		Where(entsql.And(
			entsql.EQ("agent_id", agentID),
			entsql.EQ("target_kind", string(target)),
		)).
		Query()

	var hwm int64
	err := q.QueryRowContext(ctx, query, args...).Scan(&hwm)
	if errors.Is(err, stdsql.ErrNoRows) {
		return memory.NewRollupCursor(agentID, target), nil
	}
	if err != nil {
		return memory.RollupCursor{}, fmt.Errorf("failed to get cursor: %w", err)
	}

	return memory.RollupCursor{
		AgentID:       agentID,
		TargetKind:    target,
		HighWaterMark: fromNanos(hwm),
	}, nil
}

func (ed *EntDriver) querySummaries(ctx context.Context, query string, args []any) ([]memory.Summary, error) {
	rows, err := ed.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []memory.Summary
	for rows.Next() {
		var (
			s                                 memory.Summary
			kind, record                      string
			topics, entities, sources         string
			periodStart, periodEnd, createdAt int64
		)
		if err := rows.Scan(
			&s.ID, &s.AgentID, &kind, &periodStart, &periodEnd, &s.Body, &record,
			&topics, &entities, &sources, &s.TurnCount, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}

		s.Kind = memory.Kind(kind)
		s.PeriodStart = fromNanos(periodStart)
		s.PeriodEnd = fromNanos(periodEnd)
		s.CreatedAt = fromNanos(createdAt)
		if s.Topics, err = decodeSet(topics); err != nil {
			return nil, err
		}
		if s.Entities, err = decodeSet(entities); err != nil {
			return nil, err
		}
		if s.SourceSummaryIDs, err = decodeSet(sources); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (ed *EntDriver) queryDeadLetters(ctx context.Context, query string, args []any) ([]storage.DeadLetter, error) {
	rows, err := ed.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var out []storage.DeadLetter
	for rows.Next() {
		var (
			dl                 storage.DeadLetter
			sessionID, agentID string
			job, payload       string
			failedAt           int64
		)
		if err := rows.Scan(&dl.ID, &sessionID, &agentID, &job, &dl.Attempts, &dl.LastError, &failedAt, &dl.Reason, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		if err := json.Unmarshal([]byte(job), &dl.Job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead-letter job %s: %w", dl.ID, err)
		}
		dl.FailedAt = fromNanos(failedAt)
		if payload != "" {
			if dl.Payload, err = base64.StdEncoding.DecodeString(payload); err != nil {
				return nil, fmt.Errorf("failed to decode dead-letter payload %s: %w", dl.ID, err)
			}
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func encodeSet(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal set: %w", err)
	}
	return string(data), nil
}

func decodeSet(data string) ([]string, error) {
	out := []string{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal set: %w", err)
	}
	return out, nil
}

// toNanos clamps times before the Unix epoch, which UnixNano cannot
// represent for the zero time.
func toNanos(t time.Time) int64 {
	if t.Before(memory.Epoch) {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var _ storage.Driver = (*EntDriver)(nil)
