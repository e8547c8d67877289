// Package sqlitevec indexes archived summaries in a local SQLite database
// with the sqlite-vec extension.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/vector"
)

// Config configures an Index.
type Config struct {
	// DBPath is the SQLite database file, or ":memory:".
	DBPath string

	// Dimensions of every stored embedding.
	Dimensions uint

	Logger *slog.Logger
}

// Index is a vector.VectorDriver over two tables: summary_index maps summary
// ids to integer rowids and keeps the serialized record, and summary_vectors
// is a vec0 table partitioned by agent so KNN queries never cross archives.
type Index struct {
	db         *sql.DB
	dimensions int
	logger     *slog.Logger
}

// New opens (and creates when needed) the index at c.DBPath.
func New(c Config) (*Index, error) {
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, errors.New("embedding dimensions must be configured for sqlite-vec")
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	var version string
	if err := db.QueryRow("SELECT vec_version()").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS summary_index (
			rowid      INTEGER PRIMARY KEY AUTOINCREMENT,
			summary_id TEXT NOT NULL UNIQUE,
			agent_id   TEXT NOT NULL,
			record     TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS summary_vectors USING vec0(
			agent_id text partition key,
			embedding float[%d] distance_metric=cosine
		)`, c.Dimensions),
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating sqlite-vec schema: %w", err)
		}
	}

	log := c.Logger.With("component", "vector.sqlitevec")
	log.Info("summary index opened",
		"db_path", c.DBPath,
		"dimensions", c.Dimensions,
		"vec_version", version,
	)

	return &Index{
		db:         db,
		dimensions: int(c.Dimensions),
		logger:     log,
	}, nil
}

// Add upserts docs. vec0 rows cannot be updated in place, so a re-added
// document gets its vector row replaced.
func (ix *Index) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, doc := range docs {
		blob, err := ix.encode(doc.Embedding)
		if err != nil {
			return fmt.Errorf("summary %s: %w", doc.ID, err)
		}

		var rowID int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO summary_index (summary_id, agent_id, record) VALUES (?, ?, ?)
			ON CONFLICT (summary_id) DO UPDATE SET agent_id = excluded.agent_id, record = excluded.record
			RETURNING rowid
		`, doc.ID, doc.AgentID, doc.Content).Scan(&rowID)
		if err != nil {
			return fmt.Errorf("indexing summary %s: %w", doc.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM summary_vectors WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("replacing vector of summary %s: %w", doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO summary_vectors (rowid, agent_id, embedding) VALUES (?, ?, ?)`,
			rowID, doc.AgentID, blob,
		); err != nil {
			return fmt.Errorf("storing vector of summary %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	ix.logger.Debug("summaries indexed", "count", len(docs))
	return nil
}

// Query returns agentID's topK nearest documents. Score is the cosine
// similarity.
func (ix *Index) Query(ctx context.Context, agentID string, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	blob, err := ix.encode(embedding)
	if err != nil {
		return nil, err
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT d.summary_id, d.agent_id, d.record, v.distance
		FROM summary_vectors v
		JOIN summary_index d ON d.rowid = v.rowid
		WHERE v.embedding MATCH ? AND v.k = ? AND v.agent_id = ?
		ORDER BY v.distance
	`, blob, topK, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying summary vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var (
			r        vector.QueryResult
			distance float64
		)
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Content, &distance); err != nil {
			return nil, fmt.Errorf("scanning summary vector: %w", err)
		}
		r.Score = float32(1 - distance)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary vectors: %w", err)
	}

	ix.logger.Debug("summary vectors queried", "agent_id", agentID, "results", len(results))
	return results, nil
}

// Get returns the stored documents among ids, embeddings included.
func (ix *Index) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	in, args := inList(ids)
	rows, err := ix.db.QueryContext(ctx, `
		SELECT d.summary_id, d.agent_id, d.record, v.embedding
		FROM summary_index d
		LEFT JOIN summary_vectors v ON v.rowid = d.rowid
		WHERE d.summary_id IN (`+in+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("loading indexed summaries: %w", err)
	}
	defer rows.Close()

	var docs []vector.Document
	for rows.Next() {
		var (
			doc  vector.Document
			blob []byte
		)
		if err := rows.Scan(&doc.ID, &doc.AgentID, &doc.Content, &blob); err != nil {
			return nil, fmt.Errorf("scanning indexed summary: %w", err)
		}
		doc.Embedding = decode(blob)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating indexed summaries: %w", err)
	}
	return docs, nil
}

// Delete drops ids from the index. Unknown ids are ignored.
func (ix *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	in, args := inList(ids)
	rows, err := tx.QueryContext(ctx, `DELETE FROM summary_index WHERE summary_id IN (`+in+`) RETURNING rowid`, args...)
	if err != nil {
		return fmt.Errorf("deleting indexed summaries: %w", err)
	}

	var rowIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scanning deleted rowid: %w", err)
		}
		rowIDs = append(rowIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating deleted rowids: %w", err)
	}

	for _, id := range rowIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM summary_vectors WHERE rowid = ?`, id); err != nil {
			return fmt.Errorf("deleting summary vector %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	ix.logger.Debug("summaries removed from index", "count", len(rowIDs))
	return nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// encode packs v as the little-endian float32 blob vec0 expects.
func (ix *Index) encode(v []float32) ([]byte, error) {
	if len(v) != ix.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", vector.ErrDimensionMismatch, len(v), ix.dimensions)
	}

	buf := make([]byte, 0, len(v)*4)
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf, nil
}

func decode(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func inList(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

var _ vector.VectorDriver = (*Index)(nil)
