// Package ledger implements the durable, append-only per-cluster
// message log. Each cluster owns exactly one SQLite file at
// <stateDir>/<clusterId>.db; sequence numbers are assigned by the
// database's AUTOINCREMENT primary key and are never reused, even
// across process restarts, because SQLite persists the last assigned
// rowid for an AUTOINCREMENT table independently of row deletions.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/meshrun/meshrun/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Ledger is one cluster's durable message log.
type Ledger struct {
	clusterID string
	path      string
	db        *sql.DB

	// SQLite allows only one writer at a time; appends are already
	// rare enough (one per trigger firing) that serializing them in
	// process avoids surfacing SQLITE_BUSY to callers.
	mu sync.Mutex
}

// Open opens (creating if necessary) the ledger file for clusterID at
// path, applying pending migrations.
func Open(clusterID, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db, path); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Ledger{clusterID: clusterID, path: path, db: db}, nil
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return &CorruptionError{Path: path, Reason: fmt.Sprintf("create migration driver: %v", err)}
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: load embedded migrations: %w", err)
	}
	defer source.Close()

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return &CorruptionError{Path: path, Reason: fmt.Sprintf("create migrate instance: %v", err)}
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return &CorruptionError{Path: path, Reason: fmt.Sprintf("apply migrations: %v", err)}
	}
	return nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append durably records a new message and returns it with its
// assigned ID, sequence number, and timestamp populated.
func (l *Ledger) Append(ctx context.Context, msgType models.MessageType, fromAgent string, payload any, metadata map[string]any) (models.Message, error) {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return models.Message{}, &AppendError{ClusterID: l.clusterID, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	rawMeta, err := json.Marshal(metadata)
	if err != nil {
		return models.Message{}, &AppendError{ClusterID: l.clusterID, Err: fmt.Errorf("marshal metadata: %w", err)}
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO messages (id, cluster_id, type, from_agent, payload, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, l.clusterID, string(msgType), fromAgent, rawPayload, rawMeta, now,
	)
	if err != nil {
		return models.Message{}, &AppendError{ClusterID: l.clusterID, Err: err}
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return models.Message{}, &AppendError{ClusterID: l.clusterID, Err: err}
	}

	return models.Message{
		ID:        id,
		ClusterID: l.clusterID,
		Sequence:  seq,
		Type:      msgType,
		FromAgent: fromAgent,
		Payload:   rawPayload,
		Metadata:  metadata,
		CreatedAt: now,
	}, nil
}

// All returns every message on the ledger in sequence order.
func (l *Ledger) All(ctx context.Context) ([]models.Message, error) {
	return l.query(ctx, `SELECT id, cluster_id, sequence, type, from_agent, payload, metadata, created_at FROM messages ORDER BY sequence ASC`)
}

// After returns every message with sequence strictly greater than seq,
// in sequence order. Pass 0 to get everything (cluster_start scoping).
func (l *Ledger) After(ctx context.Context, seq int64) ([]models.Message, error) {
	return l.query(ctx, `SELECT id, cluster_id, sequence, type, from_agent, payload, metadata, created_at FROM messages WHERE sequence > ? ORDER BY sequence ASC`, seq)
}

// SinceTime returns every message created at or after t, in sequence order.
func (l *Ledger) SinceTime(ctx context.Context, t time.Time) ([]models.Message, error) {
	return l.query(ctx, `SELECT id, cluster_id, sequence, type, from_agent, payload, metadata, created_at FROM messages WHERE created_at >= ? ORDER BY sequence ASC`, t.UTC())
}

// Latest returns the highest-sequence message, if any.
func (l *Ledger) Latest(ctx context.Context) (models.Message, bool, error) {
	rows, err := l.query(ctx, `SELECT id, cluster_id, sequence, type, from_agent, payload, metadata, created_at FROM messages ORDER BY sequence DESC LIMIT 1`)
	if err != nil {
		return models.Message{}, false, err
	}
	if len(rows) == 0 {
		return models.Message{}, false, nil
	}
	return rows[0], true, nil
}

// Filter narrows a Query: zero-valued fields are ignored. Since
// matches messages created at or after the given time; Limit, if
// positive, keeps only the most recent Limit matches (still returned
// in ascending order).
type Filter struct {
	Topic  models.MessageType
	Sender string
	Since  time.Time
	Limit  int
}

// Query returns the messages matching f, in ascending (sequence, and
// therefore timestamp) order — the shape a ContextBuilder source or a
// trigger's logic expression needs.
func (l *Ledger) Query(ctx context.Context, f Filter) ([]models.Message, error) {
	var where []string
	var args []any
	if f.Topic != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Topic))
	}
	if f.Sender != "" {
		where = append(where, "from_agent = ?")
		args = append(args, f.Sender)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}

	q := `SELECT id, cluster_id, sequence, type, from_agent, payload, metadata, created_at FROM messages`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	if f.Limit <= 0 {
		q += " ORDER BY sequence ASC"
		return l.query(ctx, q, args...)
	}

	q += " ORDER BY sequence DESC LIMIT ?"
	rows, err := l.query(ctx, q, append(args, f.Limit)...)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// FindLast returns the most recent message matching f (Limit is
// ignored and forced to 1), if any.
func (l *Ledger) FindLast(ctx context.Context, f Filter) (models.Message, bool, error) {
	f.Limit = 1
	rows, err := l.Query(ctx, f)
	if err != nil {
		return models.Message{}, false, err
	}
	if len(rows) == 0 {
		return models.Message{}, false, nil
	}
	return rows[0], true, nil
}

// CountByType counts messages of a given type, used by the
// orchestrator's crash-resume reconciliation to compare TASK_STARTED
// against TASK_COMPLETED per agent.
func (l *Ledger) CountByType(ctx context.Context, fromAgent string, msgType models.MessageType) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE from_agent = ? AND type = ?`, fromAgent, string(msgType)).Scan(&n)
	if err != nil {
		return 0, &AppendError{ClusterID: l.clusterID, Err: err}
	}
	return n, nil
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]models.Message, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &AppendError{ClusterID: l.clusterID, Err: err}
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m        models.Message
			rawMeta  []byte
			typeStr  string
			createdA time.Time
		)
		if err := rows.Scan(&m.ID, &m.ClusterID, &m.Sequence, &typeStr, &m.FromAgent, &m.Payload, &rawMeta, &createdA); err != nil {
			return nil, &CorruptionError{ClusterID: l.clusterID, Path: l.path, Reason: err.Error()}
		}
		m.Type = models.MessageType(typeStr)
		m.CreatedAt = createdA
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &m.Metadata); err != nil {
				return nil, &CorruptionError{ClusterID: l.clusterID, Path: l.path, Reason: fmt.Sprintf("unmarshal metadata for message %s: %v", m.ID, err)}
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &CorruptionError{ClusterID: l.clusterID, Path: l.path, Reason: err.Error()}
	}
	return out, nil
}
