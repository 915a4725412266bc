// Package store implements the durable per-cluster message ledger on top
// of SQLite, and the on-disk cluster index that tracks which ledgers
// exist.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// Ledger is the append-only message log for one cluster, backed by a
// single SQLite file.
type Ledger struct {
	mu        sync.Mutex
	db        *sql.DB
	clusterID string
	lastTS    int64
}

// Open creates or opens the ledger file at dsn for clusterID.
func Open(dsn, clusterID string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", clusterID, err)
	}
	// For in-memory SQLite, multiple connections create separate
	// databases; keep a single connection so the ledger isn't silently
	// split across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal for %s: %w", clusterID, err)
	}

	l := &Ledger{db: db, clusterID: clusterID}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger %s: %w", clusterID, err)
	}
	if err := l.loadLastTimestamp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load last timestamp for %s: %w", clusterID, err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		topic TEXT NOT NULL,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,
		content_text TEXT,
		content_data TEXT,
		metadata TEXT,
		cluster_id TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if _, err := l.db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_cluster_topic_ts ON messages(cluster_id, topic, timestamp)`); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (l *Ledger) loadLastTimestamp() error {
	row := l.db.QueryRow(`SELECT COALESCE(MAX(timestamp), 0) FROM messages WHERE cluster_id = ?`, l.clusterID)
	return row.Scan(&l.lastTS)
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append assigns a monotonic timestamp and this ledger's cluster id to
// msg, persists it, and returns the stored record. msg.ID must already be
// set; a message without one is rejected with a CONFIG_ERROR. Per §4.1, the write is durable before
// Append returns.
func (l *Ledger) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		return domain.Message{}, domain.NewCoordError(domain.ErrKindConfigError, "message id must be generated before append", nil)
	}

	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal metadata: %w", err)
	}

	// lastTS and the insert itself are guarded together: Publish calls
	// Append from whichever goroutine is publishing (the bus's own
	// caller, or an agent's "go a.executeTask" goroutine), so without
	// holding the lock across both the bump and the insert, two
	// concurrent Appends can compute the same ts or land out of order.
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UnixMilli()
	ts := now
	if l.lastTS >= ts {
		ts = l.lastTS + 1
	}
	l.lastTS = ts
	msg.Timestamp = ts
	msg.ClusterID = l.clusterID

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO messages (id, timestamp, topic, sender, receiver, content_text, content_data, metadata, cluster_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Timestamp, msg.Topic, msg.Sender, msg.Receiver,
		nullString(msg.Content.Text), nullStringBytes(msg.Content.Data), nullStringBytes(metadata), msg.ClusterID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message %s: %w", msg.ID, err)
	}
	return msg, nil
}

// Query returns records matching filter in ascending (timestamp, id)
// order.
func (l *Ledger) Query(ctx context.Context, filter domain.MessageFilter) ([]domain.Message, error) {
	query := `SELECT id, timestamp, topic, sender, receiver, content_text, content_data, metadata, cluster_id FROM messages WHERE cluster_id = ?`
	args := []interface{}{l.clusterID}

	if filter.Topic != "" {
		query += ` AND topic = ?`
		args = append(args, filter.Topic)
	}
	if filter.Sender != "" {
		query += ` AND sender = ?`
		args = append(args, filter.Sender)
	}
	if filter.Receiver != "" {
		query += ` AND receiver = ?`
		args = append(args, filter.Receiver)
	}
	if filter.Since > 0 {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since)
	}
	if filter.Before > 0 {
		query += ` AND timestamp < ?`
		args = append(args, filter.Before)
	}
	query += ` ORDER BY timestamp ASC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		msg, err := l.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// FindLast returns the newest record matching filter's Topic, Sender and
// Receiver, or (domain.Message{}, false, nil) if none. Since and Before
// are not applied.
func (l *Ledger) FindLast(ctx context.Context, filter domain.MessageFilter) (domain.Message, bool, error) {
	f := filter
	f.Limit = 1
	rows, err := l.queryDesc(ctx, f)
	if err != nil {
		return domain.Message{}, false, err
	}
	if len(rows) == 0 {
		return domain.Message{}, false, nil
	}
	return rows[0], true, nil
}

func (l *Ledger) queryDesc(ctx context.Context, filter domain.MessageFilter) ([]domain.Message, error) {
	query := `SELECT id, timestamp, topic, sender, receiver, content_text, content_data, metadata, cluster_id FROM messages WHERE cluster_id = ?`
	args := []interface{}{l.clusterID}
	if filter.Topic != "" {
		query += ` AND topic = ?`
		args = append(args, filter.Topic)
	}
	if filter.Sender != "" {
		query += ` AND sender = ?`
		args = append(args, filter.Sender)
	}
	if filter.Receiver != "" {
		query += ` AND receiver = ?`
		args = append(args, filter.Receiver)
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		msg, err := l.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Count returns the number of records matching filter's Topic, Sender and
// Since. Receiver and Before are not applied.
func (l *Ledger) Count(ctx context.Context, filter domain.MessageFilter) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE cluster_id = ?`
	args := []interface{}{l.clusterID}
	if filter.Topic != "" {
		query += ` AND topic = ?`
		args = append(args, filter.Topic)
	}
	if filter.Sender != "" {
		query += ` AND sender = ?`
		args = append(args, filter.Sender)
	}
	if filter.Since > 0 {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since)
	}
	var n int
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (l *Ledger) scanMessage(rows *sql.Rows) (domain.Message, error) {
	var msg domain.Message
	var contentText, contentData, metadata sql.NullString
	if err := rows.Scan(&msg.ID, &msg.Timestamp, &msg.Topic, &msg.Sender, &msg.Receiver, &contentText, &contentData, &metadata, &msg.ClusterID); err != nil {
		return domain.Message{}, fmt.Errorf("scan message: %w", err)
	}
	if contentText.Valid {
		msg.Content.Text = contentText.String
	}
	if contentData.Valid {
		msg.Content.Data = json.RawMessage(contentData.String)
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			panic(fmt.Sprintf("ledger corruption: cluster=%s message=%s metadata unmarshal failed: %v\nfirst 200 bytes: %q",
				l.clusterID, msg.ID, err, firstN(metadata.String, 200)))
		}
	}
	return msg, nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
