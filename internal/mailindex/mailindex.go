// Package mailindex keeps a queryable SQLite index of normalized mail
// content, used for reprocessing checks and text search.
package mailindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mailhive-io/mailhive/internal/ticket"
)

// ErrNotFound is returned when no record matches the message id.
var ErrNotFound = errors.New("mailindex: not found")

// Record is one indexed mail.
type Record struct {
	MessageID        string    `json:"message_id"`
	Subject          string    `json:"subject"`
	Sender           string    `json:"sender"`
	OriginalContent  string    `json:"original_content"`
	RefinedContent   string    `json:"refined_content"`
	Summary          string    `json:"summary"`
	KeyPoints        []string  `json:"key_points"`
	ContentType      string    `json:"content_type"`
	ExtractionMethod string    `json:"extraction_method"`
	Status           string    `json:"status"`
	ReceivedAt       time.Time `json:"received_datetime"`
	CreatedAt        time.Time `json:"created_at"`
}

// SearchResult pairs a record with its relevance score.
type SearchResult struct {
	Record *Record
	Score  int
}

// Index is a SQLite-backed content index in WAL mode.
type Index struct {
	db    *sql.DB
	retry ticket.RetryPolicy
}

// Open opens (or creates) the index database and runs migrations.
func Open(path string, retry ticket.RetryPolicy) (*Index, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("mailindex: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("mailindex: wal: %w", err)
	}

	idx := &Index{db: db, retry: retry}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	_, err := idx.db.Exec(`
		CREATE TABLE IF NOT EXISTS mails (
			message_id        TEXT PRIMARY KEY,
			subject           TEXT NOT NULL DEFAULT '',
			sender            TEXT NOT NULL DEFAULT '',
			original_content  TEXT NOT NULL DEFAULT '',
			refined_content   TEXT NOT NULL DEFAULT '',
			summary           TEXT NOT NULL DEFAULT '',
			key_points        TEXT NOT NULL DEFAULT '[]',
			content_type      TEXT NOT NULL DEFAULT 'text',
			extraction_method TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'processed',
			received_at       TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_mails_sender ON mails(sender);
		CREATE INDEX IF NOT EXISTS idx_mails_status ON mails(status);
	`)
	if err != nil {
		return fmt.Errorf("mailindex: migrate: %w", err)
	}
	return nil
}

// Upsert inserts or refreshes a record keyed by message id.
func (idx *Index) Upsert(ctx context.Context, r *Record) error {
	keyPoints, _ := json.Marshal(r.KeyPoints)
	received := ""
	if !r.ReceivedAt.IsZero() {
		received = r.ReceivedAt.UTC().Format(time.RFC3339)
	}
	status := r.Status
	if status == "" {
		status = "processed"
	}

	return idx.retry.Run(ctx, func() error {
		_, err := idx.db.ExecContext(ctx, `
			INSERT INTO mails (message_id, subject, sender, original_content, refined_content, summary, key_points, content_type, extraction_method, status, received_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO UPDATE SET
				subject=excluded.subject, sender=excluded.sender,
				original_content=excluded.original_content, refined_content=excluded.refined_content,
				summary=excluded.summary, key_points=excluded.key_points,
				content_type=excluded.content_type, extraction_method=excluded.extraction_method,
				status=excluded.status, received_at=excluded.received_at
		`, r.MessageID, r.Subject, r.Sender, r.OriginalContent, r.RefinedContent, r.Summary,
			string(keyPoints), r.ContentType, r.ExtractionMethod, status, received,
			time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("mailindex: upsert: %w", err)
		}
		return nil
	})
}

// Exists reports whether a message id is already indexed.
func (idx *Index) Exists(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := idx.db.QueryRowContext(ctx, `SELECT 1 FROM mails WHERE message_id = ?`, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mailindex: exists: %w", err)
	}
	return true, nil
}

// Get retrieves a record by message id.
func (idx *Index) Get(ctx context.Context, messageID string) (*Record, error) {
	r, err := scanRecord(idx.db.QueryRowContext(ctx, selectRecord+` WHERE message_id = ?`, messageID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mailindex: get: %w", err)
	}
	return r, nil
}

// UpdateStatus sets the processing status of an indexed mail.
func (idx *Index) UpdateStatus(ctx context.Context, messageID, status string) error {
	return idx.retry.Run(ctx, func() error {
		res, err := idx.db.ExecContext(ctx, `UPDATE mails SET status = ? WHERE message_id = ?`, status, messageID)
		if err != nil {
			return fmt.Errorf("mailindex: update status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// All returns indexed mails, newest first. limit <= 0 means no limit.
func (idx *Index) All(ctx context.Context, limit int) ([]*Record, error) {
	query := selectRecord + ` ORDER BY created_at DESC, message_id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := idx.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mailindex: all: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("mailindex: scan: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Search finds mails matching all query terms and ranks them: subject hits
// weigh 3, summary hits 2, refined content 1. limit <= 0 means no limit.
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	sqlQuery := selectRecord + " WHERE 1=1"
	var args []any
	for _, term := range terms {
		sqlQuery += " AND (subject LIKE ? OR summary LIKE ? OR refined_content LIKE ?)"
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern, pattern)
	}

	rows, err := idx.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("mailindex: search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("mailindex: search scan: %w", err)
		}
		results = append(results, SearchResult{Record: r, Score: score(r, terms)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func score(r *Record, terms []string) int {
	subject := strings.ToLower(r.Subject)
	summary := strings.ToLower(r.Summary)
	content := strings.ToLower(r.RefinedContent)

	total := 0
	for _, term := range terms {
		total += 3 * strings.Count(subject, term)
		total += 2 * strings.Count(summary, term)
		total += strings.Count(content, term)
	}
	return total
}

// Close releases the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// --- helpers ---

const selectRecord = `SELECT message_id, subject, sender, original_content, refined_content, summary, key_points, content_type, extraction_method, status, received_at, created_at FROM mails`

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*Record, error) {
	var r Record
	var keyPointsJSON, received, created string

	err := row.Scan(&r.MessageID, &r.Subject, &r.Sender, &r.OriginalContent, &r.RefinedContent,
		&r.Summary, &keyPointsJSON, &r.ContentType, &r.ExtractionMethod, &r.Status, &received, &created)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(keyPointsJSON), &r.KeyPoints)
	if r.KeyPoints == nil {
		r.KeyPoints = []string{}
	}
	if received != "" {
		r.ReceivedAt, _ = time.Parse(time.RFC3339, received)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &r, nil
}
