// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package authority maintains a local index of cited legal authorities.
//
// Every finalized answer carries the citations the service consulted. The
// index accumulates them across conversations so a user can see which
// statutes and cases their matters keep coming back to.
package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrDatabaseError = errors.New("database error")
	ErrClosed        = errors.New("authority index is closed")
)

// =============================================================================
// TYPES
// =============================================================================

// Record is one indexed authority with its citation statistics.
type Record struct {
	// Citation is the authority as the service cited it, e.g.
	// "Employment Rights Act 1996 s.98".
	Citation string
	// Count is how many finalized answers cited this authority.
	Count int
	// FirstSeen and LastSeen bound the citation history.
	FirstSeen time.Time
	LastSeen  time.Time
	// LastMatter is the matter reference active when last cited, if any.
	LastMatter string
}

// Index is a sqlite-backed citation index.
type Index struct {
	db     *sql.DB
	closed bool
}

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS authorities (
	citation    TEXT PRIMARY KEY,
	cite_count  INTEGER NOT NULL DEFAULT 0,
	first_seen  INTEGER NOT NULL,
	last_seen   INTEGER NOT NULL,
	last_matter TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_authorities_count ON authorities(cite_count DESC, last_seen DESC);
`

// =============================================================================
// LIFECYCLE
// =============================================================================

// Open opens (creating if necessary) the citation index at path.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the index and releases resources.
func (ix *Index) Close() error {
	if ix.closed {
		return nil
	}
	ix.closed = true
	return ix.db.Close()
}

// =============================================================================
// RECORDING
// =============================================================================

// Record upserts one answer's citation batch. Duplicate citations within the
// batch count once; blank entries are skipped. The whole batch commits in a
// single transaction.
func (ix *Index) Record(ctx context.Context, citations []string, matterRef string) error {
	if ix.closed {
		return ErrClosed
	}
	if len(citations) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	seen := make(map[string]bool, len(citations))

	for _, citation := range citations {
		citation = strings.TrimSpace(citation)
		if citation == "" || seen[citation] {
			continue
		}
		seen[citation] = true

		_, err := tx.ExecContext(ctx, `
			INSERT INTO authorities (citation, cite_count, first_seen, last_seen, last_matter)
			VALUES (?, 1, ?, ?, ?)
			ON CONFLICT(citation) DO UPDATE SET
				cite_count = cite_count + 1,
				last_seen = excluded.last_seen,
				last_matter = excluded.last_matter
		`, citation, now, now, matterRef)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
	}

	return tx.Commit()
}

// =============================================================================
// QUERIES
// =============================================================================

// Top returns the n most-cited authorities, most cited first.
func (ix *Index) Top(ctx context.Context, n int) ([]Record, error) {
	if ix.closed {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT citation, cite_count, first_seen, last_seen, last_matter
		FROM authorities
		ORDER BY cite_count DESC, last_seen DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Search finds authorities whose citation matches the query,
// case-insensitively, most cited first.
func (ix *Index) Search(ctx context.Context, query string) ([]Record, error) {
	if ix.closed {
		return nil, ErrClosed
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT citation, cite_count, first_seen, last_seen, last_matter
		FROM authorities
		WHERE citation LIKE ? COLLATE NOCASE
		ORDER BY cite_count DESC, last_seen DESC
	`, "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Lookup returns the record for an exact citation, or nil when the authority
// has never been cited.
func (ix *Index) Lookup(ctx context.Context, citation string) (*Record, error) {
	if ix.closed {
		return nil, ErrClosed
	}

	row := ix.db.QueryRowContext(ctx, `
		SELECT citation, cite_count, first_seen, last_seen, last_matter
		FROM authorities
		WHERE citation = ?
	`, citation)

	var rec Record
	var first, last int64
	err := row.Scan(&rec.Citation, &rec.Count, &first, &last, &rec.LastMatter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	rec.FirstSeen = time.Unix(first, 0)
	rec.LastSeen = time.Unix(last, 0)
	return &rec, nil
}

// Count returns how many distinct authorities are indexed.
func (ix *Index) Count(ctx context.Context) (int, error) {
	if ix.closed {
		return 0, ErrClosed
	}

	var n int
	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM authorities").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var first, last int64
		if err := rows.Scan(&rec.Citation, &rec.Count, &first, &last, &rec.LastMatter); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		rec.FirstSeen = time.Unix(first, 0)
		rec.LastSeen = time.Unix(last, 0)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return records, nil
}
