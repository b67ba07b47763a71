package auditlog

import (
	"database/sql"
	"fmt"
	"time"
)

// Entry is a single audited proxy request.
type Entry struct {
	ID             int64
	Timestamp      string
	Dialect        string
	Model          string
	Fingerprint    string
	Outcome        string
	LatencyMs      int64
	UpstreamStatus int
	ErrorMessage   string
}

// Stats holds aggregate statistics for a range of entries.
type Stats struct {
	TotalRequests int64
	Hits          int64
	Misses        int64
}

// Insert records a new audit log entry.
func (s *Store) Insert(e *Entry) error {
	_, err := s.writer.Exec(`
		INSERT INTO audit_log (
			timestamp, dialect, model, fingerprint, outcome,
			latency_ms, upstream_status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.Dialect, e.Model, e.Fingerprint, e.Outcome,
		e.LatencyMs, e.UpstreamStatus, e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("store: insert entry: %w", err)
	}
	return nil
}

// List returns a page of entries ordered by recency.
func (s *Store) List(limit, offset int) ([]*Entry, error) {
	rows, err := s.reader.Query(`
		SELECT id, timestamp, dialect, model, fingerprint, outcome,
		       latency_ms, upstream_status, error_message
		FROM audit_log
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list entries: %w", err)
	}
	defer rows.Close()

	var results []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.Dialect, &e.Model, &e.Fingerprint, &e.Outcome,
			&e.LatencyMs, &e.UpstreamStatus, &e.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("store: scan entry row: %w", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list entries iteration: %w", err)
	}
	return results, nil
}

// GetStats computes aggregate statistics for entries whose timestamp is >= since.
func (s *Store) GetStats(since time.Time) (*Stats, error) {
	sinceStr := since.UTC().Format(time.RFC3339)
	stats := &Stats{}

	err := s.reader.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'hit' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome != 'hit' THEN 1 ELSE 0 END), 0)
		FROM audit_log
		WHERE timestamp >= ?`, sinceStr,
	).Scan(&stats.TotalRequests, &stats.Hits, &stats.Misses)
	if err != nil {
		if err == sql.ErrNoRows {
			return stats, nil
		}
		return nil, fmt.Errorf("store: get stats: %w", err)
	}
	return stats, nil
}
