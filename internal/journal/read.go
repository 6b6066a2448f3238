package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/citechain/internal/citation"
)

// ErrSessionNotFound is returned when a session id has no journal entry.
var ErrSessionNotFound = errors.New("session not found")

// SessionRow is a journaled session.
type SessionRow struct {
	ID        string              `json:"id"`
	Seq       int64               `json:"seq"`
	Requested map[string][]string `json:"requested"`
	Status    string              `json:"status"`
	Error     string              `json:"error,omitempty"`
}

// RoundRow is a journaled fixpoint round.
type RoundRow struct {
	Round   int                 `json:"round"`
	Seq     int64               `json:"seq"`
	Pending map[string][]string `json:"pending"`
	Fetched int                 `json:"fetched"`
	Missing []string            `json:"missing"`
	Error   string              `json:"error,omitempty"`
}

// ChunkRow is a journaled RetrieveChunk call.
type ChunkRow struct {
	Seq       int64    `json:"seq"`
	Prefix    string   `json:"prefix"`
	Source    string   `json:"source"`
	Index     int      `json:"index"`
	Total     int      `json:"total"`
	Keys      []string `json:"keys"`
	Returned  int      `json:"returned"`
	ElapsedMs int64    `json:"elapsed_ms"`
	Error     string   `json:"error,omitempty"`
}

// RecordRow is a journaled raw record.
type RecordRow struct {
	Prefix      string          `json:"prefix"`
	Key         string          `json:"key"`
	Seq         int64           `json:"seq"`
	Fingerprint string          `json:"fingerprint"`
	Content     citation.Record `json:"content"`
	Chained     bool            `json:"chained"`
}

// Sessions returns all sessions ordered by seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the journal is empty.
func (j *Journal) Sessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := j.Query(ctx, `
		SELECT id, seq, requested, status, error
		FROM sessions
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionRow{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Session returns one session. Returns ErrSessionNotFound if absent.
func (j *Journal) Session(ctx context.Context, id string) (SessionRow, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, seq, requested, status, error
		FROM sessions
		WHERE id = ?
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (SessionRow, error) {
	var (
		s         SessionRow
		requested string
	)
	if err := sc.Scan(&s.ID, &s.Seq, &requested, &s.Status, &s.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRow{}, err
		}
		return SessionRow{}, fmt.Errorf("scan session: %w", err)
	}
	req, err := unmarshalKeyMap(requested)
	if err != nil {
		return SessionRow{}, err
	}
	s.Requested = req
	return s, nil
}

// Rounds returns the rounds of a session ordered by round.
func (j *Journal) Rounds(ctx context.Context, sessionID string) ([]RoundRow, error) {
	rows, err := j.Query(ctx, `
		SELECT round, seq, pending, fetched, missing, error
		FROM rounds
		WHERE session_id = ?
		ORDER BY round ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	out := []RoundRow{}
	for rows.Next() {
		var (
			r                RoundRow
			pending, missing string
		)
		if err := rows.Scan(&r.Round, &r.Seq, &pending, &r.Fetched, &missing, &r.Error); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if r.Pending, err = unmarshalKeyMap(pending); err != nil {
			return nil, err
		}
		if r.Missing, err = unmarshalKeyList(missing); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return out, nil
}

// Chunks returns the chunk calls of a session ordered by seq.
func (j *Journal) Chunks(ctx context.Context, sessionID string) ([]ChunkRow, error) {
	rows, err := j.Query(ctx, `
		SELECT seq, prefix, source, chunk_index, chunk_total, keys, returned, elapsed_ms, error
		FROM chunks
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	out := []ChunkRow{}
	for rows.Next() {
		var (
			c    ChunkRow
			keys string
		)
		if err := rows.Scan(&c.Seq, &c.Prefix, &c.Source, &c.Index, &c.Total, &keys, &c.Returned, &c.ElapsedMs, &c.Error); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if c.Keys, err = unmarshalKeyList(keys); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// Records returns the raw records of a session ordered by seq.
func (j *Journal) Records(ctx context.Context, sessionID string) ([]RecordRow, error) {
	rows, err := j.Query(ctx, `
		SELECT prefix, cite_key, seq, fingerprint, content, chained
		FROM records
		WHERE session_id = ?
		ORDER BY seq ASC, prefix COLLATE BINARY ASC, cite_key COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []RecordRow{}
	for rows.Next() {
		var (
			r       RecordRow
			content string
			chained int
		)
		if err := rows.Scan(&r.Prefix, &r.Key, &r.Seq, &r.Fingerprint, &content, &chained); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if r.Content, err = unmarshalRecord(content); err != nil {
			return nil, err
		}
		r.Chained = chained != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
