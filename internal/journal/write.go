package journal

import (
	"context"
	"fmt"

	"github.com/roach88/citechain/internal/citestore"
	"github.com/roach88/citechain/internal/resolver"
	"github.com/roach88/citechain/internal/retrieval"
)

// Session status values.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// BeginSession inserts a session row.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (j *Journal) BeginSession(ctx context.Context, id string, requests map[string][]string) error {
	requested, err := marshalKeyMap(requests)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, seq, requested, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, j.clock.Next(), requested, StatusRunning)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	return nil
}

// FinishSession marks a session ok, or failed with runErr's message.
func (j *Journal) FinishSession(ctx context.Context, id string, runErr error) error {
	status := StatusOK
	if runErr != nil {
		status = StatusFailed
	}
	_, err := j.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, error = ? WHERE id = ?
	`, status, errorText(runErr), id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}

// WriteRound inserts a round row.
func (j *Journal) WriteRound(ctx context.Context, ev resolver.RoundEvent) error {
	pending, err := marshalKeyMap(ev.Pending)
	if err != nil {
		return fmt.Errorf("write round: %w", err)
	}
	missingKeys := make([]string, len(ev.Missing))
	for i, k := range ev.Missing {
		missingKeys[i] = k.String()
	}
	missing, err := marshalKeyList(missingKeys)
	if err != nil {
		return fmt.Errorf("write round: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO rounds (session_id, round, seq, pending, fetched, missing, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, round) DO NOTHING
	`, ev.SessionID, ev.Round, j.clock.Next(), pending, ev.Fetched, missing, errorText(ev.Err))
	if err != nil {
		return fmt.Errorf("write round: %w", err)
	}
	return nil
}

// WriteChunk inserts a chunk row for sessionID.
func (j *Journal) WriteChunk(ctx context.Context, sessionID string, ev retrieval.ChunkEvent) error {
	keys, err := marshalKeyList(ev.Keys)
	if err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO chunks
		(session_id, seq, prefix, source, chunk_index, chunk_total, keys, returned, elapsed_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sessionID,
		j.clock.Next(),
		ev.Prefix,
		ev.Source,
		ev.Index,
		ev.Total,
		keys,
		ev.Returned,
		ev.Elapsed.Milliseconds(),
		errorText(ev.Err),
	)
	if err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	return nil
}

// WriteRecords inserts every record of store for sessionID in one
// transaction. Records are stored as canonical JSON with their fingerprint.
// Records already journaled for the session are left unchanged.
func (j *Journal) WriteRecords(ctx context.Context, sessionID string, store *citestore.Store) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (session_id, prefix, cite_key, seq, fingerprint, content, chained)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, prefix, cite_key) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	defer stmt.Close()

	for k, rec := range store.All() {
		content, err := marshalRecord(rec)
		if err != nil {
			return fmt.Errorf("write record %s: %w", k, err)
		}
		fp, err := fingerprint(rec)
		if err != nil {
			return fmt.Errorf("write record %s: %w", k, err)
		}
		chained := 0
		if rec.IsChained() {
			chained = 1
		}
		if _, err := stmt.ExecContext(ctx, sessionID, k.Prefix, k.Key, j.clock.Next(), fp, content, chained); err != nil {
			return fmt.Errorf("write record %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}
