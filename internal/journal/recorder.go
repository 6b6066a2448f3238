package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/citechain/internal/citestore"
	"github.com/roach88/citechain/internal/resolver"
	"github.com/roach88/citechain/internal/retrieval"
)

// Recorder journals one resolution session through orchestrator and
// session hooks.
//
// Hooks cannot fail the resolution; write errors are logged and returned
// by Finish.
//
// Usage:
//
//	rec := journal.NewRecorder(j, logger)
//	orch := retrieval.New(retrieval.WithChunkHook(rec.OnChunk))
//	sess, _ := resolver.NewSession(sources, resolver.WithOrchestrator(orch), resolver.WithRoundHook(rec.OnRound))
//	rec.Begin(ctx, sess.ID(), requests)
//	runErr := sess.RunToFixpoint(ctx, requests)
//	rec.Finish(ctx, sess.Store(), runErr)
type Recorder struct {
	j      *Journal
	logger *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	sessionID string
	errs      []error
}

// NewRecorder creates a Recorder writing to j.
func NewRecorder(j *Journal, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{j: j, logger: logger, ctx: context.Background()}
}

// Begin journals the session start. Events before Begin are ignored.
func (r *Recorder) Begin(ctx context.Context, sessionID string, requests map[string][]string) error {
	r.mu.Lock()
	r.ctx = ctx
	r.sessionID = sessionID
	r.mu.Unlock()
	return r.j.BeginSession(ctx, sessionID, requests)
}

// OnChunk is a retrieval.ChunkHook. Safe for concurrent use.
func (r *Recorder) OnChunk(ev retrieval.ChunkEvent) {
	ctx, id := r.session()
	if id == "" {
		return
	}
	r.record(r.j.WriteChunk(context.WithoutCancel(ctx), id, ev))
}

// OnRound is a resolver.RoundHook.
func (r *Recorder) OnRound(ev resolver.RoundEvent) {
	ctx, id := r.session()
	if id == "" {
		return
	}
	r.record(r.j.WriteRound(context.WithoutCancel(ctx), ev))
}

// Finish journals the stored records and the session outcome, returning
// any write error seen since Begin.
func (r *Recorder) Finish(ctx context.Context, store *citestore.Store, runErr error) error {
	_, id := r.session()
	if id == "" {
		return errors.New("recorder: Finish called before Begin")
	}
	r.record(r.j.WriteRecords(ctx, id, store))
	r.record(r.j.FinishSession(ctx, id, runErr))

	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

func (r *Recorder) session() (context.Context, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx, r.sessionID
}

func (r *Recorder) record(err error) {
	if err == nil {
		return
	}
	r.logger.Warn("journal write failed", "error", err)
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}
