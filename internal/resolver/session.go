package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/citestore"
	"github.com/roach88/citechain/internal/retrieval"
	"github.com/roach88/citechain/internal/source"
)

// RoundEvent describes one finished fixpoint round.
type RoundEvent struct {
	SessionID string
	Round     int // 1-based
	Pending   map[string][]string
	Fetched   int
	Missing   []citation.Key
	Err       error
}

// RoundHook observes finished rounds.
type RoundHook func(RoundEvent)

// Session resolves citation keys against a fixed set of Sources.
//
// A Session owns its CitationStore; nothing is shared between sessions.
// RunToFixpoint may be called more than once: keys already stored are not
// fetched again. Resolve never mutates the store.
//
// Thread-safety: a Session must be used from one goroutine. With
// WithParallel, a round fetches different Sources concurrently, but each
// Source is still driven by exactly one goroutine.
type Session struct {
	id           string
	sources      map[string]source.Source
	store        *citestore.Store
	orch         *retrieval.Orchestrator
	logger       *slog.Logger
	parallel     bool
	allowMissing bool
	roundHooks   []RoundHook
	quota        RoundQuota

	seen    map[citation.Key]struct{}
	missing []citation.Key
	isMiss  map[citation.Key]struct{}
}

// Option configures a Session.
type Option func(*sessionConfig)

type sessionConfig struct {
	ids          IDGenerator
	orch         *retrieval.Orchestrator
	logger       *slog.Logger
	parallel     bool
	allowMissing bool
	roundHooks   []RoundHook
}

// WithIDGenerator sets the session id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *sessionConfig) {
		c.ids = g
	}
}

// WithOrchestrator sets the orchestrator used to run Sources.
func WithOrchestrator(o *retrieval.Orchestrator) Option {
	return func(c *sessionConfig) {
		c.orch = o
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *sessionConfig) {
		c.logger = l
	}
}

// WithParallel fetches the Sources of a round concurrently.
func WithParallel(on bool) Option {
	return func(c *sessionConfig) {
		c.parallel = on
	}
}

// WithAllowMissing downgrades unresolvable keys from errors to warnings.
// Skipped keys are reported by Missing.
func WithAllowMissing(on bool) Option {
	return func(c *sessionConfig) {
		c.allowMissing = on
	}
}

// WithRoundHook adds a round observer.
func WithRoundHook(h RoundHook) Option {
	return func(c *sessionConfig) {
		c.roundHooks = append(c.roundHooks, h)
	}
}

// NewSession creates a Session over sources, keyed by prefix. Every
// Source's CitePrefix must equal its key.
func NewSession(sources map[string]source.Source, opts ...Option) (*Session, error) {
	cfg := sessionConfig{ids: UUIDv7Generator{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.orch == nil {
		cfg.orch = retrieval.New(retrieval.WithLogger(cfg.logger))
	}

	for prefix, src := range sources {
		if got := src.Config().CitePrefix; got != prefix {
			return nil, fmt.Errorf("source registered under %q answers for prefix %q", prefix, got)
		}
	}

	return &Session{
		id:           cfg.ids.Generate(),
		sources:      maps.Clone(sources),
		store:        citestore.New(),
		orch:         cfg.orch,
		logger:       cfg.logger,
		parallel:     cfg.parallel,
		allowMissing: cfg.allowMissing,
		roundHooks:   cfg.roundHooks,
		seen:         make(map[citation.Key]struct{}),
		isMiss:       make(map[citation.Key]struct{}),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Store returns the session's CitationStore. Callers must not mutate it.
func (s *Session) Store() *citestore.Store { return s.store }

// Missing returns the keys skipped under WithAllowMissing, in the order
// they were found missing.
func (s *Session) Missing() []citation.Key { return slices.Clone(s.missing) }

// Rounds returns the number of rounds run so far.
func (s *Session) Rounds() int { return s.quota.Rounds() }

func (s *Session) hasSource(prefix string) bool {
	_, ok := s.sources[prefix]
	return ok
}

// RunToFixpoint fetches requests (prefix -> keys) and then every chain
// target they reveal, round by round, until no chain points at an absent
// record.
//
// Within a round each prefix is fetched once; the round is a barrier and
// its results are merged in prefix order before the next round is planned.
// When a fetch fails, the prefixes that succeeded in that round are merged
// before the error is returned. Cancellation is checked at the top of every
// round.
func (s *Session) RunToFixpoint(ctx context.Context, requests map[string][]string) error {
	pending := make(map[string][]string)
	for _, prefix := range slices.Sorted(maps.Keys(requests)) {
		if !s.hasSource(prefix) {
			return citation.NewUnknownPrefixError(prefix, "requested citations")
		}
		for _, key := range requests[prefix] {
			s.addPending(pending, citation.Key{Prefix: prefix, Key: key})
		}
	}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		for prefix, keys := range pending {
			for _, k := range keys {
				s.seen[citation.Key{Prefix: prefix, Key: k}] = struct{}{}
			}
		}
		if err := s.quota.Check(len(s.seen)); err != nil {
			return err
		}

		round := s.quota.Rounds()
		s.logger.Debug("resolution round", "session", s.id, "round", round, "prefixes", len(pending))

		fetched, missing, err := s.runRound(ctx, pending)
		s.emit(RoundEvent{
			SessionID: s.id,
			Round:     round,
			Pending:   pending,
			Fetched:   fetched,
			Missing:   missing,
			Err:       err,
		})
		if err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}

		next, err := s.planNext()
		if err != nil {
			return err
		}
		pending = next
	}

	return s.checkChains()
}

// addPending queues k unless it is stored, known missing or queued.
func (s *Session) addPending(pending map[string][]string, k citation.Key) {
	if s.store.Has(k.Prefix, k.Key) {
		return
	}
	if _, miss := s.isMiss[k]; miss {
		return
	}
	if slices.Contains(pending[k.Prefix], k.Key) {
		return
	}
	pending[k.Prefix] = append(pending[k.Prefix], k.Key)
}

type prefixResult struct {
	records map[string]citation.Record
	missing []string
	err     error
}

// runRound fetches every pending prefix and merges what succeeded.
// Returns the number of records stored and the keys found missing.
func (s *Session) runRound(ctx context.Context, pending map[string][]string) (int, []citation.Key, error) {
	prefixes := slices.Sorted(maps.Keys(pending))
	results := make([]prefixResult, len(prefixes))

	if s.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, prefix := range prefixes {
			g.Go(func() error {
				results[i] = s.fetchPrefix(gctx, prefix, pending[prefix])
				return results[i].err
			})
		}
		_ = g.Wait()
	} else {
		for i, prefix := range prefixes {
			results[i] = s.fetchPrefix(ctx, prefix, pending[prefix])
			if results[i].err != nil {
				break
			}
		}
	}

	var (
		fetched int
		missing []citation.Key
		errs    []error
	)
	for i, prefix := range prefixes {
		res := results[i]
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		if res.records == nil {
			continue
		}
		for _, key := range pending[prefix] {
			if rec, ok := res.records[key]; ok {
				s.store.Put(prefix, key, rec)
				fetched++
			}
		}
		for _, key := range slices.Sorted(maps.Keys(res.records)) {
			if !slices.Contains(pending[prefix], key) && !s.store.Has(prefix, key) {
				s.store.Put(prefix, key, res.records[key])
				fetched++
			}
		}
		for _, key := range res.missing {
			k := citation.Key{Prefix: prefix, Key: key}
			s.markMissing(k)
			missing = append(missing, k)
		}
	}
	return fetched, missing, firstError(errs)
}

// fetchPrefix runs one Source over keys. Keys the Source omits are
// reported missing or fail with KeyNotFound. Under WithAllowMissing a
// KeyNotFound raised by the Source drops that key and the orchestrator
// resumes with the rest of the failing chunk.
func (s *Session) fetchPrefix(ctx context.Context, prefix string, keys []string) prefixResult {
	src := s.sources[prefix]

	recs, dropped, err := s.orch.RetrieveDropping(ctx, src, keys, func(err error, chunk []string) (string, bool) {
		return s.droppable(err, prefix, chunk)
	})
	if err != nil {
		return prefixResult{err: err}
	}
	for _, k := range dropped {
		s.logger.Warn("citation not found", "source", prefix, "key", k)
	}

	skipped := dropped
	for _, key := range keys {
		if _, ok := recs[key]; ok || slices.Contains(dropped, key) {
			continue
		}
		if !s.allowMissing {
			return prefixResult{err: citation.NewKeyNotFoundError(prefix, key,
				fmt.Sprintf("results of %s source %q", src.Config().SourceName, prefix))}
		}
		s.logger.Warn("citation not found", "source", prefix, "key", key)
		skipped = append(skipped, key)
	}
	return prefixResult{records: recs, missing: skipped}
}

// droppable reports the key named by a KeyNotFound error when missing keys
// are allowed and the key belongs to this request.
func (s *Session) droppable(err error, prefix string, keys []string) (string, bool) {
	if !s.allowMissing {
		return "", false
	}
	var ce *citation.Error
	if !errors.As(err, &ce) || ce.Code != citation.CodeKeyNotFound {
		return "", false
	}
	if ce.Prefix != prefix || !slices.Contains(keys, ce.Key) {
		return "", false
	}
	return ce.Key, true
}

func (s *Session) markMissing(k citation.Key) {
	if _, ok := s.isMiss[k]; ok {
		return
	}
	s.isMiss[k] = struct{}{}
	s.missing = append(s.missing, k)
}

// planNext scans the store for chain pointers whose targets are not yet
// stored.
func (s *Session) planNext() (map[string][]string, error) {
	next := make(map[string][]string)
	for k, rec := range s.store.All() {
		chain, chained, err := rec.Chain()
		if err != nil {
			return nil, err
		}
		if !chained {
			continue
		}
		if !s.hasSource(chain.Target.Prefix) {
			return nil, citation.NewUnknownPrefixError(chain.Target.Prefix, "chain of "+k.String())
		}
		s.addPending(next, chain.Target)
	}
	return next, nil
}

// checkChains walks every stored chain; pointers that loop fail with
// ChainCycle. Chains ending at a key skipped as missing are left for
// Resolve to report.
func (s *Session) checkChains() error {
	for k, rec := range s.store.All() {
		if !rec.IsChained() {
			continue
		}
		if _, err := walkChain(s.store, s.hasSource, k); err != nil && !citation.IsKeyNotFound(err) {
			return err
		}
	}
	return nil
}

func (s *Session) emit(ev RoundEvent) {
	for _, h := range s.roundHooks {
		h(ev)
	}
}

// Resolve returns the fully resolved record for (prefix, key).
//
// Chain pointers are followed to a terminal record; set_properties along
// the way override terminal fields, nearer hops winning over farther ones.
// The result is a fresh map whose id is "prefix:key" of the request; the
// store is not modified, so repeated calls return equal records.
func (s *Session) Resolve(prefix, key string) (citation.Record, string, error) {
	if !s.hasSource(prefix) {
		return nil, "", citation.NewUnknownPrefixError(prefix, "")
	}
	start := citation.Key{Prefix: prefix, Key: key}

	w, err := walkChain(s.store, s.hasSource, start)
	if err != nil {
		return nil, "", err
	}

	out := w.Terminal.Clone()
	for i := len(w.Overrides) - 1; i >= 0; i-- {
		maps.Copy(out, w.Overrides[i])
	}
	id := start.String()
	out[citation.FieldID] = id
	return out, id, nil
}

func firstError(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}
