package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/retrieval"
	"github.com/roach88/citechain/internal/source"
	"github.com/roach88/citechain/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func chained(prefix, key string, props map[string]any) citation.Record {
	return citation.NewChainedRecord(citation.Key{Prefix: prefix, Key: key}, props)
}

func newTestSession(t *testing.T, sources map[string]source.Source, opts ...Option) *Session {
	t.Helper()
	logger := quietLogger()
	opts = append([]Option{
		WithLogger(logger),
		WithIDGenerator(testutil.NewFixedIDGenerator("test-session")),
		WithOrchestrator(retrieval.New(retrieval.WithLogger(logger), retrieval.WithClock(testutil.NewFakeClock()))),
	}, opts...)
	s, err := NewSession(sources, opts...)
	require.NoError(t, err)
	return s
}

// precedenceSources builds alias:A -> mid:B -> doi:C.
func precedenceSources() (alias, mid, doi *testutil.StubSource) {
	alias = testutil.NewStubSource("alias", 10, 0, map[string]citation.Record{
		"A": chained("mid", "B", map[string]any{"title": "A-title"}),
	})
	mid = testutil.NewStubSource("mid", 10, 0, map[string]citation.Record{
		"B": chained("doi", "C", map[string]any{"title": "B-title", "page": "1"}),
	})
	doi = testutil.NewStubSource("doi", 10, 0, map[string]citation.Record{
		"C": {"title": "C-title", "page": "9", "author": "X"},
	})
	return alias, mid, doi
}

// TestResolve_OverridePrecedence tests that set_properties nearer to the
// requested key win and untouched terminal fields pass through.
func TestResolve_OverridePrecedence(t *testing.T) {
	alias, mid, doi := precedenceSources()
	s := newTestSession(t, map[string]source.Source{"alias": alias, "mid": mid, "doi": doi})

	require.NoError(t, s.RunToFixpoint(context.Background(), map[string][]string{"alias": {"A"}}))
	assert.Equal(t, 3, s.Rounds())

	rec, id, err := s.Resolve("alias", "A")
	require.NoError(t, err)
	assert.Equal(t, "alias:A", id)
	assert.Equal(t, citation.Record{
		"id":     "alias:A",
		"title":  "A-title",
		"page":   "1",
		"author": "X",
	}, rec)

	mid2, _, err := s.Resolve("mid", "B")
	require.NoError(t, err)
	assert.Equal(t, "B-title", mid2["title"])
	assert.Equal(t, "mid:B", mid2["id"])
}

// TestResolve_Idempotent tests that resolving twice yields equal records
// and leaves the store untouched.
func TestResolve_Idempotent(t *testing.T) {
	alias, mid, doi := precedenceSources()
	s := newTestSession(t, map[string]source.Source{"alias": alias, "mid": mid, "doi": doi})
	require.NoError(t, s.RunToFixpoint(context.Background(), map[string][]string{"alias": {"A"}}))

	first, _, err := s.Resolve("alias", "A")
	require.NoError(t, err)
	first["title"] = "mutated by caller"

	second, _, err := s.Resolve("alias", "A")
	require.NoError(t, err)
	assert.Equal(t, "A-title", second["title"])

	terminal, ok := s.Store().Get("doi", "C")
	require.True(t, ok)
	assert.Equal(t, citation.Record{"id": "doi:C", "title": "C-title", "page": "9", "author": "X"}, terminal)
}

func TestRunToFixpoint_TerminalRecords(t *testing.T) {
	m, err := source.NewManual(source.Options{})
	require.NoError(t, err)
	s := newTestSession(t, map[string]source.Source{"manual": m})

	require.NoError(t, s.RunToFixpoint(context.Background(), map[string][]string{"manual": {"p1", "p2"}}))
	assert.Equal(t, 1, s.Rounds())

	for _, key := range []string{"p1", "p2"} {
		rec, id, err := s.Resolve("manual", key)
		require.NoError(t, err)
		assert.Equal(t, "manual:"+key, id)
		assert.Equal(t, key, rec[citation.FieldFormattedText])
	}
}

// TestRunToFixpoint_Cycle tests that A -> B -> A fails with ChainCycle.
func TestRunToFixpoint_Cycle(t *testing.T) {
	alias := testutil.NewStubSource("alias", 10, 0, map[string]citation.Record{
		"A": chained("alias", "B", nil),
		"B": chained("alias", "A", nil),
	})
	s := newTestSession(t, map[string]source.Source{"alias": alias})

	err := s.RunToFixpoint(context.Background(), map[string][]string{"alias": {"A"}})
	require.Error(t, err)
	assert.True(t, citation.IsChainCycle(err))

	var ce *citation.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "alias:A,alias:B,alias:A", ce.Details["path"])

	_, _, err = s.Resolve("alias", "B")
	assert.True(t, citation.IsChainCycle(err))
}

func TestRunToFixpoint_SelfChain(t *testing.T) {
	alias := testutil.NewStubSource("alias", 10, 0, map[string]citation.Record{
		"A": chained("alias", "A", nil),
	})
	s := newTestSession(t, map[string]source.Source{"alias": alias})

	err := s.RunToFixpoint(context.Background(), map[string][]string{"alias": {"A"}})
	assert.True(t, citation.IsChainCycle(err))
}

func TestRunToFixpoint_UnknownRequestedPrefix(t *testing.T) {
	m, err := source.NewManual(source.Options{})
	require.NoError(t, err)
	s := newTestSession(t, map[string]source.Source{"manual": m})

	err = s.RunToFixpoint(context.Background(), map[string][]string{"nosuch": {"k"}})
	require.Error(t, err)
	assert.True(t, citation.IsUnknownPrefix(err))
	assert.Contains(t, err.Error(), `"nosuch"`)
}

func TestRunToFixpoint_UnknownChainTargetPrefix(t *testing.T) {
	alias := testutil.NewStubSource("alias", 10, 0, map[string]citation.Record{
		"A": chained("nosuch", "k", nil),
	})
	s := newTestSession(t, map[string]source.Source{"alias": alias})

	err := s.RunToFixpoint(context.Background(), map[string][]string{"alias": {"A"}})
	require.Error(t, err)
	assert.True(t, citation.IsUnknownPrefix(err))
	assert.Contains(t, err.Error(), "chain of alias:A")
}

func TestRunToFixpoint_OmittedKeyIsKeyNotFound(t *testing.T) {
	stub := testutil.NewStubSource("p", 10, 0, map[string]citation.Record{"a": {"title": "A"}})
	s := newTestSession(t, map[string]source.Source{"p": stub})

	err := s.RunToFixpoint(context.Background(), map[string][]string{"p": {"a", "gone"}})
	require.Error(t, err)
	assert.True(t, citation.IsKeyNotFound(err))
	assert.Contains(t, err.Error(), `"gone"`)
}

// TestRunToFixpoint_AllowMissing tests that missing keys are skipped and
// reported, whether omitted by the Source or raised as KeyNotFound.
func TestRunToFixpoint_AllowMissing(t *testing.T) {
	stub := testutil.NewStubSource("p", 10, 0, map[string]citation.Record{
		"a":     {"title": "A"},
		"alias": chained("p", "gone", nil),
	})
	stub.Errors = map[string]error{"bad": citation.NewKeyNotFoundError("p", "bad", "stub")}
	s := newTestSession(t, map[string]source.Source{"p": stub}, WithAllowMissing(true))

	err := s.RunToFixpoint(context.Background(), map[string][]string{"p": {"a", "bad", "alias", "absent"}})
	require.NoError(t, err)

	assert.Equal(t, []citation.Key{{Prefix: "p", Key: "bad"}, {Prefix: "p", Key: "absent"}, {Prefix: "p", Key: "gone"}}, s.Missing())

	rec, _, err := s.Resolve("p", "a")
	require.NoError(t, err)
	assert.Equal(t, "A", rec["title"])

	_, _, err = s.Resolve("p", "alias")
	assert.True(t, citation.IsKeyNotFound(err))
}

// TestRunToFixpoint_AllowMissingFetchesEachChunkOnce tests that keys
// raising KeyNotFound are dropped without refetching finished chunks.
func TestRunToFixpoint_AllowMissingFetchesEachChunkOnce(t *testing.T) {
	for _, tc := range []struct {
		name      string
		partial   bool
		wantCalls int
	}{
		{name: "retries rest of chunk", wantCalls: 10},
		{name: "records returned with error", partial: true, wantCalls: 5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			records := make(map[string]citation.Record)
			errs := make(map[string]error)
			var keys []string
			var want []citation.Key
			for i := range 10 {
				k := fmt.Sprintf("%d", i)
				keys = append(keys, k)
				if i%2 == 0 {
					errs[k] = citation.NewKeyNotFoundError("p", k, "stub")
					want = append(want, citation.Key{Prefix: "p", Key: k})
					continue
				}
				records[k] = citation.Record{"title": k}
			}
			stub := testutil.NewStubSource("p", 2, 0, records)
			stub.Errors = errs
			stub.PartialOnError = tc.partial
			s := newTestSession(t, map[string]source.Source{"p": stub}, WithAllowMissing(true))

			require.NoError(t, s.RunToFixpoint(context.Background(), map[string][]string{"p": keys}))

			assert.Len(t, stub.Calls(), tc.wantCalls)
			assert.Equal(t, want, s.Missing())
			assert.Equal(t, []string{"1", "3", "5", "7", "9"}, s.Store().Keys("p"))
			inits, finalizes := stub.Runs()
			assert.Equal(t, 1, inits)
			assert.Equal(t, 1, finalizes)

			seen := make(map[string]int)
			for _, k := range stub.RequestedKeys() {
				seen[k]++
			}
			for k, n := range seen {
				requests := 1
				if _, ok := records[k]; ok && !tc.partial {
					requests = 2
				}
				assert.Equal(t, requests, n, k)
			}
		})
	}
}

func TestRunToFixpoint_CancelledBeforeRound(t *testing.T) {
	stub := testutil.NewStubSource("p", 10, 0, map[string]citation.Record{"a": {}})
	s := newTestSession(t, map[string]source.Source{"p": stub})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunToFixpoint(ctx, map[string][]string{"p": {"a"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, stub.Calls())
}

// TestRunToFixpoint_PartialResultsMerged tests that prefixes fetched before
// a failing prefix are stored.
func TestRunToFixpoint_PartialResultsMerged(t *testing.T) {
	good := testutil.NewStubSource("a", 10, 0, map[string]citation.Record{"x": {"title": "X"}})
	bad := testutil.NewStubSource("b", 10, 0, nil)
	bad.Errors = map[string]error{"y": citation.NewTransportError("https://example.org/y", 500, "", nil)}
	s := newTestSession(t, map[string]source.Source{"a": good, "b": bad})

	err := s.RunToFixpoint(context.Background(), map[string][]string{"a": {"x"}, "b": {"y"}})
	require.Error(t, err)
	assert.True(t, citation.IsTransportError(err))
	assert.True(t, s.Store().Has("a", "x"))
}

func TestRunToFixpoint_RerunDoesNotRefetch(t *testing.T) {
	stub := testutil.NewStubSource("p", 10, 0, map[string]citation.Record{"a": {}, "b": {}})
	s := newTestSession(t, map[string]source.Source{"p": stub})

	require.NoError(t, s.RunToFixpoint(context.Background(), map[string][]string{"p": {"a"}}))
	require.NoError(t, s.RunToFixpoint(context.Background(), map[string][]string{"p": {"a", "b"}}))

	assert.Equal(t, []string{"a", "b"}, stub.RequestedKeys())
	assert.Equal(t, []string{"a", "b"}, s.Store().Keys("p"))
}

func TestRunToFixpoint_ParallelMatchesSequential(t *testing.T) {
	run := func(parallel bool) citation.Record {
		alias, mid, doi := precedenceSources()
		s := newTestSession(t, map[string]source.Source{"alias": alias, "mid": mid, "doi": doi}, WithParallel(parallel))
		require.NoError(t, s.RunToFixpoint(context.Background(), map[string][]string{
			"alias": {"A"},
			"doi":   {"C"},
		}))
		rec, _, err := s.Resolve("alias", "A")
		require.NoError(t, err)
		return rec
	}
	assert.Equal(t, run(false), run(true))
}

func TestRunToFixpoint_RoundHook(t *testing.T) {
	alias, mid, doi := precedenceSources()
	var events []RoundEvent
	s := newTestSession(t, map[string]source.Source{"alias": alias, "mid": mid, "doi": doi},
		WithRoundHook(func(ev RoundEvent) { events = append(events, ev) }))

	require.NoError(t, s.RunToFixpoint(context.Background(), map[string][]string{"alias": {"A"}}))

	require.Len(t, events, 3)
	assert.Equal(t, "test-session", events[0].SessionID)
	assert.Equal(t, map[string][]string{"alias": {"A"}}, events[0].Pending)
	assert.Equal(t, map[string][]string{"mid": {"B"}}, events[1].Pending)
	assert.Equal(t, map[string][]string{"doi": {"C"}}, events[2].Pending)
	assert.Equal(t, 3, events[2].Round)
	assert.Equal(t, 1, events[2].Fetched)
}

// TestRunToFixpoint_Bibfile tests resolution from a JSON and a YAML
// bibliography file.
func TestRunToFixpoint_Bibfile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(a, []byte(`[{"id": "x", "title": "X"}]`), 0644))
	require.NoError(t, os.WriteFile(b, []byte("y:\n  title: Y\n"), 0644))

	build := func() *Session {
		sources, err := source.DefaultRegistry().Build(map[string]source.Spec{
			"bibfile": {Name: source.BibfileName, Config: source.Options{"bibliography_file": []any{a, b}}},
		}, source.Env{Logger: quietLogger()})
		require.NoError(t, err)
		return newTestSession(t, sources)
	}

	s := build()
	require.NoError(t, s.RunToFixpoint(context.Background(), map[string][]string{"bibfile": {"x", "y"}}))
	x, _, err := s.Resolve("bibfile", "x")
	require.NoError(t, err)
	assert.Equal(t, citation.Record{"id": "bibfile:x", "title": "X"}, x)
	y, _, err := s.Resolve("bibfile", "y")
	require.NoError(t, err)
	assert.Equal(t, citation.Record{"id": "bibfile:y", "title": "Y"}, y)

	err = build().RunToFixpoint(context.Background(), map[string][]string{"bibfile": {"z"}})
	require.Error(t, err)
	assert.True(t, citation.IsKeyNotFound(err))
}

func TestNewSession_RejectsPrefixMismatch(t *testing.T) {
	stub := testutil.NewStubSource("p", 10, 0, nil)
	_, err := NewSession(map[string]source.Source{"q": stub})
	assert.Error(t, err)
}

func TestNewSession_GeneratesUUIDv7(t *testing.T) {
	s, err := NewSession(map[string]source.Source{}, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Len(t, s.ID(), 36)
}

func TestResolve_Errors(t *testing.T) {
	stub := testutil.NewStubSource("p", 10, 0, nil)
	s := newTestSession(t, map[string]source.Source{"p": stub})

	_, _, err := s.Resolve("q", "a")
	assert.True(t, citation.IsUnknownPrefix(err))

	_, _, err = s.Resolve("p", "a")
	assert.True(t, citation.IsKeyNotFound(err))
}

func TestRoundQuota(t *testing.T) {
	var q RoundQuota
	require.NoError(t, q.Check(2))
	require.NoError(t, q.Check(2))

	err := q.Check(2)
	require.Error(t, err)
	assert.True(t, citation.IsChainCycle(err))
	assert.True(t, errors.Is(err, citation.ErrChainCycle))
	assert.Equal(t, 3, q.Rounds())
}
