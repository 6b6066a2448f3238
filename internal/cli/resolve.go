package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/config"
	"github.com/roach88/citechain/internal/fetch"
	"github.com/roach88/citechain/internal/journal"
	"github.com/roach88/citechain/internal/metrics"
	"github.com/roach88/citechain/internal/render"
	"github.com/roach88/citechain/internal/resolver"
	"github.com/roach88/citechain/internal/retrieval"
	"github.com/roach88/citechain/internal/scan"
	"github.com/roach88/citechain/internal/source"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	ConfigPath   string
	Occurrences  string
	Journal      string
	MetricsFile  string
	AllowMissing bool
	Parallel     bool

	// IDGenerator overrides the session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator resolver.IDGenerator

	// Registry overrides the source registry (for testing).
	// If nil, defaults to source.DefaultRegistry.
	Registry *source.Registry
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return newResolveCommand(&ResolveOptions{RootOptions: rootOpts})
}

func newResolveCommand(opts *ResolveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [prefix:key ...]",
		Short: "Resolve citation keys to records",
		Long: `Resolve citation keys to fully chained records.

Keys come from the arguments and/or an occurrences file (YAML or JSON list
of {cite_prefix, cite_key, encountered_in: {what}}). Sources are fetched
round by round until every chain reaches a terminal record.

Text output prints one "id<TAB>citation" line per key; JSON output is a
canonical JSON array of the resolved records.

Examples:
  citechain resolve doi:10.1093/comjnl/27.2.97
  citechain resolve --config citechain.yaml --occurrences refs.yaml --format json
  citechain resolve --journal run.db --metrics-file citechain.prom arxiv:1706.03762`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (yaml, json or jsonc)")
	cmd.Flags().StringVar(&opts.Occurrences, "occurrences", "", "path to occurrences file")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (overrides config)")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")
	cmd.Flags().BoolVar(&opts.AllowMissing, "allow-missing", false, "warn about missing citations instead of failing")
	cmd.Flags().BoolVar(&opts.Parallel, "parallel", false, "fetch different sources concurrently within a round")

	return cmd
}

func runResolve(opts *ResolveOptions, args []string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.AllowMissing {
		cfg.Missing = config.MissingWarn
	}
	if opts.Parallel {
		cfg.Parallel = true
	}
	if opts.Journal != "" {
		cfg.Journal = opts.Journal
	}

	occs, err := loadOccurrences(opts.Occurrences, args)
	if err != nil {
		return err
	}

	registry := opts.Registry
	if registry == nil {
		registry = source.DefaultRegistry()
	}
	fetcher := fetch.New(
		fetch.WithTimeout(cfg.HTTP.Timeout),
		fetch.WithUserAgent(cfg.HTTP.UserAgent),
		fetch.WithLogger(logger),
	)
	sources, err := registry.Build(cfg.Sources, source.Env{Fetcher: fetcher, Logger: logger})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure sources", err)
	}

	requests, err := scan.BuildRequests(occs, slices.Sorted(maps.Keys(sources)))
	if err != nil {
		return WrapExitError(ExitFailure, "invalid citation", err)
	}

	m := metrics.New()
	orchOpts := []retrieval.Option{
		retrieval.WithLogger(logger),
		retrieval.WithChunkHook(m.OnChunk),
	}
	sessOpts := []resolver.Option{
		resolver.WithLogger(logger),
		resolver.WithParallel(cfg.Parallel),
		resolver.WithAllowMissing(cfg.AllowMissing()),
		resolver.WithRoundHook(m.OnRound),
	}
	if opts.IDGenerator != nil {
		sessOpts = append(sessOpts, resolver.WithIDGenerator(opts.IDGenerator))
	}

	var rec *journal.Recorder
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		rec = journal.NewRecorder(j, logger)
		orchOpts = append(orchOpts, retrieval.WithChunkHook(rec.OnChunk))
		sessOpts = append(sessOpts, resolver.WithRoundHook(rec.OnRound))
	}

	orch := retrieval.New(orchOpts...)
	sess, err := resolver.NewSession(sources, append(sessOpts, resolver.WithOrchestrator(orch))...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create session", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rec != nil {
		if err := rec.Begin(ctx, sess.ID(), requests); err != nil {
			return WrapExitError(ExitCommandError, "failed to journal session", err)
		}
	}

	logger.Debug("session starting", "session", sess.ID(), "prefixes", len(requests))
	runErr := sess.RunToFixpoint(ctx, requests)

	if rec != nil {
		if err := rec.Finish(context.WithoutCancel(ctx), sess.Store(), runErr); err != nil {
			logger.Warn("journal incomplete", "session", sess.ID(), "error", err)
		}
	}
	if opts.MetricsFile != "" {
		if err := m.WriteTextfile(opts.MetricsFile); err != nil {
			logger.Warn("metrics not written", "path", opts.MetricsFile, "error", err)
		}
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "resolution failed", runErr)
	}
	for _, k := range sess.Missing() {
		logger.Warn("missing citation", "citation", k.String())
	}

	keys := uniqueKeys(occs)
	if opts.Format == "json" {
		return writeRecordsJSON(cmd.OutOrStdout(), sess, keys, cfg.AllowMissing(), logger)
	}
	return writeCitationsText(ctx, cmd.OutOrStdout(), sess, keys, cfg, logger)
}

// loadOccurrences merges the occurrences file with argument keys.
func loadOccurrences(path string, args []string) ([]scan.Occurrence, error) {
	var occs []scan.Occurrence
	if path != "" {
		fromFile, err := scan.LoadOccurrences(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load occurrences", err)
		}
		occs = fromFile
	}
	fromArgs, err := scan.FromKeys(args)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid argument", err)
	}
	occs = append(occs, fromArgs...)
	if len(occs) == 0 {
		return nil, NewExitError(ExitCommandError, "no citation keys given")
	}
	return occs, nil
}

// uniqueKeys returns occurrence keys in first-seen order.
func uniqueKeys(occs []scan.Occurrence) []citation.Key {
	seen := make(map[citation.Key]bool, len(occs))
	var keys []citation.Key
	for _, o := range occs {
		k := o.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// skipMissing reports whether a resolution error is a missing citation that
// the missing policy turns into a warning.
func skipMissing(err error, allowMissing bool, k citation.Key, logger *slog.Logger) bool {
	if allowMissing && citation.IsKeyNotFound(err) {
		logger.Warn("skipping unresolved citation", "citation", k.String(), "error", err)
		return true
	}
	return false
}

func writeRecordsJSON(w io.Writer, sess *resolver.Session, keys []citation.Key, allowMissing bool, logger *slog.Logger) error {
	records := make([]citation.Record, 0, len(keys))
	for _, k := range keys {
		r, _, err := sess.Resolve(k.Prefix, k.Key)
		if err != nil {
			if skipMissing(err, allowMissing, k, logger) {
				continue
			}
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to resolve %s", k), err)
		}
		records = append(records, r)
	}

	data, err := citation.MarshalCanonical(records)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode records", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return nil
}

func writeCitationsText(ctx context.Context, w io.Writer, sess *resolver.Session, keys []citation.Key, cfg *config.Config, logger *slog.Logger) error {
	renderer := render.Preformatted{Next: render.Plain{}}
	for _, k := range keys {
		text, err := render.Citation(ctx, sess, renderer, k.Prefix, k.Key, cfg.Style)
		if err != nil {
			if skipMissing(err, cfg.AllowMissing(), k, logger) {
				continue
			}
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to render %s", k), err)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", k, text); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
	}
	return nil
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
