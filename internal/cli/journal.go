package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/citechain/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database string
	Session  string
}

// SessionDetail is one journaled session with its rounds, chunks and
// records.
type SessionDetail struct {
	Session journal.SessionRow  `json:"session"`
	Rounds  []journal.RoundRow  `json:"rounds"`
	Chunks  []journal.ChunkRow  `json:"chunks"`
	Records []journal.RecordRow `json:"records"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect journaled resolution sessions",
		Long: `Inspect a resolution journal written by "citechain resolve --journal".

Without --session, lists every session. With --session, prints that
session's rounds, chunk fetches and raw records.

Examples:
  citechain journal --db run.db
  citechain journal --db run.db --session 0192f0c4-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id to show")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	// Open would create an empty journal
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}
	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.Session == "" {
		sessions, err := j.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		return out.Success(sessions, func(w io.Writer) error {
			if len(sessions) == 0 {
				fmt.Fprintln(w, "No sessions journaled.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(w, "%s  %-7s  %d citation(s)\n", s.ID, s.Status, countKeys(s.Requested))
			}
			return nil
		})
	}

	detail, err := loadSessionDetail(ctx, j, opts.Session)
	if err != nil {
		if errors.Is(err, journal.ErrSessionNotFound) {
			return WrapExitError(ExitCommandError, fmt.Sprintf("session %q", opts.Session), err)
		}
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}
	return out.Success(detail, func(w io.Writer) error {
		writeSessionText(w, detail)
		return nil
	})
}

func loadSessionDetail(ctx context.Context, j *journal.Journal, id string) (SessionDetail, error) {
	var d SessionDetail
	var err error

	if d.Session, err = j.Session(ctx, id); err != nil {
		return d, err
	}
	if d.Rounds, err = j.Rounds(ctx, id); err != nil {
		return d, err
	}
	if d.Chunks, err = j.Chunks(ctx, id); err != nil {
		return d, err
	}
	if d.Records, err = j.Records(ctx, id); err != nil {
		return d, err
	}
	return d, nil
}

func writeSessionText(w io.Writer, d SessionDetail) {
	fmt.Fprintf(w, "Session %s (%s)\n", d.Session.ID, d.Session.Status)
	if d.Session.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", d.Session.Error)
	}

	fmt.Fprintf(w, "Rounds: %d\n", len(d.Rounds))
	for _, r := range d.Rounds {
		line := fmt.Sprintf("  #%d  fetched %d of %d", r.Round, r.Fetched, countKeys(r.Pending))
		if len(r.Missing) > 0 {
			line += "  missing " + strings.Join(r.Missing, ", ")
		}
		if r.Error != "" {
			line += "  error: " + r.Error
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "Chunks: %d\n", len(d.Chunks))
	for _, c := range d.Chunks {
		status := "ok"
		if c.Error != "" {
			status = c.Error
		}
		fmt.Fprintf(w, "  %s %d/%d  %d key(s) -> %d record(s)  %dms  %s\n",
			c.Prefix, c.Index+1, c.Total, len(c.Keys), c.Returned, c.ElapsedMs, status)
	}

	fmt.Fprintf(w, "Records: %d\n", len(d.Records))
	for _, r := range d.Records {
		kind := "record"
		if r.Chained {
			kind = "chained"
		}
		fmt.Fprintf(w, "  %s:%s  %s  %s\n", r.Prefix, r.Key, kind, r.Fingerprint)
	}
}

func countKeys(m map[string][]string) int {
	n := 0
	for _, keys := range m {
		n += len(keys)
	}
	return n
}
