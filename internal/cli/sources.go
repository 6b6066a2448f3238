package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/citechain/internal/config"
	"github.com/roach88/citechain/internal/source"
)

// SourcesOptions holds flags for the sources command.
type SourcesOptions struct {
	*RootOptions
	ConfigPath string
}

// SourcesResult lists registered variants and configured prefixes.
type SourcesResult struct {
	Variants []string           `json:"variants"`
	Prefixes []ConfiguredPrefix `json:"prefixes"`
}

// ConfiguredPrefix is one entry of the configured source mapping. Files
// lists the bibliography files of a bibfile source.
type ConfiguredPrefix struct {
	Prefix string   `json:"prefix"`
	Source string   `json:"source"`
	Files  []string `json:"files,omitempty"`
}

// NewSourcesCommand creates the sources command.
func NewSourcesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SourcesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List source variants and configured prefixes",
		Long: `List the source variants this build knows and the prefixes the
configuration maps to them.

Examples:
  citechain sources
  citechain sources --config citechain.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSources(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (yaml, json or jsonc)")

	return cmd
}

func runSources(opts *SourcesOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	registry := source.DefaultRegistry()
	sources, err := registry.Build(cfg.Sources, source.Env{Logger: newLogger(opts.RootOptions, cmd.ErrOrStderr())})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure sources", err)
	}

	result := SourcesResult{Variants: registry.Names()}
	for _, prefix := range slices.Sorted(maps.Keys(sources)) {
		p := ConfiguredPrefix{Prefix: prefix, Source: cfg.Sources[prefix].Name}
		if bib, ok := sources[prefix].(*source.Bibfile); ok {
			p.Files = bib.Files()
		}
		result.Prefixes = append(result.Prefixes, p)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(result, func(w io.Writer) error {
		fmt.Fprintf(w, "Variants: %v\n", result.Variants)
		fmt.Fprintln(w, "Prefixes:")
		for _, p := range result.Prefixes {
			if len(p.Files) > 0 {
				fmt.Fprintf(w, "  %-12s %s %s\n", p.Prefix, p.Source, strings.Join(p.Files, ", "))
				continue
			}
			fmt.Fprintf(w, "  %-12s %s\n", p.Prefix, p.Source)
		}
		return nil
	})
}
