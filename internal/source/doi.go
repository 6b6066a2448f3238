package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/fetch"
)

// DOIName is the registry name of the DOI content-negotiation variant.
const DOIName = "doi"

// DOI variant options and defaults.
const (
	OptBaseURL = "base_url"

	DefaultDOIBaseURL = "https://doi.org/"
	CSLJSONMediaType  = "application/vnd.citationstyles.csl+json"
)

// DOI resolves DOIs to CSL-JSON through content negotiation.
type DOI struct {
	Base
	baseURL string
	fetcher *fetch.Fetcher
	logger  *slog.Logger
}

// NewDOI creates a DOI Source. Defaults: 8 keys per chunk, 1 s between
// chunks.
func NewDOI(opts Options, env Env) (*DOI, error) {
	env = env.withDefaults()

	layered := Layer(
		Options{OptCitePrefix: "doi", OptChunkSize: 8, OptChunkQueryDelay: 1000},
		opts,
	)
	cfg, err := layered.Config(DOIName)
	if err != nil {
		return nil, err
	}
	base, err := layered.String(OptBaseURL, DefaultDOIBaseURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &DOI{Base: NewBase(cfg), baseURL: base, fetcher: env.Fetcher, logger: env.Logger}, nil
}

// RetrieveChunk requests each DOI in turn. A 404 fails with KeyNotFound.
func (d *DOI) RetrieveChunk(ctx context.Context, keys []string) (map[string]citation.Record, error) {
	out := make(map[string]citation.Record, len(keys))
	for _, k := range keys {
		rec, err := d.retrieve(ctx, k)
		if err != nil {
			return out, err
		}
		out[k] = rec
	}
	return out, nil
}

func (d *DOI) retrieve(ctx context.Context, doi string) (citation.Record, error) {
	target := d.baseURL + escapeDOI(doi)

	var raw any
	err := d.fetcher.JSON(ctx, target, fetch.Request{
		Header: http.Header{"Accept": {CSLJSONMediaType}},
	}, &raw)
	if err != nil {
		var ce *citation.Error
		if errors.As(err, &ce) && ce.Code == citation.CodeTransport && ce.Status == http.StatusNotFound {
			return nil, citation.NewKeyNotFoundError(d.Config().CitePrefix, doi, target)
		}
		return nil, err
	}

	m, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, citation.NewFormatError(target, fmt.Sprintf("expected a CSL-JSON object, got %T", raw), nil)
	}
	d.logger.Debug("resolved doi", "doi", doi)
	return citation.Record(m), nil
}

// escapeDOI escapes each path segment of a DOI, keeping its slashes.
func escapeDOI(doi string) string {
	parts := strings.Split(doi, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
