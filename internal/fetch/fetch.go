// Package fetch dereferences local paths and remote URLs for citation sources.
//
// Fetch performs no retries: a failed request surfaces as a transport error
// and retry policy is left to callers.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roach88/citechain/internal/citation"
)

// DefaultTimeout bounds a single HTTP request when no client is supplied.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps the response body kept on a TransportError.
const maxErrorBody = 4 << 10

// Request describes how to fetch a URL. The zero value is a plain GET.
type Request struct {
	Method string
	Header http.Header
	Body   []byte
}

// Fetcher reads local files and performs HTTP requests.
// Safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for remote URLs.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithTimeout sets the per-request timeout of the default client.
// Ignored when combined with WithClient.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.client = &http.Client{Timeout: d}
		}
	}
}

// WithUserAgent sets the User-Agent header sent with remote requests.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: DefaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsLocal reports whether rawURL names a local file: no scheme, a file:
// scheme, or a single-letter scheme (a Windows drive).
func IsLocal(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return u.Scheme == "" || u.Scheme == "file" || len(u.Scheme) == 1
}

// Fetch returns the raw content at rawURL.
//
// Local paths are read directly. Remote URLs are requested with req.Method
// (GET by default); a non-2xx response fails with a TransportError that
// carries the status and body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, req Request) ([]byte, error) {
	f.logger.Debug("fetching", "url", rawURL)

	if IsLocal(rawURL) {
		return readLocal(rawURL)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 && method != http.MethodGet && method != http.MethodHead {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, citation.NewTransportError(rawURL, 0, "", err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if f.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, citation.NewTransportError(rawURL, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, citation.NewTransportError(rawURL, resp.StatusCode, "", fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := data
		if len(errBody) > maxErrorBody {
			errBody = errBody[:maxErrorBody]
		}
		return nil, citation.NewTransportError(rawURL, resp.StatusCode, string(errBody), nil)
	}

	f.logger.Debug("fetched", "url", rawURL, "status", resp.StatusCode, "bytes", len(data))
	return data, nil
}

// Text fetches rawURL and decodes it as UTF-8.
func (f *Fetcher) Text(ctx context.Context, rawURL string, req Request) (string, error) {
	data, err := f.Fetch(ctx, rawURL, req)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", citation.NewFormatError(rawURL, "content is not valid UTF-8", nil)
	}
	return string(data), nil
}

// JSON fetches rawURL and decodes the JSON content into out.
func (f *Fetcher) JSON(ctx context.Context, rawURL string, req Request, out any) error {
	data, err := f.Fetch(ctx, rawURL, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return citation.NewFormatError(rawURL, "invalid JSON", err)
	}
	return nil
}

func readLocal(rawURL string) ([]byte, error) {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Scheme == "file" {
		path = u.Path
		if path == "" {
			path = u.Opaque
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, citation.NewTransportError(rawURL, 0, "", err)
	}
	return data, nil
}
