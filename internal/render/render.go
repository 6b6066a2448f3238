// Package render defines the boundary to citation-style rendering.
//
// Formatting records into a citation style is delegated to a Renderer
// supplied by the host. This package resolves the record, short-circuits
// ready-made text, and wraps renderer failures in an opaque *Error.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/citechain/internal/citation"
)

// DefaultStyle is the citation style used when the host names none.
const DefaultStyle = "harvard1"

// Renderer formats a resolved record in a citation style.
type Renderer interface {
	Render(ctx context.Context, rec citation.Record, id, style string) (string, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, rec citation.Record, id, style string) (string, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, rec citation.Record, id, style string) (string, error) {
	return f(ctx, rec, id, style)
}

// Resolver resolves a citation key to a record; *resolver.Session
// implements it.
type Resolver interface {
	Resolve(prefix, key string) (citation.Record, string, error)
}

// Error is a rendering failure. The cause is opaque to callers beyond
// Unwrap; resolution state is unaffected.
type Error struct {
	ID    string
	Style string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("render %s in style %q: %v", e.ID, e.Style, e.Err)
}

// Unwrap supports error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRenderError returns true if the error is a rendering failure.
func IsRenderError(err error) bool {
	var re *Error
	return errors.As(err, &re)
}

// Citation resolves (prefix, key) and renders it. Resolution errors are
// returned unchanged; renderer errors are wrapped in *Error.
func Citation(ctx context.Context, res Resolver, r Renderer, prefix, key, style string) (string, error) {
	rec, id, err := res.Resolve(prefix, key)
	if err != nil {
		return "", err
	}
	if style == "" {
		style = DefaultStyle
	}
	out, err := r.Render(ctx, rec, id, style)
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			return "", err
		}
		return "", &Error{ID: id, Style: style, Err: err}
	}
	return out, nil
}

// Preformatted returns a record's _formatted_text verbatim and delegates
// every other record to Next.
type Preformatted struct {
	Next Renderer
}

// Render implements Renderer.
func (p Preformatted) Render(ctx context.Context, rec citation.Record, id, style string) (string, error) {
	if text, ok := rec[citation.FieldFormattedText].(string); ok {
		return text, nil
	}
	if p.Next == nil {
		return "", &Error{ID: id, Style: style, Err: errors.New("no renderer configured")}
	}
	return p.Next.Render(ctx, rec, id, style)
}

// Plain is a minimal fallback renderer: "Family, Family (Year) Title."
// It ignores the style.
type Plain struct{}

// Render implements Renderer.
func (Plain) Render(ctx context.Context, rec citation.Record, id, style string) (string, error) {
	title, _ := rec["title"].(string)
	if title == "" {
		return "", fmt.Errorf("record %s has no title", id)
	}

	var b strings.Builder
	if names := authorNames(rec["author"]); len(names) > 0 {
		b.WriteString(strings.Join(names, ", "))
		b.WriteByte(' ')
	}
	if year, ok := issuedYear(rec["issued"]); ok {
		fmt.Fprintf(&b, "(%d) ", year)
	}
	b.WriteString(title)
	if !strings.HasSuffix(title, ".") {
		b.WriteByte('.')
	}
	return b.String(), nil
}

func authorNames(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, a := range list {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if family, ok := m["family"].(string); ok && family != "" {
			out = append(out, family)
		} else if literal, ok := m["literal"].(string); ok && literal != "" {
			out = append(out, literal)
		}
	}
	return out
}

func issuedYear(v any) (int, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	parts, ok := m["date-parts"].([]any)
	if !ok || len(parts) == 0 {
		return 0, false
	}
	first, ok := parts[0].([]any)
	if !ok || len(first) == 0 {
		return 0, false
	}
	switch y := first[0].(type) {
	case int:
		return y, true
	case int64:
		return int(y), true
	case float64:
		return int(y), true
	default:
		return 0, false
	}
}
