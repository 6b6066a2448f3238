package citation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes resolution errors.
type ErrorCode string

const (
	// CodeTransport indicates a fetch failed at the network or HTTP level.
	CodeTransport ErrorCode = "TRANSPORT_ERROR"

	// CodeKeyNotFound indicates a Source could not resolve a requested key.
	CodeKeyNotFound ErrorCode = "KEY_NOT_FOUND"

	// CodeUnknownPrefix indicates a key references a prefix with no registered Source.
	CodeUnknownPrefix ErrorCode = "UNKNOWN_SOURCE_PREFIX"

	// CodeChainCycle indicates chain pointers never reach a terminal record.
	CodeChainCycle ErrorCode = "CHAIN_CYCLE"

	// CodeFormat indicates unparseable bibliography or record content.
	CodeFormat ErrorCode = "FORMAT_ERROR"

	// CodeNotImplemented indicates a Source variant does not supply an operation.
	CodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"

	// CodeUnknownSource indicates configuration names an unregistered Source implementation.
	CodeUnknownSource ErrorCode = "UNKNOWN_SOURCE"
)

// Error is the structured error returned by every resolution component.
//
// None of these errors are recovered internally; they propagate to the
// caller of the session, which decides whether to abort or substitute a
// placeholder citation.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Prefix and Key identify the affected citation, when known.
	Prefix string
	Key    string

	// URL, Status and Body are set for transport errors.
	URL    string
	Status int
	Body   string

	// Details contains additional context (e.g. the chain path of a cycle).
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Prefix != "" || e.Key != "" {
		fmt.Fprintf(&b, " (citation=%s:%s)", e.Prefix, e.Key)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap supports error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is matching by category.
var (
	ErrTransport      = &Error{Code: CodeTransport}
	ErrKeyNotFound    = &Error{Code: CodeKeyNotFound}
	ErrUnknownPrefix  = &Error{Code: CodeUnknownPrefix}
	ErrChainCycle     = &Error{Code: CodeChainCycle}
	ErrFormat         = &Error{Code: CodeFormat}
	ErrNotImplemented = &Error{Code: CodeNotImplemented}
	ErrUnknownSource  = &Error{Code: CodeUnknownSource}
)

// CodeOf extracts the error code from an error chain.
// Returns "" if the chain contains no *Error.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsTransportError returns true if the error is a transport failure.
func IsTransportError(err error) bool { return CodeOf(err) == CodeTransport }

// IsKeyNotFound returns true if the error reports an unresolvable key.
func IsKeyNotFound(err error) bool { return CodeOf(err) == CodeKeyNotFound }

// IsUnknownPrefix returns true if the error reports an unregistered prefix.
func IsUnknownPrefix(err error) bool { return CodeOf(err) == CodeUnknownPrefix }

// IsChainCycle returns true if the error reports a chain pointer cycle.
func IsChainCycle(err error) bool { return CodeOf(err) == CodeChainCycle }

// IsFormatError returns true if the error reports unparseable content.
func IsFormatError(err error) bool { return CodeOf(err) == CodeFormat }

// IsNotImplemented returns true if a Source failed to supply an operation.
func IsNotImplemented(err error) bool { return CodeOf(err) == CodeNotImplemented }

// NewTransportError creates an Error for a failed fetch.
// status is 0 when no HTTP response was received.
func NewTransportError(url string, status int, body string, cause error) *Error {
	msg := fmt.Sprintf("fetching %s failed", url)
	if status != 0 {
		msg = fmt.Sprintf("fetching %s failed with HTTP status %d", url, status)
	}
	return &Error{
		Code:    CodeTransport,
		Message: msg,
		URL:     url,
		Status:  status,
		Body:    body,
		Err:     cause,
	}
}

// NewKeyNotFoundError creates an Error for a key a Source could not resolve.
// detail names where the Source looked (files, endpoint).
func NewKeyNotFoundError(prefix, key, detail string) *Error {
	msg := fmt.Sprintf("key %q was not found", key)
	if detail != "" {
		msg += " in " + detail
	}
	return &Error{
		Code:    CodeKeyNotFound,
		Message: msg,
		Prefix:  prefix,
		Key:     key,
	}
}

// NewUnknownPrefixError creates an Error for a prefix without a registered Source.
// where describes the origin of the reference (document location or chain origin).
func NewUnknownPrefixError(prefix, where string) *Error {
	msg := fmt.Sprintf("invalid citation prefix %q", prefix)
	if where != "" {
		msg += " in " + where
	}
	return &Error{
		Code:    CodeUnknownPrefix,
		Message: msg,
		Prefix:  prefix,
	}
}

// NewChainCycleError creates an Error for chain pointers that loop.
// path lists the keys visited, ending with the repeated key.
func NewChainCycleError(path []Key) *Error {
	parts := make([]string, len(path))
	for i, k := range path {
		parts[i] = k.String()
	}
	e := &Error{
		Code:    CodeChainCycle,
		Message: "chained citations never reach a terminal record: " + strings.Join(parts, " -> "),
		Details: map[string]string{"path": strings.Join(parts, ",")},
	}
	if len(path) > 0 {
		e.Prefix, e.Key = path[0].Prefix, path[0].Key
	}
	return e
}

// NewRoundQuotaError creates a chain cycle Error for a resolution that did
// not converge within the allowed number of rounds.
func NewRoundQuotaError(rounds, limit int) *Error {
	return &Error{
		Code:    CodeChainCycle,
		Message: fmt.Sprintf("resolution exceeded max rounds (%d > %d)", rounds, limit),
		Details: map[string]string{
			"rounds":     fmt.Sprintf("%d", rounds),
			"max_rounds": fmt.Sprintf("%d", limit),
		},
	}
}

// NewFormatError creates an Error for unparseable content at location.
func NewFormatError(location, message string, cause error) *Error {
	return &Error{
		Code:    CodeFormat,
		Message: fmt.Sprintf("%s: %s", location, message),
		Err:     cause,
	}
}

// NewNotImplementedError creates an Error for a Source missing an operation.
func NewNotImplementedError(sourceName, operation string) *Error {
	return &Error{
		Code:    CodeNotImplemented,
		Message: fmt.Sprintf("%s does not implement %s", sourceName, operation),
	}
}

// NewUnknownSourceError creates an Error for an unregistered Source name.
func NewUnknownSourceError(name, prefix string) *Error {
	return &Error{
		Code:    CodeUnknownSource,
		Message: fmt.Sprintf("no citation source named %q (configured for prefix %q)", name, prefix),
		Prefix:  prefix,
	}
}
