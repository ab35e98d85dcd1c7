package model

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// ProviderErrorKind groups provider failures. The crafter reports the kind in
// the reason attached to its fallback message.
type ProviderErrorKind string

const (
	// ProviderErrorKindAuth is a rejected API key or missing permission.
	ProviderErrorKindAuth ProviderErrorKind = "auth"
	// ProviderErrorKindInvalidRequest is a request the provider will never
	// accept as sent.
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"
	// ProviderErrorKindRateLimited is provider throttling.
	ProviderErrorKindRateLimited ProviderErrorKind = "rate_limited"
	// ProviderErrorKindUnavailable is a 5xx answer or a transport failure.
	ProviderErrorKindUnavailable ProviderErrorKind = "unavailable"
	// ProviderErrorKindUnknown is anything else.
	ProviderErrorKindUnknown ProviderErrorKind = "unknown"
)

// ProviderError is a classified failure from a generation provider. A rate
// limited ProviderError matches ErrRateLimited with errors.Is so the adaptive
// limiter backs off regardless of the adapter that produced it.
type ProviderError struct {
	provider  string
	status    int
	kind      ProviderErrorKind
	code      string
	detail    string
	retryable bool
	err       error
}

// NewProviderError returns a ProviderError. It panics when provider or kind
// is empty: adapters always know both.
func NewProviderError(provider string, status int, kind ProviderErrorKind, code, detail string, retryable bool, err error) *ProviderError {
	switch {
	case provider == "":
		panic("model: provider error without provider")
	case kind == "":
		panic("model: provider error without kind")
	}
	return &ProviderError{
		provider:  provider,
		status:    status,
		kind:      kind,
		code:      code,
		detail:    detail,
		retryable: retryable,
		err:       err,
	}
}

// Provider names the adapter, e.g. "openai".
func (e *ProviderError) Provider() string { return e.provider }

// HTTPStatus is the provider status code, 0 for transport failures.
func (e *ProviderError) HTTPStatus() int { return e.status }

// Kind is the failure class.
func (e *ProviderError) Kind() ProviderErrorKind { return e.kind }

// Code is the provider error code, if any.
func (e *ProviderError) Code() string { return e.code }

// Retryable reports whether the same request may succeed later.
func (e *ProviderError) Retryable() bool { return e.retryable }

// Reason is the short explanation recorded with a fallback message, such as
// "provider anthropic rate_limited".
func (e *ProviderError) Reason() string {
	return "provider " + e.provider + " " + string(e.kind)
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason())
	if e.status > 0 {
		b.WriteString(" (")
		b.WriteString(strconv.Itoa(e.status))
		b.WriteString(")")
	}
	b.WriteString(": ")
	if e.code != "" {
		b.WriteString(e.code)
		b.WriteString(": ")
	}
	switch {
	case e.detail != "":
		b.WriteString(e.detail)
	case e.err != nil:
		b.WriteString(e.err.Error())
	default:
		b.WriteString("no detail")
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.err }

func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.kind == ProviderErrorKindRateLimited
}

// AsProviderError finds a ProviderError in err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

// KindForStatus classifies an HTTP status and reports whether it is worth
// retrying.
func KindForStatus(status int) (ProviderErrorKind, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return ProviderErrorKindRateLimited, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ProviderErrorKindAuth, false
	case status >= http.StatusInternalServerError:
		return ProviderErrorKindUnavailable, true
	case status >= http.StatusBadRequest:
		return ProviderErrorKindInvalidRequest, false
	default:
		return ProviderErrorKindUnknown, false
	}
}
