// Package signalerr implements the error taxonomy the worker pool uses as
// its single choke point for retry/terminal classification.
package signalerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/terminal routing. Kinds are data, not
// Go types, per the spec's error taxonomy.
type Kind string

const (
	KindNetwork      Kind = "transient.network"
	KindUpstream5xx  Kind = "transient.upstream_5xx"
	KindRateLimited  Kind = "transient.rate_limited"
	KindBreakerOpen  Kind = "transient.breaker_open"
	KindAuth         Kind = "terminal.auth"
	KindConfig       Kind = "terminal.config"
	KindClientReq    Kind = "terminal.client_request"
	KindUnparseable  Kind = "terminal.unparseable"
	KindHandlerInternal Kind = "handler.internal"
)

// Retryable reports whether the Worker should route an error of this kind to
// the DLQ for a future retry, as opposed to marking it terminal immediately.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindUpstream5xx, KindRateLimited, KindBreakerOpen, KindHandlerInternal:
		return true
	default:
		return false
	}
}

// Fatal reports whether an error of this kind should bubble up and trigger
// Application shutdown. The Worker still parks the item in the DLQ as a
// terminal entry before reporting the error.
func (k Kind) Fatal() bool {
	return k == KindAuth || k == KindConfig
}

// Error wraps a cause with its classification and the resource it occurred
// against, if any (empty for parser/config errors).
type Error struct {
	Kind     Kind
	Resource string
	Cause    error
}

func New(kind Kind, resource string, cause error) *Error {
	return &Error{Kind: kind, Resource: resource, Cause: cause}
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Resource, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, signalerr.KindBreakerOpen-tagged sentinel) style
// matching by Kind via a zero-Cause Error used as the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind from err, defaulting to Handler.Internal for
// unclassified handler errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if err == nil {
		return ""
	}
	return KindHandlerInternal
}

// AsTerminal marks err as terminal explicitly, used by handlers that want to
// override the default Handler.Internal -> retryable classification.
func AsTerminal(resource string, cause error) *Error {
	return New(KindClientReq, resource, cause)
}

// Sentinel helpers for errors.Is comparisons against a specific kind.
func KindSentinel(k Kind) error { return &Error{Kind: k} }
