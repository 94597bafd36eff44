package core

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for the layers that translate errors into
// user-facing behavior. Recoverable kinds (LLM, cache) are absorbed by the
// orchestrator; StoreUnavailable and InvalidInput propagate.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindUnauthorized     Kind = "unauthorized"
	KindRateLimited      Kind = "rate_limited"
	KindLLMUnstructured  Kind = "llm_unstructured"
	KindLLMTimeout       Kind = "llm_timeout"
	KindLLMUnavailable   Kind = "llm_unavailable"
	KindScrapeFailed     Kind = "scrape_failed"
	KindStoreUnavailable Kind = "store_unavailable"
	KindCacheUnavailable Kind = "cache_unavailable"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal"
)

// Error is the typed error carried across component boundaries. Message is
// human-safe; the wrapped cause is for logs only.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // set for KindRateLimited
	Quality    int           // set for KindScrapeFailed: best attempt's quality
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match on kind, so sentinel-style checks like
// errors.Is(err, &core.Error{Kind: core.KindNotFound}) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind from any error in the chain; unknown errors
// report KindInternal, nil reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

func newError(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Err: cause}
}

func InvalidInput(msg string) *Error {
	return newError(KindInvalidInput, msg, nil)
}

func NotFound(what string) *Error {
	return newError(KindNotFound, what+" not found", nil)
}

func Conflict(msg string, cause error) *Error {
	return newError(KindConflict, msg, cause)
}

func Unauthorized(msg string) *Error {
	return newError(KindUnauthorized, msg, nil)
}

// RateLimited carries the wait until the blocking window resets.
func RateLimited(reason string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: reason, RetryAfter: retryAfter}
}

func LLMUnstructured(cause error) *Error {
	return newError(KindLLMUnstructured, "model response did not match schema", cause)
}

func LLMTimeout(cause error) *Error {
	return newError(KindLLMTimeout, "model call timed out", cause)
}

func LLMUnavailable(cause error) *Error {
	return newError(KindLLMUnavailable, "model unavailable", cause)
}

// ScrapeFailed records the best quality reached across all strategies.
func ScrapeFailed(msg string, quality int, cause error) *Error {
	return &Error{Kind: KindScrapeFailed, Message: msg, Quality: quality, Err: cause}
}

func StoreUnavailable(cause error) *Error {
	return newError(KindStoreUnavailable, "storage unavailable", cause)
}

func CacheUnavailable(cause error) *Error {
	return newError(KindCacheUnavailable, "cache unavailable", cause)
}

func Timeout(op string, cause error) *Error {
	return newError(KindTimeout, op+" deadline exceeded", cause)
}

func Internal(msg string, cause error) *Error {
	return newError(KindInternal, msg, cause)
}
