// Package apperr is the closed error taxonomy of the proctoring API.
//
// Every failure that reaches the HTTP boundary is an *Error whose Kind picks
// the status code. Adding a Kind means extending HTTPStatus; nothing matches
// on message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// Kind is the taxonomy bucket.
type Kind int

const (
	KindInvalid Kind = iota + 1
	KindTooLarge
	KindUnsupportedMedia
	KindNotFound
	KindConflict
	KindForbidden
	KindUnauthorized
	KindRateLimited
	KindInternal
)

// HTTPStatus maps a kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalid:
		return http.StatusBadRequest
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindTooLarge:
		return "too_large"
	case KindUnsupportedMedia:
		return "unsupported_media"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// Stable machine-readable codes.
const (
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeConsentRequired        = "CONSENT_REQUIRED"
	CodeConsentVersionMismatch = "CONSENT_VERSION_MISMATCH"
	CodeLivenessRequired       = "LIVENESS_REQUIRED"
	CodeSessionNotFound        = "SESSION_NOT_FOUND"
	CodeSessionCompleted       = "SESSION_COMPLETED"
	CodeSessionNotPaused       = "SESSION_NOT_PAUSED"
	CodeChallengeNotFound      = "CHALLENGE_NOT_FOUND"
	CodeForbidden              = "FORBIDDEN"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodePayloadEmpty           = "PAYLOAD_EMPTY"
	CodePayloadTooLarge        = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMediaType   = "UNSUPPORTED_MEDIA_TYPE"
	CodeRateLimited            = "RATE_LIMITED"
	CodeInternal               = "INTERNAL_ERROR"
)

// Error is the only error type the controllers render.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and Code so sentinels declared with New work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// New builds an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Invalid is a 400.
func Invalid(message string) *Error {
	return New(KindInvalid, CodeInvalidRequest, message)
}

// NotFound is a 404.
func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

// Conflict is a 409.
func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

// Forbidden is a 403.
func Forbidden(message string) *Error {
	return New(KindForbidden, CodeForbidden, message)
}

// Internal wraps an unexpected failure. The cause is kept for logging only.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Err: err}
}

// From converts any error into an *Error; unknown errors become internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// KindOf reports the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	return From(err).Kind
}

var leakPattern = regexp.MustCompile(`(?i)(\bselect\b|\binsert\b|\bupdate\b|\bdelete\b|\bfrom\b|\bwhere\b|sqlstate|pq:|pgx|gorm|duplicate key|violates|constraint|relation "|syntax error|dial tcp|connection refused|goroutine|panic|\.go:\d+)`)

const genericMessage = "request could not be processed"

// Sanitize returns msg unless it looks like storage or runtime internals.
func Sanitize(msg string) string {
	if msg == "" || leakPattern.MatchString(msg) {
		return genericMessage
	}
	return msg
}

// PublicMessage is what a client may see for err.
func PublicMessage(err error) string {
	ae := From(err)
	if ae.Kind == KindInternal {
		return genericMessage
	}
	return Sanitize(ae.Message)
}
