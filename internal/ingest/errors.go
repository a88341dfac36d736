package ingest

import (
	"errors"
	"net/http"
)

// Kind classifies ingestion failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindUnauthorized: missing or wrong API key.
	KindUnauthorized
	// KindNotFound: unknown or disabled source.
	KindNotFound
	// KindInvalidIdentity: the payload carries no usable phone.
	KindInvalidIdentity
	// KindConflict: a concurrent writer won a unique index. Retried
	// internally and never returned to callers.
	KindConflict
	// KindStorageUnavailable: the store failed or the breaker is open.
	KindStorageUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindInvalidIdentity:
		return "invalid_identity"
	case KindConflict:
		return "conflict"
	case KindStorageUnavailable:
		return "storage_unavailable"
	}
	return "unknown"
}

// HTTPStatus maps a kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidIdentity:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Client-facing messages.
const (
	MsgMissingKey    = "Missing X-API-Key header"
	MsgInvalidKey    = "Invalid API key"
	MsgUnknownSource = "Unknown webhook source"
	MsgPhoneRequired = "Phone number is required"
	MsgInvalidPhone  = "Invalid phone number"
	MsgInvalidJSON   = "Invalid JSON payload"
	MsgUnknownTenant = "Unknown tenant"
	MsgInternal      = "Internal server error"
)

// Error is returned by Service for every failed ingestion. Message is safe
// to show to the caller; Err carries the internal cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUnknown
}
