package license

import (
	"errors"
	"fmt"
)

// Kind classifies a failed licensing API call.
type Kind string

const (
	// KindTransport means the request never produced a response.
	KindTransport Kind = "transport"
	// KindRemote means the service answered with success=false.
	KindRemote Kind = "remote"
	// KindDecode means the response was not a JSON envelope.
	KindDecode Kind = "decode"
	// KindProductMismatch means the version list had no entry for our product.
	KindProductMismatch Kind = "product_mismatch"
)

// Sentinels for errors.Is matching on *Error kinds.
var (
	ErrTransport       = errors.New("licensing service unreachable")
	ErrRemote          = errors.New("licensing service rejected the request")
	ErrDecode          = errors.New("licensing service returned an unreadable response")
	ErrProductMismatch = errors.New("product ID and license key don't match")
)

// Programmer errors, always wrapped in *PreconditionError.
var (
	ErrNotActivated   = errors.New("license key must be activated before retrieving the latest version")
	ErrNoActivationID = errors.New("an activation id is required")
	ErrInvalidMethod  = errors.New("invalid HTTP method")
	ErrInvalidTrack   = errors.New("track must be stable or pre-release")
)

// UnknownErrorMessage is shown to users when a failure carries no message.
const UnknownErrorMessage = "an unknown error occurred."

// Error is a failed licensing API call.
type Error struct {
	Kind     Kind
	Endpoint Endpoint
	// Code is the service's error code, or the HTTP status code for decode failures.
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("itelic %s: %s (%s)", e.Endpoint, msg, e.Code)
	}
	return fmt.Sprintf("itelic %s: %s", e.Endpoint, msg)
}

// Unwrap returns the underlying transport error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindRemote:
		return ErrRemote
	case KindDecode:
		return ErrDecode
	case KindProductMismatch:
		return ErrProductMismatch
	default:
		return ErrRemote
	}
}

// PreconditionError reports a call made out of sequence or with invalid
// arguments. It never comes from the network and is not an *Error, so it is
// not mistaken for a retryable remote failure.
type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// IsPrecondition reports whether err is a *PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// UserMessage returns the text to show an administrator for err: the
// service's message when present, UnknownErrorMessage otherwise.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return UnknownErrorMessage
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	return UnknownErrorMessage
}
