package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// FailureKind classifies why a completion produced no reply.
type FailureKind string

const (
	KindAPIError   FailureKind = "api_error"
	KindTimeout    FailureKind = "timeout"
	KindUnexpected FailureKind = "unexpected"
)

// MaxDetailChars bounds Failure.Detail so stack-like messages never reach users.
const MaxDetailChars = 100

// ErrTimeout matches every KindTimeout failure via errors.Is.
var ErrTimeout = errors.New("completion timed out")

// Failure is returned by providers for every unsuccessful completion.
type Failure struct {
	Kind   FailureKind
	Status int
	Body   string
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case KindAPIError:
		return fmt.Sprintf("completion api error status=%d body=%s", f.Status, f.Body)
	case KindTimeout:
		return "completion timed out"
	default:
		return "completion failed: " + f.Detail
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// Is lets errors.Is(err, ErrTimeout) match timeout failures.
func (f *Failure) Is(target error) bool {
	return target == ErrTimeout && f.Kind == KindTimeout
}

// APIError builds a KindAPIError failure.
func APIError(status int, body string) *Failure {
	return &Failure{Kind: KindAPIError, Status: status, Body: body}
}

// Timeout builds a KindTimeout failure.
func Timeout(err error) *Failure {
	return &Failure{Kind: KindTimeout, Err: err}
}

// Unexpected builds a KindUnexpected failure whose detail is clipped to MaxDetailChars.
func Unexpected(err error) *Failure {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return &Failure{Kind: KindUnexpected, Detail: Truncate(detail, MaxDetailChars), Err: err}
}

// AsFailure extracts a *Failure from err, wrapping foreign errors as unexpected.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return Unexpected(err)
}

// Truncate clips s to maxChars runes.
func Truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
