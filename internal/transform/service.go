// Package transform defines the contract of the external transcription and
// translation capability and the adapters that satisfy it.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// Request is one call to the transform capability. Transcription reads Unit,
// translation reads Text.
type Request struct {
	Operation models.Operation
	PageIndex int
	Unit      []byte
	MIMEType  string
	Text      string
}

// Usage is the token usage of one call, normalised by the usage adapter.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Estimated    bool
}

// Response is the cleaned text produced by a call together with its usage.
type Response struct {
	Text  string
	Usage Usage
}

// Service is a stateless request/response transform capability.
type Service interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Kind classifies a failed call for the retry policy.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Error is a classified failure of a transform call. Usage is set when the
// provider returned a response, and so billed it, before it was rejected.
type Error struct {
	Kind  Kind
	Op    string
	Err   error
	Usage *Usage
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Transient marks err as retryable.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Permanent marks err as not retryable.
func Permanent(op string, err error) error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// WithUsage attaches the billed usage of a rejected response to err.
func WithUsage(err error, usage Usage) error {
	var terr *Error
	if errors.As(err, &terr) {
		terr.Usage = &usage
	}
	return err
}

// UsageOf returns the billed usage carried by err, if any.
func UsageOf(err error) (Usage, bool) {
	var terr *Error
	if errors.As(err, &terr) && terr.Usage != nil {
		return *terr.Usage, true
	}
	return Usage{}, false
}

// KindOf returns the classification of err. Deadline expiry is transient,
// cancellation is permanent, and unclassified errors are treated as transient
// so that they stay within the bounded retry policy.
func KindOf(err error) Kind {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	return KindTransient
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
