package transform

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// classify wraps a raw client error with its transform Kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var terr *Error
	if errors.As(err, &terr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return Permanent(op, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyHTTPStatus(op, gerr.Code, err)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded,
			codes.Aborted, codes.Internal:
			return Transient(op, err)
		default:
			return Permanent(op, err)
		}
	}

	// Network failures and anything unrecognised are retried.
	return Transient(op, err)
}

func classifyHTTPStatus(op string, code int, err error) error {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code >= http.StatusInternalServerError:
		return Transient(op, err)
	default:
		return Permanent(op, err)
	}
}
