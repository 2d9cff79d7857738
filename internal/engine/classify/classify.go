// Package classify maps operation errors to a retry classification.
//
// Classification answers one question only: is this failure worth retrying?
// Whether the underlying resource is dead is a different question, answered
// by the health package.
package classify

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classification is the retry disposition of an error.
type Classification int

const (
	// Unknown is an unrecognized failure mode. It is treated as
	// non-retryable by policy: an unclassified error is assumed permanent
	// until a human classifies it, to avoid silent retry loops on novel
	// failures.
	Unknown Classification = iota

	// Retryable failures (timeouts, transport errors, resource crashes)
	// are worth another attempt, possibly after recovery.
	Retryable

	// NonRetryable failures (not found, access denied, explicitly gone)
	// cannot be helped by retrying.
	NonRetryable
)

func (c Classification) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case NonRetryable:
		return "non_retryable"
	default:
		return "unknown"
	}
}

// Message patterns for third-party errors whose types are not under our
// control. Matching is case-insensitive on the full error chain text.
var (
	nonRetryablePatterns = []string{
		"not found",
		"does not exist",
		"no longer exists",
		"has been removed",
		"access denied",
		"permission denied",
		"forbidden",
		// "gone" alone would also match transport noise like "http2:
		// client connection gone"; match only the resource-removal
		// phrasings.
		"is gone",
		"410 gone",
		"resource gone",
	}

	retryablePatterns = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"connection gone",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"temporarily unavailable",
		"502",
		"503",
		"504",
		"eof",
		// Crash indicators from remote automation sessions. A crash is
		// retryable because the session can be recovered first.
		"session terminated",
		"session deleted",
		"invalid session",
		"execution context was destroyed",
		"target closed",
		"target crashed",
		"browser has been closed",
		"disconnected",
		"protocol error",
	}
)

// Classify returns the retry disposition of err. It is a pure function with
// no side effects. A nil error classifies as Unknown.
func Classify(err error) Classification {
	if err == nil {
		return Unknown
	}

	if c := classifyTyped(err); c != Unknown {
		return c
	}

	s := strings.ToLower(err.Error())

	for _, p := range nonRetryablePatterns {
		if strings.Contains(s, p) {
			return NonRetryable
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(s, p) {
			return Retryable
		}
	}

	return Unknown
}

// classifyTyped handles errors carrying structured type information, before
// any message matching: context deadlines and gRPC status codes.
func classifyTyped(err error) Classification {
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.NotFound, codes.PermissionDenied, codes.InvalidArgument, codes.Unimplemented:
			return NonRetryable
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
			return Retryable
		case codes.OK:
			return Unknown
		}
	}

	return Unknown
}
