package orchestrator

import (
	"fmt"

	"github.com/zen-systems/supportgate/pkg/schema"
)

// ErrorKind classifies a failed query.
type ErrorKind string

const (
	KindBadRequest          ErrorKind = "bad_request"
	KindUpstreamTimeout     ErrorKind = "upstream_timeout"
	KindUpstreamError       ErrorKind = "upstream_error"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindCanceled            ErrorKind = "canceled"
)

const (
	msgBadRequest  = "message must not be empty"
	msgUnavailable = "We're having trouble answering right now. Please try again shortly."
	msgCanceled    = "request canceled"
)

// Error is a query failure. Message is safe to show a caller; Detail is for
// logs and evidence only.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Detail  string    `json:"-"`
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
}

// attemptKind maps a backend failure to the query taxonomy.
func attemptKind(resp schema.BackendResponse) ErrorKind {
	switch resp.ErrorKind {
	case schema.ErrorKindNone:
		return ""
	case schema.ErrorKindTimeout:
		return KindUpstreamTimeout
	case schema.ErrorKindCanceled:
		return KindCanceled
	default:
		return KindUpstreamError
	}
}
