// Package errdefs defines the error classes shared by every stage of an
// attachment run. Stages wrap these sentinels with %w; callers decide what
// is fatal with errors.Is or Classify.
package errdefs

import (
	"context"
	"errors"
)

var (
	// ErrIntegrity: the document cannot be read, even after one repair attempt.
	ErrIntegrity = errors.New("document integrity check failed")
	// ErrRender: a page could not be rasterized.
	ErrRender = errors.New("page rendering failed")
	// ErrValidation: a required upstream input is missing, e.g. no source URL.
	ErrValidation = errors.New("validation failed")
	// ErrOracle: the page classifier failed or answered with something unparsable.
	ErrOracle = errors.New("classifier call failed")
	// ErrGateway: metadata, upload or record creation failed.
	ErrGateway = errors.New("gateway call failed")
	// ErrInvariant: the final groups do not partition the document pages.
	ErrInvariant = errors.New("invariant violation")
	// ErrNotFound: the remote resource does not exist.
	ErrNotFound = errors.New("not found")
)

// Kind is the error class used for logs and metrics labels.
type Kind string

const (
	KindIntegrity  Kind = "integrity"
	KindRender     Kind = "render"
	KindValidation Kind = "validation"
	KindOracle     Kind = "oracle"
	KindGateway    Kind = "gateway"
	KindInvariant  Kind = "invariant"
	KindCancel     Kind = "cancel"
	KindUnknown    Kind = "unknown"
)

// Classify maps err to its class. Only sentinels are inspected, never messages.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrRender):
		return KindRender
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvariant):
		return KindInvariant
	case errors.Is(err, ErrOracle):
		return KindOracle
	case errors.Is(err, ErrGateway), errors.Is(err, ErrNotFound):
		return KindGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancel
	default:
		return KindUnknown
	}
}

// IsFatal reports whether err must abort the attempt with status failed.
// Oracle and gateway errors are absorbed by the stage that produced them.
func IsFatal(err error) bool {
	switch Classify(err) {
	case KindOracle, KindGateway:
		return false
	default:
		return err != nil
	}
}
