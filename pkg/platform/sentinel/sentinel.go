package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and identity adapters return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record or identity does not exist
// - ErrConflict: a uniqueness constraint rejected the write (email, slug)
// - ErrExpired: credential has expired
// - ErrInvalidCredential: credential failed verification for any other reason
// - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrExpired           = errors.New("expired")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrUnavailable       = errors.New("unavailable")
)
