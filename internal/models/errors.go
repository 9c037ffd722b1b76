package models

import "errors"

// Domain error taxonomy. Services and stores return these sentinels
// (usually wrapped) so callers can branch with errors.Is and the HTTP
// layer can map them to status codes.
var (
	// ErrNotFound signals an unknown tracking code, campaign or visit.
	ErrNotFound = errors.New("not found")

	// ErrConflict signals a duplicate tracking code on create, or an
	// attempt to convert an already-converted visit.
	ErrConflict = errors.New("conflict")

	// ErrInvalidHierarchy signals a parent assignment that would make
	// the campaign tree cyclic.
	ErrInvalidHierarchy = errors.New("invalid campaign hierarchy")
)
