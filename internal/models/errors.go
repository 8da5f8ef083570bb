package models

import "errors"

// Sentinel errors for the memory core. Callers classify failures with
// errors.Is after layers wrap these with operation context.
var (
	// ErrValidation marks malformed input or out-of-bounds search
	// parameters. Maps to a 4xx at the transport boundary.
	ErrValidation = errors.New("mnemo: invalid input")

	// ErrEmbeddingProvider marks a failed embedding call. Fatal to
	// create, update, and search.
	ErrEmbeddingProvider = errors.New("mnemo: embedding provider failure")

	// ErrNotFound marks a missing record within the caller's tenant
	// scope. A record owned by another tenant surfaces identically so
	// existence is never leaked across tenants.
	ErrNotFound = errors.New("mnemo: not found")

	// ErrStore marks an underlying persistence failure. Opaque to
	// callers; the full cause is logged where it occurs.
	ErrStore = errors.New("mnemo: store failure")
)
