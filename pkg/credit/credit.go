// Package credit defines the credit ledger contract the pipeline bills
// against, plus a SQLite-backed implementation. One generation consumes
// exactly one credit regardless of how many refinement rounds it takes.
package credit

import "errors"

// ErrInsufficientCredit is the first-class signal for a caller without enough
// credit. It is a business outcome, not a pipeline failure.
var ErrInsufficientCredit = errors.New("insufficient credit")

// Ledger is the billing collaborator consumed by the pipeline.
type Ledger interface {
	// HasCredits reports whether the owner holds at least n credits.
	HasCredits(ownerID string, n int) (bool, error)

	// DeductCredits removes n credits, recording the investigation and
	// reason. Returns ErrInsufficientCredit when the balance is short.
	DeductCredits(ownerID string, n int, investigationID, reason string) error

	// RefundCredits returns n credits, recording the investigation and reason.
	RefundCredits(ownerID string, n int, investigationID, reason string) error
}
