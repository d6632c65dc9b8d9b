// Package types contains the data types persisted and exchanged by the
// refill service: chains, wallets, assets and refill transactions.
package types

import "fmt"

// Status is the internal state of a refill transaction. Provider-specific
// vocabularies are normalized into this set by the provider adapters.
type Status string

const (
	// StatusPending marks a transaction that is persisted but not yet
	// accepted by the custody provider.
	StatusPending Status = "PENDING"

	// StatusProcessing marks a transaction accepted by the provider and
	// moving through its internal pipeline.
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted marks a transaction settled on-chain. Terminal.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed marks a transaction rejected, cancelled or failed at
	// the provider. Terminal.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether the status is final. Terminal transactions are
// never mutated or re-polled.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a transition from s to next respects the
// state machine:
//
//	PENDING -> PROCESSING -> {COMPLETED, FAILED}
//
// PROCESSING -> PROCESSING is allowed so the provider status can refine
// without an internal transition. PENDING may also jump straight to a
// terminal status when the provider answers terminally on the first call.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return true // any forward move is legal from PENDING
	case StatusProcessing:
		return next != StatusPending
	}
	return false
}

// ParseStatus converts a raw string into a Status, rejecting unknown values.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("types: unknown status %q", raw)
	}
	return s, nil
}

// NonTerminalStatuses lists the statuses the reconciliation monitor polls.
func NonTerminalStatuses() []Status {
	return []Status{StatusPending, StatusProcessing}
}
