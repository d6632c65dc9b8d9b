package catalog

import (
	"errors"
	"fmt"

	"github.com/tos-network/refilld/types"
)

var (
	// ErrClosed is returned from accessors after Close.
	ErrClosed = errors.New("catalog: closed")

	// ErrDuplicateTransaction signals an insert whose refill request id is
	// already present. Callers replay the stored row instead of failing.
	ErrDuplicateTransaction = errors.New("catalog: duplicate refill request id")

	// ErrRefillInFlight signals an insert for an asset that still has a
	// non-terminal transaction.
	ErrRefillInFlight = errors.New("catalog: refill already in flight for asset")
)

// Error wraps a storage backend failure with the accessor that hit it, so
// that callers can report which catalog operation broke without losing the
// driver error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalog: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// storageError wraps err unless it is already a catalog error.
func storageError(op string, err error) error {
	var catErr *Error
	if errors.As(err, &catErr) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// DuplicateError carries the stored transaction that collided with an
// insert, either on the request id or on the per-asset in-flight bound.
type DuplicateError struct {
	Existing *types.RefillTransaction
	reason   error
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%v: %s", e.reason, e.Existing.RefillRequestID)
}

func (e *DuplicateError) Is(target error) bool {
	return target == e.reason
}

func errUnknownChain(id uint64) error {
	return fmt.Errorf("catalog: asset references unknown chain %d", id)
}

func errUnknownWallet(id uint64) error {
	return fmt.Errorf("catalog: asset references unknown wallet %d", id)
}

func errDanglingChain(assetID, chainID uint64) error {
	return fmt.Errorf("asset %d joined chain %d is missing", assetID, chainID)
}

func errDanglingWallet(assetID, walletID uint64) error {
	return fmt.Errorf("asset %d joined wallet %d is missing", assetID, walletID)
}
