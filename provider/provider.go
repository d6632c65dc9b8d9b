// Package provider defines the custody provider contract: the narrow
// interface the admission pipeline, the orchestrator and the reconciliation
// monitor program against, and the registry that hands out one client per
// configured backend.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tos-network/refilld/types"
)

var (
	// ErrUnsupportedProvider is returned by the registry for a name no
	// client was built for.
	ErrUnsupportedProvider = errors.New("provider: unsupported provider")

	// ErrNotInitialized is returned by Get before Initialize ran.
	ErrNotInitialized = errors.New("provider: registry not initialized")
)

// MissingWalletConfigError signals that the wallet config handed to a client
// lacks the identifier bag that provider needs. The admission pipeline turns
// it into the provider-specific configuration error code.
type MissingWalletConfigError struct {
	Provider string
}

func (e *MissingWalletConfigError) Error() string {
	return fmt.Sprintf("provider: wallet config carries no %s identifiers", e.Provider)
}

// CallError wraps a transport or API failure from a provider backend.
type CallError struct {
	Provider string
	Op       string
	Status   int // HTTP status when the backend answered, 0 otherwise
	APICode  int // provider-specific error code, 0 when absent
	Err      error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider: %s %s failed with status %d: %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("provider: %s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// TokenInfo describes the token a balance or lookup call targets, together
// with the wallet config carrying the provider's identifier bag.
type TokenInfo struct {
	Symbol          string
	ChainSymbol     string
	ContractAddress string // empty for native assets
	Decimals        uint8
	WalletConfig    *types.WalletConfig
}

// Native reports whether the token is the chain's base coin.
func (t *TokenInfo) Native() bool {
	return t.ContractAddress == ""
}

// TransferRequest asks a provider to move funds from the configured cold
// wallet to the hot wallet address. ExternalTxID is passed to the provider
// verbatim as the idempotency reference; the provider decides whether a
// retry returns the prior transfer or fails.
type TransferRequest struct {
	HotWalletAddress string
	Amount           string // decimal units, not atomic
	Asset            string
	Chain            string
	ExternalTxID     string
	ContractAddress  string // empty for native assets
	ColdWalletConfig *types.WalletConfig
}

// TransferResult is the normalized outcome of a transfer creation call. Raw
// carries the provider's response verbatim for persistence.
type TransferResult struct {
	ProviderTxID string
	RawStatus    string
	Message      string
	ExternalTxID string
	CreatedAt    time.Time
	Raw          json.RawMessage
}

// Provider is one custody backend. Implementations are safe for concurrent
// use; every call honors the context deadline.
type Provider interface {
	// Name returns the canonical lowercase identifier.
	Name() string

	// Init performs the one-time credential setup and connectivity probe.
	Init(ctx context.Context) error

	// TokenBalance reads the live balance of the configured wallet in
	// atomic units.
	TokenBalance(ctx context.Context, token *TokenInfo) (*types.Atomic, error)

	// CreateTransfer initiates a cold-to-hot transfer.
	CreateTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)

	// TransactionByID fetches the provider's view of a transfer. The
	// response is returned raw; the status mapper owns its normalization.
	TransactionByID(ctx context.Context, providerTxID string, token *TokenInfo) (json.RawMessage, error)
}
