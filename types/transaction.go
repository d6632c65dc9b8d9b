package types

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// RefillTransaction records one attempted refill. Rows are created by the
// orchestrator and afterwards mutated only by the reconciliation monitor;
// terminal rows are never touched again.
type RefillTransaction struct {
	// RefillRequestID is the caller-chosen idempotency key. It doubles as
	// the external transaction id handed to the custody provider.
	RefillRequestID string `json:"refill_request_id"`

	AssetID      uint64  `json:"asset_id"`
	Provider     string  `json:"provider"`
	AmountAtomic *Atomic `json:"amount_atomic"`

	// Amount is the human-readable decimal string the request carried.
	Amount      string `json:"amount"`
	ChainName   string `json:"chain_name"`
	TokenSymbol string `json:"token_symbol"`

	Status Status `json:"status"`

	// ProviderStatus is the raw status string last seen from the
	// provider, kept verbatim for operators.
	ProviderStatus string `json:"provider_status,omitempty"`
	ProviderTxID   string `json:"provider_tx_id,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
	Message        string `json:"message,omitempty"`

	// ProviderData snapshots the last raw provider response.
	ProviderData json.RawMessage `json:"provider_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the row before insertion.
func (tx *RefillTransaction) Validate() error {
	if strings.TrimSpace(tx.RefillRequestID) == "" {
		return errors.New("types: refill request id required")
	}
	if tx.AssetID == 0 {
		return errors.New("types: transaction asset id must be non-zero")
	}
	if strings.TrimSpace(tx.Provider) == "" {
		return errors.New("types: transaction provider required")
	}
	if !tx.Status.Valid() {
		return errors.New("types: transaction status invalid")
	}
	if tx.AmountAtomic.IsZero() {
		return errors.New("types: transaction amount must be positive")
	}
	return nil
}

// Terminal reports whether the row reached a final status.
func (tx *RefillTransaction) Terminal() bool {
	return tx.Status.Terminal()
}

// Copy returns a deep copy so callers can build patches without aliasing the
// stored row.
func (tx *RefillTransaction) Copy() *RefillTransaction {
	cpy := *tx
	cpy.AmountAtomic = tx.AmountAtomic.Clone()
	if tx.ProviderData != nil {
		cpy.ProviderData = append(json.RawMessage(nil), tx.ProviderData...)
	}
	return &cpy
}

// TransactionPatch is a partial update to a refill transaction. Nil fields
// are left untouched; the catalog applies the patch and bumps UpdatedAt.
type TransactionPatch struct {
	Status         *Status         `json:"status,omitempty"`
	ProviderStatus *string         `json:"provider_status,omitempty"`
	ProviderTxID   *string         `json:"provider_tx_id,omitempty"`
	TxHash         *string         `json:"tx_hash,omitempty"`
	Message        *string         `json:"message,omitempty"`
	ProviderData   json.RawMessage `json:"provider_data,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p *TransactionPatch) Empty() bool {
	return p == nil || (p.Status == nil && p.ProviderStatus == nil && p.ProviderTxID == nil &&
		p.TxHash == nil && p.Message == nil && p.ProviderData == nil)
}

// Apply copies the populated patch fields onto the row.
func (p *TransactionPatch) Apply(tx *RefillTransaction) {
	if p == nil {
		return
	}
	if p.Status != nil {
		tx.Status = *p.Status
	}
	if p.ProviderStatus != nil {
		tx.ProviderStatus = *p.ProviderStatus
	}
	if p.ProviderTxID != nil {
		tx.ProviderTxID = *p.ProviderTxID
	}
	if p.TxHash != nil {
		tx.TxHash = *p.TxHash
	}
	if p.Message != nil {
		tx.Message = *p.Message
	}
	if p.ProviderData != nil {
		tx.ProviderData = append(json.RawMessage(nil), p.ProviderData...)
	}
}
