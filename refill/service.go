package refill

import (
	"context"
	"errors"
	"time"

	"github.com/tos-network/refilld/catalog"
	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/metrics"
	"github.com/tos-network/refilld/params"
	"github.com/tos-network/refilld/provider"
	"github.com/tos-network/refilld/types"
)

var (
	submittedCounter    = metrics.NewRegisteredCounter("refill/submitted", nil)
	rejectedCounter     = metrics.NewRegisteredCounter("refill/rejected", nil)
	initiatedCounter    = metrics.NewRegisteredCounter("refill/initiated", nil)
	transferFailCounter = metrics.NewRegisteredCounter("refill/transfer/failed", nil)
)

// Service validates refill intents against the catalog, drives the custody
// provider transfer and records the outcome. It is safe for concurrent use;
// the catalog serializes conflicting writers underneath.
type Service struct {
	catalog         *catalog.Catalog
	registry        *provider.Registry
	providerTimeout time.Duration
	log             log.Logger
}

// NewService wires the orchestrator over an open catalog and an initialized
// provider registry.
func NewService(cat *catalog.Catalog, reg *provider.Registry, providerTimeout time.Duration, logger log.Logger) *Service {
	if providerTimeout <= 0 {
		providerTimeout = params.DefaultProviderTimeout
	}
	if logger == nil {
		logger = log.Root()
	}
	return &Service{
		catalog:         cat,
		registry:        reg,
		providerTimeout: providerTimeout,
		log:             logger.New("service", "refill"),
	}
}

// SubmitResult is the orchestrator's answer to an accepted refill.
type SubmitResult struct {
	RefillRequestID string       `json:"refill_request_id"`
	ProviderTxID    string       `json:"provider_tx_id"`
	Status          types.Status `json:"status"`
	Provider        string       `json:"provider"`
}

// StatusResult echoes a persisted transaction row. It carries no live
// provider data; the reconciliation monitor is the only writer of
// provider-sourced fields.
type StatusResult struct {
	RefillRequestID string        `json:"refill_request_id"`
	Status          types.Status  `json:"status"`
	ProviderStatus  string        `json:"provider_status,omitempty"`
	Provider        string        `json:"provider"`
	ProviderTxID    string        `json:"provider_tx_id,omitempty"`
	TxHash          string        `json:"tx_hash,omitempty"`
	Message         string        `json:"message,omitempty"`
	Amount          string        `json:"amount"`
	AmountAtomic    *types.Atomic `json:"amount_atomic"`
	ChainName       string        `json:"chain_name"`
	TokenSymbol     string        `json:"token_symbol"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// SubmitRefill runs the full flow for one intent: admission, row creation,
// provider transfer and the initial status update. The returned *Error is
// nil exactly when the refill was initiated.
func (s *Service) SubmitRefill(ctx context.Context, intent *Intent) (*SubmitResult, *Error) {
	submittedCounter.Inc(1)
	admitted, rej := s.admit(ctx, intent)
	if rej != nil {
		rejectedCounter.Inc(1)
		s.log.Debug("Refill rejected", "id", intent.RefillRequestID, "code", rej.ErrorCode())
		return nil, rej
	}

	providerName := admitted.Client.Name()
	row := &types.RefillTransaction{
		RefillRequestID: intent.RefillRequestID,
		AssetID:         admitted.Asset.ID,
		Provider:        providerName,
		AmountAtomic:    admitted.AmountAtomic,
		Amount:          admitted.Amount.String(),
		ChainName:       admitted.Chain.Name,
		TokenSymbol:     admitted.Asset.Symbol,
		Status:          types.StatusPending,
	}
	if err := s.catalog.InsertTransaction(row); err != nil {
		if existing, ok := catalog.IsDuplicate(err); ok {
			if errors.Is(err, catalog.ErrRefillInFlight) {
				return nil, refillInProgress(existing)
			}
			return nil, duplicateTransaction(existing)
		}
		s.log.Error("Transaction insert failed", "id", intent.RefillRequestID, "err", err)
		return nil, NewError(CodeTransactionCreationError, "failed to record the refill transaction", nil)
	}
	s.log.Info("Refill admitted", "id", intent.RefillRequestID, "asset", admitted.Asset.Symbol,
		"chain", admitted.Chain.Name, "amount", row.Amount, "provider", providerName)

	result, err := s.createTransfer(ctx, admitted)
	if err != nil {
		transferFailCounter.Inc(1)
		s.log.Error("Provider transfer failed", "id", intent.RefillRequestID, "provider", providerName, "err", err)
		s.failTransaction(intent.RefillRequestID, err)
		return nil, NewError(CodeRefillInitiationError, "provider rejected the transfer: "+err.Error(), nil)
	}

	snapshot := SnapshotFromTransfer(result)
	status := MapStatus(providerName, snapshot.RawStatus)
	if patch := Diff(row, snapshot); !patch.Empty() {
		if _, uerr := s.catalog.UpdateTransaction(intent.RefillRequestID, patch); uerr != nil {
			s.log.Error("Transaction update failed", "id", intent.RefillRequestID, "err", uerr)
			return nil, NewError(CodeTransactionUpdateError, "transfer created but the row update failed", nil)
		}
	}
	initiatedCounter.Inc(1)
	s.log.Info("Refill initiated", "id", intent.RefillRequestID, "providertx", result.ProviderTxID,
		"status", status, "raw", snapshot.RawStatus)

	return &SubmitResult{
		RefillRequestID: intent.RefillRequestID,
		ProviderTxID:    result.ProviderTxID,
		Status:          status,
		Provider:        providerName,
	}, nil
}

// createTransfer issues the provider transfer under the call timeout. The
// refill request id rides along as the external transaction id, so replays
// land on the provider's idempotency handling.
func (s *Service) createTransfer(ctx context.Context, admitted *Admitted) (*provider.TransferResult, error) {
	req := &provider.TransferRequest{
		HotWalletAddress: admitted.Wallet.Address,
		Amount:           admitted.Amount.String(),
		Asset:            admitted.Asset.Symbol,
		Chain:            admitted.Chain.Symbol,
		ExternalTxID:     admitted.Intent.RefillRequestID,
		ColdWalletConfig: &admitted.Asset.SweepWalletConfig,
	}
	if !admitted.Asset.Native() {
		req.ContractAddress = admitted.Asset.ContractAddress
	}
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	return admitted.Client.CreateTransfer(callCtx, req)
}

// failTransaction marks the freshly inserted row FAILED after a transfer
// error. A second failure here only logs; the monitor cannot revive the row
// but operators can see both errors.
func (s *Service) failTransaction(requestID string, cause error) {
	failed := types.StatusFailed
	msg := cause.Error()
	patch := &types.TransactionPatch{Status: &failed, Message: &msg}
	if _, err := s.catalog.UpdateTransaction(requestID, patch); err != nil {
		s.log.Error("Failed to mark transaction failed", "id", requestID, "err", err)
	}
}

// RefillStatus looks up one transaction row. It never calls a provider.
func (s *Service) RefillStatus(requestID string) (*StatusResult, *Error) {
	if requestID == "" {
		return nil, NewError(CodeMissingParameter, "refill_request_id is required", nil)
	}
	record, err := s.catalog.TransactionByRequestID(requestID)
	if err != nil {
		s.log.Error("Status lookup failed", "id", requestID, "err", err)
		return nil, NewError(CodeStatusCheckError, "status lookup failed", nil)
	}
	if record == nil {
		return nil, NewError(CodeTransactionNotFound,
			"no refill transaction with id "+requestID, nil)
	}
	tx := record.Tx
	return &StatusResult{
		RefillRequestID: tx.RefillRequestID,
		Status:          tx.Status,
		ProviderStatus:  tx.ProviderStatus,
		Provider:        tx.Provider,
		ProviderTxID:    tx.ProviderTxID,
		TxHash:          tx.TxHash,
		Message:         tx.Message,
		Amount:          tx.Amount,
		AmountAtomic:    tx.AmountAtomic,
		ChainName:       tx.ChainName,
		TokenSymbol:     tx.TokenSymbol,
		CreatedAt:       tx.CreatedAt,
		UpdatedAt:       tx.UpdatedAt,
	}, nil
}
