package refill

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tos-network/refilld/params"
	"github.com/tos-network/refilld/provider"
	"github.com/tos-network/refilld/provider/fireblocks"
	"github.com/tos-network/refilld/provider/liminal"
	"github.com/tos-network/refilld/types"
)

// Intent is a submitted refill request: top up the hot wallet with
// RefillAmount of the asset, drawing from the sweep (cold) wallet.
type Intent struct {
	RefillRequestID   string `json:"refill_request_id"`
	WalletAddress     string `json:"wallet_address"`
	AssetSymbol       string `json:"asset_symbol"`
	AssetAddress      string `json:"asset_address"`
	ChainName         string `json:"chain_name"`
	RefillAmount      string `json:"refill_amount"`
	RefillSweepWallet string `json:"refill_sweep_wallet"`
}

// Admitted is the validated view the orchestrator works from: the joined
// catalog rows, the parsed amounts and the balance snapshots taken at
// admission time, plus the resolved provider client.
type Admitted struct {
	Intent       *Intent
	Chain        *types.Chain
	Asset        *types.Asset
	Wallet       *types.Wallet
	Amount       decimal.Decimal
	AmountAtomic *types.Atomic
	ColdBalance  *types.Atomic
	HotBalance   *types.Atomic
	Client       provider.Provider
}

// admit runs the validation pipeline. Steps run in order and the first
// failure short-circuits with its rejection code.
func (s *Service) admit(ctx context.Context, intent *Intent) (*Admitted, *Error) {
	// Step 1: all seven fields are required.
	if missing := missingFields(intent); len(missing) > 0 {
		return nil, NewError(CodeMissingFields, "missing required fields",
			map[string]interface{}{"missing_fields": missing})
	}

	// Step 2: the chain must exist and be active.
	chain, err := s.catalog.ChainByName(intent.ChainName)
	if err != nil {
		return nil, internalError("chain lookup", err)
	}
	if chain == nil || !chain.IsActive {
		return nil, NewError(CodeBlockchainNotFound,
			fmt.Sprintf("blockchain %q is not supported", intent.ChainName), nil)
	}

	// Step 3: the asset must exist on that chain and be active.
	record, err := s.catalog.AssetBySymbolAndChain(intent.AssetSymbol, chain.ID)
	if err != nil {
		return nil, internalError("asset lookup", err)
	}
	if record == nil || !record.Asset.IsActive {
		return nil, NewError(CodeAssetNotFound,
			fmt.Sprintf("asset %q is not configured on chain %q", intent.AssetSymbol, chain.Name), nil)
	}
	asset, wallet := record.Asset, record.Wallet

	// Step 4: at most one refill in flight per asset. A replay of the
	// in-flight request id is a duplicate, not a conflict.
	if pending, err := s.catalog.PendingTransactionByAsset(asset.ID); err != nil {
		return nil, internalError("pending lookup", err)
	} else if pending != nil {
		if pending.RefillRequestID == intent.RefillRequestID {
			return nil, duplicateTransaction(pending)
		}
		return nil, refillInProgress(pending)
	}

	// Step 5: respect the per-asset cooldown since the last success.
	if cooldown := asset.CooldownDuration(); cooldown > 0 {
		last, err := s.catalog.LastCompletedRefill(asset.ID)
		if err != nil {
			return nil, internalError("cooldown lookup", err)
		}
		if last != nil {
			if elapsed := time.Since(last.UpdatedAt); elapsed < cooldown {
				remaining := cooldown - elapsed
				return nil, NewError(CodeCooldownActive, "refill cooldown period is active",
					map[string]interface{}{
						"last_refill_time":           last.UpdatedAt,
						"last_refill_request_id":     last.RefillRequestID,
						"cooldown_period_seconds":    int64(cooldown.Seconds()),
						"remaining_cooldown_seconds": int64(remaining.Seconds()),
					})
			}
		}
	}

	// Step 6: the intent must point at the asset's hot wallet, and at the
	// same contract (or both sides native).
	if !strings.EqualFold(intent.WalletAddress, wallet.Address) {
		return nil, NewError(CodeHotWalletAddressMismatch, "wallet address does not match the configured hot wallet",
			map[string]interface{}{
				"received_wallet_address": intent.WalletAddress,
				"expected_wallet_address": wallet.Address,
			})
	}
	intentNative := strings.EqualFold(intent.AssetAddress, params.NativeAssetSentinel)
	if intentNative != asset.Native() {
		return nil, NewError(CodeHotWalletAddressMismatch, "asset address kind does not match the configured asset",
			map[string]interface{}{
				"received_asset_address": intent.AssetAddress,
				"expected_asset_address": asset.ContractAddress,
			})
	}
	if !intentNative && !strings.EqualFold(intent.AssetAddress, asset.ContractAddress) {
		return nil, NewError(CodeHotWalletAddressMismatch, "asset address does not match the configured contract",
			map[string]interface{}{
				"received_asset_address": intent.AssetAddress,
				"expected_asset_address": asset.ContractAddress,
			})
	}

	// Step 7: the sweep wallet must match the configured source verbatim.
	if asset.RefillSweepWallet == "" {
		return nil, NewError(CodeNoSweepWalletConfigured,
			fmt.Sprintf("asset %q has no sweep wallet configured", asset.Symbol), nil)
	}
	if intent.RefillSweepWallet != asset.RefillSweepWallet {
		return nil, NewError(CodeSweepWalletMismatch, "sweep wallet does not match the configured source",
			map[string]interface{}{
				"received_sweep_wallet": intent.RefillSweepWallet,
				"expected_sweep_wallet": asset.RefillSweepWallet,
			})
	}

	// Step 8: resolve the custody provider from the sweep wallet config.
	providerName, err := asset.SweepWalletConfig.ProviderName()
	if err != nil {
		return nil, NewError(CodeNoProviderAvailable,
			fmt.Sprintf("asset %q names no custody provider", asset.Symbol), nil)
	}
	client, err := s.registry.Get(providerName)
	if err != nil {
		if errors.Is(err, provider.ErrUnsupportedProvider) {
			return nil, NewError(CodeNoProviderAvailable,
				fmt.Sprintf("no client available for provider %q", providerName), nil)
		}
		return nil, internalError("provider lookup", err)
	}

	// Step 9: the cold wallet must hold the requested amount. The amount
	// is parsed here because the comparison needs it in atomic units.
	amount, perr := decimal.NewFromString(strings.TrimSpace(intent.RefillAmount))
	if perr != nil {
		return nil, NewError(CodeInvalidAmount,
			fmt.Sprintf("refill amount %q is not a decimal number", intent.RefillAmount), nil)
	}
	required, aerr := types.AtomicFromDecimal(amount, asset.Decimals)
	if aerr != nil {
		return nil, NewError(CodeInvalidAmount, aerr.Error(), nil)
	}
	coldBalance, rej := s.liveBalance(ctx, client, asset, chain, &asset.SweepWalletConfig)
	if rej != nil {
		return nil, rej
	}
	if coldBalance.Cmp(required) < 0 {
		return nil, NewError(CodeInsufficientBalance, "cold wallet balance is below the requested amount",
			map[string]interface{}{
				"available_balance": coldBalance.String(),
				"required_balance":  required.String(),
			})
	}

	// Step 10: the hot wallet must actually need the refill.
	if wallet.WalletType != types.WalletTypeHot {
		return nil, NewError(CodeInvalidWalletType,
			fmt.Sprintf("wallet %q is %q, not a hot wallet", wallet.Address, wallet.WalletType), nil)
	}
	if !amount.IsPositive() {
		return nil, NewError(CodeInvalidAmount, "refill amount must be positive", nil)
	}
	hotBalance, rej := s.liveBalance(ctx, client, asset, chain, &asset.HotWalletConfig)
	if rej != nil {
		return nil, rej
	}
	if rej := checkRefillNeed(hotBalance, required, asset); rej != nil {
		return nil, rej
	}

	return &Admitted{
		Intent:       intent,
		Chain:        chain,
		Asset:        asset,
		Wallet:       wallet,
		Amount:       amount,
		AmountAtomic: required,
		ColdBalance:  coldBalance,
		HotBalance:   hotBalance,
		Client:       client,
	}, nil
}

// checkRefillNeed applies the threshold policy: a wallet at or above target
// needs nothing, one at or above trigger is not yet refillable, and a refill
// must never push the balance past target.
func checkRefillNeed(current, refill *types.Atomic, asset *types.Asset) *Error {
	target := asset.RefillTargetBalanceAtomic
	trigger := asset.RefillTriggerThresholdAtomic

	if !target.IsZero() && current.Cmp(target) >= 0 {
		return NewError(CodeSufficientBalance, "hot wallet balance already meets the target",
			map[string]interface{}{
				"current_balance": current.String(),
				"target_balance":  target.String(),
			})
	}
	if !trigger.IsZero() && current.Cmp(trigger) >= 0 {
		return NewError(CodeAboveTriggerThreshold, "hot wallet balance is above the refill trigger",
			map[string]interface{}{
				"current_balance":   current.String(),
				"trigger_threshold": trigger.String(),
			})
	}
	if !target.IsZero() {
		// Exact arithmetic: two 256-bit quantities can exceed uint256.
		projected := new(big.Int).Add(current.U256().ToBig(), refill.U256().ToBig())
		if projected.Cmp(target.U256().ToBig()) > 0 {
			return NewError(CodeWillOverfillTarget, "refill would push the hot wallet past its target",
				map[string]interface{}{
					"projected": projected.String(),
					"target":    target.String(),
				})
		}
	}
	return nil
}

// liveBalance reads a wallet balance through the provider under the call
// timeout and classifies configuration failures.
func (s *Service) liveBalance(ctx context.Context, client provider.Provider, asset *types.Asset, chain *types.Chain, cfg *types.WalletConfig) (*types.Atomic, *Error) {
	token := &provider.TokenInfo{
		Symbol:       asset.Symbol,
		ChainSymbol:  chain.Symbol,
		Decimals:     asset.Decimals,
		WalletConfig: cfg,
	}
	if !asset.Native() {
		token.ContractAddress = asset.ContractAddress
	}
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	balance, err := client.TokenBalance(callCtx, token)
	if err != nil {
		var missing *provider.MissingWalletConfigError
		if errors.As(err, &missing) {
			return nil, missingWalletConfigError(missing.Provider)
		}
		s.log.Error("Live balance check failed", "provider", client.Name(), "asset", asset.Symbol, "err", err)
		return nil, NewError(CodeInternalError, "balance check failed", nil)
	}
	return balance, nil
}

// missingWalletConfigError picks the provider-specific configuration code.
func missingWalletConfigError(providerName string) *Error {
	switch providerName {
	case liminal.ProviderName:
		return NewError(CodeNoLiminalColdWallet, "wallet config carries no liminal identifiers", nil)
	case fireblocks.ProviderName:
		return NewError(CodeNoFireblocksColdWallet, "wallet config carries no fireblocks identifiers", nil)
	}
	return NewError(CodeUnsupportedProvider,
		fmt.Sprintf("provider %q is not supported", providerName), nil)
}

// refillInProgress builds the conflict rejection carrying the existing row.
func refillInProgress(existing *types.RefillTransaction) *Error {
	return NewError(CodeRefillInProgress, "a refill for this asset is already in flight",
		map[string]interface{}{
			"existing_refill_request_id": existing.RefillRequestID,
			"status":                     existing.Status,
			"provider_tx_id":             existing.ProviderTxID,
			"created_at":                 existing.CreatedAt,
		})
}

// duplicateTransaction builds the idempotent-replay rejection echoing the
// stored row.
func duplicateTransaction(existing *types.RefillTransaction) *Error {
	return NewError(CodeTransactionExists, "a refill with this request id already exists",
		map[string]interface{}{"transaction": existing})
}

// missingFields lists the absent intent fields by their wire names.
func missingFields(intent *Intent) []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("refill_request_id", intent.RefillRequestID)
	check("wallet_address", intent.WalletAddress)
	check("asset_symbol", intent.AssetSymbol)
	check("asset_address", intent.AssetAddress)
	check("chain_name", intent.ChainName)
	check("refill_amount", intent.RefillAmount)
	check("refill_sweep_wallet", intent.RefillSweepWallet)
	return missing
}

// internalError wraps an unexpected failure as the opaque 500 result.
func internalError(op string, err error) *Error {
	return NewError(CodeInternalError, fmt.Sprintf("%s failed: %v", op, err), nil)
}
