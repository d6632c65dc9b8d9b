package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Well-known wallet types. The catalog stores the raw string so operators can
// introduce further classifications, but the refill flow only funds hot
// wallets from cold ones.
const (
	WalletTypeHot  = "hot"
	WalletTypeCold = "cold"
)

var (
	ErrNoProviderConfig = errors.New("types: wallet config names no provider")
)

// Chain identifies a supported blockchain.
type Chain struct {
	ID                uint64 `json:"id"`
	Name              string `json:"name"`
	Symbol            string `json:"symbol"`
	NativeAssetSymbol string `json:"native_asset_symbol"`
	IsActive          bool   `json:"is_active"`
}

// Validate checks the chain record for catalog admission.
func (c *Chain) Validate() error {
	if c.ID == 0 {
		return errors.New("types: chain id must be non-zero")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("types: chain name required")
	}
	if strings.TrimSpace(c.Symbol) == "" {
		return errors.New("types: chain symbol required")
	}
	return nil
}

// LiminalWalletConfig is the identifier bag Liminal needs to address a
// wallet: the numeric wallet id assigned by the Liminal vault.
type LiminalWalletConfig struct {
	WalletID string `json:"wallet_id"`
}

// FireblocksWalletConfig is the identifier bag Fireblocks needs to address a
// wallet: the vault account id, plus an optional provider-side asset id when
// it differs from the catalog symbol (e.g. BTC_TEST).
type FireblocksWalletConfig struct {
	VaultAccountID string `json:"vault_account_id"`
	AssetID        string `json:"asset_id,omitempty"`
}

// WalletConfig routes a wallet to a custody provider. Provider names the
// backend; exactly the matching identifier bag is expected to be populated.
type WalletConfig struct {
	Provider   string                  `json:"provider,omitempty"`
	Liminal    *LiminalWalletConfig    `json:"liminal,omitempty"`
	Fireblocks *FireblocksWalletConfig `json:"fireblocks,omitempty"`
}

// ProviderName returns the canonical (lowercase) provider name, or an error
// when the config does not name one.
func (w *WalletConfig) ProviderName() (string, error) {
	if w == nil || strings.TrimSpace(w.Provider) == "" {
		return "", ErrNoProviderConfig
	}
	return strings.ToLower(strings.TrimSpace(w.Provider)), nil
}

// Empty reports whether the config carries no routing information at all.
func (w *WalletConfig) Empty() bool {
	return w == nil || (w.Provider == "" && w.Liminal == nil && w.Fireblocks == nil)
}

// Wallet is a custody address known to the catalog.
type Wallet struct {
	ID              uint64       `json:"id"`
	Address         string       `json:"address"`
	WalletType      string       `json:"wallet_type"`
	HotWalletConfig WalletConfig `json:"hot_wallet_config,omitempty"`
}

// Validate checks the wallet record for catalog admission.
func (w *Wallet) Validate() error {
	if w.ID == 0 {
		return errors.New("types: wallet id must be non-zero")
	}
	if strings.TrimSpace(w.Address) == "" {
		return errors.New("types: wallet address required")
	}
	if strings.TrimSpace(w.WalletType) == "" {
		return errors.New("types: wallet type required")
	}
	return nil
}

// Asset is a token on a specific chain together with its refill policy.
type Asset struct {
	ID              uint64 `json:"id"`
	Symbol          string `json:"symbol"`
	ChainID         uint64 `json:"chain_id"`
	ContractAddress string `json:"contract_address"`
	Decimals        uint8  `json:"decimals"`

	// WalletID references the hot wallet receiving refills.
	WalletID uint64 `json:"wallet_id"`

	// RefillSweepWallet is the cold source address, stored verbatim; the
	// admission pipeline compares it byte-for-byte.
	RefillSweepWallet string       `json:"refill_sweep_wallet,omitempty"`
	SweepWalletConfig WalletConfig `json:"sweep_wallet_config,omitempty"`
	HotWalletConfig   WalletConfig `json:"hot_wallet_config,omitempty"`

	RefillTargetBalanceAtomic    *Atomic `json:"refill_target_balance_atomic,omitempty"`
	RefillTriggerThresholdAtomic *Atomic `json:"refill_trigger_threshold_atomic,omitempty"`

	// RefillCooldownPeriod is the minimum spacing between successful
	// refills, in seconds. Zero disables the cooldown.
	RefillCooldownPeriod int64 `json:"refill_cooldown_period,omitempty"`

	IsActive bool `json:"is_active"`
}

// Native reports whether the asset is the chain's base coin rather than a
// contract token.
func (a *Asset) Native() bool {
	return strings.EqualFold(a.ContractAddress, "native")
}

// CooldownDuration converts the cooldown period to a time.Duration.
func (a *Asset) CooldownDuration() time.Duration {
	if a.RefillCooldownPeriod <= 0 {
		return 0
	}
	return time.Duration(a.RefillCooldownPeriod) * time.Second
}

// Validate checks the asset record for catalog admission, including the
// single-provider invariant between the sweep and hot wallet configs.
func (a *Asset) Validate() error {
	if a.ID == 0 {
		return errors.New("types: asset id must be non-zero")
	}
	if strings.TrimSpace(a.Symbol) == "" {
		return errors.New("types: asset symbol required")
	}
	if a.ChainID == 0 {
		return errors.New("types: asset chain id must be non-zero")
	}
	if a.WalletID == 0 {
		return errors.New("types: asset wallet id must be non-zero")
	}
	if strings.TrimSpace(a.ContractAddress) == "" {
		return errors.New("types: asset contract address required (use \"native\" for base coins)")
	}
	if a.RefillCooldownPeriod < 0 {
		return errors.New("types: asset cooldown period must not be negative")
	}
	if !a.RefillTargetBalanceAtomic.IsZero() && !a.RefillTriggerThresholdAtomic.IsZero() {
		if a.RefillTriggerThresholdAtomic.Cmp(a.RefillTargetBalanceAtomic) > 0 {
			return fmt.Errorf("types: asset %s trigger threshold %s exceeds target %s",
				a.Symbol, a.RefillTriggerThresholdAtomic, a.RefillTargetBalanceAtomic)
		}
	}
	sweep, err := a.SweepWalletConfig.ProviderName()
	if err != nil {
		return fmt.Errorf("types: asset %s sweep wallet config: %w", a.Symbol, err)
	}
	hot, err := a.HotWalletConfig.ProviderName()
	if err != nil {
		return fmt.Errorf("types: asset %s hot wallet config: %w", a.Symbol, err)
	}
	if sweep != hot {
		return fmt.Errorf("types: asset %s is split across providers %s and %s", a.Symbol, sweep, hot)
	}
	return nil
}
