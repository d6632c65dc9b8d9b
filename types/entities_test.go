package types

import (
	"testing"
	"time"
)

func validAsset() *Asset {
	return &Asset{
		ID:                1,
		Symbol:            "USDT",
		ChainID:           1,
		ContractAddress:   "0xdac17f958d2ee523a2206206994597c13d831ec7",
		Decimals:          6,
		WalletID:          1,
		RefillSweepWallet: "0xcold",
		SweepWalletConfig: WalletConfig{
			Provider: "liminal",
			Liminal:  &LiminalWalletConfig{WalletID: "42"},
		},
		HotWalletConfig: WalletConfig{
			Provider: "liminal",
			Liminal:  &LiminalWalletConfig{WalletID: "43"},
		},
		RefillTargetBalanceAtomic:    NewAtomic(1000000),
		RefillTriggerThresholdAtomic: NewAtomic(400000),
		RefillCooldownPeriod:         300,
		IsActive:                     true,
	}
}

func TestChainValidate(t *testing.T) {
	chain := &Chain{ID: 1, Name: "Ethereum", Symbol: "ETH", NativeAssetSymbol: "ETH"}
	if err := chain.Validate(); err != nil {
		t.Errorf("valid chain rejected: %v", err)
	}
	for _, broken := range []*Chain{
		{Name: "Ethereum", Symbol: "ETH"},
		{ID: 1, Symbol: "ETH"},
		{ID: 1, Name: "Ethereum"},
		{ID: 1, Name: "   ", Symbol: "ETH"},
	} {
		if err := broken.Validate(); err == nil {
			t.Errorf("broken chain accepted: %+v", broken)
		}
	}
}

func TestWalletValidate(t *testing.T) {
	wallet := &Wallet{ID: 1, Address: "0xhot", WalletType: "hot"}
	if err := wallet.Validate(); err != nil {
		t.Errorf("valid wallet rejected: %v", err)
	}
	for _, broken := range []*Wallet{
		{Address: "0xhot", WalletType: "hot"},
		{ID: 1, WalletType: "hot"},
		{ID: 1, Address: "0xhot"},
	} {
		if err := broken.Validate(); err == nil {
			t.Errorf("broken wallet accepted: %+v", broken)
		}
	}
}

func TestAssetValidate(t *testing.T) {
	if err := validAsset().Validate(); err != nil {
		t.Fatalf("valid asset rejected: %v", err)
	}

	asset := validAsset()
	asset.RefillTriggerThresholdAtomic = NewAtomic(2000000)
	if err := asset.Validate(); err == nil {
		t.Errorf("trigger above target accepted")
	}

	asset = validAsset()
	asset.HotWalletConfig.Provider = "fireblocks"
	if err := asset.Validate(); err == nil {
		t.Errorf("asset split across providers accepted")
	}

	asset = validAsset()
	asset.ContractAddress = ""
	if err := asset.Validate(); err == nil {
		t.Errorf("missing contract address accepted")
	}

	asset = validAsset()
	asset.RefillCooldownPeriod = -1
	if err := asset.Validate(); err == nil {
		t.Errorf("negative cooldown accepted")
	}

	asset = validAsset()
	asset.SweepWalletConfig = WalletConfig{}
	if err := asset.Validate(); err == nil {
		t.Errorf("missing sweep provider accepted")
	}
}

func TestAssetNative(t *testing.T) {
	asset := validAsset()
	if asset.Native() {
		t.Errorf("contract asset reported native")
	}
	asset.ContractAddress = "native"
	if !asset.Native() {
		t.Errorf("native asset not detected")
	}
	asset.ContractAddress = "NATIVE"
	if !asset.Native() {
		t.Errorf("native detection should be case-insensitive")
	}
}

func TestCooldownDuration(t *testing.T) {
	asset := validAsset()
	if have, want := asset.CooldownDuration(), 300*time.Second; have != want {
		t.Errorf("cooldown mismatch: have %v, want %v", have, want)
	}
	asset.RefillCooldownPeriod = 0
	if asset.CooldownDuration() != 0 {
		t.Errorf("zero cooldown should disable the window")
	}
}

func TestWalletConfigProviderName(t *testing.T) {
	cfg := WalletConfig{Provider: "  Liminal "}
	name, err := cfg.ProviderName()
	if err != nil {
		t.Fatalf("failed to resolve provider: %v", err)
	}
	if name != "liminal" {
		t.Errorf("provider not canonicalized: have %q", name)
	}

	if _, err := (&WalletConfig{}).ProviderName(); err == nil {
		t.Errorf("empty config resolved a provider")
	}
	if !(&WalletConfig{}).Empty() {
		t.Errorf("empty config not reported empty")
	}
	if (&WalletConfig{Provider: "liminal"}).Empty() {
		t.Errorf("named config reported empty")
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusPending, Status("NONSENSE"), false},
	}
	for _, tt := range tests {
		if have := tt.from.CanTransition(tt.to); have != tt.ok {
			t.Errorf("%s -> %s: have %v, want %v", tt.from, tt.to, have, tt.ok)
		}
	}
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("COMPLETED")
	if err != nil {
		t.Fatalf("failed to parse status: %v", err)
	}
	if status != StatusCompleted {
		t.Errorf("status mismatch: have %s", status)
	}
	if _, err := ParseStatus("completed"); err == nil {
		t.Errorf("lowercase status accepted")
	}
	if _, err := ParseStatus("BROKEN"); err == nil {
		t.Errorf("unknown status accepted")
	}
}

func TestTransactionValidate(t *testing.T) {
	tx := &RefillTransaction{
		RefillRequestID: "REQ-1",
		AssetID:         1,
		Provider:        "liminal",
		AmountAtomic:    NewAtomic(500),
		Status:          StatusPending,
	}
	if err := tx.Validate(); err != nil {
		t.Fatalf("valid transaction rejected: %v", err)
	}

	broken := tx.Copy()
	broken.RefillRequestID = " "
	if err := broken.Validate(); err == nil {
		t.Errorf("blank request id accepted")
	}

	broken = tx.Copy()
	broken.AmountAtomic = NewAtomic(0)
	if err := broken.Validate(); err == nil {
		t.Errorf("zero amount accepted")
	}

	broken = tx.Copy()
	broken.Status = Status("NONSENSE")
	if err := broken.Validate(); err == nil {
		t.Errorf("invalid status accepted")
	}
}

func TestTransactionCopy(t *testing.T) {
	tx := &RefillTransaction{
		RefillRequestID: "REQ-1",
		AssetID:         1,
		Provider:        "liminal",
		AmountAtomic:    NewAtomic(500),
		Status:          StatusPending,
		ProviderData:    []byte(`{"k":"v"}`),
	}
	cpy := tx.Copy()
	cpy.AmountAtomic.U256().SetUint64(999)
	cpy.ProviderData[2] = 'x'

	if tx.AmountAtomic.String() != "500" {
		t.Errorf("copy aliases the amount: %s", tx.AmountAtomic)
	}
	if string(tx.ProviderData) != `{"k":"v"}` {
		t.Errorf("copy aliases the provider data: %s", tx.ProviderData)
	}
}

func TestTransactionPatch(t *testing.T) {
	tx := &RefillTransaction{
		RefillRequestID: "REQ-1",
		AssetID:         1,
		Provider:        "liminal",
		AmountAtomic:    NewAtomic(500),
		Status:          StatusProcessing,
		ProviderStatus:  "BROADCASTING",
	}

	status := StatusCompleted
	hash := "0xabc"
	patch := &TransactionPatch{Status: &status, TxHash: &hash}
	patch.Apply(tx)

	if tx.Status != StatusCompleted {
		t.Errorf("status not applied: %s", tx.Status)
	}
	if tx.TxHash != "0xabc" {
		t.Errorf("tx hash not applied: %s", tx.TxHash)
	}
	// Untouched fields keep their values.
	if tx.ProviderStatus != "BROADCASTING" {
		t.Errorf("provider status clobbered: %s", tx.ProviderStatus)
	}

	if !(&TransactionPatch{}).Empty() {
		t.Errorf("empty patch not reported empty")
	}
	if patch.Empty() {
		t.Errorf("populated patch reported empty")
	}
	var nilPatch *TransactionPatch
	if !nilPatch.Empty() {
		t.Errorf("nil patch not reported empty")
	}
	nilPatch.Apply(tx) // must not panic
}
