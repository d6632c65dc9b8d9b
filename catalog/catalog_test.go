package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/tos-network/refilld/refilldb/memorydb"
	"github.com/tos-network/refilld/types"
)

func testChain(id uint64, name string) *types.Chain {
	return &types.Chain{
		ID:                id,
		Name:              name,
		Symbol:            "ETH",
		NativeAssetSymbol: "ETH",
		IsActive:          true,
	}
}

func testWallet(id uint64, address string) *types.Wallet {
	return &types.Wallet{
		ID:         id,
		Address:    address,
		WalletType: types.WalletTypeHot,
		HotWalletConfig: types.WalletConfig{
			Provider: "liminal",
			Liminal:  &types.LiminalWalletConfig{WalletID: "42"},
		},
	}
}

func testAsset(id uint64, symbol string, chainID, walletID uint64) *types.Asset {
	cfg := types.WalletConfig{
		Provider: "liminal",
		Liminal:  &types.LiminalWalletConfig{WalletID: "42"},
	}
	return &types.Asset{
		ID:                           id,
		Symbol:                       symbol,
		ChainID:                      chainID,
		ContractAddress:              "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		Decimals:                     6,
		WalletID:                     walletID,
		RefillSweepWallet:            "0xcold0000000000000000000000000000000000cd",
		SweepWalletConfig:            cfg,
		HotWalletConfig:              cfg,
		RefillTargetBalanceAtomic:    types.NewAtomic(100000000),
		RefillTriggerThresholdAtomic: types.NewAtomic(50000000),
		RefillCooldownPeriod:         3600,
		IsActive:                     true,
	}
}

func testTx(requestID string, assetID uint64) *types.RefillTransaction {
	return &types.RefillTransaction{
		RefillRequestID: requestID,
		AssetID:         assetID,
		Provider:        "liminal",
		AmountAtomic:    types.NewAtomic(25000000),
		Amount:          "25",
		ChainName:       "Ethereum",
		TokenSymbol:     "USDC",
		Status:          types.StatusPending,
	}
}

// newTestCatalog seeds one chain, one hot wallet and one asset.
func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := Open(memorydb.New())
	if err := c.PutChain(testChain(1, "Ethereum")); err != nil {
		t.Fatalf("seed chain: %v", err)
	}
	if err := c.PutWallet(testWallet(7, "0xHot00000000000000000000000000000000000ab")); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	if err := c.PutAsset(testAsset(3, "USDC", 1, 7)); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	return c
}

func statusPtr(s types.Status) *types.Status { return &s }
func strPtr(s string) *string                { return &s }

func TestChainLookupCaseInsensitive(t *testing.T) {
	c := newTestCatalog(t)
	for _, name := range []string{"Ethereum", "ethereum", "ETHEREUM"} {
		chain, err := c.ChainByName(name)
		if err != nil {
			t.Fatalf("lookup %q: %v", name, err)
		}
		if chain == nil || chain.ID != 1 {
			t.Fatalf("lookup %q: have %+v, want chain 1", name, chain)
		}
	}
	chain, err := c.ChainByName("Solana")
	if err != nil {
		t.Fatalf("missing chain lookup: %v", err)
	}
	if chain != nil {
		t.Fatalf("missing chain lookup: have %+v, want nil", chain)
	}
}

func TestWalletLookupCaseInsensitive(t *testing.T) {
	c := newTestCatalog(t)
	wallet, err := c.WalletByAddress("0XHOT00000000000000000000000000000000000AB")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if wallet == nil || wallet.ID != 7 {
		t.Fatalf("lookup: have %+v, want wallet 7", wallet)
	}
	wallet, err = c.WalletByAddress("0xunknown")
	if err != nil || wallet != nil {
		t.Fatalf("missing wallet lookup: have %+v, %v, want nil, nil", wallet, err)
	}
}

func TestAssetJoinedLookup(t *testing.T) {
	c := newTestCatalog(t)
	record, err := c.AssetBySymbolAndChain("usdc", 1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if record == nil {
		t.Fatal("lookup: have nil record")
	}
	if record.Asset.ID != 3 || record.Chain.ID != 1 || record.Wallet.ID != 7 {
		t.Fatalf("join mismatch: asset %d chain %d wallet %d", record.Asset.ID, record.Chain.ID, record.Wallet.ID)
	}
	record, err = c.AssetBySymbolAndChain("USDT", 1)
	if err != nil || record != nil {
		t.Fatalf("missing asset lookup: have %+v, %v, want nil, nil", record, err)
	}
}

func TestPutAssetChecksReferences(t *testing.T) {
	c := newTestCatalog(t)
	bad := testAsset(9, "DAI", 99, 7)
	if err := c.PutAsset(bad); err == nil {
		t.Fatal("expected unknown chain error")
	}
	bad = testAsset(9, "DAI", 1, 99)
	if err := c.PutAsset(bad); err == nil {
		t.Fatal("expected unknown wallet error")
	}
}

func TestPutAssetReindexesSymbol(t *testing.T) {
	c := newTestCatalog(t)
	renamed := testAsset(3, "USDC.e", 1, 7)
	if err := c.PutAsset(renamed); err != nil {
		t.Fatalf("rename: %v", err)
	}
	record, err := c.AssetBySymbolAndChain("USDC", 1)
	if err != nil || record != nil {
		t.Fatalf("stale symbol still resolves: %+v, %v", record, err)
	}
	record, err = c.AssetBySymbolAndChain("usdc.e", 1)
	if err != nil {
		t.Fatalf("new symbol: %v", err)
	}
	if record == nil || record.Asset.ID != 3 {
		t.Fatalf("new symbol: have %+v, want asset 3", record)
	}
}

func TestInsertTransactionDuplicateRequestID(t *testing.T) {
	c := newTestCatalog(t)
	tx := testTx("REQ001", 3)
	if err := c.InsertTransaction(tx); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dupErr := c.InsertTransaction(testTx("REQ001", 3))
	if !errors.Is(dupErr, ErrDuplicateTransaction) {
		t.Fatalf("duplicate insert: have %v, want ErrDuplicateTransaction", dupErr)
	}
	existing, ok := IsDuplicate(dupErr)
	if !ok || existing.RefillRequestID != "REQ001" {
		t.Fatalf("duplicate payload: have %+v", existing)
	}
}

func TestInsertTransactionInFlightBound(t *testing.T) {
	c := newTestCatalog(t)
	if err := c.InsertTransaction(testTx("REQ001", 3)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := c.InsertTransaction(testTx("REQ002", 3))
	if !errors.Is(err, ErrRefillInFlight) {
		t.Fatalf("second in-flight insert: have %v, want ErrRefillInFlight", err)
	}
	existing, _ := IsDuplicate(err)
	if existing == nil || existing.RefillRequestID != "REQ001" {
		t.Fatalf("in-flight payload: have %+v, want REQ001", existing)
	}

	// Completing the first transaction releases the bound.
	if _, err := c.UpdateTransaction("REQ001", &types.TransactionPatch{Status: statusPtr(types.StatusCompleted)}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := c.InsertTransaction(testTx("REQ002", 3)); err != nil {
		t.Fatalf("insert after completion: %v", err)
	}
}

func TestUpdateTransactionLifecycle(t *testing.T) {
	c := newTestCatalog(t)
	if err := c.InsertTransaction(testTx("REQ001", 3)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := c.UpdateTransaction("REQ001", &types.TransactionPatch{
		Status:         statusPtr(types.StatusProcessing),
		ProviderStatus: strPtr("BROADCASTING"),
		ProviderTxID:   strPtr("prov-77"),
	})
	if err != nil || n != 1 {
		t.Fatalf("processing update: have %d, %v, want 1 row", n, err)
	}

	pending, err := c.PendingTransactionByAsset(3)
	if err != nil {
		t.Fatalf("pending lookup: %v", err)
	}
	if pending == nil || pending.Status != types.StatusProcessing || pending.ProviderTxID != "prov-77" {
		t.Fatalf("pending row: have %+v", pending)
	}

	n, err = c.UpdateTransaction("REQ001", &types.TransactionPatch{
		Status: statusPtr(types.StatusCompleted),
		TxHash: strPtr("0xhash"),
	})
	if err != nil || n != 1 {
		t.Fatalf("completion update: have %d, %v, want 1 row", n, err)
	}

	pending, err = c.PendingTransactionByAsset(3)
	if err != nil {
		t.Fatalf("pending after completion: %v", err)
	}
	if pending != nil {
		t.Fatalf("pending after completion: have %+v, want nil", pending)
	}

	last, err := c.LastCompletedRefill(3)
	if err != nil {
		t.Fatalf("last completed: %v", err)
	}
	if last == nil || last.RefillRequestID != "REQ001" || last.TxHash != "0xhash" {
		t.Fatalf("last completed: have %+v", last)
	}
}

func TestUpdateTransactionGuards(t *testing.T) {
	c := newTestCatalog(t)
	if err := c.InsertTransaction(testTx("REQ001", 3)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := c.UpdateTransaction("NOPE", &types.TransactionPatch{Status: statusPtr(types.StatusProcessing)})
	if err != nil || n != 0 {
		t.Fatalf("missing row update: have %d, %v, want 0 rows", n, err)
	}
	n, err = c.UpdateTransaction("REQ001", &types.TransactionPatch{})
	if err != nil || n != 0 {
		t.Fatalf("empty patch update: have %d, %v, want 0 rows", n, err)
	}

	if _, err := c.UpdateTransaction("REQ001", &types.TransactionPatch{Status: statusPtr(types.StatusProcessing)}); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if _, err := c.UpdateTransaction("REQ001", &types.TransactionPatch{Status: statusPtr(types.StatusPending)}); err == nil {
		t.Fatal("expected invalid transition error")
	}
	if _, err := c.UpdateTransaction("REQ001", &types.TransactionPatch{Status: statusPtr(types.StatusFailed)}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// Terminal rows refuse further mutation.
	n, err = c.UpdateTransaction("REQ001", &types.TransactionPatch{Message: strPtr("late")})
	if err != nil || n != 0 {
		t.Fatalf("terminal update: have %d, %v, want 0 rows", n, err)
	}
	record, err := c.TransactionByRequestID("REQ001")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if record.Tx.Message == "late" {
		t.Fatal("terminal row was mutated")
	}
}

func TestTransactionsByStatusOrdered(t *testing.T) {
	c := newTestCatalog(t)
	if err := c.PutAsset(testAsset(4, "USDT", 1, 7)); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	if err := c.PutAsset(testAsset(5, "DAI", 1, 7)); err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	mk := func(id string, asset uint64, offset time.Duration) *types.RefillTransaction {
		tx := testTx(id, asset)
		tx.CreatedAt = base.Add(offset)
		return tx
	}
	// Inserted out of creation order on purpose.
	for _, tx := range []*types.RefillTransaction{
		mk("REQ-c", 5, 2*time.Second),
		mk("REQ-a", 3, 0),
		mk("REQ-b", 4, time.Second),
	} {
		if err := c.InsertTransaction(tx); err != nil {
			t.Fatalf("insert %s: %v", tx.RefillRequestID, err)
		}
	}

	txs, err := c.TransactionsByStatus(types.StatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("list length: have %d, want 3", len(txs))
	}
	for i, want := range []string{"REQ-a", "REQ-b", "REQ-c"} {
		if txs[i].RefillRequestID != want {
			t.Fatalf("order[%d]: have %s, want %s", i, txs[i].RefillRequestID, want)
		}
	}

	// Moving one row out of PENDING removes it from the listing.
	if _, err := c.UpdateTransaction("REQ-b", &types.TransactionPatch{Status: statusPtr(types.StatusProcessing)}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	txs, err = c.TransactionsByStatus(types.StatusPending)
	if err != nil {
		t.Fatalf("relist: %v", err)
	}
	if len(txs) != 2 || txs[0].RefillRequestID != "REQ-a" || txs[1].RefillRequestID != "REQ-c" {
		t.Fatalf("relist mismatch: %+v", txs)
	}
	txs, err = c.TransactionsByStatus(types.StatusProcessing)
	if err != nil || len(txs) != 1 || txs[0].RefillRequestID != "REQ-b" {
		t.Fatalf("processing list mismatch: %+v, %v", txs, err)
	}
}

func TestUpdatedAtMonotonic(t *testing.T) {
	c := newTestCatalog(t)
	tx := testTx("REQ001", 3)
	tx.CreatedAt = time.Now().UTC().Add(time.Hour) // clock skew: row from the future
	if err := c.InsertTransaction(tx); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := c.UpdateTransaction("REQ001", &types.TransactionPatch{Status: statusPtr(types.StatusProcessing)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	record, err := c.TransactionByRequestID("REQ001")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if record.Tx.UpdatedAt.Before(tx.UpdatedAt) {
		t.Fatalf("updated_at went backwards: have %v, was %v", record.Tx.UpdatedAt, tx.UpdatedAt)
	}
}

func TestPingAndClose(t *testing.T) {
	c := newTestCatalog(t)
	if err := c.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	c.Close()
	if err := c.Ping(); !errors.Is(err, ErrClosed) {
		t.Fatalf("ping after close: have %v, want ErrClosed", err)
	}
	if _, err := c.ChainByName("Ethereum"); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close: have %v, want ErrClosed", err)
	}
}
