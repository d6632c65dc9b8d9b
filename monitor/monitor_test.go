package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tos-network/refilld/alert"
	"github.com/tos-network/refilld/catalog"
	"github.com/tos-network/refilld/provider"
	"github.com/tos-network/refilld/refilldb/memorydb"
	"github.com/tos-network/refilld/types"
)

// fakeBackend answers transaction lookups from a canned table keyed by
// provider tx id.
type fakeBackend struct {
	mu      sync.Mutex
	results map[string]json.RawMessage
	errs    map[string]error
	polls   map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		results: make(map[string]json.RawMessage),
		errs:    make(map[string]error),
		polls:   make(map[string]int),
	}
}

func (f *fakeBackend) Name() string { return "fireblocks" }

func (f *fakeBackend) Init(ctx context.Context) error { return nil }

func (f *fakeBackend) TokenBalance(ctx context.Context, token *provider.TokenInfo) (*types.Atomic, error) {
	return types.NewAtomic(0), nil
}

func (f *fakeBackend) CreateTransfer(ctx context.Context, req *provider.TransferRequest) (*provider.TransferResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeBackend) TransactionByID(ctx context.Context, providerTxID string, token *provider.TokenInfo) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[providerTxID]++
	if err := f.errs[providerTxID]; err != nil {
		return nil, err
	}
	if raw, ok := f.results[providerTxID]; ok {
		return raw, nil
	}
	return nil, errors.New("unknown transfer")
}

func (f *fakeBackend) set(providerTxID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[providerTxID] = json.RawMessage(`{"id":"` + providerTxID + `","status":"` + status + `","txHash":"0xabc"}`)
}

func (f *fakeBackend) pollCount(providerTxID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[providerTxID]
}

type fakeNotifier struct {
	mu       sync.Mutex
	calls    int
	subjects []string
	bodies   []string
}

func (f *fakeNotifier) Notify(ctx context.Context, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func seedCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.Open(memorydb.New())
	if err := cat.PutChain(&types.Chain{ID: 1, Name: "Bitcoin", Symbol: "BTC", NativeAssetSymbol: "BTC", IsActive: true}); err != nil {
		t.Fatalf("seed chain: %v", err)
	}
	cfg := func(vault string) types.WalletConfig {
		return types.WalletConfig{
			Provider:   "fireblocks",
			Fireblocks: &types.FireblocksWalletConfig{VaultAccountID: vault},
		}
	}
	if err := cat.PutWallet(&types.Wallet{ID: 7, Address: "0xhot", WalletType: types.WalletTypeHot, HotWalletConfig: cfg("hot-7")}); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	for i, symbol := range []string{"BTC", "LTC"} {
		asset := &types.Asset{
			ID:                           uint64(i + 1),
			Symbol:                       symbol,
			ChainID:                      1,
			ContractAddress:              "native",
			Decimals:                     8,
			WalletID:                     7,
			RefillSweepWallet:            "0xcold",
			SweepWalletConfig:            cfg("cold-7"),
			HotWalletConfig:              cfg("hot-7"),
			RefillTargetBalanceAtomic:    types.NewAtomic(100000000),
			RefillTriggerThresholdAtomic: types.NewAtomic(50000000),
			IsActive:                     true,
		}
		if err := cat.PutAsset(asset); err != nil {
			t.Fatalf("seed asset %s: %v", symbol, err)
		}
	}
	return cat
}

func seedRow(t *testing.T, cat *catalog.Catalog, requestID string, assetID uint64, providerTxID string, updatedAt time.Time) {
	t.Helper()
	row := &types.RefillTransaction{
		RefillRequestID: requestID,
		AssetID:         assetID,
		Provider:        "fireblocks",
		AmountAtomic:    types.NewAtomic(50000000),
		Amount:          "0.5",
		ChainName:       "Bitcoin",
		TokenSymbol:     "BTC",
		Status:          types.StatusProcessing,
		ProviderStatus:  "SUBMITTED",
		ProviderTxID:    providerTxID,
		CreatedAt:       updatedAt,
		UpdatedAt:       updatedAt,
	}
	if err := cat.InsertTransaction(row); err != nil {
		t.Fatalf("seed row %s: %v", requestID, err)
	}
}

func newTestMonitor(t *testing.T, config Config, notifier *fakeNotifier) (*Monitor, *fakeBackend, *catalog.Catalog) {
	t.Helper()
	cat := seedCatalog(t)
	fake := newFakeBackend()
	reg := provider.NewRegistry()
	reg.RegisterFactory("fireblocks", func() (provider.Provider, error) { return fake, nil })
	if err := reg.Initialize(context.Background(), []string{"fireblocks"}); err != nil {
		t.Fatalf("registry init: %v", err)
	}
	var sink alert.Notifier
	if notifier != nil {
		sink = notifier
	}
	return New(config, cat, reg, sink, nil), fake, cat
}

func rowStatus(t *testing.T, cat *catalog.Catalog, requestID string) *types.RefillTransaction {
	t.Helper()
	record, err := cat.TransactionByRequestID(requestID)
	if err != nil {
		t.Fatalf("load %s: %v", requestID, err)
	}
	if record == nil {
		t.Fatalf("row %s missing", requestID)
	}
	return record.Tx
}

func TestCycleDrivesRowToTerminal(t *testing.T) {
	m, fake, cat := newTestMonitor(t, Config{Enabled: true}, nil)
	seedRow(t, cat, "REQ001", 1, "fb-1", time.Now().UTC())

	// Cycle 1: provider moved to an intermediate custody state. The raw
	// status and hash land, the internal status stays put.
	fake.set("fb-1", "BROADCASTING")
	m.runCycle(context.Background())

	row := rowStatus(t, cat, "REQ001")
	if row.Status != types.StatusProcessing {
		t.Fatalf("status = %v after intermediate state, want PROCESSING", row.Status)
	}
	if row.ProviderStatus != "BROADCASTING" || row.TxHash != "0xabc" {
		t.Errorf("provider status / hash = %q / %q", row.ProviderStatus, row.TxHash)
	}

	// Cycle 2: terminal answer.
	fake.set("fb-1", "COMPLETED")
	m.runCycle(context.Background())

	row = rowStatus(t, cat, "REQ001")
	if row.Status != types.StatusCompleted {
		t.Fatalf("status = %v, want COMPLETED", row.Status)
	}
	if got := fake.pollCount("fb-1"); got != 2 {
		t.Errorf("polls = %d, want 2", got)
	}

	// Cycle 3: terminal rows are not picked up again.
	m.runCycle(context.Background())
	if got := fake.pollCount("fb-1"); got != 2 {
		t.Errorf("terminal row polled again (%d polls)", got)
	}
}

func TestCycleSkipsRowWithoutProviderTx(t *testing.T) {
	m, fake, cat := newTestMonitor(t, Config{Enabled: true}, nil)
	seedRow(t, cat, "REQ002", 1, "", time.Now().UTC())

	m.runCycle(context.Background())

	if len(fake.polls) != 0 {
		t.Errorf("unexpected polls %v for a row without provider tx id", fake.polls)
	}
	if row := rowStatus(t, cat, "REQ002"); row.Status != types.StatusProcessing {
		t.Errorf("status = %v, want unchanged PROCESSING", row.Status)
	}
}

func TestCycleIsolatesFailures(t *testing.T) {
	m, fake, cat := newTestMonitor(t, Config{Enabled: true}, nil)
	now := time.Now().UTC()
	seedRow(t, cat, "REQ003", 1, "fb-3", now)
	seedRow(t, cat, "REQ004", 2, "fb-4", now)

	fake.errs["fb-3"] = errors.New("custody timeout")
	fake.set("fb-4", "COMPLETED")

	m.runCycle(context.Background())

	if row := rowStatus(t, cat, "REQ003"); row.Status != types.StatusProcessing || row.ProviderStatus != "SUBMITTED" {
		t.Errorf("failed lookup mutated the row: %v / %q", row.Status, row.ProviderStatus)
	}
	if row := rowStatus(t, cat, "REQ004"); row.Status != types.StatusCompleted {
		t.Errorf("healthy row status = %v, want COMPLETED", row.Status)
	}
}

func TestCycleEmitsOneGroupedAlert(t *testing.T) {
	sink := &fakeNotifier{}
	m, fake, cat := newTestMonitor(t, Config{Enabled: true, PendingAlertThreshold: time.Minute}, sink)

	stale := time.Now().UTC().Add(-10 * time.Minute)
	seedRow(t, cat, "REQ005", 1, "fb-5", stale)
	seedRow(t, cat, "REQ006", 2, "fb-6", stale)
	fake.set("fb-5", "CONFIRMING")
	fake.set("fb-6", "CONFIRMING")

	m.runCycle(context.Background())

	if sink.calls != 1 {
		t.Fatalf("alerts = %d, want exactly one grouped alert", sink.calls)
	}
	body := sink.bodies[0]
	if !strings.Contains(body, "REQ005") || !strings.Contains(body, "REQ006") {
		t.Errorf("alert body misses a laggard: %q", body)
	}

	// Both rows were patched this cycle, so their update time is fresh:
	// the next cycle must not re-alert.
	m.runCycle(context.Background())
	if sink.calls != 1 {
		t.Fatalf("alerts = %d, want still 1 after rows were refreshed", sink.calls)
	}
}

func TestFreshRowsDoNotAlert(t *testing.T) {
	sink := &fakeNotifier{}
	m, fake, cat := newTestMonitor(t, Config{Enabled: true, PendingAlertThreshold: time.Hour}, sink)
	seedRow(t, cat, "REQ007", 1, "fb-7", time.Now().UTC())
	fake.set("fb-7", "CONFIRMING")

	m.runCycle(context.Background())

	if sink.calls != 0 {
		t.Errorf("alerts = %d for a fresh row, want 0", sink.calls)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	m, fake, cat := newTestMonitor(t, Config{Enabled: true, Interval: time.Minute}, nil)
	seedRow(t, cat, "REQ008", 1, "fb-8", time.Now().UTC())
	fake.set("fb-8", "COMPLETED")

	// The first cycle runs immediately on start; the interval is long
	// enough that only that cycle can complete the row.
	m.Start()
	m.Start() // second start is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for {
		if row := rowStatus(t, cat, "REQ008"); row.Status == types.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first cycle did not run immediately")
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.Stop()
	m.Stop() // second stop is a no-op
}

func TestDisabledMonitorDoesNotStart(t *testing.T) {
	m, fake, cat := newTestMonitor(t, Config{Enabled: false}, nil)
	seedRow(t, cat, "REQ009", 1, "fb-9", time.Now().UTC())
	fake.set("fb-9", "COMPLETED")

	m.Start()
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	if got := fake.pollCount("fb-9"); got != 0 {
		t.Errorf("disabled monitor polled %d times", got)
	}
}
