// Package monitor reconciles in-flight refill transactions against their
// custody providers until every row reaches a terminal status.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"golang.org/x/sync/semaphore"

	"github.com/tos-network/refilld/alert"
	"github.com/tos-network/refilld/catalog"
	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/metrics"
	"github.com/tos-network/refilld/params"
	"github.com/tos-network/refilld/provider"
	"github.com/tos-network/refilld/refill"
	"github.com/tos-network/refilld/types"
)

var (
	cycleCounter    = metrics.NewRegisteredCounter("monitor/cycles", nil)
	updatedCounter  = metrics.NewRegisteredCounter("monitor/updated", nil)
	pollFailCounter = metrics.NewRegisteredCounter("monitor/poll/failed", nil)
	alertCounter    = metrics.NewRegisteredCounter("monitor/alerts", nil)
	laggingGauge    = metrics.NewRegisteredGauge("monitor/lagging", nil)
)

// Config tunes the reconciliation loop.
type Config struct {
	// Enabled gates the loop entirely; Start is a no-op when false.
	Enabled bool

	// Interval is the cycle cadence.
	Interval time.Duration

	// PendingAlertThreshold is the dwell time in a non-terminal status
	// after which a transaction joins the cycle's grouped alert.
	PendingAlertThreshold time.Duration

	// Concurrency bounds parallel provider lookups within one cycle.
	Concurrency int64

	// ProviderTimeout is the per-lookup deadline.
	ProviderTimeout time.Duration
}

// DefaultConfig is the reconciliation configuration the daemon starts from.
var DefaultConfig = Config{
	Enabled:               true,
	Interval:              params.DefaultMonitorInterval,
	PendingAlertThreshold: params.DefaultPendingAlertThreshold,
	Concurrency:           params.DefaultMonitorConcurrency,
	ProviderTimeout:       params.DefaultProviderTimeout,
}

// sanitize fills zero fields from the defaults.
func (c Config) sanitize() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultConfig.Interval
	}
	if c.PendingAlertThreshold <= 0 {
		c.PendingAlertThreshold = DefaultConfig.PendingAlertThreshold
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConfig.Concurrency
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultConfig.ProviderTimeout
	}
	return c
}

// Monitor is the periodic reconciliation task. It is the single writer of
// provider-sourced fields after a transaction is initiated.
type Monitor struct {
	config   Config
	catalog  *catalog.Catalog
	registry *provider.Registry
	notifier alert.Notifier
	log      log.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a monitor. notifier may be nil, which disables alerting.
func New(config Config, cat *catalog.Catalog, reg *provider.Registry, notifier alert.Notifier, logger log.Logger) *Monitor {
	if logger == nil {
		logger = log.Root()
	}
	return &Monitor{
		config:   config.sanitize(),
		catalog:  cat,
		registry: reg,
		notifier: notifier,
		log:      logger.New("service", "monitor"),
	}
}

// Start launches the loop. The first cycle runs immediately. Calling Start
// on a running or disabled monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.config.Enabled {
		m.log.Info("Reconciliation monitor disabled")
		return
	}
	if m.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.started = true

	m.log.Info("Starting reconciliation monitor", "interval", m.config.Interval,
		"alertthreshold", m.config.PendingAlertThreshold, "concurrency", m.config.Concurrency)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop cancels the loop and waits briefly for the in-flight cycle to drain.
// Calling Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("Reconciliation monitor stopped")
	case <-time.After(params.DefaultHandlerDrainTimeout):
		m.log.Warn("Reconciliation monitor stop timed out with work outstanding")
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.runCycle(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// laggard is one transaction dwelling beyond the alert threshold.
type laggard struct {
	requestID  string
	status     types.Status
	dwell      time.Duration
	provider   string
	providerTx string
}

// runCycle reconciles every non-terminal transaction once. Failures are per
// transaction; one bad provider call never aborts the cycle.
func (m *Monitor) runCycle(ctx context.Context) {
	start := time.Now()
	cycleCounter.Inc(1)
	rows, err := m.collect()
	if err != nil {
		m.log.Error("Reconciliation scan failed", "err", err)
		return
	}
	if len(rows) == 0 {
		laggingGauge.Update(0)
		m.log.Debug("No transactions to reconcile")
		return
	}

	var (
		sem      = semaphore.NewWeighted(m.config.Concurrency)
		wg       sync.WaitGroup
		mu       sync.Mutex
		updated  int
		failed   int
		laggards []laggard
	)
	for _, row := range rows {
		if err := sem.Acquire(ctx, 1); err != nil {
			break // stopping
		}
		wg.Add(1)
		go func(tx *types.RefillTransaction) {
			defer wg.Done()
			defer sem.Release(1)

			changed, lag, err := m.reconcile(ctx, tx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
			}
			if changed {
				updated++
			}
			if lag != nil {
				laggards = append(laggards, *lag)
			}
		}(row)
	}
	wg.Wait()

	updatedCounter.Inc(int64(updated))
	pollFailCounter.Inc(int64(failed))
	laggingGauge.Update(int64(len(laggards)))

	if len(laggards) > 0 && m.notifier != nil {
		m.emitAlert(ctx, laggards)
	}
	m.log.Info("Reconciliation cycle done", "scanned", len(rows), "updated", updated,
		"failed", failed, "lagging", len(laggards), "elapsed", time.Since(start))
}

// collect returns the non-terminal transactions, deduplicated and ordered
// oldest first.
func (m *Monitor) collect() ([]*types.RefillTransaction, error) {
	pending, err := m.catalog.TransactionsByStatus(types.StatusPending)
	if err != nil {
		return nil, err
	}
	processing, err := m.catalog.TransactionsByStatus(types.StatusProcessing)
	if err != nil {
		return nil, err
	}

	seen := mapset.NewSet()
	rows := make([]*types.RefillTransaction, 0, len(pending)+len(processing))
	for _, tx := range append(pending, processing...) {
		if seen.Add(tx.RefillRequestID) {
			rows = append(rows, tx)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	return rows, nil
}

// reconcile refreshes one transaction from its provider. It returns whether
// the row changed, and a laggard entry when the row remains non-terminal
// past the alert threshold.
func (m *Monitor) reconcile(ctx context.Context, listed *types.RefillTransaction) (bool, *laggard, error) {
	logger := m.log.New("id", listed.RefillRequestID)

	// Re-read joined so the asset's wallet config is available and the row
	// state is fresher than the listing snapshot.
	record, err := m.catalog.TransactionByRequestID(listed.RefillRequestID)
	if err != nil {
		logger.Error("Reconcile join failed", "err", err)
		return false, nil, err
	}
	if record == nil || record.Tx.Terminal() {
		return false, nil, nil
	}
	tx := record.Tx
	updatedBefore := tx.UpdatedAt

	changed, err := m.refresh(ctx, logger, record)

	// Dwell is measured against the pre-cycle update time, so a row that
	// only now moved still alerts if it sat idle past the threshold.
	var lag *laggard
	status := tx.Status
	if !status.Terminal() {
		if dwell := time.Since(updatedBefore); dwell >= m.config.PendingAlertThreshold {
			lag = &laggard{
				requestID:  tx.RefillRequestID,
				status:     status,
				dwell:      dwell,
				provider:   tx.Provider,
				providerTx: tx.ProviderTxID,
			}
		}
	}
	return changed, lag, err
}

// refresh polls the provider and persists the resulting patch. The passed
// record's Tx is updated in place on success.
func (m *Monitor) refresh(ctx context.Context, logger log.Logger, record *catalog.TransactionRecord) (bool, error) {
	tx := record.Tx
	if tx.ProviderTxID == "" {
		// The initiation update never landed; nothing to poll yet.
		logger.Warn("Transaction carries no provider tx id, skipping poll", "status", tx.Status)
		return false, nil
	}
	client, err := m.registry.Get(tx.Provider)
	if err != nil {
		logger.Error("Provider unavailable for reconcile", "provider", tx.Provider, "err", err)
		return false, err
	}

	token := &provider.TokenInfo{
		Symbol:       record.Asset.Symbol,
		ChainSymbol:  record.Chain.Symbol,
		Decimals:     record.Asset.Decimals,
		WalletConfig: &record.Asset.HotWalletConfig,
	}
	if !record.Asset.Native() {
		token.ContractAddress = record.Asset.ContractAddress
	}

	callCtx, cancel := context.WithTimeout(ctx, m.config.ProviderTimeout)
	raw, err := client.TransactionByID(callCtx, tx.ProviderTxID, token)
	cancel()
	if err != nil {
		logger.Error("Provider lookup failed", "provider", tx.Provider, "providertx", tx.ProviderTxID, "err", err)
		return false, err
	}

	snap, err := refill.ExtractSnapshot(tx.Provider, raw)
	if err != nil {
		logger.Error("Provider response not extractable", "err", err)
		return false, err
	}
	patch := refill.Diff(tx, snap)
	if patch.Empty() {
		return false, nil
	}
	affected, err := m.catalog.UpdateTransaction(tx.RefillRequestID, patch)
	if err != nil {
		logger.Error("Reconcile update failed", "err", err)
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	patch.Apply(tx)
	if tx.Status.Terminal() {
		logger.Info("Refill reached terminal status", "status", tx.Status, "raw", snap.RawStatus, "txhash", tx.TxHash)
	} else {
		logger.Debug("Refill state refreshed", "status", tx.Status, "raw", snap.RawStatus)
	}
	return true, nil
}

// emitAlert sends exactly one grouped message covering every laggard of the
// cycle.
func (m *Monitor) emitAlert(ctx context.Context, laggards []laggard) {
	sort.Slice(laggards, func(i, j int) bool { return laggards[i].dwell > laggards[j].dwell })

	var b strings.Builder
	for _, l := range laggards {
		fmt.Fprintf(&b, "%s %s for %s (provider %s", l.requestID, l.status, l.dwell.Round(time.Second), l.provider)
		if l.providerTx != "" {
			fmt.Fprintf(&b, ", tx %s", l.providerTx)
		}
		b.WriteString(")\n")
	}
	subject := fmt.Sprintf("%d refill transaction(s) pending beyond %s", len(laggards), m.config.PendingAlertThreshold)
	if err := m.notifier.Notify(ctx, subject, strings.TrimRight(b.String(), "\n")); err != nil {
		m.log.Error("Alert delivery failed", "err", err)
		return
	}
	alertCounter.Inc(1)
}
