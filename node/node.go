// Package node hosts the refill daemon. It owns the storage backend, the
// catalog, the provider registry, the HTTP listener and the reconciliation
// monitor, bringing them up in dependency order and tearing them down in
// reverse.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/tos-network/refilld/alert"
	"github.com/tos-network/refilld/api"
	"github.com/tos-network/refilld/catalog"
	"github.com/tos-network/refilld/envelope"
	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/monitor"
	"github.com/tos-network/refilld/params"
	"github.com/tos-network/refilld/provider"
	"github.com/tos-network/refilld/provider/fireblocks"
	"github.com/tos-network/refilld/provider/liminal"
	"github.com/tos-network/refilld/refill"
	"github.com/tos-network/refilld/refilldb"
	"github.com/tos-network/refilld/refilldb/leveldb"
	"github.com/tos-network/refilld/refilldb/memorydb"
)

var (
	ErrNodeRunning = errors.New("node already running")
	ErrNodeStopped = errors.New("node not started")
)

const (
	initializingState = iota
	runningState
	closedState
)

// CatalogDir is the datadir subdirectory holding the catalog database.
const CatalogDir = "catalog"

// Database sizing for the catalog store. The working set is tiny; these are
// the floor values the backend accepts.
const (
	dbCache   = 16
	dbHandles = 16
)

// HTTP server limits. The write timeout covers a full submission, which may
// wait on two balance reads and a transfer creation against the provider.
const (
	httpReadTimeout  = 30 * time.Second
	httpWriteTimeout = 2 * time.Minute
	httpIdleTimeout  = 2 * time.Minute
)

// Node is a container for the refill service stack.
type Node struct {
	config Config
	log    log.Logger

	startStopLock sync.Mutex // guards state transitions
	state         int
	stop          chan struct{} // closed once the node terminates

	db       refilldb.Database
	catalog  *catalog.Catalog
	registry *provider.Registry
	env      *envelope.Envelope
	service  *refill.Service
	server   *api.Server
	monitor  *monitor.Monitor

	httpServer *http.Server
	listener   net.Listener
}

// New assembles the service stack without starting any listeners or loops.
// The catalog database is opened here; everything else stays inert until
// Start.
func New(conf *Config) (*Node, error) {
	cfg := conf.sanitize()
	logger := log.Root()

	n := &Node{
		config: cfg,
		log:    logger,
		stop:   make(chan struct{}),
	}

	if cfg.DataDir == "" {
		n.db = memorydb.New()
		n.log.Warn("No data directory configured, catalog is ephemeral")
	} else {
		db, err := leveldb.New(filepath.Join(cfg.DataDir, CatalogDir), dbCache, dbHandles, false)
		if err != nil {
			return nil, fmt.Errorf("node: opening catalog database: %w", err)
		}
		n.db = db
	}
	n.catalog = catalog.Open(n.db)

	env, err := envelope.New(envelope.Config{
		Enabled:     cfg.AuthEnabled,
		PublicKey:   cfg.AuthPublicKey,
		PrivateKey:  cfg.CallbackPrivateKey,
		MaxLifetime: cfg.jwtMaxLifetime(),
	})
	if err != nil {
		n.db.Close()
		return nil, err
	}
	n.env = env

	n.registry = provider.NewRegistry()
	if pc := cfg.Providers.Liminal; pc != nil {
		c := *pc
		n.registry.RegisterFactory(liminal.ProviderName, func() (provider.Provider, error) {
			return liminal.New(c), nil
		})
	}
	if pc := cfg.Providers.Fireblocks; pc != nil {
		c := *pc
		n.registry.RegisterFactory(fireblocks.ProviderName, func() (provider.Provider, error) {
			return fireblocks.New(c), nil
		})
	}

	n.service = refill.NewService(n.catalog, n.registry, cfg.providerTimeout(), logger)
	n.server = api.NewServer(n.service, n.catalog, n.env, logger)

	var notifier alert.Notifier
	if sink := alert.NewWebhook(cfg.SlackWebhookURL, 0, logger); sink != nil {
		notifier = sink
	}
	n.monitor = monitor.New(monitor.Config{
		Enabled:               cfg.CronEnabled,
		Interval:              cfg.cronInterval(),
		PendingAlertThreshold: cfg.pendingAlertThreshold(),
		Concurrency:           cfg.MonitorConcurrency,
		ProviderTimeout:       cfg.providerTimeout(),
	}, n.catalog, n.registry, notifier, logger)

	return n, nil
}

// Start brings the stack up: provider registry first, then the HTTP
// listener, then the monitor. It is an error to start an already running or
// closed node.
func (n *Node) Start() error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	switch n.state {
	case runningState:
		return ErrNodeRunning
	case closedState:
		return ErrNodeStopped
	}

	if err := n.initProviders(); err != nil {
		return err
	}
	if err := n.startHTTP(); err != nil {
		return err
	}
	n.monitor.Start()

	n.state = runningState
	n.log.Info("Refill node started", "endpoint", n.HTTPEndpoint(),
		"providers", n.registry.Names(), "auth", n.config.AuthEnabled, "cron", n.config.CronEnabled)
	return nil
}

// initProviders builds one client per provider referenced by an active
// asset.
func (n *Node) initProviders() error {
	assets, err := n.catalog.Assets()
	if err != nil {
		return fmt.Errorf("node: listing assets: %w", err)
	}
	var referenced []string
	for _, asset := range assets {
		if !asset.IsActive {
			continue
		}
		name, err := asset.SweepWalletConfig.ProviderName()
		if err != nil {
			n.log.Warn("Asset without provider routing", "asset", asset.Symbol, "err", err)
			continue
		}
		referenced = append(referenced, name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.providerTimeout())
	defer cancel()
	return n.registry.Initialize(ctx, referenced)
}

func (n *Node) startHTTP() error {
	endpoint := fmt.Sprintf("%s:%d", n.config.ServerHost, n.config.ServerPort)
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("node: binding %s: %w", endpoint, err)
	}
	n.listener = listener

	n.httpServer = &http.Server{
		Handler:           api.NewHandlerStack(n.server, n.config.HTTPCors, n.config.HTTPVirtualHosts),
		ReadTimeout:       httpReadTimeout,
		ReadHeaderTimeout: httpReadTimeout,
		WriteTimeout:      httpWriteTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
	go func() {
		if err := n.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("HTTP server failed", "err", err)
		}
	}()
	n.log.Info("HTTP server started", "endpoint", listener.Addr())
	return nil
}

// Close stops the running services in reverse boot order and releases the
// database. Closing a node that was never started still releases its
// resources; closing twice is an error.
func (n *Node) Close() error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	switch n.state {
	case initializingState:
		// The node was never started.
		return n.doClose()
	case runningState:
		n.stopServices()
		return n.doClose()
	case closedState:
		return ErrNodeStopped
	default:
		panic(fmt.Sprintf("node is in unknown state %d", n.state))
	}
}

// stopServices halts the monitor first so no reconciliation cycle observes a
// closing catalog, then drains the HTTP handlers.
func (n *Node) stopServices() {
	n.monitor.Stop()

	if n.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), params.DefaultHandlerDrainTimeout)
		defer cancel()
		if err := n.httpServer.Shutdown(ctx); err != nil {
			n.log.Warn("HTTP shutdown did not drain cleanly", "err", err)
		}
		n.log.Info("HTTP server stopped", "endpoint", n.listener.Addr())
	}
}

func (n *Node) doClose() error {
	n.state = closedState

	n.catalog.Close()
	err := n.db.Close()

	close(n.stop)
	n.log.Info("Refill node closed")
	return err
}

// Wait blocks until the node is closed.
func (n *Node) Wait() {
	<-n.stop
}

// HTTPEndpoint reports the listener address, usable once Start bound it.
func (n *Node) HTTPEndpoint() string {
	if n.listener == nil {
		return ""
	}
	return "http://" + n.listener.Addr().String()
}

// Catalog exposes the catalog for administrative tooling sharing the node's
// database handle.
func (n *Node) Catalog() *catalog.Catalog {
	return n.catalog
}

// Service exposes the refill orchestrator.
func (n *Node) Service() *refill.Service {
	return n.service
}
