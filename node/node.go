// Package node assembles a ledgerberry node from its configuration: stores,
// chain, event bus, metrics endpoint and tracing, with a single lifecycle.
package node

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/blockberries/ledgerberry/action"
	"github.com/blockberries/ledgerberry/chain"
	"github.com/blockberries/ledgerberry/config"
	"github.com/blockberries/ledgerberry/consensus"
	"github.com/blockberries/ledgerberry/events"
	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/metrics"
	"github.com/blockberries/ledgerberry/state"
	"github.com/blockberries/ledgerberry/store"
	"github.com/blockberries/ledgerberry/tracing"
	"github.com/blockberries/ledgerberry/types"
)

// DefaultHousekeepingInterval is how often expired staged transactions are
// purged.
const DefaultHousekeepingInterval = 30 * time.Second

// Node is the main coordinator for a ledgerberry node.
// It aggregates all components and manages their lifecycle.
type Node struct {
	// Configuration
	cfg        *config.Config
	privateKey *types.PrivateKey
	version    string

	// Observability
	logger          *logging.Logger
	logCloser       io.Closer
	metrics         metrics.Metrics
	promMetrics     *metrics.PrometheusMetrics
	metricsServer   *http.Server
	tracerProvider  trace.TracerProvider
	shutdownTracing func(context.Context) error

	// Stores
	blockKV kvstore.Store
	stateKV kvstore.Store

	// Core
	loader       action.Loader
	chainOpts    []chain.Option
	chain        *chain.BlockChain
	bus          *events.Bus
	housekeeping time.Duration
	validator    *consensus.StatusTracker

	// Lifecycle
	started bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// Option is a functional option for configuring a Node.
type Option func(*Node)

// WithLogger sets the logger. It replaces the one built from the logging
// config section.
func WithLogger(l *logging.Logger) Option {
	return func(n *Node) {
		n.logger = l
	}
}

// WithMetrics sets the metrics collector. It replaces the one built from the
// metrics config section; no metrics endpoint is served.
func WithMetrics(m metrics.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// WithActionLoader sets the action loader. The default registry holds the
// built-in actions.
func WithActionLoader(l action.Loader) Option {
	return func(n *Node) {
		n.loader = l
	}
}

// WithChainOptions appends options passed to the chain after the ones the
// node derives from its configuration.
func WithChainOptions(opts ...chain.Option) Option {
	return func(n *Node) {
		n.chainOpts = append(n.chainOpts, opts...)
	}
}

// WithHousekeepingInterval sets how often expired staged transactions are
// purged.
func WithHousekeepingInterval(d time.Duration) Option {
	return func(n *Node) {
		if d > 0 {
			n.housekeeping = d
		}
	}
}

// WithVersion sets the service version reported in traces.
func WithVersion(v string) Option {
	return func(n *Node) {
		n.version = v
	}
}

// NewNode creates a new node from cfg. The chain is opened from the
// configured stores, or created from the genesis file when the stores are
// empty.
func NewNode(cfg *config.Config, opts ...Option) (n *Node, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	n = &Node{
		cfg:          cfg,
		version:      "dev",
		housekeeping: DefaultHousekeepingInterval,
	}
	for _, opt := range opts {
		opt(n)
	}
	defer func() {
		if err != nil {
			_ = n.release()
		}
	}()

	if n.logger == nil {
		n.logger, n.logCloser, err = logging.FromConfig(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
	}
	base := n.logger
	n.logger = base.WithComponent("node")

	n.privateKey, err = loadOrGenerateKey(cfg.Chain.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading private key: %w", err)
	}

	if n.metrics == nil {
		if cfg.Metrics.Enabled {
			n.promMetrics = metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
			n.metrics = n.promMetrics
		} else {
			n.metrics = metrics.NewNopMetrics()
		}
	}

	n.tracerProvider, n.shutdownTracing, err = tracing.Setup(context.Background(), cfg.Tracing.Enabled, tracing.ProviderConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: n.version,
		Environment:    cfg.Tracing.Environment,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	n.blockKV, err = kvstore.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening block store: %w", err)
	}
	n.stateKV, err = kvstore.Open(cfg.StateStore.Backend, cfg.StateStore.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	if n.loader == nil {
		n.loader = action.NewRegistry()
	}
	n.bus = events.NewBus()

	deps := chain.Deps{
		Repository: store.NewRepository(n.blockKV),
		States:     state.NewStore(n.stateKV),
		Loader:     n.loader,
	}
	chainOpts := append([]chain.Option{
		chain.WithPolicy(chain.PolicyFromConfig(cfg.Chain)),
		chain.WithMempoolLimits(cfg.Mempool.MaxTxs, cfg.Mempool.Lifetime.Duration()),
		chain.WithLogger(base.WithComponent("chain")),
		chain.WithMetrics(n.metrics),
		chain.WithTracerProvider(n.tracerProvider),
		chain.WithEventBus(n.bus),
	}, n.chainOpts...)

	n.chain, err = chain.Open(deps, chainOpts...)
	if errors.Is(err, types.ErrChainNotInitialized) {
		var genesis *types.Block
		genesis, err = LoadGenesisFile(cfg.Chain.GenesisPath)
		if err != nil {
			return nil, err
		}
		n.chain, err = chain.Create(genesis, deps, chainOpts...)
		if err == nil {
			n.logger.Info("chain created from genesis",
				logging.BlockHash(genesis.Hash()),
				logging.StateRoot(genesis.Header.StateRootHash))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening chain: %w", err)
	}

	n.validator = consensus.NewStatusTracker(consensus.NewDetector(n.privateKey.PublicKey()), n.onValidatorStatus)
	n.updateValidatorStatus()

	return n, nil
}

// Start starts the event bus, the metrics endpoint and the housekeeping
// loop.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return types.ErrNodeAlreadyStarted
	}
	if n.closed {
		return types.ErrStoreClosed
	}

	if err := n.bus.Start(); err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}

	if n.promMetrics != nil {
		if err := n.startMetricsServer(); err != nil {
			_ = n.bus.Stop()
			return fmt.Errorf("starting metrics server: %w", err)
		}
	}

	n.stopCh = make(chan struct{})
	n.wg.Add(1)
	go n.housekeepingLoop()

	n.started = true
	n.logger.Info("node started",
		logging.Address(n.privateKey.Address().String()),
		logging.Height(n.chain.Height()),
		logging.BlockHash(n.chain.TipHash()))
	return nil
}

// Stop stops the node and releases its stores. A stopped node cannot be
// restarted.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started {
		return types.ErrNodeNotStarted
	}

	close(n.stopCh)
	n.wg.Wait()

	if n.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := n.metricsServer.Shutdown(ctx)
		cancel()
		if err != nil {
			n.logger.Warn("metrics server shutdown", logging.Error(err))
		}
	}
	if err := n.bus.Stop(); err != nil {
		n.logger.Warn("event bus shutdown", logging.Error(err))
	}

	n.started = false
	n.logger.Info("node stopped", logging.Height(n.chain.Height()))
	return n.release()
}

// Close releases the stores of a node that was never started. For a
// running node it is Stop.
func (n *Node) Close() error {
	n.mu.RLock()
	started := n.started
	n.mu.RUnlock()
	if started {
		return n.Stop()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.release()
}

// release closes everything NewNode opened. It is idempotent.
func (n *Node) release() error {
	if n.closed {
		return nil
	}
	n.closed = true

	var errs []error
	if n.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracing: %w", err))
		}
		cancel()
	}
	if n.stateKV != nil {
		if err := n.stateKV.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing state store: %w", err))
		}
	}
	if n.blockKV != nil {
		if err := n.blockKV.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing block store: %w", err))
		}
	}
	if n.logCloser != nil {
		if err := n.logCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log output: %w", err))
		}
	}
	return errors.Join(errs...)
}

// IsRunning returns whether the node is running.
func (n *Node) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.started
}

// Chain returns the node's chain.
func (n *Node) Chain() *chain.BlockChain {
	return n.chain
}

// Bus returns the event bus the chain publishes to.
func (n *Node) Bus() *events.Bus {
	return n.bus
}

// PrivateKey returns the node key.
func (n *Node) PrivateKey() *types.PrivateKey {
	return n.privateKey
}

// Address returns the address of the node key.
func (n *Node) Address() types.Address {
	return n.privateKey.Address()
}

// Config returns the node configuration.
func (n *Node) Config() *config.Config {
	return n.cfg
}

// MetricsAddr returns the bound metrics address, or "" when no endpoint is
// served.
func (n *Node) MetricsAddr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.metricsServer == nil {
		return ""
	}
	return n.metricsServer.Addr
}

func (n *Node) startMetricsServer() error {
	ln, err := net.Listen("tcp", n.cfg.Metrics.ListenAddr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", n.promMetrics.HTTPHandler())
	n.metricsServer = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := n.metricsServer
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("metrics server failed", logging.Error(err))
		}
	}()
	n.logger.Info("serving metrics", logging.Address(srv.Addr))
	return nil
}

// housekeepingLoop purges expired staged transactions until Stop.
func (n *Node) housekeepingLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.housekeeping)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.chain.PurgeExpiredTransactions()
			n.updateValidatorStatus()
		}
	}
}

// updateValidatorStatus checks the node key against the validator set that
// commits the next block.
func (n *Node) updateValidatorStatus() {
	valSet, err := n.chain.ValidatorSetAt(n.chain.Height() + 1)
	if err != nil {
		n.logger.Warn("failed to load validator set", logging.Error(err))
		return
	}
	n.validator.Update(valSet)
}

func (n *Node) onValidatorStatus(isValidator bool, index int, val *types.Validator) {
	if !isValidator {
		n.logger.Info("node is not a validator", logging.Address(n.privateKey.Address().String()))
		return
	}
	n.logger.Info("node is a validator",
		logging.Address(val.Address.String()),
		logging.Index(index),
		logging.Power(val.Power))
}

// IsValidator reports whether the node key is in the validator set of the
// next block, as of the last housekeeping pass.
func (n *Node) IsValidator() bool {
	return n.validator.IsValidator()
}

// loadOrGenerateKey loads the node key seed from path, raw or hex encoded.
// A missing file is replaced by a freshly generated key.
func loadOrGenerateKey(path string) (*types.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) == seedSize {
			return types.PrivateKeyFromSeed(data)
		}
		decoded, decodeErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decodeErr == nil && len(decoded) == seedSize {
			return types.PrivateKeyFromSeed(decoded)
		}
		return nil, fmt.Errorf("invalid key file: expected a %d byte seed", seedSize)
	}

	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key, err := types.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := SaveKey(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

const seedSize = 32

// SaveKey writes the hex encoded seed of key to path.
func SaveKey(path string, key *types.PrivateKey) error {
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key.Seed())+"\n"), 0600); err != nil {
		return fmt.Errorf("saving key: %w", err)
	}
	return nil
}

// LoadKey reads the key seed at path. Unlike node startup it never
// generates one.
func LoadKey(path string) (*types.PrivateKey, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return loadOrGenerateKey(path)
}
