// Package vault is the composition root wiring every capability into a
// running indexing daemon: FileWatcher -> Debouncer -> event queue ->
// NotePipeline -> transaction queue -> TransactionConsumer -> backing
// store, plus the reactor, GC sweeper, and metrics collector riding
// alongside on the event bus. Adapted from the teacher's
// pkg/manager/manager.go's role as the single construct-everything
// composition point (one struct holding every subsystem, Start/Shutdown
// methods, a GetEventBroker-style accessor) — stripped of every
// Raft/cluster-membership/TLS/DNS concern, none of which applies to a
// single-process indexing daemon over a local vault.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/vaultdex/pkg/blockstore"
	"github.com/cuemby/vaultdex/pkg/changedetect"
	"github.com/cuemby/vaultdex/pkg/config"
	"github.com/cuemby/vaultdex/pkg/consistency"
	"github.com/cuemby/vaultdex/pkg/embedding"
	"github.com/cuemby/vaultdex/pkg/enrich"
	"github.com/cuemby/vaultdex/pkg/events"
	"github.com/cuemby/vaultdex/pkg/eventqueue"
	"github.com/cuemby/vaultdex/pkg/gc"
	"github.com/cuemby/vaultdex/pkg/log"
	"github.com/cuemby/vaultdex/pkg/metrics"
	"github.com/cuemby/vaultdex/pkg/parser"
	"github.com/cuemby/vaultdex/pkg/pipeline"
	"github.com/cuemby/vaultdex/pkg/reactor"
	"github.com/cuemby/vaultdex/pkg/store"
	"github.com/cuemby/vaultdex/pkg/txconsumer"
	"github.com/cuemby/vaultdex/pkg/txqueue"
	"github.com/cuemby/vaultdex/pkg/watch"
	"github.com/rs/zerolog"
)

// Vault holds every wired subsystem for one running vault.
type Vault struct {
	cfg config.Config

	store    *store.BoltStore
	broker   *events.Broker
	watcher  *watch.FileWatcher
	debounce *watch.Debouncer
	equeue   *eventqueue.Queue
	txQueue  *txqueue.Queue
	pipe     *pipeline.Pipeline
	consumer *txconsumer.Consumer
	reactor  *reactor.Reactor
	gate     *consistency.Gate
	sweeper  *gc.Sweeper
	metrics  *metrics.Collector

	logger zerolog.Logger
	stopCh chan struct{}
}

// Open constructs every subsystem named in cfg but does not start any
// background goroutines; call Start for that.
func Open(cfg config.Config, provider embedding.Provider) (*Vault, error) {
	backing, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("vault: opening store: %w", err)
	}

	broker := events.NewBroker(256)

	fw, err := watch.New(cfg.Watcher.VaultRoot, cfg.Watcher.ExcludedDirs...)
	if err != nil {
		backing.Close()
		return nil, fmt.Errorf("vault: starting watcher: %w", err)
	}
	debounce := watch.NewDebouncer(cfg.Watcher.DebounceWindow)

	policy := eventqueue.Policy(cfg.Queues.EventQueuePolicy)
	equeue := eventqueue.New(cfg.Queues.EventQueueCapacity, policy)
	txQueue := txqueue.New(cfg.Queues.TxQueueCapacity)

	detector := changedetect.New(backing, parser.NewDefaultParser(), cfg.Watcher.MaxFileSizeBytes)
	enrichSvc := enrich.New(provider, enrich.Config{
		ModelID:              cfg.Embedding.ModelID,
		MinWordsForEmbedding: cfg.Embedding.MinWordsForEmbedding,
		MaxBatchSize:         cfg.Embedding.MaxBatchSize,
	})
	bs := blockstore.New(backing, broker)
	pipe := pipeline.New(detector, parser.NewDefaultParser(), enrichSvc, bs, txQueue, broker)

	consumer := txconsumer.New(txQueue, backing, broker, txconsumer.DefaultConfig())
	gate := consistency.New(backing, txQueue, consumer).WithMaxWaitTime(cfg.Consistency.MaxWaitTime)

	r := reactor.New(reactor.FailOpen)
	if err := r.Register(reactor.NewRelationInferenceHandler(backing, enrich.DefaultRelationConfig())); err != nil {
		backing.Close()
		return nil, fmt.Errorf("vault: registering relation inference handler: %w", err)
	}

	sweeper := gc.New(backing, gc.Config{Interval: cfg.GC.Interval, GracePeriod: cfg.GC.GracePeriod})
	collector := metrics.NewCollector(equeue, txQueue, bs)

	return &Vault{
		cfg:      cfg,
		store:    backing,
		broker:   broker,
		watcher:  fw,
		debounce: debounce,
		equeue:   equeue,
		txQueue:  txQueue,
		pipe:     pipe,
		consumer: consumer,
		reactor:  r,
		gate:     gate,
		sweeper:  sweeper,
		metrics:  collector,
		logger:   log.WithComponent("vault"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Gate exposes the ConsistencyGate for callers that need reads.
func (v *Vault) Gate() *consistency.Gate { return v.gate }

// Broker exposes the event bus for external subscribers (e.g. a future
// query API).
func (v *Vault) Broker() *events.Broker { return v.broker }

// Start begins every background goroutine: watcher, debouncer pump,
// dispatcher pool, transaction consumer, reactor bridge, GC sweeper, and
// metrics collector.
func (v *Vault) Start(ctx context.Context) error {
	v.broker.Start()
	v.watcher.Start()
	v.debounce.Start()
	watch.Pipe(v.watcher, v.debounce, v.stopCh)

	go v.pumpDebouncedEvents()

	go func() {
		if err := v.equeue.RunDispatchers(ctx, v.cfg.Queues.DispatcherWorkers, v.dispatch); err != nil {
			v.logger.Error().Err(err).Msg("dispatcher pool exited")
		}
	}()

	go v.consumer.Run(ctx)
	go v.bridgeReactor(ctx)

	v.sweeper.Start()
	v.metrics.Start()

	v.logger.Info().Str("root", v.cfg.Watcher.VaultRoot).Msg("vault started")
	return nil
}

// pumpDebouncedEvents feeds the debouncer's coalesced events into the
// bounded event queue, applying cfg.Queues' backpressure policy.
func (v *Vault) pumpDebouncedEvents() {
	for {
		select {
		case ev, ok := <-v.debounce.Events():
			if !ok {
				return
			}
			if err := v.equeue.Push(ev); err != nil {
				v.logger.Warn().Str("path", ev.Path).Err(err).Msg("dropped file event")
			}
		case <-v.stopCh:
			return
		}
	}
}

// dispatch is the eventqueue.Dispatch callback: it runs one path's file
// event through the NotePipeline.
func (v *Vault) dispatch(ctx context.Context, ev watch.FileEvent) {
	if ev.Kind == watch.Deleted {
		if err := v.txQueue.Enqueue(txqueue.DatabaseTransaction{
			ID:   ev.Path + "-delete-" + ev.Timestamp.String(),
			Kind: txqueue.Delete,
			Path: ev.Path,
		}); err != nil {
			v.logger.Warn().Str("path", ev.Path).Err(err).Msg("failed to enqueue delete")
		}
		return
	}

	outcome := v.pipe.Process(ctx, ev.Path, pipeline.Config{})
	if outcome.Err != nil {
		v.logger.Warn().Str("path", ev.Path).Str("phase", string(outcome.FailedPhase)).Err(outcome.Err).Msg("pipeline failed")
	}
}

// bridgeReactor subscribes to the event bus and runs every event
// through the reactor's handler graph, so handlers registered on
// BlocksUpdated (like relation inference) fire as a side effect of
// normal pipeline activity rather than needing a direct call site.
func (v *Vault) bridgeReactor(ctx context.Context) {
	sub := v.broker.Subscribe()
	defer v.broker.Unsubscribe(sub)

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			v.reactor.Emit(ctx, ev)
		case <-ctx.Done():
			return
		case <-v.stopCh:
			return
		}
	}
}

// Shutdown stops every background goroutine in roughly reverse start
// order and closes the backing store last, mirroring the teacher's
// Manager.Shutdown shape.
func (v *Vault) Shutdown() error {
	close(v.stopCh)

	v.metrics.Stop()
	v.sweeper.Stop()
	v.consumer.Shutdown()
	v.equeue.Close()
	v.txQueue.Shutdown()
	v.debounce.Stop()
	v.watcher.Stop()
	v.broker.Stop()

	if err := v.store.Close(); err != nil {
		return fmt.Errorf("vault: closing store: %w", err)
	}
	return nil
}

// WaitForIdle is a test/CLI convenience: blocks until the transaction
// queue has caught up, or ctx is done.
func (v *Vault) WaitForIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if v.txQueue.AllCaughtUp() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
