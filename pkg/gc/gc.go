// Package gc is the periodic orphaned-block sweep named in spec.md §9's
// open question on garbage collection. blockstore.Store already
// maintains a synchronous reverse index of block references as notes
// are reparsed; Sweeper is the belt-and-suspenders second pass,
// reclaiming blocks whose reference count has sat at zero for longer
// than a grace period, in case a synchronous decrement was ever missed
// (e.g. a crash between reconciling refs and the next write).
package gc

import (
	"sync"
	"time"

	"github.com/cuemby/vaultdex/pkg/hashutil"
	"github.com/cuemby/vaultdex/pkg/log"
	"github.com/cuemby/vaultdex/pkg/metrics"
	"github.com/cuemby/vaultdex/pkg/store"
	"github.com/rs/zerolog"
)

// DefaultInterval is how often Sweeper scans for orphaned blocks.
const DefaultInterval = 10 * time.Minute

// DefaultGracePeriod is how long a block must sit at zero references
// before a sweep reclaims it, so a block momentarily orphaned mid-batch
// (e.g. a rename observed as delete-then-create) isn't deleted out from
// under a transaction that's about to re-reference it.
const DefaultGracePeriod = time.Hour

// Config controls sweep cadence.
type Config struct {
	Interval    time.Duration
	GracePeriod time.Duration
}

// DefaultConfig returns the package defaults.
func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, GracePeriod: DefaultGracePeriod}
}

// Sweeper is the periodic orphaned-block reclaimer. Adapted from the
// teacher's pkg/reconciler/reconciler.go ticker+mutex+stopCh loop,
// repurposed from cluster-health reconciliation to block GC.
type Sweeper struct {
	backing store.Store
	cfg     Config
	logger  zerolog.Logger

	mu          sync.Mutex
	stopCh      chan struct{}
	orphanedAt  map[hashutil.Hash]time.Time // first-seen-at-zero-refs, reset once refs reappear
}

// New constructs a Sweeper over a backing store.
func New(backing store.Store, cfg Config) *Sweeper {
	return &Sweeper{
		backing:    backing,
		cfg:        cfg,
		logger:     log.WithComponent("gc"),
		stopCh:     make(chan struct{}),
		orphanedAt: make(map[hashutil.Hash]time.Time),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop signals the sweep loop to exit.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("gc sweeper started")

	for {
		select {
		case <-ticker.C:
			if err := s.Sweep(); err != nil {
				s.logger.Error().Err(err).Msg("gc sweep failed")
			}
		case <-s.stopCh:
			s.logger.Info().Msg("gc sweeper stopped")
			return
		}
	}
}

// Sweep runs one reclaim pass: any block with zero references is
// tracked by first-seen time, and reclaimed once it has stayed at zero
// references for at least GracePeriod.
func (s *Sweeper) Sweep() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GCSweepDuration)

	s.mu.Lock()
	defer s.mu.Unlock()

	blocks, err := s.backing.ListAllBlocks()
	if err != nil {
		return err
	}

	now := time.Now()
	stillOrphaned := make(map[hashutil.Hash]time.Time, len(s.orphanedAt))

	for _, rec := range blocks {
		refs, err := s.backing.ListBlockRefs(rec.Hash)
		if err != nil {
			return err
		}
		if len(refs) > 0 {
			continue // referenced again; drop any prior orphan bookkeeping
		}

		firstSeen, known := s.orphanedAt[rec.Hash]
		if !known {
			firstSeen = now
		}
		if now.Sub(firstSeen) < s.cfg.GracePeriod {
			stillOrphaned[rec.Hash] = firstSeen
			continue
		}

		if err := s.backing.DeleteBlock(rec.Hash); err != nil {
			s.logger.Error().Str("hash", rec.Hash.String()).Err(err).Msg("failed to reclaim orphaned block")
			stillOrphaned[rec.Hash] = firstSeen
			continue
		}
		metrics.GCBlocksReclaimedTotal.Inc()
		s.logger.Debug().Str("hash", rec.Hash.String()).Msg("reclaimed orphaned block")
	}

	s.orphanedAt = stillOrphaned
	return nil
}
