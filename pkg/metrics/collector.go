package metrics

import "time"

// QueueStats is implemented by pkg/eventqueue.Queue and
// pkg/txqueue.Queue so the Collector can poll depth without importing
// either package directly (pkg/eventqueue already imports pkg/metrics
// to update counters inline, so a back-import would cycle).
type QueueStats interface {
	Depth() int
}

// BlockStoreStats is implemented by pkg/blockstore.Store.
type BlockStoreStats interface {
	DedupRatio() float64
}

// Collector periodically samples gauge-style metrics that have no
// natural "on every call" update site (queue depth, dedup ratio).
// Adapted from the teacher's ticking Collector: same start/stop-channel
// shape, repointed at the indexing engine's own stat sources instead of
// cluster manager state.
type Collector struct {
	eventQueue   QueueStats
	txQueue      QueueStats
	blockStore   BlockStoreStats
	interval     time.Duration
	stopCh       chan struct{}
}

// NewCollector creates a metrics collector. Any source may be nil, in
// which case its metrics are simply not sampled.
func NewCollector(eventQueue, txQueue QueueStats, blockStore BlockStoreStats) *Collector {
	return &Collector{
		eventQueue: eventQueue,
		txQueue:    txQueue,
		blockStore: blockStore,
		interval:   15 * time.Second,
		stopCh:     make(chan struct{}),
	}
}

// Start begins collecting metrics in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector. Safe to call once.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.eventQueue != nil {
		EventQueueDepth.Set(float64(c.eventQueue.Depth()))
	}
	if c.txQueue != nil {
		TransactionQueueDepth.Set(float64(c.txQueue.Depth()))
	}
	if c.blockStore != nil {
		BlockStoreDedupRatio.Set(c.blockStore.DedupRatio())
	}
}
