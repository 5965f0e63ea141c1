// Package pipeline is the NotePipeline (spec §4.6): the four-phase
// quick-filter -> parse -> enrich -> persist sequence run once per
// changed path, with per-phase timing and cooperative cancellation.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cuemby/vaultdex/pkg/blockstore"
	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/changedetect"
	"github.com/cuemby/vaultdex/pkg/enrich"
	"github.com/cuemby/vaultdex/pkg/events"
	"github.com/cuemby/vaultdex/pkg/hashutil"
	"github.com/cuemby/vaultdex/pkg/log"
	"github.com/cuemby/vaultdex/pkg/merkle"
	"github.com/cuemby/vaultdex/pkg/metrics"
	"github.com/cuemby/vaultdex/pkg/parser"
	"github.com/cuemby/vaultdex/pkg/store"
	"github.com/cuemby/vaultdex/pkg/txqueue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Phase identifies one of the four pipeline stages, used in Failed and
// timeout reporting.
type Phase string

const (
	PhaseQuickFilter Phase = "quick_filter"
	PhaseParse       Phase = "parse"
	PhaseEnrich      Phase = "enrich"
	PhasePersist     Phase = "persist"
)

// Outcome is the tagged result of a Process call.
type Outcome struct {
	Skipped bool

	// Processed fields, valid when !Skipped && Err == nil.
	BlocksEnriched      int
	EmbeddingsGenerated int

	// Failed fields, valid when Err != nil.
	FailedPhase Phase
	Err         error

	// Cancelled is set when ctx was cancelled mid-phase.
	Cancelled bool
}

// Config bundles the per-call settings spec §4.6 names.
type Config struct {
	ForceReprocess bool
	SkipEnrichment bool
	PhaseTimeout   time.Duration // 0 disables the per-phase timeout
}

// Pipeline wires the four capabilities spec §4.6 names together.
type Pipeline struct {
	detector *changedetect.Detector
	parser   parser.Parser
	enricher *enrich.Service
	blocks   *blockstore.Store
	txQueue  *txqueue.Queue
	broker   *events.Broker
	logger   zerolog.Logger
}

// New constructs a Pipeline.
func New(detector *changedetect.Detector, p parser.Parser, enricher *enrich.Service, bs *blockstore.Store, txQueue *txqueue.Queue, broker *events.Broker) *Pipeline {
	return &Pipeline{
		detector: detector,
		parser:   p,
		enricher: enricher,
		blocks:   bs,
		txQueue:  txQueue,
		broker:   broker,
		logger:   log.WithComponent("pipeline"),
	}
}

// Process runs all four phases for path, per spec §4.6.
func (p *Pipeline) Process(ctx context.Context, path string, cfg Config) Outcome {
	logger := p.logger.With().Str("path", path).Logger()

	classification, err := timedPhase(ctx, cfg, PhaseQuickFilter, func(ctx context.Context) (changedetect.Classification, error) {
		return p.detector.Classify(ctx, path)
	})
	if err != nil {
		return p.failed(logger, PhaseQuickFilter, err)
	}
	switch classification.Status {
	case changedetect.Unchanged:
		if !cfg.ForceReprocess {
			metrics.NotesProcessedTotal.WithLabelValues("skipped").Inc()
			return Outcome{Skipped: true}
		}
	case changedetect.Deleted:
		metrics.NotesProcessedTotal.WithLabelValues("deleted").Inc()
		return Outcome{Skipped: true}
	case changedetect.TooLarge:
		metrics.NotesProcessedTotal.WithLabelValues("too_large").Inc()
		if p.broker != nil {
			p.broker.Publish(&events.Event{
				Type:     events.FileTooLarge,
				Path:     path,
				Metadata: map[string]string{"size": strconv.FormatInt(classification.Size, 10)},
			})
		}
		return Outcome{Skipped: true}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Cancelled: true}
	}

	parsed, err := timedPhase(ctx, cfg, PhaseParse, func(ctx context.Context) (*blocks.ParsedNote, error) {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return p.parser.Parse(ctx, path, content)
	})
	if err != nil {
		return p.failed(logger, PhaseParse, fmt.Errorf("path %s: %w", path, err))
	}
	parsed = merkle.Apply(parsed)

	var addedPositions []int
	if classification.Status != changedetect.New {
		addedPositions = positionsOf(classification.Added)
	}

	enriched, err := timedPhase(ctx, cfg, PhaseEnrich, func(ctx context.Context) (*blocks.EnrichedNote, error) {
		if cfg.SkipEnrichment {
			return &blocks.EnrichedNote{Note: *parsed, Embeddings: map[int][]float32{}}, nil
		}
		return p.enricher.Enrich(ctx, parsed, addedPositions)
	})
	if err != nil {
		return p.failed(logger, PhaseEnrich, err)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Cancelled: true}
	}

	outcome, err := timedPhase(ctx, cfg, PhasePersist, func(ctx context.Context) (Outcome, error) {
		return p.persist(path, enriched, classification)
	})
	if err != nil {
		return p.failed(logger, PhasePersist, err)
	}

	metrics.NotesProcessedTotal.WithLabelValues("processed").Inc()
	return outcome
}

// persist implements Phase 4: stores each block's content by hash,
// enqueues the note's DatabaseTransaction, and publishes NoteParsed.
// BlocksUpdated is published by blockstore.Store.ReconcileRefs, which
// p.blocks.Put/the caller's reconciliation step drives — kept there so
// there is exactly one place that decides "did the block set change".
func (p *Pipeline) persist(path string, enriched *blocks.EnrichedNote, classification changedetect.Classification) (Outcome, error) {
	note := enriched.Note

	blockHashes := make([]hashutil.Hash, 0, len(note.Blocks))
	for _, b := range note.Blocks {
		rec := store.BlockRecord{Hash: b.ContentHash, Kind: b.Kind, Attrs: b.Attrs, Content: b.Content}
		if err := p.blocks.Put(b.ContentHash, rec); err != nil {
			return Outcome{}, fmt.Errorf("persist block: %w", err)
		}
		blockHashes = append(blockHashes, b.ContentHash)
	}

	positions := make(map[hashutil.Hash]int, len(note.Blocks)+len(classification.Removed))
	for _, b := range note.Blocks {
		positions[b.ContentHash] = b.Position
	}
	removedHashes := make([]hashutil.Hash, 0, len(classification.Removed))
	removedPositions := make([]int, 0, len(classification.Removed))
	for _, ph := range classification.Removed {
		if _, ok := positions[ph.Hash]; !ok {
			positions[ph.Hash] = ph.Position
		}
		removedHashes = append(removedHashes, ph.Hash)
		removedPositions = append(removedPositions, ph.Position)
	}
	if err := p.blocks.ReconcileRefs(path, blockHashes, removedHashes, positions); err != nil {
		return Outcome{}, fmt.Errorf("reconcile block refs: %w", err)
	}

	tx := txqueue.DatabaseTransaction{
		ID:               uuid.NewString(),
		Kind:             kindFor(classification.Status),
		Path:             path,
		Note:             enriched,
		FileState:        classification.Current,
		BlockHashes:      blockHashes,
		RemovedPositions: removedPositions,
	}
	if err := p.txQueue.Enqueue(tx); err != nil {
		return Outcome{}, fmt.Errorf("enqueue transaction: %w", err)
	}

	if p.broker != nil {
		p.broker.Publish(&events.Event{
			Type:      events.NoteParsed,
			Path:      path,
			Positions: positionsOfBlocks(note.Blocks),
		})
	}

	return Outcome{
		BlocksEnriched:      enriched.EnrichmentMetadata.BlocksEmbedded,
		EmbeddingsGenerated: len(enriched.Embeddings),
	}, nil
}

func kindFor(status changedetect.Status) txqueue.Kind {
	if status == changedetect.New {
		return txqueue.Create
	}
	return txqueue.Update
}

func positionsOf(phs []changedetect.PositionHash) []int {
	if len(phs) == 0 {
		return nil
	}
	out := make([]int, len(phs))
	for i, ph := range phs {
		out[i] = ph.Position
	}
	return out
}

func positionsOfBlocks(bs []blocks.Block) []int {
	out := make([]int, len(bs))
	for i, b := range bs {
		out[i] = b.Position
	}
	return out
}

func (p *Pipeline) failed(logger zerolog.Logger, phase Phase, err error) Outcome {
	logger.Error().Str("phase", string(phase)).Err(err).Msg("pipeline phase failed")
	metrics.NotesProcessedTotal.WithLabelValues("failed").Inc()
	return Outcome{FailedPhase: phase, Err: err}
}

// timedPhase runs fn under cfg.PhaseTimeout (if set) and records its
// duration under the given phase label. A free function, not a method,
// since Go methods cannot carry their own type parameters.
func timedPhase[T any](ctx context.Context, cfg Config, phase Phase, fn func(context.Context) (T, error)) (T, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PipelinePhaseLatency, string(phase))

	if cfg.PhaseTimeout <= 0 {
		return fn(ctx)
	}
	phaseCtx, cancel := context.WithTimeout(ctx, cfg.PhaseTimeout)
	defer cancel()
	return fn(phaseCtx)
}
