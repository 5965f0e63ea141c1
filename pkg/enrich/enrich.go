// Package enrich implements EnrichmentService (spec §4.5): turning the
// embeddable blocks of a ParsedNote into an EnrichedNote by batching
// requests to an embedding.Provider, retrying transient failures with
// backoff, and degrading to partial embeddings rather than failing the
// whole note.
package enrich

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/vaultdex/pkg/blocks"
	"github.com/cuemby/vaultdex/pkg/embedding"
	"github.com/cuemby/vaultdex/pkg/log"
	"github.com/rs/zerolog"
)

// Config controls batching and eligibility.
type Config struct {
	ModelID              string
	MinWordsForEmbedding int // typical: 5
	MaxBatchSize         int // typical: 32-64
}

// DefaultConfig returns the typical values named in spec.md §4.5.
func DefaultConfig(modelID string) Config {
	return Config{
		ModelID:              modelID,
		MinWordsForEmbedding: 5,
		MaxBatchSize:         32,
	}
}

var embeddableKinds = map[blocks.Kind]bool{
	blocks.KindHeading:   true,
	blocks.KindParagraph: true,
	blocks.KindList:      true,
	blocks.KindCallout:   true,
	blocks.KindTable:     true,
	blocks.KindCodeBlock: true,
}

// Service is the EnrichmentService capability.
type Service struct {
	provider embedding.Provider
	cfg      Config
	logger   zerolog.Logger
}

// New constructs a Service over an embedding.Provider and Config.
func New(provider embedding.Provider, cfg Config) *Service {
	return &Service{provider: provider, cfg: cfg, logger: log.WithComponent("enrich")}
}

// eligible reports whether b should be embedded: a member of the
// embeddable kind set with at least MinWordsForEmbedding plain-text words.
func (s *Service) eligible(b blocks.Block) bool {
	if !embeddableKinds[b.Kind] {
		return false
	}
	return wordCount(b.Content) >= s.cfg.MinWordsForEmbedding
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// Enrich implements spec.md §4.5. changedPositions, when non-empty,
// restricts embedding to those block positions (an incremental reparse);
// an empty slice means "embed every eligible block" (initial indexing).
func (s *Service) Enrich(ctx context.Context, parsed *blocks.ParsedNote, changedPositions []int) (*blocks.EnrichedNote, error) {
	restrict := toSet(changedPositions)

	var targets []blocks.Block
	for _, b := range parsed.Blocks {
		if len(restrict) > 0 {
			if _, ok := restrict[b.Position]; !ok {
				continue
			}
		}
		if s.eligible(b) {
			targets = append(targets, b)
		}
	}

	enriched := &blocks.EnrichedNote{
		Note:       *parsed,
		Embeddings: make(map[int][]float32, len(targets)),
		EnrichmentMetadata: blocks.EnrichmentMetadata{
			EmbeddingModel: s.cfg.ModelID,
			EnrichedAt:     time.Now(),
		},
	}

	batchSize := s.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	for start := 0; start < len(targets); start += batchSize {
		end := start + batchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[start:end]
		texts := make([]string, len(batch))
		for i, b := range batch {
			texts[i] = b.Content
		}

		vectors, err := s.embedWithRetry(ctx, texts)
		if err != nil {
			if errors.Is(err, embedding.ErrDimensionMismatch) {
				return nil, err
			}
			s.logger.Warn().
				Str("path", parsed.Path).
				Int("batch_size", len(batch)).
				Err(err).
				Msg("enrichment soft error, proceeding with partial embeddings")
			enriched.EnrichmentMetadata.SoftErrors = append(enriched.EnrichmentMetadata.SoftErrors, err.Error())
			enriched.EnrichmentMetadata.BlocksSkipped += len(batch)
			continue
		}

		for i, b := range batch {
			enriched.Embeddings[b.Position] = vectors[i]
			enriched.EnrichmentMetadata.BlocksEmbedded++
		}
	}

	return enriched, nil
}

// embedWithRetry applies the retry policy spec.md §4.5 names: base 1s,
// cap 60s, ~50% jitter, at most 3 retries, only for ErrUnavailable and
// ErrTimeout. Other failures (ErrInvalidInput, ErrDimensionMismatch) are
// not retried.
func (s *Service) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 60 * time.Second
	bo.RandomizationFactor = 0.5
	bo.Multiplier = 2

	var result [][]float32
	operation := func() error {
		vecs, err := s.provider.Embed(ctx, s.cfg.ModelID, texts)
		if err != nil {
			if errors.Is(err, embedding.ErrUnavailable) || errors.Is(err, embedding.ErrTimeout) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		if dim := s.provider.Dimension(s.cfg.ModelID); dim > 0 {
			for _, v := range vecs {
				if len(v) != dim {
					return backoff.Permanent(embedding.ErrDimensionMismatch)
				}
			}
		}
		result = vecs
		return nil
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), 3))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func toSet(positions []int) map[int]struct{} {
	if len(positions) == 0 {
		return nil
	}
	set := make(map[int]struct{}, len(positions))
	for _, p := range positions {
		set[p] = struct{}{}
	}
	return set
}
