package consistency

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/repository"
)

const defaultChunkSize = 5000

// ComputeModes picks, per provider, the most frequent grupo and subgrupo.
// Ties go to the smallest label. Results are ordered by provider.
func ComputeModes(counts []domain.LabelCount) []domain.ProviderMode {
	type tally map[string]int64
	grupos := map[string]tally{}
	subgrupos := map[string]tally{}

	for _, c := range counts {
		if c.Provider == "" || c.Provider == domain.SentinelProviderID || c.Label == "" || c.Count <= 0 {
			continue
		}
		target := grupos
		if c.Field == domain.FieldSubgrupo {
			target = subgrupos
		} else if c.Field != domain.FieldGrupo {
			continue
		}
		if target[c.Provider] == nil {
			target[c.Provider] = tally{}
		}
		target[c.Provider][c.Label] += c.Count
	}

	providers := make([]string, 0, len(grupos))
	for provider := range grupos {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	modes := make([]domain.ProviderMode, 0, len(providers))
	for _, provider := range providers {
		mode := domain.ProviderMode{Provider: provider, Grupo: top(grupos[provider])}
		if labels, ok := subgrupos[provider]; ok {
			sub := top(labels)
			mode.Subgrupo = &sub
		}
		modes = append(modes, mode)
	}
	return modes
}

func top(labels map[string]int64) string {
	var (
		best  string
		count int64 = -1
	)
	for label, n := range labels {
		if n > count || (n == count && label < best) {
			best, count = label, n
		}
	}
	return best
}

// Enforcer makes every automatically classified row of a provider carry
// the provider's mode. Manual rows count toward the mode but are never
// rewritten.
type Enforcer struct {
	store     repository.ConsistencyStore
	chunkSize int
	log       zerolog.Logger
	now       func() time.Time
}

// Option customises an Enforcer.
type Option func(*Enforcer)

// WithChunkSize sets how many providers are rewritten per transaction.
func WithChunkSize(size int) Option {
	return func(e *Enforcer) {
		if size > 0 {
			e.chunkSize = size
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEnforcer creates an enforcer over store.
func NewEnforcer(store repository.ConsistencyStore, log zerolog.Logger, opts ...Option) *Enforcer {
	e := &Enforcer{
		store:     store,
		chunkSize: defaultChunkSize,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run computes the modes and applies them. Failed provider chunks are
// counted; the remaining chunks are still applied.
func (e *Enforcer) Run(ctx context.Context) (report domain.ConsistencyReport, err error) {
	started := e.now()
	defer func() {
		report.Duration = e.now().Sub(started)
	}()

	counts, err := e.store.ProviderLabelCounts(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %v", domain.ErrDestinationUnavailable, err)
	}
	modes := ComputeModes(counts)
	report.Providers = len(modes)

	for start := 0; start < len(modes); start += e.chunkSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := start + e.chunkSize
		if end > len(modes) {
			end = len(modes)
		}
		updated, err := e.store.ApplyProviderModes(ctx, modes[start:end])
		if err != nil {
			report.FailedChunks++
			e.log.Error().Err(err).Int("providers", end-start).Msg("consistency chunk failed")
			continue
		}
		report.RowsUpdated += updated
	}

	e.log.Info().
		Int("providers", report.Providers).
		Int64("rows_updated", report.RowsUpdated).
		Int("failed_chunks", report.FailedChunks).
		Msg("provider consistency enforced")
	return report, nil
}
