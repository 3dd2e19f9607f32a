package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/repository"
)

// Locker serialises runs against the ledger.
type Locker interface {
	Lock(ctx context.Context) (release func(context.Context) error, err error)
}

// NoopLocker never blocks. It is used for dry runs.
type NoopLocker struct{}

func (NoopLocker) Lock(ctx context.Context) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// Refresher rebuilds or extends the ledger.
type Refresher interface {
	Run(ctx context.Context) (domain.RunReport, error)
}

// Classifier labels pending rows.
type Classifier interface {
	Run(ctx context.Context) (domain.ClassificationReport, error)
}

// Unifier enforces per-provider consistency.
type Unifier interface {
	Run(ctx context.Context) (domain.ConsistencyReport, error)
}

// Invalidator drops cached read responses once a run changed the ledger.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// ClassificationOutcome is the result of one classification run.
type ClassificationOutcome struct {
	RunID          uuid.UUID                   `json:"run_id"`
	Classification domain.ClassificationReport `json:"classification"`
	Consistency    *domain.ConsistencyReport   `json:"consistency,omitempty"`
}

// Pipeline runs refresh and classification under one run lock.
type Pipeline struct {
	locker     Locker
	refresher  Refresher
	classifier Classifier
	unifier    Unifier
	runLog     repository.RunLogRepository
	cache      Invalidator
	log        zerolog.Logger
	now        func() time.Time
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLocker sets the run lock.
func WithLocker(locker Locker) Option {
	return func(p *Pipeline) {
		if locker != nil {
			p.locker = locker
		}
	}
}

// WithRefresher sets the refresh step.
func WithRefresher(r Refresher) Option {
	return func(p *Pipeline) { p.refresher = r }
}

// WithClassifier sets the classification step.
func WithClassifier(c Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithUnifier sets the consistency step.
func WithUnifier(u Unifier) Option {
	return func(p *Pipeline) { p.unifier = u }
}

// WithRunLog records classification runs in repo. Refresh runs are recorded
// by the loader itself.
func WithRunLog(repo repository.RunLogRepository) Option {
	return func(p *Pipeline) { p.runLog = repo }
}

// WithCache invalidates cache after every run that changed the ledger.
func WithCache(cache Invalidator) Option {
	return func(p *Pipeline) { p.cache = cache }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a pipeline.
func New(log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		locker: NoopLocker{},
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Refresh runs the loader while holding the run lock.
func (p *Pipeline) Refresh(ctx context.Context) (domain.RunReport, error) {
	var report domain.RunReport
	err := p.locked(ctx, func(ctx context.Context) error {
		var err error
		report, err = p.refresh(ctx)
		return err
	})
	return report, err
}

// Classify runs batch classification, then consistency enforcement unless
// skipConsistency is set.
func (p *Pipeline) Classify(ctx context.Context, skipConsistency bool) (ClassificationOutcome, error) {
	var outcome ClassificationOutcome
	err := p.locked(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = p.classify(ctx, skipConsistency)
		return err
	})
	return outcome, err
}

// RefreshAndClassify refreshes and, when the refresh published, classifies
// the new ledger in the same lock.
func (p *Pipeline) RefreshAndClassify(ctx context.Context, skipConsistency bool) (domain.RunReport, ClassificationOutcome, error) {
	var (
		report  domain.RunReport
		outcome ClassificationOutcome
	)
	err := p.locked(ctx, func(ctx context.Context) error {
		var err error
		report, err = p.refresh(ctx)
		if err != nil {
			return err
		}
		outcome, err = p.classify(ctx, skipConsistency)
		return err
	})
	return report, outcome, err
}

func (p *Pipeline) locked(ctx context.Context, fn func(context.Context) error) error {
	release, err := p.locker.Lock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// The lock must be released even when ctx was cancelled.
		if err := release(context.WithoutCancel(ctx)); err != nil {
			p.log.Warn().Err(err).Msg("failed to release run lock")
		}
	}()
	return fn(ctx)
}

func (p *Pipeline) refresh(ctx context.Context) (domain.RunReport, error) {
	if p.refresher == nil {
		return domain.RunReport{}, errors.New("refresh is not configured")
	}
	report, err := p.refresher.Run(ctx)
	if err == nil {
		p.invalidate(ctx)
	}
	return report, err
}

func (p *Pipeline) invalidate(ctx context.Context) {
	if p.cache != nil {
		p.cache.Invalidate(context.WithoutCancel(ctx))
	}
}

func (p *Pipeline) classify(ctx context.Context, skipConsistency bool) (ClassificationOutcome, error) {
	if p.classifier == nil {
		return ClassificationOutcome{}, errors.New("classification is not configured")
	}

	outcome := ClassificationOutcome{RunID: uuid.New()}
	run := domain.JobRun{
		ID:        outcome.RunID,
		Job:       domain.JobClassification,
		StartedAt: p.now(),
	}
	log := p.log.With().Str("run_id", outcome.RunID.String()).Logger()

	// Missing models only stop labelling. Provider consistency still runs on
	// whatever is already classified.
	var degraded error
	err := func() error {
		report, err := p.classifier.Run(ctx)
		outcome.Classification = report
		run.RowsAffected += report.Classified
		run.RowsFailed += report.FailedRows
		switch {
		case errors.Is(err, domain.ErrModelsUnavailable):
			degraded = fmt.Errorf("classification failed: %w", err)
			log.Warn().Err(err).Msg("classifier degraded, enforcing consistency only")
		case err != nil:
			return fmt.Errorf("classification failed: %w", err)
		}

		if skipConsistency || p.unifier == nil {
			return degraded
		}
		consistency, err := p.unifier.Run(ctx)
		outcome.Consistency = &consistency
		run.RowsAffected += consistency.RowsUpdated
		if err != nil {
			return errors.Join(degraded, fmt.Errorf("consistency enforcement failed: %w", err))
		}
		return degraded
	}()

	run.FinishedAt = p.now()
	switch {
	case err != nil && (err != degraded || outcome.Consistency == nil):
		run.Status = domain.RunFailed
		run.ErrorMessage = err.Error()
	case err != nil:
		run.Status = domain.RunPartial
		run.ErrorMessage = err.Error()
	case outcome.Classification.FailedChunks > 0 || (outcome.Consistency != nil && outcome.Consistency.FailedChunks > 0):
		run.Status = domain.RunPartial
	default:
		run.Status = domain.RunSucceeded
	}

	if run.RowsAffected > 0 {
		p.invalidate(ctx)
	}
	if p.runLog != nil {
		if recErr := p.runLog.Record(context.WithoutCancel(ctx), run); recErr != nil {
			log.Warn().Err(recErr).Msg("failed to record classification run")
		}
	}
	return outcome, err
}
