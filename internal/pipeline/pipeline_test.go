package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/repository/memstore"
)

type stubLocker struct {
	held     bool
	acquired int
	released int
}

var _ Locker = (*stubLocker)(nil)

func (s *stubLocker) Lock(ctx context.Context) (func(context.Context) error, error) {
	if s.held {
		return nil, domain.ErrRunInProgress
	}
	s.held = true
	s.acquired++
	return func(context.Context) error {
		s.held = false
		s.released++
		return nil
	}, nil
}

type stubRefresher struct {
	err   error
	calls int
}

func (s *stubRefresher) Run(ctx context.Context) (domain.RunReport, error) {
	s.calls++
	return domain.RunReport{Strategy: "full_rebuild"}, s.err
}

type stubClassifier struct {
	report domain.ClassificationReport
	err    error
	calls  int
}

func (s *stubClassifier) Run(ctx context.Context) (domain.ClassificationReport, error) {
	s.calls++
	return s.report, s.err
}

type stubUnifier struct {
	report domain.ConsistencyReport
	calls  int
}

func (s *stubUnifier) Run(ctx context.Context) (domain.ConsistencyReport, error) {
	s.calls++
	return s.report, nil
}

var (
	_ Refresher  = (*stubRefresher)(nil)
	_ Classifier = (*stubClassifier)(nil)
	_ Unifier    = (*stubUnifier)(nil)
)

func TestClassifyRecordsRun(t *testing.T) {
	store := memstore.New()
	locker := &stubLocker{}
	classifier := &stubClassifier{report: domain.ClassificationReport{Pending: 10, Classified: 8, FailedRows: 2, FailedChunks: 1}}
	unifier := &stubUnifier{report: domain.ConsistencyReport{Providers: 3, RowsUpdated: 4}}

	p := New(zerolog.Nop(), WithLocker(locker), WithClassifier(classifier), WithUnifier(unifier), WithRunLog(store))
	outcome, err := p.Classify(context.Background(), false)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if outcome.Consistency == nil || outcome.Consistency.RowsUpdated != 4 {
		t.Fatalf("expected consistency report, got %+v", outcome)
	}
	if locker.acquired != 1 || locker.released != 1 {
		t.Fatalf("expected lock to be taken and released once, got %d/%d", locker.acquired, locker.released)
	}

	runs, err := store.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(runs))
	}
	run := runs[0]
	if run.Job != domain.JobClassification || run.Status != domain.RunPartial || run.RowsAffected != 12 || run.RowsFailed != 2 {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.ID != outcome.RunID {
		t.Fatalf("run id mismatch")
	}
}

func TestClassifySkipsConsistency(t *testing.T) {
	unifier := &stubUnifier{}
	p := New(zerolog.Nop(), WithClassifier(&stubClassifier{}), WithUnifier(unifier))
	outcome, err := p.Classify(context.Background(), true)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if unifier.calls != 0 || outcome.Consistency != nil {
		t.Fatalf("consistency should have been skipped")
	}
}

func TestClassifyFailureIsRecorded(t *testing.T) {
	store := memstore.New()
	unifier := &stubUnifier{}
	p := New(zerolog.Nop(),
		WithClassifier(&stubClassifier{err: domain.ErrDestinationUnavailable}),
		WithUnifier(unifier),
		WithRunLog(store),
	)
	_, err := p.Classify(context.Background(), false)
	if !errors.Is(err, domain.ErrDestinationUnavailable) {
		t.Fatalf("expected ErrDestinationUnavailable, got %v", err)
	}
	if unifier.calls != 0 {
		t.Fatalf("consistency must not run after a failed classification")
	}
	runs, _ := store.List(context.Background(), 10, 0)
	if len(runs) != 1 || runs[0].Status != domain.RunFailed || runs[0].ErrorMessage == "" {
		t.Fatalf("expected failed run to be recorded, got %+v", runs)
	}
}

func TestClassifyWithoutModelsStillEnforcesConsistency(t *testing.T) {
	store := memstore.New()
	unifier := &stubUnifier{report: domain.ConsistencyReport{Providers: 1, RowsUpdated: 1}}
	p := New(zerolog.Nop(),
		WithClassifier(&stubClassifier{err: domain.ErrModelsUnavailable}),
		WithUnifier(unifier),
		WithRunLog(store),
	)
	outcome, err := p.Classify(context.Background(), false)
	if !errors.Is(err, domain.ErrModelsUnavailable) {
		t.Fatalf("expected ErrModelsUnavailable, got %v", err)
	}
	if unifier.calls != 1 || outcome.Consistency == nil || outcome.Consistency.RowsUpdated != 1 {
		t.Fatalf("expected consistency to run, got calls=%d outcome=%+v", unifier.calls, outcome)
	}
	runs, _ := store.List(context.Background(), 10, 0)
	if len(runs) != 1 || runs[0].Status != domain.RunPartial || runs[0].RowsAffected != 1 || runs[0].ErrorMessage == "" {
		t.Fatalf("expected partial run with the models error, got %+v", runs)
	}
}

func TestClassifyWithoutModelsAndSkippedConsistencyFails(t *testing.T) {
	store := memstore.New()
	unifier := &stubUnifier{}
	p := New(zerolog.Nop(),
		WithClassifier(&stubClassifier{err: domain.ErrModelsUnavailable}),
		WithUnifier(unifier),
		WithRunLog(store),
	)
	if _, err := p.Classify(context.Background(), true); !errors.Is(err, domain.ErrModelsUnavailable) {
		t.Fatalf("expected ErrModelsUnavailable, got %v", err)
	}
	if unifier.calls != 0 {
		t.Fatalf("consistency was skipped explicitly")
	}
	runs, _ := store.List(context.Background(), 10, 0)
	if len(runs) != 1 || runs[0].Status != domain.RunFailed {
		t.Fatalf("expected failed run, got %+v", runs)
	}
}

func TestConcurrentRunIsRejected(t *testing.T) {
	locker := &stubLocker{held: true}
	refresher := &stubRefresher{}
	p := New(zerolog.Nop(), WithLocker(locker), WithRefresher(refresher))

	if _, err := p.Refresh(context.Background()); !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if refresher.calls != 0 {
		t.Fatalf("refresh must not run without the lock")
	}
}

func TestRefreshAndClassifyStopsOnRefreshFailure(t *testing.T) {
	locker := &stubLocker{}
	refresher := &stubRefresher{err: domain.ErrDestinationUnavailable}
	classifier := &stubClassifier{}
	p := New(zerolog.Nop(), WithLocker(locker), WithRefresher(refresher), WithClassifier(classifier))

	_, _, err := p.RefreshAndClassify(context.Background(), false)
	if !errors.Is(err, domain.ErrDestinationUnavailable) {
		t.Fatalf("expected ErrDestinationUnavailable, got %v", err)
	}
	if classifier.calls != 0 {
		t.Fatalf("classification must not run after a failed refresh")
	}
	if locker.acquired != 1 || locker.released != 1 || locker.held {
		t.Fatalf("lock not released after failure")
	}
}

func TestRefreshAndClassifyHoldsOneLock(t *testing.T) {
	locker := &stubLocker{}
	refresher := &stubRefresher{}
	classifier := &stubClassifier{}
	p := New(zerolog.Nop(), WithLocker(locker), WithRefresher(refresher), WithClassifier(classifier))

	if _, _, err := p.RefreshAndClassify(context.Background(), true); err != nil {
		t.Fatalf("RefreshAndClassify returned error: %v", err)
	}
	if refresher.calls != 1 || classifier.calls != 1 || locker.acquired != 1 {
		t.Fatalf("unexpected calls refresh=%d classify=%d locks=%d", refresher.calls, classifier.calls, locker.acquired)
	}
}

type countingCache struct {
	invalidated int
}

func (c *countingCache) Invalidate(ctx context.Context) { c.invalidated++ }

var _ Invalidator = (*countingCache)(nil)

func TestRunsInvalidateCacheWhenLedgerChanges(t *testing.T) {
	cache := &countingCache{}
	classifier := &stubClassifier{report: domain.ClassificationReport{Pending: 2, Classified: 2}}
	p := New(zerolog.Nop(), WithRefresher(&stubRefresher{}), WithClassifier(classifier), WithCache(cache))

	if _, _, err := p.RefreshAndClassify(context.Background(), true); err != nil {
		t.Fatalf("RefreshAndClassify returned error: %v", err)
	}
	if cache.invalidated != 2 {
		t.Fatalf("expected refresh and classification to invalidate, got %d", cache.invalidated)
	}

	classifier.report = domain.ClassificationReport{}
	if _, err := p.Classify(context.Background(), true); err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if cache.invalidated != 2 {
		t.Fatalf("a run without changes must keep the cache, got %d", cache.invalidated)
	}
}

func TestFailedRefreshKeepsCache(t *testing.T) {
	cache := &countingCache{}
	p := New(zerolog.Nop(), WithRefresher(&stubRefresher{err: domain.ErrDestinationUnavailable}), WithCache(cache))
	if _, err := p.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if cache.invalidated != 0 {
		t.Fatalf("failed refresh must not invalidate, got %d", cache.invalidated)
	}
}
