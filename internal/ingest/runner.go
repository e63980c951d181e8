package ingest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"warthog/internal/capture"
	"warthog/internal/catalog"
	"warthog/internal/config"
	"warthog/internal/correlate"
	"warthog/internal/logging"
	"warthog/internal/services"
	"warthog/internal/store"
)

// ErrRunInProgress is returned when another run holds the ingest lock.
var ErrRunInProgress = errors.New("ingest run already in progress")

// Recorder is the store surface the runner needs.
type Recorder interface {
	Put(ctx context.Context, rec correlate.MatchRecord) (store.PutResult, error)
	Get(ctx context.Context, id string) (correlate.MatchRecord, bool, error)
	ListAll(ctx context.Context) iter.Seq2[correlate.MatchRecord, error]
}

// Corpus receives stored records.
type Corpus interface {
	Write(ctx context.Context, rec correlate.MatchRecord) error
	Has(ctx context.Context, id string) (bool, error)
	Export(ctx context.Context, records iter.Seq2[correlate.MatchRecord, error]) (int, error)
	Layout() string
}

// Deps bundles the collaborators a Runner drives.
type Deps struct {
	Normalizer *capture.Normalizer
	Correlator *correlate.Correlator
	Store      Recorder
	Corpus     Corpus
	Logger     *slog.Logger
}

// Runner executes ingest runs.
type Runner struct {
	normalizer *capture.Normalizer
	correlator *correlate.Correlator
	store      Recorder
	corpus     Corpus
	workers    int
	lockPath   string
	logger     *slog.Logger
}

// NewRunner validates deps and applies the ingest config.
func NewRunner(cfg *config.Config, deps Deps) (*Runner, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "ingest", "init", "config is required", nil)
	}
	if deps.Normalizer == nil || deps.Correlator == nil || deps.Store == nil || deps.Corpus == nil {
		return nil, services.Wrap(services.ErrConfiguration, "ingest", "init", "normalizer, correlator, store, and corpus are required", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		normalizer: deps.Normalizer,
		correlator: deps.Correlator,
		store:      deps.Store,
		corpus:     deps.Corpus,
		workers:    max(cfg.Ingest.Workers, 1),
		lockPath:   cfg.LockPath(),
		logger:     logging.NewComponentLogger(logger, "ingest"),
	}, nil
}

// Run processes every capture in src once. The returned error is non-nil
// only for lock, discovery, store, or corpus failures; the report is still
// populated with whatever was processed before that.
//
// Captures are prepared in parallel but committed one at a time in commit
// order, so the outcome does not depend on the worker count.
func (r *Runner) Run(ctx context.Context, src Sources) (Report, error) {
	lock := flock.New(r.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return Report{}, fmt.Errorf("acquire ingest lock %s: %w", r.lockPath, err)
	}
	if !locked {
		return Report{}, fmt.Errorf("%w: lock %s is held", ErrRunInProgress, r.lockPath)
	}
	defer func() { _ = lock.Unlock() }()

	report := Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	ctx = services.WithRunID(ctx, report.RunID)
	logger := logging.WithContext(ctx, r.logger)

	paths, err := Discover(src)
	if err != nil {
		return report, services.Wrap(services.ErrValidation, "ingest", "discover", "scan capture sources", err)
	}
	paths = commitOrder(paths)
	report.Discovered = len(paths)
	logger.Info("ingest started",
		logging.Int("captures", len(paths)),
		logging.Int("workers", r.workers),
		logging.String("replay_dir", src.ReplayDir),
		logging.String("scrape_dir", src.ScrapeDir),
	)

	slots := make([]chan prepared, len(paths))
	for i := range slots {
		slots[i] = make(chan prepared, 1)
	}
	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()
	group, gctx := errgroup.WithContext(workCtx)
	group.SetLimit(r.workers)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for i, path := range paths {
			group.Go(func() error {
				p, err := r.prepare(gctx, path)
				if err != nil {
					return err
				}
				slots[i] <- p
				return nil
			})
		}
	}()

	t := &tally{report: &report}
	c := &committer{runner: r, tally: t, committed: make(map[string]struct{})}
	var commitErr error
commit:
	for _, slot := range slots {
		select {
		case p := <-slot:
			if commitErr = c.commit(ctx, p); commitErr != nil {
				stopWork()
				break commit
			}
		case <-gctx.Done():
			break commit
		}
	}
	<-dispatched
	workErr := group.Wait()
	runErr := commitErr
	if runErr == nil {
		runErr = workErr
	}

	if runErr == nil && c.compact {
		if _, err := r.corpus.Export(ctx, r.store.ListAll(ctx)); err != nil {
			runErr = fmt.Errorf("rewrite corpus: %w", err)
		}
	}

	slices.SortFunc(report.Skipped, func(a, b SkippedItem) int {
		return cmp.Compare(a.Path, b.Path)
	})
	slices.SortStableFunc(report.PlayerIssues, func(a, b PlayerIssue) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.PlayerID, b.PlayerID))
	})
	report.FinishedAt = time.Now().UTC()

	attrs := []logging.Attr{
		logging.Int("discovered", report.Discovered),
		logging.Int("inserted", report.Inserted),
		logging.Int("replaced", report.Replaced),
		logging.Int("restored", report.Restored),
		logging.Int("skipped_duplicates", report.Duplicates),
		logging.Int("malformed", report.Malformed),
		logging.Int("no_catalog", report.NoCatalog),
		logging.Int("correlation_failures", report.CorrelationFailures),
		logging.Int("dropped_players", report.DroppedPlayers),
		logging.Int("unresolved_vehicles", report.UnresolvedVehicles),
		logging.Duration("duration", report.Duration()),
	}
	if runErr != nil {
		logging.ErrorWithContext(logger, "ingest aborted", "ingest_aborted",
			append(attrs,
				logging.Error(runErr),
				logging.String(logging.FieldErrorHint, "check corpus dir permissions and store connectivity, then re-run; completed records are kept"),
			)...,
		)
		return report, runErr
	}
	logger.Info("ingest finished", logging.Args(attrs...)...)
	return report, nil
}

// commitOrder puts binary replays ahead of scrapes, each group in path
// order. When both sources carry the same match the replay record is the one
// stored, and in overwrite mode the one rewritten.
func commitOrder(paths []string) []string {
	rank := func(path string) int {
		if slices.Contains(replayExts, strings.ToLower(filepath.Ext(path))) {
			return 0
		}
		return 1
	}
	ordered := slices.Clone(paths)
	slices.SortStableFunc(ordered, func(a, b string) int {
		return cmp.Compare(rank(a), rank(b))
	})
	return ordered
}

// prepared is one capture after the parallel stages: either a skip or a
// correlated result waiting to be committed.
type prepared struct {
	path   string
	skip   *SkippedItem
	result correlate.Result
}

// prepare loads, normalizes, and correlates one capture. Only cancellation
// is returned as an error; per-capture problems become skips.
func (r *Runner) prepare(ctx context.Context, path string) (prepared, error) {
	if err := ctx.Err(); err != nil {
		return prepared{}, err
	}
	ctx = services.WithCapturePath(ctx, path)
	skipped := func(item SkippedItem) (prepared, error) {
		item.Path = path
		return prepared{path: path, skip: &item}, nil
	}

	c, err := capture.Load(path)
	if err != nil {
		kind := SkipUnreadable
		if errors.Is(err, capture.ErrMalformedCapture) {
			kind = SkipMalformed
		}
		return skipped(SkippedItem{Kind: kind, Reason: err.Error()})
	}

	match, err := r.normalizer.Normalize(services.WithStage(ctx, "normalize"), c)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return prepared{}, ctxErr
		}
		kind := SkipMalformed
		if errors.Is(err, catalog.ErrNoCatalogAvailable) {
			kind = SkipNoCatalog
		}
		return skipped(SkippedItem{Kind: kind, Reason: err.Error()})
	}

	result, err := r.correlator.Correlate(services.WithStage(ctx, "correlate"), match)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return prepared{}, ctxErr
		}
		item := SkippedItem{Kind: SkipCorrelation, Reason: err.Error()}
		if errors.Is(err, catalog.ErrNoCatalogAvailable) {
			item.Kind = SkipNoCatalog
		}
		var corrErr *correlate.CorrelationError
		if errors.As(err, &corrErr) {
			item.MatchID = corrErr.MatchID
		}
		return skipped(item)
	}
	return prepared{path: path, result: result}, nil
}

// committer applies prepared captures to the store and corpus. It runs on a
// single goroutine and writes each match id at most once per run.
type committer struct {
	runner    *Runner
	tally     *tally
	committed map[string]struct{}
	compact   bool
}

func (c *committer) commit(ctx context.Context, p prepared) error {
	r := c.runner
	ctx = services.WithCapturePath(ctx, p.path)
	logger := logging.WithContext(ctx, r.logger)
	if p.skip != nil {
		r.skip(logger, c.tally, *p.skip)
		return nil
	}

	rec := p.result.Record
	logger = logger.With(logging.String(logging.FieldMatchID, rec.ID))
	c.tally.players(p.path, rec.ID, p.result.Skipped)

	if _, done := c.committed[rec.ID]; done {
		c.tally.skip(SkippedItem{Path: p.path, Kind: SkipDuplicate, Reason: "match already stored this run", MatchID: rec.ID})
		logger.Debug("match already committed this run")
		return nil
	}

	put, err := r.store.Put(services.WithStage(ctx, "store"), rec)
	if err != nil {
		return fmt.Errorf("store %s: %w", p.path, err)
	}
	c.committed[rec.ID] = struct{}{}
	switch put.Outcome {
	case store.Skipped:
		c.committed[put.ExistingID] = struct{}{}
		c.tally.skip(SkippedItem{Path: p.path, Kind: SkipDuplicate, Reason: "match already stored", MatchID: put.ExistingID})
		logger.Debug("duplicate match skipped")
		return c.restore(ctx, logger, put.ExistingID)
	case store.Replaced:
		c.tally.stored(true)
		if r.corpus.Layout() == config.CorpusLayoutJSONL {
			c.compact = true
			logger.Debug("match replaced; corpus rewrite scheduled")
			return nil
		}
	default:
		c.tally.stored(false)
	}

	if err := r.corpus.Write(services.WithStage(ctx, "corpus"), rec); err != nil {
		return fmt.Errorf("write corpus for %s: %w", p.path, err)
	}
	logger.Debug("match stored",
		logging.String("outcome", put.Outcome.String()),
		logging.Int("players", len(rec.Players)),
		logging.String(logging.FieldRelease, rec.CatalogRelease),
	)
	return nil
}

// restore puts a stored record back into the corpus when an earlier run
// stopped between the store commit and the corpus write.
func (c *committer) restore(ctx context.Context, logger *slog.Logger, id string) error {
	r := c.runner
	ctx = services.WithStage(ctx, "corpus")
	present, err := r.corpus.Has(ctx, id)
	if err != nil {
		return fmt.Errorf("check corpus for %s: %w", id, err)
	}
	if present {
		return nil
	}
	rec, found, err := r.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load stored match %s: %w", id, err)
	}
	if !found {
		return nil
	}
	c.tally.restored()
	if r.corpus.Layout() == config.CorpusLayoutJSONL {
		c.compact = true
		logger.Info("stored match missing from corpus; rewrite scheduled")
		return nil
	}
	if err := r.corpus.Write(ctx, rec); err != nil {
		return fmt.Errorf("restore corpus record %s: %w", id, err)
	}
	logger.Info("stored match restored to corpus")
	return nil
}

func (r *Runner) skip(logger *slog.Logger, t *tally, item SkippedItem) {
	t.skip(item)
	logging.WarnWithContext(logger, "capture skipped", "capture_skipped",
		logging.String("kind", string(item.Kind)),
		logging.String("reason", item.Reason),
		logging.String(logging.FieldImpact, "capture contributes no record this run"),
	)
}
