package store

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"warthog/internal/config"
	"warthog/internal/correlate"
	"warthog/internal/logging"
	"warthog/internal/services"
)

const (
	defaultPageSize      = 256
	defaultBloomCapacity = 100000
	defaultBloomFPRate   = 0.001
)

// Outcome describes what Put did with a record.
type Outcome int

const (
	// Inserted means the record was new and is now stored.
	Inserted Outcome = iota + 1
	// Skipped means a record with the same id already existed and was kept.
	Skipped
	// Replaced means an existing record was overwritten.
	Replaced
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Skipped:
		return "skipped"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// PutResult reports the outcome of a Put. ExistingID is set when the id was
// already present.
type PutResult struct {
	Outcome    Outcome
	ExistingID string
}

type row struct {
	id           string
	timestamp    int64
	mapKey       string
	battleRating float64
	gameMode     string
	release      string
	source       string
	payload      []byte
}

type storedRow struct {
	id        string
	timestamp int64
	payload   []byte
}

type cursor struct {
	timestamp int64
	id        string
}

type backend interface {
	insert(ctx context.Context, r row) (bool, error)
	upsert(ctx context.Context, r row) (bool, error)
	exists(ctx context.Context, id string) (bool, error)
	get(ctx context.Context, id string) ([]byte, bool, error)
	count(ctx context.Context) (int, error)
	page(ctx context.Context, after *cursor, limit int) ([]storedRow, error)
	eachID(ctx context.Context, fn func(id string)) error
	ping(ctx context.Context) error
	close() error
}

// Store is the deduplicating match record store.
type Store struct {
	backend   backend
	driver    string
	overwrite bool
	pageSize  int
	logger    *slog.Logger

	bloomCapacity uint
	bloomFPRate   float64

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// Option customizes a Store.
type Option func(*Store)

// WithOverwrite makes Put replace existing records instead of skipping them.
func WithOverwrite(overwrite bool) Option {
	return func(s *Store) { s.overwrite = overwrite }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPageSize sets how many rows ListAll reads per query.
func WithPageSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithBloom sizes the seen-id prefilter.
func WithBloom(capacity uint, fpRate float64) Option {
	return func(s *Store) {
		if capacity > 0 {
			s.bloomCapacity = capacity
		}
		if fpRate > 0 && fpRate < 1 {
			s.bloomFPRate = fpRate
		}
	}
}

// Open connects to the backend named by cfg.Store.Driver. Options are applied
// after the config-derived ones.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "store", "open", "config is required", nil)
	}
	base := []Option{
		WithOverwrite(cfg.Ingest.OverwriteExisting),
		WithBloom(cfg.Store.BloomCapacity, cfg.Store.BloomFPRate),
	}
	opts = append(base, opts...)

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		return OpenPostgres(ctx, cfg.Store.DSN, opts...)
	case config.StoreDriverSQLite, "":
		path := strings.TrimSpace(cfg.Store.DSN)
		if path == "" {
			path = cfg.DatabasePath()
		}
		return OpenSQLite(ctx, path, opts...)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "store", "open",
			fmt.Sprintf("unsupported driver %q", cfg.Store.Driver), nil)
	}
}

// OpenSQLite opens or creates a SQLite store at path.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*Store, error) {
	b, err := openSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return newStore(ctx, b, config.StoreDriverSQLite, opts...)
}

// OpenPostgres connects to a PostgreSQL store.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	b, err := openPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return newStore(ctx, b, config.StoreDriverPostgres, opts...)
}

func newStore(ctx context.Context, b backend, driver string, opts ...Option) (*Store, error) {
	s := &Store{
		backend:       b,
		driver:        driver,
		pageSize:      defaultPageSize,
		logger:        logging.NewNop(),
		bloomCapacity: defaultBloomCapacity,
		bloomFPRate:   defaultBloomFPRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "store")
	s.seen = bloom.NewWithEstimates(s.bloomCapacity, s.bloomFPRate)

	warmed := 0
	if err := b.eachID(ctx, func(id string) {
		s.seen.AddString(id)
		warmed++
	}); err != nil {
		_ = b.close()
		return nil, fmt.Errorf("warm seen-id filter: %w", err)
	}
	s.logger.Debug("store opened",
		logging.String("driver", driver),
		logging.Int("existing_records", warmed),
		logging.Bool("overwrite", s.overwrite),
	)
	return s, nil
}

// Driver returns the backend name.
func (s *Store) Driver() string {
	return s.driver
}

// Overwrite reports whether Put replaces existing records.
func (s *Store) Overwrite() bool {
	return s.overwrite
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.close()
}

// Put stores rec unless its id is already present. With overwrite enabled it
// upserts. Safe for concurrent use.
func (s *Store) Put(ctx context.Context, rec correlate.MatchRecord) (PutResult, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return PutResult{}, services.Wrap(services.ErrValidation, "store", "put", "match id is empty", nil)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return PutResult{}, fmt.Errorf("encode match %s: %w", id, err)
	}
	r := row{
		id:           id,
		timestamp:    rec.Timestamp,
		mapKey:       rec.Map,
		battleRating: rec.BattleRating,
		gameMode:     string(rec.GameMode),
		release:      rec.CatalogRelease,
		source:       string(rec.Source),
		payload:      payload,
	}

	if s.overwrite {
		replaced, err := s.backend.upsert(ctx, r)
		if err != nil {
			return PutResult{}, fmt.Errorf("upsert match %s: %w", id, err)
		}
		s.remember(id)
		if replaced {
			return PutResult{Outcome: Replaced, ExistingID: id}, nil
		}
		return PutResult{Outcome: Inserted}, nil
	}

	if s.maybeSeen(id) {
		found, err := s.backend.exists(ctx, id)
		if err != nil {
			return PutResult{}, fmt.Errorf("lookup match %s: %w", id, err)
		}
		if found {
			return PutResult{Outcome: Skipped, ExistingID: id}, nil
		}
	}

	inserted, err := s.backend.insert(ctx, r)
	if err != nil {
		return PutResult{}, fmt.Errorf("insert match %s: %w", id, err)
	}
	s.remember(id)
	if !inserted {
		return PutResult{Outcome: Skipped, ExistingID: id}, nil
	}
	return PutResult{Outcome: Inserted}, nil
}

func (s *Store) maybeSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.TestString(id)
}

func (s *Store) remember(id string) {
	s.mu.Lock()
	s.seen.AddString(id)
	s.mu.Unlock()
}

// Get fetches a record by id.
func (s *Store) Get(ctx context.Context, id string) (correlate.MatchRecord, bool, error) {
	payload, found, err := s.backend.get(ctx, strings.TrimSpace(id))
	if err != nil || !found {
		return correlate.MatchRecord{}, false, err
	}
	var rec correlate.MatchRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return correlate.MatchRecord{}, false, fmt.Errorf("decode match %s: %w", id, err)
	}
	return rec, true, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.backend.count(ctx)
}

// ListAll yields every record ordered by timestamp, then id. Records are
// read page by page, and each range over the sequence starts a fresh scan.
func (s *Store) ListAll(ctx context.Context) iter.Seq2[correlate.MatchRecord, error] {
	return func(yield func(correlate.MatchRecord, error) bool) {
		var after *cursor
		for {
			rows, err := s.backend.page(ctx, after, s.pageSize)
			if err != nil {
				yield(correlate.MatchRecord{}, fmt.Errorf("list matches: %w", err))
				return
			}
			for _, r := range rows {
				var rec correlate.MatchRecord
				if err := json.Unmarshal(r.payload, &rec); err != nil {
					if !yield(correlate.MatchRecord{}, fmt.Errorf("decode match %s: %w", r.id, err)) {
						return
					}
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}
			if len(rows) < s.pageSize {
				return
			}
			last := rows[len(rows)-1]
			after = &cursor{timestamp: last.timestamp, id: last.id}
		}
	}
}

// HealthStatus summarizes store connectivity.
type HealthStatus struct {
	Driver  string
	Records int
	Latency time.Duration
}

// CheckHealth pings the backend and counts records.
func (s *Store) CheckHealth(ctx context.Context) (HealthStatus, error) {
	status := HealthStatus{Driver: s.driver}
	start := time.Now()
	if err := s.backend.ping(ctx); err != nil {
		return status, services.Wrap(services.ErrTransient, "store", "health", "ping failed", err)
	}
	count, err := s.backend.count(ctx)
	if err != nil {
		return status, services.Wrap(services.ErrTransient, "store", "health", "count failed", err)
	}
	status.Records = count
	status.Latency = time.Since(start)
	return status, nil
}
