package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"warthog/internal/logging"
	"warthog/internal/services"
)

const (
	defaultFeedTimeout    = 30 * time.Second
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 8 * time.Second
	defaultRetryAttempts  = 4
	maxResponseBytes      = 64 << 20
)

// FeedConfig locates the datamine mirror and the API used to date releases.
type FeedConfig struct {
	BaseURL    string
	APIBaseURL string
	APIToken   string
	Timeout    time.Duration
}

// Feed downloads datamine files for a release and builds a snapshot from
// them. It implements Source.
type Feed struct {
	cfg        FeedConfig
	httpClient *http.Client
	index      *ReleaseIndex
	logger     *slog.Logger

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// FeedOption customizes the feed.
type FeedOption func(*Feed)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FeedOption {
	return func(f *Feed) {
		if client != nil {
			f.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default attempt count (defaults to 4).
func WithRetryMaxAttempts(attempts int) FeedOption {
	return func(f *Feed) {
		f.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) FeedOption {
	return func(f *Feed) {
		f.retryBaseDelay = baseDelay
		f.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) FeedOption {
	return func(f *Feed) {
		f.sleeper = sleeper
	}
}

// WithReleaseIndex supplies known release dates. Dates looked up from the API
// are written back to the index.
func WithReleaseIndex(index *ReleaseIndex) FeedOption {
	return func(f *Feed) {
		f.index = index
	}
}

// WithFeedLogger sets the logger used for per-release warnings.
func WithFeedLogger(logger *slog.Logger) FeedOption {
	return func(f *Feed) {
		f.logger = logger
	}
}

// NewFeed constructs a feed client.
func NewFeed(cfg FeedConfig, opts ...FeedOption) *Feed {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	feed := &Feed{
		cfg: FeedConfig{
			BaseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIBaseURL: strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"),
			APIToken:   strings.TrimSpace(cfg.APIToken),
			Timeout:    timeout,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(feed)
	}
	feed.logger = logging.NewComponentLogger(feed.logger, "catalog-feed")
	return feed
}

type httpStatusError struct {
	URL        string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("GET %s: http %d: %s", e.URL, e.StatusCode, body)
}

func isNotFound(err error) bool {
	var statusErr *httpStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// Fetch downloads the release's vehicle tables and builds its snapshot.
func (f *Feed) Fetch(ctx context.Context, release string) (*Snapshot, error) {
	release = strings.TrimSpace(release)
	if release == "" {
		return nil, errors.New("feed fetch: release required")
	}
	if f.cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "fetch", "feed base url not configured", nil)
	}
	logger := logging.WithContext(ctx, f.logger)

	effectiveFrom, err := f.ReleaseTime(ctx, release)
	if err != nil {
		return nil, err
	}

	var files DatamineFiles
	required := []struct {
		path string
		dst  *[]byte
	}{
		{"char.vromfs.bin_u/config/wpcost.blkx", &files.WPCost},
		{"char.vromfs.bin_u/config/unittags.blkx", &files.UnitTags},
	}
	for _, item := range required {
		data, err := f.get(ctx, f.fileURL(release, item.path), nil)
		if err != nil {
			return nil, err
		}
		*item.dst = data
	}
	optional := []struct {
		path string
		dst  *[]byte
	}{
		{"char.vromfs.bin_u/config/hangar.blkx", &files.Hangar},
		{"lang.vromfs.bin_u/lang/units.csv", &files.UnitsCSV},
	}
	for _, item := range optional {
		data, err := f.get(ctx, f.fileURL(release, item.path), nil)
		if err != nil {
			if isNotFound(err) {
				logger.Debug("optional datamine file missing", logging.String("file", item.path))
				continue
			}
			return nil, err
		}
		*item.dst = data
	}

	entries, warnings, err := ParseDatamine(files)
	if err != nil {
		return nil, fmt.Errorf("feed fetch %s: %w", release, err)
	}
	if len(warnings) > 0 {
		logger.Debug("datamine entries skipped",
			logging.Int("skipped", len(warnings)),
			logging.String("first", warnings[0]),
		)
	}
	return NewSnapshot(release, effectiveFrom, entries)
}

// ReleaseTime resolves when a release took effect, consulting the index
// first and the commit API second.
func (f *Feed) ReleaseTime(ctx context.Context, release string) (time.Time, error) {
	if f.index != nil {
		if at, ok := f.index.Get(release); ok {
			return at, nil
		}
	}
	if f.cfg.APIBaseURL == "" {
		return time.Time{}, fmt.Errorf("release %s: not in release index and no api base url configured", release)
	}
	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if f.cfg.APIToken != "" {
		headers["Authorization"] = "Bearer " + f.cfg.APIToken
	}
	body, err := f.get(ctx, f.cfg.APIBaseURL+"/commits/"+url.PathEscape(release), headers)
	if err != nil {
		return time.Time{}, err
	}
	var commit struct {
		Commit struct {
			Committer struct {
				Date string `json:"date"`
			} `json:"committer"`
		} `json:"commit"`
	}
	if err := json.Unmarshal(body, &commit); err != nil {
		return time.Time{}, fmt.Errorf("release %s: decode commit: %w", release, err)
	}
	at, err := parseReleaseTime(commit.Commit.Committer.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("release %s: %w", release, err)
	}
	if f.index != nil {
		f.index.Set(release, at)
		if err := f.index.Save(); err != nil {
			logging.WarnWithContext(f.logger, "release index not saved", "release_index_write_failed",
				logging.String(logging.FieldRelease, release),
				logging.Error(err),
				logging.String(logging.FieldImpact, "release date will be looked up again next run"),
			)
		}
	}
	return at, nil
}

func (f *Feed) fileURL(release, path string) string {
	return f.cfg.BaseURL + "/" + url.PathEscape(release) + "/" + path
}

func (f *Feed) get(ctx context.Context, target string, headers map[string]string) ([]byte, error) {
	attempts := f.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := f.getOnce(ctx, target, headers)
		if err == nil {
			return body, nil
		}
		delay, retry := f.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			if attempt > 1 {
				return nil, fmt.Errorf("GET %s: failed after %d attempts: %w", target, attempt, err)
			}
			return nil, err
		}
		f.logger.Debug("retrying datamine request",
			logging.String("url", target),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return nil, fmt.Errorf("GET %s: failed after %d attempts: %w", target, attempts, lastErr)
}

func (f *Feed) getOnce(ctx context.Context, target string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "warthog")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &httpStatusError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}

func (f *Feed) retryAttempts() int {
	if f.retryMaxAttempts <= 0 {
		return 1
	}
	return f.retryMaxAttempts
}

func (f *Feed) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil {
		return 0, false
	}
	if ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return f.capDelay(statusErr.RetryAfter), true
			}
			return f.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return f.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return f.backoffDelay(attempt), true
	}
	return 0, false
}

// backoffDelay doubles per attempt: base, base*2, base*4, capped at the max.
func (f *Feed) backoffDelay(attempt int) time.Duration {
	base := f.retryBaseDelay
	maxDelay := f.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return f.capDelay(delay)
}

func (f *Feed) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := f.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (f *Feed) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if f.sleeper != nil {
		f.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		delay := time.Until(at)
		if delay < 0 {
			return 0, true
		}
		return delay, true
	}
	return 0, false
}
