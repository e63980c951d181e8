package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newDatamineServer(t *testing.T, flaky *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/commits/rel1"):
			_, _ = w.Write([]byte(`{"commit": {"committer": {"date": "2024-03-01T10:00:00Z"}}}`))
		case strings.HasSuffix(r.URL.Path, "/wpcost.blkx"):
			if flaky != nil && flaky.Add(-1) >= 0 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(testWPCost))
		case strings.HasSuffix(r.URL.Path, "/unittags.blkx"):
			_, _ = w.Write([]byte(testUnitTags))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestFeedFetchBuildsSnapshot(t *testing.T) {
	server := newDatamineServer(t, nil)
	defer server.Close()

	indexPath := filepath.Join(t.TempDir(), "releases.json")
	index := NewReleaseIndex(indexPath)
	feed := NewFeed(FeedConfig{BaseURL: server.URL + "/feed", APIBaseURL: server.URL + "/api"}, WithReleaseIndex(index))

	snapshot, err := feed.Fetch(context.Background(), "rel1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snapshot.Release() != "rel1" {
		t.Fatalf("unexpected release %s", snapshot.Release())
	}
	if want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC); !snapshot.EffectiveFrom().Equal(want) {
		t.Fatalf("effective-from = %s, want %s", snapshot.EffectiveFrom(), want)
	}
	if snapshot.Len() != 4 {
		t.Fatalf("expected 4 vehicles, got %d", snapshot.Len())
	}

	reloaded, err := LoadReleaseIndex(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.Get("rel1"); !ok {
		t.Fatal("release date was not written back to the index")
	}
}

func TestFeedRetriesServerErrors(t *testing.T) {
	var flaky atomic.Int32
	flaky.Store(2)
	server := newDatamineServer(t, &flaky)
	defer server.Close()

	var sleeps []time.Duration
	feed := NewFeed(
		FeedConfig{BaseURL: server.URL, APIBaseURL: server.URL},
		WithRetryBackoff(100*time.Millisecond, time.Second),
		WithSleeper(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)
	if _, err := feed.Fetch(context.Background(), "rel1"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(sleeps) != 2 || sleeps[0] != 100*time.Millisecond || sleeps[1] != 200*time.Millisecond {
		t.Fatalf("unexpected backoff sequence %v", sleeps)
	}
}

func TestFeedGivesUpAfterMaxAttempts(t *testing.T) {
	var flaky atomic.Int32
	flaky.Store(10)
	server := newDatamineServer(t, &flaky)
	defer server.Close()

	feed := NewFeed(
		FeedConfig{BaseURL: server.URL, APIBaseURL: server.URL},
		WithRetryMaxAttempts(3),
		WithSleeper(func(time.Duration) {}),
	)
	_, err := feed.Fetch(context.Background(), "rel1")
	if err == nil || !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Fatalf("expected exhausted retries, got %v", err)
	}
}

func TestFeedDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	index := NewReleaseIndex("")
	index.Set("gone", releaseA)
	feed := NewFeed(FeedConfig{BaseURL: server.URL}, WithReleaseIndex(index), WithSleeper(func(time.Duration) {}))
	_, err := feed.Fetch(context.Background(), "gone")
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single request, got %d", calls.Load())
	}
}

func TestFeedRequiresReleaseDate(t *testing.T) {
	feed := NewFeed(FeedConfig{BaseURL: "http://127.0.0.1:1"})
	if _, err := feed.Fetch(context.Background(), "unknown"); err == nil {
		t.Fatal("expected error without index entry or api url")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := parseRetryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("seconds form: %v %v", d, ok)
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatal("expected garbage to be rejected")
	}
}
