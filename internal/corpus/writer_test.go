package corpus_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"warthog/internal/capture"
	"warthog/internal/config"
	"warthog/internal/corpus"
	"warthog/internal/correlate"
	"warthog/internal/services"
	"warthog/internal/testsupport"
)

var baseTime = time.Date(2024, 5, 1, 18, 30, 12, 0, time.UTC)

func records(recs ...correlate.MatchRecord) iter.Seq2[correlate.MatchRecord, error] {
	return func(yield func(correlate.MatchRecord, error) bool) {
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func readJSONL(t *testing.T, path string) []correlate.MatchRecord {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()

	var out []correlate.MatchRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec correlate.MatchRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestWriteFilesLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "corpus")
	w, err := corpus.NewWriter(dir, config.CorpusLayoutFiles, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	rec := testsupport.Record("abc123", baseTime, capture.SourceBinary, "1", "2")
	if err := w.Write(context.Background(), rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "abc123.json"))
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var got correlate.MatchRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "abc123" || got.Timestamp != baseTime.UnixMilli() || len(got.Players) != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	for _, key := range []string{"match_id", "timestamp", "battle_rating", "map", "game_mode", "players"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("record missing %q: %s", key, data)
		}
	}
}

func TestWriteJSONLAppends(t *testing.T) {
	dir := t.TempDir()
	w, err := corpus.NewWriter(dir, config.CorpusLayoutJSONL, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := w.Write(ctx, testsupport.Record(id, baseTime, capture.SourceScrape, "1")); err != nil {
			t.Fatalf("Write %s: %v", id, err)
		}
	}
	got := readJSONL(t, filepath.Join(dir, corpus.JSONLName))
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected lines: %+v", got)
	}
}

func TestExportFilesRemovesStaleRecords(t *testing.T) {
	dir := t.TempDir()
	w, err := corpus.NewWriter(dir, config.CorpusLayoutFiles, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	ctx := context.Background()
	if err := w.Write(ctx, testsupport.Record("stale", baseTime, capture.SourceBinary, "1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	testsupport.WriteFile(t, filepath.Join(dir, "notes.txt"), []byte("keep me"))

	n, err := w.Export(ctx, records(
		testsupport.Record("one", baseTime, capture.SourceBinary, "1"),
		testsupport.Record("two", baseTime.Add(time.Minute), capture.SourceBinary, "2"),
	))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Fatalf("exported %d, want 2", n)
	}
	for _, name := range []string{"one.json", "two.json", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "stale.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected stale record removed, got %v", err)
	}
}

func TestExportJSONLRewritesInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := corpus.NewWriter(dir, config.CorpusLayoutJSONL, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	ctx := context.Background()
	dup := testsupport.Record("dup", baseTime, capture.SourceBinary, "1")
	for range 2 {
		if err := w.Write(ctx, dup); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	n, err := w.Export(ctx, records(dup, testsupport.Record("later", baseTime.Add(time.Hour), capture.SourceBinary, "1")))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	got := readJSONL(t, filepath.Join(dir, corpus.JSONLName))
	if n != 2 || len(got) != 2 || got[0].ID != "dup" || got[1].ID != "later" {
		t.Fatalf("unexpected export (n=%d): %+v", n, got)
	}
}

func TestExportStopsOnSequenceError(t *testing.T) {
	dir := t.TempDir()
	w, err := corpus.NewWriter(dir, config.CorpusLayoutJSONL, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	boom := errors.New("boom")
	seq := func(yield func(correlate.MatchRecord, error) bool) {
		if !yield(testsupport.Record("a", baseTime, capture.SourceBinary, "1"), nil) {
			return
		}
		yield(correlate.MatchRecord{}, boom)
	}
	if _, err := w.Export(context.Background(), seq); !errors.Is(err, boom) {
		t.Fatalf("expected sequence error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, corpus.JSONLName)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no partial corpus file, got %v", err)
	}
}

func TestNewWriterRejectsBadInput(t *testing.T) {
	if _, err := corpus.NewWriter(t.TempDir(), "parquet", nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for layout, got %v", err)
	}

	blocker := filepath.Join(t.TempDir(), "file")
	testsupport.WriteFile(t, blocker, []byte("x"))
	if _, err := corpus.NewWriter(filepath.Join(blocker, "corpus"), config.CorpusLayoutFiles, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for unwritable dir, got %v", err)
	}
}

func TestHasTracksWrittenRecords(t *testing.T) {
	ctx := context.Background()
	for _, layout := range []string{config.CorpusLayoutFiles, config.CorpusLayoutJSONL} {
		t.Run(layout, func(t *testing.T) {
			dir := t.TempDir()
			first, err := corpus.NewWriter(dir, layout, nil)
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			if ok, err := first.Has(ctx, "a"); err != nil || ok {
				t.Fatalf("empty corpus Has(a) = %v, %v", ok, err)
			}
			if err := first.Write(ctx, testsupport.Record("a", baseTime, capture.SourceBinary, "1")); err != nil {
				t.Fatalf("Write: %v", err)
			}

			// A fresh writer sees what an earlier one left on disk.
			w, err := corpus.NewWriter(dir, layout, nil)
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			if ok, err := w.Has(ctx, "a"); err != nil || !ok {
				t.Fatalf("Has(a) = %v, %v", ok, err)
			}
			if ok, _ := w.Has(ctx, "b"); ok {
				t.Fatal("Has(b) before write")
			}
			if err := w.Write(ctx, testsupport.Record("b", baseTime, capture.SourceBinary, "2")); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if ok, _ := w.Has(ctx, "b"); !ok {
				t.Fatal("Has(b) after write")
			}

			if _, err := w.Export(ctx, records(testsupport.Record("b", baseTime, capture.SourceBinary, "2"))); err != nil {
				t.Fatalf("Export: %v", err)
			}
			if ok, _ := w.Has(ctx, "a"); ok {
				t.Fatal("Has(a) after export without it")
			}
			if ok, _ := w.Has(ctx, " "); ok {
				t.Fatal("blank id reported present")
			}
		})
	}
}
