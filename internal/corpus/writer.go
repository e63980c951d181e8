// Package corpus writes correlated match records to the canonical output
// directory, either one JSON file per match or a single JSON Lines file.
package corpus

import (
	"bufio"
	"context"
	"errors"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"warthog/internal/config"
	"warthog/internal/correlate"
	"warthog/internal/fileutil"
	"warthog/internal/logging"
	"warthog/internal/services"
	"warthog/internal/textutil"
)

// JSONLName is the file used by the jsonl layout.
const JSONLName = "matches.jsonl"

// Writer emits match records into the corpus directory. Safe for concurrent use.
type Writer struct {
	dir    string
	layout string
	logger *slog.Logger

	mu sync.Mutex
	// ids caches the match ids in the jsonl file; nil until first needed.
	ids map[string]struct{}
}

// NewWriter validates the layout and verifies the directory is writable.
func NewWriter(dir, layout string, logger *slog.Logger) (*Writer, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "corpus", "open", "corpus dir is required", nil)
	}
	switch layout {
	case config.CorpusLayoutFiles, config.CorpusLayoutJSONL:
	case "":
		layout = config.CorpusLayoutFiles
	default:
		return nil, services.Wrap(services.ErrConfiguration, "corpus", "open",
			fmt.Sprintf("unsupported layout %q", layout), nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Writer{dir: dir, layout: layout, logger: logging.NewComponentLogger(logger, "corpus")}
	if err := w.checkWritable(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) checkWritable() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "corpus", "open", "create corpus dir", err)
	}
	check, err := os.CreateTemp(w.dir, ".writable-*")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "corpus", "open", "corpus dir is not writable", err)
	}
	name := check.Name()
	_ = check.Close()
	_ = os.Remove(name)
	return nil
}

// Dir returns the corpus directory.
func (w *Writer) Dir() string { return w.dir }

// Layout returns the configured layout.
func (w *Writer) Layout() string { return w.layout }

// Path returns where rec is (or would be) written.
func (w *Writer) Path(rec correlate.MatchRecord) string {
	if w.layout == config.CorpusLayoutJSONL {
		return filepath.Join(w.dir, JSONLName)
	}
	return filepath.Join(w.dir, fileName(rec.ID))
}

func fileName(id string) string {
	return textutil.SanitizeFileName(id) + ".json"
}

// Has reports whether the corpus already holds a record for id.
func (w *Writer) Has(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	if w.layout == config.CorpusLayoutFiles {
		_, err := os.Stat(filepath.Join(w.dir, fileName(id)))
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return err == nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.loadIDs(); err != nil {
		return false, err
	}
	_, ok := w.ids[id]
	return ok, nil
}

func (w *Writer) loadIDs() error {
	if w.ids != nil {
		return nil
	}
	ids := make(map[string]struct{})
	file, err := os.Open(filepath.Join(w.dir, JSONLName))
	if errors.Is(err, os.ErrNotExist) {
		w.ids = ids
		return nil
	}
	if err != nil {
		return fmt.Errorf("open corpus file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var line struct {
			ID string `json:"match_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil || line.ID == "" {
			continue
		}
		ids[line.ID] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan corpus file: %w", err)
	}
	w.ids = ids
	return nil
}

// Write emits one record. In the files layout an existing file for the same
// id is replaced atomically; in the jsonl layout a line is appended.
func (w *Writer) Write(ctx context.Context, rec correlate.MatchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.ID) == "" {
		return services.Wrap(services.ErrValidation, "corpus", "write", "match id is empty", nil)
	}
	if w.layout == config.CorpusLayoutFiles {
		if err := fileutil.WriteJSONAtomic(w.Path(rec), rec); err != nil {
			return fmt.Errorf("write corpus record %s: %w", rec.ID, err)
		}
		return nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode corpus record %s: %w", rec.ID, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	file, err := os.OpenFile(w.Path(rec), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open corpus file: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		_ = file.Close()
		return fmt.Errorf("append corpus record %s: %w", rec.ID, err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	if w.ids != nil {
		w.ids[rec.ID] = struct{}{}
	}
	return nil
}

// Export rewrites the corpus from records, which must arrive in the order
// they should appear. Files for ids not in records are removed. It returns
// the number of records written.
func (w *Writer) Export(ctx context.Context, records iter.Seq2[correlate.MatchRecord, error]) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.layout == config.CorpusLayoutJSONL {
		return w.exportJSONL(ctx, records)
	}
	return w.exportFiles(ctx, records)
}

func (w *Writer) exportFiles(ctx context.Context, records iter.Seq2[correlate.MatchRecord, error]) (int, error) {
	keep := make(map[string]struct{})
	written := 0
	for rec, err := range records {
		if err != nil {
			return written, err
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
		name := fileName(rec.ID)
		if err := fileutil.WriteJSONAtomic(filepath.Join(w.dir, name), rec); err != nil {
			return written, fmt.Errorf("write corpus record %s: %w", rec.ID, err)
		}
		keep[name] = struct{}{}
		written++
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return written, fmt.Errorf("read corpus dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
			return written, fmt.Errorf("remove stale record %s: %w", name, err)
		}
		w.logger.Debug("removed stale corpus record", logging.String("file", name))
	}
	return written, nil
}

func (w *Writer) exportJSONL(ctx context.Context, records iter.Seq2[correlate.MatchRecord, error]) (int, error) {
	target := filepath.Join(w.dir, JSONLName)
	tmp, err := os.CreateTemp(w.dir, "."+JSONLName+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp corpus file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	encoder := json.NewEncoder(tmp)
	ids := make(map[string]struct{})
	written := 0
	for rec, err := range records {
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = encoder.Encode(rec)
		}
		if err != nil {
			_ = tmp.Close()
			return written, err
		}
		ids[rec.ID] = struct{}{}
		written++
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return written, fmt.Errorf("sync corpus file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return written, fmt.Errorf("close corpus file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return written, fmt.Errorf("chmod corpus file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return written, fmt.Errorf("replace corpus file: %w", err)
	}
	w.ids = ids
	return written, nil
}
