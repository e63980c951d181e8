package ingest

import (
	"time"

	"warthog/internal/correlate"
)

// SkipKind classifies why a capture produced no new record.
type SkipKind string

const (
	SkipUnreadable  SkipKind = "unreadable"
	SkipMalformed   SkipKind = "malformed"
	SkipNoCatalog   SkipKind = "no_catalog"
	SkipCorrelation SkipKind = "correlation"
	SkipDuplicate   SkipKind = "duplicate"
)

// SkippedItem is one capture that did not yield an inserted or replaced record.
type SkippedItem struct {
	Path    string   `json:"path"`
	Kind    SkipKind `json:"kind"`
	Reason  string   `json:"reason"`
	MatchID string   `json:"match_id,omitempty"`
}

// PlayerIssue names one lineup entry that did not fully resolve. Dropped
// entries left the record; the others kept the player with fewer vehicles.
type PlayerIssue struct {
	Path     string `json:"path"`
	MatchID  string `json:"match_id"`
	PlayerID string `json:"player_id"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason"`
	Dropped  bool   `json:"dropped"`
}

// Report summarizes a run.
type Report struct {
	RunID               string        `json:"run_id"`
	StartedAt           time.Time     `json:"started_at"`
	FinishedAt          time.Time     `json:"finished_at"`
	Discovered          int           `json:"discovered"`
	Inserted            int           `json:"inserted"`
	Replaced            int           `json:"replaced"`
	Duplicates          int           `json:"skipped_duplicates"`
	Malformed           int           `json:"malformed"`
	NoCatalog           int           `json:"no_catalog"`
	CorrelationFailures int           `json:"correlation_failures"`
	Unreadable          int           `json:"unreadable"`
	DroppedPlayers      int           `json:"dropped_players"`
	UnresolvedVehicles  int           `json:"unresolved_vehicles"`
	// Restored counts stored records the corpus was missing.
	Restored     int           `json:"restored"`
	Skipped      []SkippedItem `json:"skipped,omitempty"`
	PlayerIssues []PlayerIssue `json:"player_issues,omitempty"`
}

// Duration returns how long the run took.
func (r Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed counts captures that could not be turned into records.
func (r Report) Failed() int {
	return r.Malformed + r.NoCatalog + r.CorrelationFailures + r.Unreadable
}

type tally struct {
	report *Report
}

func (t *tally) skip(item SkippedItem) {
	switch item.Kind {
	case SkipUnreadable:
		t.report.Unreadable++
	case SkipMalformed:
		t.report.Malformed++
	case SkipNoCatalog:
		t.report.NoCatalog++
	case SkipCorrelation:
		t.report.CorrelationFailures++
	case SkipDuplicate:
		t.report.Duplicates++
	}
	t.report.Skipped = append(t.report.Skipped, item)
}

func (t *tally) stored(replaced bool) {
	if replaced {
		t.report.Replaced++
	} else {
		t.report.Inserted++
	}
}

func (t *tally) restored() {
	t.report.Restored++
}

func (t *tally) players(path, matchID string, diags []correlate.PlayerDiagnostic) {
	for _, diag := range diags {
		if diag.Dropped {
			t.report.DroppedPlayers++
		} else {
			t.report.UnresolvedVehicles++
		}
		reason := ""
		if diag.Err != nil {
			reason = diag.Err.Error()
		}
		t.report.PlayerIssues = append(t.report.PlayerIssues, PlayerIssue{
			Path:     path,
			MatchID:  matchID,
			PlayerID: diag.PlayerID,
			Code:     diag.Code,
			Reason:   reason,
			Dropped:  diag.Dropped,
		})
	}
}
