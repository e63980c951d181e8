package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"warthog/internal/catalog"
	"warthog/internal/logging"
	"warthog/internal/textutil"
)

const (
	MinBattleRating = 1.0
	MaxBattleRating = 20.0
)

// Capture is either a BinaryCapture or a ScrapeCapture.
type Capture interface {
	CapturePath() string
	isCapture()
}

// BinaryCapture is the content of a replay file.
type BinaryCapture struct {
	Path string
	Data []byte
}

// ScrapeCapture is a scoreboard record produced by the UI driver.
type ScrapeCapture struct {
	Path   string
	Data   []byte
	Format ScrapeFormat
}

func (c BinaryCapture) CapturePath() string { return c.Path }
func (c ScrapeCapture) CapturePath() string { return c.Path }
func (BinaryCapture) isCapture()            {}
func (ScrapeCapture) isCapture()            {}

// RatingSource answers vehicle battle ratings at a point in time. The
// catalog Manager implements it.
type RatingSource interface {
	BattleRating(at time.Time, mode catalog.GameMode, code string) (float64, bool)
}

// Load reads a capture file and picks its kind from the extension.
func Load(path string) (Capture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wrpl":
		return BinaryCapture{Path: path, Data: data}, nil
	case ".json":
		return ScrapeCapture{Path: path, Data: data, Format: ScrapeJSON}, nil
	case ".html", ".htm":
		return ScrapeCapture{Path: path, Data: data, Format: ScrapeHTML}, nil
	default:
		return nil, &MalformedCaptureError{Path: path, Field: "path", Reason: "unrecognized capture extension"}
	}
}

// Normalizer converts captures into RawMatch values.
type Normalizer struct {
	unpacker    ResultsUnpacker
	ratings     RatingSource
	defaultMode catalog.GameMode
	logger      *slog.Logger
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithUnpacker sets how replay results blobs are decoded.
func WithUnpacker(unpacker ResultsUnpacker) Option {
	return func(n *Normalizer) {
		if unpacker != nil {
			n.unpacker = unpacker
		}
	}
}

// WithRatingSource sets the lookup used to derive a replay's battle rating.
func WithRatingSource(ratings RatingSource) Option {
	return func(n *Normalizer) {
		n.ratings = ratings
	}
}

// WithDefaultMode sets the game mode assumed when a capture does not say.
func WithDefaultMode(mode catalog.GameMode) Option {
	return func(n *Normalizer) {
		if mode != "" {
			n.defaultMode = mode
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// NewNormalizer constructs a Normalizer. Without options, replay results are
// expected to be JSON already and no battle rating can be derived.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		unpacker:    JSONUnpacker{},
		defaultMode: catalog.ModeRealistic,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = logging.NewComponentLogger(n.logger, "capture")
	return n
}

// Normalize decodes a capture and validates the fields every match needs.
func (n *Normalizer) Normalize(ctx context.Context, c Capture) (RawMatch, error) {
	var (
		match RawMatch
		err   error
	)
	switch capture := c.(type) {
	case BinaryCapture:
		match, err = n.normalizeBinary(ctx, capture)
	case ScrapeCapture:
		match, err = n.normalizeScrape(capture)
	case nil:
		err = malformed("capture", "nil capture", nil)
	default:
		err = malformed("capture", fmt.Sprintf("unsupported capture type %T", c), nil)
	}
	if err == nil {
		err = validate(match)
	}
	if err != nil {
		var malformedErr *MalformedCaptureError
		if errors.As(err, &malformedErr) && malformedErr.Path == "" && c != nil {
			malformedErr.Path = c.CapturePath()
		}
		return RawMatch{}, err
	}
	return match, nil
}

func (n *Normalizer) normalizeBinary(ctx context.Context, c BinaryCapture) (RawMatch, error) {
	header, err := ParseHeader(c.Data)
	if err != nil {
		return RawMatch{}, err
	}
	mode, ok := header.Mode()
	if !ok {
		mode = n.defaultMode
	}
	match := RawMatch{
		Source:    SourceBinary,
		Path:      c.Path,
		Timestamp: header.StartTime,
		Map:       textutil.MapKey(header.Level),
		GameMode:  mode,
		SessionID: header.SessionHex(),
	}

	offset := int(header.ResultsOffset)
	if offset < HeaderSize || offset >= len(c.Data) {
		return RawMatch{}, malformed("results", fmt.Sprintf("results offset %d outside file of %d bytes", offset, len(c.Data)), nil)
	}
	unpacked, err := n.unpacker.Unpack(ctx, c.Data[offset:])
	if err != nil {
		return RawMatch{}, malformed("results", "unpack failed", err)
	}
	results, err := decodeResults(unpacked)
	if err != nil {
		return RawMatch{}, malformed("results", "decode failed", err)
	}
	players, orphans := results.players()
	for _, id := range orphans {
		if id != "" {
			match.OrphanIDs = append(match.OrphanIDs, id)
		}
	}
	if len(orphans) > 0 {
		logging.WarnWithContext(logging.WithContext(ctx, n.logger), "scoreboard rows without player info", "capture_player_orphaned",
			logging.Int("orphans", len(orphans)),
			logging.String(logging.FieldImpact, "those players are left out of the lineup but still identify the match"),
		)
	}
	match.Players = players
	match.Status = results.Status
	match.Duration = time.Duration(results.TimePlayed * float64(time.Second))
	match.AuthorID = string(results.AuthorUserID)
	br, err := n.deriveBattleRating(match)
	if err != nil {
		return RawMatch{}, err
	}
	match.BattleRating = br
	return match, nil
}

type snapshotSource interface {
	SnapshotFor(t time.Time) (*catalog.Snapshot, error)
}

// deriveBattleRating returns the highest lineup rating across all players,
// which is the bracket the matchmaker placed the match in. A rating source
// that can tell there is no snapshot for the match time reports that instead
// of a zero rating.
func (n *Normalizer) deriveBattleRating(match RawMatch) (float64, error) {
	if n.ratings == nil || match.Timestamp.IsZero() {
		return 0, nil
	}
	if snapshots, ok := n.ratings.(snapshotSource); ok {
		if _, err := snapshots.SnapshotFor(match.Timestamp); err != nil {
			return 0, fmt.Errorf("derive battle rating: %w", err)
		}
	}
	var top float64
	for _, player := range match.Players {
		for _, code := range player.Vehicles {
			if br, ok := n.ratings.BattleRating(match.Timestamp, match.GameMode, code); ok && br > top {
				top = br
			}
		}
	}
	return top, nil
}

func (n *Normalizer) normalizeScrape(c ScrapeCapture) (RawMatch, error) {
	var (
		record scrapeRecord
		err    error
	)
	switch c.Format {
	case ScrapeJSON, "":
		record, err = decodeScrapeJSON(c.Data)
	case ScrapeHTML:
		record, err = decodeScrapeHTML(c.Data)
	default:
		err = malformed("format", fmt.Sprintf("unknown scrape format %q", c.Format), nil)
	}
	if err != nil {
		return RawMatch{}, err
	}

	ts, err := parseScrapeTimestamp(record.Timestamp)
	if err != nil {
		return RawMatch{}, malformed("timestamp", "unparseable", err)
	}
	mode := n.defaultMode
	if strings.TrimSpace(record.GameMode) != "" {
		parsed, err := catalog.ParseGameMode(record.GameMode)
		if err != nil {
			return RawMatch{}, malformed("game_mode", "unknown", err)
		}
		mode = parsed
	}
	status := strings.ToLower(strings.TrimSpace(record.Status))
	if status == "" {
		status = "left"
	}

	match := RawMatch{
		Source: SourceScrape,
		Path:   c.Path,
		// Replay headers only carry whole seconds.
		Timestamp:    ts.Truncate(time.Second),
		BattleRating: record.BattleRating,
		Map:          textutil.MapKey(record.Map),
		GameMode:     mode,
		SessionID:    strings.ToLower(strings.TrimSpace(record.SessionID)),
		Status:       status,
		Duration:     time.Duration(record.DurationSeconds * float64(time.Second)),
		AuthorID:     string(record.AuthorID),
	}
	for i, player := range record.Players {
		entry := player.entry()
		if entry.PlayerID == "" {
			return RawMatch{}, malformed(fmt.Sprintf("players[%d].id", i), "missing", nil)
		}
		match.Players = append(match.Players, entry)
	}
	return match, nil
}

func validate(match RawMatch) error {
	if match.Timestamp.IsZero() {
		return malformed("timestamp", "missing", nil)
	}
	if match.BattleRating < MinBattleRating || match.BattleRating > MaxBattleRating {
		return malformed("battle_rating", fmt.Sprintf("%.2f outside [%.1f, %.1f]", match.BattleRating, MinBattleRating, MaxBattleRating), nil)
	}
	if match.Map == "" {
		return malformed("map", "missing", nil)
	}
	if len(match.Players) == 0 {
		return malformed("players", "no players", nil)
	}
	return nil
}
