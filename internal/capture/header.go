package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"warthog/internal/catalog"
)

// Magic opens every replay file.
var Magic = [4]byte{0xE5, 0xAC, 0x00, 0x10}

// HeaderSize is the length of the fixed replay header. Anything after it,
// including the results blob, is located through ResultsOffset.
const HeaderSize = 1224

const (
	minReplayVersion uint32 = 100000
	maxReplayVersion uint32 = 199999
)

const (
	levelWidth       = 128
	settingsWidth    = 260
	battleTypeWidth  = 128
	environmentWidth = 128
	visibilityWidth  = 32
	locationWidth    = 128
	classWidth       = 128
	killStreakWidth  = 128
)

const (
	difficultyArcade     = 0
	difficultyRealistic  = 5
	difficultySimulation = 10
)

// Header is the fixed-layout prefix of a replay file.
type Header struct {
	Version       uint32
	Level         string
	LevelSettings string
	BattleType    string
	Environment   string
	Visibility    string
	ResultsOffset uint32
	Difficulty    byte
	SessionType   byte
	SessionID     uint64
	SetSize       uint32
	LocationName  string
	StartTime     time.Time
	TimeLimit     uint32
	ScoreLimit    uint32
	BattleClass   string
	KillStreak    string
}

// Mode decodes the difficulty nibble.
func (h Header) Mode() (catalog.GameMode, bool) {
	switch h.Difficulty & 0x0F {
	case difficultyArcade:
		return catalog.ModeArcade, true
	case difficultyRealistic:
		return catalog.ModeRealistic, true
	case difficultySimulation:
		return catalog.ModeSimulation, true
	default:
		return "", false
	}
}

// SessionHex renders the session id the way the client shows it.
func (h Header) SessionHex() string {
	return strconv.FormatUint(h.SessionID, 16)
}

// DifficultyFor returns the difficulty byte for a game mode.
func DifficultyFor(mode catalog.GameMode) byte {
	switch mode {
	case catalog.ModeArcade:
		return difficultyArcade
	case catalog.ModeSimulation:
		return difficultySimulation
	default:
		return difficultyRealistic
	}
}

// VersionSupported reports whether the header layout is known for a version.
func VersionSupported(version uint32) bool {
	return version >= minReplayVersion && version <= maxReplayVersion
}

// ParseHeader decodes the fixed replay header. Unknown magic bytes or an
// unsupported version fail closed.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < len(Magic) || !bytes.Equal(data[:len(Magic)], Magic[:]) {
		return h, malformed("magic", "not a replay file", nil)
	}
	if len(data) < HeaderSize {
		return h, malformed("header", fmt.Sprintf("truncated: %d of %d bytes", len(data), HeaderSize), nil)
	}

	r := headerReader{data: data, off: len(Magic)}
	h.Version = r.u32()
	if !VersionSupported(h.Version) {
		return h, malformed("version", fmt.Sprintf("unsupported replay version %d", h.Version), nil)
	}
	h.Level = r.str(levelWidth)
	h.LevelSettings = r.str(settingsWidth)
	h.BattleType = r.str(battleTypeWidth)
	h.Environment = r.str(environmentWidth)
	h.Visibility = r.str(visibilityWidth)
	h.ResultsOffset = r.u32()
	h.Difficulty = r.u8()
	r.skip(35)
	h.SessionType = r.u8()
	r.skip(7)
	h.SessionID = r.u64()
	r.skip(4)
	h.SetSize = r.u32()
	r.skip(32)
	h.LocationName = r.str(locationWidth)
	if start := r.u32(); start > 0 {
		h.StartTime = time.Unix(int64(start), 0).UTC()
	}
	h.TimeLimit = r.u32()
	h.ScoreLimit = r.u32()
	r.skip(48)
	h.BattleClass = r.str(classWidth)
	h.KillStreak = r.str(killStreakWidth)
	return h, nil
}

// MarshalBinary encodes the header in the replay layout.
func (h Header) MarshalBinary() ([]byte, error) {
	w := headerWriter{buf: make([]byte, 0, HeaderSize)}
	w.buf = append(w.buf, Magic[:]...)
	w.u32(h.Version)
	fields := []struct {
		name  string
		value string
		width int
	}{
		{"level", h.Level, levelWidth},
		{"level_settings", h.LevelSettings, settingsWidth},
		{"battle_type", h.BattleType, battleTypeWidth},
		{"environment", h.Environment, environmentWidth},
		{"visibility", h.Visibility, visibilityWidth},
	}
	for _, field := range fields {
		if err := w.str(field.value, field.width); err != nil {
			return nil, fmt.Errorf("%s: %w", field.name, err)
		}
	}
	w.u32(h.ResultsOffset)
	w.buf = append(w.buf, h.Difficulty)
	w.zero(35)
	w.buf = append(w.buf, h.SessionType)
	w.zero(7)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, h.SessionID)
	w.zero(4)
	w.u32(h.SetSize)
	w.zero(32)
	if err := w.str(h.LocationName, locationWidth); err != nil {
		return nil, fmt.Errorf("location_name: %w", err)
	}
	var start uint32
	if !h.StartTime.IsZero() {
		start = uint32(h.StartTime.Unix())
	}
	w.u32(start)
	w.u32(h.TimeLimit)
	w.u32(h.ScoreLimit)
	w.zero(48)
	if err := w.str(h.BattleClass, classWidth); err != nil {
		return nil, fmt.Errorf("battle_class: %w", err)
	}
	if err := w.str(h.KillStreak, killStreakWidth); err != nil {
		return nil, fmt.Errorf("kill_streak: %w", err)
	}
	return w.buf, nil
}

type headerReader struct {
	data []byte
	off  int
}

func (r *headerReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *headerReader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *headerReader) u8() byte {
	v := r.data[r.off]
	r.off++
	return v
}

func (r *headerReader) skip(n int) { r.off += n }

// str reads a NUL-padded field. Invalid UTF-8 is dropped.
func (r *headerReader) str(width int) string {
	field := r.data[r.off : r.off+width]
	r.off += width
	if idx := bytes.IndexByte(field, 0); idx >= 0 {
		field = field[:idx]
	}
	return strings.ToValidUTF8(string(field), "")
}

type headerWriter struct {
	buf []byte
}

func (w *headerWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *headerWriter) zero(n int) {
	w.buf = append(w.buf, make([]byte, n)...)
}

func (w *headerWriter) str(value string, width int) error {
	if len(value) >= width {
		return fmt.Errorf("value exceeds %d bytes", width-1)
	}
	w.buf = append(w.buf, value...)
	w.zero(width - len(value))
	return nil
}
