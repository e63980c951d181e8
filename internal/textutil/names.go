package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Glyph blocks the game client uses for in-text icons. They carry no meaning
// once a name leaves the client.
var glyphRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x0000, Hi: 0x001f, Stride: 1},
		{Lo: 0x007f, Hi: 0x009f, Stride: 1},
		{Lo: 0x2000, Hi: 0x206f, Stride: 1},
		{Lo: 0x2200, Hi: 0x22ff, Stride: 1},
		{Lo: 0x2400, Hi: 0x27bf, Stride: 1},
		{Lo: 0xe000, Hi: 0xf8ff, Stride: 1},
	},
}

var lookalikeReplacer = strings.NewReplacer(
	"\u00a0", " ",
	"\"", "",
	"\u0422", "T",
	"\u0410", "A",
	"\u041c", "M",
	"\u041a", "K",
	"\u0421", "C",
)

// CleanDisplayName strips icon glyphs, control characters, and quotes from a
// datamined vehicle name and maps Cyrillic lookalikes used in designations to
// their Latin forms.
func CleanDisplayName(value string) string {
	value = lookalikeReplacer.Replace(value)
	cleaned, _, err := transform.String(transform.Chain(norm.NFC, runes.Remove(runes.In(glyphRanges))), value)
	if err != nil {
		cleaned = value
	}
	return strings.TrimSpace(strings.Join(strings.Fields(cleaned), " "))
}

// MapKey derives the canonical map identifier used for match identity. Level
// paths are reduced to their base name, accents are folded, and any run of
// non-alphanumeric characters becomes a single underscore.
func MapKey(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "levels/")
	value = strings.TrimSuffix(value, ".bin")
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), value)
	if err != nil {
		folded = value
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// DisplayMap renders a map key for humans, e.g. "avg_stalingrad_factory"
// becomes "Avg Stalingrad Factory".
func DisplayMap(key string) string {
	spaced := strings.Join(strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' }), " ")
	return cases.Title(language.English).String(spaced)
}
