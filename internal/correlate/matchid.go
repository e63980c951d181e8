package correlate

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MatchID derives the content identifier of a match from its start instant,
// map key, and participant ids. Player order and duplicates do not matter.
func MatchID(at time.Time, mapKey string, playerIDs []string) string {
	ids := make([]string, 0, len(playerIDs))
	for _, id := range playerIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var b strings.Builder
	b.WriteString(strconv.FormatInt(at.UTC().UnixMilli(), 10))
	b.WriteByte('|')
	b.WriteString(mapKey)
	b.WriteByte('|')
	b.WriteString(strings.Join(ids, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
