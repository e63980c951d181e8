package catalog

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"warthog/internal/textutil"
)

// DatamineFiles are the raw payloads for one release. WPCost and UnitTags are
// required; Hangar and UnitsCSV refine premium detection and display names.
type DatamineFiles struct {
	WPCost   []byte
	UnitTags []byte
	Hangar   []byte
	UnitsCSV []byte
}

// countryTags maps datamine country tags to the tech tree that fields them.
// Minor nations are folded into their host tree.
var countryTags = []struct {
	tag     string
	country string
}{
	{"country_australia", "uk"},
	{"country_belgium", "france"},
	{"country_britain", "uk"},
	{"country_china", "china"},
	{"country_finland", "sweden"},
	{"country_france", "france"},
	{"country_germany", "germany"},
	{"country_hungary", "italy"},
	{"country_indonesia", "japan"},
	{"country_israel", "israel"},
	{"country_italy", "italy"},
	{"country_japan", "japan"},
	{"country_netherlands", "france"},
	{"country_south_africa", "uk"},
	{"country_sweden", "sweden"},
	{"country_switzerland", "germany"},
	{"country_thailand", "japan"},
	{"country_turkey", "italy"},
	{"country_usa", "usa"},
	{"country_ussr", "russia"},
}

var typeTags = []struct {
	tag   string
	name  string
	class VehicleClass
}{
	{"type_fighter", "fighter", ClassAir},
	{"type_strike_aircraft", "strike_aircraft", ClassAir},
	{"type_bomber", "bomber", ClassAir},
	{"type_strike_ucav", "strike_aircraft", ClassAir},
	{"type_attack_helicopter", "attack_helicopter", ClassHelicopter},
	{"type_utility_helicopter", "utility_helicopter", ClassHelicopter},
	{"type_light_tank", "light_tank", ClassGround},
	{"type_medium_tank", "medium_tank", ClassGround},
	{"type_heavy_tank", "heavy_tank", ClassGround},
	{"type_tank_destroyer", "tank_destroyer", ClassGround},
	{"type_spaa", "anti_air", ClassGround},
	{"type_destroyer", "destroyer", ClassNaval},
	{"type_light_cruiser", "light_cruiser", ClassNaval},
	{"type_heavy_cruiser", "heavy_cruiser", ClassNaval},
	{"type_battleship", "battleship", ClassNaval},
	{"type_battlecruiser", "battlecruiser", ClassNaval},
	{"type_barge", "barge", ClassNaval},
	{"type_boat", "boat", ClassNaval},
	{"type_heavy_boat", "heavy_boat", ClassNaval},
	{"type_frigate", "frigate", ClassNaval},
}

type wpcostVehicle struct {
	EconomicRankArcade     *int            `json:"economicRankArcade"`
	EconomicRankHistorical *int            `json:"economicRankHistorical"`
	EconomicRankSimulation *int            `json:"economicRankSimulation"`
	Rank                   *int            `json:"rank"`
	CostGold               int             `json:"costGold"`
	Gift                   json.RawMessage `json:"gift"`
}

type unitTags struct {
	Tags map[string]json.RawMessage `json:"tags"`
}

// ParseDatamine builds catalog entries from one release's datamine files.
// Units that lack tags, a known country or type, or a rank are skipped and
// described in the returned warnings.
func ParseDatamine(files DatamineFiles) ([]Entry, []string, error) {
	if len(files.WPCost) == 0 {
		return nil, nil, errors.New("wpcost payload is empty")
	}
	if len(files.UnitTags) == 0 {
		return nil, nil, errors.New("unittags payload is empty")
	}

	var wpcost map[string]json.RawMessage
	if err := json.Unmarshal(files.WPCost, &wpcost); err != nil {
		return nil, nil, fmt.Errorf("parse wpcost: %w", err)
	}
	var tags map[string]json.RawMessage
	if err := json.Unmarshal(files.UnitTags, &tags); err != nil {
		return nil, nil, fmt.Errorf("parse unittags: %w", err)
	}
	premiumHangar, err := parseHangarPremiums(files.Hangar)
	if err != nil {
		return nil, nil, err
	}
	names, err := parseUnitsCSV(files.UnitsCSV)
	if err != nil {
		return nil, nil, err
	}

	codes := make([]string, 0, len(wpcost))
	for code := range wpcost {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var (
		entries  []Entry
		warnings []string
	)
	for _, code := range codes {
		raw := bytes.TrimSpace(wpcost[code])
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		var vehicle wpcostVehicle
		if err := json.Unmarshal(raw, &vehicle); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: wpcost entry unreadable: %v", code, err))
			continue
		}
		if vehicle.Rank == nil {
			continue
		}
		tagRaw, ok := tags[code]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: no unittags entry", code))
			continue
		}
		var unit unitTags
		if err := json.Unmarshal(tagRaw, &unit); err != nil || len(unit.Tags) == 0 {
			warnings = append(warnings, fmt.Sprintf("%s: unittags entry has no tags", code))
			continue
		}
		country, ok := countryFromTags(unit.Tags)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: unknown country tags", code))
			continue
		}
		typeName, class, ok := typeFromTags(unit.Tags)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: unknown vehicle type tags", code))
			continue
		}

		name := names[code]
		if name == "" {
			name = code
		}
		_, hangarPremium := premiumHangar[code]
		premium := vehicle.CostGold > 0 || hasGift(vehicle.Gift) || hangarPremium

		entries = append(entries, Entry{
			Code:    code,
			Name:    name,
			Country: country,
			Class:   class,
			Type:    typeName,
			Rank:    *vehicle.Rank,
			BattleRatings: BattleRatings{
				Arcade:     BattleRatingFromEconomicRank(intOrZero(vehicle.EconomicRankArcade)),
				Realistic:  BattleRatingFromEconomicRank(intOrZero(vehicle.EconomicRankHistorical)),
				Simulation: BattleRatingFromEconomicRank(intOrZero(vehicle.EconomicRankSimulation)),
			},
			Premium: premium,
		})
	}
	return entries, warnings, nil
}

func intOrZero(value *int) int {
	if value == nil {
		return 0
	}
	return *value
}

func hasGift(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func countryFromTags(tags map[string]json.RawMessage) (string, bool) {
	for _, candidate := range countryTags {
		if _, ok := tags[candidate.tag]; ok {
			return candidate.country, true
		}
	}
	return "", false
}

func typeFromTags(tags map[string]json.RawMessage) (string, VehicleClass, bool) {
	for _, candidate := range typeTags {
		if _, ok := tags[candidate.tag]; ok {
			return candidate.name, candidate.class, true
		}
	}
	return "", "", false
}

// parseHangarPremiums reads hangar.blkx premiumVehicle blocks. Repeated BLK
// blocks unpack to an array, a single block to an object.
func parseHangarPremiums(data []byte) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	var hangar struct {
		PremiumVehicle json.RawMessage `json:"premiumVehicle"`
	}
	if err := json.Unmarshal(data, &hangar); err != nil {
		return nil, fmt.Errorf("parse hangar: %w", err)
	}
	raw := bytes.TrimSpace(hangar.PremiumVehicle)
	if len(raw) == 0 {
		return out, nil
	}
	type premium struct {
		UnitName string `json:"unitName"`
	}
	var list []premium
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parse hangar premiumVehicle: %w", err)
		}
	} else {
		var single premium
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("parse hangar premiumVehicle: %w", err)
		}
		list = append(list, single)
	}
	for _, item := range list {
		if name := strings.TrimSpace(item.UnitName); name != "" {
			out[name] = struct{}{}
		}
	}
	return out, nil
}

// parseUnitsCSV reads the localisation table. Only "<code>_shop" rows carry
// the display name; the first such row per code wins.
func parseUnitsCSV(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = ';'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse units csv: %w", err)
		}
		if header {
			header = false
			continue
		}
		if len(record) < 2 {
			continue
		}
		key := textutil.CleanDisplayName(record[0])
		name := textutil.CleanDisplayName(record[1])
		if key == "" || name == "" || !strings.HasSuffix(key, "_shop") {
			continue
		}
		code := strings.TrimSuffix(key, "_shop")
		if _, seen := out[code]; seen {
			continue
		}
		out[code] = name
	}
	return out, nil
}
