package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ItemModTypes are the JSON members holding mod text lines, in display order.
var ItemModTypes = []string{
	"implicitMods",
	"enchantMods",
	"explicitMods",
	"craftedMods",
	"fracturedMods",
	"utilityMods",
	"scourgeMods",
	"crucibleMods",
}

// ItemClassifier resolves reference data for items. A nil classifier leaves
// Category and ModTable empty.
type ItemClassifier interface {
	ItemCategory(baseType string) string
	MatchMod(line string) (pattern string, values []float64, ok bool)
}

// Item is one parsed item together with the location it was found in.
type Item struct {
	ID       string              `json:"id,omitempty"`
	Name     string              `json:"name"`
	TypeLine string              `json:"type_line"`
	BaseType string              `json:"base_type"`
	Category string              `json:"category"`
	Location ItemLocation        `json:"location"`
	Hash     Hash                `json:"hash"`
	TextMods map[string][]string `json:"text_mods,omitempty"`
	ModTable map[string]float64  `json:"mod_table,omitempty"`
	JSON     json.RawMessage     `json:"json"`
}

// ItemRecord is the persisted form of an item. Socketed is kept alongside the
// JSON because it is derived from nesting, not from the item's own fields.
type ItemRecord struct {
	JSON     json.RawMessage
	Socketed bool
}

// Record returns the persisted form of it.
func (it *Item) Record() ItemRecord {
	return ItemRecord{JSON: it.JSON, Socketed: it.Location.Socketed}
}

// NewItem parses raw item JSON. The location's item rectangle is filled
// from the item itself.
func NewItem(raw json.RawMessage, loc ItemLocation, cls ItemClassifier) (*Item, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decode item: not an object")
	}

	it := &Item{
		ID:       jsonString(fields["id"], ""),
		Name:     stripMarkup(jsonString(fields["name"], "")),
		TypeLine: stripMarkup(jsonString(fields["typeLine"], "")),
		Location: loc,
		JSON:     raw,
		Hash:     HashItemJSON(raw),
	}
	it.BaseType = stripMarkup(jsonString(fields["baseType"], it.TypeLine))
	it.Location.FromItemJSON(fields)

	for _, modType := range ItemModTypes {
		rawMods, ok := fields[modType]
		if !ok {
			continue
		}
		var lines []string
		if err := json.Unmarshal(rawMods, &lines); err != nil {
			continue
		}
		if it.TextMods == nil {
			it.TextMods = make(map[string][]string)
		}
		it.TextMods[modType] = lines
	}

	if cls != nil {
		it.Category = cls.ItemCategory(it.BaseType)
		it.buildModTable(cls)
	}
	return it, nil
}

// buildModTable sums matched mod values per pattern across all mod types.
// Multi-value mods (e.g. "Adds # to # damage") contribute their average.
func (it *Item) buildModTable(cls ItemClassifier) {
	for _, modType := range ItemModTypes {
		for _, line := range it.TextMods[modType] {
			pattern, values, ok := cls.MatchMod(line)
			if !ok {
				continue
			}
			if it.ModTable == nil {
				it.ModTable = make(map[string]float64)
			}
			it.ModTable[pattern] += average(values)
		}
	}
}

// PrettyName is "<name> <typeLine>", or the type line alone for unnamed items.
func (it *Item) PrettyName() string {
	if it.Name == "" {
		return it.TypeLine
	}
	return it.Name + " " + it.TypeLine
}

// Less is the canonical item order: location, then pretty name, then hash.
// Position inside the tab does not take part.
func (it *Item) Less(other *Item) bool {
	if !it.Location.SameTab(other.Location) {
		return it.Location.Less(other.Location)
	}
	if a, b := it.PrettyName(), other.PrettyName(); a != b {
		return a < b
	}
	return it.Hash.Hex() < other.Hash.Hex()
}

// stripMarkup removes "<<set:MS>>"-style markup the API prepends to names.
func stripMarkup(s string) string {
	for {
		start := strings.Index(s, "<<")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], ">>")
		if end < 0 {
			return s
		}
		s = s[:start] + s[start+end+2:]
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
