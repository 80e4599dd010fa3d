// Package model defines domain structs shared across the sync, persistence
// and API layers.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LocationType distinguishes stash tabs from characters.
type LocationType int

const (
	LocationStash LocationType = iota
	LocationCharacter
)

func (t LocationType) String() string {
	switch t {
	case LocationStash:
		return "stash"
	case LocationCharacter:
		return "character"
	default:
		return "unknown"
	}
}

// ParseLocationType is the inverse of LocationType.String.
func ParseLocationType(s string) (LocationType, error) {
	switch strings.ToLower(s) {
	case "stash":
		return LocationStash, nil
	case "character":
		return LocationCharacter, nil
	}
	return 0, fmt.Errorf("unknown location type %q", s)
}

func (t LocationType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *LocationType) UnmarshalText(b []byte) error {
	parsed, err := ParseLocationType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ItemLocation identifies where an item lives: a stash tab or a character,
// plus the item's rectangle inside it when the location is attached to an item.
type ItemLocation struct {
	Type        LocationType `json:"type"`
	TabIndex    int          `json:"tab_index"`
	TabUniqueID string       `json:"tab_unique_id,omitempty"`
	TabType     string       `json:"tab_type,omitempty"`
	Label       string       `json:"label,omitempty"`
	Character   string       `json:"character,omitempty"`
	R           int          `json:"r"`
	G           int          `json:"g"`
	B           int          `json:"b"`

	X           int    `json:"x,omitempty"`
	Y           int    `json:"y,omitempty"`
	W           int    `json:"w,omitempty"`
	H           int    `json:"h,omitempty"`
	InventoryID string `json:"inventory_id,omitempty"`
	Socketed    bool   `json:"socketed,omitempty"`
	RemoveOnly  bool   `json:"remove_only,omitempty"`

	// JSON is the raw listing entry the location was built from.
	JSON json.RawMessage `json:"json,omitempty"`
}

// NewStashLocation builds a location for a stash tab listing entry.
func NewStashLocation(index int, uniqueID, label, tabType string, r, g, b int, raw json.RawMessage) ItemLocation {
	return ItemLocation{
		Type:        LocationStash,
		TabIndex:    index,
		TabUniqueID: uniqueID,
		TabType:     tabType,
		Label:       label,
		R:           r,
		G:           g,
		B:           b,
		JSON:        raw,
	}
}

// NewCharacterLocation builds a location for a character listing entry.
func NewCharacterLocation(index int, name string, raw json.RawMessage) ItemLocation {
	return ItemLocation{
		Type:      LocationCharacter,
		TabIndex:  index,
		Character: name,
		Label:     name,
		JSON:      raw,
	}
}

// UniqueID returns the stash id for stash tabs and the character name for characters.
func (l ItemLocation) UniqueID() string {
	if l.Type == LocationStash {
		return l.TabUniqueID
	}
	return l.Character
}

// Header is the display title of the location.
func (l ItemLocation) Header() string {
	if l.Type == LocationCharacter {
		return l.Character
	}
	return "#" + strconv.Itoa(l.TabIndex+1) + ", " + l.Label
}

// IsValid reports whether the location has an identity.
func (l ItemLocation) IsValid() bool {
	return l.UniqueID() != ""
}

// UniqueHash identifies the tab or character independently of item position.
func (l ItemLocation) UniqueHash() string {
	return HashString(l.Type.String() + ":" + l.UniqueID()).Hex()
}

// Tab returns a copy of l with all item-position fields cleared.
func (l ItemLocation) Tab() ItemLocation {
	l.X, l.Y, l.W, l.H = 0, 0, 0, 0
	l.InventoryID = ""
	l.Socketed = false
	l.RemoveOnly = false
	return l
}

// Less orders stash tabs before characters, stash tabs by index and
// characters by case-insensitive name.
func (l ItemLocation) Less(other ItemLocation) bool {
	if l.Type != other.Type {
		return l.Type < other.Type
	}
	if l.Type == LocationStash {
		if l.TabIndex != other.TabIndex {
			return l.TabIndex < other.TabIndex
		}
		return l.TabUniqueID < other.TabUniqueID
	}
	a, b := strings.ToLower(l.Character), strings.ToLower(other.Character)
	if a != b {
		return a < b
	}
	return l.Character < other.Character
}

// SameTab reports whether l and other refer to the same tab or character.
func (l ItemLocation) SameTab(other ItemLocation) bool {
	return l.Type == other.Type && l.UniqueID() == other.UniqueID()
}

// FromItemJSON copies the item rectangle and inventory id out of item JSON.
// Members absent from the item keep their current value, so socketed items
// inherit the rectangle of their parent.
func (l *ItemLocation) FromItemJSON(item map[string]json.RawMessage) {
	for key, dst := range map[string]*int{"x": &l.X, "y": &l.Y, "w": &l.W, "h": &l.H} {
		if raw, ok := item[key]; ok {
			*dst = jsonInt(raw)
		}
	}
	var inv string
	if raw, ok := item["inventoryId"]; ok && json.Unmarshal(raw, &inv) == nil {
		l.InventoryID = inv
	}
}

func jsonInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}
