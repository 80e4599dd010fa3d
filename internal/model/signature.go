package model

import (
	"encoding/json"
	"strings"
)

const (
	UnknownTabName = "UNKNOWN_NAME"
	UnknownTabID   = "UNKNOWN_ID"

	// StashIDLength is the number of id characters kept for stash tabs.
	StashIDLength = 10
)

// TabSignature captures the identity of one listing entry so a later
// listing can be compared against it.
type TabSignature struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

// TabSignatures builds the signature vector of a tab or character listing.
// The label key is "n" when the first entry carries it, "name" otherwise.
// Entries without a "class" member are stash tabs and have their id
// truncated to StashIDLength.
func TabSignatures(entries []json.RawMessage) []TabSignature {
	if len(entries) == 0 {
		return nil
	}
	nameKey := "name"
	var first map[string]json.RawMessage
	if json.Unmarshal(entries[0], &first) == nil {
		if _, ok := first["n"]; ok {
			nameKey = "n"
		}
	}

	out := make([]TabSignature, 0, len(entries))
	for _, raw := range entries {
		var m map[string]json.RawMessage
		_ = json.Unmarshal(raw, &m)
		label := jsonString(m[nameKey], UnknownTabName)
		id := jsonString(m["id"], UnknownTabID)
		if _, isCharacter := m["class"]; !isCharacter {
			id = TruncateStashID(id)
		}
		out = append(out, TabSignature{Label: label, ID: id})
	}
	return out
}

// SignatureOf returns the canonical signature of a known location.
func SignatureOf(l ItemLocation) TabSignature {
	label := l.Label
	if label == "" {
		label = UnknownTabName
	}
	id := l.UniqueID()
	if id == "" {
		id = UnknownTabID
	}
	return TabSignature{Label: label, ID: id}
}

// TruncateStashID shortens a stash id to StashIDLength characters.
func TruncateStashID(id string) string {
	if len(id) > StashIDLength {
		return id[:StashIDLength]
	}
	return id
}

func jsonString(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
