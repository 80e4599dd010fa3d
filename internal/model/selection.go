package model

import (
	"fmt"
	"strings"
)

// TabSelection chooses which tabs an update refreshes.
type TabSelection int

const (
	// SelectAll refreshes every tab and character.
	SelectAll TabSelection = iota
	// SelectChecked refreshes tabs marked for refresh.
	SelectChecked
	// SelectSelected refreshes an explicit list of tabs.
	SelectSelected
)

func (s TabSelection) String() string {
	switch s {
	case SelectAll:
		return "all"
	case SelectChecked:
		return "checked"
	case SelectSelected:
		return "selected"
	default:
		return "unknown"
	}
}

// ParseTabSelection parses "all", "checked" or "selected".
func ParseTabSelection(s string) (TabSelection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return SelectAll, nil
	case "checked":
		return SelectChecked, nil
	case "selected":
		return SelectSelected, nil
	}
	return 0, fmt.Errorf("unknown tab selection %q", s)
}
