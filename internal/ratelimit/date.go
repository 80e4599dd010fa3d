package ratelimit

import (
	"net/http"
	"strings"
	"time"
)

// obsoleteZones maps the RFC-2822 obsolete zone names to numeric offsets.
// The offsets are kept exactly as the game client has always used them.
var obsoleteZones = map[string]string{
	"GMT": "+0000",
	"UT":  "+0000",
	"EST": "-0005",
	"EDT": "-0004",
	"CST": "-0006",
	"CDT": "-0005",
	"MST": "-0007",
	"MDT": "-0006",
	"PST": "-0008",
	"PDT": "-0007",
}

var replyDateLayouts = []string{
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
}

// FixTimezone replaces a trailing obsolete zone abbreviation with its offset.
func FixTimezone(s string) string {
	s = strings.TrimSpace(s)
	idx := strings.LastIndexByte(s, ' ')
	if idx < 0 {
		return s
	}
	if offset, ok := obsoleteZones[strings.ToUpper(s[idx+1:])]; ok {
		return s[:idx+1] + offset
	}
	return s
}

// ParseReplyDate reads the Date header of a reply. A missing or unparsable
// header yields fallback.
func ParseReplyDate(h http.Header, fallback time.Time) time.Time {
	raw := h.Get("Date")
	if raw == "" {
		return fallback
	}
	fixed := FixTimezone(raw)
	for _, layout := range replyDateLayouts {
		if t, err := time.Parse(layout, fixed); err == nil {
			return t
		}
	}
	debugf("[ratelimit] unparsable Date header %q", raw)
	return fallback
}
