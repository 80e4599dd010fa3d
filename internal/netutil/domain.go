package netutil

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// hostOnly strips scheme, path, port and IPv6 brackets from target.
func hostOnly(target string) string {
	if i := strings.Index(target, "//"); i >= 0 {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			target = u.Host
		}
	}
	if h, _, err := net.SplitHostPort(target); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(target, "["), "]")
}

// RegistrableDomain returns the eTLD+1 of target, lowercased. Targets the
// public suffix list rejects (IP literals, single-label names) come back as
// the bare host.
//
//	"https://www.pathofexile.com/character-window" -> "pathofexile.com"
//	"api.pathofexile.com:443"                      -> "pathofexile.com"
//	"[::1]:8080"                                   -> "::1"
func RegistrableDomain(target string) string {
	host := strings.ToLower(strings.TrimSuffix(hostOnly(target), "."))
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// SameSite reports whether a and b share a registrable domain. An empty
// side never matches.
func SameSite(a, b string) bool {
	da, db := RegistrableDomain(a), RegistrableDomain(b)
	return da != "" && da == db
}
