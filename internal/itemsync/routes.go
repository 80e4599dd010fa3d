package itemsync

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/ratelimit"
)

// requestKind selects how a per-location request is addressed and how its
// reply is read.
type requestKind int

const (
	KindLegacyStash requestKind = iota
	KindLegacyCharacter
	KindLegacyPassives
	KindOAuthStash
	KindOAuthCharacter
)

func (k requestKind) String() string {
	if r, ok := routes[k]; ok {
		return r.name
	}
	return "unknown"
}

// route describes one request kind.
type route struct {
	name string
	// endpoint names the rate limit endpoint for a request URL.
	endpoint func(u *url.URL) string
	// container is the member wrapping the payload in OAuth replies.
	container string
	// itemKeys are the arrays holding items, read in order.
	itemKeys []string
	// checkTabs compares the tab listing echoed in legacy stash replies.
	checkTabs bool
}

const (
	endpointOAuthStashList = "GET /stash/<league>"
	endpointOAuthCharList  = "GET /character"
	endpointOAuthStash     = "GET /stash/<league>/<stash_id>[/<substash_id>]"
	endpointOAuthCharacter = "GET /character/<name>"
)

var routes = map[requestKind]route{
	KindLegacyStash: {
		name:      "legacy_stash",
		endpoint:  ratelimit.EndpointFromURL,
		itemKeys:  []string{"items"},
		checkTabs: true,
	},
	KindLegacyCharacter: {
		name:     "legacy_character",
		endpoint: ratelimit.EndpointFromURL,
		itemKeys: []string{"items"},
	},
	KindLegacyPassives: {
		name:     "legacy_passives",
		endpoint: ratelimit.EndpointFromURL,
		itemKeys: []string{"items"},
	},
	KindOAuthStash: {
		name:      "oauth_stash",
		endpoint:  func(*url.URL) string { return endpointOAuthStash },
		container: "stash",
		itemKeys:  []string{"items"},
	},
	KindOAuthCharacter: {
		name:      "oauth_character",
		endpoint:  func(*url.URL) string { return endpointOAuthCharacter },
		container: "character",
		itemKeys:  []string{"equipment", "inventory", "rucksack", "jewels"},
	},
}

// queuedRequest is one per-location request waiting for FetchItems.
type queuedRequest struct {
	kind     requestKind
	route    route
	location model.ItemLocation
	url      *url.URL
	endpoint string
}

func (w *Worker) queue(kind requestKind, loc model.ItemLocation, u *url.URL) {
	r := routes[kind]
	w.run.queue = append(w.run.queue, queuedRequest{
		kind:     kind,
		route:    r,
		location: loc,
		url:      u,
		endpoint: r.endpoint(u),
	})
}

func (w *Worker) newRequest(u *url.URL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(w.ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (w *Worker) legacyURL(path string, q url.Values) *url.URL {
	u, _ := url.Parse(w.opts.LegacyBaseURL)
	u.Path = path
	u.RawQuery = q.Encode()
	return u
}

func (w *Worker) legacyStashURL(tabIndex int) *url.URL {
	return w.legacyURL("/character-window/get-stash-items", url.Values{
		"league":      {w.opts.League},
		"tabs":        {"1"},
		"tabIndex":    {strconv.Itoa(tabIndex)},
		"accountName": {w.opts.Account},
	})
}

func (w *Worker) legacyCharacterURL(name string) *url.URL {
	return w.legacyURL("/character-window/get-items", url.Values{
		"character":   {name},
		"accountName": {w.opts.Account},
	})
}

func (w *Worker) legacyPassivesURL(name string) *url.URL {
	return w.legacyURL("/character-window/get-passive-skills", url.Values{
		"character":   {name},
		"accountName": {w.opts.Account},
	})
}

func (w *Worker) legacyCharacterListURL() *url.URL {
	return w.legacyURL("/character-window/get-characters", url.Values{
		"accountName": {w.opts.Account},
	})
}

func (w *Worker) legacyMainPageURL() string {
	return w.legacyURL("/", nil).String()
}

func (w *Worker) oauthURL(segments ...string) *url.URL {
	u, _ := url.Parse(w.opts.OAuthBaseURL)
	for _, s := range segments {
		u = u.JoinPath(s)
	}
	return u
}

func (w *Worker) oauthStashListURL() *url.URL {
	return w.oauthURL("stash", w.opts.League)
}

func (w *Worker) oauthStashURL(stashID, substashID string) *url.URL {
	if substashID != "" {
		return w.oauthURL("stash", w.opts.League, stashID, substashID)
	}
	return w.oauthURL("stash", w.opts.League, stashID)
}

func (w *Worker) oauthCharacterListURL() *url.URL {
	return w.oauthURL("character")
}

func (w *Worker) oauthCharacterURL(name string) *url.URL {
	return w.oauthURL("character", name)
}
