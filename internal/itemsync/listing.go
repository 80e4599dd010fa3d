package itemsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/Resinat/Coffer/internal/config"
	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/ratelimit"
)

// stashEntry is one tab of a stash listing in either API flavour.
type stashEntry struct {
	raw      json.RawMessage
	fullID   string
	index    int
	name     string
	tabType  string
	hidden   bool
	r, g, b  int
	children []stashEntry
}

func (e stashEntry) header() string {
	return "#" + strconv.Itoa(e.index+1) + ", " + e.name
}

type legacyColour struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

func decodeStashEntry(raw json.RawMessage) (stashEntry, error) {
	var m struct {
		ID       string        `json:"id"`
		I        *int          `json:"i"`
		Index    *int          `json:"index"`
		N        *string       `json:"n"`
		Name     *string       `json:"name"`
		Type     string        `json:"type"`
		Hidden   bool          `json:"hidden"`
		Colour   *legacyColour `json:"colour"`
		Metadata struct {
			Colour string `json:"colour"`
		} `json:"metadata"`
		Children []json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return stashEntry{}, err
	}
	e := stashEntry{raw: raw, fullID: m.ID, tabType: m.Type, hidden: m.Hidden, name: model.UnknownTabName}
	switch {
	case m.I != nil:
		e.index = *m.I
	case m.Index != nil:
		e.index = *m.Index
	}
	switch {
	case m.N != nil:
		e.name = *m.N
	case m.Name != nil:
		e.name = *m.Name
	}
	if m.Colour != nil {
		e.r, e.g, e.b = m.Colour.R, m.Colour.G, m.Colour.B
	} else if rgb, err := strconv.ParseUint(m.Metadata.Colour, 16, 32); err == nil {
		e.r, e.g, e.b = int(rgb>>16&0xff), int(rgb>>8&0xff), int(rgb&0xff)
	}
	for _, childRaw := range m.Children {
		child, err := decodeStashEntry(childRaw)
		if err != nil {
			continue
		}
		e.children = append(e.children, child)
	}
	return e, nil
}

func (e stashEntry) location() model.ItemLocation {
	return model.NewStashLocation(e.index, model.TruncateStashID(e.fullID), e.name, e.tabType, e.r, e.g, e.b, e.raw)
}

func (w *Worker) requestStashList() {
	if w.opts.Mode == config.APIModeLegacy {
		index := w.run.firstStashIndex
		if index < 0 {
			index = 0
		}
		u := w.legacyStashURL(index)
		w.submit(ratelimit.EndpointFromURL(u), u, w.onStashList)
		return
	}
	w.submit(endpointOAuthStashList, w.oauthStashListURL(), w.onStashList)
}

// onStashList queues every listed tab that is not kept from before.
func (w *Worker) onStashList(resp *ratelimit.Response) {
	if !resp.OK() {
		w.failRun(fmt.Errorf("stash list: %w", responseError(resp)))
		return
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &payload); err != nil || payload == nil {
		w.failRun(fmt.Errorf("stash list: reply is not an object"))
		return
	}
	if msg, ok := legacyError(payload); ok {
		w.failRun(fmt.Errorf("stash list: %s", msg))
		return
	}
	key := "stashes"
	if w.opts.Mode == config.APIModeLegacy {
		key = "tabs"
	}
	var entries []json.RawMessage
	if raw, ok := payload[key]; !ok || json.Unmarshal(raw, &entries) != nil {
		w.failRun(fmt.Errorf("stash list: missing %q", key))
		return
	}
	if w.opts.Mode == config.APIModeLegacy && len(entries) == 0 {
		w.failRun(fmt.Errorf("stash list: no tabs in reply"))
		return
	}

	run := w.run
	w.signatures = model.TabSignatures(entries)

	decoded := make([]stashEntry, 0, len(entries))
	headers := make(map[string]bool, len(entries))
	for _, raw := range entries {
		e, err := decodeStashEntry(raw)
		if err != nil {
			log.Printf("[sync] run %s: skipping malformed stash entry: %v", run.id, err)
			continue
		}
		decoded = append(decoded, e)
		headers[e.header()] = true
		for _, child := range e.children {
			if !child.hidden {
				headers[child.header()] = true
			}
		}
	}

	// Known tabs that moved or were renamed are refetched under their new header.
	for k, tab := range run.keep {
		if k.typ == model.LocationStash && !headers[tab.Header()] {
			run.evict(tab)
		}
	}

	queued := 0
	for _, e := range decoded {
		if e.hidden {
			continue
		}
		if len(e.children) > 0 {
			for _, child := range e.children {
				if child.hidden || run.kept(model.LocationStash, model.TruncateStashID(child.fullID)) {
					continue
				}
				w.queue(KindOAuthStash, child.location(), w.oauthStashURL(e.fullID, child.fullID))
				queued++
			}
			continue
		}
		if run.kept(model.LocationStash, model.TruncateStashID(e.fullID)) {
			continue
		}
		if w.opts.Mode == config.APIModeLegacy {
			w.queue(KindLegacyStash, e.location(), w.legacyStashURL(e.index))
		} else {
			w.queue(KindOAuthStash, e.location(), w.oauthStashURL(e.fullID, ""))
		}
		queued++
	}
	log.Printf("[sync] run %s: stash list has %d tabs, %d queued", run.id, len(entries), queued)
	run.haveStashList = true
	w.maybeFetch()
}

func (w *Worker) requestCharacterList() {
	if w.opts.Mode != config.APIModeLegacy {
		w.submit(endpointOAuthCharList, w.oauthCharacterListURL(), w.onCharacterList)
		return
	}
	if w.opts.Downloader == nil {
		w.requestLegacyCharacterList()
		return
	}
	runID := w.run.id
	pageURL := w.legacyMainPageURL()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		body, err := w.opts.Downloader.Download(w.ctx, pageURL)
		w.post(func() {
			if w.run == nil || w.run.id != runID {
				return
			}
			w.onMainPage(body, err)
		})
	}()
}

func (w *Worker) onMainPage(body []byte, err error) {
	if err != nil {
		log.Printf("[sync] run %s: main page unavailable, selected character unknown: %v", w.run.id, err)
	} else {
		w.run.selectedCharacter = selectedCharacter(body)
	}
	w.requestLegacyCharacterList()
}

func (w *Worker) requestLegacyCharacterList() {
	u := w.legacyCharacterListURL()
	w.submit(ratelimit.EndpointFromURL(u), u, w.onCharacterList)
}

type characterEntry struct {
	Name   string `json:"name"`
	League string `json:"league"`
	Class  string `json:"class"`
}

func (w *Worker) onCharacterList(resp *ratelimit.Response) {
	if !resp.OK() {
		w.failRun(fmt.Errorf("character list: %w", responseError(resp)))
		return
	}
	var entries []json.RawMessage
	if w.opts.Mode == config.APIModeLegacy {
		if err := json.Unmarshal(resp.Body, &entries); err != nil {
			var payload map[string]json.RawMessage
			if json.Unmarshal(resp.Body, &payload) == nil {
				if msg, ok := legacyError(payload); ok {
					w.failRun(fmt.Errorf("character list: %s", msg))
					return
				}
			}
			w.failRun(fmt.Errorf("character list: reply is not an array"))
			return
		}
	} else {
		var payload struct {
			Characters *[]json.RawMessage `json:"characters"`
		}
		if err := json.Unmarshal(resp.Body, &payload); err != nil || payload.Characters == nil {
			w.failRun(fmt.Errorf("character list: missing \"characters\""))
			return
		}
		entries = *payload.Characters
	}

	run := w.run
	index, queued := 0, 0
	for _, raw := range entries {
		var c characterEntry
		if err := json.Unmarshal(raw, &c); err != nil || c.Name == "" {
			log.Printf("[sync] run %s: skipping malformed character entry", run.id)
			continue
		}
		if !strings.EqualFold(c.League, w.opts.League) {
			continue
		}
		loc := model.NewCharacterLocation(index, c.Name, raw)
		index++
		if run.kept(model.LocationCharacter, c.Name) {
			continue
		}
		if w.opts.Mode == config.APIModeLegacy {
			w.queue(KindLegacyCharacter, loc, w.legacyCharacterURL(c.Name))
			w.queue(KindLegacyPassives, loc, w.legacyPassivesURL(c.Name))
		} else {
			w.queue(KindOAuthCharacter, loc, w.oauthCharacterURL(c.Name))
		}
		queued++
	}
	log.Printf("[sync] run %s: %d characters in %s, %d queued", run.id, index, w.opts.League, queued)
	run.haveCharacterList = true
	w.maybeFetch()
}

func (w *Worker) failRun(err error) {
	w.endRun(PhaseError, err)
	w.emit(StateReady, "Update failed: "+err.Error())
}

// legacyError reports the message of a legacy {"error": {...}} reply.
func legacyError(payload map[string]json.RawMessage) (string, bool) {
	raw, ok := payload["error"]
	if !ok {
		return "", false
	}
	var e struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code), true
	}
	return string(raw), true
}

var (
	selectedCharacterStart = []byte(`C({"name":"`)
	selectedCharacterEnd   = []byte(`","class`)
)

// selectedCharacter extracts the character the account page currently has
// selected, or "" when the marker is missing.
func selectedCharacter(page []byte) string {
	i := bytes.Index(page, selectedCharacterStart)
	if i < 0 {
		return ""
	}
	rest := page[i+len(selectedCharacterStart):]
	j := bytes.Index(rest, selectedCharacterEnd)
	if j < 0 {
		return ""
	}
	raw := string(rest[:j])
	if name, err := strconv.Unquote(`"` + raw + `"`); err == nil {
		return name
	}
	return raw
}
