package itemsync

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/ratelimit"
)

func (w *Worker) onLocationReply(q queuedRequest, resp *ratelimit.Response) {
	run := w.run
	payload, err := decodeLocationReply(q.route, resp)
	if err != nil {
		log.Printf("[sync] run %s: %s request for %s failed: %v", run.id, q.kind, q.location.Header(), err)
	}
	if err == nil && q.route.checkTabs && !run.cancelled {
		if reason := w.tabsChanged(payload, q.location); reason != "" {
			log.Printf("[sync] run %s: tabs changed in game (%s), cancelling update", run.id, reason)
			run.cancelled = true
		}
	}

	run.requestsCompleted++
	if err == nil {
		run.totalCompleted++
	}
	if err == nil && !run.cancelled {
		tab := q.location.Tab()
		if k := keyOf(tab); !run.newIndex[k] {
			run.newIndex[k] = true
			run.newTabs = append(run.newTabs, tab)
		}
		run.newItems = w.parseReplyItems(run.newItems, payload, q.route.itemKeys, tab)
	}
	w.syncCounters()

	if run.cancelled {
		w.emit(StateBusy, "Update cancelled.")
	} else {
		w.emit(StateBusy, fmt.Sprintf("Receiving stash data, %d/%d", run.requestsCompleted, run.requestsNeeded))
	}
	if run.requestsCompleted < run.requestsNeeded {
		return
	}

	switch {
	case run.cancelled:
		w.endRun(PhaseCancelled, nil)
		w.emit(StateReady, "Update cancelled.")
	case run.totalCompleted == run.totalNeeded:
		w.finishUpdate()
	default:
		err := fmt.Errorf("%d of %d requests failed", run.totalNeeded-run.totalCompleted, run.totalNeeded)
		w.endRun(PhaseError, err)
		w.emit(StateReady, "Update failed: "+err.Error())
	}
}

// decodeLocationReply returns the member map holding the reply's items.
func decodeLocationReply(r route, resp *ratelimit.Response) (map[string]json.RawMessage, error) {
	if !resp.OK() {
		return nil, responseError(resp)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &payload); err != nil || payload == nil {
		return nil, fmt.Errorf("reply is not an object")
	}
	if msg, ok := legacyError(payload); ok {
		return nil, fmt.Errorf("api error: %s", msg)
	}
	if r.container == "" {
		return payload, nil
	}
	raw, ok := payload[r.container]
	if !ok {
		return nil, fmt.Errorf("reply has no %q member", r.container)
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil || inner == nil {
		return nil, fmt.Errorf("%q member is not an object", r.container)
	}
	return inner, nil
}

// tabsChanged compares the tab listing echoed by a legacy stash reply with
// the listing the run was planned from. It returns why they differ, or "".
func (w *Worker) tabsChanged(payload map[string]json.RawMessage, loc model.ItemLocation) string {
	raw, ok := payload["tabs"]
	if !ok {
		return "tab list missing from reply"
	}
	var tabs []json.RawMessage
	if err := json.Unmarshal(raw, &tabs); err != nil || len(tabs) == 0 {
		return "tab list empty"
	}
	if len(tabs) != len(w.signatures) {
		return fmt.Sprintf("tab count changed from %d to %d", len(w.signatures), len(tabs))
	}
	index := loc.TabIndex
	if index < 0 || index >= len(tabs) {
		return fmt.Sprintf("tab index %d out of range", index)
	}
	fresh := model.TabSignatures(tabs)[index]
	old := w.signatures[index]
	if fresh.Label != old.Label {
		return fmt.Sprintf("tab %d renamed from %q to %q", index, old.Label, fresh.Label)
	}
	if fresh.ID != old.ID {
		return fmt.Sprintf("tab %d id changed from %s to %s", index, old.ID, fresh.ID)
	}
	return ""
}

// parseReplyItems appends the items of every array in keys, in order.
func (w *Worker) parseReplyItems(out []*model.Item, payload map[string]json.RawMessage, keys []string, loc model.ItemLocation) []*model.Item {
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			log.Printf("[sync] %s: %q is not an item array", loc.Header(), key)
			continue
		}
		out = w.appendItems(out, arr, loc)
	}
	return out
}

// appendItems parses items and, recursively, the gems socketed in them.
// Socketed items inherit their parent's rectangle and carry the socketed flag.
func (w *Worker) appendItems(out []*model.Item, arr []json.RawMessage, loc model.ItemLocation) []*model.Item {
	for _, raw := range arr {
		it, err := model.NewItem(raw, loc, w.opts.Classifier)
		if err != nil {
			log.Printf("[sync] %s: skipping item: %v", loc.Header(), err)
			continue
		}
		out = append(out, it)

		var nested struct {
			Socketed []json.RawMessage `json:"socketedItems"`
		}
		if json.Unmarshal(raw, &nested) == nil && len(nested.Socketed) > 0 {
			child := it.Location
			child.Socketed = true
			out = w.appendItems(out, nested.Socketed, child)
		}
	}
	return out
}
