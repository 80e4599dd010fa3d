package api

import (
	"net/http"
	"strings"

	"github.com/Resinat/Coffer/internal/inventory"
	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/service"
)

var itemSortFields = []string{"name", "category", "tab"}

func itemSortKey(field string) func(*model.Item) string {
	switch field {
	case "category":
		return func(it *model.Item) string { return it.Category }
	case "tab":
		return func(it *model.Item) string { return it.Location.Header() }
	default:
		return func(it *model.Item) string { return strings.ToLower(it.PrettyName()) }
	}
}

// readItemQuery parses the item filters plus paging and sorting.
func readItemQuery(r *http.Request) (inventory.Query, listParams, error) {
	q := newQueryReader(r)
	iq := inventory.Query{
		Category: q.values.Get("category"),
		Search:   q.values.Get("search"),
	}
	p := q.list(itemSortFields)
	return iq, p, q.err
}

func writeItems(w http.ResponseWriter, items []*model.Item, p listParams) {
	sortByKey(items, p, itemSortKey(p.SortBy))
	writePage(w, items, p)
}

// HandleListTabs returns a handler for GET /api/v1/tabs.
func HandleListTabs(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newQueryReader(r)
		var filters service.TabFilters
		if v := q.values.Get("type"); v != "" {
			t, err := model.ParseLocationType(v)
			if err != nil {
				writeInvalidArgument(w, "type: must be stash or character")
				return
			}
			filters.Type = &t
		}
		checked := q.optionalBool("refresh_checked")
		p := q.list(nil)
		if q.err != nil {
			writeInvalidArgument(w, q.err.Error())
			return
		}

		tabs, err := cp.ListTabs(filters)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if checked != nil {
			filtered := tabs[:0]
			for _, tab := range tabs {
				if tab.RefreshChecked == *checked {
					filtered = append(filtered, tab)
				}
			}
			tabs = filtered
		}
		writePage(w, tabs, p)
	}
}

// HandleListTabItems returns a handler for GET /api/v1/tabs/{uid}/items.
func HandleListTabItems(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		iq, p, err := readItemQuery(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		items, err := cp.ListTabItems(r.PathValue("uid"), iq)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeItems(w, items, p)
	}
}

// HandleSetRefreshChecked returns a handler for PUT /api/v1/tabs/{uid}/refresh-checked.
func HandleSetRefreshChecked(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		view, err := cp.SetRefreshChecked(r.PathValue("uid"), body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

// HandleListItems returns a handler for GET /api/v1/items.
func HandleListItems(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		iq, p, err := readItemQuery(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		iq.TabUID = r.URL.Query().Get("tab_uid")
		writeItems(w, cp.ListItems(iq), p)
	}
}
