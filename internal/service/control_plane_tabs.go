package service

import (
	"encoding/json"
	"time"

	"github.com/Resinat/Coffer/internal/inventory"
	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/refdata"
)

// ------------------------------------------------------------------
// Tabs & Items
// ------------------------------------------------------------------

// TabView is the API representation of one stash tab or character.
type TabView struct {
	UID            string             `json:"uid"`
	Header         string             `json:"header"`
	Location       model.ItemLocation `json:"location"`
	ItemCount      int                `json:"item_count"`
	RefreshChecked bool               `json:"refresh_checked"`
}

// TabFilters are the optional filters for ListTabs.
type TabFilters struct {
	Type *model.LocationType
}

// ListTabs returns every known tab with its refresh mark.
func (s *ControlPlaneService) ListTabs(filters TabFilters) ([]TabView, error) {
	marks, err := s.Engine.ListRefreshChecked()
	if err != nil {
		return nil, internal("list refresh marks", err)
	}
	tabs := s.Inventory.Tabs(filters.Type)
	out := make([]TabView, 0, len(tabs))
	for _, tab := range tabs {
		uid := tab.UniqueID()
		out = append(out, TabView{
			UID:            uid,
			Header:         tab.Header(),
			Location:       tab,
			ItemCount:      len(s.Inventory.Items(inventory.Query{TabUID: uid})),
			RefreshChecked: marks[uid],
		})
	}
	return out, nil
}

// ListItems returns the items matching q.
func (s *ControlPlaneService) ListItems(q inventory.Query) []*model.Item {
	return s.Inventory.Items(q)
}

// ListTabItems returns the items of one tab.
func (s *ControlPlaneService) ListTabItems(uid string, q inventory.Query) ([]*model.Item, error) {
	if _, ok := s.Inventory.Tab(uid); !ok {
		return nil, notFound("tab not found")
	}
	q.TabUID = uid
	return s.Inventory.Items(q), nil
}

var refreshCheckedAllowedFields = map[string]bool{
	"checked": true,
}

// SetRefreshChecked marks or unmarks a tab for "checked" refreshes.
func (s *ControlPlaneService) SetRefreshChecked(uid string, body json.RawMessage) (TabView, error) {
	tab, ok := s.Inventory.Tab(uid)
	if !ok {
		return TabView{}, notFound("tab not found")
	}
	obj, verr := parseObjectBody(body)
	if verr != nil {
		return TabView{}, verr
	}
	if verr := obj.only(refreshCheckedAllowedFields, "unknown field"); verr != nil {
		return TabView{}, verr
	}
	checked, present, verr := obj.boolField("checked")
	if verr != nil {
		return TabView{}, verr
	}
	if !present {
		return TabView{}, invalidArg("checked: required")
	}

	if err := s.Engine.SetRefreshChecked(uid, checked, time.Now().UnixNano()); err != nil {
		return TabView{}, internal("persist refresh mark", err)
	}
	return TabView{
		UID:            uid,
		Header:         tab.Header(),
		Location:       tab,
		ItemCount:      len(s.Inventory.Items(inventory.Query{TabUID: uid})),
		RefreshChecked: checked,
	}, nil
}

// ------------------------------------------------------------------
// Reference data
// ------------------------------------------------------------------

// GetRefDataStatus returns the reference data store state.
func (s *ControlPlaneService) GetRefDataStatus() refdata.Status {
	return s.RefData.Status()
}

// UpdateRefDataNow refreshes reference data (blocks).
func (s *ControlPlaneService) UpdateRefDataNow() (refdata.Status, error) {
	if s.RefData.Status().Updating {
		return refdata.Status{}, conflict("reference data update already running")
	}
	if err := s.RefData.UpdateNow(); err != nil {
		return refdata.Status{}, internal("reference data update failed", err)
	}
	return s.RefData.Status(), nil
}
