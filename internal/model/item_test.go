package model

import (
	"encoding/json"
	"sort"
	"testing"
)

type stubClassifier struct{}

func (stubClassifier) ItemCategory(baseType string) string {
	if baseType == "Vaal Regalia" {
		return "body armours"
	}
	return ""
}

func (stubClassifier) MatchMod(line string) (string, []float64, bool) {
	switch line {
	case "+40 to maximum Life":
		return "+# to maximum Life", []float64{40}, true
	case "+20 to maximum Life":
		return "+# to maximum Life", []float64{20}, true
	case "Adds 2 to 4 Fire Damage":
		return "Adds # to # Fire Damage", []float64{2, 4}, true
	}
	return "", nil, false
}

func TestNewItem_ParsesFields(t *testing.T) {
	raw := json.RawMessage(`{
		"id":"i1",
		"name":"<<set:MS>><<set:M>><<set:S>>Doom Shell",
		"typeLine":"Vaal Regalia",
		"baseType":"Vaal Regalia",
		"x":3,"y":4,"w":2,"h":3,"inventoryId":"Stash1",
		"implicitMods":["+20 to maximum Life"],
		"explicitMods":["+40 to maximum Life","Adds 2 to 4 Fire Damage","Unknown mod"]
	}`)
	loc := NewStashLocation(0, "tab", "Dump", "", 0, 0, 0, nil)

	it, err := NewItem(raw, loc, stubClassifier{})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	if it.Name != "Doom Shell" {
		t.Fatalf("markup should be stripped: %q", it.Name)
	}
	if it.PrettyName() != "Doom Shell Vaal Regalia" {
		t.Fatalf("PrettyName: %q", it.PrettyName())
	}
	if it.Category != "body armours" {
		t.Fatalf("Category: %q", it.Category)
	}
	if it.Location.X != 3 || it.Location.Y != 4 || it.Location.InventoryID != "Stash1" {
		t.Fatalf("location rect not copied: %+v", it.Location)
	}
	if got := it.ModTable["+# to maximum Life"]; got != 60 {
		t.Fatalf("life total: got %v, want 60", got)
	}
	if got := it.ModTable["Adds # to # Fire Damage"]; got != 3 {
		t.Fatalf("fire damage average: got %v, want 3", got)
	}
	if len(it.TextMods["explicitMods"]) != 3 {
		t.Fatalf("explicit mods: %v", it.TextMods["explicitMods"])
	}
}

func TestNewItem_NilClassifier(t *testing.T) {
	it, err := NewItem(json.RawMessage(`{"typeLine":"Chaos Orb"}`), ItemLocation{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if it.Category != "" || it.ModTable != nil {
		t.Fatalf("nil classifier should leave reference fields empty: %+v", it)
	}
	if it.BaseType != "Chaos Orb" {
		t.Fatalf("base type should default to type line: %q", it.BaseType)
	}
	if it.PrettyName() != "Chaos Orb" {
		t.Fatalf("PrettyName: %q", it.PrettyName())
	}
}

func TestNewItem_RejectsNonObject(t *testing.T) {
	if _, err := NewItem(json.RawMessage(`[1,2]`), ItemLocation{}, nil); err == nil {
		t.Fatal("expected error for array")
	}
	if _, err := NewItem(json.RawMessage(`null`), ItemLocation{}, nil); err == nil {
		t.Fatal("expected error for null")
	}
}

func TestItem_Less(t *testing.T) {
	tabA := NewStashLocation(0, "a", "A", "", 0, 0, 0, nil)
	tabB := NewStashLocation(1, "b", "B", "", 0, 0, 0, nil)
	mk := func(raw string, loc ItemLocation) *Item {
		it, err := NewItem(json.RawMessage(raw), loc, nil)
		if err != nil {
			t.Fatal(err)
		}
		return it
	}
	items := []*Item{
		mk(`{"typeLine":"Z","x":0,"y":0}`, tabB),
		mk(`{"typeLine":"B","x":1,"y":0}`, tabA),
		mk(`{"typeLine":"A","x":0,"y":1}`, tabA),
		mk(`{"typeLine":"A","x":5,"y":5}`, tabB),
		mk(`{"typeLine":"C","x":0,"y":0}`, tabA),
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Less(items[j]) })

	want := []string{"A/A", "A/B", "A/C", "B/A", "B/Z"}
	for i, w := range want {
		if got := items[i].Location.Label + "/" + items[i].TypeLine; got != w {
			t.Fatalf("position %d: got %q, want %q", i, got, w)
		}
	}
}

func TestParseTabSelection(t *testing.T) {
	for _, s := range []TabSelection{SelectAll, SelectChecked, SelectSelected} {
		parsed, err := ParseTabSelection(s.String())
		if err != nil || parsed != s {
			t.Fatalf("round trip %v: got %v, %v", s, parsed, err)
		}
	}
	if _, err := ParseTabSelection("some"); err == nil {
		t.Fatal("expected error")
	}
}
