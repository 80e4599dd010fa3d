package model

import (
	"encoding/json"
	"testing"
)

func rawList(t *testing.T, s string) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestTabSignatures_LegacyKeys(t *testing.T) {
	sigs := TabSignatures(rawList(t, `[{"n":"Dump","id":"0123456789abcdef"},{"n":"Maps","id":"x"}]`))
	if len(sigs) != 2 {
		t.Fatalf("got %d signatures", len(sigs))
	}
	if sigs[0] != (TabSignature{Label: "Dump", ID: "0123456789"}) {
		t.Fatalf("unexpected first signature: %+v", sigs[0])
	}
	if sigs[1] != (TabSignature{Label: "Maps", ID: "x"}) {
		t.Fatalf("unexpected second signature: %+v", sigs[1])
	}
}

func TestTabSignatures_CharactersKeepFullID(t *testing.T) {
	sigs := TabSignatures(rawList(t, `[{"name":"Hero","class":"Witch","id":"0123456789abcdef"}]`))
	if sigs[0].ID != "0123456789abcdef" {
		t.Fatalf("character ids must not be truncated: %q", sigs[0].ID)
	}
}

func TestTabSignatures_Defaults(t *testing.T) {
	sigs := TabSignatures(rawList(t, `[{"name":""},{}]`))
	for i, sig := range sigs {
		if sig.Label != UnknownTabName || sig.ID != UnknownTabID {
			t.Fatalf("signature %d: got %+v", i, sig)
		}
	}
	if TabSignatures(nil) != nil {
		t.Fatal("empty listing should give nil")
	}
}

func TestSignatureOf(t *testing.T) {
	loc := NewStashLocation(0, "0123456789", "Dump", "", 0, 0, 0, nil)
	if got := SignatureOf(loc); got != (TabSignature{Label: "Dump", ID: "0123456789"}) {
		t.Fatalf("got %+v", got)
	}
}
