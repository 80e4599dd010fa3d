package model

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Hash is a 128-bit xxh3 digest, written as 32 lowercase hex digits.
type Hash [16]byte

// Keys that only describe where an item sits. They are dropped before
// hashing so moving an item keeps its identity.
var positionKeys = []string{"x", "y", "inventoryId", "socketedItems", "socket"}

// HashItemJSON hashes raw item JSON without its position keys. The rest is
// re-encoded through a map, which sorts keys at every level, so key order
// in the input does not matter. Input that is not a JSON object is hashed
// as is.
func HashItemJSON(raw []byte) Hash {
	var obj map[string]any
	if json.Unmarshal(raw, &obj) != nil {
		return Hash(xxh3.Hash128(raw).Bytes())
	}
	for _, k := range positionKeys {
		delete(obj, k)
	}
	canon, err := json.Marshal(obj)
	if err != nil {
		return Hash(xxh3.Hash128(raw).Bytes())
	}
	return Hash(xxh3.Hash128(canon).Bytes())
}

func HashString(s string) Hash {
	return Hash(xxh3.HashString128(s).Bytes())
}

func (h Hash) Hex() string    { return hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool   { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error) {
	return hex.AppendEncode(nil, h[:]), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != len(h) {
		return fmt.Errorf("hash %q: want %d hex digits", text, 2*len(h))
	}
	var out Hash
	if _, err := hex.Decode(out[:], text); err != nil {
		return fmt.Errorf("hash %q: %w", text, err)
	}
	*h = out
	return nil
}
