package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// objectBody is a JSON object request body with its values still encoded.
// Bodies must be non-empty objects and null values are rejected.
type objectBody map[string]json.RawMessage

func parseObjectBody(body json.RawMessage) (objectBody, *ServiceError) {
	var obj objectBody
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, invalidArg("invalid JSON: " + err.Error())
	}
	if len(obj) == 0 {
		return nil, invalidArg("empty body")
	}
	return obj, nil
}

// only checks fields in sorted order so the reported field is stable.
// unknownMsg prefixes the name of a field missing from allowed.
func (b objectBody) only(allowed map[string]bool, unknownMsg string) *ServiceError {
	for _, key := range slices.Sorted(maps.Keys(b)) {
		if !allowed[key] {
			return invalidArg(fmt.Sprintf("%s: %q", unknownMsg, key))
		}
		if bytes.Equal(bytes.TrimSpace(b[key]), []byte("null")) {
			return invalidArg(fmt.Sprintf("null value not allowed for field: %q", key))
		}
	}
	return nil
}

// stringField returns the trimmed value of a non-empty string field.
func (b objectBody) stringField(name string) (string, bool, *ServiceError) {
	raw, ok := b[name]
	if !ok {
		return "", false, nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || strings.TrimSpace(v) == "" {
		return "", true, invalidArg(name + ": must be a non-empty string")
	}
	return strings.TrimSpace(v), true, nil
}

func (b objectBody) boolField(name string) (bool, bool, *ServiceError) {
	raw, ok := b[name]
	if !ok {
		return false, false, nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, true, invalidArg(name + ": must be a boolean")
	}
	return v, true, nil
}

// stringsField returns a list of trimmed, non-blank strings.
func (b objectBody) stringsField(name string) ([]string, bool, *ServiceError) {
	raw, ok := b[name]
	if !ok {
		return nil, false, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, true, invalidArg(name + ": must be an array")
	}
	out := make([]string, len(items))
	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil || strings.TrimSpace(s) == "" {
			return nil, true, invalidArg(fmt.Sprintf("%s[%d]: must be a non-empty string", name, i))
		}
		out[i] = strings.TrimSpace(s)
	}
	return out, true, nil
}
