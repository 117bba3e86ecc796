// Package jsonval provides typed accessors over free-form JSON metadata maps.
// Accessors return (value, ok) pairs with explicit decoding; there is no
// silent coercion between types.
package jsonval

import (
	"encoding/json"
	"strings"
)

// Map is a free-form JSON object as stored in metadata and config values.
type Map map[string]interface{}

// GetString returns the string at key.
func (m Map) GetString(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetBool returns the bool at key.
func (m Map) GetBool(key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetInt64 returns the integer at key. JSON numbers decode as float64; the
// value must be integral to convert.
func (m Map) GetInt64(key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// GetFloat64 returns the number at key.
func (m Map) GetFloat64(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// GetMap returns the nested object at key.
func (m Map) GetMap(key string) (Map, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	switch mm := v.(type) {
	case Map:
		return mm, true
	case map[string]interface{}:
		return Map(mm), true
	default:
		return nil, false
	}
}

// GetPath walks a dotted path ("referral.maxDepth") through nested objects.
func (m Map) GetPath(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			v, ok := cur[p]
			return v, ok
		}
		next, ok := cur.GetMap(p)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// Clone deep-copies the map through a JSON round trip. Used before handing
// metadata to callers that may mutate it.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return Map{}
	}
	var out Map
	if err := json.Unmarshal(raw, &out); err != nil {
		return Map{}
	}
	return out
}

// Redact returns a copy with the given dotted paths replaced by "[redacted]".
// Used for config summaries that must not leak credentials.
func (m Map) Redact(paths []string) Map {
	out := m.Clone()
	for _, path := range paths {
		redactPath(out, strings.Split(path, "."))
	}
	return out
}

func redactPath(m Map, parts []string) {
	if len(parts) == 0 || m == nil {
		return
	}
	if len(parts) == 1 {
		if _, ok := m[parts[0]]; ok {
			m[parts[0]] = "[redacted]"
		}
		return
	}
	next, ok := m.GetMap(parts[0])
	if !ok {
		return
	}
	m[parts[0]] = next
	redactPath(next, parts[1:])
}
