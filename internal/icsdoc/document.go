package icsdoc

import (
	"sort"
	"strings"
)

// Document is one parsed block level. Values are either a string (plain
// field) or a []Document (one entry per BEGIN of that block type).
type Document map[string]any

// Field returns the scalar value stored under key.
func (d Document) Field(key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok
}

// Blocks returns the nested blocks of the given type, or nil.
func (d Document) Blocks(name string) []Document {
	v, _ := d[name].([]Document)
	return v
}

// First returns the first nested block of the given type.
func (d Document) First(name string) (Document, bool) {
	blocks := d.Blocks(name)
	if len(blocks) == 0 {
		return nil, false
	}
	return blocks[0], true
}

// Property looks up a field by property name, tolerating parameters on the
// key ("DTSTART;TZID=Europe/London"). Names compare case-insensitively and
// an exact key wins over a parameterized one. Parameter names are upper-cased.
func (d Document) Property(name string) (value string, params map[string]string, ok bool) {
	if v, ok := d.Field(name); ok {
		return v, nil, true
	}

	keys := make([]string, 0, 1)
	for k := range d {
		prop, _, _ := strings.Cut(k, ";")
		if strings.EqualFold(prop, name) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, isField := d.Field(k)
		if !isField {
			continue
		}
		return v, parseParams(k), true
	}
	return "", nil, false
}

func parseParams(key string) map[string]string {
	parts := strings.Split(key, ";")
	if len(parts) < 2 {
		return nil
	}
	params := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		k, v, _ := strings.Cut(p, "=")
		params[strings.ToUpper(k)] = strings.Trim(v, `"`)
	}
	return params
}
