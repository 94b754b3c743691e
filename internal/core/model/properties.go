package model

import (
	"bytes"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Properties is an insertion-ordered property map. The zero value is empty and ready to use.
type Properties struct {
	m *orderedmap.OrderedMap[string, Value]
}

func NewProperties() Properties {
	return Properties{m: orderedmap.New[string, Value]()}
}

// PropertiesFrom builds properties from plain Go values. Keys are inserted in sorted order
// since Go maps carry none.
func PropertiesFrom(values map[string]any) Properties {
	p := NewProperties()
	for _, k := range SortedKeys(values) {
		p.Set(k, FromAny(values[k]))
	}
	return p
}

func (p *Properties) init() {
	if p.m == nil {
		p.m = orderedmap.New[string, Value]()
	}
}

func (p Properties) Len() int {
	if p.m == nil {
		return 0
	}
	return p.m.Len()
}

func (p Properties) Get(key string) (Value, bool) {
	if p.m == nil {
		return Value{}, false
	}
	return p.m.Get(key)
}

// Has reports whether key is present, even with a null value.
func (p Properties) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Set overwrites an existing key in place or appends a new one.
func (p *Properties) Set(key string, v Value) {
	p.init()
	p.m.Set(key, v)
}

func (p *Properties) Delete(key string) {
	if p.m == nil {
		return
	}
	p.m.Delete(key)
}

func (p Properties) Keys() []string {
	if p.m == nil {
		return nil
	}
	keys := make([]string, 0, p.m.Len())
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Range visits entries in insertion order until fn returns false.
func (p Properties) Range(fn func(key string, v Value) bool) {
	if p.m == nil {
		return
	}
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

func (p Properties) Clone() Properties {
	out := NewProperties()
	p.Range(func(k string, v Value) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// String returns the named property when it holds a string.
func (p Properties) String(key string) string {
	v, ok := p.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

func (p Properties) ToMap() map[string]any {
	out := make(map[string]any, p.Len())
	p.Range(func(k string, v Value) bool {
		out[k] = v.Any()
		return true
	})
	return out
}

func (p Properties) Equal(o Properties) bool {
	if p.Len() != o.Len() {
		return false
	}
	equal := true
	p.Range(func(k string, v Value) bool {
		ov, ok := o.Get(k)
		if !ok || !v.Equal(ov) {
			equal = false
		}
		return equal
	})
	return equal
}

func (p Properties) MarshalJSON() ([]byte, error) {
	if p.m == nil || p.m.Len() == 0 {
		return []byte("{}"), nil
	}
	return p.m.MarshalJSON()
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	p.m = orderedmap.New[string, Value]()
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	return p.m.UnmarshalJSON(data)
}
