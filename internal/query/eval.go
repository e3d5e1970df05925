// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package query

import (
	"cmp"
	"encoding/json"
	"reflect"
	"slices"
	"time"

	"github.com/sigil-dev/huddle/internal/document"
)

// Match reports whether doc satisfies q's filter.
func (q Query) Match(doc document.Document) bool {
	if q.Filter == nil {
		return true
	}
	f := q.Filter
	v, ok := doc.Get(f.Field)

	switch f.Operator {
	case OpArrayContains:
		if !ok {
			return false
		}
		return containsValue(v, f.Value)
	case OpIn:
		if !ok {
			return false
		}
		return containsValue(f.Value, v)
	case OpNotEqual:
		return !ok || CompareValues(v, f.Value) != 0
	}

	if !ok || rank(v) != rank(f.Value) {
		return false
	}
	c := CompareValues(v, f.Value)
	switch f.Operator {
	case OpEqual:
		return c == 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

// Compare orders a and b the way q's store sorts them: by the order field,
// then by ID, both in q's direction.
func (q Query) Compare(a, b document.Document) int {
	c := q.compareAsc(a, b)
	if q.Direction == Desc {
		return -c
	}
	return c
}

func (q Query) compareAsc(a, b document.Document) int {
	if q.OrderField != "" {
		av, _ := a.Get(q.OrderField)
		bv, _ := b.Get(q.OrderField)
		if c := CompareValues(av, bv); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ID, b.ID)
}

// afterCursor reports whether doc sorts strictly after c.
func (q Query) afterCursor(doc document.Document, c Cursor) bool {
	var fields map[string]any
	if q.OrderField != "" {
		fields = map[string]any{q.OrderField: c.Value}
	}
	return q.Compare(doc, document.Document{ID: c.ID, Fields: fields}) > 0
}

// Apply evaluates q over docs in process: filter, sort, cursor, limit. The
// memory backend and the live merge in the pager rely on it.
func (q Query) Apply(docs []document.Document) []document.Document {
	out := make([]document.Document, 0, len(docs))
	for _, d := range docs {
		if !q.Match(d) {
			continue
		}
		if q.After != nil && !q.afterCursor(d, *q.After) {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, q.Compare)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// rank gives a total order across value types: null < bool < number <
// string < time < other.
func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := v.(bool); ok {
		return 1
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	switch v.(type) {
	case string:
		return 3
	case time.Time:
		return 4
	}
	return 5
}

// CompareValues is the value ordering shared by every backend.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 0:
		return 0
	case 1:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 2:
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		return cmp.Compare(af, bf)
	case 3:
		return cmp.Compare(a.(string), b.(string))
	case 4:
		return a.(time.Time).Compare(b.(time.Time))
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return cmp.Compare(encodeValue(a), encodeValue(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// containsValue reports whether the slice in list holds an element equal to v.
func containsValue(list, v any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := range rv.Len() {
		e := rv.Index(i).Interface()
		if rank(e) == rank(v) && CompareValues(e, v) == 0 {
			return true
		}
	}
	return false
}
