// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package query turns (collection, filter, order) descriptors into validated
// store queries and canonical de-duplication keys.
package query

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// Operator is a filter comparison understood by every store backend.
type Operator string

const (
	OpEqual         Operator = "=="
	OpNotEqual      Operator = "!="
	OpLess          Operator = "<"
	OpLessEqual     Operator = "<="
	OpGreater       Operator = ">"
	OpGreaterEqual  Operator = ">="
	OpArrayContains Operator = "array-contains"
	OpIn            Operator = "in"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpArrayContains, OpIn:
		return true
	}
	return false
}

// Direction is the sort order of a query.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter is a single field comparison.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Descriptor names a filtered, ordered view of one collection. It is a value
// type: copy it, never mutate a shared one.
type Descriptor struct {
	Collection     string
	Filter         *Filter
	OrderField     string
	OrderDirection Direction
	Limit          int
}

// WithLimit returns a copy of d bounded to n documents.
func (d Descriptor) WithLimit(n int) Descriptor {
	d.Limit = n
	return d
}

// direction returns the effective sort direction.
func (d Descriptor) direction() Direction {
	if d.OrderDirection == Desc {
		return Desc
	}
	return Asc
}

// Validate reports whether d can be sent to a store. A descriptor whose
// filter value is not yet known (nil, "", empty slice) is invalid; callers
// treat it as "no query" and resolve to an empty result.
func Validate(d Descriptor) bool {
	if d.Collection == "" || d.Limit < 0 {
		return false
	}
	if d.Filter == nil {
		return true
	}
	f := d.Filter
	if f.Field == "" || !f.Operator.Valid() {
		return false
	}
	if isEmptyValue(f.Value) {
		return false
	}
	if f.Operator == OpIn && !isSlice(f.Value) {
		return false
	}
	return true
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface, reflect.Map:
		return rv.IsNil()
	}
	return false
}

func isSlice(v any) bool {
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// CanonicalKey encodes d deterministically. Equivalent descriptors produce
// equal keys regardless of how map-valued filter values were built. Names
// are quoted and values JSON-encoded, so every part is self-delimiting and
// no name can forge a separator.
func CanonicalKey(d Descriptor) string {
	var b strings.Builder
	b.WriteString(strconv.Quote(d.Collection))
	b.WriteByte('|')
	if d.Filter != nil {
		b.WriteString(strconv.Quote(d.Filter.Field))
		b.WriteByte('|')
		b.WriteString(strconv.Quote(string(d.Filter.Operator)))
		b.WriteByte('|')
		b.WriteString(encodeValue(d.Filter.Value))
	} else {
		b.WriteString("-|-|-")
	}
	b.WriteByte('|')
	b.WriteString(strconv.Quote(d.OrderField))
	b.WriteByte('|')
	b.WriteString(string(d.direction()))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(d.Limit))
	return b.String()
}

// encodeValue relies on encoding/json sorting map keys, which makes the
// encoding independent of map construction order.
func encodeValue(v any) string {
	raw, err := json.Marshal(normalizeNumbers(v))
	if err != nil {
		return "!" + reflect.TypeOf(v).String()
	}
	return string(raw)
}

// normalizeNumbers maps every numeric kind onto float64 so that int(1) and
// float64(1) share a key, matching how they compare at the store.
func normalizeNumbers(v any) any {
	if f, ok := toFloat(v); ok {
		return f
	}
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeNumbers(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeNumbers(e)
		}
		return out
	}
	return v
}
