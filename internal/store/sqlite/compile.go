// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// fieldNameRe restricts field names to plain identifiers so they can be
// embedded in a JSON path.
var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// compiled is a SELECT statement and its bound arguments.
type compiled struct {
	sql  string
	args []any
}

// fieldExpr returns the SQL expression for a document field. The "id"
// pseudo-field falls back to the row ID.
func fieldExpr(field string, args *[]any) (string, error) {
	if !fieldNameRe.MatchString(field) {
		return "", store.InvalidInput("unsafe field name", huddleerr.Field("field", field))
	}
	*args = append(*args, "$."+field)
	if field == "id" {
		return "COALESCE(json_extract(data, ?), id)", nil
	}
	return "json_extract(data, ?)", nil
}

// bindValue converts v into something go-sqlite3 binds the way json_extract
// reports the stored value.
func bindValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, store.InvalidInput(fmt.Sprintf("unsupported filter value type %T", v))
}

// compileQuery translates q into SQL over the documents table.
func compileQuery(q query.Query) (compiled, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "collection = ?")
	args = append(args, q.Collection)

	if q.Filter != nil {
		clause, err := compileFilter(*q.Filter, &args)
		if err != nil {
			return compiled{}, err
		}
		where = append(where, clause)
	}

	desc := q.Direction == query.Desc
	if q.After != nil {
		clause, err := compileCursor(q.OrderField, *q.After, desc, &args)
		if err != nil {
			return compiled{}, err
		}
		where = append(where, clause)
	}

	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	var order string
	if q.OrderField != "" {
		expr, err := fieldExpr(q.OrderField, &args)
		if err != nil {
			return compiled{}, err
		}
		order = fmt.Sprintf("%s %s, id %s", expr, dir, dir)
	} else {
		order = "id " + dir
	}

	var b strings.Builder
	b.WriteString("SELECT id, data FROM documents WHERE ")
	b.WriteString(strings.Join(where, " AND "))
	b.WriteString(" ORDER BY ")
	b.WriteString(order)
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return compiled{sql: b.String(), args: args}, nil
}

func compileFilter(f query.Filter, args *[]any) (string, error) {
	switch f.Operator {
	case query.OpArrayContains:
		if !fieldNameRe.MatchString(f.Field) {
			return "", store.InvalidInput("unsafe field name", huddleerr.Field("field", f.Field))
		}
		v, err := bindValue(f.Value)
		if err != nil {
			return "", err
		}
		*args = append(*args, "$."+f.Field, v)
		return "EXISTS (SELECT 1 FROM json_each(data, ?) WHERE value = ?)", nil

	case query.OpIn:
		expr, err := fieldExpr(f.Field, args)
		if err != nil {
			return "", err
		}
		rv := reflect.ValueOf(f.Value)
		marks := make([]string, rv.Len())
		for i := range rv.Len() {
			v, err := bindValue(rv.Index(i).Interface())
			if err != nil {
				return "", err
			}
			marks[i] = "?"
			*args = append(*args, v)
		}
		return fmt.Sprintf("%s IN (%s)", expr, strings.Join(marks, ", ")), nil
	}

	v, err := bindValue(f.Value)
	if err != nil {
		return "", err
	}

	if f.Operator == query.OpNotEqual {
		// A missing field counts as "not equal", which SQL NULL semantics
		// would otherwise drop. Each use of the expression binds the path again.
		expr, err := fieldExpr(f.Field, args)
		if err != nil {
			return "", err
		}
		expr2, _ := fieldExpr(f.Field, args)
		*args = append(*args, v)
		return fmt.Sprintf("(%s IS NULL OR %s != ?)", expr, expr2), nil
	}

	expr, err := fieldExpr(f.Field, args)
	if err != nil {
		return "", err
	}
	*args = append(*args, v)
	switch f.Operator {
	case query.OpEqual:
		return expr + " = ?", nil
	case query.OpLess:
		return expr + " < ?", nil
	case query.OpLessEqual:
		return expr + " <= ?", nil
	case query.OpGreater:
		return expr + " > ?", nil
	case query.OpGreaterEqual:
		return expr + " >= ?", nil
	}
	return "", store.InvalidInput(fmt.Sprintf("unsupported operator %q", f.Operator))
}

// compileCursor restricts results to rows strictly after c in the query's
// order. SQLite sorts NULL first ascending and last descending.
func compileCursor(orderField string, c query.Cursor, desc bool, args *[]any) (string, error) {
	idOp := ">"
	if desc {
		idOp = "<"
	}
	if orderField == "" {
		*args = append(*args, c.ID)
		return "id " + idOp + " ?", nil
	}

	if c.Value == nil {
		expr, err := fieldExpr(orderField, args)
		if err != nil {
			return "", err
		}
		*args = append(*args, c.ID)
		if desc {
			return fmt.Sprintf("(%s IS NULL AND id < ?)", expr), nil
		}
		return fmt.Sprintf("(%s IS NOT NULL OR id > ?)", expr), nil
	}

	v, err := bindValue(c.Value)
	if err != nil {
		return "", err
	}
	e1, err := fieldExpr(orderField, args)
	if err != nil {
		return "", err
	}
	*args = append(*args, v)
	e2, _ := fieldExpr(orderField, args)
	*args = append(*args, v, c.ID)
	clause := fmt.Sprintf("(%s %s ? OR (%s = ? AND id %s ?))", e1, idOp, e2, idOp)
	if desc {
		e3, _ := fieldExpr(orderField, args)
		clause = fmt.Sprintf("(%s OR %s IS NULL)", clause, e3)
	}
	return clause, nil
}
