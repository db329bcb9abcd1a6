package scanner

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

type Queryer interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

// Scanner scans pgx.Rows into structs.
//
// Columns are mapped into fields
//
//  1. with tag `sql:"column_name"`, or
//  2. named as the CamelCase version of the column name ("plugin_inst_id" -> "PluginInstId").
//
// Scanning rows with unmapped columns is an error.
type Scanner[T any] struct {
	fields map[string]int
}

func New[T any]() *Scanner[T] {
	t := reflect.TypeOf(*new(T))
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("scanner: %s is not a struct", t))
	}

	fields := map[string]int{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		fields[f.Name] = i
		if tag, ok := f.Tag.Lookup("sql"); ok {
			fields[tag] = i
		}
	}
	return &Scanner[T]{fields: fields}
}

func camel(column string) string {
	b := &strings.Builder{}
	for _, w := range strings.Split(column, "_") {
		if w == "" {
			continue
		}
		b.WriteString(strings.ToUpper(w[:1]))
		b.WriteString(w[1:])
	}
	return b.String()
}

func (s *Scanner[T]) ScanAll(rows pgx.Rows) ([]T, error) {
	cols := rows.FieldDescriptions()
	index := make([]int, len(cols))
	for nth, fd := range cols {
		col := string(fd.Name)
		i, ok := s.fields[col]
		if !ok {
			i, ok = s.fields[camel(col)]
		}
		if !ok {
			return nil, fmt.Errorf(
				`field for column "%s" (%s) is not found in %T`,
				col, typeName(fd.DataTypeOID), *new(T),
			)
		}
		index[nth] = i
	}

	ret := []T{}
	for rows.Next() {
		elem := new(T)
		v := reflect.ValueOf(elem).Elem()
		dest := make([]interface{}, len(index))
		for nth, i := range index {
			dest[nth] = v.Field(i).Addr().Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		ret = append(ret, *elem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Scanner[T]) QueryAll(ctx context.Context, conn Queryer, q string, params ...interface{}) ([]T, error) {
	rows, err := conn.Query(ctx, q, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.ScanAll(rows)
}

var connInfo = pgtype.NewConnInfo()

func typeName(oid uint32) string {
	if dt, ok := connInfo.DataTypeForOID(oid); ok {
		return dt.Name
	}
	return fmt.Sprintf("oid %d", oid)
}
