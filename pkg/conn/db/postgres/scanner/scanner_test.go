package scanner

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/fnndsc/plinst/pkg/utils/cmp"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

func TestCamel(t *testing.T) {
	for column, expected := range map[string]string{
		"id":                  "Id",
		"plugin_instance_id":  "PluginInstanceId",
		"_leading_underscore": "LeadingUnderscore",
		"double__underscore":  "DoubleUnderscore",
		"Already":             "Already",
	} {
		if actual := camel(column); actual != expected {
			t.Errorf("%s: (actual, expected) = (%s, %s)", column, actual, expected)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("fields are mapped by name and by tag", func(t *testing.T) {
		type row struct {
			Id       int64
			Owner    string `sql:"owner_username"`
			internal string
		}
		testee := New[row]()

		for col, expected := range map[string]int{"Id": 0, "Owner": 1, "owner_username": 1} {
			if actual, ok := testee.fields[col]; !ok || actual != expected {
				t.Errorf("%s: (actual, expected) = (%d, %d)", col, actual, expected)
			}
		}
		if _, ok := testee.fields["internal"]; ok {
			t.Error("unexported field should not be mapped")
		}
	})

	t.Run("it panics for non-struct types", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("it should panic")
			}
		}()
		New[int]()
	})
}

func TestTypeName(t *testing.T) {
	if actual := typeName(pgtype.TextOID); actual != "text" {
		t.Errorf("(actual, expected) = (%s, %s)", actual, "text")
	}
	if actual := typeName(4294967295); actual != "oid 4294967295" {
		t.Errorf("(actual, expected) = (%s, %s)", actual, "oid 4294967295")
	}
}

// rows is pgx.Rows over values in memory.
type rows struct {
	fields []pgproto3.FieldDescription
	values [][]interface{}
	err    error

	cursor int
	closed bool
}

var _ pgx.Rows = &rows{}

func (r *rows) Close()                                         { r.closed = true }
func (r *rows) Err() error                                     { return r.err }
func (r *rows) CommandTag() pgconn.CommandTag                  { return nil }
func (r *rows) FieldDescriptions() []pgproto3.FieldDescription { return r.fields }
func (r *rows) RawValues() [][]byte                            { return nil }

func (r *rows) Next() bool {
	if r.closed || len(r.values) <= r.cursor {
		r.closed = true
		return false
	}
	r.cursor += 1
	return true
}

func (r *rows) Values() ([]interface{}, error) {
	return r.values[r.cursor-1], nil
}

func (r *rows) Scan(dest ...interface{}) error {
	row := r.values[r.cursor-1]
	if len(dest) != len(row) {
		return fmt.Errorf("%d values for %d destinations", len(row), len(dest))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func field(name string, oid uint32) pgproto3.FieldDescription {
	return pgproto3.FieldDescription{Name: []byte(name), DataTypeOID: oid}
}

func TestScanAll(t *testing.T) {
	type file struct {
		Id         int64
		InstanceId int64 `sql:"plugin_inst_id"`
		Path       string
	}

	t.Run("columns are scanned into fields by tag or by name", func(t *testing.T) {
		given := &rows{
			fields: []pgproto3.FieldDescription{
				field("path", pgtype.TextOID),
				field("id", pgtype.Int8OID),
				field("plugin_inst_id", pgtype.Int8OID),
			},
			values: [][]interface{}{
				{"chris/feed_1/a.txt", int64(1), int64(3)},
				{"chris/feed_1/b.txt", int64(2), int64(3)},
			},
		}

		actual, err := New[file]().ScanAll(given)
		if err != nil {
			t.Fatal(err)
		}
		expected := []file{
			{Id: 1, InstanceId: 3, Path: "chris/feed_1/a.txt"},
			{Id: 2, InstanceId: 3, Path: "chris/feed_1/b.txt"},
		}
		if !cmp.SliceEq(actual, expected) {
			t.Errorf("(actual, expected) = (%+v, %+v)", actual, expected)
		}
	})

	t.Run("no rows are an empty slice", func(t *testing.T) {
		given := &rows{fields: []pgproto3.FieldDescription{field("id", pgtype.Int8OID)}}
		actual, err := New[file]().ScanAll(given)
		if err != nil {
			t.Fatal(err)
		}
		if actual == nil || len(actual) != 0 {
			t.Errorf("(actual, expected) = (%#v, %#v)", actual, []file{})
		}
	})

	t.Run("unmapped column is an error", func(t *testing.T) {
		given := &rows{
			fields: []pgproto3.FieldDescription{field("size", pgtype.Int8OID)},
			values: [][]interface{}{{int64(42)}},
		}
		_, err := New[file]().ScanAll(given)
		if err == nil {
			t.Fatal("it should be an error")
		}
		if msg := err.Error(); !strings.Contains(msg, `"size" (int8)`) {
			t.Errorf("message should name the column and its type: %s", msg)
		}
	})

	t.Run("error while reading is returned", func(t *testing.T) {
		expected := errors.New("connection reset")
		given := &rows{fields: []pgproto3.FieldDescription{field("id", pgtype.Int8OID)}, err: expected}
		if _, err := New[file]().ScanAll(given); !errors.Is(err, expected) {
			t.Errorf("(actual, expected) = (%v, %v)", err, expected)
		}
	})
}
