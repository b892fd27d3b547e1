package keys

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// KeySeparator delimits the operation and its serialized arguments.
const KeySeparator = "::"

// KeySerializer turns an operation and its arguments into a stable string.
type KeySerializer interface {
	SerializeKey(operation string, args ...any) string
}

type reflectSerializer struct{}

// NewSerializer returns the default reflection-based serializer. Equal
// arguments produce equal keys across runs: maps are emitted in sorted key
// order and pointers are dereferenced.
func NewSerializer() KeySerializer {
	return reflectSerializer{}
}

func (s reflectSerializer) SerializeKey(operation string, args ...any) string {
	if len(args) == 0 {
		return operation
	}

	var b strings.Builder
	b.WriteString(operation)
	for _, arg := range args {
		b.WriteString(KeySeparator)
		b.WriteString(s.value(arg))
	}
	return b.String()
}

func (s reflectSerializer) value(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr && rv.IsNil() {
			return "nil"
		}
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return s.value(rv.Elem().Interface())

	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return "slice" + s.sequence(rv)

	case reflect.Array:
		return "array" + s.sequence(rv)

	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		return s.mapping(rv)

	case reflect.Struct:
		return s.structure(rv)

	case reflect.Func, reflect.Chan:
		return fmt.Sprintf("%s:%p", rv.Kind(), v)

	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return fmt.Sprintf("%v", v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "type:" + rv.Type().String()
	}
	return "json:" + string(data)
}

func (s reflectSerializer) sequence(rv reflect.Value) string {
	parts := make([]string, rv.Len())
	for i := range parts {
		parts[i] = s.value(rv.Index(i).Interface())
	}
	return fmt.Sprintf("[%d]:{%s}", len(parts), strings.Join(parts, ","))
}

func (s reflectSerializer) mapping(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, s.value(iter.Key().Interface())+"="+s.value(iter.Value().Interface()))
	}
	sort.Strings(pairs)
	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

func (s reflectSerializer) structure(rv reflect.Value) string {
	rt := rv.Type()
	parts := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		parts = append(parts, field.Name+":"+s.value(rv.Field(i).Interface()))
	}
	return "struct:{" + strings.Join(parts, ",") + "}"
}
