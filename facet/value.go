package facet

import (
	"encoding"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// FormatValue converts a field value into the string used inside a facet key.
// The output is deterministic: equal values always produce equal strings.
func FormatValue(v any) string {
	if v == nil {
		return "nil"
	}

	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return hex.EncodeToString(t)
	case encoding.TextMarshaler:
		if text, err := t.MarshalText(); err == nil {
			return string(text)
		}
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	switch rt.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return FormatValue(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return "[]"
		}
		return formatList(rv)
	case reflect.Array:
		return formatList(rv)
	case reflect.Map:
		if rv.IsNil() {
			return "{}"
		}
		return formatMap(rv)
	case reflect.Struct:
		return formatStruct(rv, rt)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		// not addressable by value; keys built from these never match
		return fmt.Sprintf("%s:%p", rt.Kind(), v)
	}

	if isBasicKind(rt.Kind()) {
		return fmt.Sprintf("%v", v)
	}

	return jsonFallback(v)
}

// FormatFields converts every value of fields with FormatValue.
func FormatFields(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = FormatValue(v)
	}
	return out
}

func formatList(rv reflect.Value) string {
	parts := make([]string, rv.Len())
	for i := range parts {
		parts[i] = FormatValue(rv.Index(i).Interface())
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func formatMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, FormatValue(iter.Key().Interface())+"="+FormatValue(iter.Value().Interface()))
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}

func formatStruct(rv reflect.Value, rt reflect.Type) string {
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		parts = append(parts, field.Name+":"+FormatValue(rv.Field(i).Interface()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func isBasicKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}

func jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(data)
}
