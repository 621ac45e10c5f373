package model

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Filter transforms a value read from the database.
type Filter func(any) any

// Named column filters usable from a definition.
var namedFilters = map[string]Filter{
	"trim":   stringFilter(strings.TrimSpace),
	"lower":  stringFilter(strings.ToLower),
	"upper":  stringFilter(strings.ToUpper),
	"bool":   boolFilter,
	"string": toStringFilter,
}

// LookupFilter returns a named column filter.
func LookupFilter(name string) (Filter, bool) {
	f, ok := namedFilters[strings.ToLower(name)]
	return f, ok
}

// DefaultTypeFilters returns the read filters applied by value type: raw
// bytes become strings.
func DefaultTypeFilters() map[reflect.Type]Filter {
	return map[reflect.Type]Filter{
		reflect.TypeOf([]byte(nil)): func(v any) any { return string(v.([]byte)) },
	}
}

func stringFilter(fn func(string) string) Filter {
	return func(v any) any {
		switch s := v.(type) {
		case string:
			return fn(s)
		case []byte:
			return fn(string(s))
		default:
			return v
		}
	}
}

func boolFilter(v any) any {
	switch b := v.(type) {
	case nil, bool:
		return v
	case int64:
		return b != 0
	case float64:
		return b != 0
	case []byte:
		return parseBool(string(b))
	case string:
		return parseBool(b)
	default:
		return v
	}
}

func parseBool(s string) any {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	switch strings.ToLower(s) {
	case "y", "yes", "on":
		return true
	case "n", "no", "off", "":
		return false
	}
	return s
}

func toStringFilter(v any) any {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}
