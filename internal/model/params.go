package model

import (
	"fmt"
	"net/http"
)

// Source supplies named parameter values.
type Source interface {
	Lookup(name string) (any, bool)
}

// MapSource is a Source backed by a map.
type MapSource map[string]any

func (m MapSource) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// RequestSource reads parameters from a parsed request form.
type RequestSource struct {
	Request *http.Request
}

func (s RequestSource) Lookup(name string) (any, bool) {
	if s.Request == nil || s.Request.Form == nil {
		return nil, false
	}
	vals, ok := s.Request.Form[name]
	if !ok || len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

// bindParams builds the ordered argument list for a statement. Each
// declared name is taken from src when present; names src lacks take the
// next positional argument, in order. Positional arguments left over are
// appended.
func bindParams(names []string, src Source, args []any) ([]any, error) {
	if len(names) == 0 {
		return args, nil
	}
	out := make([]any, 0, len(names)+len(args))
	next := 0
	for _, name := range names {
		if src != nil {
			if v, ok := src.Lookup(name); ok {
				out = append(out, v)
				continue
			}
		}
		if next >= len(args) {
			return nil, fmt.Errorf("%w: %s", ErrMissingParameter, name)
		}
		out = append(out, args[next])
		next++
	}
	return append(out, args[next:]...), nil
}
