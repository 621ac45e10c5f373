package engine

import "sort"

// Context is the namespace a template is merged with. Templates read
// entries as fields ({{.screen_content}}) and can write through Put:
//
//	{{.Put "layout" "Wide.html"}}
type Context map[string]any

// NewContext creates an empty context.
func NewContext() Context {
	return make(Context)
}

// Put stores value under key. It returns "" so that templates can call it
// without producing output.
func (c Context) Put(key string, value any) string {
	c[key] = value
	return ""
}

// Get returns the value stored under key, or nil.
func (c Context) Get(key string) any {
	return c[key]
}

// Has reports whether key is present.
func (c Context) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Remove deletes key. It returns "" for the same reason as Put.
func (c Context) Remove(key string) string {
	delete(c, key)
	return ""
}

// Keys returns the keys, sorted.
func (c Context) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
