package tools

import (
	"net/url"
	"sort"
	"strconv"
	"time"

	"viewtools/internal/view"
)

// Built-in type names.
const (
	TypeParameter = "tools.ParameterTool"
	TypeDate      = "tools.DateTool"
	TypeSession   = "tools.SessionTool"
)

// RegisterBuiltins registers the built-in tool types with the given registry.
func RegisterBuiltins(registry *Registry) error {
	builtins := []*Type{
		{
			Name:        TypeParameter,
			Description: "Typed access to request parameters",
			New:         func() any { return &ParameterTool{} },
		},
		{
			Name:        TypeDate,
			Description: "Current time and date formatting",
			New:         func() any { return &DateTool{} },
		},
		{
			Name:        TypeSession,
			Description: "Attribute access on the current session",
			New:         func() any { return &SessionTool{} },
		},
	}

	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// ParameterTool reads the parameters of the request it was created for.
type ParameterTool struct {
	values url.Values
}

func (p *ParameterTool) Init(ctx view.Context) error {
	r := ctx.Request()
	if err := r.ParseForm(); err != nil {
		return err
	}
	p.values = r.Form
	return nil
}

func (p *ParameterTool) DefaultScope() Scope { return ScopeRequest }

// Get returns the first value of name, or "".
func (p *ParameterTool) Get(name string) string {
	return p.values.Get(name)
}

// Values returns every value of name.
func (p *ParameterTool) Values(name string) []string {
	return p.values[name]
}

// Int returns name parsed as an integer, or def.
func (p *ParameterTool) Int(name string, def int) int {
	n, err := strconv.Atoi(p.values.Get(name))
	if err != nil {
		return def
	}
	return n
}

// Bool returns name parsed as a boolean, or def.
func (p *ParameterTool) Bool(name string, def bool) bool {
	b, err := strconv.ParseBool(p.values.Get(name))
	if err != nil {
		return def
	}
	return b
}

// Names returns the parameter names, sorted.
func (p *ParameterTool) Names() []string {
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DateTool formats times. It is stateless after configuration and safe to
// share.
type DateTool struct {
	format   string
	location *time.Location
}

func (d *DateTool) DefaultScope() Scope { return ScopeApplication }

// Configure accepts "format" (a Go layout) and "timezone" (an IANA name).
func (d *DateTool) Configure(params map[string]string) error {
	d.format = params["format"]
	if tz := params["timezone"]; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		d.location = loc
	}
	return nil
}

// Now returns the current time in the configured location.
func (d *DateTool) Now() time.Time {
	if d.location != nil {
		return time.Now().In(d.location)
	}
	return time.Now()
}

// Format formats t with the configured layout.
func (d *DateTool) Format(t time.Time) string {
	layout := d.format
	if layout == "" {
		layout = time.RFC1123
	}
	if d.location != nil {
		t = t.In(d.location)
	}
	return t.Format(layout)
}

// SessionTool exposes the attributes of the session it was created for.
type SessionTool struct {
	session *view.Session
}

func (s *SessionTool) Init(ctx view.Context) error {
	s.session = ctx.Session(true)
	return nil
}

func (s *SessionTool) DefaultScope() Scope { return ScopeSession }

// ID returns the session id, or "" without a session.
func (s *SessionTool) ID() string {
	if s.session == nil {
		return ""
	}
	return s.session.ID()
}

// Get returns a session attribute.
func (s *SessionTool) Get(key string) any {
	if s.session == nil {
		return nil
	}
	v, _ := s.session.Get(key)
	return v
}

// Set stores a session attribute. It returns "" so templates can call it
// inline.
func (s *SessionTool) Set(key string, value any) string {
	if s.session != nil {
		s.session.Set(key, value)
	}
	return ""
}
