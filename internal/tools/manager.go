package tools

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"viewtools/internal/logging"
	"viewtools/internal/metrics"
	"viewtools/internal/view"
)

// SessionToolsKey is the session attribute holding the session's tool map.
const SessionToolsKey = "viewtools.toolbox.session-tools"

// Manager turns a toolbox definition into the per-request tool map.
//
// Application tools are built once, on the first request. Session tools are
// built once per session and cached on it. Request tools are built on every
// call. Duplicate keys were resolved when the manager was created, so the
// three groups never collide.
type Manager struct {
	log           *zap.Logger
	metrics       *metrics.Metrics
	createSession bool

	application []*Descriptor
	session     []*Descriptor
	request     []*Descriptor

	appOnce  sync.Once
	appTools map[string]any

	sessions singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for configuration errors.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = logging.OrNop(l) }
}

// WithMetrics records scope builds and tool failures.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a manager from a definition. Descriptors are processed
// in order and a later key replaces an earlier one, whatever its scope.
func NewManager(def *Definition, opts ...Option) *Manager {
	m := &Manager{log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	if def == nil {
		def = &Definition{}
	}
	m.createSession = def.CreateSession

	order := make([]string, 0, len(def.Descriptors))
	byKey := make(map[string]*Descriptor, len(def.Descriptors))
	for _, d := range def.Descriptors {
		if err := d.Validate(); err != nil {
			m.log.Error("skipping invalid descriptor", zap.String("key", d.Key), zap.Error(err))
			continue
		}
		if prev, ok := byKey[d.Key]; ok {
			m.log.Warn("tool key redefined, last definition wins",
				zap.String("key", d.Key),
				zap.Stringer("previous_scope", prev.Scope),
				zap.Stringer("scope", d.Scope))
		} else {
			order = append(order, d.Key)
		}
		byKey[d.Key] = d
	}

	for _, key := range order {
		d := byKey[key]
		switch d.Scope {
		case ScopeApplication:
			m.application = append(m.application, d)
		case ScopeSession:
			m.session = append(m.session, d)
		default:
			m.request = append(m.request, d)
		}
	}
	return m
}

// Descriptors returns the effective descriptors grouped application,
// session, request.
func (m *Manager) Descriptors() []*Descriptor {
	all := make([]*Descriptor, 0, len(m.application)+len(m.session)+len(m.request))
	all = append(all, m.application...)
	all = append(all, m.session...)
	return append(all, m.request...)
}

// Toolbox returns the merged key→instance map for one request.
func (m *Manager) Toolbox(ctx view.Context) map[string]any {
	m.appOnce.Do(func() {
		m.appTools = m.build(ScopeApplication, m.application, ctx)
	})

	result := make(map[string]any, len(m.appTools)+len(m.session)+len(m.request))
	for k, v := range m.appTools {
		result[k] = v
	}

	if len(m.session) > 0 {
		if sess := ctx.Session(m.createSession); sess != nil {
			for k, v := range m.sessionTools(ctx, sess) {
				result[k] = v
			}
		} else {
			m.log.Warn("no session, session tools omitted", zap.Int("count", len(m.session)))
		}
	}

	if len(m.request) > 0 {
		for k, v := range m.build(ScopeRequest, m.request, ctx) {
			result[k] = v
		}
	}
	return result
}

// sessionTools returns the session's tool map, building it on first use.
// Concurrent first requests of one session share a single build.
func (m *Manager) sessionTools(ctx view.Context, sess *view.Session) map[string]any {
	if tb, ok := cachedSessionTools(sess); ok {
		return tb
	}
	v, _, _ := m.sessions.Do(sess.ID(), func() (any, error) {
		if tb, ok := cachedSessionTools(sess); ok {
			return tb, nil
		}
		tb := m.build(ScopeSession, m.session, ctx)
		sess.Set(SessionToolsKey, tb)
		return tb, nil
	})
	return v.(map[string]any)
}

func cachedSessionTools(sess *view.Session) (map[string]any, bool) {
	v, ok := sess.Get(SessionToolsKey)
	if !ok {
		return nil, false
	}
	tb, ok := v.(map[string]any)
	return tb, ok
}

// build instantiates one scope group. Failing tools are logged and skipped.
func (m *Manager) build(scope Scope, descriptors []*Descriptor, ctx view.Context) map[string]any {
	tools := make(map[string]any, len(descriptors))
	for _, d := range descriptors {
		obj, err := d.newInstance(ctx)
		if err != nil {
			m.log.Error("skipping tool",
				zap.String("key", d.Key),
				zap.Stringer("scope", scope),
				zap.Error(err))
			m.metrics.ToolFailed(scope.String())
			continue
		}
		tools[d.Key] = obj
	}
	m.metrics.ToolboxBuilt(scope.String())
	return tools
}
