// Package render merges request templates with their layout and handles
// the error page.
//
// Each request goes through a two-pass merge. The screen template named by
// the URL is rendered into a buffer with the request's context and stored
// under screen_content; the layout is then resolved from the context (so a
// screen can pick its own layout) and merged into the response. Any failure
// is rendered through the error template by the same two passes, and a
// failure there produces a minimal inline page.
package render

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"net/http"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"viewtools/internal/engine"
	"viewtools/internal/metrics"
	"viewtools/internal/view"
)

// Reserved context keys.
const (
	KeyScreenContent       = "screen_content"
	KeyLayout              = "layout"
	KeyErrorCause          = "error_cause"
	KeyInvocationException = "invocation_exception"
	KeyStackTrace          = "stack_trace"

	KeyRequest     = "request"
	KeyResponse    = "response"
	KeySession     = "session"
	KeyApplication = "application"
)

// PipelineKey is the application attribute under which a pipeline
// publishes itself for tools that render other templates.
const PipelineKey = "viewtools.render.pipeline"

// Toolbox supplies the tool map for a request. *tools.Manager satisfies it.
type Toolbox interface {
	Toolbox(ctx view.Context) map[string]any
}

// Pipeline renders requests. It is safe for concurrent use.
type Pipeline struct {
	engine   engine.Engine
	toolbox  Toolbox
	settings Settings
	writers  *WriterPool

	sessions   *view.SessionStore
	app        *view.Attributes
	cookieName string

	log     *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics records render outcomes and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSessions enables server-side sessions for ServeHTTP.
func WithSessions(store *view.SessionStore, cookieName string) Option {
	return func(p *Pipeline) {
		p.sessions = store
		p.cookieName = cookieName
	}
}

// WithApplication sets the application attribute scope.
func WithApplication(app *view.Attributes) Option {
	return func(p *Pipeline) { p.app = app }
}

// New creates a pipeline. toolbox may be nil.
func New(eng engine.Engine, toolbox Toolbox, settings Settings, opts ...Option) *Pipeline {
	settings = settings.normalize()
	p := &Pipeline{
		engine:   eng,
		toolbox:  toolbox,
		settings: settings,
		writers:  NewWriterPool(settings.WriterPoolSize, settings.BufferSize),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.app == nil {
		p.app = view.NewAttributes()
	}
	p.app.Set(PipelineKey, p)
	return p
}

// Settings returns the normalized settings.
func (p *Pipeline) Settings() Settings {
	return p.settings
}

// Application returns the application attribute scope.
func (p *Pipeline) Application() *view.Attributes {
	return p.app
}

// ServeHTTP renders the template named by the request path.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vctx := view.NewHTTPContext(w, r, p.sessions, p.app, p.cookieName)
	p.Render(vctx, p.TemplateName(r))
}

// TemplateName maps a request path onto a template name. Directory paths
// map onto the index template.
func (p *Pipeline) TemplateName(r *http.Request) string {
	name := path.Clean("/" + r.URL.Path)[1:]
	if name == "" {
		return p.settings.IndexTemplate
	}
	if strings.HasSuffix(r.URL.Path, "/") {
		return name + "/" + p.settings.IndexTemplate
	}
	return name
}

// Render merges name for the request and writes the result to the
// response, going through the error template on failure. It returns the
// outcome recorded in metrics.
func (p *Pipeline) Render(vctx view.Context, name string) string {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: vctx.Response()}
	if p.settings.ContentType != "" && sw.Header().Get("Content-Type") == "" {
		sw.Header().Set("Content-Type", p.settings.ContentType)
	}

	bw := p.writers.Get(sw)
	defer func() {
		if err := p.writers.Release(bw); err != nil {
			p.log.Debug("flush failed", zap.String("template", name), zap.Error(err))
		}
	}()

	outcome := metrics.OutcomeOK
	err := p.guard(func() error {
		return p.mergeTemplate(name, p.createContext(vctx), bw)
	})
	if err != nil {
		outcome = p.error(vctx, name, err, sw, bw)
	}
	p.metrics.ObserveRender(outcome, time.Since(start))
	return outcome
}

// error renders the error page. The partially rendered page is dropped if
// none of it reached the client yet.
func (p *Pipeline) error(vctx view.Context, name string, cause error, sw *statusWriter, bw *bufio.Writer) string {
	p.log.Error("render failed", zap.String("template", name), zap.Error(cause))
	if !sw.written {
		bw.Reset(sw)
		if sw.status == 0 {
			sw.WriteHeader(http.StatusInternalServerError)
		}
	}

	err := p.guard(func() error {
		ctx := p.createContext(vctx)
		ctx.Put(KeyErrorCause, cause)
		var inv *engine.InvocationError
		if errors.As(cause, &inv) {
			ctx.Put(KeyInvocationException, inv.Cause())
		}
		ctx.Put(KeyStackTrace, formatTrace(cause))
		return p.mergeTemplate(p.settings.ErrorTemplate, ctx, bw)
	})
	if err == nil {
		return metrics.OutcomeError
	}

	p.log.Error("error template failed", zap.String("template", p.settings.ErrorTemplate), zap.Error(err))
	if !sw.written {
		bw.Reset(sw)
	}
	writeFallback(bw, cause, err)
	return metrics.OutcomeFallback
}

// guard runs fn, turning a panic into *PanicError.
func (p *Pipeline) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// createContext builds the context for one merge. Tools go in first so the
// request objects cannot be shadowed by a tool key.
func (p *Pipeline) createContext(vctx view.Context) engine.Context {
	ctx := engine.NewContext()
	if p.toolbox != nil {
		for k, v := range p.toolbox.Toolbox(vctx) {
			ctx[k] = v
		}
	}
	ctx.Put(KeyRequest, vctx.Request())
	ctx.Put(KeyResponse, vctx.Response())
	ctx.Put(KeyApplication, vctx.Application())
	if s := vctx.Session(false); s != nil {
		ctx.Put(KeySession, s)
	}
	if layout := vctx.Param(KeyLayout); layout != "" {
		ctx.Put(KeyLayout, layout)
	}
	return ctx
}

// mergeTemplate renders the screen into a buffer, then merges the layout
// into w.
func (p *Pipeline) mergeTemplate(name string, ctx engine.Context, w io.Writer) error {
	screen, err := p.mergeScreen(name, ctx)
	if err != nil {
		return err
	}
	ctx.Put(KeyScreenContent, htmltemplate.HTML(screen))

	layout, err := p.layout(ctx)
	if err != nil {
		return err
	}
	return layout.Merge(ctx, w)
}

func (p *Pipeline) mergeScreen(name string, ctx engine.Context) (string, error) {
	tmpl, err := p.engine.Template(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Merge(ctx, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// layout resolves the layout after the screen merge, falling back to the
// default layout when the chosen one cannot be loaded.
func (p *Pipeline) layout(ctx engine.Context) (engine.Template, error) {
	def := p.settings.DefaultLayoutPath()
	name := def
	if v, ok := ctx.Get(KeyLayout).(string); ok {
		// Confined to the layout directory.
		if v = path.Clean("/" + v)[1:]; v != "" {
			name = p.settings.LayoutDirectory + v
		}
	}

	tmpl, err := p.engine.Template(name)
	if err == nil {
		return tmpl, nil
	}
	if name == def {
		return nil, fmt.Errorf("load default layout: %w", err)
	}
	p.log.Warn("layout unavailable, using default",
		zap.String("layout", name), zap.String("default", def), zap.Error(err))

	tmpl, err = p.engine.Template(def)
	if err != nil {
		return nil, fmt.Errorf("load default layout: %w", err)
	}
	return tmpl, nil
}

// writeFallback writes a bare page for when the error template itself
// failed.
func writeFallback(w io.Writer, cause, err error) {
	fmt.Fprintf(w, "<html>\n<head><title>Error</title></head>\n<body>\n"+
		"<h2>Error rendering page</h2>\n<pre>%s</pre>\n"+
		"<h3>While rendering the error page</h3>\n<pre>%s</pre>\n"+
		"<h3>Stack trace</h3>\n<pre>%s</pre>\n</body>\n</html>\n",
		htmltemplate.HTMLEscapeString(cause.Error()),
		htmltemplate.HTMLEscapeString(err.Error()),
		htmltemplate.HTMLEscapeString(formatTrace(cause)))
}

// statusWriter records the status sent and whether any body bytes reached
// the client.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.written = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
