package engine

import (
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"sync"
	texttemplate "text/template"
	"time"

	"go.uber.org/zap"

	"viewtools/internal/metrics"
)

// Template is a compiled template that can be merged with a context.
type Template interface {
	Name() string
	Merge(ctx Context, w io.Writer) error
}

// Engine resolves template names to compiled templates.
type Engine interface {
	Template(name string) (Template, error)
}

// Options configures an HTMLEngine.
type Options struct {
	// Loaders are consulted in order; the first one holding a name wins.
	Loaders []Loader

	Funcs htmltemplate.FuncMap

	// Cache compiled templates. Cached entries are revalidated against
	// their loader every CheckInterval when the loader implements Stater.
	Cache         bool
	CheckInterval time.Duration

	// Watch FileLoader roots and evict changed templates immediately.
	Watch bool

	// LoadTimeout bounds a single loader call. Defaults to 10s.
	LoadTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type cacheEntry struct {
	tmpl    *compiled
	loader  Loader
	modTime time.Time
	checked time.Time
}

// HTMLEngine compiles templates with html/template, so values merged into a
// page are escaped for their context.
type HTMLEngine struct {
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	watcher *watcher
}

// NewHTMLEngine creates an engine. It fails only if the watcher cannot be
// started.
func NewHTMLEngine(opts Options) (*HTMLEngine, error) {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 10 * time.Second
	}
	e := &HTMLEngine{
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}

	if opts.Watch && opts.Cache {
		var roots []string
		for _, l := range opts.Loaders {
			if fl, ok := l.(*FileLoader); ok {
				roots = append(roots, fl.Root())
			}
		}
		if len(roots) > 0 {
			w, err := newWatcher(roots, e.Evict, e.log)
			if err != nil {
				return nil, fmt.Errorf("start template watcher: %w", err)
			}
			e.watcher = w
		}
	}
	return e, nil
}

// Template returns the compiled template for name. Errors wrap
// ErrResourceNotFound or ErrParse, or come from the loader itself.
func (e *HTMLEngine) Template(name string) (Template, error) {
	name = cleanName(name)
	if !e.opts.Cache {
		t, _, _, err := e.load(name)
		return t, err
	}

	e.mu.RLock()
	entry := e.entries[name]
	e.mu.RUnlock()

	if entry != nil {
		if fresh := e.revalidate(name, entry); fresh {
			e.metrics.CacheEvent("hit")
			return entry.tmpl, nil
		}
	}

	e.metrics.CacheEvent("miss")
	t, loader, modTime, err := e.load(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.entries[name] = &cacheEntry{tmpl: t, loader: loader, modTime: modTime, checked: e.now()}
	e.mu.Unlock()
	return t, nil
}

// revalidate reports whether a cached entry may still be served.
func (e *HTMLEngine) revalidate(name string, entry *cacheEntry) bool {
	if e.opts.CheckInterval <= 0 {
		return true
	}
	now := e.now()
	e.mu.RLock()
	due := now.Sub(entry.checked) >= e.opts.CheckInterval
	e.mu.RUnlock()
	if !due {
		return true
	}
	stater, ok := entry.loader.(Stater)
	if !ok {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.LoadTimeout)
	defer cancel()
	modTime, err := stater.Stat(ctx, name)
	if err != nil || !modTime.Equal(entry.modTime) {
		e.Evict(name)
		return false
	}
	e.mu.Lock()
	entry.checked = now
	e.mu.Unlock()
	return true
}

func (e *HTMLEngine) load(name string) (*compiled, Loader, time.Time, error) {
	for _, l := range e.opts.Loaders {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.LoadTimeout)
		res, err := l.Load(ctx, name)
		cancel()
		if errors.Is(err, ErrResourceNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, time.Time{}, err
		}

		t, err := htmltemplate.New(name).Funcs(e.opts.Funcs).Parse(string(res.Data))
		if err != nil {
			return nil, nil, time.Time{}, fmt.Errorf("%w: %s: %w", ErrParse, name, err)
		}
		e.log.Debug("template loaded", zap.String("template", name), zap.String("loader", l.Name()))
		return &compiled{name: name, tmpl: t}, l, res.ModTime, nil
	}
	return nil, nil, time.Time{}, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
}

// Evict drops name from the cache.
func (e *HTMLEngine) Evict(name string) {
	name = cleanName(name)
	e.mu.Lock()
	_, ok := e.entries[name]
	delete(e.entries, name)
	e.mu.Unlock()
	if ok {
		e.metrics.CacheEvent("evict")
	}
}

// Cached reports whether name currently has a compiled cache entry.
func (e *HTMLEngine) Cached(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.entries[cleanName(name)]
	return ok
}

// Close stops the file watcher, if any.
func (e *HTMLEngine) Close() error {
	if e.watcher == nil {
		return nil
	}
	return e.watcher.Close()
}

type compiled struct {
	name string
	tmpl *htmltemplate.Template
}

func (c *compiled) Name() string { return c.name }

// Merge executes the template. A failure inside a function or method the
// template called is returned as *InvocationError; escaping failures wrap
// ErrParse.
func (c *compiled) Merge(ctx Context, w io.Writer) error {
	err := c.tmpl.Execute(w, ctx)
	if err == nil {
		return nil
	}

	var escErr *htmltemplate.Error
	if errors.As(err, &escErr) {
		return fmt.Errorf("%w: %s: %w", ErrParse, c.name, err)
	}

	var execErr texttemplate.ExecError
	if errors.As(err, &execErr) && errors.Unwrap(execErr.Err) != nil {
		return &InvocationError{Template: c.name, Err: err}
	}
	return fmt.Errorf("merge %s: %w", c.name, err)
}
