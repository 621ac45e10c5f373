package engine

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
)

// Resource is the raw source of a template.
type Resource struct {
	Name    string
	Data    []byte
	ModTime time.Time
}

// Loader fetches template sources by name. Names use forward slashes and
// are relative to the loader's root. A missing template is reported with
// an error wrapping ErrResourceNotFound.
type Loader interface {
	Name() string
	Load(ctx context.Context, name string) (*Resource, error)
}

// Stater is implemented by loaders that can report a modification time
// without fetching the content. The engine uses it to revalidate cached
// templates.
type Stater interface {
	Stat(ctx context.Context, name string) (time.Time, error)
}

// cleanName normalizes a template name and strips any attempt to climb
// above the root.
func cleanName(name string) string {
	return path.Clean("/" + name)[1:]
}

// FileLoader reads templates from a directory.
type FileLoader struct {
	root string
}

// NewFileLoader creates a loader rooted at dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{root: dir}
}

func (f *FileLoader) Name() string { return "file:" + f.root }

// Root returns the directory templates are read from.
func (f *FileLoader) Root() string { return f.root }

func (f *FileLoader) path(name string) string {
	return filepath.Join(f.root, filepath.FromSlash(cleanName(name)))
}

func (f *FileLoader) Load(_ context.Context, name string) (*Resource, error) {
	p := f.path(name)
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrResourceNotFound, name)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return &Resource{Name: name, Data: data, ModTime: info.ModTime()}, nil
}

func (f *FileLoader) Stat(_ context.Context, name string) (time.Time, error) {
	info, err := os.Stat(f.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// MemoryLoader serves templates held in memory.
type MemoryLoader struct {
	mu        sync.RWMutex
	templates map[string]Resource
	now       func() time.Time
}

// NewMemoryLoader creates a loader preloaded with name→source pairs.
func NewMemoryLoader(templates map[string]string) *MemoryLoader {
	m := &MemoryLoader{templates: make(map[string]Resource), now: time.Now}
	for name, src := range templates {
		m.Set(name, src)
	}
	return m
}

func (m *MemoryLoader) Name() string { return "memory" }

// Set adds or replaces a template.
func (m *MemoryLoader) Set(name, src string) {
	name = cleanName(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[name] = Resource{Name: name, Data: []byte(src), ModTime: m.now()}
}

// Delete removes a template.
func (m *MemoryLoader) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.templates, cleanName(name))
}

func (m *MemoryLoader) Load(_ context.Context, name string) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.templates[cleanName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
	}
	return &res, nil
}

func (m *MemoryLoader) Stat(ctx context.Context, name string) (time.Time, error) {
	res, err := m.Load(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	return res.ModTime, nil
}
