package engine

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcher evicts cached templates when files under a FileLoader root change.
// fsnotify is not recursive, so every directory below each root is added,
// and directories created later are picked up from Create events.
type watcher struct {
	fs     *fsnotify.Watcher
	roots  []string
	evict  func(name string)
	log    *zap.Logger
	doneCh chan struct{}
	once   sync.Once
}

func newWatcher(roots []string, evict func(string), log *zap.Logger) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fs:     fw,
		roots:  roots,
		evict:  evict,
		log:    log,
		doneCh: make(chan struct{}),
	}
	for _, root := range roots {
		w.addTree(root)
	}
	go w.run()
	return w, nil
}

func (w *watcher) addTree(dir string) {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fs.Add(p); err != nil {
				w.log.Warn("cannot watch template directory", zap.String("dir", p), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		w.log.Warn("template directory walk failed", zap.String("dir", dir), zap.Error(err))
	}
}

func (w *watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error("template watcher error", zap.Error(err))
		}
	}
}

func (w *watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if event.Has(fsnotify.Create) {
		w.addTree(event.Name)
	}
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, event.Name)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		name := filepath.ToSlash(rel)
		w.log.Debug("template changed", zap.String("template", name), zap.String("op", event.Op.String()))
		w.evict(name)
	}
}

// Close stops the watcher and waits for its goroutine.
func (w *watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.fs.Close()
		<-w.doneCh
	})
	return err
}
