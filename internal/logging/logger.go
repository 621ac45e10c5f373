// Package logging provides config-driven categorized logging for viewtools.
// A single root zap.Logger is built from configuration and every component
// receives a named child for its category. Categories switched off in the
// configuration get a no-op logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot    Category = "boot"    // Boot/initialization
	CategoryToolbox Category = "toolbox" // Tool configuration and scoped assembly
	CategoryRender  Category = "render"  // Two-pass merge and error pages
	CategoryEngine  Category = "engine"  // Template loading, cache, watcher
	CategoryModel   Category = "model"   // Entities, attributes, instances
	CategoryPool    Category = "pool"    // Connection and statement pools
	CategorySession Category = "session" // Session store
	CategoryHTTP    Category = "http"    // Server lifecycle
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string
	Format     string
	File       string
	Categories map[string]bool
}

// categoryFilter holds the categories switched off for one root.
type categoryFilter struct {
	disabled map[Category]bool
}

// Root is the process logger plus its category filter.
type Root struct {
	*zap.Logger
	filter categoryFilter
}

// New builds the root logger.
func New(opts Options) (*Root, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "", "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	sink := zapcore.Lock(os.Stderr)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		sink = zapcore.Lock(f)
	}

	core := zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(level))
	return Wrap(zap.New(core, zap.AddCaller()), opts.Categories), nil
}

// Wrap turns an existing logger into a Root, applying category switches.
// Unknown or absent categories stay enabled.
func Wrap(l *zap.Logger, categories map[string]bool) *Root {
	if l == nil {
		l = zap.NewNop()
	}
	f := categoryFilter{disabled: make(map[Category]bool)}
	for name, enabled := range categories {
		if !enabled {
			f.disabled[Category(name)] = true
		}
	}
	return &Root{Logger: l, filter: f}
}

// Nop returns a root that discards everything.
func Nop() *Root {
	return Wrap(zap.NewNop(), nil)
}

// For returns the named logger for a category.
func (r *Root) For(c Category) *zap.Logger {
	if r == nil || r.Logger == nil || r.filter.disabled[c] {
		return zap.NewNop()
	}
	return r.Logger.Named(string(c))
}

// IsCategoryEnabled returns whether a specific category is enabled.
func (r *Root) IsCategoryEnabled(c Category) bool {
	return r != nil && !r.filter.disabled[c]
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// ParseLevel maps a configured level name onto a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
