package render

import (
	"strings"

	"viewtools/internal/config"
)

// Property keys accepted by FromProperties. They keep their historical
// names so existing deployment descriptors can be reused as-is.
const (
	PropErrorTemplate   = "tools.view.servlet.error.template"
	PropLayoutDirectory = "tools.view.servlet.layout.directory"
	PropDefaultLayout   = "tools.view.servlet.layout.default.template"
)

// Defaults.
const (
	DefaultErrorTemplate   = "Error.html"
	DefaultLayoutDirectory = "layout/"
	DefaultLayoutTemplate  = "Default.html"
	DefaultIndexTemplate   = "index.html"
	DefaultContentType     = "text/html; charset=UTF-8"
	DefaultWriterPoolSize  = 40
	DefaultBufferSize      = 8192
)

// Settings configures a Pipeline.
type Settings struct {
	ErrorTemplate   string
	LayoutDirectory string
	DefaultLayout   string
	IndexTemplate   string
	ContentType     string
	WriterPoolSize  int
	BufferSize      int
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		ErrorTemplate:   DefaultErrorTemplate,
		LayoutDirectory: DefaultLayoutDirectory,
		DefaultLayout:   DefaultLayoutTemplate,
		IndexTemplate:   DefaultIndexTemplate,
		ContentType:     DefaultContentType,
		WriterPoolSize:  DefaultWriterPoolSize,
		BufferSize:      DefaultBufferSize,
	}
}

// FromProperties overlays the legacy property keys onto the defaults.
// Unknown keys are ignored.
func FromProperties(props map[string]string) Settings {
	s := DefaultSettings()
	s.applyProperties(props)
	return s.normalize()
}

// SettingsFromConfig maps the templates section of the configuration,
// with its legacy properties applied last.
func SettingsFromConfig(c config.TemplatesConfig) Settings {
	s := DefaultSettings()
	if c.ErrorTemplate != "" {
		s.ErrorTemplate = c.ErrorTemplate
	}
	if c.LayoutDirectory != "" {
		s.LayoutDirectory = c.LayoutDirectory
	}
	if c.DefaultLayout != "" {
		s.DefaultLayout = c.DefaultLayout
	}
	if c.IndexTemplate != "" {
		s.IndexTemplate = c.IndexTemplate
	}
	if c.ContentType != "" {
		s.ContentType = c.ContentType
	}
	if c.WriterPoolSize > 0 {
		s.WriterPoolSize = c.WriterPoolSize
	}
	if c.BufferSize > 0 {
		s.BufferSize = c.BufferSize
	}
	s.applyProperties(c.Properties)
	return s.normalize()
}

func (s *Settings) applyProperties(props map[string]string) {
	if v := props[PropErrorTemplate]; v != "" {
		s.ErrorTemplate = v
	}
	if v := props[PropLayoutDirectory]; v != "" {
		s.LayoutDirectory = v
	}
	if v := props[PropDefaultLayout]; v != "" {
		s.DefaultLayout = v
	}
}

func (s Settings) normalize() Settings {
	if s.LayoutDirectory != "" && !strings.HasSuffix(s.LayoutDirectory, "/") {
		s.LayoutDirectory += "/"
	}
	if s.WriterPoolSize <= 0 {
		s.WriterPoolSize = DefaultWriterPoolSize
	}
	if s.BufferSize <= 0 {
		s.BufferSize = DefaultBufferSize
	}
	return s
}

// DefaultLayoutPath is the layout directory joined with the default layout.
func (s Settings) DefaultLayoutPath() string {
	return s.LayoutDirectory + s.DefaultLayout
}
