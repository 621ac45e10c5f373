package tools

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"viewtools/internal/logging"
)

// Definition is a loaded toolbox: classified descriptors in document order
// plus toolbox-wide options.
type Definition struct {
	// CreateSession makes the manager create a session when session tools
	// exist and the request has none.
	CreateSession bool

	Descriptors []*Descriptor
}

// Keys returns the descriptor keys in document order.
func (d *Definition) Keys() []string {
	keys := make([]string, 0, len(d.Descriptors))
	for _, desc := range d.Descriptors {
		keys = append(keys, desc.Key)
	}
	return keys
}

// DataSpec is an unparsed data entry.
type DataSpec struct {
	Key   string
	Type  string // string, number, boolean
	Value string
}

// ParseData converts a data entry into its typed constant.
func ParseData(spec DataSpec) (*Descriptor, error) {
	if spec.Key == "" {
		return nil, ErrKeyEmpty
	}
	var value any
	switch strings.ToLower(strings.TrimSpace(spec.Type)) {
	case "", "string":
		value = spec.Value
	case "number":
		s := strings.TrimSpace(spec.Value)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			value = n
		} else if f, err := strconv.ParseFloat(s, 64); err == nil {
			value = f
		} else {
			return nil, fmt.Errorf("%w: %s: %q is not a number", ErrInvalidData, spec.Key, spec.Value)
		}
	case "boolean":
		b, err := strconv.ParseBool(strings.TrimSpace(spec.Value))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q is not a boolean", ErrInvalidData, spec.Key, spec.Value)
		}
		value = b
	default:
		return nil, fmt.Errorf("%w: %s: unknown type %q", ErrInvalidData, spec.Key, spec.Type)
	}
	return DataDescriptor(spec.Key, value), nil
}

// Loader reads toolbox definitions, classifying tools against a registry.
// Bad entries are logged and skipped; only an unreadable or unparsable
// document is an error.
type Loader struct {
	registry *Registry
	log      *zap.Logger
}

// NewLoader creates a loader. A nil registry means the global one.
func NewLoader(registry *Registry, log *zap.Logger) *Loader {
	if registry == nil {
		registry = Global()
	}
	return &Loader{registry: registry, log: logging.OrNop(log)}
}

// LoadFile reads a definition, choosing XML for .xml files and YAML otherwise.
func (l *Loader) LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read toolbox: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return l.ParseXML(data)
	}
	return l.ParseYAML(data)
}

type yamlToolbox struct {
	CreateSession *bool      `yaml:"create_session"`
	Data          []yamlData `yaml:"data"`
	Tools         []yamlTool `yaml:"tools"`
}

type yamlData struct {
	Key   string `yaml:"key"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

type yamlTool struct {
	Key        string            `yaml:"key"`
	Class      string            `yaml:"class"`
	Scope      string            `yaml:"scope"`
	Lifecycle  string            `yaml:"lifecycle"`
	Init       *bool             `yaml:"init"`
	Parameters map[string]string `yaml:"parameters"`
}

// ParseYAML reads a YAML definition. Data entries precede tools.
func (l *Loader) ParseYAML(data []byte) (*Definition, error) {
	var doc yamlToolbox
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse toolbox: %w", err)
	}

	def := &Definition{CreateSession: true}
	if doc.CreateSession != nil {
		def.CreateSession = *doc.CreateSession
	}
	for _, d := range doc.Data {
		l.addData(def, DataSpec{Key: d.Key, Type: d.Type, Value: d.Value})
	}
	for _, t := range doc.Tools {
		scope := t.Scope
		if scope == "" {
			scope = t.Lifecycle
		}
		l.addTool(def, ToolSpec{Key: t.Key, Class: t.Class, Scope: scope, Init: t.Init, Params: t.Parameters})
	}
	return def, nil
}

type xmlToolbox struct {
	XMLName       xml.Name   `xml:"toolbox"`
	CreateSession *string    `xml:"create-session"`
	XHTML         string     `xml:"xhtml"`
	Entries       []xmlEntry `xml:",any"`
}

type xmlEntry struct {
	XMLName    xml.Name
	Type       string         `xml:"type,attr"`
	Key        string         `xml:"key"`
	Value      string         `xml:"value"`
	Class      string         `xml:"class"`
	Scope      string         `xml:"scope"`
	Lifecycle  string         `xml:"lifecycle"`
	Init       *bool          `xml:"init"`
	Parameters []xmlParameter `xml:"parameter"`
}

type xmlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ParseXML reads the legacy XML toolbox format. Entry order is kept, so a
// data entry and a tool sharing a key resolve to whichever comes last.
func (l *Loader) ParseXML(data []byte) (*Definition, error) {
	var doc xmlToolbox
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse toolbox: %w", err)
	}

	def := &Definition{CreateSession: true}
	if doc.CreateSession != nil {
		if b, err := strconv.ParseBool(strings.TrimSpace(*doc.CreateSession)); err == nil {
			def.CreateSession = b
		} else {
			l.log.Warn("ignoring invalid create-session value", zap.String("value", *doc.CreateSession))
		}
	}

	for _, e := range doc.Entries {
		switch e.XMLName.Local {
		case "data":
			l.addData(def, DataSpec{Key: strings.TrimSpace(e.Key), Type: e.Type, Value: e.Value})
		case "tool":
			scope := e.Scope
			if scope == "" {
				scope = e.Lifecycle
			}
			var params map[string]string
			if len(e.Parameters) > 0 {
				params = make(map[string]string, len(e.Parameters))
				for _, p := range e.Parameters {
					params[p.Name] = p.Value
				}
			}
			l.addTool(def, ToolSpec{
				Key:    strings.TrimSpace(e.Key),
				Class:  strings.TrimSpace(e.Class),
				Scope:  strings.TrimSpace(scope),
				Init:   e.Init,
				Params: params,
			})
		default:
			l.log.Warn("ignoring unknown toolbox element", zap.String("element", e.XMLName.Local))
		}
	}
	return def, nil
}

func (l *Loader) addData(def *Definition, spec DataSpec) {
	d, err := ParseData(spec)
	if err != nil {
		l.log.Error("skipping data entry", zap.String("key", spec.Key), zap.Error(err))
		return
	}
	def.Descriptors = append(def.Descriptors, d)
}

func (l *Loader) addTool(def *Definition, spec ToolSpec) {
	d, err := l.registry.Classify(spec)
	if err != nil {
		l.log.Error("skipping tool", zap.String("key", spec.Key), zap.String("class", spec.Class), zap.Error(err))
		return
	}
	l.log.Debug("tool classified",
		zap.String("key", d.Key),
		zap.String("class", d.TypeName),
		zap.Stringer("scope", d.Scope),
		zap.Stringer("kind", d.Kind()),
		zap.Bool("init", d.NeedsInit))
	def.Descriptors = append(def.Descriptors, d)
}
