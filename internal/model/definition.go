package model

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is the declarative model: connection settings, entities and
// their attributes.
type Definition struct {
	Driver         string         `yaml:"driver"`
	DSN            string         `yaml:"dsn"`
	Placeholder    string         `yaml:"placeholder"` // "?" or "$"
	Case           string         `yaml:"case"`        // lowercase, uppercase, unchanged
	MaxConnections int            `yaml:"max_connections"`
	CheckInterval  string         `yaml:"check_interval"`
	StatementIdle  string         `yaml:"statement_idle"`
	Init           []string       `yaml:"init"`
	Entities       []EntityDef    `yaml:"entities"`
	Attributes     []AttributeDef `yaml:"attributes"`
}

// EntityDef declares one entity.
type EntityDef struct {
	Name          string            `yaml:"name"`
	Table         string            `yaml:"table"`
	Keys          []string          `yaml:"keys"`
	Autoincrement bool              `yaml:"autoincrement"`
	Aliases       map[string]string `yaml:"aliases"` // field -> column
	Filters       map[string]string `yaml:"filters"` // field -> named read filter
	Attributes    []AttributeDef    `yaml:"attributes"`
}

// AttributeDef declares one attribute.
type AttributeDef struct {
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind"`
	Query  string   `yaml:"query"`
	Params []string `yaml:"params"`
	Result string   `yaml:"result"`
}

// LoadDefinition reads a YAML model definition.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition parses a YAML model definition.
func ParseDefinition(data []byte) (*Definition, error) {
	def := &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return def, nil
}

const (
	defaultMaxConnections = 8
	defaultCheckInterval  = time.Minute
	defaultStatementIdle  = 10 * time.Minute
)

func (d *Definition) maxConnections() int {
	if d.MaxConnections <= 0 {
		return defaultMaxConnections
	}
	return d.MaxConnections
}

func (d *Definition) checkInterval() time.Duration {
	return parseDuration(d.CheckInterval, defaultCheckInterval)
}

func (d *Definition) statementIdle() time.Duration {
	return parseDuration(d.StatementIdle, defaultStatementIdle)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks the parts of a definition that cannot be repaired with a
// default.
func (d *Definition) Validate() error {
	if d.Driver == "" {
		return fmt.Errorf("model driver not configured")
	}
	if d.DSN == "" {
		return fmt.Errorf("model dsn not configured")
	}
	if _, err := ParsePlaceholder(d.Placeholder, d.Driver); err != nil {
		return err
	}
	if _, err := ParseCase(d.Case); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, e := range d.Entities {
		if e.Name == "" {
			return fmt.Errorf("entity without a name")
		}
		if seen[e.Name] {
			return fmt.Errorf("entity %s declared twice", e.Name)
		}
		seen[e.Name] = true
		if len(e.Keys) > 0 && e.Table == "" {
			return fmt.Errorf("entity %s declares keys but no table", e.Name)
		}
		for _, a := range e.Attributes {
			if err := a.validate(); err != nil {
				return fmt.Errorf("entity %s: %w", e.Name, err)
			}
		}
	}
	for _, a := range d.Attributes {
		if err := a.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (a AttributeDef) validate() error {
	if a.Name == "" {
		return fmt.Errorf("attribute without a name")
	}
	if _, err := ParseKind(a.Kind); err != nil {
		return fmt.Errorf("attribute %s: %w", a.Name, err)
	}
	if strings.TrimSpace(a.Query) == "" {
		return fmt.Errorf("attribute %s: empty query", a.Name)
	}
	return nil
}

// Placeholder is the bind-parameter style used in generated statements.
type Placeholder int

const (
	PlaceholderQuestion Placeholder = iota // ?
	PlaceholderDollar                      // $1, $2, ...
)

// ParsePlaceholder parses a placeholder style. An empty style is derived
// from the driver.
func ParsePlaceholder(s, driver string) (Placeholder, error) {
	switch s {
	case "?":
		return PlaceholderQuestion, nil
	case "$":
		return PlaceholderDollar, nil
	case "":
		if DriverName(driver) == "pgx" {
			return PlaceholderDollar, nil
		}
		return PlaceholderQuestion, nil
	default:
		return PlaceholderQuestion, fmt.Errorf("unknown placeholder style %q", s)
	}
}

// Format returns the placeholder for the n-th parameter, counting from 1.
func (p Placeholder) Format(n int) string {
	if p == PlaceholderDollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Case is the naming convention mapping column names to field names.
type Case int

const (
	CaseLower Case = iota
	CaseUpper
	CaseUnchanged
)

// ParseCase parses a naming convention. Empty means lowercase.
func ParseCase(s string) (Case, error) {
	switch strings.ToLower(s) {
	case "", "lowercase", "lower":
		return CaseLower, nil
	case "uppercase", "upper":
		return CaseUpper, nil
	case "unchanged", "sensitive":
		return CaseUnchanged, nil
	default:
		return CaseLower, fmt.Errorf("unknown naming case %q", s)
	}
}

// Apply maps a column name onto a field name.
func (c Case) Apply(column string) string {
	switch c {
	case CaseUpper:
		return strings.ToUpper(column)
	case CaseUnchanged:
		return column
	default:
		return strings.ToLower(column)
	}
}
