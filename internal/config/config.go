package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	dserrors "github.com/systmms/vaultenv/internal/errors"
	"github.com/systmms/vaultenv/internal/logging"
	"gopkg.in/yaml.v3"
)

// DefaultOrigin is the header origin of written .env blocks.
const DefaultOrigin = "VaultEnv"

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition

	// Set from root flags.
	Timeout time.Duration
	Trace   bool
}

// Definition represents the vaultenv.yaml structure
type Definition struct {
	Version     int          `yaml:"version" json:"version"`
	Origin      string       `yaml:"origin,omitempty" json:"origin,omitempty"`
	Connections []Connection `yaml:"connections" json:"connections"`
}

// Load reads, schema-checks and parses the vaultenv.yaml file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create a vaultenv.yaml with a 'connections:' list or pass --config",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}

	c.Definition = def
	if c.Logger != nil {
		c.Logger.Debug("Loaded %d connection(s) from %s", len(def.Connections), c.Path)
	}
	return nil
}

// Parse decodes a configuration document.
func Parse(data []byte) (*Definition, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "configuration does not match the expected structure",
			Suggestion: err.Error(),
		}
	}

	if def.Version != 0 {
		return nil, dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your vaultenv.yaml file",
		}
	}

	return &def, nil
}

// HeaderOrigin returns the origin written in .env block headers.
func (d *Definition) HeaderOrigin() string {
	if d == nil || strings.TrimSpace(d.Origin) == "" {
		return DefaultOrigin
	}
	return d.Origin
}

// Problem describes a connection entry dropped during validation.
type Problem struct {
	Index  int
	Name   string
	Reason string
}

func (p Problem) String() string {
	name := p.Name
	if strings.TrimSpace(name) == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("connections[%d] (%s): %s", p.Index, name, p.Reason)
}

// ValidConnections returns the usable connections: entries failing
// validation are dropped, ${VAR} references are expanded, endpoints are
// normalized, and duplicates by name keep the last occurrence. The result is
// ordered by the position of those last occurrences.
func (d *Definition) ValidConnections() []Connection {
	if d == nil {
		return nil
	}
	valid, _ := Resolve(d.Connections)
	return valid
}

// Problems lists every entry ValidConnections drops, including duplicates
// shadowed by a later entry with the same name.
func (d *Definition) Problems() []Problem {
	if d == nil {
		return nil
	}
	_, problems := Resolve(d.Connections)
	return problems
}

// Resolve applies expansion, validation and de-duplication to connections.
func Resolve(connections []Connection) ([]Connection, []Problem) {
	var problems []Problem

	type candidate struct {
		index int
		conn  Connection
	}
	valid := make([]candidate, 0, len(connections))
	for i, conn := range connections {
		expanded, err := conn.Expand()
		if err == nil {
			err = expanded.Validate()
		}
		if err != nil {
			problems = append(problems, Problem{Index: i, Name: conn.Name, Reason: err.Error()})
			continue
		}
		valid = append(valid, candidate{index: i, conn: expanded.Normalized()})
	}

	// Walk backwards so the last occurrence of a name wins, then restore
	// input order.
	seen := make(map[string]bool, len(valid))
	kept := make([]candidate, 0, len(valid))
	for i := len(valid) - 1; i >= 0; i-- {
		c := valid[i]
		if seen[c.conn.Name] {
			problems = append(problems, Problem{Index: c.index, Name: c.conn.Name, Reason: "shadowed by a later connection with the same name"})
			continue
		}
		seen[c.conn.Name] = true
		kept = append(kept, c)
	}

	out := make([]Connection, len(kept))
	for i, c := range kept {
		out[len(kept)-1-i] = c.conn
	}

	sort.SliceStable(problems, func(i, j int) bool { return problems[i].Index < problems[j].Index })
	return out, problems
}
