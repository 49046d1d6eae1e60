package graphdef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Errors returned while loading and building definitions.
var (
	ErrUnknownNodeType   = errors.New("unknown node type")
	ErrInvalidEndpoint   = errors.New("endpoint must be node.port")
	ErrInvalidNode       = errors.New("invalid node definition")
	ErrUndefinedVar      = errors.New("undefined variable")
	ErrUnsupportedFormat = errors.New("unsupported definition format")
)

// Definition is the serialisable form of a graph.
type Definition struct {
	Name        string          `yaml:"name" json:"name"`
	Entries     []string        `yaml:"entries,omitempty" json:"entries,omitempty"`
	Vars        map[string]any  `yaml:"vars,omitempty" json:"vars,omitempty"`
	Nodes       []NodeDef       `yaml:"nodes" json:"nodes"`
	Connections []ConnectionDef `yaml:"connections" json:"connections"`
}

// NodeDef describes one node. Which fields apply depends on Type.
type NodeDef struct {
	ID      string   `yaml:"id" json:"id"`
	Type    string   `yaml:"type" json:"type"`
	Inputs  []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`

	// switch
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// case_switch
	Field string   `yaml:"field,omitempty" json:"field,omitempty"`
	Cases []string `yaml:"cases,omitempty" json:"cases,omitempty"`

	// merge
	Strategy string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	SkipNone *bool  `yaml:"skip_none,omitempty" json:"skip_none,omitempty"`

	// Params carries type-specific settings for custom factories and the
	// constant type's "value".
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// ConnectionDef routes From ("node.port") to To ("node.port"), optionally
// selecting a nested field of the value with Path.
type ConnectionDef struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Load reads a definition file, choosing the format by extension:
// .yaml, .yml or .json.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// ParseYAML decodes a YAML definition. Unknown fields are rejected.
func ParseYAML(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("parse yaml definition: %w", err)
	}
	return &def, nil
}

// ParseJSON decodes a JSON definition. Unknown fields are rejected.
func ParseJSON(data []byte) (*Definition, error) {
	var def Definition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("parse json definition: %w", err)
	}
	return &def, nil
}

// EncodeYAML renders def as YAML.
func (def *Definition) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(def)
}

// splitEndpoint parses "node.port".
func splitEndpoint(s string) (node, port string, err error) {
	node, port, ok := strings.Cut(s, ".")
	if !ok || node == "" || port == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, s)
	}
	return node, port, nil
}
