package store

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/joinconfig"
)

// ColumnType is the declared type of an exported column
type ColumnType string

const (
	Int32   ColumnType = "int32"
	Int64   ColumnType = "int64"
	Float32 ColumnType = "float32"
	Float64 ColumnType = "float64"
	String  ColumnType = "string"
	Bytes   ColumnType = "bytes"
)

var supportedTypes = map[ColumnType]bool{
	Int32: true, Int64: true, Float32: true, Float64: true, String: true, Bytes: true,
}

// Column is one entry of a schema
type Column struct {
	Name string
	Type ColumnType
}

// Schema lists the exported columns in file order
type Schema []Column

// Names returns the column names in order
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Without returns the schema minus the named column
func (s Schema) Without(name string) Schema {
	out := make(Schema, 0, len(s))
	for _, c := range s {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

type columnSpec struct {
	Type string `yaml:"type"`
}

// ParseSchema reads a YAML document mapping column names to {type: <type>}.
// Column order follows the document.
func ParseSchema(data []byte) (Schema, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("schema must be a mapping of column names, got line %d", root.Line)
	}

	schema := make(Schema, 0, len(root.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var spec columnSpec
		if err := root.Content[i+1].Decode(&spec); err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}

		columnType := ColumnType(spec.Type)
		if !supportedTypes[columnType] {
			return nil, fmt.Errorf("column %s: %w", name, &joinconfig.UnsupportedTypeError{Kind: "column", Value: spec.Type})
		}
		if seen[name] {
			return nil, fmt.Errorf("column %s declared twice", name)
		}
		seen[name] = true
		schema = append(schema, Column{Name: name, Type: columnType})
	}

	if len(schema) == 0 {
		return nil, fmt.Errorf("schema declares no columns")
	}
	return schema, nil
}

// LoadSchema reads and parses a schema file
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return ParseSchema(data)
}

// ParseValue converts raw text into the Go value of the column type
func ParseValue(columnType ColumnType, raw string) (interface{}, error) {
	switch columnType {
	case Int32:
		v, err := strconv.ParseInt(raw, 10, 32)
		return int32(v), err
	case Int64:
		return strconv.ParseInt(raw, 10, 64)
	case Float32:
		v, err := strconv.ParseFloat(raw, 32)
		return float32(v), err
	case Float64:
		return strconv.ParseFloat(raw, 64)
	case String:
		return raw, nil
	case Bytes:
		return []byte(raw), nil
	default:
		return nil, &joinconfig.UnsupportedTypeError{Kind: "column", Value: string(columnType)}
	}
}

// FormatValue renders a value produced by ParseValue as text
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}
