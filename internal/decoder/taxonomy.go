package decoder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Taxonomy maps taxonomy codes to common names.
type Taxonomy struct {
	names map[int]string
}

// NewTaxonomy creates a taxonomy from a code to name map.
func NewTaxonomy(names map[int]string) *Taxonomy {
	t := &Taxonomy{names: make(map[int]string, len(names))}
	for code, name := range names {
		t.names[code] = name
	}
	return t
}

// LoadTaxonomy reads a YAML document of `code: name` pairs. An empty
// filename yields an empty taxonomy.
func LoadTaxonomy(filename string) (*Taxonomy, error) {
	if filename == "" {
		return NewTaxonomy(nil), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file: %w", err)
	}

	var names map[int]string
	if err := yaml.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse taxonomy file: %w", err)
	}

	return NewTaxonomy(names), nil
}

// CommonName returns the name for code, or "<unknown CODE>".
func (t *Taxonomy) CommonName(code int) string {
	if name, ok := t.names[code]; ok {
		return name
	}
	return fmt.Sprintf("<unknown %d>", code)
}

// Len returns the number of known codes.
func (t *Taxonomy) Len() int {
	return len(t.names)
}
