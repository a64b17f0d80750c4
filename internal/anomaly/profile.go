// Package anomaly implements weighted anomaly injection for outgoing payloads.
package anomaly

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Category names a malformation applied to a payload. The names are persisted
// verbatim in run snapshots and consumed by offline tooling.
type Category string

const (
	SizeOverflow   Category = "size_overflow"
	BoundaryValues Category = "boundary_values"
	InvalidUTF8    Category = "invalid_utf8"
	SpecialChars   Category = "special_chars"
	FormatStrings  Category = "format_strings"
	NullBytes      Category = "null_bytes"
	RandomNoise    Category = "random_noise"
)

// Categories lists every known category in canonical order.
var Categories = []Category{
	SizeOverflow, BoundaryValues, InvalidUTF8, SpecialChars,
	FormatStrings, NullBytes, RandomNoise,
}

// Known reports whether c is one of the built-in categories.
func (c Category) Known() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Weight is one entry of a Profile.
type Weight struct {
	Category Category
	Weight   int
}

// Profile is an ordered category→weight mapping. Declaration order decides
// ties during selection, so it is preserved through YAML and JSON.
type Profile []Weight

// Total returns the sum of the positive weights.
func (p Profile) Total() int {
	total := 0
	for _, w := range p {
		if w.Weight > 0 {
			total += w.Weight
		}
	}
	return total
}

// Get returns the weight configured for c.
func (p Profile) Get(c Category) (int, bool) {
	for _, w := range p {
		if w.Category == c {
			return w.Weight, true
		}
	}
	return 0, false
}

// Validate rejects negative weights and duplicate categories.
func (p Profile) Validate() error {
	seen := make(map[Category]bool, len(p))
	for _, w := range p {
		if w.Weight < 0 {
			return fmt.Errorf("category %q has negative weight %d", w.Category, w.Weight)
		}
		if seen[w.Category] {
			return fmt.Errorf("category %q declared twice", w.Category)
		}
		seen[w.Category] = true
	}
	return nil
}

// UnmarshalYAML decodes a mapping node keeping key order.
func (p *Profile) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*p = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("anomaly profile must be a mapping, got line %d", node.Line)
	}
	out := make(Profile, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var w int
		if err := node.Content[i+1].Decode(&w); err != nil {
			return fmt.Errorf("weight for %q: %w", node.Content[i].Value, err)
		}
		out = append(out, Weight{Category: Category(node.Content[i].Value), Weight: w})
	}
	*p = out
	return nil
}

// MarshalYAML encodes the profile as a mapping in declaration order.
func (p Profile) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, w := range p {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(w.Category)},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(w.Weight)},
		)
	}
	return node, nil
}

// MarshalJSON encodes the profile as an object in declaration order.
func (p Profile) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, w := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(w.Category))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(w.Weight))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keeping key order.
func (p *Profile) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("anomaly profile must be an object")
	}
	out := Profile{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("weight for %q: %w", key, err)
		}
		w, err := n.Int64()
		if err != nil {
			return fmt.Errorf("weight for %q: %w", key, err)
		}
		out = append(out, Weight{Category: Category(key), Weight: int(w)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}
