package payload

import (
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FromYAML converts a decoded YAML node into a Value.
// Mapping order is kept. Only the JSON-compatible subset of YAML is
// accepted: non-string keys are stringified, NaN and infinities are errors.
func FromYAML(n *yaml.Node) (Value, error) {
	if n == nil || n.Kind == 0 {
		return Value{}, nil
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) < 1 {
			return Value{}, nil
		}
		return FromYAML(n.Content[0])
	case yaml.AliasNode:
		return FromYAML(n.Alias)
	case yaml.SequenceNode:
		v := Array()
		for _, c := range n.Content {
			item, err := FromYAML(c)
			if err != nil {
				return Value{}, err
			}
			v.Append(item)
		}
		return v, nil
	case yaml.MappingNode:
		v := Object()
		for i := 0; i+1 < len(n.Content); i += 2 {
			member, err := FromYAML(n.Content[i+1])
			if err != nil {
				return Value{}, fmt.Errorf("key %s: %w", n.Content[i].Value, err)
			}
			v.Set(n.Content[i].Value, member)
		}
		return v, nil
	case yaml.ScalarNode:
		return scalarFromYAML(n)
	}
	return Value{}, fmt.Errorf("unsupported YAML node kind: %d", n.Kind)
}

func scalarFromYAML(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return Value{}, err
		}
		return NumberLiteral(strconv.FormatInt(i, 10)), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return Value{}, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("line %d: non-finite number %q", n.Line, n.Value)
		}
		return Number(f), nil
	}
	return String(n.Value), nil
}
