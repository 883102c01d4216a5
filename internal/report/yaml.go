package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marcusrbrown/ocdiag/internal/tree"
)

// toYAML renders a tree value as YAML, keeping object key order.
func toYAML(v any) (string, error) {
	node, err := yamlNode(v)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)

	if err := enc.Encode(node); err != nil {
		return "", err
	}

	if err := enc.Close(); err != nil {
		return "", err
	}

	return b.String(), nil
}

func yamlNode(v any) (*yaml.Node, error) {
	switch val := v.(type) {
	case nil:
		return scalar("!!null", "null"), nil
	case bool:
		if val {
			return scalar("!!bool", "true"), nil
		}

		return scalar("!!bool", "false"), nil
	case json.Number:
		if strings.ContainsAny(val.String(), ".eE") {
			return scalar("!!float", val.String()), nil
		}

		return scalar("!!int", val.String()), nil
	case string:
		return scalar("!!str", val), nil
	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		if len(val) == 0 {
			node.Style = yaml.FlowStyle
		}

		for _, item := range val {
			child, err := yamlNode(item)
			if err != nil {
				return nil, err
			}

			node.Content = append(node.Content, child)
		}

		return node, nil
	case *tree.Object:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		if val.Len() == 0 {
			node.Style = yaml.FlowStyle
		}

		var err error

		val.Range(func(key string, item any) bool {
			var child *yaml.Node

			child, err = yamlNode(item)
			if err != nil {
				return false
			}

			node.Content = append(node.Content, scalar("!!str", key), child)

			return true
		})

		if err != nil {
			return nil, err
		}

		return node, nil
	default:
		// Plain Go values (ints, maps) are normalized through JSON first.
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("unsupported value type %T: %w", v, err)
		}

		parsed, err := tree.Parse(raw)
		if err != nil {
			return nil, err
		}

		return yamlNode(parsed)
	}
}

func scalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}
