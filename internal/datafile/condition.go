package datafile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rafaeljc/verdandi/internal/entities"
)

// ParseConditionTree decodes a condition expression into a tree.
//
// The wire format is a nested JSON list whose optional first element names an
// operator ("and", "or", "not"); the remaining elements are subtrees or leaf
// condition objects. A list with no leading operator defaults to "or", and a
// bare condition object is a single-leaf tree. Audience conditions are often
// double-encoded (a JSON string holding JSON), so a string payload is
// unwrapped first.
func ParseConditionTree(raw json.RawMessage) (*entities.TreeNode, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	// Unwrap a stringified payload.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("failed to decode condition string: %w", err)
		}
		return ParseConditionTree(json.RawMessage(inner))
	}

	return parseNode(raw)
}

func parseNode(raw json.RawMessage) (*entities.TreeNode, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty condition node")
	}

	switch raw[0] {
	case '{':
		var cond entities.Condition
		if err := json.Unmarshal(raw, &cond); err != nil {
			return nil, fmt.Errorf("failed to decode condition leaf: %w", err)
		}
		return &entities.TreeNode{Item: &cond}, nil

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, fmt.Errorf("failed to decode condition list: %w", err)
		}

		operator := entities.OperatorOr
		if len(elems) > 0 {
			var head string
			if err := json.Unmarshal(elems[0], &head); err == nil {
				switch head {
				case entities.OperatorAnd, entities.OperatorOr, entities.OperatorNot:
					operator = head
					elems = elems[1:]
				default:
					return nil, fmt.Errorf("unknown condition operator %q", head)
				}
			}
		}

		node := &entities.TreeNode{Operator: operator}
		for _, elem := range elems {
			child, err := parseNode(elem)
			if err != nil {
				return nil, err
			}
			node.Nodes = append(node.Nodes, child)
		}
		return node, nil

	default:
		return nil, fmt.Errorf("unexpected condition node: %s", truncate(raw, 32))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
