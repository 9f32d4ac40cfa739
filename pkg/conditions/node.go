// Package conditions parses and evaluates trigger condition trees.
//
// At rest a condition tree is a nested JSON object:
//
//	{"and": [{"contains_text": "bug report"}, {"not": {"user_id": "bot"}}]}
//
// Parse turns it into a Node; Evaluator.Matches walks the Node against an
// activity. Malformed input never produces an error during evaluation: it
// fails closed and is reported as a configuration warning.
package conditions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind names a leaf predicate.
type Kind string

const (
	KindUserID       Kind = "user_id"
	KindUserMention  Kind = "user_mention"
	KindChannelID    Kind = "channel_id"
	KindChannelName  Kind = "channel_name"
	KindContainsText Kind = "contains_text"
	KindKeyword      Kind = "keyword"
	KindMessageType  Kind = "message_type"
	KindTimeRange    Kind = "time_range"
)

const (
	keyAnd = "and"
	keyOr  = "or"
	keyNot = "not"

	keyField    = "field"
	keyOperator = "operator"
	keyValue    = "value"

	operatorIs    = "is"
	operatorIsNot = "is_not"
)

// MaxDepth bounds the nesting of a condition tree. Deeper trees fail closed.
const MaxDepth = 64

// Known reports whether k is a recognized predicate.
func (k Kind) Known() bool {
	switch k {
	case KindUserID, KindUserMention, KindChannelID, KindChannelName,
		KindContainsText, KindKeyword, KindMessageType, KindTimeRange:
		return true
	default:
		return false
	}
}

// Node is a parsed condition tree: one of Leaf, And, Or, Not or Invalid.
type Node interface {
	isNode()
}

// Leaf is a single field predicate. Value keeps the decoded JSON value.
type Leaf struct {
	Kind  Kind
	Value any
}

// And is true when every child is true; an empty And is true.
type And struct {
	Children []Node
}

// Or is true when at least one child is true; an empty Or is false.
type Or struct {
	Children []Node
}

// Not negates its child.
type Not struct {
	Child Node
}

// Invalid marks a subtree that could not be parsed. It always evaluates false.
type Invalid struct {
	Reason string
}

func (Leaf) isNode()    {}
func (And) isNode()     {}
func (Or) isNode()      {}
func (Not) isNode()     {}
func (Invalid) isNode() {}

// ParseJSON decodes raw JSON and parses it. Empty input is an empty And.
func ParseJSON(raw []byte) (Node, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return And{}, nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode conditions: %w", err)
	}

	return Parse(decoded), nil
}

// Parse converts a decoded condition tree into a Node. It never fails:
// anything it cannot understand becomes an Invalid node.
//
// A nil tree or an empty object is an empty And (always true). An object
// with several keys is the And of its entries, and so is a top-level list.
func Parse(raw any) Node {
	return parse(raw, 0)
}

func parse(raw any, depth int) Node {
	if depth > MaxDepth {
		return Invalid{Reason: fmt.Sprintf("condition tree deeper than %d levels", MaxDepth)}
	}

	switch v := raw.(type) {
	case nil:
		return And{}
	case json.RawMessage:
		node, err := ParseJSON(v)
		if err != nil {
			return Invalid{Reason: err.Error()}
		}

		return node
	case []any:
		return And{Children: parseList(v, depth)}
	case map[string]any:
		return parseObject(v, depth)
	default:
		return Invalid{Reason: fmt.Sprintf("condition must be an object, got %T", raw)}
	}
}

func parseObject(obj map[string]any, depth int) Node {
	if len(obj) == 0 {
		return And{}
	}

	if field, ok := obj[keyField]; ok {
		return parseExplicitLeaf(field, obj)
	}

	if len(obj) == 1 {
		for key, value := range obj {
			return parseEntry(key, value, depth)
		}
	}

	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	children := make([]Node, 0, len(keys))
	for _, key := range keys {
		children = append(children, parseEntry(key, obj[key], depth))
	}

	return And{Children: children}
}

func parseEntry(key string, value any, depth int) Node {
	switch normalizedKey := strings.ToLower(strings.TrimSpace(key)); normalizedKey {
	case keyAnd:
		list, ok := value.([]any)
		if !ok {
			return Invalid{Reason: `"and" expects a list of conditions`}
		}

		return And{Children: parseList(list, depth)}
	case keyOr:
		list, ok := value.([]any)
		if !ok {
			return Invalid{Reason: `"or" expects a list of conditions`}
		}

		return Or{Children: parseList(list, depth)}
	case keyNot:
		if value == nil {
			return Invalid{Reason: `"not" expects a condition`}
		}

		return Not{Child: parse(value, depth+1)}
	default:
		return Leaf{Kind: Kind(normalizedKey), Value: value}
	}
}

// parseExplicitLeaf handles {"field": "user_id", "operator": "is_not", "value": "u1"}.
func parseExplicitLeaf(field any, obj map[string]any) Node {
	name, ok := field.(string)
	if !ok || name == "" {
		return Invalid{Reason: `"field" must be a predicate name`}
	}

	leaf := Leaf{Kind: Kind(strings.ToLower(strings.TrimSpace(name))), Value: obj[keyValue]}

	operator, _ := obj[keyOperator].(string)
	switch strings.ToLower(operator) {
	case "", operatorIs:
		return leaf
	case operatorIsNot:
		return Not{Child: leaf}
	default:
		return Invalid{Reason: fmt.Sprintf("unsupported operator %q", operator)}
	}
}

func parseList(list []any, depth int) []Node {
	children := make([]Node, 0, len(list))
	for _, item := range list {
		children = append(children, parse(item, depth+1))
	}

	return children
}
