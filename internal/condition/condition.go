// Package condition holds the boolean trigger grammar used by order templates
// and the evaluator that runs it against market-data snapshots.
package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
)

// Valid reports whether o is one of the six supported operators.
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Ordered reports whether o needs numeric operands.
func (o Operator) Ordered() bool {
	switch o {
	case OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Logic joins the children of a Group.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

// Value is the right-hand side of a Condition: a number or a string.
type Value struct {
	num   float64
	str   string
	isNum bool
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{num: f, isNum: true} }

// String returns a string Value.
func String(s string) Value { return Value{str: s} }

// ParseValue converts a raw authoring value (as produced by a JSON decoder or
// a CLI parser) into a Value.
func ParseValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case Value:
		if v.isNum {
			return finite(v.num)
		}
		return v, nil
	case string:
		return String(v), nil
	case bool:
		if v {
			return Number(1), nil
		}
		return Number(0), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", v.String(), err)
		}
		return finite(f)
	case decimal.Decimal:
		return finite(v.InexactFloat64())
	}
	if f, ok := toFloat(raw); ok {
		return finite(f)
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}

// finite rejects NaN and infinities, which have no JSON encoding.
func finite(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("value must be a finite number, got %v", f)
	}
	return Number(f), nil
}

func (v Value) IsNumber() bool { return v.isNum }
func (v Value) Float() float64 { return v.num }
func (v Value) Text() string   { return v.str }

func (v Value) String() string {
	if v.isNum {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return strconv.Quote(v.str)
}

// MarshalJSON encodes numbers as JSON numbers and strings as JSON strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isNum {
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	}
	return json.Marshal(v.str)
}

// UnmarshalJSON accepts a JSON number, string or bool. Strings are kept as
// strings; Compile coerces them for ordered operators.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty value")
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 't', 'f':
		var flag bool
		if err := json.Unmarshal(b, &flag); err != nil {
			return err
		}
		*v, _ = ParseValue(flag)
		return nil
	case 'n', '{', '[':
		return fmt.Errorf("value must be a number or a string, got %s", string(b))
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Number(f)
	return nil
}

// Condition is a single comparison of a snapshot field against a value.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// NewCondition builds a compiled Condition, coercing raw into a number when
// op is an ordered operator.
func NewCondition(field string, op Operator, raw any) (Condition, error) {
	v, err := ParseValue(raw)
	if err != nil {
		return Condition{}, &FieldError{Path: "value", Reason: err.Error()}
	}
	c := Condition{Field: field, Operator: op, Value: v}
	if err := c.compile(""); err != nil {
		return Condition{}, err
	}
	return c, nil
}

// Must is NewCondition for values known at compile time.
func Must(field string, op Operator, raw any) Condition {
	c, err := NewCondition(field, op, raw)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Condition) compile(path string) error {
	if err := c.validate(path); err != nil {
		if !c.Operator.Ordered() || c.Value.isNum || c.Field == "" {
			return err
		}
		f, perr := strconv.ParseFloat(strings.TrimSpace(c.Value.str), 64)
		if perr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return &FieldError{Path: join(path, "value"), Reason: fmt.Sprintf("operator %s requires a finite number, got %q", c.Operator, c.Value.str)}
		}
		c.Value = Number(f)
	}
	if c.Value.isNum && (math.IsNaN(c.Value.num) || math.IsInf(c.Value.num, 0)) {
		return &FieldError{Path: join(path, "value"), Reason: "must be a finite number"}
	}
	return nil
}

func (c Condition) validate(path string) error {
	if strings.TrimSpace(c.Field) == "" {
		return &FieldError{Path: join(path, "field"), Reason: "is required"}
	}
	if !c.Operator.Valid() {
		return &FieldError{Path: join(path, "operator"), Reason: fmt.Sprintf("unknown operator %q", c.Operator)}
	}
	if c.Operator.Ordered() && !c.Value.isNum {
		return &FieldError{Path: join(path, "value"), Reason: fmt.Sprintf("operator %s requires a number", c.Operator)}
	}
	return nil
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Operator, c.Value)
}

// Group is a boolean AND/OR over child nodes.
type Group struct {
	Logic      Logic  `json:"operator"`
	Conditions []Node `json:"conditions"`
}

// AllOf returns an AND group.
func AllOf(nodes ...Node) Group { return Group{Logic: And, Conditions: nodes} }

// AnyOf returns an OR group.
func AnyOf(nodes ...Node) Group { return Group{Logic: Or, Conditions: nodes} }

// Node is one child of a Group: exactly one of Cond or Group is set.
type Node struct {
	Cond  *Condition
	Group *Group
}

// Leaf wraps a Condition as a Node.
func Leaf(c Condition) Node { return Node{Cond: &c} }

// Nested wraps a Group as a Node.
func Nested(g Group) Node { return Node{Group: &g} }

func (n Node) MarshalJSON() ([]byte, error) {
	switch {
	case n.Cond != nil && n.Group == nil:
		return json.Marshal(n.Cond)
	case n.Group != nil && n.Cond == nil:
		return json.Marshal(n.Group)
	}
	return nil, fmt.Errorf("condition node must hold exactly one of condition or group")
}

// UnmarshalJSON decides between a leaf and a group by the presence of a
// "conditions" member.
func (n *Node) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if _, ok := probe["conditions"]; ok {
		var g Group
		if err := json.Unmarshal(b, &g); err != nil {
			return err
		}
		*n = Node{Group: &g}
		return nil
	}
	var c Condition
	if err := json.Unmarshal(b, &c); err != nil {
		return err
	}
	*n = Node{Cond: &c}
	return nil
}

// IsEmpty reports whether g has no children.
func (g Group) IsEmpty() bool { return len(g.Conditions) == 0 }

// Validate checks the tree without modifying it. Ordered operators must
// already carry numeric values; use Compile on freshly authored input.
func (g Group) Validate() error {
	return g.walk("", func(c *Condition, path string) error { return c.validate(path) })
}

// Compile returns a deep copy of g with ordered-operator values coerced to
// numbers, so evaluation never parses strings.
func Compile(g Group) (Group, error) {
	out := g.clone()
	if err := out.walk("", func(c *Condition, path string) error { return c.compile(path) }); err != nil {
		return Group{}, err
	}
	return out, nil
}

func (g *Group) walk(path string, fn func(*Condition, string) error) error {
	if g.Logic != And && g.Logic != Or {
		return &FieldError{Path: join(path, "operator"), Reason: fmt.Sprintf("unknown group operator %q", g.Logic)}
	}
	for i := range g.Conditions {
		p := fmt.Sprintf("%s[%d]", join(path, "conditions"), i)
		n := &g.Conditions[i]
		switch {
		case n.Cond != nil && n.Group == nil:
			if err := fn(n.Cond, p); err != nil {
				return err
			}
		case n.Group != nil && n.Cond == nil:
			if err := n.Group.walk(p, fn); err != nil {
				return err
			}
		default:
			return &FieldError{Path: p, Reason: "must hold exactly one of condition or group"}
		}
	}
	return nil
}

func (g Group) clone() Group {
	out := Group{Logic: g.Logic, Conditions: make([]Node, len(g.Conditions))}
	for i, n := range g.Conditions {
		if n.Cond != nil {
			c := *n.Cond
			out.Conditions[i].Cond = &c
		}
		if n.Group != nil {
			sub := n.Group.clone()
			out.Conditions[i].Group = &sub
		}
	}
	return out
}

// Fields lists the distinct snapshot paths referenced by g, in first-seen order.
func Fields(g Group) []string {
	seen := make(map[string]struct{})
	var out []string
	var visit func(Group)
	visit = func(g Group) {
		for _, n := range g.Conditions {
			if n.Cond != nil {
				if _, ok := seen[n.Cond.Field]; !ok {
					seen[n.Cond.Field] = struct{}{}
					out = append(out, n.Cond.Field)
				}
			}
			if n.Group != nil {
				visit(*n.Group)
			}
		}
	}
	visit(g)
	return out
}

// FieldError reports a malformed condition tree; Path locates the offending
// member, e.g. "conditions[1].value".
type FieldError struct {
	Path   string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("condition %s %s", e.Path, e.Reason)
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
