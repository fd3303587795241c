// Package flow describes order execution pipelines as flat node and edge
// lists. Loop-backs are plain edges between node ids, so a runtime walks the
// graph by id lookup.
package flow

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"order-automation-go/internal/condition"
	"order-automation-go/internal/order"
)

// ErrInvalidFlow is wrapped by every Validate failure.
var ErrInvalidFlow = errors.New("invalid flow")

// Role is what a node does when the runtime reaches it.
type Role string

const (
	RoleCheckCondition Role = "check-condition"
	RoleExecuteTrade   Role = "execute-trade"
	RoleNotify         Role = "notify"
	RoleWaitTick       Role = "wait-tick"
	RoleUpdateState    Role = "update-state"
	RoleTerminal       Role = "terminal"
)

// Outcome labels an edge with the result that selects it.
type Outcome string

const (
	OnTrue  Outcome = "true"
	OnFalse Outcome = "false"
	Always  Outcome = "always"
)

// StateUpdate names the mutation an update-state node asks the engine for.
type StateUpdate string

const (
	UpdateHighWaterMark      StateUpdate = "refresh-high-water-mark"
	UpdateDecrementRemaining StateUpdate = "decrement-remaining"
)

// Action is the trade an execute-trade node performs. Once marks nodes that
// must claim the order before trading so that concurrent branches cannot
// execute twice.
type Action struct {
	Side       order.Side       `json:"side"`
	Token      string           `json:"token"`
	QuoteToken string           `json:"quoteToken,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Percent    *decimal.Decimal `json:"percent,omitempty"`
	Slippage   *decimal.Decimal `json:"slippage,omitempty"`
	Once       bool             `json:"once,omitempty"`
}

// Node is one step of a flow.
type Node struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Condition *condition.Group `json:"condition,omitempty"`
	Action    *Action          `json:"action,omitempty"`
	Update    StateUpdate      `json:"update,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// Edge connects two nodes by id.
type Edge struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Condition Outcome `json:"condition"`
}

// Flow is the execution graph of one order. Nodes[0] is the entry node.
type Flow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Version     string         `json:"version"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	Metadata    map[string]any `json:"metadata"`
}

// Entry returns the id of the entry node.
func (f *Flow) Entry() string {
	if len(f.Nodes) == 0 {
		return ""
	}
	return f.Nodes[0].ID
}

// Node looks a node up by id.
func (f *Flow) Node(id string) (Node, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Next returns the targets reached from id for the given outcome. Edges
// labelled Always are followed for every outcome.
func (f *Flow) Next(id string, outcome Outcome) []string {
	var out []string
	for _, e := range f.Edges {
		if e.From == id && (e.Condition == outcome || e.Condition == Always) {
			out = append(out, e.To)
		}
	}
	return out
}

// Validate checks the structural invariants: a non-empty node list with
// unique ids, edges between existing nodes, check-condition nodes with a
// condition and both outcomes wired, terminal nodes without exits, every
// node reachable from the entry, and no dead ends (every node can reach a
// terminal or a wait-tick).
func (f *Flow) Validate() error {
	if len(f.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidFlow)
	}

	byID := make(map[string]Node, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrInvalidFlow)
		}
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %s", ErrInvalidFlow, n.ID)
		}
		byID[n.ID] = n
	}

	out := make(map[string][]Edge)
	for _, e := range f.Edges {
		if _, ok := byID[e.From]; !ok {
			return fmt.Errorf("%w: edge from unknown node %s", ErrInvalidFlow, e.From)
		}
		if _, ok := byID[e.To]; !ok {
			return fmt.Errorf("%w: edge to unknown node %s", ErrInvalidFlow, e.To)
		}
		switch e.Condition {
		case OnTrue, OnFalse, Always:
		default:
			return fmt.Errorf("%w: edge %s->%s has unknown condition %q", ErrInvalidFlow, e.From, e.To, e.Condition)
		}
		out[e.From] = append(out[e.From], e)
	}

	for _, n := range f.Nodes {
		edges := out[n.ID]
		switch n.Role {
		case RoleTerminal:
			if len(edges) > 0 {
				return fmt.Errorf("%w: terminal node %s has outgoing edges", ErrInvalidFlow, n.ID)
			}
		case RoleCheckCondition:
			if n.Condition == nil {
				return fmt.Errorf("%w: check node %s has no condition", ErrInvalidFlow, n.ID)
			}
			if !hasOutcome(edges, OnTrue) || !hasOutcome(edges, OnFalse) {
				return fmt.Errorf("%w: check node %s must have true and false edges", ErrInvalidFlow, n.ID)
			}
		case RoleExecuteTrade:
			if n.Action == nil {
				return fmt.Errorf("%w: execute node %s has no action", ErrInvalidFlow, n.ID)
			}
			fallthrough
		default:
			if len(edges) == 0 {
				return fmt.Errorf("%w: node %s is a dead end", ErrInvalidFlow, n.ID)
			}
		}
	}

	reached := walk(f.Entry(), out)
	for _, n := range f.Nodes {
		if !reached[n.ID] {
			return fmt.Errorf("%w: node %s is unreachable from entry", ErrInvalidFlow, n.ID)
		}
	}

	for _, n := range f.Nodes {
		if !reachesRest(n.ID, byID, out) {
			return fmt.Errorf("%w: node %s reaches neither a terminal nor a wait-tick", ErrInvalidFlow, n.ID)
		}
	}
	return nil
}

func hasOutcome(edges []Edge, o Outcome) bool {
	for _, e := range edges {
		if e.Condition == o || e.Condition == Always {
			return true
		}
	}
	return false
}

func walk(from string, out map[string][]Edge) map[string]bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range out[id] {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

func reachesRest(from string, byID map[string]Node, out map[string][]Edge) bool {
	for id := range walk(from, out) {
		switch byID[id].Role {
		case RoleTerminal, RoleWaitTick:
			return true
		}
	}
	return false
}
