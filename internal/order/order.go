package order

import (
	"encoding/json"
	"fmt"
	"time"
)

// Order is one automated trading order and the only holder of its mutable
// strategy state.
type Order struct {
	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	Params      Params     `json:"params"`
	Status      Status     `json:"status"`
	FlowID      string     `json:"flowId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	TriggeredAt *time.Time `json:"triggeredAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	State       State      `json:"state"`
}

// New builds an order in the created state with the initial strategy state
// for its template.
func New(id string, p Params, now time.Time) *Order {
	return &Order{
		ID:        id,
		Type:      p.Type(),
		Params:    p,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
		State:     InitialState(p, now),
	}
}

// Transition moves the order to next and stamps the matching timestamps. It
// returns false and leaves the order untouched if the move is not allowed.
func (o *Order) Transition(next Status, now time.Time) bool {
	if !o.Status.CanTransitionTo(next) {
		return false
	}
	o.Status = next
	o.UpdatedAt = now
	switch next {
	case StatusTriggered:
		o.TriggeredAt = &now
	case StatusCompleted, StatusFailed:
		o.CompletedAt = &now
	}
	return true
}

// IsTerminal reports whether the order can no longer change.
func (o *Order) IsTerminal() bool { return o.Status.IsTerminal() }

// Clone returns a deep copy. Params are immutable and shared.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.TriggeredAt != nil {
		t := *o.TriggeredAt
		c.TriggeredAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	c.State = o.State.Clone()
	return &c
}

// UnmarshalJSON decodes params into the variant selected by the type field.
func (o *Order) UnmarshalJSON(b []byte) error {
	type alias Order
	aux := struct {
		*alias
		Params json.RawMessage `json:"params"`
	}{alias: (*alias)(o)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p, err := DecodeParams(o.Type, aux.Params)
	if err != nil {
		return fmt.Errorf("decode params of order %s: %w", o.ID, err)
	}
	o.Params = p
	return nil
}
