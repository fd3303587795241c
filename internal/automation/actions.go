package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"order-automation-go/internal/condition"
	"order-automation-go/internal/flow"
	"order-automation-go/internal/order"
)

// ErrorKind classifies a failed Result for transports that map it to a
// status code. It is not serialized.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindInternal
)

// Result is the uniform envelope returned by every action.
type Result struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"-"`
}

// Created is the payload of a successful create.
type Created struct {
	Order *order.Order `json:"order"`
	Flow  *flow.Flow   `json:"flow"`
}

// Evaluation is the payload of a successful evaluate.
type Evaluation struct {
	OrderID string `json:"orderId"`
	NodeID  string `json:"nodeId,omitempty"`
	Fires   bool   `json:"fires"`
}

// Actions exposes the facade to the CLI and HTTP layers. Actions never
// return Go errors; failures are reported in the Result.
type Actions struct {
	orders *OrderTemplates
}

// NewActions wraps orders.
func NewActions(orders *OrderTemplates) *Actions {
	return &Actions{orders: orders}
}

func succeed(data any) Result { return Result{Success: true, Data: data} }

func fail(err error) Result {
	var ve *order.ValidationError
	switch {
	case errors.As(err, &ve):
		return Result{Error: err.Error(), Kind: KindInvalid}
	case errors.Is(err, ErrOrderNotFound):
		return Result{Error: err.Error(), Kind: KindNotFound}
	}
	return Result{Error: err.Error(), Kind: KindInternal}
}

// Create decodes params for t and creates the order.
func (a *Actions) Create(ctx context.Context, t order.Type, params json.RawMessage) Result {
	p, err := order.DecodeParams(t, params)
	if err != nil {
		return fail(err)
	}
	o, f, err := a.orders.Create(ctx, p)
	if err != nil {
		return fail(err)
	}
	return succeed(Created{Order: o, Flow: f})
}

func (a *Actions) Get(ctx context.Context, id string) Result {
	o, err := a.orders.Get(ctx, id)
	if err != nil {
		return fail(err)
	}
	return succeed(o)
}

func (a *Actions) List(ctx context.Context, f Filter) Result {
	orders, err := a.orders.List(ctx, f)
	if err != nil {
		return fail(err)
	}
	return succeed(orders)
}

func (a *Actions) Stats(ctx context.Context) Result {
	stats, err := a.orders.Stats(ctx)
	if err != nil {
		return fail(err)
	}
	return succeed(stats)
}

func (a *Actions) Activate(ctx context.Context, id string) Result {
	return a.lifecycle(ctx, id, "activate", a.orders.Activate)
}

func (a *Actions) Pause(ctx context.Context, id string) Result {
	return a.lifecycle(ctx, id, "pause", a.orders.Pause)
}

func (a *Actions) Cancel(ctx context.Context, id string) Result {
	return a.lifecycle(ctx, id, "cancel", a.orders.Cancel)
}

func (a *Actions) Delete(ctx context.Context, id string) Result {
	done, err := a.orders.Delete(ctx, id)
	if err != nil {
		return fail(err)
	}
	if !done {
		return a.rejected(ctx, id, "delete")
	}
	return succeed(map[string]string{"id": id})
}

// UpdateStatus is the runtime callback.
func (a *Actions) UpdateStatus(ctx context.Context, id string, status order.Status, errMsg string) Result {
	return a.lifecycle(ctx, id, "move to "+string(status), func(ctx context.Context, id string) (bool, error) {
		return a.orders.UpdateStatus(ctx, id, status, errMsg)
	})
}

func (a *Actions) PrepareSnapshot(ctx context.Context, id string, snap condition.Snapshot) Result {
	prepared, err := a.orders.PrepareSnapshot(ctx, id, snap)
	if err != nil {
		return fail(err)
	}
	return succeed(prepared)
}

func (a *Actions) Evaluate(ctx context.Context, id, nodeID string, snap condition.Snapshot) Result {
	fires, err := a.orders.Evaluate(ctx, id, nodeID, snap)
	if err != nil {
		return fail(err)
	}
	return succeed(Evaluation{OrderID: id, NodeID: nodeID, Fires: fires})
}

func (a *Actions) RecordExecution(ctx context.Context, id string) Result {
	return a.lifecycle(ctx, id, "record an execution for", a.orders.RecordExecution)
}

func (a *Actions) lifecycle(ctx context.Context, id, verb string, op func(context.Context, string) (bool, error)) Result {
	done, err := op(ctx, id)
	if err != nil {
		return fail(err)
	}
	if !done {
		return a.rejected(ctx, id, verb)
	}
	return a.Get(ctx, id)
}

func (a *Actions) rejected(ctx context.Context, id, verb string) Result {
	o, err := a.orders.Get(ctx, id)
	if err != nil {
		return fail(err)
	}
	return Result{
		Error: fmt.Sprintf("cannot %s order %s in status %s", verb, id, o.Status),
		Kind:  KindConflict,
	}
}
