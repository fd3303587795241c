package automation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-automation-go/internal/condition"
	"order-automation-go/internal/flow"
	"order-automation-go/internal/order"
)

// PrepareSnapshot is the pre-step that runs before any condition of an order
// is evaluated. It resolves the order's price, advances stateful strategies
// (the trailing high-water mark only moves while the order is active) and
// returns a copy of snap with the derived fields merged in as flat keys:
//
//	price                      resolved from price or tokens.<TOKEN>.price
//	trailing.armed             true once the activation price was reached
//	trailing.highWaterMark
//	trailing.drawdownPercent
//	trailing.triggerPrice
//	schedule.due               true when a slice is due
//	schedule.remaining
//	schedule.executed
//	schedule.sliceAmount       amount of the next slice as a decimal string
//
// The input snapshot is never modified.
func (e *OrderTemplates) PrepareSnapshot(ctx context.Context, id string, snap condition.Snapshot) (condition.Snapshot, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	o, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, e.notFound(id, err)
	}
	now := e.now()
	derived := make(map[string]any)

	price, hasPrice := resolvePrice(snap, o.Params.Asset())
	if hasPrice {
		derived[flow.FieldPrice] = price.InexactFloat64()
	}

	changed := false
	if p, ok := o.Params.(order.TrailingStop); ok && o.State.Trailing != nil {
		ts := o.State.Trailing
		if hasPrice && o.Status == order.StatusActive {
			changed = ts.Observe(price, p.ActivationPrice)
		}
		derived[flow.FieldTrailingArmed] = ts.Armed
		derived[flow.FieldTrailingHWM] = ts.HighWaterMark.InexactFloat64()
		derived[flow.FieldTrailingTrigger] = ts.TriggerPrice(p.TrailPercent).InexactFloat64()
		if hasPrice {
			derived[flow.FieldTrailingDrawdown] = ts.DrawdownPercent(price).InexactFloat64()
		}
	}
	if sc := o.State.Schedule; sc != nil {
		derived[flow.FieldScheduleDue] = o.Status == order.StatusActive && sc.Due(now)
		derived[flow.FieldScheduleLeft] = sc.Remaining
		derived[flow.FieldScheduleDone] = sc.Executed
		if p, ok := o.Params.(order.Scheduled); ok {
			derived[flow.FieldScheduleAmount] = p.SliceAmountAt(sc.Executed).String()
		}
	}

	if changed {
		o.UpdatedAt = now
		if err := e.repo.Set(ctx, o); err != nil {
			return nil, fmt.Errorf("failed to persist order %s: %w", id, err)
		}
		e.logger.Debug("Trailing state updated",
			zap.String("order_id", id),
			zap.String("high_water_mark", o.State.Trailing.HighWaterMark.String()),
			zap.Bool("armed", o.State.Trailing.Armed))
	}

	return snap.With(derived), nil
}

// resolvePrice reads the top-level price, falling back to tokens.<TOKEN>.price.
func resolvePrice(snap condition.Snapshot, token string) (decimal.Decimal, bool) {
	f, ok := snap.Number(flow.FieldPrice)
	if !ok {
		f, ok = snap.Number("tokens." + token + ".price")
	}
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

// Evaluate runs the pre-step and then the condition of the check-condition
// node nodeID of the order's flow. With an empty nodeID it reports whether
// any check node that leads straight to the execute node holds, i.e. whether
// the order fires on this snapshot. Orders that are not active never fire.
func (e *OrderTemplates) Evaluate(ctx context.Context, id, nodeID string, snap condition.Snapshot) (bool, error) {
	o, err := e.Get(ctx, id)
	if err != nil {
		return false, err
	}
	f, err := e.generator.Generate(o)
	if err != nil {
		return false, fmt.Errorf("failed to regenerate flow of order %s: %w", id, err)
	}

	var checks []flow.Node
	if nodeID != "" {
		n, ok := f.Node(nodeID)
		if !ok || n.Role != flow.RoleCheckCondition {
			return false, &order.ValidationError{Type: o.Type, Field: "nodeId",
				Reason: fmt.Sprintf("%q is not a check-condition node of flow %s", nodeID, f.ID)}
		}
		checks = append(checks, n)
	} else {
		checks = firingChecks(f)
	}

	prepared, err := e.PrepareSnapshot(ctx, id, snap)
	if err != nil {
		return false, err
	}
	if o.Status != order.StatusActive {
		e.logger.Debug("Order not active, not evaluating", zap.String("order_id", id), zap.String("status", string(o.Status)))
		return false, nil
	}
	for _, n := range checks {
		if e.evaluator.Evaluate(*n.Condition, prepared) {
			return true, nil
		}
	}
	return false, nil
}

func firingChecks(f *flow.Flow) []flow.Node {
	var out []flow.Node
	for _, n := range f.Nodes {
		if n.Role != flow.RoleCheckCondition {
			continue
		}
		for _, next := range f.Next(n.ID, flow.OnTrue) {
			if target, ok := f.Node(next); ok && target.Role == flow.RoleExecuteTrade {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// RecordExecution accounts for one executed slice of an active dca or twap
// order. The last slice moves the order through triggered to completed. It
// returns false for other templates, for orders that are not active and when
// no slice is due, so each slice is recorded at most once.
func (e *OrderTemplates) RecordExecution(ctx context.Context, id string) (bool, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	o, err := e.repo.Get(ctx, id)
	if err != nil {
		return false, e.notFound(id, err)
	}
	sched, ok := o.Params.(order.Scheduled)
	if !ok || o.State.Schedule == nil || o.Status != order.StatusActive {
		return false, nil
	}
	now := e.now()
	if !o.State.Schedule.Due(now) {
		e.logger.Debug("Slice not due, execution ignored",
			zap.String("order_id", id), zap.Time("next_due_at", o.State.Schedule.NextDueAt))
		return false, nil
	}

	o.State.Schedule.Record(now, sched.Interval())
	o.UpdatedAt = now
	if o.State.Schedule.Remaining == 0 {
		o.Transition(order.StatusTriggered, now)
		o.Transition(order.StatusCompleted, now)
	}
	if err := e.repo.Set(ctx, o); err != nil {
		return false, fmt.Errorf("failed to persist order %s: %w", id, err)
	}

	e.logger.Info("Execution recorded",
		zap.String("order_id", id),
		zap.Int("executed", o.State.Schedule.Executed),
		zap.Int("remaining", o.State.Schedule.Remaining),
		zap.String("status", string(o.Status)))
	return true, nil
}
