// Package automation is the order facade: it creates orders from templates,
// registers their flows with the runtime and owns every status transition.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-automation-go/internal/condition"
	"order-automation-go/internal/config"
	"order-automation-go/internal/flow"
	"order-automation-go/internal/order"
	"order-automation-go/internal/repository"
	"order-automation-go/internal/runtime"
)

// ErrOrderNotFound is returned for operations on an unknown order id.
var ErrOrderNotFound = errors.New("order not found")

// OrderTemplates owns the order table. All mutations of one order run under
// that order's lock, so each status change is a test-and-set.
type OrderTemplates struct {
	logger       *zap.Logger
	repo         repository.Repository
	runtime      runtime.Client
	generator    *flow.Generator
	evaluator    *condition.Evaluator
	locks        *keyedMutex
	autoActivate bool

	now   func() time.Time
	newID func() string
}

// NewOrderTemplates creates the facade.
func NewOrderTemplates(logger *zap.Logger, cfg config.Engine, repo repository.Repository, rt runtime.Client) *OrderTemplates {
	return &OrderTemplates{
		logger:       logger.Named("orders"),
		repo:         repo,
		runtime:      rt,
		generator:    flow.NewGenerator(cfg.FlowVersion),
		evaluator:    condition.NewEvaluator(logger),
		locks:        newKeyedMutex(),
		autoActivate: cfg.AutoActivate,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Create validates p, builds the order and its flow, persists the order and
// registers the flow. Invalid params fail with *order.ValidationError before
// anything is stored. A registration failure is logged and recorded on the
// order's Error field; the order is kept. If a later write fails, the stored
// row is removed and a registered flow is cancelled, so a failed Create
// leaves nothing behind.
func (e *OrderTemplates) Create(ctx context.Context, p order.Params) (*order.Order, *flow.Flow, error) {
	if p == nil {
		return nil, nil, &order.ValidationError{Field: "params", Reason: "is required"}
	}
	p, err := order.Normalize(p)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	o := order.New(e.newID(), p, e.now())
	f, err := e.generator.Generate(o)
	if err != nil {
		return nil, nil, err
	}
	o.FlowID = f.ID

	unlock := e.locks.Lock(o.ID)
	defer unlock()

	if err := e.repo.Set(ctx, o); err != nil {
		return nil, nil, fmt.Errorf("failed to persist order: %w", err)
	}

	log := e.logger.With(zap.String("order_id", o.ID), zap.String("type", string(o.Type)))
	registered := false
	if h, err := e.runtime.Register(ctx, f); err != nil {
		log.Error("Flow registration failed, keeping order", zap.String("flow_id", f.ID), zap.Error(err))
		o.Error = fmt.Sprintf("flow registration failed: %v", err)
		o.UpdatedAt = e.now()
		if err := e.repo.Set(ctx, o); err != nil {
			e.discard(ctx, log, o, false)
			return nil, nil, fmt.Errorf("failed to persist order: %w", err)
		}
	} else {
		registered = true
		log.Debug("Flow registered", zap.String("flow_id", h.FlowID), zap.String("runtime_id", h.RuntimeID))
	}

	if e.autoActivate && o.Transition(order.StatusActive, e.now()) {
		if err := e.repo.Set(ctx, o); err != nil {
			e.discard(ctx, log, o, registered)
			return nil, nil, fmt.Errorf("failed to persist order: %w", err)
		}
	}

	log.Info("Order created", zap.String("status", string(o.Status)), zap.Int("nodes", len(f.Nodes)))
	return o.Clone(), f, nil
}

// discard undoes a partially created order. Failures are logged only.
func (e *OrderTemplates) discard(ctx context.Context, log *zap.Logger, o *order.Order, registered bool) {
	if err := e.repo.Delete(ctx, o.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Error("Failed to remove partially created order", zap.Error(err))
	}
	if registered {
		if _, err := e.runtime.Cancel(ctx, o.FlowID); err != nil {
			log.Warn("Failed to cancel flow of discarded order", zap.String("flow_id", o.FlowID), zap.Error(err))
		}
	}
}

// Get returns a copy of the order.
func (e *OrderTemplates) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, e.notFound(id, err)
	}
	return o, nil
}

// Activate moves a created or paused order to active.
func (e *OrderTemplates) Activate(ctx context.Context, id string) (bool, error) {
	return e.transition(ctx, id, order.StatusActive, "")
}

// Pause moves an active order to paused.
func (e *OrderTemplates) Pause(ctx context.Context, id string) (bool, error) {
	return e.transition(ctx, id, order.StatusPaused, "")
}

// Cancel moves a created, active or paused order to cancelled and then asks
// the runtime to drop its flow. A runtime failure is logged only.
func (e *OrderTemplates) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := e.transition(ctx, id, order.StatusCancelled, "")
	if !ok || err != nil {
		return ok, err
	}

	flowID := flow.ID(id)
	if o, err := e.repo.Get(ctx, id); err == nil && o.FlowID != "" {
		flowID = o.FlowID
	}
	removed, err := e.runtime.Cancel(ctx, flowID)
	switch {
	case err != nil:
		e.logger.Warn("Runtime cancel failed", zap.String("order_id", id), zap.String("flow_id", flowID), zap.Error(err))
	case !removed:
		e.logger.Debug("Runtime did not know the flow", zap.String("order_id", id), zap.String("flow_id", flowID))
	}
	return true, nil
}

// UpdateStatus is the runtime's callback for triggered, completed and
// failed. Only the first caller moves an order into triggered, which makes
// it the once-only guard for execute nodes.
func (e *OrderTemplates) UpdateStatus(ctx context.Context, id string, status order.Status, errMsg string) (bool, error) {
	switch status {
	case order.StatusTriggered, order.StatusCompleted, order.StatusFailed:
	default:
		return false, &order.ValidationError{Field: "status",
			Reason: fmt.Sprintf("must be one of triggered, completed or failed, got %q", status)}
	}
	return e.transition(ctx, id, status, errMsg)
}

// Delete removes a terminal order from the table.
func (e *OrderTemplates) Delete(ctx context.Context, id string) (bool, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	o, err := e.repo.Get(ctx, id)
	if err != nil {
		return false, e.notFound(id, err)
	}
	if !o.IsTerminal() {
		return false, nil
	}
	if err := e.repo.Delete(ctx, id); err != nil {
		return false, e.notFound(id, err)
	}
	e.logger.Info("Order deleted", zap.String("order_id", id), zap.String("status", string(o.Status)))
	return true, nil
}

func (e *OrderTemplates) transition(ctx context.Context, id string, next order.Status, errMsg string) (bool, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	o, err := e.repo.Get(ctx, id)
	if err != nil {
		return false, e.notFound(id, err)
	}
	prev := o.Status
	if !o.Transition(next, e.now()) {
		e.logger.Debug("Transition rejected",
			zap.String("order_id", id), zap.String("from", string(prev)), zap.String("to", string(next)))
		return false, nil
	}
	if errMsg != "" {
		o.Error = errMsg
	}
	if err := e.repo.Set(ctx, o); err != nil {
		return false, fmt.Errorf("failed to persist order %s: %w", id, err)
	}

	e.logger.Info("Order status changed",
		zap.String("order_id", id), zap.String("from", string(prev)), zap.String("to", string(next)))
	return true, nil
}

func (e *OrderTemplates) notFound(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return err
}
