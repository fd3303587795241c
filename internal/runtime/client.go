// Package runtime hands generated flows to the flow-execution runtime.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-automation-go/internal/flow"
)

// Handle identifies a flow registered with a runtime.
type Handle struct {
	FlowID       string    `json:"flowId"`
	RuntimeID    string    `json:"runtimeId"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Client is the outbound interface to the flow runtime.
type Client interface {
	Register(ctx context.Context, f *flow.Flow) (*Handle, error)
	// Cancel stops a registered flow. It returns false when the runtime does
	// not know the flow.
	Cancel(ctx context.Context, flowID string) (bool, error)
}

// LocalRegistry is an in-process Client that only records flows. It is used
// when no remote runtime is configured and by tests.
type LocalRegistry struct {
	mu     sync.RWMutex
	flows  map[string]*flow.Flow
	logger *zap.Logger
}

var _ Client = (*LocalRegistry)(nil)

// NewLocalRegistry creates an empty registry.
func NewLocalRegistry(logger *zap.Logger) *LocalRegistry {
	return &LocalRegistry{
		flows:  make(map[string]*flow.Flow),
		logger: logger.Named("runtime"),
	}
}

// Register stores f, replacing any flow with the same id.
func (r *LocalRegistry) Register(_ context.Context, f *flow.Flow) (*Handle, error) {
	if f == nil || f.ID == "" {
		return nil, fmt.Errorf("register flow: missing flow id")
	}
	r.mu.Lock()
	r.flows[f.ID] = f
	r.mu.Unlock()

	r.logger.Debug("Flow registered", zap.String("flow_id", f.ID), zap.Int("nodes", len(f.Nodes)))
	return &Handle{FlowID: f.ID, RuntimeID: f.ID, Status: "registered", RegisteredAt: time.Now()}, nil
}

func (r *LocalRegistry) Cancel(_ context.Context, flowID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.flows[flowID]; !ok {
		return false, nil
	}
	delete(r.flows, flowID)
	r.logger.Debug("Flow cancelled", zap.String("flow_id", flowID))
	return true, nil
}

// Lookup returns the registered flow with the given id.
func (r *LocalRegistry) Lookup(flowID string) (*flow.Flow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[flowID]
	return f, ok
}

// Len reports how many flows are registered.
func (r *LocalRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}
