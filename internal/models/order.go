package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"order-automation-go/internal/order"
)

// OrderRecord is the database row of an automated order. Params and strategy
// state are stored as JSON documents; the scalar columns are indexed for
// listing.
type OrderRecord struct {
	ID          string         `gorm:"primaryKey;size:64"`
	Type        string         `gorm:"index;not null"`
	Status      string         `gorm:"index;not null"`
	Token       string         `gorm:"index"`
	FlowID      string         `gorm:"column:flow_id"`
	Params      datatypes.JSON `gorm:"not null"`
	State       datatypes.JSON
	Error       string
	CreatedAt   time.Time `gorm:"index;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
	TriggeredAt *time.Time
	CompletedAt *time.Time
}

// TableName keeps the table name stable regardless of the struct name.
func (OrderRecord) TableName() string { return "orders" }

// NewOrderRecord flattens an order into a row.
func NewOrderRecord(o *order.Order) (*OrderRecord, error) {
	params, err := json.Marshal(o.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params of order %s: %w", o.ID, err)
	}
	state, err := json.Marshal(o.State)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state of order %s: %w", o.ID, err)
	}

	var token string
	if o.Params != nil {
		token = o.Params.Asset()
	}
	return &OrderRecord{
		ID:          o.ID,
		Type:        string(o.Type),
		Status:      string(o.Status),
		Token:       token,
		FlowID:      o.FlowID,
		Params:      datatypes.JSON(params),
		State:       datatypes.JSON(state),
		Error:       o.Error,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		TriggeredAt: o.TriggeredAt,
		CompletedAt: o.CompletedAt,
	}, nil
}

// ToOrder rebuilds the domain order, decoding params into their variant.
func (r *OrderRecord) ToOrder() (*order.Order, error) {
	t := order.Type(r.Type)
	p, err := order.DecodeParams(t, json.RawMessage(r.Params))
	if err != nil {
		return nil, fmt.Errorf("failed to decode params of order %s: %w", r.ID, err)
	}

	o := &order.Order{
		ID:          r.ID,
		Type:        t,
		Params:      p,
		Status:      order.Status(r.Status),
		FlowID:      r.FlowID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		TriggeredAt: r.TriggeredAt,
		CompletedAt: r.CompletedAt,
		Error:       r.Error,
	}
	if len(r.State) > 0 {
		if err := json.Unmarshal(r.State, &o.State); err != nil {
			return nil, fmt.Errorf("failed to decode state of order %s: %w", r.ID, err)
		}
	}
	return o, nil
}
