// Package repository stores orders. Every implementation hands out deep
// copies, so callers may mutate what they get without touching the table.
package repository

import (
	"context"
	"errors"

	"order-automation-go/internal/order"
)

// ErrNotFound is returned by Get and Delete for an unknown order id.
var ErrNotFound = errors.New("order not found")

// Repository is the order table.
type Repository interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	// Set inserts or replaces the order with the same id.
	Set(ctx context.Context, o *order.Order) error
	Delete(ctx context.Context, id string) error
	// List returns every stored order in no particular order.
	List(ctx context.Context) ([]*order.Order, error)
}
