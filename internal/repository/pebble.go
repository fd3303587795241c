package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"order-automation-go/internal/order"
)

var orderPrefix = []byte("orders/")

func orderKey(id string) []byte {
	return append(append([]byte{}, orderPrefix...), id...)
}

// keyUpperBound returns the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// PebbleRepository stores orders as JSON documents in an embedded pebble
// store, keyed by orders/<id>.
type PebbleRepository struct {
	db *pebble.DB
}

// OpenPebbleRepository opens (or creates) the store at path.
func OpenPebbleRepository(path string) (*PebbleRepository, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store at %s: %w", path, err)
	}
	return &PebbleRepository{db: db}, nil
}

// Close flushes and closes the store.
func (r *PebbleRepository) Close() error {
	return r.db.Close()
}

func (r *PebbleRepository) Get(_ context.Context, id string) (*order.Order, error) {
	data, closer, err := r.db.Get(orderKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	defer closer.Close()

	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s: %w", id, err)
	}
	return &o, nil
}

func (r *PebbleRepository) Set(_ context.Context, o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", o.ID, err)
	}
	if err := r.db.Set(orderKey(o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.ID, err)
	}
	return nil
}

// Delete checks for the key first because pebble deletes are blind.
func (r *PebbleRepository) Delete(_ context.Context, id string) error {
	key := orderKey(id)
	_, closer, err := r.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get order %s: %w", id, err)
	}
	closer.Close()

	if err := r.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete order %s: %w", id, err)
	}
	return nil
}

func (r *PebbleRepository) List(_ context.Context) ([]*order.Order, error) {
	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: orderPrefix,
		UpperBound: keyUpperBound(orderPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	defer iter.Close()

	var out []*order.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o order.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order at %s: %w", iter.Key(), err)
		}
		out = append(out, &o)
	}
	return out, iter.Error()
}
