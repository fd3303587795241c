package automation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"order-automation-go/internal/order"
)

// Filter selects orders for List. Values within one field are OR-ed, fields
// are AND-ed, and an empty field matches everything. Offset and Limit apply
// after sorting; a zero Limit means no limit.
type Filter struct {
	Statuses []order.Status `json:"status,omitempty"`
	Types    []order.Type   `json:"type,omitempty"`
	Tokens   []string       `json:"token,omitempty"`
	Offset   int            `json:"offset,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}

func (f Filter) matches(o *order.Order) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, o.Status) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, o.Type) {
		return false
	}
	if len(f.Tokens) > 0 {
		token := o.Params.Asset()
		found := false
		for _, t := range f.Tokens {
			if strings.EqualFold(t, token) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// List returns the orders matching f, newest first.
func (e *OrderTemplates) List(ctx context.Context, f Filter) ([]*order.Order, error) {
	all, err := e.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	matched := make([]*order.Order, 0, len(all))
	for _, o := range all {
		if f.matches(o) {
			matched = append(matched, o)
		}
	}

	// Ties on createdAt fall back to the id so pages are repeatable.
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	offset := max(f.Offset, 0)
	if offset >= len(matched) {
		return []*order.Order{}, nil
	}
	matched = matched[offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// OrderStats counts orders by status and by type. Every status and type is
// present, zero or not.
type OrderStats struct {
	Total    int                  `json:"total"`
	ByStatus map[order.Status]int `json:"byStatus"`
	ByType   map[order.Type]int   `json:"byType"`
}

// Stats computes OrderStats in one pass over the table.
func (e *OrderTemplates) Stats(ctx context.Context) (OrderStats, error) {
	stats := OrderStats{
		ByStatus: make(map[order.Status]int, len(order.Statuses)),
		ByType:   make(map[order.Type]int, len(order.Types)),
	}
	for _, s := range order.Statuses {
		stats.ByStatus[s] = 0
	}
	for _, t := range order.Types {
		stats.ByType[t] = 0
	}

	all, err := e.repo.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list orders: %w", err)
	}
	for _, o := range all {
		stats.Total++
		stats.ByStatus[o.Status]++
		stats.ByType[o.Type]++
	}
	return stats, nil
}
