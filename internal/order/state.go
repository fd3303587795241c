package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the per-order mutable strategy state. At most one member is set,
// depending on the template.
type State struct {
	Trailing *TrailingState `json:"trailing,omitempty"`
	Schedule *ScheduleState `json:"schedule,omitempty"`
}

// InitialState returns the state an order of p's template starts with.
func InitialState(p Params, now time.Time) State {
	switch v := p.(type) {
	case TrailingStop:
		return State{Trailing: &TrailingState{Armed: v.ActivationPrice == nil}}
	case Scheduled:
		n := v.ExecutionCount()
		return State{Schedule: &ScheduleState{Total: n, Remaining: n, NextDueAt: now}}
	}
	return State{}
}

// Clone deep-copies the state.
func (s State) Clone() State {
	var c State
	if s.Trailing != nil {
		t := *s.Trailing
		c.Trailing = &t
	}
	if s.Schedule != nil {
		sc := *s.Schedule
		if s.Schedule.LastExecutedAt != nil {
			t := *s.Schedule.LastExecutedAt
			sc.LastExecutedAt = &t
		}
		c.Schedule = &sc
	}
	return c
}

// TrailingState tracks the high-water mark of a trailing-stop order.
type TrailingState struct {
	HighWaterMark decimal.Decimal `json:"highWaterMark"`
	Armed         bool            `json:"armed"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
}

// Observe records a price tick. The order arms once the price reaches
// activation (a nil activation arms immediately); while armed the high-water
// mark only ever rises. It reports whether the state changed.
func (t *TrailingState) Observe(price decimal.Decimal, activation *decimal.Decimal) bool {
	changed := !t.LastPrice.Equal(price)
	t.LastPrice = price
	if !t.Armed {
		if activation != nil && price.LessThan(*activation) {
			return changed
		}
		t.Armed = true
		changed = true
	}
	if price.GreaterThan(t.HighWaterMark) {
		t.HighWaterMark = price
		changed = true
	}
	return changed
}

// DrawdownPercent is the retracement of price from the high-water mark, in
// percent. It is zero while unarmed or before any tick.
func (t TrailingState) DrawdownPercent(price decimal.Decimal) decimal.Decimal {
	if !t.Armed || !t.HighWaterMark.IsPositive() || price.GreaterThanOrEqual(t.HighWaterMark) {
		return decimal.Zero
	}
	return t.HighWaterMark.Sub(price).Div(t.HighWaterMark).Mul(hundred)
}

// TriggerPrice is the price at or below which the order fires.
func (t TrailingState) TriggerPrice(trailPercent decimal.Decimal) decimal.Decimal {
	return t.HighWaterMark.Mul(hundred.Sub(trailPercent)).Div(hundred)
}

// ScheduleState counts the slices of a dca or twap order.
type ScheduleState struct {
	Total          int        `json:"total"`
	Remaining      int        `json:"remaining"`
	Executed       int        `json:"executed"`
	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty"`
	NextDueAt      time.Time  `json:"nextDueAt"`
}

// Due reports whether a slice should execute at now.
func (s ScheduleState) Due(now time.Time) bool {
	return s.Remaining > 0 && !now.Before(s.NextDueAt)
}

// Record accounts for one executed slice and schedules the next one.
func (s *ScheduleState) Record(now time.Time, interval time.Duration) {
	if s.Remaining <= 0 {
		return
	}
	s.Remaining--
	s.Executed++
	s.LastExecutedAt = &now
	s.NextDueAt = now.Add(interval)
}
