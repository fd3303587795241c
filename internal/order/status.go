package order

// Type is the order template tag.
type Type string

const (
	TypeStopLoss        Type = "stop-loss"
	TypeTakeProfit      Type = "take-profit"
	TypeConditionalBuy  Type = "conditional-buy"
	TypeConditionalSell Type = "conditional-sell"
	TypeDCA             Type = "dca"
	TypeTWAP            Type = "twap"
	TypeTrailingStop    Type = "trailing-stop"
	TypeDualProtection  Type = "dual-protection"
	TypeSmartEntry      Type = "smart-entry"
)

// Types lists every supported template in a stable order.
var Types = []Type{
	TypeStopLoss, TypeTakeProfit, TypeConditionalBuy, TypeConditionalSell,
	TypeDCA, TypeTWAP, TypeTrailingStop, TypeDualProtection, TypeSmartEntry,
}

// Valid reports whether t is a known template.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Status is a lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusTriggered Status = "triggered"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every lifecycle state in a stable order.
var Statuses = []Status{
	StatusCreated, StatusActive, StatusPaused, StatusTriggered,
	StatusCompleted, StatusFailed, StatusCancelled,
}

var transitions = map[Status][]Status{
	StatusCreated:   {StatusActive, StatusTriggered, StatusCancelled},
	StatusActive:    {StatusPaused, StatusTriggered, StatusCancelled},
	StatusPaused:    {StatusActive, StatusTriggered, StatusCancelled},
	StatusTriggered: {StatusCompleted, StatusFailed},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
