package flow

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"order-automation-go/internal/condition"
	"order-automation-go/internal/order"
)

// DefaultVersion is stamped on flows when the generator is built without one.
const DefaultVersion = "1.0.0"

// Snapshot fields produced by the evaluation pre-step.
const (
	FieldPrice            = "price"
	FieldTrailingArmed    = "trailing.armed"
	FieldTrailingHWM      = "trailing.highWaterMark"
	FieldTrailingDrawdown = "trailing.drawdownPercent"
	FieldTrailingTrigger  = "trailing.triggerPrice"
	FieldScheduleDue      = "schedule.due"
	FieldScheduleLeft     = "schedule.remaining"
	FieldScheduleDone     = "schedule.executed"
	FieldScheduleAmount   = "schedule.sliceAmount"
)

// Generator turns orders into flows. Output depends only on the order's id,
// type and params, except for the generatedAt metadata stamp.
type Generator struct {
	version string
	now     func() time.Time
}

// NewGenerator creates a Generator stamping flows with version.
func NewGenerator(version string) *Generator {
	if version == "" {
		version = DefaultVersion
	}
	return &Generator{version: version, now: time.Now}
}

// ID returns the flow id of an order.
func ID(orderID string) string { return "flow:" + orderID }

// NodeID derives a node id from the order id and role; name disambiguates
// roles that occur more than once in a template.
func NodeID(orderID string, role Role, name string) string {
	if name == "" {
		return orderID + ":" + string(role)
	}
	return orderID + ":" + string(role) + ":" + name
}

// Generate validates the order's params and builds its flow.
func (g *Generator) Generate(o *order.Order) (*Flow, error) {
	if o == nil {
		return nil, &order.ValidationError{Field: "order", Reason: "is required"}
	}
	if o.ID == "" {
		return nil, &order.ValidationError{Type: o.Type, Field: "id", Reason: "is required"}
	}
	if o.Params == nil {
		return nil, &order.ValidationError{Type: o.Type, Field: "params", Reason: "is required"}
	}
	if o.Params.Type() != o.Type {
		return nil, &order.ValidationError{Type: o.Type, Field: "type",
			Reason: fmt.Sprintf("does not match params of type %s", o.Params.Type())}
	}
	if err := o.Params.Validate(); err != nil {
		return nil, err
	}

	b := &builder{orderID: o.ID}
	var template, description string

	switch p := o.Params.(type) {
	case order.StopLoss:
		template = "price-trigger"
		description = fmt.Sprintf("Sell %s%% of %s when price <= %s", p.SellPercent, p.Token, p.TriggerPrice)
		b.priceTrigger(
			condition.AllOf(condition.Leaf(priceCond(condition.OpLte, p.TriggerPrice))),
			sellAction(p.Token, p.SellPercent, p.Slippage),
			fmt.Sprintf("stop-loss for %s hit %s", p.Token, p.TriggerPrice),
		)
	case order.TakeProfit:
		template = "price-trigger"
		description = fmt.Sprintf("Sell %s%% of %s when price >= %s", p.SellPercent, p.Token, p.TriggerPrice)
		b.priceTrigger(
			condition.AllOf(condition.Leaf(priceCond(condition.OpGte, p.TriggerPrice))),
			sellAction(p.Token, p.SellPercent, p.Slippage),
			fmt.Sprintf("take-profit for %s hit %s", p.Token, p.TriggerPrice),
		)
	case order.ConditionalSell:
		template = "price-trigger"
		description = fmt.Sprintf("Sell %s%% of %s when conditions hold", p.SellPercent, p.Token)
		b.priceTrigger(p.Conditions, sellAction(p.Token, p.SellPercent, p.Slippage),
			fmt.Sprintf("conditional sell of %s executed", p.Token))
	case order.ConditionalBuy:
		template = "price-trigger"
		description = fmt.Sprintf("Buy %s with %s %s when conditions hold", p.Token, p.AmountIn, p.QuoteToken)
		b.priceTrigger(p.Conditions, buyAction(p.Token, p.QuoteToken, p.AmountIn, p.Slippage),
			fmt.Sprintf("conditional buy of %s executed", p.Token))
	case order.SmartEntry:
		template = "price-trigger"
		description = fmt.Sprintf("Buy %s with %s %s at or below %s", p.Token, p.AmountIn, p.QuoteToken, p.EntryPrice)
		entry := condition.AllOf(condition.Leaf(priceCond(condition.OpLte, p.EntryPrice)))
		if p.Conditions != nil && !p.Conditions.IsEmpty() {
			entry.Conditions = append(entry.Conditions, condition.Nested(*p.Conditions))
		}
		b.priceTrigger(entry, buyAction(p.Token, p.QuoteToken, p.AmountIn, p.Slippage),
			fmt.Sprintf("smart entry into %s executed", p.Token))
	case order.DCA:
		template = "schedule"
		description = fmt.Sprintf("Buy %s with %s %s every %s, %d times",
			p.Token, p.AmountPerExecution, p.QuoteToken, p.Interval(), p.Executions)
		act := buyAction(p.Token, p.QuoteToken, p.SliceAmount(), nil)
		act.Once = false
		b.schedule(act, fmt.Sprintf("dca into %s finished", p.Token))
	case order.TWAP:
		template = "schedule"
		description = fmt.Sprintf("%s %s %s in %d slices over %ds",
			p.Side, p.TotalAmount, p.Token, p.Slices, p.DurationSeconds)
		amount := p.SliceAmount()
		act := Action{Side: p.Side, Token: p.Token, QuoteToken: p.QuoteToken, Amount: &amount}
		b.schedule(act, fmt.Sprintf("twap %s of %s finished", p.Side, p.Token))
	case order.TrailingStop:
		template = "trailing"
		description = fmt.Sprintf("Sell %s%% of %s after a %s%% retracement from the high", p.SellPercent, p.Token, p.TrailPercent)
		b.trailing(p.TrailPercent, sellAction(p.Token, p.SellPercent, nil))
	case order.DualProtection:
		template = "dual-branch"
		description = fmt.Sprintf("Sell %s%% of %s when price <= %s or >= %s",
			p.SellPercent, p.Token, p.StopLossPrice, p.TakeProfitPrice)
		b.dual(
			condition.AllOf(condition.Leaf(priceCond(condition.OpLte, p.StopLossPrice))),
			condition.AllOf(condition.Leaf(priceCond(condition.OpGte, p.TakeProfitPrice))),
			sellAction(p.Token, p.SellPercent, p.Slippage),
			fmt.Sprintf("dual protection for %s executed", p.Token),
		)
	default:
		return nil, &order.ValidationError{Type: o.Type, Field: "type", Reason: "has no flow template"}
	}

	f := &Flow{
		ID:          ID(o.ID),
		Name:        fmt.Sprintf("%s %s", o.Type, o.Params.Asset()),
		Description: description,
		Version:     g.version,
		Nodes:       b.nodes,
		Edges:       b.edges,
		Metadata: map[string]any{
			"orderId":     o.ID,
			"orderType":   string(o.Type),
			"token":       o.Params.Asset(),
			"template":    template,
			"generatedAt": g.now().UTC().Format(time.RFC3339),
		},
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("generate flow for order %s: %w", o.ID, err)
	}
	return f, nil
}

type builder struct {
	orderID string
	nodes   []Node
	edges   []Edge
}

func (b *builder) add(name string, n Node) string {
	n.ID = NodeID(b.orderID, n.Role, name)
	b.nodes = append(b.nodes, n)
	return n.ID
}

func (b *builder) link(from, to string, on Outcome) {
	b.edges = append(b.edges, Edge{From: from, To: to, Condition: on})
}

// priceTrigger: check -true-> execute -> notify -> terminal, check -false->
// wait -> check.
func (b *builder) priceTrigger(cond condition.Group, act Action, message string) {
	check := b.add("", Node{Role: RoleCheckCondition, Condition: &cond})
	exec := b.add("", Node{Role: RoleExecuteTrade, Action: &act})
	notify := b.add("", Node{Role: RoleNotify, Message: message})
	term := b.add("", Node{Role: RoleTerminal})
	wait := b.add("", Node{Role: RoleWaitTick})

	b.link(check, exec, OnTrue)
	b.link(check, wait, OnFalse)
	b.link(exec, notify, Always)
	b.link(notify, term, Always)
	b.link(wait, check, Always)
}

// schedule: due -true-> execute -> update -> remaining; remaining -true->
// due, remaining -false-> notify -> terminal; due -false-> wait -> due.
func (b *builder) schedule(act Action, message string) {
	dueCond := condition.AllOf(condition.Leaf(condition.Must(FieldScheduleDue, condition.OpEq, 1)))
	leftCond := condition.AllOf(condition.Leaf(condition.Must(FieldScheduleLeft, condition.OpGt, 0)))

	due := b.add("schedule", Node{Role: RoleCheckCondition, Condition: &dueCond})
	exec := b.add("", Node{Role: RoleExecuteTrade, Action: &act})
	update := b.add("", Node{Role: RoleUpdateState, Update: UpdateDecrementRemaining})
	left := b.add("remaining", Node{Role: RoleCheckCondition, Condition: &leftCond})
	notify := b.add("", Node{Role: RoleNotify, Message: message})
	term := b.add("", Node{Role: RoleTerminal})
	wait := b.add("", Node{Role: RoleWaitTick})

	b.link(due, exec, OnTrue)
	b.link(due, wait, OnFalse)
	b.link(exec, update, Always)
	b.link(update, left, Always)
	b.link(left, due, OnTrue)
	b.link(left, notify, OnFalse)
	b.link(notify, term, Always)
	b.link(wait, due, Always)
}

// trailing: update -> check -true-> execute -> terminal; check -false->
// wait -> update.
func (b *builder) trailing(trailPercent decimal.Decimal, act Action) {
	cond := condition.AllOf(
		condition.Leaf(condition.Must(FieldTrailingArmed, condition.OpEq, 1)),
		condition.Leaf(condition.Must(FieldTrailingDrawdown, condition.OpGte, trailPercent)),
	)

	update := b.add("", Node{Role: RoleUpdateState, Update: UpdateHighWaterMark})
	check := b.add("", Node{Role: RoleCheckCondition, Condition: &cond})
	exec := b.add("", Node{Role: RoleExecuteTrade, Action: &act})
	term := b.add("", Node{Role: RoleTerminal})
	wait := b.add("", Node{Role: RoleWaitTick})

	b.link(update, check, Always)
	b.link(check, exec, OnTrue)
	b.link(check, wait, OnFalse)
	b.link(exec, term, Always)
	b.link(wait, update, Always)
}

// dual: wait fans out to both checks; either true edge feeds the shared
// execute node, which is marked Once.
func (b *builder) dual(stop, take condition.Group, act Action, message string) {
	act.Once = true

	wait := b.add("", Node{Role: RoleWaitTick})
	stopCheck := b.add("stop-loss", Node{Role: RoleCheckCondition, Condition: &stop})
	takeCheck := b.add("take-profit", Node{Role: RoleCheckCondition, Condition: &take})
	exec := b.add("", Node{Role: RoleExecuteTrade, Action: &act})
	notify := b.add("", Node{Role: RoleNotify, Message: message})
	term := b.add("", Node{Role: RoleTerminal})

	b.link(wait, stopCheck, Always)
	b.link(wait, takeCheck, Always)
	b.link(stopCheck, exec, OnTrue)
	b.link(stopCheck, wait, OnFalse)
	b.link(takeCheck, exec, OnTrue)
	b.link(takeCheck, wait, OnFalse)
	b.link(exec, notify, Always)
	b.link(notify, term, Always)
}

func priceCond(op condition.Operator, price decimal.Decimal) condition.Condition {
	return condition.Must(FieldPrice, op, price)
}

func sellAction(token string, percent decimal.Decimal, slippage *decimal.Decimal) Action {
	return Action{Side: order.SideSell, Token: token, Percent: &percent, Slippage: slippage, Once: true}
}

func buyAction(token, quote string, amount decimal.Decimal, slippage *decimal.Decimal) Action {
	return Action{Side: order.SideBuy, Token: token, QuoteToken: quote, Amount: &amount, Slippage: slippage, Once: true}
}
