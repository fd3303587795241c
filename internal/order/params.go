package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"order-automation-go/internal/condition"
)

// DefaultQuoteToken is used when a buy-side template does not name one.
const DefaultQuoteToken = "USDC"

var hundred = decimal.NewFromInt(100)

// Params is the type-specific payload of an order. Each implementation is one
// variant of the template union; Type returns its tag.
type Params interface {
	Type() Type
	// Asset is the token the order trades.
	Asset() string
	Validate() error
}

// Scheduled is implemented by templates that execute in several slices.
type Scheduled interface {
	Params
	ExecutionCount() int
	Interval() time.Duration
	SliceAmount() decimal.Decimal
	// SliceAmountAt is the amount of the slice that follows executed
	// earlier ones. Slice amounts always add up to the order total.
	SliceAmountAt(executed int) decimal.Decimal
}

// slicePrecision is the number of decimal places a twap slice is cut to.
const slicePrecision = 16

// Side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// StopLoss sells when the price falls to TriggerPrice.
type StopLoss struct {
	Token        string           `json:"token"`
	TriggerPrice decimal.Decimal  `json:"triggerPrice"`
	SellPercent  decimal.Decimal  `json:"sellPercent"`
	Slippage     *decimal.Decimal `json:"slippage,omitempty"`
}

func (p StopLoss) Type() Type    { return TypeStopLoss }
func (p StopLoss) Asset() string { return p.Token }
func (p StopLoss) Validate() error {
	return firstErr(
		requireToken(p.Type(), p.Token),
		requirePositive(p.Type(), "triggerPrice", p.TriggerPrice),
		requirePercent(p.Type(), "sellPercent", p.SellPercent, true),
		optionalPercent(p.Type(), "slippage", p.Slippage),
	)
}

// TakeProfit sells when the price rises to TriggerPrice.
type TakeProfit struct {
	Token        string           `json:"token"`
	TriggerPrice decimal.Decimal  `json:"triggerPrice"`
	SellPercent  decimal.Decimal  `json:"sellPercent"`
	Slippage     *decimal.Decimal `json:"slippage,omitempty"`
}

func (p TakeProfit) Type() Type    { return TypeTakeProfit }
func (p TakeProfit) Asset() string { return p.Token }
func (p TakeProfit) Validate() error {
	return firstErr(
		requireToken(p.Type(), p.Token),
		requirePositive(p.Type(), "triggerPrice", p.TriggerPrice),
		requirePercent(p.Type(), "sellPercent", p.SellPercent, true),
		optionalPercent(p.Type(), "slippage", p.Slippage),
	)
}

// ConditionalSell sells SellPercent of the position once Conditions hold.
type ConditionalSell struct {
	Token       string           `json:"token"`
	Conditions  condition.Group  `json:"conditions"`
	SellPercent decimal.Decimal  `json:"sellPercent"`
	Slippage    *decimal.Decimal `json:"slippage,omitempty"`
}

func (p ConditionalSell) Type() Type    { return TypeConditionalSell }
func (p ConditionalSell) Asset() string { return p.Token }
func (p ConditionalSell) Validate() error {
	return firstErr(
		requireToken(p.Type(), p.Token),
		requireConditions(p.Type(), p.Conditions),
		requirePercent(p.Type(), "sellPercent", p.SellPercent, true),
		optionalPercent(p.Type(), "slippage", p.Slippage),
	)
}

// ConditionalBuy spends AmountIn of QuoteToken once Conditions hold.
type ConditionalBuy struct {
	Token      string           `json:"token"`
	QuoteToken string           `json:"quoteToken"`
	Conditions condition.Group  `json:"conditions"`
	AmountIn   decimal.Decimal  `json:"amountIn"`
	Slippage   *decimal.Decimal `json:"slippage,omitempty"`
}

func (p ConditionalBuy) Type() Type    { return TypeConditionalBuy }
func (p ConditionalBuy) Asset() string { return p.Token }
func (p ConditionalBuy) Validate() error {
	return firstErr(
		requireToken(p.Type(), p.Token),
		requireConditions(p.Type(), p.Conditions),
		requirePositive(p.Type(), "amountIn", p.AmountIn),
		optionalPercent(p.Type(), "slippage", p.Slippage),
	)
}

// SmartEntry buys once the price is at or below EntryPrice and the optional
// extra Conditions hold.
type SmartEntry struct {
	Token      string           `json:"token"`
	QuoteToken string           `json:"quoteToken"`
	EntryPrice decimal.Decimal  `json:"entryPrice"`
	AmountIn   decimal.Decimal  `json:"amountIn"`
	Conditions *condition.Group `json:"conditions,omitempty"`
	Slippage   *decimal.Decimal `json:"slippage,omitempty"`
}

func (p SmartEntry) Type() Type    { return TypeSmartEntry }
func (p SmartEntry) Asset() string { return p.Token }
func (p SmartEntry) Validate() error {
	var conds error
	if p.Conditions != nil {
		if err := p.Conditions.Validate(); err != nil {
			conds = conditionError(p.Type(), "conditions", err)
		}
	}
	return firstErr(
		requireToken(p.Type(), p.Token),
		requirePositive(p.Type(), "entryPrice", p.EntryPrice),
		requirePositive(p.Type(), "amountIn", p.AmountIn),
		conds,
		optionalPercent(p.Type(), "slippage", p.Slippage),
	)
}

// DCA buys AmountPerExecution every IntervalSeconds, Executions times.
type DCA struct {
	Token              string          `json:"token"`
	QuoteToken         string          `json:"quoteToken"`
	AmountPerExecution decimal.Decimal `json:"amountPerExecution"`
	Executions         int             `json:"executions"`
	IntervalSeconds    int             `json:"intervalSeconds"`
}

func (p DCA) Type() Type                   { return TypeDCA }
func (p DCA) Asset() string                { return p.Token }
func (p DCA) ExecutionCount() int          { return p.Executions }
func (p DCA) Interval() time.Duration      { return time.Duration(p.IntervalSeconds) * time.Second }
func (p DCA) SliceAmount() decimal.Decimal { return p.AmountPerExecution }
func (p DCA) SliceAmountAt(int) decimal.Decimal {
	return p.AmountPerExecution
}
func (p DCA) Validate() error {
	return firstErr(
		requireToken(p.Type(), p.Token),
		requirePositive(p.Type(), "amountPerExecution", p.AmountPerExecution),
		requireAtLeast(p.Type(), "executions", p.Executions, 1),
		requireAtLeast(p.Type(), "intervalSeconds", p.IntervalSeconds, 1),
	)
}

// TWAP splits TotalAmount into Slices equal trades spread over DurationSeconds.
type TWAP struct {
	Token           string          `json:"token"`
	QuoteToken      string          `json:"quoteToken"`
	Side            Side            `json:"side"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Slices          int             `json:"slices"`
	DurationSeconds int             `json:"durationSeconds"`
}

func (p TWAP) Type() Type          { return TypeTWAP }
func (p TWAP) Asset() string       { return p.Token }
func (p TWAP) ExecutionCount() int { return p.Slices }
func (p TWAP) Interval() time.Duration {
	if p.Slices <= 0 {
		return 0
	}
	return time.Duration(p.DurationSeconds) * time.Second / time.Duration(p.Slices)
}

// SliceAmount is TotalAmount / Slices truncated to slicePrecision places.
func (p TWAP) SliceAmount() decimal.Decimal {
	if p.Slices <= 0 {
		return decimal.Zero
	}
	q, _ := p.TotalAmount.QuoRem(decimal.NewFromInt(int64(p.Slices)), slicePrecision)
	return q
}

// SliceAmountAt returns SliceAmount, except that the last slice also takes
// the truncation remainder.
func (p TWAP) SliceAmountAt(executed int) decimal.Decimal {
	if p.Slices <= 0 || executed >= p.Slices {
		return decimal.Zero
	}
	q := p.SliceAmount()
	if executed == p.Slices-1 {
		return p.TotalAmount.Sub(q.Mul(decimal.NewFromInt(int64(p.Slices - 1))))
	}
	return q
}
func (p TWAP) Validate() error {
	var side error
	if p.Side != SideBuy && p.Side != SideSell {
		side = invalid(p.Type(), "side", `must be "buy" or "sell"`)
	}
	return firstErr(
		requireToken(p.Type(), p.Token),
		side,
		requirePositive(p.Type(), "totalAmount", p.TotalAmount),
		requireAtLeast(p.Type(), "slices", p.Slices, 1),
		requireAtLeast(p.Type(), "durationSeconds", p.DurationSeconds, max(p.Slices, 1)),
	)
}

// TrailingStop sells once the price retraces TrailPercent from the highest
// price seen since activation. A positive ActivationPrice delays arming until
// the price first reaches it.
type TrailingStop struct {
	Token           string           `json:"token"`
	TrailPercent    decimal.Decimal  `json:"trailPercent"`
	SellPercent     decimal.Decimal  `json:"sellPercent"`
	ActivationPrice *decimal.Decimal `json:"activationPrice,omitempty"`
}

func (p TrailingStop) Type() Type    { return TypeTrailingStop }
func (p TrailingStop) Asset() string { return p.Token }
func (p TrailingStop) Validate() error {
	var activation error
	if p.ActivationPrice != nil && !p.ActivationPrice.IsPositive() {
		activation = invalid(p.Type(), "activationPrice", "must be greater than 0")
	}
	return firstErr(
		requireToken(p.Type(), p.Token),
		requirePercent(p.Type(), "trailPercent", p.TrailPercent, false),
		requirePercent(p.Type(), "sellPercent", p.SellPercent, true),
		activation,
	)
}

// DualProtection combines a stop-loss and a take-profit on one position; the
// first branch to fire executes the sale.
type DualProtection struct {
	Token           string           `json:"token"`
	StopLossPrice   decimal.Decimal  `json:"stopLossPrice"`
	TakeProfitPrice decimal.Decimal  `json:"takeProfitPrice"`
	SellPercent     decimal.Decimal  `json:"sellPercent"`
	Slippage        *decimal.Decimal `json:"slippage,omitempty"`
}

func (p DualProtection) Type() Type    { return TypeDualProtection }
func (p DualProtection) Asset() string { return p.Token }
func (p DualProtection) Validate() error {
	var band error
	if p.StopLossPrice.IsPositive() && p.TakeProfitPrice.IsPositive() &&
		!p.TakeProfitPrice.GreaterThan(p.StopLossPrice) {
		band = invalid(p.Type(), "takeProfitPrice", "must be greater than stopLossPrice")
	}
	return firstErr(
		requireToken(p.Type(), p.Token),
		requirePositive(p.Type(), "stopLossPrice", p.StopLossPrice),
		requirePositive(p.Type(), "takeProfitPrice", p.TakeProfitPrice),
		band,
		requirePercent(p.Type(), "sellPercent", p.SellPercent, true),
		optionalPercent(p.Type(), "slippage", p.Slippage),
	)
}

// DecodeParams decodes raw into the variant selected by t, compiles any
// embedded condition tree and validates the result.
func DecodeParams(t Type, raw json.RawMessage) (Params, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, &ValidationError{Type: t, Field: "params", Reason: "is required"}
	}

	var (
		p   Params
		err error
	)
	switch t {
	case TypeStopLoss:
		p, err = decodeInto[StopLoss](raw)
	case TypeTakeProfit:
		p, err = decodeInto[TakeProfit](raw)
	case TypeConditionalSell:
		p, err = decodeInto[ConditionalSell](raw)
	case TypeConditionalBuy:
		p, err = decodeInto[ConditionalBuy](raw)
	case TypeSmartEntry:
		p, err = decodeInto[SmartEntry](raw)
	case TypeDCA:
		p, err = decodeInto[DCA](raw)
	case TypeTWAP:
		p, err = decodeInto[TWAP](raw)
	case TypeTrailingStop:
		p, err = decodeInto[TrailingStop](raw)
	case TypeDualProtection:
		p, err = decodeInto[DualProtection](raw)
	default:
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown order type %q", t)}
	}
	if err != nil {
		return nil, &ValidationError{Type: t, Field: "params", Reason: err.Error()}
	}

	p, err = Normalize(p)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeInto[T Params](raw json.RawMessage) (Params, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Normalize trims tokens, fills default quote tokens and compiles condition
// trees. It is applied once when an order is authored.
func Normalize(p Params) (Params, error) {
	switch v := p.(type) {
	case StopLoss:
		v.Token = strings.TrimSpace(v.Token)
		return v, nil
	case TakeProfit:
		v.Token = strings.TrimSpace(v.Token)
		return v, nil
	case ConditionalSell:
		v.Token = strings.TrimSpace(v.Token)
		g, err := compileConditions(v.Type(), v.Conditions)
		if err != nil {
			return nil, err
		}
		v.Conditions = g
		return v, nil
	case ConditionalBuy:
		v.Token = strings.TrimSpace(v.Token)
		v.QuoteToken = quoteOrDefault(v.QuoteToken)
		g, err := compileConditions(v.Type(), v.Conditions)
		if err != nil {
			return nil, err
		}
		v.Conditions = g
		return v, nil
	case SmartEntry:
		v.Token = strings.TrimSpace(v.Token)
		v.QuoteToken = quoteOrDefault(v.QuoteToken)
		if v.Conditions != nil {
			g, err := compileConditions(v.Type(), *v.Conditions)
			if err != nil {
				return nil, err
			}
			v.Conditions = &g
		}
		return v, nil
	case DCA:
		v.Token = strings.TrimSpace(v.Token)
		v.QuoteToken = quoteOrDefault(v.QuoteToken)
		return v, nil
	case TWAP:
		v.Token = strings.TrimSpace(v.Token)
		v.QuoteToken = quoteOrDefault(v.QuoteToken)
		v.Side = Side(strings.ToLower(string(v.Side)))
		return v, nil
	case TrailingStop:
		v.Token = strings.TrimSpace(v.Token)
		return v, nil
	case DualProtection:
		v.Token = strings.TrimSpace(v.Token)
		return v, nil
	case nil:
		return nil, &ValidationError{Field: "params", Reason: "is required"}
	}
	return nil, &ValidationError{Field: "params", Reason: fmt.Sprintf("unsupported params type %T", p)}
}

// compileConditions leaves an absent tree alone so Validate can report it
// as missing.
func compileConditions(t Type, g condition.Group) (condition.Group, error) {
	if g.Logic == "" && g.IsEmpty() {
		return g, nil
	}
	compiled, err := condition.Compile(g)
	if err != nil {
		return condition.Group{}, conditionError(t, "conditions", err)
	}
	return compiled, nil
}

func quoteOrDefault(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return DefaultQuoteToken
	}
	return q
}

func requireToken(t Type, token string) error {
	if strings.TrimSpace(token) == "" {
		return missing(t, "token")
	}
	return nil
}

func requirePositive(t Type, field string, d decimal.Decimal) error {
	if d.IsZero() {
		return missing(t, field)
	}
	if !d.IsPositive() {
		return invalid(t, field, "must be greater than 0")
	}
	return nil
}

// requirePercent checks 0 < d < 100, or 0 < d <= 100 when inclusive.
func requirePercent(t Type, field string, d decimal.Decimal, inclusive bool) error {
	if err := requirePositive(t, field, d); err != nil {
		return err
	}
	if d.GreaterThan(hundred) || (!inclusive && d.Equal(hundred)) {
		return invalid(t, field, "must be a percentage below 100")
	}
	return nil
}

func optionalPercent(t Type, field string, d *decimal.Decimal) error {
	if d == nil {
		return nil
	}
	if d.IsNegative() || d.GreaterThan(hundred) {
		return invalid(t, field, "must be between 0 and 100")
	}
	return nil
}

func requireAtLeast(t Type, field string, v, least int) error {
	if v == 0 {
		return missing(t, field)
	}
	if v < least {
		return invalid(t, field, fmt.Sprintf("must be at least %d", least))
	}
	return nil
}

func requireConditions(t Type, g condition.Group) error {
	if g.Logic == "" && g.IsEmpty() {
		return missing(t, "conditions")
	}
	if g.IsEmpty() {
		return invalid(t, "conditions", "must contain at least one condition")
	}
	if err := g.Validate(); err != nil {
		return conditionError(t, "conditions", err)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
