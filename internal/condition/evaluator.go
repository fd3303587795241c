package condition

import (
	"go.uber.org/zap"
)

// Evaluator runs condition trees against snapshots. It keeps no state between
// calls; the logger only records why a leaf failed closed.
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator. A nil logger is replaced with a no-op one.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{logger: logger.Named("condition")}
}

// Evaluate reports whether g holds for s. Missing fields, type mismatches and
// malformed nodes evaluate to false.
func (e *Evaluator) Evaluate(g Group, s Snapshot) bool {
	switch g.Logic {
	case And:
		for i, n := range g.Conditions {
			if !e.evalNode(n, s) {
				e.logger.Debug("AND short-circuited", zap.Int("index", i))
				return false
			}
		}
		return true
	case Or:
		for i, n := range g.Conditions {
			if e.evalNode(n, s) {
				e.logger.Debug("OR short-circuited", zap.Int("index", i))
				return true
			}
		}
		return false
	default:
		e.logger.Warn("Unknown group operator, failing closed", zap.String("operator", string(g.Logic)))
		return false
	}
}

func (e *Evaluator) evalNode(n Node, s Snapshot) bool {
	switch {
	case n.Cond != nil && n.Group == nil:
		return e.evalCondition(*n.Cond, s)
	case n.Group != nil && n.Cond == nil:
		return e.Evaluate(*n.Group, s)
	}
	e.logger.Warn("Malformed condition node, failing closed")
	return false
}

func (e *Evaluator) evalCondition(c Condition, s Snapshot) bool {
	actual, ok := s.Lookup(c.Field)
	if !ok {
		e.logger.Debug("Snapshot field missing, failing closed", zap.String("field", c.Field))
		return false
	}

	if c.Value.isNum {
		got, ok := toFloat(actual)
		if !ok {
			e.logger.Warn("Snapshot field is not numeric, failing closed",
				zap.String("field", c.Field), zap.Any("value", actual))
			return false
		}
		return compareNumbers(c.Operator, got, c.Value.num)
	}

	if c.Operator.Ordered() {
		// Compile rejects this; a hand-built tree can still reach it.
		e.logger.Warn("Ordered operator with string operand, failing closed", zap.String("condition", c.String()))
		return false
	}
	got, ok := actual.(string)
	if !ok {
		e.logger.Warn("Snapshot field is not a string, failing closed",
			zap.String("field", c.Field), zap.Any("value", actual))
		return false
	}
	switch c.Operator {
	case OpEq:
		return got == c.Value.str
	case OpNe:
		return got != c.Value.str
	}
	return false
}

func compareNumbers(op Operator, a, b float64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	}
	return false
}
