// Package condition evaluates a list of (field, op, threshold) triples
// against the dispatcher's current numeric context as a short-circuiting
// AND.
package condition

import (
	"inputdispatch/internal/specparser"
)

// Evaluate returns true iff every condition holds against ctx. An empty
// list is vacuously true. A condition whose field is missing/null in ctx
// makes the whole result false: an absent signal never satisfies a
// threshold.
func Evaluate(conditions []specparser.Condition, ctx map[string]*float64) bool {
	for _, c := range conditions {
		v, ok := ctx[c.Field]
		if !ok || v == nil {
			return false
		}
		if !compare(*v, c.Op, c.Threshold) {
			return false
		}
	}
	return true
}

func compare(value float64, op specparser.Op, threshold float64) bool {
	switch op {
	case specparser.OpGT:
		return value > threshold
	case specparser.OpLT:
		return value < threshold
	case specparser.OpGE:
		return value >= threshold
	case specparser.OpLE:
		return value <= threshold
	case specparser.OpEQ:
		return value == threshold
	case specparser.OpNE:
		return value != threshold
	default:
		return false
	}
}
