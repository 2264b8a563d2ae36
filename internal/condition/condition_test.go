package condition_test

import (
	"testing"

	"inputdispatch/internal/condition"
	"inputdispatch/internal/specparser"
)

func f(v float64) *float64 { return &v }

func TestEvaluate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		conditions []specparser.Condition
		ctx        map[string]*float64
		want       bool
	}{
		{
			name:       "emptyIsVacuouslyTrue",
			conditions: nil,
			ctx:        map[string]*float64{},
			want:       true,
		},
		{
			name:       "singleConditionHolds",
			conditions: []specparser.Condition{{Field: "power", Op: specparser.OpGT, Threshold: 10}},
			ctx:        map[string]*float64{"power": f(20)},
			want:       true,
		},
		{
			name:       "singleConditionFails",
			conditions: []specparser.Condition{{Field: "power", Op: specparser.OpGT, Threshold: 10}},
			ctx:        map[string]*float64{"power": f(5)},
			want:       false,
		},
		{
			name: "allMustHold",
			conditions: []specparser.Condition{
				{Field: "power", Op: specparser.OpGT, Threshold: 10},
				{Field: "x", Op: specparser.OpLE, Threshold: 0},
			},
			ctx:  map[string]*float64{"power": f(20), "x": f(5)},
			want: false,
		},
		{
			name:       "missingFieldFails",
			conditions: []specparser.Condition{{Field: "power", Op: specparser.OpGT, Threshold: 10}},
			ctx:        map[string]*float64{},
			want:       false,
		},
		{
			name:       "nilValueFails",
			conditions: []specparser.Condition{{Field: "power", Op: specparser.OpGT, Threshold: 10}},
			ctx:        map[string]*float64{"power": nil},
			want:       false,
		},
		{
			name:       "equalityOperator",
			conditions: []specparser.Condition{{Field: "value", Op: specparser.OpEQ, Threshold: 1}},
			ctx:        map[string]*float64{"value": f(1)},
			want:       true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := condition.Evaluate(tc.conditions, tc.ctx)
			if got != tc.want {
				t.Fatalf("Evaluate() = %v, want %v", got, tc.want)
			}
		})
	}
}
