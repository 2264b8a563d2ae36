// Package specparser turns a user-facing input specifier string
// ("pop cluck:power>10:th_100") into a structured Descriptor. Parsing
// never fails hard — a malformed segment is dropped with a diagnostic so
// one bad entry never aborts a whole mapping load.
package specparser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/shopspring/decimal"
)

// NumericFields is the fixed set of fields a condition or a context-bound
// action parameter may reference.
var NumericFields = map[string]bool{
	"power": true,
	"f0":    true,
	"f1":    true,
	"f2":    true,
	"x":     true,
	"y":     true,
	"value": true,
}

// Op is a relational operator recognized in a condition decorator.
type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
	OpNE Op = "!="
)

var operators = []Op{OpGE, OpLE, OpEQ, OpNE, OpGT, OpLT} // longest-prefix-safe order

// Condition is one (field, op, threshold) triple.
type Condition struct {
	Field     string
	Op        Op
	Threshold float64
}

// Descriptor is the structured result of parsing one specifier string.
type Descriptor struct {
	Raw string

	// BaseTokens is the space-separated base chain, e.g. ["pop", "cluck"].
	BaseTokens []string
	// Variables maps a 0-based position in BaseTokens to the placeholder
	// name captured there (token began with '$').
	Variables map[int]string

	Throttle   *DurationMS
	Debounce   *DurationMS
	Now        bool
	Else       bool
	Conditions []Condition
	Opaque     []string // unrecognized decorator segments, reserved for future use

	Diagnostics []string
}

// DurationMS is a millisecond count parsed from a th/db decorator. It is a
// distinct type (rather than a bare int) so call sites can't confuse a
// decorator duration with an unrelated count.
type DurationMS int

// BaseChain renders the base tokens space-joined, the key shape every
// dispatch table indexes by.
func (d *Descriptor) BaseChain() string {
	return strings.Join(d.BaseTokens, " ")
}

// HasVariables reports whether any base token is a $placeholder.
func (d *Descriptor) HasVariables() bool {
	return len(d.Variables) > 0
}

var fieldConditionRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(>=|<=|==|!=|>|<)([+-]?[0-9]*\.?[0-9]+)$`)
var throttleRe = regexp.MustCompile(`^th(?:_([0-9]+))?$`)
var debounceRe = regexp.MustCompile(`^db(?:_([0-9]+))?$`)

const (
	defaultThrottleMS = 100
	defaultDebounceMS = 100
)

// Parse splits spec on ':' and classifies each decorator segment.
// Diagnostics are attached to the returned Descriptor; Parse itself never
// returns an error — the caller (the categorizer) decides whether a
// diagnostic disqualifies the whole entry.
func Parse(spec string) *Descriptor {
	segments := strings.Split(spec, ":")
	base := segments[0]

	d := &Descriptor{
		Raw:       spec,
		Variables: make(map[int]string),
	}

	tokens, err := tokenizeBase(base)
	if err != nil {
		d.Diagnostics = append(d.Diagnostics, fmt.Sprintf("failed to tokenize base %q: %v", base, err))
		tokens = strings.Fields(base)
	}

	for i, tok := range tokens {
		if strings.HasPrefix(tok, "$") && len(tok) > 1 {
			d.Variables[i] = tok[1:]
			continue
		}
		// Catches the "dimple_left>0.5" typo: a relational operator inside
		// a base token almost always means a condition decorator was
		// intended ("dimple_left:value>0.5") and the ':' was dropped.
		if looksLikeMistypedCondition(tok) {
			d.Diagnostics = append(d.Diagnostics,
				fmt.Sprintf("base token %q contains a relational operator but is not a condition decorator; did you mean a \":<field><op><num>\" suffix (e.g. %q)?",
					tok, conditionHint(tok)))
		}
	}
	d.BaseTokens = tokens

	for _, seg := range segments[1:] {
		classifyDecorator(d, seg)
	}

	return d
}

// conditionHint rewrites a mistyped base token like "dimple_left>0.5"
// into the decorator form it was probably meant to be, for the
// diagnostic message.
func conditionHint(tok string) string {
	for _, op := range operators {
		if i := strings.Index(tok, string(op)); i > 0 {
			return tok[:i] + ":value" + tok[i:]
		}
	}
	return tok
}

// tokenizeBase uses a shell-like tokenizer so a quoted base segment (or one
// with escaped whitespace) survives splitting faithfully; plain
// space-separated bases behave exactly as strings.Fields would. A base
// holding a relational operator is split with strings.Fields instead: the
// shell-like tokenizer stops at '<' and '>', which would cut a mistyped
// condition like "dimple_left>0.5" short before the typo check sees it.
func tokenizeBase(base string) ([]string, error) {
	if looksLikeMistypedCondition(base) {
		return strings.Fields(base), nil
	}
	p := shellwords.NewParser()
	tokens, err := p.Parse(base)
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func classifyDecorator(d *Descriptor, seg string) {
	if seg == "" {
		return
	}

	switch {
	case seg == "now":
		d.Now = true
		return
	case seg == "else":
		d.Else = true
		return
	}

	if m := throttleRe.FindStringSubmatch(seg); m != nil {
		ms := defaultThrottleMS
		if m[1] != "" {
			if v, err := strconv.Atoi(m[1]); err == nil {
				ms = v
			}
		}
		v := DurationMS(ms)
		d.Throttle = &v
		return
	}

	if m := debounceRe.FindStringSubmatch(seg); m != nil {
		ms := defaultDebounceMS
		if m[1] != "" {
			if v, err := strconv.Atoi(m[1]); err == nil {
				ms = v
			}
		}
		v := DurationMS(ms)
		d.Debounce = &v
		return
	}

	if m := fieldConditionRe.FindStringSubmatch(seg); m != nil {
		field, opStr, numStr := m[1], m[2], m[3]
		if !NumericFields[field] {
			d.Diagnostics = append(d.Diagnostics,
				fmt.Sprintf("condition %q references unknown field %q (typo for a value decorator like %q:value%s%s?)",
					seg, field, d.BaseChain(), opStr, numStr))
			d.Opaque = append(d.Opaque, seg)
			return
		}
		threshold, err := decimal.NewFromString(numStr)
		if err != nil {
			d.Diagnostics = append(d.Diagnostics, fmt.Sprintf("condition %q has an unparsable threshold: %v", seg, err))
			return
		}
		d.Conditions = append(d.Conditions, Condition{
			Field:     field,
			Op:        Op(opStr),
			Threshold: threshold.InexactFloat64(),
		})
		return
	}

	// A decorator segment with a relational operator that didn't parse as
	// a condition above (malformed number, stray characters) still gets a
	// pointer at the intended shape.
	if looksLikeMistypedCondition(seg) {
		d.Diagnostics = append(d.Diagnostics, fmt.Sprintf("segment %q contains a relational operator but is not a recognized condition; did you mean a <field><op><num> decorator?", seg))
	}

	d.Opaque = append(d.Opaque, seg)
}

func looksLikeMistypedCondition(seg string) bool {
	for _, op := range operators {
		if strings.Contains(seg, string(op)) {
			return true
		}
	}
	return false
}
