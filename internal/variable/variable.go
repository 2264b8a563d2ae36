// Package variable compiles a base chain containing one or more $name
// placeholders into an anchored regular-language matcher, returning the
// captured bindings on success. The regexp is assembled from
// QuoteMeta-escaped literal tokens with one capturing group per
// placeholder.
package variable

import (
	"regexp"
	"strings"
)

// Pattern is a compiled variable-capturing chord pattern.
type Pattern struct {
	Source string
	names  []string
	re     *regexp.Regexp
}

// Compile builds a Pattern from base tokens where tokens[i] beginning with
// "$" are placeholders. Non-placeholder tokens match literally
// (QuoteMeta-escaped); placeholders match one word (\w+). The whole chain
// is anchored at both ends and tokens stay separated by a single space,
// mirroring how BaseChain joins tokens elsewhere in the module.
func Compile(tokens []string, variables map[int]string) *Pattern {
	var sb strings.Builder
	sb.WriteString("^")

	names := make([]string, 0, len(variables))
	for i, tok := range tokens {
		if i > 0 {
			sb.WriteString(" ")
		}
		if name, ok := variables[i]; ok {
			sb.WriteString(`(\w+)`)
			names = append(names, name)
			continue
		}
		sb.WriteString(regexp.QuoteMeta(tok))
	}
	sb.WriteString("$")

	return &Pattern{
		Source: strings.Join(tokens, " "),
		names:  names,
		re:     regexp.MustCompile(sb.String()),
	}
}

// Match attempts to match chain (a runtime combo_chain string). On success
// it returns the ordered placeholder-name -> captured-substring bindings;
// on failure it returns nil, false.
func (p *Pattern) Match(chain string) (map[string]string, bool) {
	m := p.re.FindStringSubmatch(chain)
	if m == nil {
		return nil, false
	}
	captures := make(map[string]string, len(p.names))
	for i, name := range p.names {
		captures[name] = m[i+1]
	}
	return captures, true
}

// FirstMatch tries patterns in declaration order and returns the first
// one that matches, along with its captures. Declaration order deciding
// ties is a guarantee callers rely on.
func FirstMatch(patterns []*Pattern, chain string) (*Pattern, map[string]string, bool) {
	for _, p := range patterns {
		if captures, ok := p.Match(chain); ok {
			return p, captures, true
		}
	}
	return nil, nil, false
}
