package droute

import (
	"fmt"
	"strings"
)

// Rule routes all names covered by its matcher to the upstream with tag Dst.
type Rule[L Label] struct {
	Dst     L
	Matcher Matcher
}

// NewDomainRule builds a rule from a list of domain patterns.
func NewDomainRule[L Label](dst L, loader ListLoader) (Rule[L], error) {
	m, err := NewDomainMatcherFromLoader(loader)
	if err != nil {
		return Rule[L]{}, fmt.Errorf("failed to load domain list for '%s': %w", dst, err)
	}
	return Rule[L]{Dst: dst, Matcher: m}, nil
}

func (r Rule[L]) String() string {
	return fmt.Sprintf("%s->%s", r.Matcher, r.Dst)
}

// Filter maps query names to upstream tags. Rules are evaluated in the order they
// were given, the first match wins. Names that aren't matched by any rule go to the
// default tag. A Filter is read-only once built.
type Filter[L Label] struct {
	defaultTag L
	rules      []Rule[L]
}

// NewFilter returns a filter with the given rules.
func NewFilter[L Label](defaultTag L, rules ...Rule[L]) *Filter[L] {
	return &Filter[L]{
		defaultTag: defaultTag,
		rules:      rules,
	}
}

// Upstream returns the tag of the first rule matching the name, or the default tag.
func (f *Filter[L]) Upstream(name string) L {
	for _, rule := range f.rules {
		if rule.Matcher.Matches(name) {
			return rule.Dst
		}
	}
	return f.defaultTag
}

// Dsts returns the distinct destination tags of all rules, in the order they first
// appear.
func (f *Filter[L]) Dsts() []L {
	seen := make(map[L]struct{}, len(f.rules))
	var dsts []L
	for _, rule := range f.rules {
		if _, ok := seen[rule.Dst]; ok {
			continue
		}
		seen[rule.Dst] = struct{}{}
		dsts = append(dsts, rule.Dst)
	}
	return dsts
}

// DefaultTag returns the tag used when no rule matches.
func (f *Filter[L]) DefaultTag() L {
	return f.defaultTag
}

func (f *Filter[L]) String() string {
	rs := make([]string, 0, len(f.rules)+1)
	for _, rule := range f.rules {
		rs = append(rs, rule.String())
	}
	rs = append(rs, fmt.Sprintf("default->%s", f.defaultTag))
	return fmt.Sprintf("Filter(%s)", strings.Join(rs, ";"))
}
