package droute

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
)

// DomainMatcher holds a set of domain patterns in a trie keyed by domain labels. The
// trie is built from the rightmost label down. A pattern matches itself and all of its
// subdomains:
//
//	example.com: matches example.com, www.example.com and a.b.example.com
//	             but not notexample.com
//
// Labels are compared as lower-case UTF-8 strings. The matcher is not safe for
// concurrent inserts, but once populated any number of goroutines can call Matches.
type DomainMatcher struct {
	root     *domainNode
	patterns int
}

type domainNode struct {
	terminal bool
	children map[string]*domainNode
}

var _ Matcher = &DomainMatcher{}

// NewDomainMatcher returns an empty matcher.
func NewDomainMatcher() *DomainMatcher {
	return &DomainMatcher{root: new(domainNode)}
}

// NewDomainMatcherFromLoader returns a matcher populated with the entries of a list.
// Malformed entries are skipped.
func NewDomainMatcherFromLoader(loader ListLoader) (*DomainMatcher, error) {
	lines, err := loader.Load()
	if err != nil {
		return nil, err
	}
	m := NewDomainMatcher()
	if skipped := m.insertLines(lines); skipped > 0 {
		Log.WithFields(logrus.Fields{"list": loader.String(), "skipped": skipped}).Warn("skipped malformed domain list entries")
	}
	return m, nil
}

// Insert adds a domain pattern to the matcher. Inserting the same pattern twice has no
// effect.
func (m *DomainMatcher) Insert(pattern string) error {
	labels, err := splitPattern(pattern)
	if err != nil {
		return err
	}
	n := m.root
	for i := len(labels) - 1; i >= 0; i-- {
		child, ok := n.children[labels[i]]
		if !ok {
			if n.children == nil {
				n.children = make(map[string]*domainNode)
			}
			child = new(domainNode)
			n.children[labels[i]] = child
		}
		n = child
	}
	if !n.terminal {
		n.terminal = true
		m.patterns++
	}
	return nil
}

// InsertMulti adds one pattern per line of text. Blank lines and comments starting
// with # are ignored. Malformed entries are skipped rather than failing the whole
// list, the number of skipped entries is returned.
func (m *DomainMatcher) InsertMulti(text string) int {
	return m.insertLines(strings.Split(text, "\n"))
}

func (m *DomainMatcher) insertLines(lines []string) int {
	var skipped int
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := m.Insert(line); err != nil {
			Log.WithError(err).Debug("skipping domain list entry")
			skipped++
		}
	}
	return skipped
}

// Matches returns true if the name, or any of its parent domains, has been inserted.
func (m *DomainMatcher) Matches(name string) bool {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	n := m.root
	// Walk the labels right to left without allocating a slice of them, this runs
	// for every query.
	end := len(name)
	for end > 0 {
		start := strings.LastIndexByte(name[:end], '.') + 1
		child, ok := n.children[name[start:end]]
		if !ok {
			return false
		}
		if child.terminal {
			return true
		}
		n = child
		end = start - 1
	}
	return false
}

// Len returns the number of distinct patterns in the matcher.
func (m *DomainMatcher) Len() int {
	return m.patterns
}

func (m *DomainMatcher) String() string {
	return fmt.Sprintf("Domain(%d)", m.patterns)
}

// Breaks a pattern up into lower-case labels.
func splitPattern(pattern string) ([]string, error) {
	p := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(pattern), "."))
	if p == "" {
		return nil, fmt.Errorf("invalid domain pattern '%s': empty", pattern)
	}
	if strings.IndexFunc(p, unicode.IsSpace) >= 0 {
		return nil, fmt.Errorf("invalid domain pattern '%s': contains whitespace", pattern)
	}
	labels := strings.Split(p, ".")
	for _, label := range labels {
		if label == "" {
			return nil, fmt.Errorf("invalid domain pattern '%s': empty label", pattern)
		}
	}
	return labels, nil
}
