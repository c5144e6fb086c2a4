package droute

import "fmt"

// Matcher decides whether a query name is covered by a rule. Names are passed in
// UTF-8 form without the trailing root dot.
type Matcher interface {
	Matches(name string) bool
	fmt.Stringer
}
