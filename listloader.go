package droute

import "fmt"

// ListLoader is a source of domain list entries, one pattern per item.
type ListLoader interface {
	Load() ([]string, error)
	fmt.Stringer
}
