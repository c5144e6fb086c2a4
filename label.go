package droute

import "fmt"

// Label is the constraint for upstream tags and rule destinations. Tags are used as
// map keys and printed in logs and errors, they are never interpreted.
type Label interface {
	comparable
	fmt.Stringer
}

// Tag is a string-based Label, used by the droute command.
type Tag string

func (t Tag) String() string {
	return string(t)
}
