package droute

// StaticLoader holds a fixed list in memory, typically domains listed directly in
// the configuration.
type StaticLoader struct {
	rules []string
}

var _ ListLoader = &StaticLoader{}

func NewStaticLoader(rules []string) *StaticLoader {
	return &StaticLoader{rules}
}

func (l *StaticLoader) Load() ([]string, error) {
	return l.rules, nil
}

func (l *StaticLoader) String() string {
	return "static"
}
