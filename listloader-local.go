package droute

import (
	"bufio"
	"os"
)

// FileLoader reads a domain list from a local file.
type FileLoader struct {
	filename string
	opt      FileLoaderOptions
}

// FileLoaderOptions holds options for file list loaders.
type FileLoaderOptions struct {
	// Return an empty list instead of failing if the file can't be read
	AllowFailure bool
}

var _ ListLoader = &FileLoader{}

func NewFileLoader(filename string, opt FileLoaderOptions) *FileLoader {
	return &FileLoader{filename, opt}
}

func (l *FileLoader) Load() (rules []string, err error) {
	log := Log.WithField("file", l.filename)
	log.Debug("loading domain list")

	defer func() {
		if err != nil && l.opt.AllowFailure {
			log.WithError(err).Warn("failed to load domain list, continuing with empty list")
			rules, err = nil, nil
		}
	}()

	f, err := os.Open(l.filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rules = append(rules, scanner.Text())
	}
	log.WithField("lines", len(rules)).Debug("completed loading domain list")
	return rules, scanner.Err()
}

func (l *FileLoader) String() string {
	return l.filename
}
