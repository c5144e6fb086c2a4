package droute

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPLoader reads a domain list from a server via HTTP(S).
type HTTPLoader struct {
	url    string
	client *http.Client
}

var _ ListLoader = &HTTPLoader{}

const httpLoaderTimeout = 5 * time.Minute

func NewHTTPLoader(url string) *HTTPLoader {
	return &HTTPLoader{url: url, client: http.DefaultClient}
}

func (l *HTTPLoader) Load() ([]string, error) {
	log := Log.WithField("url", l.url)
	log.Debug("loading domain list")

	ctx, cancel := context.WithTimeout(context.Background(), httpLoaderTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", l.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("got unexpected status code %d from %s", resp.StatusCode, l.url)
	}

	var rules []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		rules = append(rules, scanner.Text())
	}
	log.WithField("lines", len(rules)).Debug("completed loading domain list")
	return rules, scanner.Err()
}

func (l *HTTPLoader) String() string {
	return l.url
}
