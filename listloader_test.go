package droute

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticLoader(t *testing.T) {
	l := NewStaticLoader([]string{"example.com", "example.net"})
	lines, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"example.com", "example.net"}, lines)
}

func TestFileLoader(t *testing.T) {
	name := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(name, []byte("# china\nbaidu.com\nqq.com\n"), 0o644))

	m, err := NewDomainMatcherFromLoader(NewFileLoader(name, FileLoaderOptions{}))
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())
	require.True(t, m.Matches("www.qq.com"))
}

func TestFileLoaderMissing(t *testing.T) {
	name := filepath.Join(t.TempDir(), "missing.txt")

	_, err := NewFileLoader(name, FileLoaderOptions{}).Load()
	require.Error(t, err)

	lines, err := NewFileLoader(name, FileLoaderOptions{AllowFailure: true}).Load()
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestHTTPLoader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/list.txt" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "google.com\ngstatic.com\n")
	}))
	defer ts.Close()

	lines, err := NewHTTPLoader(ts.URL + "/list.txt").Load()
	require.NoError(t, err)
	require.Equal(t, []string{"google.com", "gstatic.com"}, lines)

	_, err = NewHTTPLoader(ts.URL + "/missing.txt").Load()
	require.Error(t, err)
}
