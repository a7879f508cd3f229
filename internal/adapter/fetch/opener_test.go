package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

func TestOpener_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("time,v\n"), 0o600))

	data, err := NewOpener(nil).ReadAll(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "time,v\n", string(data))
}

func TestOpener_MissingFile(t *testing.T) {
	_, err := NewOpener(nil).Open(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestOpener_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	o := NewOpener(srv.Client())

	data, err := o.ReadAll(context.Background(), srv.URL+"/data.csv")
	require.NoError(t, err)
	assert.Equal(t, "remote", string(data))

	_, err = o.ReadAll(context.Background(), srv.URL+"/missing.csv")
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "404")
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.org/a.csv"))
	assert.True(t, IsRemote("HTTP://example.org/a.csv"))
	assert.False(t, IsRemote("/data/a.csv"))
	assert.False(t, IsRemote("file:///data/a.csv"))
}
