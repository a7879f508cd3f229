package timeseries

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

const seriesBody = `{"version":"3.0","status":"OK","data":[{"parameter":"t_2m:C","coordinates":[
	{"lat":47.4,"lon":8.5,"dates":[
		{"date":"2024-07-18T00:00:00Z","value":31.2},
		{"date":"2024-07-19T00:00:00Z","value":null}
	]}]}]}`

func testSource() domain.SourceDescriptor {
	return domain.SourceDescriptor{
		Name:       "zurich",
		Format:     domain.FormatTimeSeries,
		Parameters: []string{"t_2m:C", "precip_24h:mm"},
		Points:     []domain.Geo{{Lat: 47.4, Lon: 8.5}, {Lat: 46.9, Lon: 7.4}},
		Start:      time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 7, 19, 0, 0, 0, 0, time.UTC),
	}
}

// newTestServer serves a token endpoint and hands data requests to handler
// once the bearer token checks out.
func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, secret string) *Client {
	c := NewClient(Config{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/token",
		ClientID:     "id",
		ClientSecret: secret,
		Timeout:      5 * time.Second,
		MaxElapsed:   2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.initialInterval = 5 * time.Millisecond
	return c
}

func TestRequestURL(t *testing.T) {
	u, err := RequestURL("https://api.example.com/", testSource())
	require.NoError(t, err)
	assert.Equal(t,
		"https://api.example.com/2024-07-18T00:00:00Z--2024-07-19T00:00:00Z:P1D/t_2m:C,precip_24h:mm/47.4,8.5+46.9,7.4/json",
		u)

	bad := testSource()
	bad.Points = nil
	_, err = RequestURL("https://api.example.com", bad)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	bad = testSource()
	bad.End = bad.Start.AddDate(0, 0, -1)
	_, err = RequestURL("https://api.example.com", bad)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestFetch_Success(t *testing.T) {
	var path string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = io.WriteString(w, seriesBody)
	})

	ds, err := newTestClient(srv, "secret").Fetch(t.Context(), testSource())
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(path, "/json"))
	require.Len(t, ds.Records, 1)
	assert.Equal(t, 31.2, ds.Records[0].Value)
	assert.Equal(t, &domain.Geo{Lat: 47.4, Lon: 8.5}, ds.Records[0].Geo)
	assert.Equal(t, domain.UnitCelsius, ds.Unit("t_2m:C"))
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = io.WriteString(w, seriesBody)
		}
	})

	ds, err := newTestClient(srv, "secret").Fetch(t.Context(), testSource())
	require.NoError(t, err)
	assert.Len(t, ds.Records, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown parameter", http.StatusBadRequest)
	})

	_, err := newTestClient(srv, "secret").Fetch(t.Context(), testSource())
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "unknown parameter")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_BadCredentials(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	})

	_, err := newTestClient(srv, "wrong").Fetch(t.Context(), testSource())
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "token request")
	assert.Zero(t, calls.Load(), "data endpoint is never reached")
}

func TestFetch_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(srv, "secret")

	for range 6 {
		_, err := c.Fetch(t.Context(), testSource())
		require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	}
	require.Equal(t, int32(6), calls.Load())

	_, err := c.Fetch(t.Context(), testSource())
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, int32(6), calls.Load())
}

func TestFetch_MalformedBody(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	})

	_, err := newTestClient(srv, "secret").Fetch(t.Context(), testSource())
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}
