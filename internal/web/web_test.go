package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkcal/internal/config"
	"inkcal/internal/model"
	"inkcal/internal/sysstat"
)

type fixedBattery struct{ calls int }

func (b *fixedBattery) Read(context.Context) (sysstat.Battery, error) {
	b.calls++
	return sysstat.Battery{Percent: 76, VoltageMv: 3950}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	return cfg
}

func testAgenda() model.Agenda {
	start := time.Date(2025, 11, 1, 19, 0, 0, 0, time.UTC)
	return model.Agenda{
		GeneratedAt: time.Date(2025, 10, 1, 8, 30, 0, 0, time.UTC),
		Timezone:    "UTC",
		Total:       3,
		Upcoming:    2,
		Events: []model.Event{
			{UID: "a", Summary: "Concert <live>", Location: "Town Hall", Start: start, Display: true, Highlight: true},
			{UID: "b", Summary: "Later", Location: "Location TBD", Start: start.AddDate(0, 0, 1)},
		},
	}
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, NewServer(testConfig(t), nil).Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCalendarBeforeFirstRefresh(t *testing.T) {
	rec := do(t, NewServer(testConfig(t), nil).Handler(), http.MethodGet, "/calendar")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="false"`)
	assert.Contains(t, body, "No upcoming events")
}

func TestCalendarRendersDisplayedEvents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Display.Background = "/srv/bg.jpg"
	s := NewServer(cfg, &sysstat.Collector{Battery: &fixedBattery{}})
	s.SetAgenda(testAgenda())

	rec := do(t, s.Handler(), http.MethodGet, "/calendar")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, "Saturday, 01 November 2025")
	assert.Contains(t, body, "Concert &lt;live&gt;")
	assert.Contains(t, body, `class="title highlight"`)
	assert.Contains(t, body, "Town Hall")
	assert.NotContains(t, body, "Later")
	assert.Contains(t, body, "76%")
	assert.Contains(t, body, `url("/background")`)
	// Rotated by default: the page is portrait.
	assert.Contains(t, body, "width: 480px;")
	assert.Contains(t, body, "height: 800px;")
}

func TestCalendarUnrotated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Display.Rotate = false
	body := do(t, NewServer(cfg, nil).Handler(), http.MethodGet, "/calendar").Body.String()
	assert.Contains(t, body, "width: 800px;")
	assert.NotContains(t, body, "/background")
}

func TestEvents(t *testing.T) {
	s := NewServer(testConfig(t), nil)

	rec := do(t, s.Handler(), http.MethodGet, "/api/events")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetAgenda(testAgenda())

	var resp struct {
		Total     int           `json:"total"`
		Upcoming  int           `json:"upcoming"`
		Displayed int           `json:"displayed"`
		Events    []model.Event `json:"events"`
	}
	rec = do(t, s.Handler(), http.MethodGet, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Upcoming)
	assert.Equal(t, 1, resp.Displayed)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "a", resp.Events[0].UID)

	rec = do(t, s.Handler(), http.MethodGet, "/api/events?all=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 2)
}

func TestStatusIsCached(t *testing.T) {
	bat := &fixedBattery{}
	s := NewServer(testConfig(t), &sysstat.Collector{Battery: bat})

	for range 3 {
		rec := do(t, s.Handler(), http.MethodGet, "/api/status")
		require.Equal(t, http.StatusOK, rec.Code)
		var st sysstat.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		require.NotNil(t, st.Battery)
		assert.Equal(t, 76, st.Battery.Percent)
	}
	assert.Equal(t, 1, bat.calls)
}

func TestPreview(t *testing.T) {
	cfg := testConfig(t)
	s := NewServer(cfg, nil)

	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/preview.png").Code)

	png := []byte("\x89PNG\r\n\x1a\nfake")
	require.NoError(t, os.WriteFile(PreviewPath(cfg.StateDir), png, 0o644))
	rec := do(t, s.Handler(), http.MethodGet, "/preview.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, png, rec.Body.Bytes())
}

func TestBackground(t *testing.T) {
	cfg := testConfig(t)
	s := NewServer(cfg, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/background").Code)

	cfg.Display.Background = filepath.Join(cfg.StateDir, "bg.png")
	require.NoError(t, os.WriteFile(cfg.Display.Background, []byte("img"), 0o644))
	rec := do(t, s.Handler(), http.MethodGet, "/background")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "img", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewServer(testConfig(t), nil).Handler()
	do(t, h, http.MethodGet, "/health")

	rec := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `inkcal_http_requests_total{endpoint="GET /health",method="GET",status="200"}`)
}

func TestBasicAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	h := NewServer(cfg, nil).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/calendar")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/calendar", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/calendar", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The capture browser runs on the same host.
	req = httptest.NewRequest(http.MethodGet, "/calendar", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Listen = "127.0.0.1:0"
	s := NewServer(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ready) }()

	addr := <-ready
	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.HasPrefix(string(body), "OK"))

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
