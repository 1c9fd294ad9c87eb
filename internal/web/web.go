package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inkcal/internal/agenda"
	"inkcal/internal/config"
	appLog "inkcal/internal/log"
	"inkcal/internal/metrics"
	"inkcal/internal/model"
	"inkcal/internal/sysstat"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var calendarTmpl = template.Must(template.ParseFS(templateFS, "templates/calendar.html.tmpl"))

// Server serves the page that is screenshotted onto the panel, plus a
// small JSON API and metrics.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	// status is read at most once per statusTTL.
	collector *sysstat.Collector

	agendaMu sync.RWMutex
	agenda   *model.Agenda

	statusMu    sync.RWMutex
	statusCache *statusCache
}

type statusCache struct {
	status    sysstat.Status
	updatedAt time.Time
}

const statusTTL = 30 * time.Second

// NewServer constructs a new Server. collector may be nil, in which case
// /api/status reports nothing and the page has no battery footer.
func NewServer(cfg *config.Config, collector *sysstat.Collector) *Server {
	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		collector: collector,
	}
	s.registerRoutes()
	return s
}

// SetAgenda replaces the agenda served by /calendar and /api/events.
func (s *Server) SetAgenda(a model.Agenda) {
	s.agendaMu.Lock()
	s.agenda = &a
	s.agendaMu.Unlock()
}

// Agenda returns the current agenda, if one has been set.
func (s *Server) Agenda() (model.Agenda, bool) {
	s.agendaMu.RLock()
	defer s.agendaMu.RUnlock()
	if s.agenda == nil {
		return model.Agenda{}, false
	}
	return *s.agenda, true
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := countRequests(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down
// gracefully. ready, if non-nil, receives the bound address once the
// listener is open.
func (s *Server) Serve(ctx context.Context, ready chan<- string) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers with HTTP Basic Auth, except
// /health and requests from loopback (the local capture browser).
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || isLoopback(r.RemoteAddr) {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="inkcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /background", s.handleBackground)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type pageEvent struct {
	Date      string
	Title     string
	Location  string
	Highlight bool
}

type pageData struct {
	Width, Height int
	Border        int
	Opacity       float64
	Background    bool
	Ready         bool
	Events        []pageEvent
	Battery       *sysstat.Battery
	Updated       string
}

// handleCalendar renders the panel layout. The root element carries
// data-ready="true" once an agenda is available, which is what the
// capture step waits for.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	d := s.cfg.Display
	width, height := d.Width, d.Height
	if d.Rotate {
		width, height = height, width
	}

	data := pageData{
		Width:      width,
		Height:     height,
		Border:     d.Border,
		Opacity:    d.Opacity,
		Background: d.Background != "",
	}

	if a, ok := s.Agenda(); ok {
		data.Ready = true
		data.Updated = a.GeneratedAt.In(s.cfg.Location()).Format("02 Jan 15:04")
		for _, ev := range a.Displayed() {
			data.Events = append(data.Events, pageEvent{
				Date:      ev.Start.Format(agenda.DateLayout),
				Title:     ev.Summary,
				Location:  ev.Location,
				Highlight: ev.Highlight,
			})
		}
	}
	if st := s.status(r.Context()); st.Battery != nil {
		data.Battery = st.Battery
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := calendarTmpl.Execute(w, data); err != nil {
		appLog.Error("calendar template failed", err)
	}
}

func (s *Server) handleBackground(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Display.Background == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.cfg.Display.Background)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	model.Agenda
	Displayed int `json:"displayed"`
}

// handleEvents returns the agenda from the last refresh.
//
// GET /api/events?all=1 includes events that do not fit on the panel.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	a, ok := s.Agenda()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "agenda not loaded yet")
		return
	}

	resp := eventsResponse{Agenda: a, Displayed: len(a.Displayed())}
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); !all {
		resp.Events = a.Displayed()
	}
	if resp.Events == nil {
		resp.Events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus exposes battery and SoC state. Results are cached for
// statusTTL so I2C and vcgencmd are not hit on every request.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status(r.Context()))
}

func (s *Server) status(ctx context.Context) sysstat.Status {
	if s.collector == nil {
		return sysstat.Status{}
	}

	s.statusMu.RLock()
	sc := s.statusCache
	s.statusMu.RUnlock()
	if sc != nil && time.Since(sc.updatedAt) < statusTTL {
		return sc.status
	}

	st := s.collector.Collect(ctx)

	s.statusMu.Lock()
	s.statusCache = &statusCache{status: st, updatedAt: time.Now()}
	s.statusMu.Unlock()
	return st
}

// PreviewPath is where the pipeline stores the last screenshot.
func PreviewPath(stateDir string) string {
	return filepath.Join(stateDir, "preview.png")
}

// handlePreview serves the last rendered PNG preview from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, PreviewPath(s.cfg.StateDir))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// countRequests labels requests by the matched route pattern so unknown
// paths share one series.
func countRequests(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)

		endpoint := "unmatched"
		if _, pattern := mux.Handler(r); pattern != "" {
			endpoint = pattern
		}
		metrics.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
