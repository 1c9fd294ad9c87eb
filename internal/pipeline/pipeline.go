// Package pipeline runs one refresh of the panel: fetch the feed, build the
// agenda, render the page, pack it into planes and push them to the panel.
package pipeline

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"inkcal/internal/agenda"
	"inkcal/internal/capture"
	"inkcal/internal/config"
	"inkcal/internal/convert"
	"inkcal/internal/epd"
	"inkcal/internal/ics"
	"inkcal/internal/icsdoc"
	"inkcal/internal/indicator"
	appLog "inkcal/internal/log"
	"inkcal/internal/metrics"
	"inkcal/internal/model"
	"inkcal/internal/web"
)

// CaptureFunc screenshots the calendar page.
type CaptureFunc func(ctx context.Context, opts capture.Options) ([]byte, error)

// Runner holds the collaborators of a refresh. Panel may be nil, in which
// case the cycle stops after the screenshot.
type Runner struct {
	Config  *config.Config
	Fetcher *ics.Fetcher
	Server  *web.Server
	Panel   epd.Panel
	LED     indicator.Pin

	// PageURL is the /calendar address the browser loads.
	PageURL string
	// Capture defaults to capture.CapturePNG.
	Capture CaptureFunc
	// Now defaults to time.Now.
	Now func() time.Time
	// SkipRender stops after the agenda is published.
	SkipRender bool
}

// RefreshOnce performs one cycle. The indicator blinks for the whole
// cycle and is low again by the time RefreshOnce returns. A feed that
// cannot be loaded within the connect timeout aborts the cycle without
// touching the display.
func (r *Runner) RefreshOnce(ctx context.Context) (model.Agenda, error) {
	led := r.LED
	if led == nil {
		led = indicator.Open("")
	}
	stop := (&indicator.Blinker{Pin: led, Period: r.Config.BlinkPeriod()}).Start(ctx)
	defer stop()

	started := time.Now()
	appLog.Info("refresh start", "feed", r.Config.Feed.ID)

	a, err := r.buildAgenda(ctx)
	if err != nil {
		return model.Agenda{}, err
	}
	if r.Server != nil {
		r.Server.SetAgenda(a)
	}
	metrics.EventsTotal.Set(float64(a.Total))
	metrics.EventsUpcoming.Set(float64(a.Upcoming))

	if r.SkipRender {
		metrics.RefreshTotal.WithLabelValues(metrics.ResultOK).Inc()
		appLog.Info("refresh done", "events", a.Total, "upcoming", a.Upcoming, "elapsed", time.Since(started))
		return a, nil
	}

	black, red, err := r.render(ctx)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(metrics.ResultRenderError).Inc()
		return a, err
	}

	if r.Panel != nil {
		if err := r.display(ctx, black, red); err != nil {
			metrics.RefreshTotal.WithLabelValues(metrics.ResultDisplayError).Inc()
			return a, err
		}
	}

	metrics.RefreshTotal.WithLabelValues(metrics.ResultOK).Inc()
	metrics.LastSuccess.SetToCurrentTime()
	appLog.Info("refresh done",
		"events", a.Total,
		"upcoming", a.Upcoming,
		"displayed", len(a.Displayed()),
		"elapsed", time.Since(started),
	)
	return a, nil
}

func (r *Runner) buildAgenda(ctx context.Context) (model.Agenda, error) {
	t := time.Now()
	doc, err := r.loadFeed(ctx)
	metrics.StageDuration.WithLabelValues(metrics.StageFetch).Observe(time.Since(t).Seconds())
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(metrics.ResultFetchError).Inc()
		return model.Agenda{}, fmt.Errorf("pipeline: load feed: %w", err)
	}

	t = time.Now()
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	a, err := agenda.Build(doc, agenda.Options{
		Now:          now(),
		Location:     r.Config.Location(),
		MaxDisplay:   r.Config.Display.MaxEvents,
		HighlightRed: r.Config.Display.HighlightRed,
	})
	metrics.StageDuration.WithLabelValues(metrics.StageAgenda).Observe(time.Since(t).Seconds())
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(metrics.ResultAgendaError).Inc()
		return model.Agenda{}, fmt.Errorf("pipeline: build agenda: %w", err)
	}
	return a, nil
}

func (r *Runner) loadFeed(ctx context.Context) (icsdoc.Document, error) {
	feed := r.Config.Feed
	if feed.URL == "" {
		return r.Fetcher.LoadDocument(ctx, ics.Source{ID: feed.ID}, feed.File, r.Config.ConnectTimeout())
	}

	res, err := r.Fetcher.Load(ctx, ics.Source{ID: feed.ID, URL: feed.URL, Auth: feed.Auth}, r.Config.ConnectTimeout())
	if err != nil {
		return nil, err
	}
	if res.FromCache {
		metrics.FetchFromCache.Inc()
	}
	return res.Parse()
}

// render screenshots the page, keeps a copy as preview.png and packs it.
func (r *Runner) render(ctx context.Context) (black, red []byte, err error) {
	d := r.Config.Display
	geom := convert.Geometry{Width: d.Width, Height: d.Height, Rotate90: d.Rotate}
	w, h := geom.SourceSize()

	captureFn := r.Capture
	if captureFn == nil {
		captureFn = capture.CapturePNG
	}

	t := time.Now()
	png, err := captureFn(ctx, capture.Options{URL: r.PageURL, Width: w, Height: h})
	metrics.StageDuration.WithLabelValues(metrics.StageCapture).Observe(time.Since(t).Seconds())
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: capture: %w", err)
	}

	preview := web.PreviewPath(r.Config.StateDir)
	if err := os.MkdirAll(filepath.Dir(preview), 0o755); err == nil {
		if err := os.WriteFile(preview, png, 0o644); err != nil {
			appLog.Warn("preview write failed", "path", preview, "err", err)
		}
	}

	t = time.Now()
	img, err := convert.DecodePNG(png)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: %w", err)
	}
	black, red, err = convert.Pack(img, geom)
	metrics.StageDuration.WithLabelValues(metrics.StageConvert).Observe(time.Since(t).Seconds())
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: %w", err)
	}
	return black, red, nil
}

func (r *Runner) display(ctx context.Context, black, red []byte) error {
	t := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(metrics.StageDisplay).Observe(time.Since(t).Seconds())
	}()

	if err := r.Panel.Show(ctx, black, red); err != nil {
		return fmt.Errorf("pipeline: display: %w", err)
	}
	if err := r.Panel.Sleep(); err != nil {
		appLog.Warn("panel sleep failed", "err", err)
	}
	return nil
}

// PageURL turns a listen address into the /calendar URL a local browser
// can reach. Wildcard hosts become loopback.
func PageURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen + "/calendar"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/calendar"
}

// OpenPanel returns the panel selected by cfg. dumpDir, if non-empty,
// forces the file panel.
func OpenPanel(cfg *config.Config, dumpDir string) (epd.Panel, error) {
	d := cfg.Display
	if dumpDir != "" || d.Driver == config.DriverFile {
		if dumpDir == "" {
			dumpDir = cfg.StateDir
		}
		p, err := epd.NewFilePanel(dumpDir)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	p, err := epd.OpenSPI(epd.Config{
		Width:  d.Width,
		Height: d.Height,
		Bus:    d.SPI.Bus,
		RST:    d.SPI.RST,
		DC:     d.SPI.DC,
		CS:     d.SPI.CS,
		Busy:   d.SPI.Busy,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
