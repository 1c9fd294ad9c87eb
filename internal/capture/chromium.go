package capture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
)

// ReadySelector is the element the page exposes once it has rendered.
const ReadySelector = `[data-ready="true"]`

// Defaults match an 800x480 panel mounted in portrait.
const (
	DefaultWidth   = 480
	DefaultHeight  = 800
	DefaultTimeout = 30 * time.Second
)

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/calendar".
	URL string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Timeout bounds the entire capture operation.
	Timeout time.Duration

	// ExecPath overrides the browser binary; empty lets chromedp search.
	ExecPath string
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// CapturePNG starts a headless Chromium via chromedp, opens opts.URL, waits
// until ReadySelector is visible and returns a viewport-sized PNG.
//
// The result is a full-color screenshot; packing into panel planes is left
// to internal/convert.
func CapturePNG(parent context.Context, opts Options) ([]byte, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(opts.Width, opts.Height),
		chromedp.Flag("hide-scrollbars", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	defer cancelAlloc()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Let web fonts and the background image finish painting.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.CaptureScreenshot(&png),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return png, nil
}

// WritePNG captures opts.URL and stores the PNG at path.
func WritePNG(ctx context.Context, opts Options, path string) ([]byte, error) {
	png, err := CapturePNG(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return nil, fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	return png, nil
}
