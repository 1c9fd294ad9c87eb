package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"inkcal/internal/icsdoc"
	appLog "inkcal/internal/log"
)

// ErrNotModifiedNoCache is returned for a 304 response when no cached body exists.
var ErrNotModifiedNoCache = errors.New("ics: 304 Not Modified but no cached body available")

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (e.g., config feed ID).
	ID string
	// URL is the ICS endpoint.
	URL string
	// Auth is a pre-encoded HTTP Basic token, sent as "Authorization: Basic <Auth>".
	Auth string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source Source
	Body   []byte // ICS payload (either freshly fetched or from cache)
	// Path is the on-disk copy of Body, empty if it could not be written.
	Path      string
	FromCache bool // true if we reused cached body due to 304 or a failed fetch
}

// Parse reads the fetched feed into a Document, preferring the on-disk copy.
func (r FetchResult) Parse() (icsdoc.Document, error) {
	if r.Path != "" {
		return icsdoc.FromFile(r.Path)
	}
	return icsdoc.FromText(string(r.Body)), nil
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher is responsible for fetching ICS feeds with HTTP caching
// (ETag / Last-Modified) and disk-backed cache.
type Fetcher struct {
	client   *http.Client
	cacheDir string

	// retryMin/retryMax bound the backoff between attempts in Load.
	retryMin time.Duration
	retryMax time.Duration
}

// NewFetcher creates a new ICS Fetcher.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata will be stored. Example: "/var/lib/inkcal/ics-cache".
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		// Caller should set this explicitly; we fallback to a relative dir
		// so that development runs without root permissions.
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
		retryMin: time.Second,
		retryMax: 5 * time.Second,
	}
}

// Load keeps calling FetchOne until it succeeds or connectTimeout has
// elapsed since the first attempt, sleeping with a capped exponential
// backoff in between. The last error is returned on timeout.
func (f *Fetcher) Load(ctx context.Context, src Source, connectTimeout time.Duration) (FetchResult, error) {
	deadline := time.Now().Add(connectTimeout)
	wait := f.retryMin
	attempt := 0

	for {
		attempt++
		res, err := f.FetchOne(ctx, src)
		if err == nil {
			return res, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			appLog.Error("ics load gave up", err, "id", src.ID, "url", redactURL(src.URL), "attempts", attempt)
			return FetchResult{}, err
		}
		appLog.Warn("ics load retrying", "id", src.ID, "url", redactURL(src.URL), "attempt", attempt, "err", err)

		if wait > remaining {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return FetchResult{}, ctx.Err()
		case <-t.C:
		}

		wait *= 2
		if wait > f.retryMax {
			wait = f.retryMax
		}
	}
}

// FetchOne fetches a single ICS source, honoring ETag and Last-Modified.
// It uses a disk cache under f.cacheDir keyed by a hash of the URL.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("ics: source URL is empty")
	}

	cachePath := f.cachePathForURL(src.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}
	bodyFile := filepath.Join(cachePath, "body.ics")

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(bodyFile)

	fromCache := func() FetchResult {
		return FetchResult{
			Source:    src,
			Body:      cachedBody,
			Path:      bodyFile,
			FromCache: true,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}

	// Conditional headers only make sense when the body is still on disk.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}
	if src.Auth != "" {
		req.Header.Set("Authorization", "Basic "+src.Auth)
	}

	appLog.Info("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		// Network error; if we have a cached body, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "id", src.ID, "url", redactURL(src.URL))
			return fromCache(), nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}

		res := FetchResult{Source: src, Body: body}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		} else {
			res.Path = bodyFile
		}

		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode, "bytes", len(body))
		return res, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, ErrNotModifiedNoCache
		}
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return fromCache(), nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
			return fromCache(), nil
		}
		return FetchResult{}, errors.New("ics: " + resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	// Drop userinfo if present.
	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		rest = rest[at+1:]
	}
	return u[:i+3] + rest + redactedSuffix
}

// ErrNoFeed is returned when neither a URL nor a local file is configured.
var ErrNoFeed = errors.New("ics: feed has neither URL nor file")

// LoadDocument returns the parsed feed. With a URL it goes through Load
// and the disk cache; otherwise the local file is parsed directly.
func (f *Fetcher) LoadDocument(ctx context.Context, src Source, file string, connectTimeout time.Duration) (icsdoc.Document, error) {
	if src.URL == "" {
		if file == "" {
			return nil, ErrNoFeed
		}
		return icsdoc.FromFile(file)
	}

	res, err := f.Load(ctx, src, connectTimeout)
	if err != nil {
		return nil, err
	}
	return res.Parse()
}
