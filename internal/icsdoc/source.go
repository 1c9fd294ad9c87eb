// Package icsdoc reads iCalendar-style text into a generic nested Document.
//
// The input is line oriented. Every logical line has the form KEY:VALUE, a
// physical line starting with a single space continues the previous logical
// line, and BEGIN:<type> / END:<type> pairs group lines into blocks. The
// package knows nothing about calendar field names; callers interpret the
// resulting Document.
package icsdoc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// ErrSourceUnavailable is returned when the origin cannot be opened or read.
var ErrSourceUnavailable = errors.New("icsdoc: source unavailable")

// OriginKind selects where a Source reads its text from.
type OriginKind int

const (
	OriginText OriginKind = iota
	OriginFile
	OriginWeb
)

func (k OriginKind) String() string {
	switch k {
	case OriginFile:
		return "file"
	case OriginWeb:
		return "web"
	default:
		return "text"
	}
}

// Origin describes one input. Only the fields relevant to Kind are used.
type Origin struct {
	Kind OriginKind

	// URL and Auth are used for OriginWeb. Auth is an already base64-encoded
	// "user:password" token sent as HTTP Basic credentials when non-empty.
	URL  string
	Auth string
	// Client defaults to http.DefaultClient.
	Client *http.Client

	// Path is used for OriginFile.
	Path string

	// Text is used for OriginText.
	Text string
}

// Source is a fully buffered sequence of de-folded logical lines with a
// forward-only read cursor. A Source is consumed by one parse; build a new
// one to parse again.
type Source struct {
	lines []string
	pos   int
}

// Open reads the whole origin into a new Source. Web origins issue exactly
// one GET request and file origins exactly one open; there are no retries.
func Open(ctx context.Context, o Origin) (*Source, error) {
	rc, err := openOrigin(ctx, o)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	s := &Source{}
	if err := s.load(bufio.NewReader(rc)); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrSourceUnavailable, o.Kind, err)
	}
	return s, nil
}

// NewTextSource buffers literal text. It cannot fail.
func NewTextSource(text string) *Source {
	s := &Source{}
	// strings.Reader never returns a read error.
	_ = s.load(bufio.NewReader(strings.NewReader(text)))
	return s
}

func openOrigin(ctx context.Context, o Origin) (io.ReadCloser, error) {
	switch o.Kind {
	case OriginWeb:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		if o.Auth != "" {
			req.Header.Set("Authorization", "Basic "+o.Auth)
		}
		client := o.Client
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: GET returned %s", ErrSourceUnavailable, resp.Status)
		}
		return resp.Body, nil

	case OriginFile:
		f, err := os.Open(o.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return f, nil

	default:
		return io.NopCloser(strings.NewReader(o.Text)), nil
	}
}

// load drains r one physical line at a time. An empty line or end of input
// stops reading.
func (s *Source) load(r *bufio.Reader) error {
	for {
		line, err := readPhysicalLine(r)
		if err != nil {
			return err
		}
		if line == "" {
			break
		}

		if line[0] == ' ' {
			line = line[1:]
			if n := len(s.lines); n > 0 {
				s.lines[n-1] += line
				continue
			}
		}
		s.lines = append(s.lines, line)
	}

	s.unescape()
	return nil
}

// unescape rewrites every line except the last one. The last line keeps
// its escapes as read.
func (s *Source) unescape() {
	for i := 0; i < len(s.lines)-1; i++ {
		l := strings.ReplaceAll(s.lines[i], `\,`, ",")
		l = strings.ReplaceAll(l, "<br>", "\n")
		s.lines[i] = strings.ReplaceAll(l, `\n`, "\n")
	}
}

func readPhysicalLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// Next returns the next logical line, or false once the buffer is exhausted.
func (s *Source) Next() (string, bool) {
	if s.pos >= len(s.lines) {
		return "", false
	}
	line := s.lines[s.pos]
	s.pos++
	return line, true
}

// Len reports the number of buffered logical lines.
func (s *Source) Len() int {
	return len(s.lines)
}
