package icsdoc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crlfFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//inkcal//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gig-1@example.com\r\n" +
	"DTSTART;TZID=Europe/London:20251101T190000\r\n" +
	"SUMMARY:The Long Folded Title of an Eve\r\n" +
	" ning Concert\r\n" +
	"LOCATION:Town Hall\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gig-2@example.com\r\n" +
	"DTSTART:20251105T200000Z\r\n" +
	"SUMMARY:Open Mic\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func drain(s *Source) []string {
	var out []string
	for {
		l, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, l)
	}
}

func TestSourceBuffersLogicalLines(t *testing.T) {
	s := NewTextSource("A:1\r\n continued\r\nB:2\r\n")
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"A:1continued", "B:2"}, drain(s))

	// Exhausted sources stay exhausted.
	_, ok := s.Next()
	assert.False(t, ok)
}

func TestSourceStopsAtBlankLine(t *testing.T) {
	s := NewTextSource("A:1\n\nB:2\n")
	assert.Equal(t, []string{"A:1"}, drain(s))
}

func TestSourceWithoutTrailingNewline(t *testing.T) {
	s := NewTextSource("A:1\nB:2")
	assert.Equal(t, []string{"A:1", "B:2"}, drain(s))
}

func TestSourceLeadingContinuation(t *testing.T) {
	s := NewTextSource(" A:1\nB:2\n")
	assert.Equal(t, []string{"A:1", "B:2"}, drain(s))
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basic.ics")
	require.NoError(t, os.WriteFile(path, []byte(crlfFeed), 0o600))

	doc, err := FromFile(path)
	require.NoError(t, err)

	cal, ok := doc.First("VCALENDAR")
	require.True(t, ok)
	assert.Equal(t, "2.0", cal["VERSION"])
	assert.Len(t, cal.Blocks("VEVENT"), 2)
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "nope.ics"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFromWebSendsBasicAuth(t *testing.T) {
	auth := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(crlfFeed))
	}))
	defer srv.Close()

	doc, err := FromWeb(context.Background(), srv.URL, "dXNlcjpwYXNz")
	require.NoError(t, err)
	require.Len(t, auth, 1)
	assert.Equal(t, "Basic dXNlcjpwYXNz", <-auth)

	cal, _ := doc.First("VCALENDAR")
	ev, ok := cal.First("VEVENT")
	require.True(t, ok)
	assert.Equal(t, "The Long Folded Title of an Evening Concert", ev["SUMMARY"])
}

func TestFromWebWithoutAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["Authorization"]
		assert.False(t, present)
		_, _ = w.Write([]byte("X:1\n"))
	}))
	defer srv.Close()

	doc, err := FromWeb(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, Document{"X": "1"}, doc)
}

func TestFromWebErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := FromWeb(context.Background(), srv.URL, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "404")
}

func TestFromWebUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := FromWeb(context.Background(), url, "")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestOpenUsesProvidedClient(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\nEND:VCALENDAR\n"))
	}))
	defer srv.Close()

	doc, err := Read(context.Background(), Origin{Kind: OriginWeb, URL: srv.URL, Client: srv.Client()})
	require.NoError(t, err)
	assert.Equal(t, Document{"VCALENDAR": []Document{{}}}, doc)
}

// The generic document must agree with a full iCalendar parser on the
// fields both of them understand.
func TestAgreesWithGolangICal(t *testing.T) {
	cal, err := ical.ParseCalendar(strings.NewReader(crlfFeed))
	require.NoError(t, err)

	doc := FromText(crlfFeed)
	root, ok := doc.First("VCALENDAR")
	require.True(t, ok)
	events := root.Blocks("VEVENT")
	require.Len(t, events, len(cal.Events()))

	for i, want := range cal.Events() {
		got := events[i]
		uid, _, _ := got.Property("UID")
		assert.Equal(t, want.GetProperty(ical.ComponentPropertyUniqueId).Value, uid)
		summary, _, _ := got.Property("SUMMARY")
		assert.Equal(t, want.GetProperty(ical.ComponentPropertySummary).Value, summary)
		start, _, _ := got.Property("DTSTART")
		assert.Equal(t, want.GetProperty(ical.ComponentPropertyDtStart).Value, start)
	}
}

func TestOriginKindString(t *testing.T) {
	assert.Equal(t, "web", OriginWeb.String())
	assert.Equal(t, "file", OriginFile.String())
	assert.Equal(t, "text", OriginText.String())
}
