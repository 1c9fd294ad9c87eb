package agenda

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkcal/internal/icsdoc"
)

const feed = `BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:old
DTSTART:20250901T190000Z
SUMMARY:Old Gig
END:VEVENT
BEGIN:VEVENT
UID:concert
DTSTART;TZID=Europe/London:20251101T190000
SUMMARY:Concert
LOCATION:Town Hall\, Main St
DESCRIPTION:Info: Doors 7pm\nTickets: https://tickets.example.com/concert\nWebsi
 te: example.org/band
END:VEVENT
BEGIN:VEVENT
UID:festival
DTSTART;VALUE=DATE:20251015
SUMMARY:Festival
LOCATION:Riverside
END:VEVENT
BEGIN:VEVENT
UID:broken
DTSTART:notadate
SUMMARY:Broken
END:VEVENT
BEGIN:VEVENT
UID:cancelled
DTSTART:20251020T180000Z
SUMMARY:CANCELLED show
END:VEVENT
BEGIN:VEVENT
UID:undated
SUMMARY:No start
END:VEVENT
END:VCALENDAR
`

var now = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

func build(t *testing.T, opts Options) []string {
	t.Helper()
	a, err := Build(icsdoc.FromText(feed), opts)
	require.NoError(t, err)
	uids := make([]string, 0, len(a.Events))
	for _, ev := range a.Events {
		uids = append(uids, ev.UID)
	}
	return uids
}

func TestBuildSortsAndFilters(t *testing.T) {
	a, err := Build(icsdoc.FromText(feed), Options{Now: now, MaxDisplay: 2, HighlightRed: []string{"cancelled"}})
	require.NoError(t, err)

	assert.Equal(t, 6, a.Total)
	assert.Equal(t, 3, a.Upcoming)
	assert.Equal(t, "UTC", a.Timezone)
	require.Len(t, a.Events, 3)

	festival, cancelled, concert := a.Events[0], a.Events[1], a.Events[2]

	assert.Equal(t, "festival", festival.UID)
	assert.True(t, festival.AllDay)
	assert.Equal(t, time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC), festival.Start)
	assert.True(t, festival.Display)
	assert.False(t, festival.Highlight)

	assert.Equal(t, "cancelled", cancelled.UID)
	assert.Equal(t, "Location TBD", cancelled.Location)
	assert.True(t, cancelled.Display)
	assert.True(t, cancelled.Highlight)

	assert.Equal(t, "concert", concert.UID)
	assert.False(t, concert.Display)
	assert.Equal(t, time.Date(2025, 11, 1, 19, 0, 0, 0, time.UTC), concert.Start.UTC())
	assert.Equal(t, "Town Hall, Main St", concert.Location)
	assert.Equal(t, "Doors 7pm", concert.Info)
	assert.Equal(t, map[string]string{
		"Tickets": "https://tickets.example.com/concert",
		"Website": "example.org/band",
	}, concert.Links)

	assert.Len(t, a.Displayed(), 2)
}

func TestBuildDefaultMaxDisplay(t *testing.T) {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\n")
	for i := 1; i <= 12; i++ {
		b.WriteString("BEGIN:VEVENT\n")
		fmt.Fprintf(&b, "DTSTART:%s\n", time.Date(2025, 10, i, 12, 0, 0, 0, time.UTC).Format("20060102T150405Z"))
		b.WriteString("END:VEVENT\n")
	}
	b.WriteString("END:VCALENDAR\n")

	a, err := Build(icsdoc.FromText(b.String()), Options{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 12, a.Upcoming)
	assert.Len(t, a.Displayed(), 10)
}

func TestBuildInDisplayLocation(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	a, err := Build(icsdoc.FromText(feed), Options{Now: now, Location: seoul})
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", a.Timezone)
	for _, ev := range a.Events {
		assert.Equal(t, seoul, ev.Start.Location(), ev.UID)
	}
}

func TestBuildStartIsStrictlyAfterNow(t *testing.T) {
	uids := build(t, Options{Now: time.Date(2025, 10, 20, 18, 0, 0, 0, time.UTC)})
	assert.Equal(t, []string{"concert"}, uids)
}

func TestBuildWithoutCalendar(t *testing.T) {
	_, err := Build(icsdoc.FromText("BEGIN:VEVENT\nEND:VEVENT\n"), Options{})
	assert.ErrorIs(t, err, ErrNoCalendar)
}

func TestBuildEmptyCalendar(t *testing.T) {
	a, err := Build(icsdoc.FromText("BEGIN:VCALENDAR\nEND:VCALENDAR\n"), Options{Now: now})
	require.NoError(t, err)
	assert.Zero(t, a.Total)
	assert.Empty(t, a.Events)
}

func TestParseStartForms(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got, allDay, err := parseStart("20251101T190000", map[string]string{"TZID": "America/New_York"}, time.UTC)
	require.NoError(t, err)
	assert.False(t, allDay)
	assert.True(t, got.Equal(time.Date(2025, 11, 1, 19, 0, 0, 0, ny)))

	got, _, err = parseStart("20251101T190000", map[string]string{"TZID": "Nowhere/Special"}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 1, 19, 0, 0, 0, time.UTC), got)

	_, allDay, err = parseStart(" 20251101 ", nil, time.UTC)
	require.NoError(t, err)
	assert.True(t, allDay)

	_, _, err = parseStart("", nil, time.UTC)
	assert.Error(t, err)
	_, _, err = parseStart("2025-11-01T19:00:00Z", nil, time.UTC)
	assert.Error(t, err)
}

func TestWrite(t *testing.T) {
	a, err := Build(icsdoc.FromText(feed), Options{Now: now, MaxDisplay: 2})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, a))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "Number of events: 6\n"))
	assert.Contains(t, out, "Wednesday, 15 October 2025: Festival\n    Location: Riverside\n    Display: yes\n")
	assert.Contains(t, out, "Saturday, 01 November 2025: Concert\n")
	assert.Contains(t, out, "    Info: Doors 7pm\n    Tickets: https://tickets.example.com/concert\n    Website: example.org/band\n    Display: no\n")
}
