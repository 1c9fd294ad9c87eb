// Package agenda turns a parsed feed into the list of upcoming events shown
// on the panel.
package agenda

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"inkcal/internal/icsdoc"
	appLog "inkcal/internal/log"
	"inkcal/internal/model"
)

const (
	defaultMaxDisplay = 10
	locationUnknown   = "Location TBD"
)

// LinkLabels are the description markers scraped for URLs, in display order.
var LinkLabels = []string{"Tickets", "Facebook", "Instagram", "Website"}

// ErrNoCalendar is returned when the document has no VCALENDAR block.
var ErrNoCalendar = errors.New("agenda: feed has no VCALENDAR block")

// Options controls selection and presentation.
type Options struct {
	// Now is the cut-off; only events starting strictly after it are kept.
	// Zero means time.Now().
	Now time.Time
	// Location is the display timezone. Nil means UTC.
	Location *time.Location
	// MaxDisplay caps how many upcoming events are flagged for display.
	MaxDisplay int
	// HighlightRed keywords (case-insensitive) mark matching summaries.
	HighlightRed []string
}

// Build selects the VEVENT blocks of the first VCALENDAR, sorts them by
// start time and keeps the upcoming ones. Events whose DTSTART cannot be
// read are logged and skipped.
func Build(doc icsdoc.Document, opts Options) (model.Agenda, error) {
	cal, ok := doc.First("VCALENDAR")
	if !ok {
		return model.Agenda{}, ErrNoCalendar
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	maxDisplay := opts.MaxDisplay
	if maxDisplay <= 0 {
		maxDisplay = defaultMaxDisplay
	}

	vevents := cal.Blocks("VEVENT")
	all := make([]model.Event, 0, len(vevents))
	for i, ve := range vevents {
		ev, err := eventFrom(ve, loc)
		if err != nil {
			appLog.Warn("agenda: skipping event", "index", i, "err", err)
			continue
		}
		all = append(all, ev)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Start.Before(all[j].Start)
	})

	upcoming := make([]model.Event, 0, len(all))
	for _, ev := range all {
		if !ev.Start.After(now) {
			continue
		}
		ev.Display = len(upcoming) < maxDisplay
		ev.Highlight = matchesAny(ev.Summary, opts.HighlightRed)
		upcoming = append(upcoming, ev)
	}

	appLog.Debug("agenda built", "vevents", len(vevents), "upcoming", len(upcoming), "max_display", maxDisplay)

	return model.Agenda{
		GeneratedAt: now.In(loc),
		Timezone:    loc.String(),
		Total:       len(vevents),
		Upcoming:    len(upcoming),
		Events:      upcoming,
	}, nil
}

func eventFrom(ve icsdoc.Document, loc *time.Location) (model.Event, error) {
	raw, params, ok := ve.Property("DTSTART")
	if !ok {
		return model.Event{}, errors.New("missing DTSTART")
	}
	start, allDay, err := parseStart(raw, params, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("DTSTART %q: %w", raw, err)
	}

	ev := model.Event{
		Start:  start,
		AllDay: allDay,
	}
	ev.UID, _, _ = ve.Property("UID")
	ev.Summary, _, _ = ve.Property("SUMMARY")

	ev.Location, _, _ = ve.Property("LOCATION")
	ev.Location = strings.ReplaceAll(ev.Location, `\`, "")
	if strings.TrimSpace(ev.Location) == "" {
		ev.Location = locationUnknown
	}

	desc, _, _ := ve.Property("DESCRIPTION")
	ev.Description = PlainText(desc)
	if info, ok := ExtractToken("Info", ev.Description); ok {
		ev.Info = info
	}
	for _, label := range LinkLabels {
		if url, ok := ExtractURL(label, ev.Description); ok {
			if ev.Links == nil {
				ev.Links = make(map[string]string, len(LinkLabels))
			}
			ev.Links[label] = url
		}
	}

	return ev, nil
}

func matchesAny(s string, keywords []string) bool {
	ls := strings.ToLower(s)
	for _, k := range keywords {
		if k != "" && strings.Contains(ls, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
