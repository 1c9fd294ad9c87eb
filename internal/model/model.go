package model

import "time"

// Event is one VEVENT as shown on the panel, after DTSTART parsing and
// description scraping.
type Event struct {
	UID string `json:"uid,omitempty"`

	Summary     string `json:"summary"`
	Location    string `json:"location"`
	Description string `json:"description,omitempty"` // plain text, HTML stripped

	// Start is in the display timezone.
	Start  time.Time `json:"start"`
	AllDay bool      `json:"all_day"`

	// Info is the text after an "Info:" marker in the description.
	Info string `json:"info,omitempty"`
	// Links maps a label ("Tickets", "Website", ...) to the first URL
	// found after that label in the description.
	Links map[string]string `json:"links,omitempty"`

	// Display is true for the events that fit on the panel.
	Display bool `json:"display"`
	// Highlight marks events matching a configured red keyword.
	Highlight bool `json:"highlight"`
}

// Agenda is the result of one refresh: upcoming events in start order.
type Agenda struct {
	GeneratedAt time.Time `json:"generated_at"`
	Timezone    string    `json:"timezone"`

	// Total is the number of VEVENT blocks in the feed, Upcoming the
	// number kept after filtering.
	Total    int     `json:"total"`
	Upcoming int     `json:"upcoming"`
	Events   []Event `json:"events"`
}

// Displayed returns the events flagged for the panel.
func (a Agenda) Displayed() []Event {
	out := make([]Event, 0, len(a.Events))
	for _, ev := range a.Events {
		if ev.Display {
			out = append(out, ev)
		}
	}
	return out
}
