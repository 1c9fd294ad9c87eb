package agenda

import (
	"fmt"
	"io"

	"inkcal/internal/model"
)

// DateLayout is how event dates are written on the panel and console.
const DateLayout = "Monday, 02 January 2006"

// Write prints the agenda in the console layout:
//
//	Saturday, 01 November 2025: Concert
//	    Location: Town Hall
//	    Info: doors 7pm
//	    Tickets: https://...
//	    Display: yes
func Write(w io.Writer, a model.Agenda) error {
	if _, err := fmt.Fprintf(w, "Number of events: %d\n", a.Total); err != nil {
		return err
	}
	for _, ev := range a.Events {
		if err := writeEvent(w, ev); err != nil {
			return err
		}
	}
	return nil
}

func writeEvent(w io.Writer, ev model.Event) error {
	display := "no"
	if ev.Display {
		display = "yes"
	}

	if _, err := fmt.Fprintf(w, "%s: %s\n    Location: %s\n", ev.Start.Format(DateLayout), ev.Summary, ev.Location); err != nil {
		return err
	}
	if ev.Info != "" {
		if _, err := fmt.Fprintf(w, "    Info: %s\n", ev.Info); err != nil {
			return err
		}
	}
	for _, label := range LinkLabels {
		if u, ok := ev.Links[label]; ok {
			if _, err := fmt.Fprintf(w, "    %s: %s\n", label, u); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "    Display: %s\n\n", display)
	return err
}
