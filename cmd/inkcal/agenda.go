package main

import (
	"time"

	"github.com/spf13/cobra"

	"inkcal/internal/agenda"
	"inkcal/internal/ics"
)

var agendaCmd = &cobra.Command{
	Use:   "agenda",
	Short: "Fetch the configured feed and print the upcoming events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		feed := cfg.Feed
		doc, err := ics.NewFetcher(cfg.CacheDir).LoadDocument(ctx,
			ics.Source{ID: feed.ID, URL: feed.URL, Auth: feed.Auth}, feed.File, cfg.ConnectTimeout())
		if err != nil {
			return err
		}

		a, err := agenda.Build(doc, agenda.Options{
			Now:          time.Now(),
			Location:     cfg.Location(),
			MaxDisplay:   cfg.Display.MaxEvents,
			HighlightRed: cfg.Display.HighlightRed,
		})
		if err != nil {
			return err
		}
		return agenda.Write(cmd.OutOrStdout(), a)
	},
}
