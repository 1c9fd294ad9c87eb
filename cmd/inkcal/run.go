package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"inkcal/internal/config"
	"inkcal/internal/epd"
	"inkcal/internal/ics"
	"inkcal/internal/indicator"
	appLog "inkcal/internal/log"
	"inkcal/internal/pipeline"
	"inkcal/internal/sysstat"
	"inkcal/internal/web"
)

// runFlags holds the run command's flags.
type runFlags struct {
	listen     string
	once       bool
	renderOnly bool
	dump       bool
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the calendar page and refresh the panel on a schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		if runOpts.once {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runCycle(ctx, cfg, runOpts)
		}
		return runDaemon(ctx, runOpts)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.listen, "listen", "", "HTTP listen address (overrides config if set)")
	f.BoolVar(&runOpts.once, "once", false, "run one fetch+render(+display) cycle and exit")
	f.BoolVar(&runOpts.renderOnly, "render-only", false, "render only; do not touch display hardware")
	f.BoolVar(&runOpts.dump, "dump", false, "write black.bin and red.bin to <state_dir>/dump instead of the panel")
}

// runDaemon serves until ctx is cancelled. A change to the config file
// tears everything down and starts again with the new settings.
func runDaemon(ctx context.Context, opts runFlags) error {
	for {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		cycleCtx, cancel := context.WithCancel(ctx)
		reload := make(chan struct{}, 1)
		go func() {
			err := config.Watch(cycleCtx, cfgFile, func(*config.Config) {
				select {
				case reload <- struct{}{}:
				default:
				}
				cancel()
			})
			if err != nil && cycleCtx.Err() == nil {
				appLog.Error("config watch failed; hot reload disabled", err, "path", cfgFile)
			}
		}()

		err = runCycle(cycleCtx, cfg, opts)
		cancel()

		if ctx.Err() != nil {
			appLog.Info("inkcal exiting")
			return nil
		}
		select {
		case <-reload:
			appLog.Info("config changed, restarting", "path", cfgFile)
		default:
			return err
		}
	}
}

// runCycle wires the collaborators from cfg. With opts.once it performs a
// single refresh and returns; otherwise it refreshes immediately and then
// on cfg.RefreshCron until ctx is cancelled.
func runCycle(ctx context.Context, cfg *config.Config, opts runFlags) error {
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"feed", cfg.Feed.ID,
		"driver", cfg.Display.Driver,
		"once", opts.once,
		"render_only", opts.renderOnly,
		"dump", opts.dump,
	)

	panel, err := openPanel(cfg, opts)
	if err != nil {
		return err
	}
	if panel != nil {
		defer func() {
			if err := panel.Close(); err != nil {
				appLog.Error("panel close failed", err)
			}
		}()
	}

	srv := web.NewServer(cfg, sysstat.NewCollector(sysstat.DefaultReader(ctx)))

	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	ready := make(chan string, 1)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Serve(srvCtx, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-srvErr:
		return err
	}

	runner := &pipeline.Runner{
		Config:  cfg,
		Fetcher: ics.NewFetcher(cfg.CacheDir),
		Server:  srv,
		Panel:   panel,
		LED:     indicator.Open(cfg.Indicator.Pin),
		PageURL: pipeline.PageURL(addr),
	}

	if opts.once {
		_, err := runner.RefreshOnce(ctx)
		return err
	}

	if _, err := runner.RefreshOnce(ctx); err != nil {
		appLog.Error("initial refresh failed", err)
	}

	sched, err := pipeline.NewScheduler(ctx, cfg.RefreshCron, runner)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-srvErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func openPanel(cfg *config.Config, opts runFlags) (epd.Panel, error) {
	switch {
	case opts.dump:
		return pipeline.OpenPanel(cfg, filepath.Join(cfg.StateDir, "dump"))
	case opts.renderOnly:
		return nil, nil
	default:
		return pipeline.OpenPanel(cfg, "")
	}
}
