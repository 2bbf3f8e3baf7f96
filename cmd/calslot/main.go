// calslot finds free meeting slots on a calendar and books meetings into it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/cpuguy83/calslot/internal/availability"
	"github.com/cpuguy83/calslot/internal/config"
	"github.com/cpuguy83/calslot/internal/notify"
	"github.com/cpuguy83/calslot/internal/provider"
	"github.com/cpuguy83/calslot/internal/scheduler"
	"github.com/cpuguy83/calslot/internal/server"
	"github.com/cpuguy83/calslot/internal/timeresolve"
)

func main() {
	a := &app{}
	err := a.rootCmd().Execute()
	a.close()
	if err != nil {
		slog.Error("calslot failed", "error", err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs once configuration is loaded.
type app struct {
	configPath string
	verbose    bool
	dryRun     bool

	cfg     *config.Config
	sched   *scheduler.Scheduler
	closers []io.Closer
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "calslot",
		Short:         "Find free meeting slots and book meetings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to config file (default: ~/.config/calslot/config.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose logging")
	flags.BoolVar(&a.dryRun, "dry-run", false, "use an empty in-memory calendar instead of the configured provider")

	root.AddCommand(
		a.slotsCmd(),
		a.bookCmd(),
		a.upcomingCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	if !a.verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFrom(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.dryRun {
		a.cfg.Provider.Type = config.ProviderMemory
		a.cfg.Provider.Name = "dry-run"
	}

	p, err := provider.New(ctx, a.cfg)
	if err != nil {
		return err
	}
	if c, ok := p.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}

	var opts []scheduler.Option
	if a.cfg.Notifications.Enabled {
		n, err := notify.New("calslot", loc)
		if err != nil {
			slog.Warn("failed to initialize notifications", "error", err)
		} else {
			a.closers = append(a.closers, n)
			opts = append(opts, scheduler.WithObserver(n))
		}
	}

	engine := availability.NewEngine(p, timeresolve.New(loc), availability.Options{
		CalendarID: a.cfg.CalendarID,
		Hours:      availability.Hours(a.cfg.WorkingHours),
	})
	a.sched = scheduler.New(engine, opts...)

	slog.Debug("calslot configured",
		"provider", p.Name(),
		"calendar", a.cfg.CalendarID,
		"timezone", loc.String(),
		"working_hours", fmt.Sprintf("%s-%s", a.cfg.WorkingHours.Start, a.cfg.WorkingHours.End),
	)
	return nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Debug("close failed", "error", err)
		}
	}
	a.closers = nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) slotsCmd() *cobra.Command {
	var duration, day string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List free slots on a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.sched.CheckAvailability(cmd.Context(), duration, day)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res)
			}
			if len(res.AvailableSlots) == 0 {
				fmt.Fprintln(out, "No free slots.")
				return nil
			}
			for _, s := range res.AvailableSlots {
				fmt.Fprintf(out, "%s  %s\n", s.Start, s.End)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&duration, "duration", scheduler.DefaultDuration, `meeting length, e.g. "30 minutes"`)
	cmd.Flags().StringVar(&day, "day", scheduler.DefaultDay, `"today", "tomorrow" or a date`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) bookCmd() *cobra.Command {
	var duration, day, clock, title string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a meeting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.sched.ScheduleMeeting(cmd.Context(), duration, day, clock, title)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "Booked %q %s - %s\n", res.Event.Summary, res.Event.Start.Format("Mon Jan 2 15:04"), res.Event.End.Format("15:04"))
			if res.EventLink != "" {
				fmt.Fprintln(out, res.EventLink)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&duration, "duration", scheduler.DefaultDuration, `meeting length, e.g. "30 minutes"`)
	cmd.Flags().StringVar(&day, "day", scheduler.DefaultDay, `"today", "tomorrow" or a date`)
	cmd.Flags().StringVar(&clock, "time", "", `time of day, e.g. "14:00" or "3pm"`)
	cmd.Flags().StringVar(&title, "title", scheduler.DefaultTitle, "meeting title")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) upcomingCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List upcoming events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.sched.ListUpcoming(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res)
			}
			if len(res.Events) == 0 {
				fmt.Fprintln(out, "No upcoming events.")
				return nil
			}
			for _, e := range res.Events {
				line := fmt.Sprintf("%s  %s", e.Start, e.Summary)
				if e.MeetingLink != nil {
					line += fmt.Sprintf("  [%s %s]", e.MeetingLink.Service, e.MeetingLink.URL)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "max", availability.DefaultUpcoming, "maximum number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scheduling HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Server
			if addr != "" {
				cfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.New(a.sched, cfg).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}
