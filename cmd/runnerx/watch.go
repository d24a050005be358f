package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runnerx/runnerx/pkg/events"
	"github.com/runnerx/runnerx/pkg/log"
	"github.com/runnerx/runnerx/pkg/metrics"
	"github.com/runnerx/runnerx/pkg/session"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live updates",
	Long: `Connect to the RunnerX server and print events as they arrive.

The local views are kept in sync for as long as the command runs and are
saved to the snapshot file (when configured) on exit.

Examples:
  # Watch everything
  runnerx watch

  # Only monitor and notification events
  runnerx watch --kind monitor:update --kind notification

  # Track monitor 7 and expose metrics
  runnerx watch --track 7 --metrics-addr 127.0.0.1:9090`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringSlice("kind", nil, "Event kinds to print (default all)")
	watchCmd.Flags().StringSlice("track", nil, "Monitor ids whose detail views are kept fresh")
	watchCmd.Flags().String("metrics-addr", "", "Serve /metrics and /health on this address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
	kinds, _ := cmd.Flags().GetStringSlice("kind")
	track, _ := cmd.Flags().GetStringSlice("track")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := session.New(cfg)
	if err != nil {
		return err
	}

	filter := make([]events.Kind, 0, len(kinds))
	for _, k := range kinds {
		filter = append(filter, events.Kind(k))
	}
	ch, unsubscribe := s.Registry().SubscribeChan(filter...)
	defer unsubscribe()

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := s.Start(ctx, cfg.Token); err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to start session: %w", err)
	}
	for _, id := range track {
		if err := s.Track(ctx, id); err != nil {
			log.Logger.Warn().Err(err).Str("monitor_id", id).Msg("Failed to track monitor")
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", cfg.WSURL)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-ch:
			if !ok {
				break loop
			}
			printEvent(out, ev)
		}
	}

	fmt.Fprintln(out, "\nShutting down...")
	return s.Close()
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	log.Logger.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

func printEvent(w io.Writer, ev events.Event) {
	ts := time.Now().Format(time.TimeOnly)
	switch e := ev.(type) {
	case events.ConnectionOpen:
		fmt.Fprintf(w, "%s ✓ connected (%s)\n", ts, e.ConnID)
	case events.ConnectionClose:
		next := "not reconnecting"
		if e.Reconnect {
			next = "reconnecting"
		}
		fmt.Fprintf(w, "%s ✗ disconnected: code %d %s, %s\n", ts, e.Code, e.Reason, next)
	case events.ConnectionFailed:
		fmt.Fprintf(w, "%s ✗ gave up after %d attempts, polling only\n", ts, e.Attempts)
	case events.Error:
		fmt.Fprintf(w, "%s ! %s\n", ts, e.Message)
	case events.MonitorUpdate:
		fmt.Fprintf(w, "%s monitor %s: %s\n", ts, e.MonitorID, e.Status)
	case events.StatusChange:
		fmt.Fprintf(w, "%s monitor %s: %s -> %s\n", ts, e.MonitorID, e.OldStatus, e.NewStatus)
	case events.Notification:
		fmt.Fprintf(w, "%s [%s] %s\n", ts, e.Type, e.Message)
	case events.LogEvent:
		fmt.Fprintf(w, "%s log %s: %s\n", ts, e.Level, e.Message)
	default:
		fmt.Fprintf(w, "%s %s %v\n", ts, ev.Kind(), events.PayloadOf(ev))
	}
}
