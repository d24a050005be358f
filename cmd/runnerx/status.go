package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/runnerx/runnerx/pkg/auth"
	"github.com/runnerx/runnerx/pkg/health"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the RunnerX server is reachable",
	Long: `Probe the REST API and the event stream endpoint and inspect the
configured credential.

An endpoint is reported unreachable only after --retries consecutive
failed probes.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Int("retries", health.DefaultConfig().Retries, "Failed probes before an endpoint is unreachable")
	statusCmd.Flags().Duration("timeout", health.DefaultConfig().Timeout, "Timeout of a single probe")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	hcfg := health.DefaultConfig()
	hcfg.Retries, _ = cmd.Flags().GetInt("retries")
	hcfg.Timeout, _ = cmd.Flags().GetDuration("timeout")

	out := cmd.OutOrStdout()
	if cfg.Token == "" {
		fmt.Fprintln(out, "Credential: none")
	} else if claims, err := auth.Check(cfg.Token, time.Now()); err != nil {
		fmt.Fprintf(out, "Credential: %v\n", err)
	} else if claims.Opaque {
		fmt.Fprintln(out, "Credential: opaque token")
	} else {
		expiry := "no expiry"
		if !claims.ExpiresAt.IsZero() {
			expiry = "expires " + claims.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "Credential: user %s, %s\n", claims.Subject, expiry)
	}
	fmt.Fprintln(out)

	checkers, err := health.Targets(cfg.APIURL, cfg.WSURL, cfg.Token, hcfg.Timeout)
	if err != nil {
		return err
	}

	statuses := make(map[string]*health.Status, len(checkers))
	for name := range checkers {
		statuses[name] = health.NewStatus()
	}

	var report health.Report
	for attempt := 1; ; attempt++ {
		report = health.Run(cmd.Context(), checkers)
		for name, res := range report {
			statuses[name].Update(res, hcfg)
		}
		if report.Healthy() || attempt >= hcfg.Retries {
			break
		}
		time.Sleep(time.Second)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENDPOINT\tTYPE\tSTATE\tLATENCY\tDETAIL")
	unreachable := 0
	for _, name := range report.Names() {
		st := statuses[name]
		state := "reachable"
		if !st.Healthy {
			state = "unreachable"
			unreachable++
		}
		res := st.LastResult
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			name, checkers[name].Type(), state, res.Duration.Round(time.Millisecond), res.Message)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if unreachable > 0 {
		return fmt.Errorf("%d endpoint(s) unreachable", unreachable)
	}
	return nil
}
