package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/runnerx/runnerx/pkg/client"
	"github.com/runnerx/runnerx/pkg/storage"
	"github.com/runnerx/runnerx/pkg/types"
	"github.com/spf13/cobra"
)

// Monitor commands
var monitorsCmd = &cobra.Command{
	Use:     "monitors",
	Aliases: []string{"monitor"},
	Short:   "List and manage monitors",
	RunE:    runMonitorsList,
}

var monitorsToggleCmd = &cobra.Command{
	Use:   "toggle ID",
	Short: "Enable or disable a monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		disable, _ := cmd.Flags().GetBool("disable")

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		e, err := c.ToggleMonitor(ctx, args[0], !disable)
		if err != nil {
			return fmt.Errorf("failed to toggle monitor: %w", err)
		}
		m, err := types.AsMonitor(e)
		if err != nil {
			return err
		}
		state := "enabled"
		if !m.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Monitor %s %s\n", args[0], state)
		return nil
	},
}

func init() {
	monitorsCmd.AddCommand(monitorsToggleCmd)
	monitorsToggleCmd.Flags().Bool("disable", false, "Disable instead of enable")
}

func runMonitorsList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	entities, err := c.GetMonitors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list monitors: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tENABLED\tUPTIME")
	for _, e := range entities {
		m, err := types.AsMonitor(e)
		if err != nil {
			return fmt.Errorf("invalid monitor in response: %w", err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%.2f%%\n",
			m.ID, m.Name, m.Type, m.Status, m.Enabled, m.UptimePercent)
	}
	return w.Flush()
}

// Notification commands
var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List and acknowledge notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		entities, err := c.GetNotifications(ctx)
		if err != nil {
			return fmt.Errorf("failed to list notifications: %w", err)
		}
		unread, err := c.GetUnreadCount(ctx)
		if err != nil {
			return fmt.Errorf("failed to count unread notifications: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d unread\n\n", unread)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMONITOR\tTYPE\tSEEN\tCREATED\tMESSAGE")
		for _, e := range entities {
			n, err := types.AsNotification(e)
			if err != nil {
				return fmt.Errorf("invalid notification in response: %w", err)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
				n.ID, n.MonitorID, n.Type, n.Seen(), n.CreatedAt.Format(time.DateTime), n.Message)
		}
		return w.Flush()
	},
}

var notificationsSeenCmd = &cobra.Command{
	Use:   "seen [ID]",
	Short: "Mark a notification, or all with --all, as seen",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return fmt.Errorf("pass a notification ID or --all")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if all {
			if err := c.MarkAllNotificationsSeen(ctx); err != nil {
				return fmt.Errorf("failed to mark notifications: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ All notifications marked as seen")
			return nil
		}
		if _, err := c.MarkNotificationSeen(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to mark notification: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Notification %s marked as seen\n", args[0])
		return nil
	},
}

func init() {
	notificationsCmd.AddCommand(notificationsSeenCmd)
	notificationsSeenCmd.Flags().Bool("all", false, "Mark every notification as seen")
}

// Snapshot commands
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Show the contents of the local snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.SnapshotPath == "" {
			return fmt.Errorf("no snapshot configured: set snapshot_path")
		}
		if _, err := os.Stat(cfg.SnapshotPath); err != nil {
			return fmt.Errorf("snapshot not found: %w", err)
		}

		st, err := storage.NewBoltStore(cfg.SnapshotPath)
		if err != nil {
			return err
		}
		defer st.Close()

		savedAt, err := st.SavedAt()
		if err != nil {
			return err
		}
		entries, err := st.Load()
		if err != nil {
			return err
		}

		counts := make(map[types.Category]int)
		for _, e := range entries {
			counts[e.Key.Category]++
		}
		categories := make([]types.Category, 0, len(counts))
		for c := range counts {
			categories = append(categories, c)
		}
		sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Snapshot: %s\n", cfg.SnapshotPath)
		if savedAt.IsZero() {
			fmt.Fprintln(out, "Saved:    never")
		} else {
			fmt.Fprintf(out, "Saved:    %s\n", savedAt.Format(time.RFC3339))
		}
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tENTRIES")
		for _, c := range categories {
			fmt.Fprintf(w, "%s\t%d\n", c, counts[c])
		}
		return w.Flush()
	},
}

func newClient() (*client.Client, error) {
	if err := requireToken(); err != nil {
		return nil, err
	}
	return client.NewClient(cfg.ClientConfig())
}
