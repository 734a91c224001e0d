package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Print detailed status for one or every service",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newControlClient(controlPath(cmd))
		if err != nil {
			return err
		}
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		rows, err := client.Status(name)
		if err != nil {
			return err
		}
		rows = filterByGroup(cmd, rows)
		renderStatus(rows)
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary [name]",
	Short: "Print a one-line-per-service summary",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newControlClient(controlPath(cmd))
		if err != nil {
			return err
		}
		rows, err := client.Summary()
		if err != nil {
			return err
		}
		if group, _ := cmd.Flags().GetString("group"); group != "" {
			filtered := rows[:0]
			for _, r := range rows {
				if r.Group == group {
					filtered = append(filtered, r)
				}
			}
			rows = filtered
		}
		if len(args) == 1 {
			filtered := rows[:0]
			for _, r := range rows {
				if r.Name == args[0] {
					filtered = append(filtered, r)
				}
			}
			rows = filtered
		}
		renderSummary(rows)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report [up|down|initializing|unmonitored|total]",
	Short: "Print service counts bucketed by monitoring state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newControlClient(controlPath(cmd))
		if err != nil {
			return err
		}
		filter := ""
		if len(args) == 1 {
			filter = args[0]
			switch filter {
			case "up", "down", "initializing", "unmonitored", "total":
			default:
				return fmt.Errorf("unknown report filter %q", filter)
			}
		}
		counts, err := client.Report(filter)
		if err != nil {
			return err
		}
		renderReport(counts)
		return nil
	},
}

func filterByGroup(cmd *cobra.Command, rows []serviceStatus) []serviceStatus {
	group, _ := cmd.Flags().GetString("group")
	if group == "" {
		return rows
	}
	out := rows[:0]
	for _, r := range rows {
		if r.Group == group {
			out = append(out, r)
		}
	}
	return out
}
