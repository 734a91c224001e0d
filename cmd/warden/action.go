package main

import (
	"fmt"

	"github.com/cuemby/warden/pkg/types"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <name|all>",
	Short: "Start monitoring and, for process/program services, start the underlying command",
	Args:  cobra.ExactArgs(1),
	RunE:  actionRunE(string(types.ActionStart)),
}

var stopCmd = &cobra.Command{
	Use:   "stop <name|all>",
	Short: "Stop the underlying command and unmonitor",
	Args:  cobra.ExactArgs(1),
	RunE:  actionRunE(string(types.ActionStop)),
}

var restartCmd = &cobra.Command{
	Use:   "restart <name|all>",
	Short: "Restart the underlying command",
	Args:  cobra.ExactArgs(1),
	RunE:  actionRunE(string(types.ActionRestart)),
}

var monitorCmd = &cobra.Command{
	Use:   "monitor <name|all>",
	Short: "Resume monitoring a service without restarting it",
	Args:  cobra.ExactArgs(1),
	RunE:  actionRunE(string(types.ActionMonitor)),
}

var unmonitorCmd = &cobra.Command{
	Use:   "unmonitor <name|all>",
	Short: "Stop monitoring a service without stopping it",
	Args:  cobra.ExactArgs(1),
	RunE:  actionRunE(string(types.ActionUnmonitor)),
}

// actionRunE returns a RunE that dispatches action against the single
// named service, or against every service in the -g group (or every
// known service) when the target is "all".
func actionRunE(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newControlClient(controlPath(cmd))
		if err != nil {
			return err
		}
		group, _ := cmd.Flags().GetString("group")

		targets, err := resolveTargets(client, args[0], group)
		if err != nil {
			return err
		}

		var failed []string
		for _, name := range targets {
			if err := client.DoAction(name, action); err != nil {
				errorColor.Printf("%s: %v\n", name, err)
				failed = append(failed, name)
				continue
			}
			successColor.Printf("%s: %s queued\n", name, action)
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d of %d services failed", len(failed), len(targets))
		}
		return nil
	}
}

// resolveTargets expands "all" (optionally narrowed to -g group) into
// the list of service names a bulk action should be dispatched to.
func resolveTargets(client *controlClient, target, group string) ([]string, error) {
	if target != "all" {
		return []string{target}, nil
	}

	summary, err := client.Summary()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, s := range summary {
		if group != "" && s.Group != group {
			continue
		}
		names = append(names, s.Name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no services matched (group=%q)", group)
	}
	return names, nil
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the running daemon to reload its control file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newControlClient(controlPath(cmd))
		if err != nil {
			return err
		}
		if err := client.Runtime("reload"); err != nil {
			return err
		}
		successColor.Println("reload requested")
		return nil
	},
}

var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "Ask the running daemon to shut down gracefully",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newControlClient(controlPath(cmd))
		if err != nil {
			return err
		}
		if err := client.Runtime("stop"); err != nil {
			return err
		}
		successColor.Println("shutdown requested")
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Force the running daemon to validate every service immediately",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newControlClient(controlPath(cmd))
		if err != nil {
			return err
		}
		if err := client.Runtime("validate"); err != nil {
			return err
		}
		successColor.Println("validate requested")
		return nil
	},
}
