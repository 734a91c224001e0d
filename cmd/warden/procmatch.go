package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var procmatchCmd = &cobra.Command{
	Use:   "procmatch <pattern>",
	Short: "List running processes whose command line matches pattern",
	Long: `procmatch tests a regular expression against every running process's
command line, the same matcher a "process" service's matching rule uses
to pick a PID out of the process table when no pid_file is configured.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("procmatch requires a /proc filesystem (unsupported on %s)", runtime.GOOS)
		}
		re, err := regexp.Compile(args[0])
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}

		matches, err := matchProcesses(re)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			warningColor.Println("no matching processes")
			return nil
		}
		for _, m := range matches {
			fmt.Printf("%-8d %s\n", m.pid, m.cmdline)
		}
		return nil
	},
}

type procMatch struct {
	pid     int
	cmdline string
}

func matchProcesses(re *regexp.Regexp) ([]procMatch, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("reading /proc: %w", err)
	}

	var out []procMatch
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join("/proc", e.Name(), "cmdline"))
		if err != nil {
			continue
		}
		cmdline := strings.TrimSpace(strings.ReplaceAll(string(raw), "\x00", " "))
		if cmdline == "" {
			continue
		}
		if re.MatchString(cmdline) {
			out = append(out, procMatch{pid: pid, cmdline: cmdline})
		}
	}
	return out, nil
}
