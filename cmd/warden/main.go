package main

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/syslog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/warden/internal/daemon"
	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/persistence"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - a lightweight service supervisor and monitor",
	Long: `Warden watches processes, files, filesystems, hosts and programs,
restarts or alerts on failure, and exposes its state over a small HTTP
control surface.

Invoked with no subcommand, warden starts the daemon for the control
file named by -c. Every other subcommand is a client of an already
running daemon's control surface.`,
	Version:       Version,
	SilenceUsage:  true,
	RunE:          runRoot,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"warden version %s\ncommit: %s\nbuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringP("control", "c", "/etc/warden.yml", "control file path")
	flags.StringP("group", "g", "", "restrict an action/report to services in this group")
	flags.StringP("logfile", "l", "", "log file path (default: stderr; 'syslog' logs via syslog)")
	flags.StringP("pidfile", "p", "", "override the control file's pid_file")
	flags.StringP("statefile", "s", "", "override the control file's data_dir (persisted state)")
	flags.IntP("daemon", "d", 0, "run continuously, polling every N seconds (overrides poll_interval)")
	flags.BoolP("foreground", "I", false, "accepted for compatibility; warden always runs in the foreground")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.Bool("vv", false, "debug logging (same level as -v)")
	flags.BoolP("batch", "B", false, "batch mode: disable colored output")

	local := rootCmd.Flags()
	local.StringP("checksum", "H", "", "print the SHA1 and MD5 checksum of file (or the control file) and exit")
	local.Lookup("checksum").NoOptDefVal = " "
	local.Bool("id", false, "print the daemon's persistent identity and exit")
	local.Bool("resetid", false, "regenerate the daemon's persistent identity and exit")
	local.BoolP("test", "t", false, "check the control file's syntax and exit")
	local.BoolP("print-version", "V", false, "print version information and exit")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd, stopCmd, restartCmd, monitorCmd, unmonitorCmd)
	rootCmd.AddCommand(reloadCmd, statusCmd, summaryCmd, reportCmd, procmatchCmd, quitCmd, validateCmd)
}

func initLogging() {
	flags := rootCmd.PersistentFlags()
	level := log.InfoLevel
	if v, _ := flags.GetBool("vv"); v {
		level = log.DebugLevel
	} else if v, _ := flags.GetBool("verbose"); v {
		level = log.DebugLevel
	}

	if batch, _ := flags.GetBool("batch"); batch {
		color.NoColor = true
	}

	log.Init(log.Config{Level: level})
}

func controlPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("control")
	return p
}

// runRoot implements every flag that short-circuits before the daemon
// starts (-H, --id, --resetid, -t, -V), falling back to starting the
// daemon itself when none of them were given, matching
// original_source/src/monit.c's "no command: run" bootstrap behavior.
func runRoot(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetBool("print-version"); v {
		fmt.Printf("warden version %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildTime)
		return nil
	}

	if cmd.Flags().Changed("checksum") {
		target, _ := cmd.Flags().GetString("checksum")
		if target == "" || target == " " {
			target = controlPath(cmd)
		}
		return printChecksum(target)
	}

	cfgPath := controlPath(cmd)

	if resetID, _ := cmd.Flags().GetBool("resetid"); resetID {
		return printResetID(cfgPath)
	}
	if id, _ := cmd.Flags().GetBool("id"); id {
		return printID(cfgPath)
	}

	if test, _ := cmd.Flags().GetBool("test"); test {
		if _, err := config.Load(cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "control file syntax error: %v\n", err)
			return err
		}
		fmt.Println("Control file syntax OK")
		return nil
	}

	return runDaemon(cmd, cfgPath)
}

func runDaemon(cmd *cobra.Command, cfgPath string) error {
	// Go has no fork/setsid primitive to background itself the way the
	// original monit does; -I is accepted for control-file compatibility
	// but every invocation already runs in the foreground of its process
	// tree. Daemonizing means running warden under a process supervisor.
	_, _ = cmd.Flags().GetBool("foreground")

	var opts []daemon.Option

	if seconds, _ := cmd.Flags().GetInt("daemon"); seconds > 0 {
		opts = append(opts, daemon.WithPollInterval(time.Duration(seconds)*time.Second))
	}
	if pidfile, _ := cmd.Flags().GetString("pidfile"); pidfile != "" {
		opts = append(opts, daemon.WithPIDFile(pidfile))
	}
	if statefile, _ := cmd.Flags().GetString("statefile"); statefile != "" {
		opts = append(opts, daemon.WithDataDir(statefile))
	}
	if logfile, _ := cmd.Flags().GetString("logfile"); logfile != "" {
		if logfile == "syslog" {
			w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "warden")
			if err != nil {
				return fmt.Errorf("opening syslog: %w", err)
			}
			opts = append(opts, daemon.WithLogOutput(w))
		} else {
			f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			opts = append(opts, daemon.WithLogOutput(f))
		}
	}

	d, err := daemon.New(cfgPath, opts...)
	if err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	metrics.SetVersion(Version)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		cancel()
	}()

	return d.Run(ctx)
}

func printID(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	id, err := persistence.EnsureIdentity(cfg.Daemon.IdentityFile)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func printResetID(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	id, err := persistence.ResetIdentity(cfg.Daemon.IdentityFile)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func printChecksum(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	sha := sha1.Sum(data)
	md := md5.Sum(data)
	fmt.Printf("SHA1(%s)  = %s\n", path, hex.EncodeToString(sha[:]))
	fmt.Printf("MD5(%s)   = %s\n", path, hex.EncodeToString(md[:]))
	return nil
}
