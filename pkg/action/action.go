// Package action implements the Action Engine: the side-effecting half of
// a rule transition, dispatching start/stop/restart/exec/monitor commands
// through pkg/command and polling for process liveness the way the
// original daemon does around a spawned start/stop script.
//
// Grounded on original_source/src/control.c's _doStart/_doStop/_doRestart
// and their _waitProcessStart/_waitProcessStop polling helpers; the
// Engine's struct shape (owns config, exposes Start/Stop, runs no
// background loop of its own) follows the teacher's pkg/worker.Worker
// constructor convention, trimmed of everything cluster-specific.
package action

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/cuemby/warden/pkg/command"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// minPoll and maxPoll bound _waitProcessStart's exponential backoff:
	// it begins at 100ms and doubles each attempt until capped at 1s, to
	// avoid draining power on a slow-starting service.
	minPoll = 100 * time.Millisecond
	maxPoll = time.Second

	// stopPoll is the fixed interval _waitProcessStop polls at.
	stopPoll = 100 * time.Millisecond

	defaultTimeout = 30 * time.Second
)

// Engine runs Actions against Services. The zero value is not usable;
// build one with New.
type Engine struct {
	Hostname string
	logger   zerolog.Logger
}

// New builds an Engine that stamps MONIT_HOST with hostname in every
// spawned command's environment.
func New(hostname string) *Engine {
	return &Engine{Hostname: hostname, logger: log.WithComponent("action")}
}

// Run dispatches a by its Kind. It implements events.ActionRunner so the
// Event Engine can invoke it without importing pkg/action directly.
func (e *Engine) Run(s *types.Service, a types.Action, ev *types.Event) error {
	timer := metrics.NewTimer()
	var err error
	switch a.Kind {
	case types.ActionIgnore, types.ActionAlert, types.ActionNone:
		// Alert is delivered by the Event Engine's handlers; nothing to run.
	case types.ActionStart:
		err = e.Start(s, ev)
	case types.ActionStop:
		err = e.Stop(s, ev, true)
	case types.ActionRestart:
		err = e.Restart(s, ev)
	case types.ActionMonitor:
		e.Monitor(s)
	case types.ActionUnmonitor:
		e.Unmonitor(s)
	case types.ActionExec:
		err = e.Exec(s, a, ev)
	default:
		err = fmt.Errorf("action: unrecognized action kind %q", a.Kind)
	}

	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.ActionsTotal.WithLabelValues(string(a.Kind), result).Inc()
	timer.ObserveDurationVec(metrics.ActionExecDuration, string(a.Kind))
	return err
}

// Start spawns s's start command unless a process matching s's pid file
// is already alive, then polls for the process to appear, mirroring
// _doStart. Instance/Action-style services with no start command simply
// have monitoring enabled.
func (e *Engine) Start(s *types.Service, ev *types.Event) error {
	if s.Type == types.ServiceTypeProcess && s.PIDFile != "" {
		if pid, ok := readPIDFile(s.PIDFile); ok && processAlive(pid) {
			s.PID = pid
			s.State = types.StateInit
			return nil
		}
	}
	if len(s.StartCommand) == 0 {
		e.logger.Debug().Str("service", s.Name).Msg("start method not defined")
		s.State = types.StateInit
		return nil
	}

	e.logger.Info().Str("service", s.Name).Msg("starting")
	c := e.buildCommand(s, s.StartCommand, ev)
	p, err := command.Execute(c)
	if err != nil {
		return fmt.Errorf("action: spawning start command: %w", err)
	}
	p.WaitFor()
	p.Close()

	if s.Type == types.ServiceTypeProcess {
		pid, ok := e.waitForStart(s, defaultTimeout)
		if !ok {
			return fmt.Errorf("action: %s did not appear running within timeout", s.Name)
		}
		s.PID = pid
	}
	s.State = types.StateInit
	s.RestartAttempts = 0
	return nil
}

// Stop spawns s's stop command if the Service is currently monitored,
// waits for the pid to disappear, and updates monitoring state. unmonitor
// distinguishes a hard stop (disable monitoring) from the stop leg of a
// restart (monitoring stays enabled so the subsequent start is tracked).
func (e *Engine) Stop(s *types.Service, ev *types.Event, unmonitor bool) error {
	var stopErr error
	if len(s.StopCommand) == 0 {
		e.logger.Debug().Str("service", s.Name).Msg("stop method not defined")
	} else if s.State != types.StateNotMonitored {
		pid := s.PID
		c := e.buildCommand(s, s.StopCommand, ev)
		p, err := command.Execute(c)
		if err != nil {
			stopErr = fmt.Errorf("action: spawning stop command: %w", err)
		} else {
			p.WaitFor()
			p.Close()
			if s.Type == types.ServiceTypeProcess && pid != 0 && !e.waitForStop(pid, defaultTimeout) {
				stopErr = fmt.Errorf("action: %s did not stop within timeout", s.Name)
			}
		}
	}

	if unmonitor {
		s.State = types.StateNotMonitored
	} else {
		s.State = types.StateInit
	}
	s.PID = 0
	return stopErr
}

// Restart prefers an explicit restart command; otherwise it stops (without
// disabling monitoring) and starts again. A configured, positive
// MaxRestartAttempts ceiling bounds retries so a crash-looping service
// does not restart forever; Monitor resets the counter on a clean start.
func (e *Engine) Restart(s *types.Service, ev *types.Event) error {
	if s.MaxRestartAttempts > 0 && s.RestartAttempts >= s.MaxRestartAttempts {
		e.logger.Warn().Str("service", s.Name).Int("attempts", s.RestartAttempts).
			Msg("restart attempts exhausted; giving up until manually reset")
		return fmt.Errorf("action: %s exceeded max restart attempts (%d)", s.Name, s.MaxRestartAttempts)
	}
	s.RestartAttempts++

	if len(s.RestartCommand) > 0 {
		e.logger.Info().Str("service", s.Name).Msg("restarting")
		c := e.buildCommand(s, s.RestartCommand, ev)
		p, err := command.Execute(c)
		if err != nil {
			return fmt.Errorf("action: spawning restart command: %w", err)
		}
		p.WaitFor()
		p.Close()
		if s.Type == types.ServiceTypeProcess {
			pid, ok := e.waitForStart(s, defaultTimeout)
			if !ok {
				return fmt.Errorf("action: %s did not appear running within timeout", s.Name)
			}
			s.PID = pid
		}
		s.State = types.StateInit
		return nil
	}

	if err := e.Stop(s, ev, false); err != nil {
		// Monitoring stays enabled (unmonitor=false) so the following
		// Start attempt, and any later retry, is still tracked.
		e.logger.Warn().Err(err).Str("service", s.Name).Msg("restart's stop leg failed; attempting start anyway")
	}
	return e.Start(s, ev)
}

// Monitor enables monitoring without otherwise touching the process.
func (e *Engine) Monitor(s *types.Service) {
	s.State = types.StateInit
	s.RestartAttempts = 0
}

// Unmonitor disables monitoring. The pid and accumulated error bits are
// left untouched so a later re-Monitor resumes from the last observation.
func (e *Engine) Unmonitor(s *types.Service) {
	s.State = types.StateNotMonitored
}

// Exec runs a's command once, for the Exec rule-action path and for its
// Repeat-driven re-invocation while a condition persists.
func (e *Engine) Exec(s *types.Service, a types.Action, ev *types.Event) error {
	c := e.buildCommand(s, a.Command, ev)
	p, err := command.Execute(c)
	if err != nil {
		return fmt.Errorf("action: spawning exec command: %w", err)
	}
	p.WaitFor()
	p.Close()
	return nil
}

// buildCommand constructs the command.Command for cmd's argv, with the
// MONIT_* environment variables set from s and ev, as original_source's
// spawn.c does for every child it execs.
func (e *Engine) buildCommand(s *types.Service, cmd []string, ev *types.Event) *command.Command {
	if len(cmd) == 0 {
		return command.New("")
	}
	c := command.New(cmd[0], cmd[1:]...)
	if s.UID != nil {
		_ = c.SetUID(*s.UID)
	}
	if s.GID != nil {
		_ = c.SetGID(*s.GID)
	}
	c.SetEnv("MONIT_DATE", time.Now().Format(time.RFC1123Z))
	c.SetEnv("MONIT_SERVICE", s.Name)
	c.SetEnv("MONIT_HOST", e.Hostname)
	if ev != nil {
		c.SetEnv("MONIT_EVENT", ev.Kind.String())
		c.SetEnv("MONIT_DESCRIPTION", ev.Message)
	}
	switch s.Type {
	case types.ServiceTypeProcess, types.ServiceTypeProgram:
		if s.PID != 0 {
			c.SetEnv("MONIT_PID", fmt.Sprintf("%d", s.PID))
		}
		if s.PIDFile != "" {
			c.SetEnv("MONIT_PIDFILE", s.PIDFile)
		}
	}
	return c
}

// waitForStart polls s's pid file with exponential backoff starting at
// minPoll, doubling each attempt up to maxPoll, until a live process is
// found or timeout elapses. This is the direct Go equivalent of
// _waitProcessStart's doubling-usleep loop.
func (e *Engine) waitForStart(s *types.Service, timeout time.Duration) (int, bool) {
	wait := minPoll
	deadline := time.Now().Add(timeout)
	for {
		time.Sleep(wait)
		if pid, ok := readPIDFile(s.PIDFile); ok && processAlive(pid) {
			return pid, true
		}
		if time.Now().After(deadline) {
			return 0, false
		}
		if wait < maxPoll {
			wait *= 2
			if wait > maxPoll {
				wait = maxPoll
			}
		}
	}
}

// waitForStop polls at a fixed interval until pid no longer exists or
// timeout elapses, mirroring _waitProcessStop.
func (e *Engine) waitForStop(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		time.Sleep(stopPoll)
		if !processAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}

// readPIDFile reads a decimal pid from path.
func readPIDFile(path string) (int, bool) {
	if path == "" {
		return 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether pid refers to a live process, using
// signal 0 as the existence probe (sends no actual signal).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
