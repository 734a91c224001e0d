// Package probe implements the "black-box check(socket) -> ok | fails"
// collaborators a cycle samples before rule evaluation: per-protocol
// connectivity tests (spec.md §2 explicitly keeps their internals out of
// scope, treating each as pluggable) plus the host-local probes
// (process liveness, permission/ownership) a worker needs every cycle.
//
// Adapted from teacher pkg/health's Checker/Result shape (TCPChecker,
// ExecChecker) generalized from container health checks into rule-kind
// probes; process liveness is grounded on pkg/action's waitForStart/
// processAlive signal-0 probe.
package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cuemby/warden/pkg/types"
)

// Result is one probe's verdict for the current cycle.
type Result struct {
	Outcome types.Outcome
	Message string
	Value   float64 // set when the probe yields a comparable number (e.g. size)
}

// Checker performs one Rule's sample. Implementations must return
// promptly; long blocking syscalls should still observe ctx.
type Checker interface {
	Check(ctx context.Context) Result
}

func ok(msg string) Result   { return Result{Outcome: types.OutcomeSucceeded, Message: msg} }
func fail(msg string) Result { return Result{Outcome: types.OutcomeFailed, Message: msg} }

// PortChecker dials addr over network, the generalized stand-in for
// every per-protocol probe (HTTP, IMAP, MySQL, ...): a real deployment
// plugs a protocol-specific Checker in behind the same interface, but
// the rule graph and state machine never need to know which.
type PortChecker struct {
	Network string // "tcp", "tcp4", "tcp6", "udp"
	Address string
	Timeout time.Duration
}

// NewPortChecker returns a PortChecker with a 5 second default timeout.
func NewPortChecker(network, address string) *PortChecker {
	return &PortChecker{Network: network, Address: address, Timeout: 5 * time.Second}
}

func (p *PortChecker) Check(ctx context.Context) Result {
	dialer := &net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, p.Network, p.Address)
	if err != nil {
		return fail(fmt.Sprintf("connection to %s failed: %v", p.Address, err))
	}
	conn.Close()
	return ok(fmt.Sprintf("connection to %s succeeded", p.Address))
}

// ProcessChecker reports whether pid (or the pid last read from
// pidFile) refers to a live process, using the signal-0 existence
// probe shared with pkg/action.
type ProcessChecker struct {
	PID     int
	PIDFile string
}

func (p *ProcessChecker) Check(ctx context.Context) Result {
	pid := p.PID
	if pid == 0 && p.PIDFile != "" {
		if v, ok := readPIDFile(p.PIDFile); ok {
			pid = v
		}
	}
	if pid <= 0 {
		return fail("no pid available")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fail(fmt.Sprintf("pid %d: %v", pid, err))
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return fail(fmt.Sprintf("pid %d is not running: %v", pid, err))
	}
	return ok(fmt.Sprintf("pid %d is running", pid))
}

// PermissionChecker compares path's mode bits against want.
type PermissionChecker struct {
	Path string
	Want os.FileMode
}

func (p *PermissionChecker) Check(ctx context.Context) Result {
	info, err := os.Stat(p.Path)
	if err != nil {
		return fail(fmt.Sprintf("stat %s: %v", p.Path, err))
	}
	if info.Mode().Perm() != p.Want.Perm() {
		return fail(fmt.Sprintf("%s has mode %o, want %o", p.Path, info.Mode().Perm(), p.Want.Perm()))
	}
	return ok(fmt.Sprintf("%s has expected mode %o", p.Path, p.Want.Perm()))
}

// SizeChecker reports path's current size in bytes as Value; the
// caller's Rule comparison (operator + threshold) decides pass/fail.
type SizeChecker struct {
	Path string
}

func (s *SizeChecker) Check(ctx context.Context) Result {
	info, err := os.Stat(s.Path)
	if err != nil {
		return fail(fmt.Sprintf("stat %s: %v", s.Path, err))
	}
	r := ok(fmt.Sprintf("%s is %d bytes", s.Path, info.Size()))
	r.Value = float64(info.Size())
	return r
}

// ExecChecker runs cmd and reports Succeeded iff it exits zero.
type ExecChecker struct {
	Command []string
	Timeout time.Duration
}

func (e *ExecChecker) Check(ctx context.Context) Result {
	if len(e.Command) == 0 {
		return fail("no command specified")
	}
	timeout := e.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.Command[0], e.Command[1:]...)
	if err := cmd.Run(); err != nil {
		return fail(fmt.Sprintf("command %v failed: %v", e.Command, err))
	}
	return ok(fmt.Sprintf("command %v exited zero", e.Command))
}

func readPIDFile(path string) (int, bool) {
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
