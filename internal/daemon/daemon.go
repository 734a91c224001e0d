// Package daemon assembles the Task Scheduler, Rule Graph, State
// Machine, Event Engine, Action Engine, Control Surface and Persistence
// layer into a single running warden process.
//
// Grounded on the shape of teacher pkg/manager.Manager: a Config struct
// resolved once at construction, a New that wires every collaborator and
// opens its on-disk state, and a Bootstrap/Run split between "build the
// long-lived object graph" and "start doing work." Unlike the teacher's
// single Raft-driven Manager, warden has no consensus layer: each
// Service gets its own scheduler.Task (libmonit-style), and a second,
// lightweight control loop polls the Control Surface's Flags for
// reload/wakeup/stop requests between ticks.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/action"
	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/control"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/persistence"
	"github.com/cuemby/warden/pkg/probe"
	"github.com/cuemby/warden/pkg/rulegraph"
	"github.com/cuemby/warden/pkg/scheduler"
	"github.com/cuemby/warden/pkg/state"
	"github.com/cuemby/warden/pkg/types"
	"github.com/rs/zerolog"
)

// controlLoopInterval is how often the control loop checks Flags between
// scheduler ticks; short enough that a signal or HTTP request is acted
// on promptly without burning a full OS thread per check.
const controlLoopInterval = 250 * time.Millisecond

// Daemon owns every long-lived collaborator and the per-service
// scheduler tasks that drive them.
type Daemon struct {
	configPath string
	hostname   string
	identity   string

	mu    sync.Mutex
	cfg   config.Daemon
	graph *rulegraph.Graph

	actionEngine *action.Engine
	eventEngine  *events.Engine
	flags        *control.Flags
	auth         *control.Authenticator
	server       *control.Server
	metricsServer *http.Server
	store        *persistence.Store
	sched        *scheduler.T

	tasks map[string]*scheduler.Task

	stopSignals func()
	logger      zerolog.Logger
}

// Option customizes a Daemon's resolved configuration before any
// collaborator is wired, overriding whatever the control file says.
type Option func(*config.Daemon)

// WithPollInterval overrides the control file's daemon.poll_interval,
// the in-process equivalent of the CLI's -d <seconds> flag.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config.Daemon) { cfg.PollInterval = d }
}

// WithPIDFile overrides the control file's daemon.pid_file, the
// in-process equivalent of the CLI's -p flag.
func WithPIDFile(path string) Option {
	return func(cfg *config.Daemon) {
		if path != "" {
			cfg.PIDFile = path
		}
	}
}

// WithDataDir overrides the control file's daemon.data_dir, the
// in-process equivalent of the CLI's -s flag.
func WithDataDir(path string) Option {
	return func(cfg *config.Daemon) {
		if path != "" {
			cfg.DataDir = path
		}
	}
}

// WithLogOutput redirects log output away from stdout, the in-process
// equivalent of the CLI's -l flag.
func WithLogOutput(w io.Writer) Option {
	return func(cfg *config.Daemon) { cfg.Log.Output = w }
}

// New loads configPath and wires every collaborator, but starts nothing:
// call Run to begin scheduling and serving.
func New(configPath string, opts ...Option) (*Daemon, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	for _, opt := range opts {
		opt(&cfg.Daemon)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Daemon.Log.Level),
		JSONOutput: cfg.Daemon.Log.JSON,
		Output:     cfg.Daemon.Log.Output,
	})

	if err := os.MkdirAll(cfg.Daemon.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("daemon: creating data directory: %w", err)
	}

	store, err := persistence.Open(cfg.Daemon.DataDir)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	identity, err := persistence.EnsureIdentity(cfg.Daemon.IdentityFile)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("daemon: %w", err)
	}

	d := &Daemon{
		configPath:   configPath,
		hostname:     hostname,
		identity:     identity,
		cfg:          cfg.Daemon,
		graph:        cfg.Graph,
		actionEngine: action.New(hostname),
		flags:        &control.Flags{},
		auth:         control.NewAuthenticator(),
		store:        store,
		tasks:        make(map[string]*scheduler.Task),
		logger:       log.WithComponent("daemon"),
	}
	d.eventEngine = events.NewEngine(d.cfg.DataDir, 0, d.actionEngine, d.buildHandlers()...)
	d.configureAuth()
	d.server = control.NewServer(d.cfg.Control.Addr, d.graph, d.flags, d.auth)

	if err := d.restoreState(); err != nil {
		store.Close()
		return nil, fmt.Errorf("daemon: %w", err)
	}

	return d, nil
}

// Identity returns the daemon's persistent identity token.
func (d *Daemon) Identity() string { return d.identity }

// Graph returns the live Rule Graph under the daemon's lock; the shutdown
// path and the package tests read Services through it.
func (d *Daemon) Graph() *rulegraph.Graph {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.graph
}

func (d *Daemon) buildHandlers() []events.Handler {
	var handlers []events.Handler
	if d.cfg.Mail.Host != "" {
		smtpAddr := fmt.Sprintf("%s:%d", d.cfg.Mail.Host, d.cfg.Mail.Port)
		handlers = append(handlers, events.NewAlertMailer(smtpAddr, d.cfg.Mail.From, d.hostname))
	}
	if d.cfg.Telemetry.URL != "" {
		handlers = append(handlers, events.NewRemoteHandler(d.cfg.Telemetry.URL, d.hostname))
	}
	return handlers
}

func (d *Daemon) configureAuth() {
	for _, c := range d.cfg.Control.Credentials {
		d.auth.AddCredential(c.Username, c.Password, c.ReadOnly)
	}
	for _, h := range d.cfg.Control.AllowHosts {
		if ip := parseIP(h); ip != nil {
			d.auth.AllowHost(ip)
		}
	}
	for _, n := range d.cfg.Control.AllowNets {
		if cidr := parseCIDR(n); cidr != nil {
			d.auth.AllowNet(cidr)
		}
	}
}

// restoreState detects a reboot (resetting every Service's restart
// counters and persisted pid, since both are meaningless across a
// reboot) and otherwise restores each Service's last-persisted runtime
// fields, matching original_source's "resume where the last clean
// shutdown left off" bootstrap behavior.
func (d *Daemon) restoreState() error {
	rebooted, err := d.store.DetectReboot()
	if err != nil {
		return err
	}
	if rebooted {
		d.logger.Info().Msg("reboot detected; discarding persisted process state")
		return nil
	}

	saved, err := d.store.LoadAll()
	if err != nil {
		return err
	}
	for _, svc := range d.Graph().All() {
		if st, ok := saved[svc.Name]; ok {
			persistence.Apply(svc, st)
		}
	}
	return nil
}

// Run starts the signal watcher, the Control Surface, every Service's
// scheduler task and the control loop, then blocks until a shutdown is
// requested.
func (d *Daemon) Run(ctx context.Context) error {
	d.stopSignals = control.WatchSignals(d.flags)
	defer d.stopSignals()

	d.sched = scheduler.New(d.cfg.Workers)

	if err := persistence.WritePID(d.cfg.PIDFile, os.Getpid()); err != nil {
		d.logger.Warn().Err(err).Msg("failed to write pid file")
	}

	d.scheduleAll()
	metrics.RegisterComponent("scheduler", true, "running")
	metrics.RegisterComponent("persistence", true, "open")

	serverErrCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(); err != nil {
			serverErrCh <- err
		}
	}()
	metrics.RegisterComponent("control", true, "listening")

	if d.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		d.metricsServer = &http.Server{Addr: d.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := d.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Warn().Err(err).Msg("metrics server stopped unexpectedly")
			}
		}()
	}

	d.logger.Info().Int("services", len(d.Graph().All())).Str("control_addr", d.cfg.Control.Addr).
		Str("id", d.identity).Msg("warden started")

	ticker := time.NewTicker(controlLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case err := <-serverErrCh:
			d.logger.Error().Err(err).Msg("control surface stopped unexpectedly")
		case <-ticker.C:
			if d.flags.Stopped() {
				return d.shutdown()
			}
			if d.flags.TakeReload() {
				d.reload()
			}
			if d.flags.TakeWakeup() {
				d.wakeupAll()
			}
			if d.flags.ActionPending() {
				d.dispatchPending()
			}
		}
	}
}

// scheduleAll arms one periodic scheduler.Task per Service, each
// running that Service's own cycle independently, matching spec.md
// 4.3's per-service dispatch rather than the original's single global
// loop.
func (d *Daemon) scheduleAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, svc := range d.graph.All() {
		d.armTask(svc)
	}
	metrics.ServicesTotal.Reset()
	d.refreshServiceMetrics()
}

func (d *Daemon) armTask(svc *types.Service) {
	name := svc.Name
	t := d.sched.Task(name)
	t.SetWorker(func(*scheduler.Task) { d.runCycle(name) })
	t.Periodic(0, d.cfg.PollInterval)
	d.sched.Start(t)
	d.tasks[name] = t
}

// runCycle evaluates every Rule attached to name's Service, delivers any
// resulting transition, and persists the Service's runtime snapshot.
func (d *Daemon) runCycle(name string) {
	svc, ok := d.Graph().Get(name)
	if !ok {
		return
	}
	if svc.State == types.StateNotMonitored {
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CycleDuration)
	metrics.CyclesTotal.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, rule := range svc.Rules {
		outcome, msg, value := probe.Sample(ctx, svc, rule)
		svc.Snapshot.CollectedAt = time.Now()
		if svc.Snapshot.Values == nil {
			svc.Snapshot.Values = make(map[string]float64)
		}
		svc.Snapshot.Values[rule.Kind.String()] = value

		ev, transitioned := state.Evaluate(svc, rule, outcome)
		if !transitioned {
			continue
		}
		ev.Message = msg
		a := state.ActionFor(ev, outcome)
		metrics.StateTransitionsTotal.WithLabelValues(rule.Kind.String(), outcome.String()).Inc()
		d.eventEngine.Deliver(svc, ev, *a)
	}

	if svc.State == types.StateInit {
		svc.State = types.StateYes
	}
	svc.Collected = time.Now()

	if err := d.store.SaveService(svc.Name, persistence.Snapshot(svc)); err != nil {
		d.logger.Warn().Err(err).Str("service", svc.Name).Msg("failed to persist service state")
	}
	d.eventEngine.Replay(d.servicesByName())
	d.refreshServiceMetrics()
}

func (d *Daemon) servicesByName() map[string]*types.Service {
	all := d.Graph().All()
	out := make(map[string]*types.Service, len(all))
	for _, s := range all {
		out[s.Name] = s
	}
	return out
}

func (d *Daemon) refreshServiceMetrics() {
	counts := map[types.MonitorState]int{}
	for _, svc := range d.Graph().All() {
		counts[svc.State]++
	}
	for st, n := range counts {
		metrics.ServicesTotal.WithLabelValues(string(st)).Set(float64(n))
	}
}

// wakeupAll forces every Service's cycle to run immediately, the
// synchronous substitute for scheduler.Restart (which only re-arms a
// task at its configured offset rather than firing it right away).
func (d *Daemon) wakeupAll() {
	d.logger.Info().Msg("wakeup: forcing immediate validation of every service")
	for _, svc := range d.Graph().All() {
		d.runCycle(svc.Name)
	}
}

// dispatchPending drains every Service with a queued pending_action and
// runs it through the Rule Graph's traversal policies.
func (d *Daemon) dispatchPending() {
	graph := d.Graph()
	pending := graph.DrainPending()
	for _, svc := range pending {
		kind := svc.Pending
		var err error
		switch kind {
		case types.ActionStart:
			err = graph.Start(d.actionEngine, svc.Name)
		case types.ActionStop:
			err = graph.Stop(d.actionEngine, svc.Name, true)
		case types.ActionRestart:
			err = graph.Restart(d.actionEngine, svc.Name)
		case types.ActionMonitor:
			err = graph.Monitor(d.actionEngine, svc.Name)
		case types.ActionUnmonitor:
			err = graph.Unmonitor(d.actionEngine, svc.Name)
		}
		if err != nil {
			d.logger.Error().Err(err).Str("service", svc.Name).Str("action", string(kind)).
				Msg("queued action failed")
		}
		_ = graph.RequestAction(svc.Name, types.ActionNone)
	}
	d.flags.SetActionPending(false)
	d.refreshServiceMetrics()
}

// reload rebuilds the Rule Graph and the Control Surface from the
// control file on disk, preserving each surviving Service's runtime
// state across the swap.
func (d *Daemon) reload() {
	d.logger.Info().Msg("reload requested; rebuilding configuration")
	cfg, err := config.Load(d.configPath)
	if err != nil {
		d.logger.Error().Err(err).Msg("reload failed; keeping previous configuration")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.graph
	for name, t := range d.tasks {
		if !t.IsCanceled() {
			d.sched.Cancel(t)
		}
		delete(d.tasks, name)
	}

	for _, svc := range cfg.Graph.All() {
		if prev, ok := old.Get(svc.Name); ok {
			svc.State = prev.State
			svc.PID = prev.PID
			svc.ErrorBits = prev.ErrorBits
			svc.HintBits = prev.HintBits
			svc.RestartAttempts = prev.RestartAttempts
			svc.Events = prev.Events
		}
	}

	d.cfg = cfg.Daemon
	d.graph = cfg.Graph
	d.auth = control.NewAuthenticator()
	d.configureAuth()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("control surface shutdown during reload reported an error")
	}
	cancel()
	d.server = control.NewServer(d.cfg.Control.Addr, d.graph, d.flags, d.auth)
	go func() {
		if err := d.server.Serve(); err != nil {
			d.logger.Warn().Err(err).Msg("control surface stopped after reload")
		}
	}()

	for _, svc := range d.graph.All() {
		d.armTask(svc)
	}
	metrics.ServicesTotal.Reset()
	d.refreshServiceMetrics()
	d.logger.Info().Int("services", len(d.graph.All())).Msg("reload complete")
}

// shutdown persists every Service's final state and releases every
// on-disk and in-process resource, mirroring original_source's clean
// exit path (Run_Stopped -> persist -> remove pid -> exit).
func (d *Daemon) shutdown() error {
	d.logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("control surface shutdown reported an error")
	}

	if d.sched != nil {
		d.sched.Close()
	}

	if d.metricsServer != nil {
		mctx, mcancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Shutdown(mctx); err != nil {
			d.logger.Warn().Err(err).Msg("metrics server shutdown reported an error")
		}
		mcancel()
	}

	for _, svc := range d.Graph().All() {
		if err := d.store.SaveService(svc.Name, persistence.Snapshot(svc)); err != nil {
			d.logger.Warn().Err(err).Str("service", svc.Name).Msg("failed to persist service state on shutdown")
		}
	}

	if err := persistence.RemovePID(d.cfg.PIDFile); err != nil {
		d.logger.Warn().Err(err).Msg("failed to remove pid file")
	}

	return d.store.Close()
}
