// Package config loads the YAML control file into a daemon Config and a
// populated pkg/rulegraph.Graph. The configuration grammar itself is out
// of scope for the distilled specification (spec.md §1), but a concrete
// grammar must exist for the daemon to run end to end; this package
// defines that grammar, grounded on the teacher's general config-struct-
// plus-yaml.v3 convention and on original_source/src/monit.c's control
// file sections (global daemon settings, mail, per-service checks).
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cuemby/warden/pkg/rulegraph"
	"github.com/cuemby/warden/pkg/types"
	"gopkg.in/yaml.v3"
)

// Daemon holds the global, non-per-Service settings: poll interval,
// on-disk artifact locations, mail delivery, remote telemetry, and the
// HTTP control surface.
type Daemon struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	DataDir      string        `yaml:"data_dir"`
	PIDFile      string        `yaml:"pid_file"`
	IdentityFile string        `yaml:"identity_file"`
	Workers      int           `yaml:"workers"`

	Mail      MailConfig      `yaml:"mail"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Control   ControlConfig   `yaml:"control"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// MetricsConfig configures the Prometheus/health HTTP server mounted
// separately from the Control Surface. An empty Addr disables it; Load
// replaces an empty Addr with the default 127.0.0.1:9090.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// MailConfig configures the alert mailer delivery handler.
type MailConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	From string `yaml:"from"`
}

// TelemetryConfig configures the optional remote telemetry POST.
type TelemetryConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ControlConfig configures the HTTP control surface's bind address,
// Basic Auth credentials and host/net allow-list.
type ControlConfig struct {
	Addr        string       `yaml:"addr"`
	Credentials []Credential `yaml:"credentials"`
	AllowHosts  []string     `yaml:"allow_hosts"`
	AllowNets   []string     `yaml:"allow_nets"`
}

// Credential is one Basic Auth identity accepted by the control surface.
type Credential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ReadOnly bool   `yaml:"read_only"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`

	// Output overrides the log destination at runtime (the CLI's -l
	// flag); it has no YAML representation.
	Output io.Writer `yaml:"-"`
}

// RuleSpec is one YAML rule entry under a service's `rules:` list.
type RuleSpec struct {
	Kind      string `yaml:"kind"`
	Operator  string `yaml:"operator"`
	Threshold string `yaml:"threshold"`
	Invert    bool   `yaml:"invert"`

	Failed    ActionSpec `yaml:"failed"`
	Succeeded ActionSpec `yaml:"succeeded"`
}

// ActionSpec is one YAML action entry (the failed/succeeded leg of a
// rule binding).
type ActionSpec struct {
	Kind    string        `yaml:"kind"`
	Command []string      `yaml:"command"`
	Cycles  int           `yaml:"cycles"`
	Count   int           `yaml:"count"`
	Repeat  int           `yaml:"repeat"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServiceSpec is one YAML service entry.
type ServiceSpec struct {
	Name       string     `yaml:"name"`
	Group      string     `yaml:"group"`
	Type       string     `yaml:"type"`
	Path       string     `yaml:"path"`
	Mode       string     `yaml:"mode"`
	Dependants []string   `yaml:"depends_on"`
	Mail       []string   `yaml:"mail"`
	Rules      []RuleSpec `yaml:"rules"`

	StartCommand       []string `yaml:"start"`
	StopCommand        []string `yaml:"stop"`
	RestartCommand     []string `yaml:"restart"`
	PIDFile            string   `yaml:"pid_file"`
	UID                *int     `yaml:"uid"`
	GID                *int     `yaml:"gid"`
	MaxRestartAttempts int      `yaml:"max_restart_attempts"`
}

// File is the root of the YAML control file.
type File struct {
	Daemon   Daemon        `yaml:"daemon"`
	Services []ServiceSpec `yaml:"services"`
}

// Config is the fully-resolved result of loading a control file: daemon
// settings plus a populated Rule Graph.
type Config struct {
	Daemon Daemon
	Graph  *rulegraph.Graph
}

// Load reads and parses the control file at path, building a Rule
// Graph from its services section. A malformed file or an unknown rule
// operator/action kind is a configuration error: fatal at load per
// spec.md §7's error taxonomy, so callers should exit non-zero on a
// non-nil error rather than attempt to run with a partial graph.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDaemonDefaults(&file.Daemon)

	graph := rulegraph.New()
	names := make(map[string]bool, len(file.Services))
	for _, spec := range file.Services {
		if spec.Name == "" {
			return nil, fmt.Errorf("config: service entry missing a name")
		}
		if names[spec.Name] {
			return nil, fmt.Errorf("config: duplicate service name %q", spec.Name)
		}
		names[spec.Name] = true

		svc, err := buildService(spec)
		if err != nil {
			return nil, fmt.Errorf("config: service %q: %w", spec.Name, err)
		}
		graph.Add(svc)
	}

	for _, svc := range graph.All() {
		for _, dep := range svc.Dependants {
			if !names[dep] {
				return nil, fmt.Errorf("config: service %q depends on unknown service %q", svc.Name, dep)
			}
		}
	}

	return &Config{Daemon: file.Daemon, Graph: graph}, nil
}

func applyDaemonDefaults(d *Daemon) {
	if d.PollInterval == 0 {
		d.PollInterval = 30 * time.Second
	}
	if d.DataDir == "" {
		d.DataDir = "/var/lib/warden"
	}
	if d.PIDFile == "" {
		d.PIDFile = "/var/run/warden.pid"
	}
	if d.IdentityFile == "" {
		d.IdentityFile = "/var/lib/warden/warden.id"
	}
	if d.Workers == 0 {
		d.Workers = 4
	}
	if d.Control.Addr == "" {
		d.Control.Addr = "127.0.0.1:2812"
	}
	if d.Log.Level == "" {
		d.Log.Level = "info"
	}
	if d.Metrics.Addr == "" {
		d.Metrics.Addr = "127.0.0.1:9090"
	}
}

func buildService(spec ServiceSpec) (*types.Service, error) {
	svcType, err := parseServiceType(spec.Type)
	if err != nil {
		return nil, err
	}
	mode := types.ModeActive
	if spec.Mode == "passive" {
		mode = types.ModePassive
	}

	svc := &types.Service{
		Name:               spec.Name,
		Group:              spec.Group,
		Type:               svcType,
		Path:               spec.Path,
		Mode:               mode,
		State:              types.StateNotMonitored,
		Dependants:         spec.Dependants,
		Mail:               spec.Mail,
		StartCommand:       spec.StartCommand,
		StopCommand:        spec.StopCommand,
		RestartCommand:     spec.RestartCommand,
		PIDFile:            spec.PIDFile,
		UID:                spec.UID,
		GID:                spec.GID,
		MaxRestartAttempts: spec.MaxRestartAttempts,
	}

	for _, rs := range spec.Rules {
		rule, err := buildRule(rs)
		if err != nil {
			return nil, err
		}
		svc.Rules = append(svc.Rules, rule)
	}
	return svc, nil
}

func buildRule(spec RuleSpec) (*types.Rule, error) {
	kind, err := parseRuleKind(spec.Kind)
	if err != nil {
		return nil, err
	}
	op, err := parseOperator(spec.Operator)
	if err != nil {
		return nil, err
	}

	failed, err := buildAction(spec.Failed)
	if err != nil {
		return nil, err
	}
	binding := types.NewActionBinding(failed)
	if spec.Succeeded.Kind != "" {
		succeeded, err := buildAction(spec.Succeeded)
		if err != nil {
			return nil, err
		}
		binding.Succeeded = succeeded
	}

	return &types.Rule{
		Kind:      kind,
		Operator:  op,
		Threshold: spec.Threshold,
		Invert:    spec.Invert,
		Binding:   binding,
	}, nil
}

func buildAction(spec ActionSpec) (types.Action, error) {
	kind, err := parseActionKind(spec.Kind)
	if err != nil {
		return types.Action{}, err
	}
	return types.Action{
		Kind:    kind,
		Command: spec.Command,
		Cycles:  spec.Cycles,
		Count:   spec.Count,
		Repeat:  spec.Repeat,
		Timeout: spec.Timeout,
	}, nil
}
