// Package rulegraph holds the DAG of Services and implements the
// traversal policies that walk it for Start, Stop, Restart, Monitor and
// Unmonitor: a Service's Dependants names the prerequisites it depends
// on, so Start walks upward (post-order over parents) while Stop,
// Unmonitor and the Restart cascade walk downward over the services that
// in turn depend on the target.
//
// Grounded on original_source/src/control.c's _doStart (upward,
// post-order), _doDepend (downward cascade for Stop/Unmonitor/the
// post-restart Start), _doMonitor (upward-only) and _doUnmonitor
// (downward cascade); the Graph's read-mostly-map-under-a-mutex shape
// follows the teacher's pkg/reconciler.Reconciler.
package rulegraph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/types"
	"github.com/rs/zerolog"
)

// Controller performs the actual side effects a traversal schedules.
// pkg/action.Engine implements this; Graph depends only on the interface
// to avoid an import cycle.
type Controller interface {
	Start(s *types.Service, ev *types.Event) error
	Stop(s *types.Service, ev *types.Event, unmonitor bool) error
	Restart(s *types.Service, ev *types.Event) error
	Monitor(s *types.Service)
	Unmonitor(s *types.Service)
}

// Graph owns the full set of configured Services, keyed by name.
type Graph struct {
	mu       sync.RWMutex
	services map[string]*types.Service
	logger   zerolog.Logger
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		services: make(map[string]*types.Service),
		logger:   log.WithComponent("rulegraph"),
	}
}

// Add inserts or replaces a Service by name.
func (g *Graph) Add(s *types.Service) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.services[s.Name] = s
}

// Remove drops a Service from the graph.
func (g *Graph) Remove(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.services, name)
}

// Get returns the named Service.
func (g *Graph) Get(name string) (*types.Service, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.services[name]
	return s, ok
}

// All returns every Service, sorted by name for deterministic iteration
// (cycle order, status/report rendering).
func (g *Graph) All() []*types.Service {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*types.Service, 0, len(g.services))
	for _, s := range g.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (g *Graph) lookup(name string) (*types.Service, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.services[name]
	return s, ok
}

// RequestAction queues action onto name's pending_action field for the
// next cycle to drain, the only mutation the Control Surface is allowed
// to make directly against a Service per spec.md §5's "the Control
// Surface mutates only pending_action under the same mutex" rule.
func (g *Graph) RequestAction(name string, action types.ActionKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.services[name]
	if !ok {
		return fmt.Errorf("rulegraph: unknown service %q", name)
	}
	s.Pending = action
	return nil
}

// DrainPending returns every Service with a non-None pending_action, for
// the daemon's cycle driver to dispatch; the caller is responsible for
// resetting each Service's Pending field once its action is handled.
func (g *Graph) DrainPending() []*types.Service {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*types.Service
	for _, s := range g.services {
		if s.Pending != types.ActionNone {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// childrenOf returns the Services that directly depend on name (name
// appears in their Dependants list), sorted by name for determinism.
func (g *Graph) childrenOf(name string) []*types.Service {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*types.Service
	for _, s := range g.services {
		for _, dep := range s.Dependants {
			if dep == name {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start starts name, first starting (post-order) any prerequisite in its
// Dependants list that is not currently monitored cleanly. A prerequisite
// that fails to start leaves name's Pending field set to ActionStart so
// the next cycle retries, matching _doStart's "retry the start next
// cycle" fallback.
func (g *Graph) Start(c Controller, name string) error {
	return g.doStart(c, name, make(map[string]bool))
}

func (g *Graph) doStart(c Controller, name string, visited map[string]bool) error {
	if visited[name] {
		return nil
	}
	visited[name] = true

	s, ok := g.lookup(name)
	if !ok {
		return fmt.Errorf("rulegraph: unknown service %q", name)
	}

	var failed []string
	for _, parentName := range s.Dependants {
		parent, ok := g.lookup(parentName)
		if !ok {
			continue
		}
		if parent.State != types.StateYes || parent.ErrorBits != 0 {
			if err := g.doStart(c, parentName, visited); err != nil {
				failed = append(failed, parentName)
			}
		}
	}
	if len(failed) > 0 {
		s.Pending = types.ActionStart
		return fmt.Errorf("rulegraph: %s: prerequisite services failed to start: %s", name, strings.Join(failed, ", "))
	}
	s.Pending = types.ActionNone
	return c.Start(s, nil)
}

// Stop stops name after stopping, bottom-up, every Service that
// (transitively) depends on it, matching _doDepend(s, Action_Stop,
// unmonitor) followed by _doStop(s, unmonitor). If any dependant fails to
// stop, name itself is left running, since stopping it first would orphan
// a dependant that is still up.
func (g *Graph) Stop(c Controller, name string, unmonitor bool) error {
	ok := g.stopDependants(c, name, unmonitor, make(map[string]bool))
	s, found := g.lookup(name)
	if !found {
		return fmt.Errorf("rulegraph: unknown service %q", name)
	}
	if !ok {
		return fmt.Errorf("rulegraph: %s: one or more dependants failed to stop; leaving it running", name)
	}
	return c.Stop(s, nil, unmonitor)
}

func (g *Graph) stopDependants(c Controller, name string, unmonitor bool, visited map[string]bool) bool {
	ok := true
	for _, child := range g.childrenOf(name) {
		if visited[child.Name] {
			continue
		}
		visited[child.Name] = true
		if !g.stopDependants(c, child.Name, unmonitor, visited) {
			ok = false
			continue
		}
		if child.State == types.StateNotMonitored {
			continue
		}
		if err := c.Stop(child, nil, unmonitor); err != nil {
			g.logger.Warn().Err(err).Str("service", child.Name).Msg("failed to stop dependant")
			ok = false
		}
	}
	return ok
}

// Restart stops every dependant, bottom-up, then prefers name's own
// restart command; failing that it stops (keeping monitoring enabled)
// and starts name again. Either way, dependants are started back up
// only after name itself is confirmed up, matching control.c's
// "stop over dependants, then restart, then start over dependants"
// sequence. If the dependant-stop pass fails, name is left running and an
// error is returned. If the fallback stop leg fails, monitoring is
// re-enabled so the next cycle retries rather than leaving the service
// permanently unmonitored.
func (g *Graph) Restart(c Controller, name string) error {
	s, ok := g.lookup(name)
	if !ok {
		return fmt.Errorf("rulegraph: unknown service %q", name)
	}

	if !g.stopDependants(c, name, false, make(map[string]bool)) {
		return fmt.Errorf("rulegraph: %s: one or more dependants failed to stop; leaving it running", name)
	}

	if len(s.RestartCommand) > 0 {
		if err := c.Restart(s, nil); err != nil {
			return err
		}
		g.cascadeStart(c, name)
		return nil
	}

	if err := c.Stop(s, nil, false); err != nil {
		c.Monitor(s)
		return fmt.Errorf("rulegraph: %s: restart's stop leg failed, will retry: %w", name, err)
	}
	if err := c.Start(s, nil); err != nil {
		return err
	}
	g.cascadeStart(c, name)
	return nil
}

// cascadeStart starts every (transitive) dependant of name, nearest first,
// mirroring stopDependants' recursive walk so a restart's "start over
// dependants" leg reaches the whole chain, not just name's direct children.
func (g *Graph) cascadeStart(c Controller, name string) {
	g.doCascadeStart(c, name, make(map[string]bool))
}

func (g *Graph) doCascadeStart(c Controller, name string, visited map[string]bool) {
	for _, child := range g.childrenOf(name) {
		if visited[child.Name] {
			continue
		}
		if err := g.doStart(c, child.Name, visited); err != nil {
			g.logger.Warn().Err(err).Str("service", child.Name).Msg("failed to start dependant after restart")
			continue
		}
		g.doCascadeStart(c, child.Name, visited)
	}
}

// Monitor enables monitoring for name and, recursively post-order, every
// prerequisite in its Dependants chain. Services that depend on name are
// left untouched, matching _doMonitor's upward-only walk.
func (g *Graph) Monitor(c Controller, name string) error {
	return g.doMonitor(c, name, make(map[string]bool))
}

func (g *Graph) doMonitor(c Controller, name string, visited map[string]bool) error {
	if visited[name] {
		return nil
	}
	visited[name] = true

	s, ok := g.lookup(name)
	if !ok {
		return fmt.Errorf("rulegraph: unknown service %q", name)
	}
	for _, parentName := range s.Dependants {
		if err := g.doMonitor(c, parentName, visited); err != nil {
			return err
		}
	}
	c.Monitor(s)
	return nil
}

// Unmonitor disables monitoring for name and, recursively, every Service
// that (transitively) depends on it, matching _doDepend(s,
// Action_Unmonitor, false) followed by _doUnmonitor(s).
func (g *Graph) Unmonitor(c Controller, name string) error {
	g.cascadeUnmonitor(c, name, make(map[string]bool))
	s, ok := g.lookup(name)
	if !ok {
		return fmt.Errorf("rulegraph: unknown service %q", name)
	}
	c.Unmonitor(s)
	return nil
}

func (g *Graph) cascadeUnmonitor(c Controller, name string, visited map[string]bool) {
	for _, child := range g.childrenOf(name) {
		if visited[child.Name] {
			continue
		}
		visited[child.Name] = true
		g.cascadeUnmonitor(c, child.Name, visited)
		c.Unmonitor(child)
	}
}
