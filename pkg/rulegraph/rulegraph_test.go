package rulegraph

import (
	"fmt"
	"testing"

	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController records every call made against it and lets tests force
// a named service to fail its Start/Stop leg.
type fakeController struct {
	started  []string
	stopped  []string
	restarted []string
	monitored []string
	unmonitored []string
	failStart map[string]bool
	failStop  map[string]bool
}

func newFakeController() *fakeController {
	return &fakeController{
		failStart: map[string]bool{},
		failStop:  map[string]bool{},
	}
}

func (f *fakeController) Start(s *types.Service, ev *types.Event) error {
	f.started = append(f.started, s.Name)
	if f.failStart[s.Name] {
		return fmt.Errorf("fake: %s failed to start", s.Name)
	}
	s.State = types.StateYes
	s.ErrorBits = 0
	return nil
}

func (f *fakeController) Stop(s *types.Service, ev *types.Event, unmonitor bool) error {
	f.stopped = append(f.stopped, s.Name)
	if f.failStop[s.Name] {
		return fmt.Errorf("fake: %s failed to stop", s.Name)
	}
	if unmonitor {
		s.State = types.StateNotMonitored
	} else {
		s.State = types.StateInit
	}
	return nil
}

func (f *fakeController) Restart(s *types.Service, ev *types.Event) error {
	f.restarted = append(f.restarted, s.Name)
	s.State = types.StateYes
	return nil
}

func (f *fakeController) Monitor(s *types.Service) {
	f.monitored = append(f.monitored, s.Name)
	s.State = types.StateInit
}

func (f *fakeController) Unmonitor(s *types.Service) {
	f.unmonitored = append(f.unmonitored, s.Name)
	s.State = types.StateNotMonitored
}

// buildChain wires db <- api <- web, where Dependants lists the services a
// given service depends on (its prerequisites): web depends on api, api
// depends on db.
func buildChain() *Graph {
	g := New()
	g.Add(&types.Service{Name: "db", State: types.StateNotMonitored})
	g.Add(&types.Service{Name: "api", State: types.StateNotMonitored, Dependants: []string{"db"}})
	g.Add(&types.Service{Name: "web", State: types.StateNotMonitored, Dependants: []string{"api"}})
	return g
}

func TestStartWalksPrerequisitesPostOrder(t *testing.T) {
	g := buildChain()
	c := newFakeController()

	require.NoError(t, g.Start(c, "web"))
	assert.Equal(t, []string{"db", "api", "web"}, c.started)
}

func TestStartFailsWithoutStartingDependantWhenPrerequisiteFails(t *testing.T) {
	g := buildChain()
	c := newFakeController()
	c.failStart["db"] = true

	err := g.Start(c, "web")
	assert.Error(t, err)
	assert.Equal(t, []string{"db"}, c.started, "api and web must not start once db fails")

	web, _ := g.Get("web")
	assert.Equal(t, types.ActionStart, web.Pending, "web should be retried next cycle")
}

func TestStopCascadesToDependantsBottomUpBeforeTarget(t *testing.T) {
	g := buildChain()
	for _, name := range []string{"db", "api", "web"} {
		s, _ := g.Get(name)
		s.State = types.StateYes
	}
	c := newFakeController()

	require.NoError(t, g.Stop(c, "db", true))
	assert.Equal(t, []string{"web", "api", "db"}, c.stopped, "leaf dependant stops first, target stops last")
}

func TestStopLeavesTargetRunningWhenDependantFailsToStop(t *testing.T) {
	g := buildChain()
	for _, name := range []string{"db", "api", "web"} {
		s, _ := g.Get(name)
		s.State = types.StateYes
	}
	c := newFakeController()
	c.failStop["api"] = true

	err := g.Stop(c, "db", true)
	assert.Error(t, err)
	assert.Equal(t, []string{"web", "api"}, c.stopped, "db must not be stopped once a dependant fails")
}

func TestRestartWithoutExplicitCommandStopsDependantsFirstThenStartsThenCascades(t *testing.T) {
	g := buildChain()
	for _, name := range []string{"db", "api", "web"} {
		s, _ := g.Get(name)
		s.State = types.StateYes
	}
	c := newFakeController()

	require.NoError(t, g.Restart(c, "db"))
	// Scenario 4: dependants stop leaf-first, then the target's own
	// stop+start fallback runs, then dependants start back nearest-first.
	assert.Equal(t, []string{"web", "api", "db"}, c.stopped, "dependants must stop before the target restarts")
	assert.Equal(t, []string{"db", "api", "web"}, c.started, "target restarts before dependants cascade back up")
}

func TestRestartReEnablesMonitoringWhenStopLegFails(t *testing.T) {
	g := buildChain()
	db, _ := g.Get("db")
	db.State = types.StateYes
	c := newFakeController()
	c.failStop["db"] = true

	err := g.Restart(c, "db")
	assert.Error(t, err)
	assert.Equal(t, []string{"db"}, c.monitored, "monitoring must be re-enabled so the next cycle retries")
	assert.Empty(t, c.started, "must not attempt to start after a failed stop leg")
}

func TestRestartPrefersExplicitRestartCommand(t *testing.T) {
	g := buildChain()
	web, _ := g.Get("web")
	web.RestartCommand = []string{"/bin/true"}
	c := newFakeController()

	require.NoError(t, g.Restart(c, "web"))
	assert.Equal(t, []string{"web"}, c.restarted)
	assert.Empty(t, c.stopped, "explicit restart command bypasses the stop/start fallback")
}

func TestMonitorOnlyWalksPrerequisitesNotDependants(t *testing.T) {
	g := buildChain()
	c := newFakeController()

	require.NoError(t, g.Monitor(c, "api"))
	assert.ElementsMatch(t, []string{"db", "api"}, c.monitored, "web depends on api but must not be touched")
}

func TestUnmonitorCascadesToAllDependants(t *testing.T) {
	g := buildChain()
	c := newFakeController()

	require.NoError(t, g.Unmonitor(c, "db"))
	assert.ElementsMatch(t, []string{"web", "api", "db"}, c.unmonitored)
}

func TestChildrenOfIgnoresUnrelatedServices(t *testing.T) {
	g := buildChain()
	g.Add(&types.Service{Name: "standalone"})

	children := g.childrenOf("db")
	require.Len(t, children, 1)
	assert.Equal(t, "api", children[0].Name)
}
