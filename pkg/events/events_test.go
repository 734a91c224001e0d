package events

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls []types.ActionKind
	err   error
}

func (f *fakeRunner) Run(s *types.Service, a types.Action, ev *types.Event) error {
	f.calls = append(f.calls, a.Kind)
	return f.err
}

type fakeHandler struct {
	name string
	flag types.DeliveryHandler
	fail bool
	got  []*types.Event
}

func (h *fakeHandler) Name() string               { return h.name }
func (h *fakeHandler) Flag() types.DeliveryHandler { return h.flag }
func (h *fakeHandler) Deliver(s *types.Service, ev *types.Event) error {
	h.got = append(h.got, ev)
	if h.fail {
		return assert.AnError
	}
	return nil
}

func newTestService() *types.Service {
	return &types.Service{Name: "nginx", Events: map[types.EventKey]*types.Event{}}
}

func TestDeliverUpdatesErrorBitsAndRunsAction(t *testing.T) {
	s := newTestService()
	runner := &fakeRunner{}
	alert := &fakeHandler{name: "alert", flag: types.HandlerAlert}
	remote := &fakeHandler{name: "remote", flag: types.HandlerRemote}
	e := NewEngine(t.TempDir(), 0, runner, alert, remote)

	ev := &types.Event{Service: s.Name, Kind: types.RuleKindCPU, Outcome: types.OutcomeFailed}
	e.Deliver(s, ev, types.Action{Kind: types.ActionAlert})

	assert.True(t, s.HasErrorBit(types.RuleKindCPU))
	assert.Equal(t, []types.ActionKind{types.ActionAlert}, runner.calls)
	assert.Len(t, alert.got, 1)
	assert.Len(t, remote.got, 1)
}

func TestDeliverQueuesOnHandlerFailure(t *testing.T) {
	s := newTestService()
	alert := &fakeHandler{name: "alert", flag: types.HandlerAlert, fail: true}
	dir := t.TempDir()
	e := NewEngine(dir, 0, nil, alert)

	ev := &types.Event{Service: s.Name, Kind: types.RuleKindCPU, Outcome: types.OutcomeFailed}
	e.Deliver(s, ev, types.Action{Kind: types.ActionAlert})

	depth, err := queueDepth(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestReplaySucceedsAndRemovesFile(t *testing.T) {
	s := newTestService()
	dir := t.TempDir()
	alert := &fakeHandler{name: "alert", flag: types.HandlerAlert, fail: true}
	e := NewEngine(dir, 0, nil, alert)

	ev := &types.Event{Service: s.Name, Kind: types.RuleKindCPU, Outcome: types.OutcomeFailed}
	e.Deliver(s, ev, types.Action{Kind: types.ActionAlert})
	require.Equal(t, 1, mustDepth(t, dir))

	alert.fail = false
	e.Replay(map[string]*types.Service{s.Name: s})
	assert.Equal(t, 0, mustDepth(t, dir))
	assert.Len(t, alert.got, 2) // once on Deliver (failed), once on Replay (succeeded)
}

func TestReplayDiscardsUnknownService(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(dir, 0, nil)

	s := newTestService()
	ev := &types.Event{Service: "ghost", Kind: types.RuleKindCPU, Outcome: types.OutcomeFailed,
		DeliveryFlags: types.HandlerAlert}
	require.NoError(t, e.enqueue("ghost", ev, types.ActionAlert))
	require.Equal(t, 1, mustDepth(t, dir))

	e.Replay(map[string]*types.Service{s.Name: s})
	assert.Equal(t, 0, mustDepth(t, dir), "queue entry for a service no longer configured must be dropped")
}

func TestWireRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry")
	f, err := os.Create(path)
	require.NoError(t, err)

	ev := &types.Event{
		Kind: types.RuleKindMemory, Outcome: types.OutcomeChanged,
		Message: "memory usage changed", StateMap: 0b1011, Repeat: 2,
		DeliveryFlags: types.HandlerAlert | types.HandlerRemote,
	}
	require.NoError(t, encode(f, "redis", ev, types.ActionRestart))
	f.Close()

	f2, err := os.Open(path)
	require.NoError(t, err)
	defer f2.Close()

	got, err := decode(f2)
	require.NoError(t, err)
	assert.Equal(t, "redis", got.Service)
	assert.Equal(t, types.ActionRestart, got.Action)
	assert.Equal(t, ev.Kind, got.Event.Kind)
	assert.Equal(t, ev.Outcome, got.Event.Outcome)
	assert.Equal(t, ev.Message, got.Event.Message)
	assert.Equal(t, ev.StateMap, got.Event.StateMap)
	assert.Equal(t, ev.Repeat, got.Event.Repeat)
}

func TestRemoteHandlerPostsJSON(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewRemoteHandler(srv.URL, "testhost")
	s := newTestService()
	ev := &types.Event{Kind: types.RuleKindPort, Outcome: types.OutcomeFailed}
	require.NoError(t, h.Deliver(s, ev))
	assert.Equal(t, "/", gotPath)
}

func mustDepth(t *testing.T, dir string) int {
	t.Helper()
	depth, err := queueDepth(dir)
	require.NoError(t, err)
	return depth
}
