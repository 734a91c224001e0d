package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeClientTestConfig(t *testing.T, addr string) string {
	t.Helper()
	dir := t.TempDir()
	yaml := `
daemon:
  data_dir: ` + dir + `
  control:
    addr: ` + addr + `
    credentials:
      - username: admin
        password: secret
`
	path := filepath.Join(dir, "warden.yml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestNewControlClientResolvesAddrAndCredentials(t *testing.T) {
	cfgPath := writeClientTestConfig(t, "127.0.0.1:2812")

	client, err := newControlClient(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:2812", client.baseURL)
	assert.Equal(t, "admin", client.username)
	assert.Equal(t, "secret", client.password)
}

func TestControlClientStatusSingleService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_status", r.URL.Path)
		assert.Equal(t, "web", r.URL.Query().Get("service"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"web","type":"process","mode":"active","state":"yes","error_bits":0,"restart_attempts":0}`))
	}))
	defer srv.Close()

	cfgPath := writeClientTestConfig(t, srv.Listener.Addr().String())
	client, err := newControlClient(cfgPath)
	require.NoError(t, err)
	client.baseURL = "http://" + srv.Listener.Addr().String()

	rows, err := client.Status("web")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "web", rows[0].Name)
	assert.Equal(t, "yes", rows[0].State)
}

func TestControlClientDoActionSendsExpectedRoute(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotMethod = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfgPath := writeClientTestConfig(t, srv.Listener.Addr().String())
	client, err := newControlClient(cfgPath)
	require.NoError(t, err)
	client.baseURL = "http://" + srv.Listener.Addr().String()

	require.NoError(t, client.DoAction("web", "restart"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/web?action=restart", gotPath)
}

func TestControlClientRuntimeNonAcceptedStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "action must be stop, validate or reload", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfgPath := writeClientTestConfig(t, srv.Listener.Addr().String())
	client, err := newControlClient(cfgPath)
	require.NoError(t, err)
	client.baseURL = "http://" + srv.Listener.Addr().String()

	err = client.Runtime("bogus")
	assert.Error(t, err)
}

func TestResolveTargetsExpandsAllWithinGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"name":"web","group":"frontend","type":"process","state":"yes"},
			{"name":"db","group":"backend","type":"process","state":"yes"}
		]`))
	}))
	defer srv.Close()

	cfgPath := writeClientTestConfig(t, srv.Listener.Addr().String())
	client, err := newControlClient(cfgPath)
	require.NoError(t, err)
	client.baseURL = "http://" + srv.Listener.Addr().String()

	targets, err := resolveTargets(client, "all", "frontend")
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, targets)
}

func TestResolveTargetsSingleNameBypassesSummary(t *testing.T) {
	client := &controlClient{baseURL: "http://unreachable.invalid:0"}
	targets, err := resolveTargets(client, "web", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, targets)
}
