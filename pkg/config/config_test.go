package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
daemon:
  poll_interval: 10s
  data_dir: /tmp/warden-test
  control:
    addr: 127.0.0.1:2812
    credentials:
      - username: admin
        password: secret

services:
  - name: db
    type: process
    start: ["/usr/sbin/postgres"]
    stop: ["/usr/bin/pg_ctl", "stop"]
    rules:
      - kind: pid
        failed:
          kind: restart

  - name: api
    type: process
    depends_on: ["db"]
    start: ["/usr/bin/api-server"]
    rules:
      - kind: port
        operator: "=="
        threshold: "127.0.0.1:8080"
        failed:
          kind: restart
          cycles: 3
          count: 2
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesServicesAndDependencies(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	db, ok := cfg.Graph.Get("db")
	require.True(t, ok)
	assert.Equal(t, types.ServiceTypeProcess, db.Type)
	require.Len(t, db.Rules, 1)
	assert.Equal(t, types.RuleKindPID, db.Rules[0].Kind)
	assert.Equal(t, types.ActionRestart, db.Rules[0].Binding.Failed.Kind)

	api, ok := cfg.Graph.Get("api")
	require.True(t, ok)
	assert.Equal(t, []string{"db"}, api.Dependants)
	assert.Equal(t, 3, api.Rules[0].Binding.Failed.Cycles)
}

func TestLoadAppliesDaemonDefaults(t *testing.T) {
	path := writeTempConfig(t, "services: []\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2812", cfg.Daemon.Control.Addr)
	assert.Equal(t, 4, cfg.Daemon.Workers)
}

func TestLoadRejectsUnknownDependency(t *testing.T) {
	path := writeTempConfig(t, `
services:
  - name: api
    type: process
    depends_on: ["ghost"]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateServiceName(t *testing.T) {
	path := writeTempConfig(t, `
services:
  - name: dup
    type: process
  - name: dup
    type: process
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownServiceType(t *testing.T) {
	path := writeTempConfig(t, `
services:
  - name: x
    type: spaceship
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
