package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/warden/pkg/config"
)

// serviceStatus mirrors pkg/control's unexported wire shape for
// GET /_status.
type serviceStatus struct {
	Name            string `json:"name"`
	Group           string `json:"group,omitempty"`
	Type            string `json:"type"`
	Mode            string `json:"mode"`
	State           string `json:"state"`
	Pending         string `json:"pending_action,omitempty"`
	PID             int    `json:"pid,omitempty"`
	ErrorBits       uint64 `json:"error_bits"`
	RestartAttempts int    `json:"restart_attempts"`
}

// summaryLine mirrors pkg/control's GET /_summary wire shape.
type summaryLine struct {
	Name  string `json:"name"`
	Group string `json:"group,omitempty"`
	Type  string `json:"type"`
	State string `json:"state"`
}

// controlClient is a thin HTTP client against a running daemon's
// Control Surface, grounded on the same request/response shapes
// pkg/control/server.go serves.
type controlClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// newControlClient resolves a running daemon's control-surface address
// from the same control file the daemon itself loads, and picks the
// first non-read-only credential (if any) for requests that mutate state.
func newControlClient(cfgPath string) (*controlClient, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading control file: %w", err)
	}

	c := &controlClient{
		baseURL: "http://" + cfg.Daemon.Control.Addr,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, cred := range cfg.Daemon.Control.Credentials {
		if !cred.ReadOnly {
			c.username, c.password = cred.Username, cred.Password
			break
		}
	}
	return c, nil
}

func (c *controlClient) do(method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting control surface at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

func (c *controlClient) getJSON(path string, out interface{}) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return remoteError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *controlClient) post(path string) error {
	resp, err := c.do(http.MethodPost, path, []byte{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return remoteError(resp)
	}
	return nil
}

func remoteError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("control surface returned %s: %s", resp.Status, string(data))
}

func (c *controlClient) Status(name string) ([]serviceStatus, error) {
	path := "/_status"
	if name != "" {
		path += "?service=" + name
		var single serviceStatus
		if err := c.getJSON(path, &single); err != nil {
			return nil, err
		}
		return []serviceStatus{single}, nil
	}
	var all []serviceStatus
	if err := c.getJSON(path, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (c *controlClient) Summary() ([]summaryLine, error) {
	var out []summaryLine
	if err := c.getJSON("/_summary", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) Report(filter string) (map[string]int, error) {
	path := "/_report"
	if filter != "" {
		path += "?filter=" + filter
	}
	out := map[string]int{}
	if err := c.getJSON(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) DoAction(service, action string) error {
	return c.post(fmt.Sprintf("/%s?action=%s", service, action))
}

func (c *controlClient) Runtime(action string) error {
	return c.post("/_runtime?action=" + action)
}
