package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
)

// RemoteHandler posts a transition as JSON to a remote telemetry
// collector, grounded on original_source's mmonit.c M/Monit HTTP
// reporting client (generalized here from that single vendor's wire
// format into a plain JSON POST, since the spec names no specific remote
// collector product).
type RemoteHandler struct {
	Endpoint string
	Hostname string
	Client   *http.Client
}

// NewRemoteHandler builds a RemoteHandler posting to endpoint with a
// bounded-timeout client.
func NewRemoteHandler(endpoint, hostname string) *RemoteHandler {
	return &RemoteHandler{
		Endpoint: endpoint,
		Hostname: hostname,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *RemoteHandler) Name() string               { return "remote" }
func (r *RemoteHandler) Flag() types.DeliveryHandler { return types.HandlerRemote }

type remotePayload struct {
	EventID     string    `json:"event_id"`
	Host        string    `json:"host"`
	Service     string    `json:"service"`
	Rule        string    `json:"rule"`
	Outcome     string    `json:"outcome"`
	Message     string    `json:"message,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// Deliver posts ev as JSON to r.Endpoint. A non-2xx response or transport
// error is returned so the caller retries on a later cycle. Every attempt,
// including a retry of the same Event, carries a freshly generated
// EventID.
func (r *RemoteHandler) Deliver(s *types.Service, ev *types.Event) error {
	if r.Endpoint == "" {
		return nil
	}
	payload := remotePayload{
		EventID:     uuid.New().String(),
		Host:        r.Hostname,
		Service:     s.Name,
		Rule:        ev.Kind.String(),
		Outcome:     ev.Outcome.String(),
		Message:     ev.Message,
		CollectedAt: ev.CollectedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshaling remote payload: %w", err)
	}

	resp, err := r.Client.Post(r.Endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("events: posting to remote collector: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("events: remote collector returned %s", resp.Status)
	}
	return nil
}
