// Package control implements the Control Surface: the signal- and
// HTTP-driven façade that lets an operator or another collaborator
// request a reload, a wakeup, a shutdown, or a per-service action
// without ever touching a Service outside its own Worker's cycle.
//
// Grounded on spec.md §4.8/§6 directly for the Run-flags set, the
// signal set and the HTTP endpoint/verb list; the chi router and
// middleware composition follow tomtom215-cartographus's
// internal/api/chi_router.go (r.Use/r.Route/r.Get/r.Post nesting) and
// aristath-portfolioManager's handler shape.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/rulegraph"
	"github.com/cuemby/warden/pkg/types"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Server is the HTTP half of the Control Surface. It never runs an
// action itself; GET handlers render Graph state and POST handlers
// either flip a Flags bit or queue a Service's pending_action for the
// next cycle to drain.
type Server struct {
	graph  *rulegraph.Graph
	flags  *Flags
	auth   *Authenticator
	logger zerolog.Logger
	http   *http.Server
}

// NewServer builds a Server bound to addr. graph and flags are shared
// with the daemon's cycle driver; auth is consulted by every route.
func NewServer(addr string, graph *rulegraph.Graph, flags *Flags, auth *Authenticator) *Server {
	s := &Server{
		graph:  graph,
		flags:  flags,
		auth:   auth,
		logger: log.WithComponent("control"),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.auth.Middleware)

	r.Get("/_status", s.handleStatus)
	r.Get("/_summary", s.handleSummary)
	r.Get("/_report", s.handleReport)
	r.Get("/_runtime", s.handleRuntimeGet)

	r.With(RequireWrite).Post("/_doaction", s.handleDoAction)
	r.With(RequireWrite).Post("/_runtime", s.handleRuntimePost)
	r.With(RequireWrite).Post("/{service}", s.handleServiceAction)

	return r
}

// Serve starts accepting connections; it blocks until the server is
// shut down and returns http.ErrServerClosed on a clean Shutdown.
func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("control surface listening")
	return s.http.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests, used by both the
// `reload` and `stop` Run-flag handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

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

func toServiceStatus(s *types.Service) serviceStatus {
	return serviceStatus{
		Name:            s.Name,
		Group:           s.Group,
		Type:            string(s.Type),
		Mode:            string(s.Mode),
		State:           string(s.State),
		Pending:         string(s.Pending),
		PID:             s.PID,
		ErrorBits:       s.ErrorBits,
		RestartAttempts: s.RestartAttempts,
	}
}

// handleStatus renders full per-Service detail for every Service, or
// for a single one when ?service= is given.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("service"); name != "" {
		svc, ok := s.graph.Get(name)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown service %q", name), http.StatusNotFound)
			return
		}
		writeJSON(w, toServiceStatus(svc))
		return
	}

	all := s.graph.All()
	out := make([]serviceStatus, 0, len(all))
	for _, svc := range all {
		out = append(out, toServiceStatus(svc))
	}
	writeJSON(w, out)
}

type summaryLine struct {
	Name  string `json:"name"`
	Group string `json:"group,omitempty"`
	Type  string `json:"type"`
	State string `json:"state"`
}

// handleSummary renders a terse one-line-per-Service view, the HTTP
// analogue of `warden summary`.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	all := s.graph.All()
	out := make([]summaryLine, 0, len(all))
	for _, svc := range all {
		out = append(out, summaryLine{Name: svc.Name, Group: svc.Group, Type: string(svc.Type), State: string(svc.State)})
	}
	writeJSON(w, out)
}

// handleReport renders Service counts bucketed by monitoring state,
// optionally filtered by a single bucket via ?filter=, the HTTP
// analogue of `warden report [up|down|initializing|unmonitored|total]`.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	for _, svc := range s.graph.All() {
		switch {
		case svc.State == types.StateNotMonitored:
			counts["unmonitored"]++
		case svc.State == types.StateInit || svc.State == types.StateWaiting:
			counts["initializing"]++
		case svc.ErrorBits != 0:
			counts["down"]++
		default:
			counts["up"]++
		}
		counts["total"]++
	}

	if filter := r.URL.Query().Get("filter"); filter != "" {
		writeJSON(w, map[string]int{filter: counts[filter]})
		return
	}
	writeJSON(w, counts)
}

type runtimeStatus struct {
	Stopped       bool `json:"stopped"`
	ActionPending bool `json:"action_pending"`
}

// handleRuntimeGet renders the current Run flags.
func (s *Server) handleRuntimeGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, runtimeStatus{
		Stopped:       s.flags.Stopped(),
		ActionPending: s.flags.ActionPending(),
	})
}

// handleRuntimePost implements POST /_runtime?action={stop,validate,reload}:
// stop requests graceful shutdown, validate forces an immediate cycle
// (the HTTP analogue of SIGUSR1), reload rebuilds the Rule Graph from
// the control file (the HTTP analogue of SIGHUP).
func (s *Server) handleRuntimePost(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("action") {
	case "stop":
		s.flags.Stop()
	case "validate":
		s.flags.Wakeup()
	case "reload":
		s.flags.Reload()
	default:
		http.Error(w, "action must be stop, validate or reload", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleDoAction implements POST /_doaction?action=...&service=....
func (s *Server) handleDoAction(w http.ResponseWriter, r *http.Request) {
	s.dispatchAction(w, r.URL.Query().Get("service"), r.URL.Query().Get("action"))
}

// handleServiceAction implements POST /{service}?action=....
func (s *Server) handleServiceAction(w http.ResponseWriter, r *http.Request) {
	s.dispatchAction(w, chi.URLParam(r, "service"), r.URL.Query().Get("action"))
}

func (s *Server) dispatchAction(w http.ResponseWriter, service, action string) {
	if service == "" {
		http.Error(w, "service is required", http.StatusBadRequest)
		return
	}
	kind := types.ActionKind(action)
	switch kind {
	case types.ActionStart, types.ActionStop, types.ActionRestart, types.ActionMonitor, types.ActionUnmonitor:
	default:
		http.Error(w, fmt.Sprintf("unsupported action %q", action), http.StatusBadRequest)
		return
	}

	if err := s.graph.RequestAction(service, kind); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.flags.SetActionPending(true)
	s.logger.Info().Str("service", service).Str("action", action).Msg("action queued")
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
