// Package events implements the Event Engine: the delivery pipeline run
// each time the state machine reports a transition, its two out-of-band
// handlers (alert mail and remote telemetry), and the on-disk retry queue
// that absorbs handler failures.
//
// Grounded on original_source/src/event.c's _handleAction/_queueAdd/
// _queueProcess and the teacher's pkg/events.Broker publish/subscribe
// shape (generalized here from an in-memory fan-out into a durable,
// replayable delivery pipeline, since an Event Engine must survive a
// daemon restart between a failed delivery and its retry).
package events

import (
	"os"
	"time"

	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/types"
	"github.com/rs/zerolog"
)

// ActionRunner executes the side-effecting Action chosen for a transition.
// pkg/action implements this; Engine depends only on the interface to
// avoid an import cycle between the two packages.
type ActionRunner interface {
	Run(s *types.Service, a types.Action, ev *types.Event) error
}

// Handler delivers an Event out-of-band. Flag identifies which bit of
// types.Event.DeliveryFlags selects this handler.
type Handler interface {
	Name() string
	Flag() types.DeliveryHandler
	Deliver(s *types.Service, ev *types.Event) error
}

// Engine runs the delivery pipeline and owns the on-disk retry queue.
type Engine struct {
	dir      string
	slots    int
	runner   ActionRunner
	handlers []Handler
	mask     types.DeliveryHandler
	logger   zerolog.Logger
}

// NewEngine builds an Engine whose retry queue lives under dir, holding at
// most slots entries (0 = unbounded). handlers is tried in the given
// order on every delivery attempt.
func NewEngine(dir string, slots int, runner ActionRunner, handlers ...Handler) *Engine {
	var mask types.DeliveryHandler
	for _, h := range handlers {
		mask |= h.Flag()
	}
	return &Engine{
		dir:      dir,
		slots:    slots,
		runner:   runner,
		handlers: handlers,
		mask:     mask,
		logger:   log.WithComponent("events"),
	}
}

// Deliver runs the pipeline for a single transition: it logs the outcome,
// folds the transition into the Service's error/hint bitmaps, invokes the
// chosen Action, then attempts every registered Handler. Handlers that
// fail leave their bit set in ev.DeliveryFlags and the Event is queued to
// disk for Replay to retry on a later cycle.
func (e *Engine) Deliver(s *types.Service, ev *types.Event, action types.Action) {
	e.logger.Info().
		Str("service", s.Name).
		Str("rule", ev.Kind.String()).
		Str("outcome", ev.Outcome.String()).
		Str("action", string(action.Kind)).
		Msg("rule transition")

	s.SetErrorBit(ev.Kind, ev.Outcome == types.OutcomeFailed, ev.Outcome == types.OutcomeChanged)

	if action.Kind != types.ActionIgnore && action.Kind != types.ActionNone && e.runner != nil {
		if err := e.runner.Run(s, action, ev); err != nil {
			e.logger.Error().Err(err).Str("service", s.Name).Str("action", string(action.Kind)).
				Msg("action execution failed")
		}
	}

	if ev.DeliveryFlags == 0 {
		ev.DeliveryFlags = e.mask
	}
	remaining := e.attempt(s, ev)

	if remaining != 0 {
		ev.DeliveryFlags = remaining
		if err := e.enqueue(s.Name, ev, action.Kind); err != nil {
			e.logger.Error().Err(err).Str("service", s.Name).Msg("failed to queue event for retry")
		}
	}
	e.refreshDepthMetric()
}

// attempt runs every handler whose flag bit is still set in
// ev.DeliveryFlags and returns the bits that remain set after failures.
func (e *Engine) attempt(s *types.Service, ev *types.Event) types.DeliveryHandler {
	remaining := ev.DeliveryFlags
	for _, h := range e.handlers {
		if remaining&h.Flag() == 0 {
			continue
		}
		if err := h.Deliver(s, ev); err != nil {
			e.logger.Warn().Err(err).Str("handler", h.Name()).Str("service", s.Name).
				Msg("event handler delivery failed; will retry")
			metrics.EventDeliveryFailuresTotal.WithLabelValues(h.Name()).Inc()
			continue
		}
		remaining &^= h.Flag()
	}
	return remaining
}

// enqueue writes ev to a new queue file if the directory is reachable and
// under quota, mirroring event.c's _queueAdd.
func (e *Engine) enqueue(service string, ev *types.Event, action types.ActionKind) error {
	if e.dir == "" {
		return nil
	}
	if err := ensureQueueDir(e.dir); err != nil {
		return err
	}
	ok, err := withinQuota(e.dir, e.slots)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Error().Str("service", service).Msg("event queue over quota; dropping event")
		return nil
	}

	name := queueFileName(time.Now().Unix(), service)
	path := queuePath(e.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := encode(f, service, ev, action); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// Replay retries every queued event once. It is run at most once per
// cycle by the caller (the daemon's main loop), matching event.c's
// once-per-cycle _queueProcess call. A file whose version header does not
// match the current wire version, a file that cannot be decoded, and a
// file naming an unrecognized action kind are logged and discarded; a
// file that still fails after a retry is rewritten with its narrowed
// DeliveryFlags; a file that fully succeeds is deleted.
func (e *Engine) Replay(services map[string]*types.Service) {
	if e.dir == "" {
		return
	}
	names, err := listQueueFiles(e.dir)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to list event queue directory")
		return
	}

	for _, name := range names {
		path := queuePath(e.dir, name)
		if err := e.replayOne(path, services); err != nil {
			e.logger.Error().Err(err).Str("file", name).Msg("failed to replay queued event")
		}
	}
	e.refreshDepthMetric()
}

func (e *Engine) replayOne(path string, services map[string]*types.Service) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	q, err := decode(f)
	f.Close()
	if err != nil {
		if err == errVersionMismatch {
			e.logger.Warn().Str("file", path).Msg("discarding queue file with mismatched version")
			return os.Remove(path)
		}
		_ = os.Remove(path)
		return err
	}

	if !isKnownActionKind(q.Action) {
		e.logger.Warn().Str("file", path).Str("action", string(q.Action)).
			Msg("discarding queue file with unrecognized action kind")
		return os.Remove(path)
	}

	s, ok := services[q.Service]
	if !ok {
		// The service no longer exists in the running configuration; the
		// event cannot be meaningfully retried.
		return os.Remove(path)
	}

	ev := q.Event
	remaining := e.attempt(s, &ev)
	if remaining == 0 {
		return os.Remove(path)
	}

	ev.DeliveryFlags = remaining
	f2, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f2.Close()
	return encode(f2, q.Service, &ev, q.Action)
}

func (e *Engine) refreshDepthMetric() {
	if e.dir == "" {
		return
	}
	depth, err := queueDepth(e.dir)
	if err != nil {
		return
	}
	metrics.EventQueueDepth.Set(float64(depth))
}

func isKnownActionKind(k types.ActionKind) bool {
	switch k {
	case types.ActionIgnore, types.ActionAlert, types.ActionRestart, types.ActionStop,
		types.ActionExec, types.ActionUnmonitor, types.ActionStart, types.ActionMonitor, types.ActionNone:
		return true
	default:
		return false
	}
}
