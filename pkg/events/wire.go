package events

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/warden/pkg/types"
)

// wireVersion gates the on-disk queue file format. A file written by a
// different version is discarded rather than misparsed, mirroring
// original_source/src/event.c's EVENT_VERSION check in its queue replay
// loop.
const wireVersion uint32 = 1

// wireRecord is the fixed-width projection of types.Event written to a
// queue file, grounded on event.c's _queueAdd/_queueUpdate field order:
// version, event struct, source name, message, action. Strings are not
// fixed-width in Go the way they are in the C struct, so they are written
// as separate NUL-terminated sections following the fixed header, per
// SPEC_FULL.md 3's documented wire layout.
type wireRecord struct {
	Kind          int32
	Outcome       int32
	CollectedAt   int64 // UnixNano
	StateMap      uint64
	DeliveryFlags int32
	Repeat        int32
}

// QueuedEvent is a deserialized queue file: the Event it carries, plus the
// service name and pending action-kind recorded alongside it (the C
// original stores these out-of-struct too, since Event_T does not own a
// Service pointer that survives a restart).
type QueuedEvent struct {
	Service string
	Event   types.Event
	Action  types.ActionKind
}

// encode writes version, the fixed Event header, the NUL-terminated
// service name and message, and the NUL-terminated action kind, in that
// order, big-endian throughout.
func encode(w io.Writer, service string, ev *types.Event, action types.ActionKind) error {
	if err := binary.Write(w, binary.BigEndian, wireVersion); err != nil {
		return fmt.Errorf("events: writing version: %w", err)
	}
	rec := wireRecord{
		Kind:          int32(ev.Kind),
		Outcome:       int32(ev.Outcome),
		CollectedAt:   ev.CollectedAt.UnixNano(),
		StateMap:      ev.StateMap,
		DeliveryFlags: int32(ev.DeliveryFlags),
		Repeat:        int32(ev.Repeat),
	}
	if err := binary.Write(w, binary.BigEndian, rec); err != nil {
		return fmt.Errorf("events: writing event header: %w", err)
	}
	if err := writeCString(w, service); err != nil {
		return fmt.Errorf("events: writing service name: %w", err)
	}
	if err := writeCString(w, ev.Message); err != nil {
		return fmt.Errorf("events: writing message: %w", err)
	}
	if err := writeCString(w, string(action)); err != nil {
		return fmt.Errorf("events: writing action kind: %w", err)
	}
	return nil
}

// decode is encode's inverse. It returns (nil, errVersionMismatch) without
// wrapping when the file's version does not match wireVersion, so callers
// can distinguish "discard silently" from "corrupt, log and discard".
func decode(r io.Reader) (*QueuedEvent, error) {
	br := bufio.NewReader(r)

	var version uint32
	if err := binary.Read(br, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("events: reading version: %w", err)
	}
	if version != wireVersion {
		return nil, errVersionMismatch
	}

	var rec wireRecord
	if err := binary.Read(br, binary.BigEndian, &rec); err != nil {
		return nil, fmt.Errorf("events: reading event header: %w", err)
	}

	service, err := readCString(br)
	if err != nil {
		return nil, fmt.Errorf("events: reading service name: %w", err)
	}
	message, err := readCString(br)
	if err != nil {
		return nil, fmt.Errorf("events: reading message: %w", err)
	}
	action, err := readCString(br)
	if err != nil {
		return nil, fmt.Errorf("events: reading action kind: %w", err)
	}

	return &QueuedEvent{
		Service: service,
		Action:  types.ActionKind(action),
		Event: types.Event{
			Service:       service,
			Kind:          types.RuleKind(rec.Kind),
			Outcome:       types.Outcome(rec.Outcome),
			CollectedAt:   time.Unix(0, rec.CollectedAt),
			Message:       message,
			StateMap:      rec.StateMap,
			DeliveryFlags: types.DeliveryHandler(rec.DeliveryFlags),
			Repeat:        int(rec.Repeat),
		},
	}, nil
}

func writeCString(w io.Writer, s string) error {
	if _, err := w.Write([]byte(s)); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

func readCString(r *bufio.Reader) (string, error) {
	b, err := r.ReadBytes(0)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(b, []byte{0})), nil
}
