package events

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
)

// errVersionMismatch signals a queue file whose version header does not
// match wireVersion. It is swallowed (with a log line, not an error
// surfaced to the caller) by Replay, per spec.md's "discard mismatched
// version files" rule.
var errVersionMismatch = errors.New("events: queue file version mismatch")

// queueFileName builds the on-disk queue entry name
// "<unix_time>_<hash>", grounded on event.c's _queueAdd naming scheme.
// The C original hashes the Service's name pointer (`%lx` of the address);
// Go has no stable pointer-to-integer hash worth persisting across runs,
// so this uses an FNV-1a content hash of the service name instead — see
// DESIGN.md for the deviation rationale.
func queueFileName(now int64, service string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(service))
	return fmt.Sprintf("%d_%x", now, h.Sum64())
}

// ensureQueueDir creates dir if it does not already exist, mirroring
// file_checkQueueDirectory's auto-create-on-first-use behavior.
func ensureQueueDir(dir string) error {
	return os.MkdirAll(dir, 0o750)
}

// queueDepth counts entries currently in dir, for the slots quota check
// and the EventQueueDepth gauge.
func queueDepth(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return len(entries), nil
}

// withinQuota reports whether dir holds fewer than slots entries. slots <=
// 0 means unlimited, mirroring Run.eventlist_slots's 0-disables-limit
// convention.
func withinQuota(dir string, slots int) (bool, error) {
	if slots <= 0 {
		return true, nil
	}
	depth, err := queueDepth(dir)
	if err != nil {
		return false, err
	}
	return depth < slots, nil
}

// listQueueFiles returns the queue directory's entries sorted by name,
// which sorts oldest-first since names are prefixed with a Unix timestamp.
func listQueueFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func queuePath(dir, name string) string {
	return filepath.Join(dir, name)
}
