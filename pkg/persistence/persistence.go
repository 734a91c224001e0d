// Package persistence owns every on-disk artifact the daemon keeps
// between invocations: the identity token, the pid file, the bbolt state
// snapshot used to restore monitoring state and restart counters across
// a restart, and the reboot-detection flag.
//
// Grounded on teacher pkg/storage.BoltStore for the bucket-per-concern
// bbolt shape (generalized here from a cluster object store into a
// single service-state snapshot) and original_source/src/monit.c's
// bootstrap sequence (identity file, pid file, state file, reboot flag,
// all read/written once at startup and on clean shutdown).
package persistence

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/warden/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketServices = []byte("services")
	bucketMeta     = []byte("meta")
)

const bootTimeKey = "boot_time"

// ServiceState is the subset of a Service's runtime fields that survive
// a daemon restart: the fields a fresh config load cannot reconstruct.
type ServiceState struct {
	State           types.MonitorState `json:"state"`
	PID             int                `json:"pid"`
	ErrorBits       uint64             `json:"error_bits"`
	HintBits        uint64             `json:"hint_bits"`
	RestartAttempts int                `json:"restart_attempts"`
}

// Store is the bbolt-backed snapshot database.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the state file at dataDir/warden.db.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "warden.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("persistence: opening state file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketServices); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: preparing buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveService persists name's current runtime fields.
func (s *Store) SaveService(name string, st ServiceState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketServices).Put([]byte(name), data)
	})
}

// LoadService returns name's previously-persisted state, if any.
func (s *Store) LoadService(name string) (ServiceState, bool, error) {
	var st ServiceState
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketServices).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &st)
	})
	return st, found, err
}

// LoadAll returns every persisted service state keyed by name, for
// restoring monitoring state across every configured service at startup.
func (s *Store) LoadAll() (map[string]ServiceState, error) {
	out := make(map[string]ServiceState)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var st ServiceState
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			out[string(k)] = st
			return nil
		})
	})
	return out, err
}

// DeleteService removes a service no longer present in the configuration.
func (s *Store) DeleteService(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).Delete([]byte(name))
	})
}

// Apply copies a ServiceState's fields onto a live Service, used when
// restoring state for a newly-loaded configuration.
func Apply(svc *types.Service, st ServiceState) {
	svc.State = st.State
	svc.PID = st.PID
	svc.ErrorBits = st.ErrorBits
	svc.HintBits = st.HintBits
	svc.RestartAttempts = st.RestartAttempts
}

// Snapshot extracts the persistable subset of svc's runtime fields.
func Snapshot(svc *types.Service) ServiceState {
	return ServiceState{
		State:           svc.State,
		PID:             svc.PID,
		ErrorBits:       svc.ErrorBits,
		HintBits:        svc.HintBits,
		RestartAttempts: svc.RestartAttempts,
	}
}

func (s *Store) recordBootTime(unixSeconds int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(unixSeconds)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(bootTimeKey), data)
	})
}

func (s *Store) readBootTime() (int64, bool, error) {
	var t int64
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get([]byte(bootTimeKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &t)
	})
	return t, found, err
}

// DetectReboot compares the kernel's current boot time against the last
// boot time recorded in the state file, returning true the first time a
// new boot is observed (a cycle-zero-only signal, matching
// original_source's is_flag_set(Run_MmonitCredentials) reboot test ran
// once at startup). It always persists the freshly-observed boot time,
// so a second call within the same boot reports false.
func (s *Store) DetectReboot() (bool, error) {
	boot, err := currentBootTime()
	if err != nil {
		// No portable boot-time probe on this platform: assume no reboot
		// rather than failing startup over a cosmetic feature.
		return false, nil
	}

	const slack = 2 // seconds of rounding slop between samples
	prev, found, err := s.readBootTime()
	if err != nil {
		return false, err
	}

	rebooted := !found || diff64(boot, prev) > slack
	if err := s.recordBootTime(boot); err != nil {
		return rebooted, err
	}
	return rebooted, nil
}

func diff64(a, b int64) int64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}
