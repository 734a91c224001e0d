package command

import (
	"os"
	"sync"
	"syscall"
)

// umaskMu serializes the process-wide umask swap below. Go's os/exec
// offers no per-child umask (unlike posix_spawn's file-actions or a
// hand-rolled fork/exec, the umask is process-wide state inherited at
// exec time), so Execute briefly sets the process umask around Start and
// restores it immediately after, under a package-level lock. This is a
// narrower window than a real per-child umask but matches the practical
// behavior the spec describes for the common case of one spawn at a time;
// concurrent spawns with different umasks serialize through umaskMu
// rather than racing.
var umaskMu sync.Mutex

// applyUmask sets the process umask to mask and returns a function that
// restores the previous value and releases the lock.
func applyUmask(mask os.FileMode) func() {
	umaskMu.Lock()
	previous := syscall.Umask(int(mask))
	return func() {
		syscall.Umask(previous)
		umaskMu.Unlock()
	}
}
