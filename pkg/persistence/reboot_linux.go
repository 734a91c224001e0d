//go:build linux

package persistence

import (
	"time"

	"golang.org/x/sys/unix"
)

// currentBootTime derives the kernel's boot time from Sysinfo's Uptime
// field, matching original_source/src/monit.c's reboot-detection probe
// (there, a read of /proc/uptime; here, the equivalent syscall exposed
// through golang.org/x/sys/unix).
func currentBootTime() (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return time.Now().Add(-time.Duration(info.Uptime) * time.Second).Unix(), nil
}
