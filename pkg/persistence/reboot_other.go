//go:build !linux

package persistence

import "fmt"

// currentBootTime has no portable equivalent outside Linux; reboot
// detection degrades to always reporting "no reboot since last run."
func currentBootTime() (int64, error) {
	return 0, fmt.Errorf("persistence: boot time detection is unsupported on this platform")
}
