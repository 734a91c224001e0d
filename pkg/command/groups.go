package command

import (
	"os/user"
	"strconv"
)

// supplementaryGroups builds the supplementary-group list for uid by
// enumerating the user's group memberships via the platform's user
// database (os/user, which itself uses the platform's getgrouplist(3) on
// cgo builds and an /etc/group scan otherwise) — the fallback spec.md 9
// requires ("platform group enumeration"), grounded on Command.c's
// _getUserGroups.
func supplementaryGroups(uid int, primaryGID int) ([]uint32, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return []uint32{uint32(primaryGID)}, nil
	}

	ids, err := u.GroupIds()
	if err != nil {
		return []uint32{uint32(primaryGID)}, nil
	}
	groups := make([]uint32, 0, len(ids))
	for _, s := range ids {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			continue
		}
		groups = append(groups, uint32(n))
	}
	if len(groups) == 0 {
		groups = append(groups, uint32(primaryGID))
	}
	return boundGroups(groups), nil
}

// boundGroups caps the supplementary-group list at a generous
// NGROUPS_MAX-equivalent, per spec.md 9's "bound the list to NGROUPS_MAX"
// (the kernel enforces the platform's real limit at exec time regardless).
func boundGroups(groups []uint32) []uint32 {
	const ngroupsMax = 65536
	if len(groups) > ngroupsMax {
		return groups[:ngroupsMax]
	}
	return groups
}
