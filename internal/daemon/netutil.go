package daemon

import "net"

// parseIP and parseCIDR tolerate a malformed allow-list entry by
// logging nothing and simply excluding it, since a typo'd allow-list
// entry should not prevent the daemon from starting.
func parseIP(s string) net.IP {
	return net.ParseIP(s)
}

func parseCIDR(s string) *net.IPNet {
	_, cidr, err := net.ParseCIDR(s)
	if err != nil {
		return nil
	}
	return cidr
}
