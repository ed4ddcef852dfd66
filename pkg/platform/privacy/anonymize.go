// Package privacy coarsens client addresses before they reach logs.
package privacy

import (
	"net"
	"net/netip"
)

// AnonymizeIP keeps the network part of an address: a /24 for IPv4 and a /48
// for IPv6. It returns "unknown" for an empty value and "invalid" for
// anything that does not parse.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.WithZone("").Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// ClientIP anonymizes the host part of an http.Request RemoteAddr.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return AnonymizeIP(host)
}
