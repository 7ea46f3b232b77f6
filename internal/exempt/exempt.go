/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package exempt

import (
	"net"
	"net/netip"

	"github.com/tschaefer/failwatchd/internal/addrset"
)

// Decision is the outcome of an exemption check. Set names the address
// set that matched, for diagnostics; it is empty when the address is not
// exempt.
type Decision struct {
	Exempt bool
	Set    string
}

// Resolver composes the address sets an address must be checked against
// before any enforcement. The checks run in a fixed order and
// short-circuit on the first match:
//
//  1. the host's own addresses,
//  2. the permanent allow list,
//  3. the ignore list,
//  4. authenticated relay clients (skippable),
//  5. ad-hoc CIDR ranges supplied per call.
//
// The order is part of the contract; an address in several sets is
// always attributed to the earliest one.
type Resolver struct {
	Own    *addrset.Set
	Allow  *addrset.Set
	Ignore *addrset.Set

	// RelayClients reports whether the address is a currently
	// authenticated relay source. Nil disables the check.
	RelayClients func(addr netip.Addr) bool
}

// IsExempt resolves addr against the configured sets. skipRelay bypasses
// the relay-client check, so explicit administrative deny requests can
// reach relay addresses that passive detection must leave alone. extra
// holds ad-hoc ranges valid for this call only.
func (r *Resolver) IsExempt(addr netip.Addr, skipRelay bool, extra ...netip.Prefix) Decision {
	if !addr.IsValid() {
		return Decision{}
	}
	addr = addr.Unmap()

	if r.Own != nil && r.Own.Contains(addr) {
		return Decision{Exempt: true, Set: r.Own.Name}
	}
	if r.Allow != nil && r.Allow.Contains(addr) {
		return Decision{Exempt: true, Set: r.Allow.Name}
	}
	if r.Ignore != nil && r.Ignore.Contains(addr) {
		return Decision{Exempt: true, Set: r.Ignore.Name}
	}
	if !skipRelay && r.RelayClients != nil && r.RelayClients(addr) {
		return Decision{Exempt: true, Set: "relay"}
	}
	for _, prefix := range extra {
		if prefix.Contains(addr) {
			return Decision{Exempt: true, Set: "adhoc"}
		}
	}

	return Decision{}
}

// IsExemptString parses addr before resolving. Unparseable input is not
// exempt; the caller already treats malformed addresses as no-ops.
func (r *Resolver) IsExemptString(addr string, skipRelay bool, extra ...netip.Prefix) Decision {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return Decision{}
	}
	return r.IsExempt(a, skipRelay, extra...)
}

// OwnAddresses builds the never-block-yourself set from the host's
// interface addresses. Loopback ranges are always included.
func OwnAddresses() (*addrset.Set, error) {
	set := addrset.New("own")
	set.AddPrefix(netip.MustParsePrefix("127.0.0.0/8"))
	set.AddPrefix(netip.MustParsePrefix("::1/128"))

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if a, ok := netip.AddrFromSlice(ipnet.IP); ok {
			_ = set.Add(a.Unmap().String())
		}
	}

	return set, nil
}
