/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package exempt

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschaefer/failwatchd/internal/addrset"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()

	own := addrset.New("own")
	require.NoError(t, own.Add("127.0.0.1"))
	require.NoError(t, own.Add("10.0.0.1"))

	allow := addrset.New("allow")
	require.NoError(t, allow.Add("192.168.0.0/16"))

	ignore := addrset.New("ignore")
	require.NoError(t, ignore.Add("203.0.113.50"))

	return &Resolver{Own: own, Allow: allow, Ignore: ignore}
}

func isExemptMatchesInDocumentedOrder(t *testing.T) {
	r := newResolver(t)

	tests := []struct {
		addr string
		set  string
	}{
		{"127.0.0.1", "own"},
		{"10.0.0.1", "own"},
		{"192.168.3.4", "allow"},
		{"203.0.113.50", "ignore"},
	}
	for _, tt := range tests {
		d := r.IsExempt(netip.MustParseAddr(tt.addr), false)
		assert.True(t, d.Exempt, tt.addr)
		assert.Equal(t, tt.set, d.Set, tt.addr)
	}

	d := r.IsExempt(netip.MustParseAddr("198.51.100.1"), false)
	assert.False(t, d.Exempt)
	assert.Empty(t, d.Set)
}

func isExemptPrefersEarlierSetRegardlessOfInsertion(t *testing.T) {
	// Address present in both allow and ignore must always be attributed
	// to allow, which is checked first.
	r := newResolver(t)
	require.NoError(t, r.Ignore.Add("192.168.3.4"))

	d := r.IsExempt(netip.MustParseAddr("192.168.3.4"), false)
	require.True(t, d.Exempt)
	assert.Equal(t, "allow", d.Set)
}

func isExemptHonorsRelayAndSkipRelay(t *testing.T) {
	r := newResolver(t)
	relay := netip.MustParseAddr("198.51.100.77")
	r.RelayClients = func(addr netip.Addr) bool { return addr == relay }

	d := r.IsExempt(relay, false)
	require.True(t, d.Exempt)
	assert.Equal(t, "relay", d.Set)

	d = r.IsExempt(relay, true)
	assert.False(t, d.Exempt, "skipRelay must bypass the relay check")
}

func isExemptChecksAdHocRanges(t *testing.T) {
	r := newResolver(t)

	d := r.IsExempt(netip.MustParseAddr("172.16.9.9"), false, netip.MustParsePrefix("172.16.0.0/12"))
	require.True(t, d.Exempt)
	assert.Equal(t, "adhoc", d.Set)

	d = r.IsExempt(netip.MustParseAddr("172.16.9.9"), false)
	assert.False(t, d.Exempt)
}

func isExemptStringRejectsGarbage(t *testing.T) {
	r := newResolver(t)

	assert.False(t, r.IsExemptString("not-an-address", false).Exempt)
	assert.True(t, r.IsExemptString("192.168.1.1", false).Exempt)
	assert.True(t, r.IsExemptString("::ffff:192.168.1.1", false).Exempt, "mapped form matches v4 entries")
}

func ownAddressesIncludesLoopback(t *testing.T) {
	set, err := OwnAddresses()
	require.NoError(t, err)
	assert.True(t, set.ContainsString("127.0.0.1"))
	assert.True(t, set.ContainsString("::1"))
}

func TestResolver(t *testing.T) {
	t.Run("exempt.IsExempt matches in documented order", isExemptMatchesInDocumentedOrder)
	t.Run("exempt.IsExempt prefers earlier set regardless of insertion", isExemptPrefersEarlierSetRegardlessOfInsertion)
	t.Run("exempt.IsExempt honors relay and skipRelay", isExemptHonorsRelayAndSkipRelay)
	t.Run("exempt.IsExempt checks ad-hoc ranges", isExemptChecksAdHocRanges)
	t.Run("exempt.IsExemptString rejects garbage", isExemptStringRejectsGarbage)
	t.Run("exempt.OwnAddresses includes loopback", ownAddressesIncludesLoopback)
}
