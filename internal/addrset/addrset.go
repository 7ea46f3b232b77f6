/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package addrset

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strings"
)

// Set is a named collection of CIDR prefixes and exact addresses. It is
// built once per configuration load and not mutated afterwards; membership
// tests accept IPv4 and IPv6 addresses transparently.
type Set struct {
	Name string

	prefixes []netip.Prefix
	exact    map[netip.Addr]struct{}
}

func New(name string) *Set {
	return &Set{
		Name:  name,
		exact: make(map[netip.Addr]struct{}),
	}
}

// Add inserts a single entry, either an exact address ("10.0.0.1",
// "2001:db8::1") or a CIDR range ("10.0.0.0/8"). Prefix lengths are
// validated strictly; an out-of-range length is an error, never silently
// clamped.
func (s *Set) Add(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return fmt.Errorf("empty address entry")
	}

	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return fmt.Errorf("invalid CIDR %q: %w", entry, err)
		}
		s.prefixes = append(s.prefixes, prefix.Masked())
		return nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", entry, err)
	}
	s.exact[addr.Unmap()] = struct{}{}
	return nil
}

// AddPrefix inserts an already-parsed prefix.
func (s *Set) AddPrefix(prefix netip.Prefix) {
	s.prefixes = append(s.prefixes, prefix.Masked())
}

// Contains reports whether addr is covered by the set. IPv4-mapped IPv6
// addresses are unmapped before the check so both spellings of an address
// match the same entries.
func (s *Set) Contains(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()

	if _, ok := s.exact[addr]; ok {
		return true
	}
	for _, prefix := range s.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ContainsString parses addr and tests membership. Unparseable input is
// simply not a member.
func (s *Set) ContainsString(addr string) bool {
	a, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	return s.Contains(a)
}

// Len returns the number of entries (prefixes plus exact addresses).
func (s *Set) Len() int {
	return len(s.prefixes) + len(s.exact)
}

// ReadFrom loads entries from a line-oriented reader. Blank lines and
// lines starting with "#" are ignored; inline comments after the entry
// are stripped. Invalid entries abort the load.
func (s *Set) ReadFrom(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexAny(line, " \t#"); i > 0 {
			line = line[:i]
		}
		if err := s.Add(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
