/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package classify

import (
	"strings"
)

// Category selects which rule table a log line is matched against. Each
// watched log file is configured with exactly one category.
type Category string

const (
	CategorySSH       Category = "ssh"
	CategoryFTP       Category = "ftp"
	CategoryMailAuth  Category = "mail-auth"
	CategoryWeb       Category = "web"
	CategorySU        Category = "su"
	CategorySudo      Category = "sudo"
	CategoryConsole   Category = "console"
	CategoryPortScan  Category = "portscan"
	CategoryPortKnock Category = "portknock"
	CategoryRelay     Category = "relay"
)

// Categories lists all known categories, for flag completion and config
// validation.
var Categories = []string{
	string(CategorySSH), string(CategoryFTP), string(CategoryMailAuth),
	string(CategoryWeb), string(CategorySU), string(CategorySudo),
	string(CategoryConsole), string(CategoryPortScan),
	string(CategoryPortKnock), string(CategoryRelay),
}

// Valid reports whether c names a known category.
func Valid(c Category) bool {
	for _, known := range Categories {
		if string(c) == known {
			return true
		}
	}
	return false
}

// Event is one security-relevant occurrence extracted from a log line.
// Address and Account may be empty; local events (su, sudo, console) have
// no originating address.
type Event struct {
	Reason  string
	Address string
	Account string
	Service string
	Source  string
}

// Classify matches line against the ordered rule table for category and
// returns the extracted event. The first matching rule wins; table order
// places specific patterns ahead of their catch-alls. A line matching no
// rule is the common case and reported with ok=false, never as an error.
func Classify(line, source string, category Category) (Event, bool) {
	rules, ok := tables[category]
	if !ok {
		return Event{}, false
	}

	for _, r := range rules {
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		event := Event{
			Reason:  r.reason,
			Service: r.service,
			Source:  source,
		}
		if r.addr > 0 && r.addr < len(m) {
			event.Address = NormalizeAddress(m[r.addr])
		}
		if r.account > 0 && r.account < len(m) {
			event.Account = m[r.account]
		}
		return event, true
	}

	return Event{}, false
}

// NormalizeAddress strips the decorations log daemons wrap around
// addresses: surrounding brackets, a trailing port on bracketed IPv6
// forms, and the IPv4-in-IPv6 mapping prefix. Anything unrecognizable is
// returned trimmed but otherwise untouched; data-quality problems are
// not errors here.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "[")
	addr = strings.TrimSuffix(addr, "]")

	if strings.HasPrefix(addr, "::ffff:") && strings.Count(addr, ".") == 3 {
		addr = strings.TrimPrefix(addr, "::ffff:")
	}

	return addr
}
