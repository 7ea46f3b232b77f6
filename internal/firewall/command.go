/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package firewall

import (
	"strings"
)

// Family selects the packet-filter address family. Rule buffers and the
// bulk-load mechanism are family-scoped, so it travels with every
// command.
type Family string

const (
	FamilyV4 Family = "v4"
	FamilyV6 Family = "v6"
)

// FamilyOf derives the family from an address string.
func FamilyOf(address string) Family {
	if strings.Contains(address, ":") {
		return FamilyV6
	}
	return FamilyV4
}

// Action is the packet-filter operation a command performs.
type Action string

const (
	ActionInsert Action = "insert"
	ActionDelete Action = "delete"
	ActionAppend Action = "append"
)

// Command is one packet-filter operation: table, chain, action, match
// spec and target. Commands are generated, handed to an Executor and
// discarded; they are never retained.
type Command struct {
	Family Family
	Table  string
	Chain  string
	Action Action
	Spec   []string
	Target string
}

// Rulespec returns the argument list for the external packet-filter
// binary, match spec followed by the jump target. Arguments stay a list
// end to end; nothing is ever passed through a shell.
func (c Command) Rulespec() []string {
	return append(append([]string{}, c.Spec...), "-j", c.Target)
}

// RestoreLine renders the command in iptables-restore syntax for the
// bulk-load path.
func (c Command) RestoreLine() string {
	var flag string
	switch c.Action {
	case ActionInsert:
		flag = "-I " + c.Chain + " 1"
	case ActionDelete:
		flag = "-D " + c.Chain
	case ActionAppend:
		flag = "-A " + c.Chain
	}
	return flag + " " + strings.Join(c.Rulespec(), " ")
}
