/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package firewall

import (
	"fmt"
	"log/slog"

	"github.com/tschaefer/failwatchd/internal/store"
)

// Intent is the enforcement operation requested by the daemon or an
// administrative command.
type Intent string

const (
	IntentBlock   Intent = "block"
	IntentAllow   Intent = "allow"
	IntentUnblock Intent = "unblock"
	IntentUnallow Intent = "unallow"
)

// Ledger is the slice of the temp rule store the engine needs for
// ceiling eviction. *store.Store satisfies it.
type Ledger interface {
	Count(kind store.Kind) (int, error)
	Oldest(kind store.Kind) (*store.Entry, error)
	Remove(address string, kind store.Kind) (*store.Entry, error)
}

// Options configure the engine. Table and chain names match the base
// rule set the host's firewall script maintains.
type Options struct {
	Table       string
	InputChain  string
	OutputChain string

	// DenyLimit caps the number of active non-permanent deny entries.
	// 0 disables the ceiling.
	DenyLimit int
	Ledger    Ledger
}

// Engine translates enforcement intents into ordered packet-filter
// command sequences and hands them to the injected Executor strategy.
type Engine struct {
	exec Executor
	opts Options
}

func NewEngine(exec Executor, opts Options) *Engine {
	if opts.Table == "" {
		opts.Table = "filter"
	}
	if opts.InputChain == "" {
		opts.InputChain = "FAILWATCH_IN"
	}
	if opts.OutputChain == "" {
		opts.OutputChain = "FAILWATCH_OUT"
	}
	return &Engine{exec: exec, opts: opts}
}

// Commands generates the ordered command sequence for one intent without
// executing anything. Block and allow always emit the matching deletes
// first, so re-applying the same intent never duplicates a rule.
func (e *Engine) Commands(intent Intent, entry store.Entry) ([]Command, error) {
	if entry.Address == "" {
		return nil, fmt.Errorf("entry without address")
	}

	family := FamilyOf(entry.Address)
	var target string
	switch intent {
	case IntentBlock, IntentUnblock:
		target = "DROP"
	case IntentAllow, IntentUnallow:
		target = "ACCEPT"
	default:
		return nil, fmt.Errorf("unknown intent %q", intent)
	}

	inbound := entry.Scope == store.ScopeIn || entry.Scope == store.ScopeBoth || entry.Scope == ""
	outbound := entry.Scope == store.ScopeOut || entry.Scope == store.ScopeBoth

	var commands []Command
	add := func(chain string, spec []string, action Action) {
		commands = append(commands, Command{
			Family: family,
			Table:  e.opts.Table,
			Chain:  chain,
			Action: action,
			Spec:   spec,
			Target: target,
		})
	}

	inSpec := append([]string{"-s", entry.Address}, portSpec(entry.Ports)...)
	outSpec := append([]string{"-d", entry.Address}, portSpec(entry.Ports)...)

	switch intent {
	case IntentBlock, IntentAllow:
		if inbound {
			add(e.opts.InputChain, inSpec, ActionDelete)
			add(e.opts.InputChain, inSpec, ActionInsert)
		}
		if outbound {
			add(e.opts.OutputChain, outSpec, ActionDelete)
			add(e.opts.OutputChain, outSpec, ActionInsert)
		}
	case IntentUnblock, IntentUnallow:
		if inbound {
			add(e.opts.InputChain, inSpec, ActionDelete)
		}
		if outbound {
			add(e.opts.OutputChain, outSpec, ActionDelete)
		}
	}

	return commands, nil
}

// Apply generates and executes the command sequence for intent. A
// failing command is logged and the remaining commands still run; one
// unapplied rule must not stall enforcement. Before a new deny rule is
// installed the deny ceiling is enforced by evicting the oldest
// non-permanent entry.
func (e *Engine) Apply(intent Intent, entry store.Entry) error {
	if intent == IntentBlock {
		e.enforceDenyLimit()
	}

	commands, err := e.Commands(intent, entry)
	if err != nil {
		return err
	}

	var failed error
	for _, cmd := range commands {
		if err := e.exec.Execute(cmd); err != nil {
			slog.Warn("Packet filter command failed.",
				"action", string(cmd.Action), "chain", cmd.Chain,
				"address", entry.Address, "error", err,
			)
			failed = err
		}
	}
	return failed
}

// Flush applies whatever the executor buffered.
func (e *Engine) Flush() error {
	return e.exec.Flush()
}

func (e *Engine) enforceDenyLimit() {
	if e.opts.DenyLimit <= 0 || e.opts.Ledger == nil {
		return
	}

	count, err := e.opts.Ledger.Count(store.KindDeny)
	if err != nil || count < e.opts.DenyLimit {
		return
	}

	oldest, err := e.opts.Ledger.Oldest(store.KindDeny)
	if err != nil || oldest == nil {
		return
	}

	if _, err := e.opts.Ledger.Remove(oldest.Address, store.KindDeny); err != nil {
		slog.Warn("Deny ceiling eviction failed.", "address", oldest.Address, "error", err)
		return
	}

	slog.Info("Deny ceiling reached, evicted oldest entry.",
		"address", oldest.Address, "limit", e.opts.DenyLimit,
	)
	commands, err := e.Commands(IntentUnblock, *oldest)
	if err != nil {
		return
	}
	for _, cmd := range commands {
		if err := e.exec.Execute(cmd); err != nil {
			slog.Warn("Packet filter command failed.",
				"action", string(cmd.Action), "chain", cmd.Chain,
				"address", oldest.Address, "error", err,
			)
		}
	}
}

// portSpec translates the optional port qualifier of a temp entry into
// match arguments. "22" or "22,80" filter TCP destination ports;
// "udp:53" selects UDP.
func portSpec(ports string) []string {
	if ports == "" {
		return nil
	}

	proto := "tcp"
	if len(ports) > 4 && ports[:4] == "udp:" {
		proto = "udp"
		ports = ports[4:]
	} else if len(ports) > 4 && ports[:4] == "tcp:" {
		ports = ports[4:]
	}

	return []string{"-p", proto, "-m", "multiport", "--dports", ports}
}
