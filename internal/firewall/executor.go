/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package firewall

import (
	"bytes"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/coreos/go-iptables/iptables"
)

// Executor runs generated commands against the packet filter. Two
// strategies exist: immediate per-command execution for normal
// operation, and a buffered bulk load for startup, where one process
// invocation per rule would take minutes for large rule sets.
type Executor interface {
	Execute(cmd Command) error
	// Flush applies anything the executor buffered. A no-op for the
	// immediate strategy.
	Flush() error
}

// ImmediateExecutor executes every command synchronously through the
// iptables/ip6tables binary.
type ImmediateExecutor struct {
	v4 *iptables.IPTables
	v6 *iptables.IPTables
}

func NewImmediateExecutor() (*ImmediateExecutor, error) {
	v4, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("iptables unavailable: %w", err)
	}
	v6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
	if err != nil {
		return nil, fmt.Errorf("ip6tables unavailable: %w", err)
	}
	return &ImmediateExecutor{v4: v4, v6: v6}, nil
}

func (e *ImmediateExecutor) table(family Family) *iptables.IPTables {
	if family == FamilyV6 {
		return e.v6
	}
	return e.v4
}

func (e *ImmediateExecutor) Execute(cmd Command) error {
	ipt := e.table(cmd.Family)

	switch cmd.Action {
	case ActionInsert:
		// Position 1: managed rules take effect ahead of whatever
		// default-accept rules follow in the chain.
		return ipt.Insert(cmd.Table, cmd.Chain, 1, cmd.Rulespec()...)
	case ActionDelete:
		// The rule may already be gone, removed by a concurrent sweep.
		return ipt.DeleteIfExists(cmd.Table, cmd.Chain, cmd.Rulespec()...)
	case ActionAppend:
		return ipt.AppendUnique(cmd.Table, cmd.Chain, cmd.Rulespec()...)
	}
	return fmt.Errorf("unknown action %q", cmd.Action)
}

func (e *ImmediateExecutor) Flush() error {
	return nil
}

// BufferedExecutor collects commands in per-family, per-table buffers
// and applies each buffer as a single iptables-restore invocation on
// Flush. Families and tables are buffered separately because the restore
// mechanism is scoped to one family and one table block at a time.
type BufferedExecutor struct {
	restoreV4 string
	restoreV6 string

	buffers map[Family]map[string][]string
	order   map[Family][]string

	// runner is swappable for tests; it feeds input to the restore
	// binary and returns combined output.
	runner func(binary string, input []byte) ([]byte, error)
}

func NewBufferedExecutor() *BufferedExecutor {
	return &BufferedExecutor{
		restoreV4: "iptables-restore",
		restoreV6: "ip6tables-restore",
		buffers:   make(map[Family]map[string][]string),
		order:     make(map[Family][]string),
		runner:    runRestore,
	}
}

func runRestore(binary string, input []byte) ([]byte, error) {
	cmd := exec.Command(binary, "--noflush")
	cmd.Stdin = bytes.NewReader(input)
	return cmd.CombinedOutput()
}

func (e *BufferedExecutor) Execute(cmd Command) error {
	if cmd.Action == ActionDelete {
		// Restore input is transactional and has no delete-if-present;
		// a -D for an absent rule aborts the whole commit. Bulk loads
		// start from a known-empty managed chain, inserts suffice.
		return nil
	}

	tables, ok := e.buffers[cmd.Family]
	if !ok {
		tables = make(map[string][]string)
		e.buffers[cmd.Family] = tables
	}
	if _, ok := tables[cmd.Table]; !ok {
		e.order[cmd.Family] = append(e.order[cmd.Family], cmd.Table)
	}
	tables[cmd.Table] = append(tables[cmd.Table], cmd.RestoreLine())
	return nil
}

// Flush feeds every buffered table to its restore binary. A failed
// restore is logged and the remaining buffers are still applied;
// enforcement keeps going with whatever could be loaded.
func (e *BufferedExecutor) Flush() error {
	var failed error

	for _, family := range []Family{FamilyV4, FamilyV6} {
		tables, ok := e.buffers[family]
		if !ok {
			continue
		}

		binary := e.restoreV4
		if family == FamilyV6 {
			binary = e.restoreV6
		}

		for _, table := range e.order[family] {
			lines := tables[table]
			if len(lines) == 0 {
				continue
			}

			var input bytes.Buffer
			fmt.Fprintf(&input, "*%s\n", table)
			for _, line := range lines {
				fmt.Fprintln(&input, line)
			}
			fmt.Fprintln(&input, "COMMIT")

			out, err := e.runner(binary, input.Bytes())
			if err != nil {
				slog.Warn("Bulk rule load failed.",
					"binary", binary, "table", table, "rules", len(lines),
					"output", string(out), "error", err,
				)
				failed = fmt.Errorf("bulk load via %s failed: %w", binary, err)
				continue
			}
			slog.Debug("Bulk rule load applied.", "binary", binary, "table", table, "rules", len(lines))
		}
	}

	e.buffers = make(map[Family]map[string][]string)
	e.order = make(map[Family][]string)

	return failed
}

// Buffered returns the number of commands waiting for Flush.
func (e *BufferedExecutor) Buffered() int {
	n := 0
	for _, tables := range e.buffers {
		for _, lines := range tables {
			n += len(lines)
		}
	}
	return n
}
