/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package cmd

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tschaefer/failwatchd/internal/config"
	"github.com/tschaefer/failwatchd/internal/firewall"
	"github.com/tschaefer/failwatchd/internal/store"
)

var entryOptions = struct {
	ports    string
	scope    string
	comment  string
	duration time.Duration
	kind     string
}{}

var validScopes = []string{"in", "out", "inout"}
var validKinds = []string{"deny", "allow"}

// adminStack builds the store and packet-filter engine the
// administrative commands operate on, from the same configuration the
// daemon uses.
func adminStack() (*store.Store, *firewall.Engine) {
	cobra.CheckErr(config.InitConfig(cfgFile))
	cfg, err := config.New()
	cobra.CheckErr(err)

	st := store.New(cfg.Store.DenyFile, cfg.Store.AllowFile)

	exec, err := firewall.NewImmediateExecutor()
	if err != nil {
		cobra.CheckErr(fmt.Sprintf("Failed to initialize packet filter: %v", err))
	}
	engine := firewall.NewEngine(exec, firewall.Options{
		Table:       cfg.Firewall.Table,
		InputChain:  cfg.Firewall.InputChain,
		OutputChain: cfg.Firewall.OutputChain,
		DenyLimit:   cfg.Deny.Limit,
		Ledger:      st,
	})

	return st, engine
}

// parseAddress accepts a single address or a CIDR range and returns the
// canonical string the store and the packet filter use.
func parseAddress(address string) (string, error) {
	if addr, err := netip.ParseAddr(address); err == nil {
		return addr.Unmap().String(), nil
	}
	if prefix, err := netip.ParsePrefix(address); err == nil {
		return prefix.Masked().String(), nil
	}
	return "", fmt.Errorf("invalid address or CIDR range: %q", address)
}

func validateScope(scope string) error {
	if !slices.Contains(validScopes, scope) {
		return fmt.Errorf("invalid scope %q, must be one of in, out, inout", scope)
	}
	return nil
}

func validateKind(kind string) error {
	if !slices.Contains(validKinds, kind) {
		return fmt.Errorf("invalid kind %q, must be deny or allow", kind)
	}
	return nil
}

func installIntent(kind store.Kind) firewall.Intent {
	if kind == store.KindAllow {
		return firewall.IntentAllow
	}
	return firewall.IntentBlock
}

func retireIntent(kind store.Kind) firewall.Intent {
	if kind == store.KindAllow {
		return firewall.IntentUnallow
	}
	return firewall.IntentUnblock
}

// installEntry persists the entry and installs its firewall rules,
// retiring the rules of a replaced entry first.
func installEntry(st *store.Store, engine *firewall.Engine, entry store.Entry) {
	replaced, err := st.Add(entry)
	cobra.CheckErr(err)
	if replaced != nil {
		_ = engine.Apply(retireIntent(entry.Kind), *replaced)
	}
	cobra.CheckErr(engine.Apply(installIntent(entry.Kind), entry))

	lifetime := "permanent"
	if entry.Duration > 0 {
		lifetime = entry.Duration.String()
	}
	fmt.Printf("%s %s (%s, scope %s)\n", entry.Kind, entry.Address, lifetime, entry.Scope)
}

// retireEntry removes the entry and its firewall rules. Protected
// entries are refused with a specific reason.
func retireEntry(st *store.Store, engine *firewall.Engine, address string, kind store.Kind) {
	removed, err := st.Remove(address, kind)
	cobra.CheckErr(err)
	cobra.CheckErr(engine.Apply(retireIntent(kind), *removed))
	fmt.Printf("removed %s %s\n", kind, address)
}

func printEntries(st *store.Store, kind store.Kind) {
	entries, err := st.List(kind)
	cobra.CheckErr(err)
	for _, entry := range entries {
		printEntry(entry)
	}
}

func printEntry(entry store.Entry) {
	fmt.Printf("%s  %s  %-39s  %-5s  %-10s  %s\n",
		entry.Kind,
		entry.CreatedAt.Format(time.RFC3339),
		entry.Address,
		entry.Scope,
		formatDuration(entry.Duration),
		entry.Comment,
	)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "permanent"
	}
	return d.String()
}
