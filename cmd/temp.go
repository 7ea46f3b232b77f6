/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tschaefer/failwatchd/internal/store"
)

var tempCmd = &cobra.Command{
	Use:   "temp",
	Short: "Manage temporary deny and allow entries",
}

var tempDenyCmd = &cobra.Command{
	Use:   "deny <address>",
	Short: "Deny an address or CIDR range for a limited time",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tempAdd(args[0], store.KindDeny)
	},
}

var tempAllowCmd = &cobra.Command{
	Use:   "allow <address>",
	Short: "Allow an address or CIDR range for a limited time",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tempAdd(args[0], store.KindAllow)
	},
}

var tempRemoveCmd = &cobra.Command{
	Use:   "remove <address>",
	Short: "Remove a temporary entry before it expires",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		address, err := parseAddress(args[0])
		cobra.CheckErr(err)
		cobra.CheckErr(validateKind(entryOptions.kind))

		st, engine := adminStack()
		retireEntry(st, engine, address, store.Kind(entryOptions.kind))
	},
}

var tempListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all temporary and permanent entries",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		st, _ := adminStack()
		printEntries(st, store.KindDeny)
		printEntries(st, store.KindAllow)
	},
}

var tempFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove all non-protected entries and their rules",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		st, engine := adminStack()
		for _, kind := range []store.Kind{store.KindDeny, store.KindAllow} {
			flushed, err := st.Flush(kind)
			cobra.CheckErr(err)
			for _, entry := range flushed {
				_ = engine.Apply(retireIntent(kind), entry)
				printEntry(entry)
			}
		}
	},
}

func tempAdd(arg string, kind store.Kind) {
	address, err := parseAddress(arg)
	cobra.CheckErr(err)
	cobra.CheckErr(validateScope(entryOptions.scope))

	st, engine := adminStack()
	installEntry(st, engine, store.Entry{
		Address:  address,
		Ports:    entryOptions.ports,
		Scope:    store.Scope(entryOptions.scope),
		Duration: entryOptions.duration,
		Comment:  entryOptions.comment,
		Kind:     kind,
	})
}

func init() {
	for _, cmd := range []*cobra.Command{tempDenyCmd, tempAllowCmd} {
		cmd.Flags().DurationVar(&entryOptions.duration, "duration", time.Hour, "Entry lifetime, e.g. 30m or 12h")
		cmd.Flags().StringVar(&entryOptions.ports, "ports", "", "Port filter, e.g. 22 or udp:53 or 25,587")
		cmd.Flags().StringVar(&entryOptions.scope, "scope", "inout", "Traffic scope (in, out, inout)")
		cmd.Flags().StringVar(&entryOptions.comment, "comment", "", "Comment stored with the entry")
	}
	tempRemoveCmd.Flags().StringVar(&entryOptions.kind, "kind", "deny", "Entry kind (deny, allow)")

	tempCmd.AddCommand(tempDenyCmd)
	tempCmd.AddCommand(tempAllowCmd)
	tempCmd.AddCommand(tempRemoveCmd)
	tempCmd.AddCommand(tempListCmd)
	tempCmd.AddCommand(tempFlushCmd)
}
