/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tschaefer/failwatchd/internal/store"
)

var denyCmd = &cobra.Command{
	Use:   "deny",
	Short: "Manage permanent deny entries",
}

var denyAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Deny an address or CIDR range permanently",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		address, err := parseAddress(args[0])
		cobra.CheckErr(err)
		cobra.CheckErr(validateScope(entryOptions.scope))

		st, engine := adminStack()
		installEntry(st, engine, store.Entry{
			Address: address,
			Ports:   entryOptions.ports,
			Scope:   store.Scope(entryOptions.scope),
			Comment: entryOptions.comment,
			Kind:    store.KindDeny,
		})
	},
}

var denyRemoveCmd = &cobra.Command{
	Use:   "remove <address>",
	Short: "Remove a permanent deny entry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		address, err := parseAddress(args[0])
		cobra.CheckErr(err)

		st, engine := adminStack()
		retireEntry(st, engine, address, store.KindDeny)
	},
}

var denyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deny entries",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		st, _ := adminStack()
		printEntries(st, store.KindDeny)
	},
}

func init() {
	denyAddCmd.Flags().StringVar(&entryOptions.ports, "ports", "", "Port filter, e.g. 22 or udp:53 or 25,587")
	denyAddCmd.Flags().StringVar(&entryOptions.scope, "scope", "inout", "Traffic scope (in, out, inout)")
	denyAddCmd.Flags().StringVar(&entryOptions.comment, "comment", "", "Comment stored with the entry")

	denyCmd.AddCommand(denyAddCmd)
	denyCmd.AddCommand(denyRemoveCmd)
	denyCmd.AddCommand(denyListCmd)
}
