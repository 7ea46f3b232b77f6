/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tschaefer/failwatchd/internal/store"
)

var allowCmd = &cobra.Command{
	Use:   "allow",
	Short: "Manage permanent allow entries",
}

var allowAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Allow an address or CIDR range permanently",
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
			Kind:    store.KindAllow,
		})
	},
}

var allowRemoveCmd = &cobra.Command{
	Use:   "remove <address>",
	Short: "Remove a permanent allow entry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		address, err := parseAddress(args[0])
		cobra.CheckErr(err)

		st, engine := adminStack()
		retireEntry(st, engine, address, store.KindAllow)
	},
}

var allowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allow entries",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		st, _ := adminStack()
		printEntries(st, store.KindAllow)
	},
}

func init() {
	allowAddCmd.Flags().StringVar(&entryOptions.ports, "ports", "", "Port filter, e.g. 22 or udp:53 or 25,587")
	allowAddCmd.Flags().StringVar(&entryOptions.scope, "scope", "inout", "Traffic scope (in, out, inout)")
	allowAddCmd.Flags().StringVar(&entryOptions.comment, "comment", "", "Comment stored with the entry")

	allowCmd.AddCommand(allowAddCmd)
	allowCmd.AddCommand(allowRemoveCmd)
	allowCmd.AddCommand(allowListCmd)
}
