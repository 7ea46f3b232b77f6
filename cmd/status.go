/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tschaefer/failwatchd/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <address>",
	Short: "Show whether an address has an active entry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		address, err := parseAddress(args[0])
		cobra.CheckErr(err)

		st, _ := adminStack()

		found := false
		for _, kind := range []store.Kind{store.KindDeny, store.KindAllow} {
			entry, err := st.Find(address, kind)
			cobra.CheckErr(err)
			if entry != nil {
				printEntry(*entry)
				found = true
			}
		}
		if !found {
			fmt.Printf("no active entry for %s\n", address)
		}
	},
}
