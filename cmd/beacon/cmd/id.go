package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-beacon/internal/delivery"
	"github.com/telhawk-systems/telhawk-beacon/internal/identity"
	"github.com/telhawk-systems/telhawk-beacon/internal/session"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Identifier utilities",
}

var idCheckCmd = &cobra.Command{
	Use:   "check <id>",
	Short: "Check whether an identifier is accepted as a session or user id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		valid := identity.Validate(id)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "valid:    %t\n", valid)
		fmt.Fprintf(out, "scrubbed: %s\n", identity.Scrub(id))
		if !valid {
			return errors.New("identifier rejected: 3-100 characters of letters, digits, '.', '_' or '-'")
		}
		return nil
	},
}

var idKeyCmd = &cobra.Command{
	Use:   "key <client-key>",
	Short: "Check a client key and show its environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !session.ValidClientKey(key) {
			return errors.New("client key must look like key_live_... or key_test_...")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "environment: %s\n", delivery.Environment(key))
		return nil
	},
}

func init() {
	idCmd.AddCommand(idCheckCmd, idKeyCmd)
	rootCmd.AddCommand(idCmd)
}
