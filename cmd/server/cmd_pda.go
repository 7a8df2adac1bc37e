package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dextra-ledger/internal/relay"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/token"
)

var cmdPDA = &cobra.Command{
	Use:   "pda <program-id> [mint...]",
	Short: "Print the protocol authority and its custody accounts",
	Args:  cobra.MinimumNArgs(1),
	Run:   printPDA,
}

func init() {
	cmdMain.AddCommand(cmdPDA)
}

func printPDA(cmd *cobra.Command, args []string) {
	programID, err := solana.ParsePublicKey(args[0])
	checkf(err, "program id")

	authority, bump, err := solana.FindProgramAddress([][]byte{[]byte(relay.AuthoritySeed)}, programID)
	checkf(err, "derive authority")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "program:   %s\n", programID)
	fmt.Fprintf(out, "authority: %s (bump %d)\n", authority, bump)

	for _, arg := range args[1:] {
		mint, err := solana.ParsePublicKey(arg)
		checkf(err, "mint %s", arg)
		vault, err := token.AssociatedAddress(authority, mint)
		checkf(err, "custody account for %s", mint)
		fmt.Fprintf(out, "vault:     %s (mint %s)\n", vault, mint)
	}
}
