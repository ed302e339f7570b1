package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockberries/ledgerberry/node"
	"github.com/blockberries/ledgerberry/types"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage signing keys",
	Long:  `Commands for managing Ed25519 signing keys.`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate [output-file]",
	Short: "Generate a new signing key",
	Long: `Generate a new Ed25519 key and store its hex seed.

If no output file is specified, the seed is printed to stdout.

Example:
  ledgerberry keys generate
  ledgerberry keys generate node_key.seed`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKeysGenerate,
}

var keysShowCmd = &cobra.Command{
	Use:   "show <key-file>",
	Short: "Show the public key and address of a key file",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysShow,
}

func init() {
	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysShowCmd)
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	key, err := types.GeneratePrivateKey()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		fmt.Fprintln(out, hex.EncodeToString(key.Seed()))
		fmt.Fprintf(cmd.ErrOrStderr(), "\nAddress: %s\n", key.Address())
		return nil
	}

	outputPath := args[0]
	if _, err := os.Stat(outputPath); err == nil {
		return fmt.Errorf("%s already exists", outputPath)
	}
	if err := node.SaveKey(outputPath, key); err != nil {
		return err
	}
	fmt.Fprintf(out, "Generated key: %s\n", outputPath)
	fmt.Fprintf(out, "Address: %s\n", key.Address())
	return nil
}

func runKeysShow(cmd *cobra.Command, args []string) error {
	key, err := node.LoadKey(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Public Key: %s\n", hex.EncodeToString(key.PublicKey()))
	fmt.Fprintf(out, "Address:    %s\n", key.Address())
	return nil
}
