// Package cmd wires the corald command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for corald. It is called once in main.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "corald",
		Short: "coral peer-to-peer poker node",
		Long: `corald runs one coral node: a websocket mesh peer that plays
commit-reveal poker hands with other nodes, an ABCI escrow ledger for
funding and settlement, and a local archive of finished hands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./coral.yaml and ~/.coral/coral.yaml)")

	rootCmd.AddCommand(newStartCmd(&cfgFile))
	rootCmd.AddCommand(newDemoCmd(&cfgFile))
	rootCmd.AddCommand(newHandsCmd(&cfgFile))
	return rootCmd
}
