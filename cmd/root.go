package cmd

import (
	"fmt"
	"github.com/ValentinKolb/hstat/cmd/sim"
	"github.com/ValentinKolb/hstat/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "hstat",
		Short: "hierarchical statistics aggregation engine",
		Long: fmt.Sprintf(`hstat (v%s)

A hierarchical statistics aggregation engine library written in Go,
tracking per-CPU deltas on a tree of accounting nodes and folding them
into hierarchy-propagated totals on demand.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of hstat",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hstat v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(sim.SimCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
