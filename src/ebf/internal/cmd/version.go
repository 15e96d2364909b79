package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bitswalk/ebf/src/ebf/internal/output"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE:  runVersion,
	// Version output needs no config file
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

func runVersion(cmd *cobra.Command, args []string) error {
	if outputFormat == "json" {
		return output.PrintJSON(VersionInfo.Map())
	}
	fmt.Println(VersionInfo.Full())
	return nil
}
