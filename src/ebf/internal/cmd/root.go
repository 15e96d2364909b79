// Package cmd implements the ebf command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitswalk/ebf/src/common/cli"
	"github.com/bitswalk/ebf/src/common/logs"
	"github.com/bitswalk/ebf/src/common/version"
	"github.com/bitswalk/ebf/src/ebf/artifact"
	"github.com/bitswalk/ebf/src/ebf/config"
	"github.com/bitswalk/ebf/src/ebf/download"
	"github.com/bitswalk/ebf/src/ebf/execute"
	"github.com/bitswalk/ebf/src/ebf/history"
	"github.com/bitswalk/ebf/src/ebf/pipeline"
	"github.com/bitswalk/ebf/src/ebf/repo"
	"github.com/bitswalk/ebf/src/ebf/storage"
	"github.com/bitswalk/ebf/src/ebf/toolchain"
)

var (
	// VersionInfo holds version information - set at build time via ldflags
	VersionInfo = version.New()

	// Global logger instance
	log *logs.Logger

	// Configuration file path
	cfgFile string

	// Output format (table or json)
	outputFormat string

	// Loaded tool configuration
	cfg *config.Config
)

// Linker variables - set via ldflags at build time
var (
	Version        = "dev"
	ReleaseName    = "Anvil"
	ReleaseVersion = "0.0.0"
	BuildDate      = "unknown"
	GitCommit      = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "ebf",
	Short: "Embedded build forge",
	Long: `ebf builds embedded firmware from source: Linux kernels for Zynq,
ZynqMP, Versal and MicroBlaze platforms, HDL bitstreams, bare-metal
no-OS firmware and composed boot images.

Toolchains are resolved automatically: bundled vendor compilers, a
downloaded ARM GNU release or the cross compilers already on the PATH.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command
func Execute() {
	VersionInfo.Version = Version
	VersionInfo.ReleaseName = ReleaseName
	VersionInfo.ReleaseVersion = ReleaseVersion
	VersionInfo.BuildDate = BuildDate
	VersionInfo.GitCommit = GitCommit

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cli.RegisterConfigFlag(rootCmd, &cfgFile, "~/.config/ebf/ebf.yaml")
	cli.RegisterLogFlags(rootCmd)

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().String("work-dir", "", "Base working directory")
	rootCmd.PersistentFlags().Int("jobs", 0, "Parallel make jobs (0 = all CPUs)")

	_ = viper.BindPFlag("work_dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	_ = viper.BindPFlag("jobs", rootCmd.PersistentFlags().Lookup("jobs"))

	config.SetDefaults()

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(toolchainCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and environment, then loads the typed
// configuration and propagates the logger
func initConfig() error {
	opts := cli.ConfigOptions{
		ConfigName: "ebf",
		ConfigType: "yaml",
		EnvPrefix:  "EBF",
		SearchPaths: []string{
			"/etc/ebf",
			"$HOME/.config/ebf",
			"$HOME/.ebf",
		},
	}
	opts.ConfigFile = cfgFile

	if err := cli.InitConfig(opts); err != nil {
		return err
	}

	log = cli.InitLogger("ebf")
	toolchain.SetLogger(log)
	execute.SetLogger(log)
	pipeline.SetLogger(log)
	repo.SetLogger(log)
	download.SetLogger(log)
	artifact.SetLogger(log)
	storage.SetLogger(log)
	history.SetLogger(log)

	var err error
	cfg, err = config.Load()
	return err
}

// getOutputFormat returns the selected output format
func getOutputFormat() string {
	if outputFormat == "json" {
		return "json"
	}
	return "table"
}
