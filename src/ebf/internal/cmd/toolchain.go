package cmd

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitswalk/ebf/src/ebf/download"
	"github.com/bitswalk/ebf/src/ebf/internal/output"
	"github.com/bitswalk/ebf/src/ebf/toolchain"
)

var toolchainCmd = &cobra.Command{
	Use:   "toolchain",
	Short: "Inspect toolchain resolution",
}

var toolchainResolveCmd = &cobra.Command{
	Use:   "resolve <arch>",
	Short: "Resolve the toolchain for an architecture",
	Long: `Walks the provider chain (bundled vendor tools, downloadable ARM GNU
release, system PATH) and reports which toolchain a build would use.
Arch is one of arm, arm64, microblaze.`,
	Args: cobra.ExactArgs(1),
	RunE: runToolchainResolve,
}

var toolchainListCmd = &cobra.Command{
	Use:   "list <arch>",
	Short: "Probe every toolchain provider for an architecture",
	Long: `Probes each provider in preference order and reports whether it could
supply a toolchain, without installing anything. The ARM GNU download
provider only reports a cache hit or miss here.`,
	Args: cobra.ExactArgs(1),
	RunE: runToolchainList,
}

func init() {
	toolchainResolveCmd.Flags().String("vivado-version", "", "Preferred vendor tool release")
	toolchainResolveCmd.Flags().Bool("bare-metal", false, "Resolve the standalone bare-metal toolchain")

	toolchainCmd.AddCommand(toolchainResolveCmd)
	toolchainCmd.AddCommand(toolchainListCmd)
}

func runToolchainResolve(cmd *cobra.Command, args []string) error {
	wantVersion, _ := cmd.Flags().GetString("vivado-version")
	if wantVersion == "" {
		wantVersion = cfg.VivadoVersion
	}
	bareMetal, _ := cmd.Flags().GetBool("bare-metal")

	dl := download.NewClient(&http.Client{Timeout: 30 * time.Minute})
	dl.ShowProgress = true
	resolver, err := newToolchainResolver(dl)
	if err != nil {
		return err
	}

	desc, err := resolver.Resolve(cmd.Context(), toolchain.Request{
		Arch:        toolchain.Arch(args[0]),
		WantVersion: wantVersion,
		CacheDir:    cfg.CacheDir,
		BareMetal:   bareMetal,
	})
	if err != nil {
		return err
	}

	if getOutputFormat() == "json" {
		return output.PrintJSON(desc)
	}
	rows := [][]string{
		{"Kind", string(desc.Kind)},
		{"Source", desc.Source},
		{"Version", desc.Version},
	}
	if desc.Root != "" {
		rows = append(rows, []string{"Root", desc.Root})
	}
	if prefix := desc.CrossCompile(toolchain.Arch(args[0])); prefix != "" {
		rows = append(rows, []string{"Cross prefix", prefix})
	}
	output.PrintTable([]string{"FIELD", "VALUE"}, rows)
	return nil
}

func runToolchainList(cmd *cobra.Command, args []string) error {
	dl := download.NewClient(nil)
	resolver, err := newToolchainResolver(dl)
	if err != nil {
		return err
	}
	req := toolchain.Request{
		Arch:        toolchain.Arch(args[0]),
		WantVersion: cfg.VivadoVersion,
		CacheDir:    cfg.CacheDir,
		CheckOnly:   true,
	}

	type probeRow struct {
		Provider  string `json:"provider"`
		Available bool   `json:"available"`
		Version   string `json:"version,omitempty"`
		Reason    string `json:"reason,omitempty"`
	}
	var probes []probeRow
	for _, p := range resolver.Providers() {
		probe, err := p.Probe(cmd.Context(), req)
		if err != nil {
			return err
		}
		row := probeRow{Provider: p.Name(), Available: probe.Available, Reason: probe.Reason}
		if probe.Descriptor != nil {
			row.Version = probe.Descriptor.Version
		}
		probes = append(probes, row)
	}

	if getOutputFormat() == "json" {
		return output.PrintJSON(probes)
	}
	rows := make([][]string, 0, len(probes))
	for _, p := range probes {
		status := "available"
		detail := p.Version
		if !p.Available {
			status = "unavailable"
			detail = p.Reason
		}
		rows = append(rows, []string{p.Provider, status, detail})
	}
	output.PrintTable([]string{"PROVIDER", "STATUS", "DETAIL"}, rows)
	return nil
}
