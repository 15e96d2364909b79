package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitswalk/ebf/src/ebf/download"
	"github.com/bitswalk/ebf/src/ebf/execute"
	"github.com/bitswalk/ebf/src/ebf/history"
	"github.com/bitswalk/ebf/src/ebf/internal/output"
	"github.com/bitswalk/ebf/src/ebf/pipeline"
	"github.com/bitswalk/ebf/src/ebf/repo"
	"github.com/bitswalk/ebf/src/ebf/target"
	"github.com/bitswalk/ebf/src/ebf/toolchain"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a firmware target",
	Long: `Builds one target through its full pipeline: source checkout,
configuration, compilation and artifact packaging. Interrupted builds
resume at the stage that failed.`,
}

var buildKernelCmd = &cobra.Command{
	Use:   "kernel <platform>",
	Short: "Build a Linux kernel",
	Long: `Builds the Linux kernel for a platform (zynq, zynqmp, versal,
microblaze) along with its device trees.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuildKernel,
}

var buildHDLCmd = &cobra.Command{
	Use:   "hdl <project> <carrier>",
	Short: "Build an HDL design",
	Long: `Synthesizes an FPGA design for a project/carrier pair and captures
the exported hardware description (.xsa) and bitstream.`,
	Args: cobra.ExactArgs(2),
	RunE: runBuildHDL,
}

var buildNoOSCmd = &cobra.Command{
	Use:   "noos <project>",
	Short: "Build bare-metal no-OS firmware",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuildNoOS,
}

var buildBootCmd = &cobra.Command{
	Use:   "boot <name>",
	Short: "Assemble a boot image",
	Long: `Assembles a BOOT.BIN from the hardware export, u-boot, ARM Trusted
Firmware and a generated FSBL. Components without a --uboot/--atf image
are checked out and built from source first.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuildBoot,
}

func init() {
	buildCmd.PersistentFlags().String("ref", "", "Branch, tag or commit to build (default from config)")
	buildCmd.PersistentFlags().String("url", "", "Repository URL override")
	buildCmd.PersistentFlags().Bool("script", false, "Record a build script instead of building")
	buildCmd.PersistentFlags().Bool("clean", false, "Run make clean before building")
	buildCmd.PersistentFlags().String("vivado-version", "", "Preferred vendor tool release")
	buildCmd.PersistentFlags().Bool("publish", false, "Publish artifacts to the configured store after the build")

	buildKernelCmd.Flags().StringSlice("dtb", nil, "Device tree blobs to build (repeatable)")
	buildKernelCmd.Flags().String("defconfig", "", "Defconfig override")
	buildKernelCmd.Flags().String("rootfs-url", "", "Initramfs URL override (microblaze)")

	buildHDLCmd.Flags().Bool("ignore-version-check", false, "Build even when the design pins another Vivado release")
	buildHDLCmd.Flags().Int("max-ooc-jobs", 0, "Cap out-of-context synthesis jobs")

	buildNoOSCmd.Flags().String("platform", "xilinx", "no-OS platform (xilinx, stm32, linux)")
	buildNoOSCmd.Flags().String("profile", "", "Build profile")
	buildNoOSCmd.Flags().Bool("iiod", false, "Enable the IIO daemon")
	buildNoOSCmd.Flags().String("hardware", "", "Hardware description file (.xsa/.hdf)")

	buildBootCmd.Flags().String("xsa", "", "Hardware export file or directory to search")
	buildBootCmd.Flags().String("uboot", "", "Prebuilt u-boot.elf (default: build from source)")
	buildBootCmd.Flags().String("atf", "", "Prebuilt bl31.elf (default: build from source)")
	buildBootCmd.Flags().String("bitstream", "", "Bitstream to pack into the boot image")
	buildBootCmd.Flags().String("soc", "zynqmp", "Target SoC family: zynq or zynqmp")

	buildCmd.AddCommand(buildKernelCmd)
	buildCmd.AddCommand(buildHDLCmd)
	buildCmd.AddCommand(buildNoOSCmd)
	buildCmd.AddCommand(buildBootCmd)
}

func runBuildKernel(cmd *cobra.Command, args []string) error {
	var opts []target.Option
	if dtbs, _ := cmd.Flags().GetStringSlice("dtb"); len(dtbs) > 0 {
		opts = append(opts, target.WithDTBs(dtbs...))
	}
	if defconfig, _ := cmd.Flags().GetString("defconfig"); defconfig != "" {
		opts = append(opts, target.WithDefconfig(defconfig))
	}
	rootfs, _ := cmd.Flags().GetString("rootfs-url")
	if rootfs == "" {
		rootfs = cfg.RootfsURL
	}
	if rootfs != "" {
		opts = append(opts, target.WithRootfsURL(rootfs))
	}

	tgt, err := target.KernelPlatform(args[0], opts...)
	if err != nil {
		return err
	}
	return runBuild(cmd, tgt)
}

func runBuildHDL(cmd *cobra.Command, args []string) error {
	tgt := target.HDLTarget(args[0], args[1])
	return runBuild(cmd, tgt)
}

func runBuildNoOS(cmd *cobra.Command, args []string) error {
	platform, _ := cmd.Flags().GetString("platform")
	var opts []target.Option
	if profile, _ := cmd.Flags().GetString("profile"); profile != "" {
		opts = append(opts, target.WithProfile(profile))
	}
	if iiod, _ := cmd.Flags().GetBool("iiod"); iiod {
		opts = append(opts, target.WithIIOD(true))
	}
	if hw, _ := cmd.Flags().GetString("hardware"); hw != "" {
		opts = append(opts, target.WithHardwareFile(hw))
	}

	tgt := target.NoOSTarget(args[0], platform, opts...)
	return runBuild(cmd, tgt)
}

func runBuildBoot(cmd *cobra.Command, args []string) error {
	xsa, _ := cmd.Flags().GetString("xsa")
	uboot, _ := cmd.Flags().GetString("uboot")
	atf, _ := cmd.Flags().GetString("atf")
	bitstream, _ := cmd.Flags().GetString("bitstream")
	soc, _ := cmd.Flags().GetString("soc")

	opts := []target.Option{
		target.WithBootXSA(xsa),
		target.WithBootUBoot(uboot),
		target.WithBootATF(atf),
		target.WithBootBitstream(bitstream),
	}
	tgt := target.BootTarget(args[0], opts...)
	if soc == "zynq" {
		tgt = target.New(target.KindBoot, args[0], toolchain.ArchARM, opts...)
	}
	return runBuild(cmd, tgt)
}

// runBuild wires a pipeline context for the target and drives it
func runBuild(cmd *cobra.Command, tgt target.Descriptor) error {
	repoCfg := cfg.RepoFor(string(tgt.Kind()))
	scriptMode, _ := cmd.Flags().GetBool("script")
	ref, _ := cmd.Flags().GetString("ref")
	if ref == "" {
		ref = repoCfg.Ref
	}
	url, _ := cmd.Flags().GetString("url")
	if url == "" {
		url = repoCfg.URL
	}
	wantVersion, _ := cmd.Flags().GetString("vivado-version")
	if wantVersion == "" {
		wantVersion = cfg.VivadoVersion
	}

	workDir := filepath.Join(cfg.WorkDir, string(tgt.Kind())+"-"+tgt.Name())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return err
	}

	var exec execute.Executor
	var script *execute.ScriptWriter
	if scriptMode {
		script = execute.NewScriptWriter(scriptPathFor(workDir, tgt))
		exec = script
	} else {
		runner, err := execute.NewRunner(filepath.Join(workDir, "build.log"))
		if err != nil {
			return err
		}
		defer runner.Close()
		exec = runner
	}

	dl := download.NewClient(&http.Client{Timeout: 30 * time.Minute})
	dl.ShowProgress = !scriptMode

	resolver, err := newToolchainResolver(dl)
	if err != nil {
		return err
	}

	pc := &pipeline.Context{
		Target:    tgt,
		Exec:      exec,
		Repo:      repo.NewGit(exec),
		Resolver:  resolver,
		Download:  dl,
		WorkDir:   workDir,
		SourceDir: filepath.Join(workDir, "src"),
		OutputDir: pipeline.OutputDirFor(cfg.OutputDir, ref, tgt),
		RepoURL:   url,
		Ref:       ref,
		Jobs:      cfg.Jobs,
		CacheDir:  cfg.CacheDir,

		WantVersion: wantVersion,
		MaxOOCJobs:  cfg.MaxOOCJobs,
		ScriptMode:  scriptMode,

		UBootURL: cfg.UBoot.URL,
		UBootRef: cfg.UBoot.Ref,
		ATFURL:   cfg.ATF.URL,
		ATFRef:   cfg.ATF.Ref,
	}
	if tgt.Kind() == target.KindHDL {
		pc.IgnoreVersionCheck, _ = cmd.Flags().GetBool("ignore-version-check")
		if n, _ := cmd.Flags().GetInt("max-ooc-jobs"); n > 0 {
			pc.MaxOOCJobs = n
		}
	}

	plan, err := pipeline.NewPlan(pc)
	if err != nil {
		return err
	}

	if clean, _ := cmd.Flags().GetBool("clean"); clean && !scriptMode {
		if _, err := os.Stat(pc.SourceDir); err == nil {
			if err := plan.Clean(cmd.Context(), false); err != nil {
				return err
			}
		}
	}

	result, runErr := plan.Run(cmd.Context())

	if scriptMode {
		if runErr != nil {
			return runErr
		}
		if err := script.Save(); err != nil {
			return err
		}
		result.ScriptPath = script.Path()
		output.PrintMessage("Build script written to " + script.Path())
		return nil
	}

	recordBuild(result)

	if runErr != nil {
		printResult(result)
		return runErr
	}
	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		if err := publishResult(cmd.Context(), result); err != nil {
			return err
		}
	}
	return printResult(result)
}

// scriptPathFor names the recorded build script after the target
func scriptPathFor(workDir string, tgt target.Descriptor) string {
	name := fmt.Sprintf("build_%s_%s.sh", tgt.Kind(), strings.ReplaceAll(tgt.Platform(), "/", "-"))
	return filepath.Join(workDir, name)
}

// newToolchainResolver builds the provider chain in the configured
// preference order (toolchain_order); the default puts bundled vendor
// compilers first, then a downloaded ARM GNU release, then the PATH
func newToolchainResolver(dl *download.Client) (*toolchain.Resolver, error) {
	providers, err := toolchain.ProviderChain(cfg.ToolchainOrder, dl)
	if err != nil {
		return nil, err
	}
	return toolchain.NewResolver(providers...), nil
}

// recordBuild appends the outcome to the local ledger. Ledger trouble is
// logged, not fatal: the build itself already succeeded or failed on its
// own terms.
func recordBuild(result *pipeline.Result) {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		log.Warn("Could not open build ledger", "error", err)
		return
	}
	defer store.Close()

	entry := &history.Entry{
		Kind:      result.Kind,
		Target:    result.Target,
		Arch:      result.Arch,
		Ref:       result.Ref,
		Commit:    result.Commit,
		State:     string(result.State),
		Degraded:  result.Degraded,
		OutputDir: result.OutputDir,
		Error:     result.Error,
		StartedAt: result.StartedAt,
		EndedAt:   result.EndedAt,
	}
	if result.Toolchain != nil {
		entry.Toolchain = result.Toolchain.Summary()
	}
	if err := store.Add(entry); err != nil {
		log.Warn("Could not record build", "error", err)
	}
}

// publishResult pushes the output directory to the configured store
func publishResult(ctx context.Context, result *pipeline.Result) error {
	if result.OutputDir == "" {
		return nil
	}
	backend, err := newStorageBackend(ctx)
	if err != nil {
		return err
	}
	prefix := path.Join(result.Kind, result.Target, strings.ReplaceAll(result.Ref, "/", "_"))
	keys, err := publishDir(ctx, backend, result.OutputDir, prefix)
	if err != nil {
		return err
	}
	output.PrintMessage(fmt.Sprintf("Published %d artifacts to %s", len(keys), backend.Location()))
	return nil
}

// printResult renders the build outcome
func printResult(result *pipeline.Result) error {
	if getOutputFormat() == "json" {
		return output.PrintJSON(result)
	}

	status := string(result.State)
	if result.Degraded {
		status += " (degraded)"
	}
	rows := [][]string{
		{"Target", result.Target},
		{"Kind", result.Kind},
		{"Ref", result.Ref},
		{"State", status},
		{"Duration", result.Duration().Round(time.Second).String()},
	}
	if result.Commit != "" {
		rows = append(rows, []string{"Commit", result.Commit})
	}
	if result.OutputDir != "" {
		rows = append(rows, []string{"Output", result.OutputDir})
	}
	for _, missing := range result.Missing {
		rows = append(rows, []string{"Missing", missing})
	}
	for _, so := range result.StageOutcomes {
		if so.ExitCode != 0 {
			rows = append(rows, []string{"Stage " + string(so.Stage), fmt.Sprintf("exit code %d", so.ExitCode)})
		}
	}
	output.PrintTable([]string{"FIELD", "VALUE"}, rows)

	for _, so := range result.StageOutcomes {
		if so.ExitCode == 0 || len(so.OutputTail) == 0 {
			continue
		}
		output.PrintMessage(fmt.Sprintf("Last output from stage %s:", so.Stage))
		for _, line := range so.OutputTail {
			output.PrintMessage("  " + line)
		}
	}
	return nil
}
