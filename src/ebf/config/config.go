// Package config assembles the build tool configuration from defaults,
// config file and environment via Viper.
package config

import (
	"runtime"

	"github.com/spf13/viper"

	"github.com/bitswalk/ebf/src/common/paths"
	"github.com/bitswalk/ebf/src/ebf/storage"
)

// RepoConfig points at one upstream source tree
type RepoConfig struct {
	URL string `mapstructure:"url"`
	Ref string `mapstructure:"ref"`
}

// Config is the resolved tool configuration
type Config struct {
	// WorkDir is the base working directory: per-target checkouts, state
	// and logs live under it
	WorkDir string `mapstructure:"work_dir"`

	// CacheDir stores downloaded toolchains
	CacheDir string `mapstructure:"cache_dir"`

	// OutputDir is where packaged build outputs land
	OutputDir string `mapstructure:"output_dir"`

	// HistoryPath is the SQLite build ledger location
	HistoryPath string `mapstructure:"history_path"`

	// Jobs is the make parallelism, 0 meaning all CPUs
	Jobs int `mapstructure:"jobs"`

	// VivadoVersion is the preferred vendor tool release
	VivadoVersion string `mapstructure:"vivado_version"`

	// ToolchainOrder is the provider preference order for toolchain
	// resolution (vitis, vivado, arm-gnu, system, bare-metal)
	ToolchainOrder []string `mapstructure:"toolchain_order"`

	// MaxOOCJobs caps out-of-context synthesis parallelism
	MaxOOCJobs int `mapstructure:"max_ooc_jobs"`

	// RootfsURL overrides the initramfs download used by MicroBlaze kernel
	// builds; empty keeps the platform default
	RootfsURL string `mapstructure:"rootfs_url"`

	// Repos are the upstream trees per project family
	Kernel RepoConfig `mapstructure:"kernel"`
	HDL    RepoConfig `mapstructure:"hdl"`
	NoOS   RepoConfig `mapstructure:"noos"`

	// UBoot and ATF are the boot component trees built from source when a
	// boot image has no prebuilt u-boot.elf or bl31.elf configured
	UBoot RepoConfig `mapstructure:"uboot"`
	ATF   RepoConfig `mapstructure:"atf"`

	// Storage is the artifact publish backend
	Storage storage.Config `mapstructure:"storage"`
}

// SetDefaults registers the configuration defaults on the global Viper
func SetDefaults() {
	viper.SetDefault("work_dir", "~/.ebf/work")
	viper.SetDefault("cache_dir", "~/.ebf/cache")
	viper.SetDefault("output_dir", "~/.ebf/output")
	viper.SetDefault("history_path", "~/.ebf/history.db")
	viper.SetDefault("jobs", 0)
	viper.SetDefault("vivado_version", "")
	viper.SetDefault("toolchain_order", []string{"vitis", "vivado", "arm-gnu", "system", "bare-metal"})
	viper.SetDefault("max_ooc_jobs", 4)
	viper.SetDefault("rootfs_url", "")

	viper.SetDefault("kernel.url", "https://github.com/analogdevicesinc/linux.git")
	viper.SetDefault("kernel.ref", "main")
	viper.SetDefault("hdl.url", "https://github.com/analogdevicesinc/hdl.git")
	viper.SetDefault("hdl.ref", "main")
	viper.SetDefault("noos.url", "https://github.com/analogdevicesinc/no-OS.git")
	viper.SetDefault("noos.ref", "main")
	viper.SetDefault("uboot.url", "https://github.com/analogdevicesinc/u-boot.git")
	viper.SetDefault("uboot.ref", "master")
	viper.SetDefault("atf.url", "https://github.com/analogdevicesinc/arm-trusted-firmware.git")
	viper.SetDefault("atf.ref", "master")

	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local.basepath", "~/.ebf/published")
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.bucket", "ebf-artifacts")
	viper.SetDefault("storage.s3.usepathstyle", true)
}

// Load materializes the configuration from the global Viper state
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WorkDir = paths.Expand(cfg.WorkDir)
	cfg.CacheDir = paths.Expand(cfg.CacheDir)
	cfg.OutputDir = paths.Expand(cfg.OutputDir)
	cfg.HistoryPath = paths.Expand(cfg.HistoryPath)
	if cfg.Jobs <= 0 {
		cfg.Jobs = runtime.NumCPU()
	}
	return &cfg, nil
}

// RepoFor returns the configured repo for a project family. Families
// without an upstream tree of their own (boot images) get a zero value.
func (c *Config) RepoFor(kind string) RepoConfig {
	switch kind {
	case "kernel":
		return c.Kernel
	case "hdl":
		return c.HDL
	case "noos":
		return c.NoOS
	case "uboot":
		return c.UBoot
	case "atf":
		return c.ATF
	}
	return RepoConfig{}
}
