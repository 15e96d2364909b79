package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitswalk/ebf/src/common/paths"
	"github.com/bitswalk/ebf/src/ebf/download"
)

// armReleaseForVivado maps a Xilinx release to the matching ARM GNU toolchain
// release. Xilinx documents which compiler each release was validated with;
// using a newer compiler against an older kernel tree invites build breaks.
var armReleaseForVivado = map[string]string{
	"2025.1": "13.3.rel1",
	"2023.2": "12.2.rel1",
	"2023.1": "12.2.rel1",
	"2022.2": "11.2-2022.02",
	"2022.1": "11.2-2022.02",
	"2021.2": "10.3-2021.07",
	"2021.1": "10.3-2021.07",
	"2020.3": "10.2-2020.11",
	"2020.2": "10.2-2020.11",
	"2020.1": "10.2-2020.11",
}

// defaultARMRelease is used when no Xilinx release maps the request
const defaultARMRelease = "13.3.rel1"

// Download mirrors tried in order. The armkeil blob store is the CDN the
// developer.arm.com download buttons resolve to; the media URL is the
// fallback when the CDN path is unavailable.
var armBaseURLs = []string{
	"https://armkeil.blob.core.windows.net/developer/Files/downloads/",
	"https://developer.arm.com/-/media/Files/downloads/",
}

// ARMGNUProvider downloads official ARM GNU toolchain releases and keeps the
// extracted trees in a local cache keyed by target triple and release.
type ARMGNUProvider struct {
	client *download.Client
}

// NewARMGNUProvider creates a download-backed provider
func NewARMGNUProvider(client *download.Client) *ARMGNUProvider {
	if client == nil {
		client = download.NewClient(nil)
	}
	return &ARMGNUProvider{client: client}
}

// Name returns the provider name
func (p *ARMGNUProvider) Name() string {
	return "arm-gnu"
}

// ARMRelease returns the toolchain release matching a Xilinx release,
// falling back to the newest supported release.
func ARMRelease(vivadoVersion string) string {
	if rel, ok := armReleaseForVivado[vivadoVersion]; ok {
		return rel
	}
	return defaultARMRelease
}

// targetTriple returns the download target for an architecture. Only the
// Linux-targeting ARM triples are published as prebuilt releases.
func targetTriple(arch Arch, bareMetal bool) string {
	if bareMetal {
		if arch == ArchARM {
			return "arm-none-eabi"
		}
		return ""
	}
	switch arch {
	case ArchARM:
		return "arm-none-linux-gnueabihf"
	case ArchARM64:
		return "aarch64-none-linux-gnu"
	}
	return ""
}

// archiveURLs builds the candidate download URLs for a release and target.
// The ARM download site changed layout twice: releases up to 10.x live under
// gnu-a/ with a gcc-arm- filename prefix, 11.2-2022.02 moved to gnu/ keeping
// the old prefix, and 11.3 onwards use gnu/ with the arm-gnu-toolchain-
// prefix.
func archiveURLs(release, target string) []string {
	family := "gnu"
	prefix := "arm-gnu-toolchain-"
	switch {
	case strings.HasPrefix(release, "10."):
		family = "gnu-a"
		prefix = "gcc-arm-"
	case release == "11.2-2022.02":
		prefix = "gcc-arm-"
	}

	filename := fmt.Sprintf("%s%s-x86_64-%s.tar.xz", prefix, release, target)
	urls := make([]string, 0, len(armBaseURLs))
	for _, base := range armBaseURLs {
		urls = append(urls, fmt.Sprintf("%s%s/%s/binrel/%s", base, family, release, filename))
	}
	return urls
}

// cacheKey identifies an extracted toolchain within the cache
func cacheKey(target, release string) string {
	return filepath.Join("arm", target+"-"+release)
}

// Probe returns the cached toolchain when present, otherwise downloads and
// extracts the release. The cache makes repeated probes for the same
// arch+version pure filesystem lookups with no network traffic.
func (p *ARMGNUProvider) Probe(ctx context.Context, req Request) (Probe, error) {
	target := targetTriple(req.Arch, req.BareMetal)
	if target == "" {
		return unavailable(fmt.Sprintf("no prebuilt ARM GNU release for %s", req.Arch)), nil
	}
	if req.CacheDir == "" {
		return unavailable("no cache directory configured for toolchain downloads"), nil
	}

	release := ARMRelease(req.WantVersion)
	cache, err := download.NewCache(req.CacheDir)
	if err != nil {
		return Probe{}, err
	}

	key := cacheKey(target, release)
	root := cache.Dir(key)
	if !cache.Has(key) {
		if req.CheckOnly {
			return unavailable(fmt.Sprintf("release %s for %s not cached", release, target)), nil
		}
		log.Info("Downloading ARM GNU toolchain", "release", release, "target", target)
		root, err = cache.Install(key, func(staging string) error {
			res, err := p.client.Fetch(ctx, archiveURLs(release, target), staging)
			if err != nil {
				return err
			}
			log.Debug("Toolchain archive fetched", "url", res.URL, "sha256", res.SHA256, "size", res.Size)
			if err := download.ExtractArchive(res.Path, staging, 1); err != nil {
				return err
			}
			return os.Remove(res.Path)
		})
		if err != nil {
			// Unreachable mirrors leave the next provider a chance;
			// only local faults abort resolution.
			if ctx.Err() != nil {
				return Probe{}, err
			}
			return unavailable(fmt.Sprintf("download failed: %v", err)), nil
		}
	}

	binDir := filepath.Join(root, "bin")
	if !paths.IsDir(binDir) {
		return unavailable(fmt.Sprintf("cached toolchain at %s has no bin directory", root)), nil
	}

	desc := &Descriptor{
		Kind:    KindARMDownload,
		Name:    "ARM GNU " + release,
		Version: release,
		Root:    root,
		Env: map[string]string{
			"PATH": binDir + string(os.PathListSeparator) + os.Getenv("PATH"),
		},
		Source: p.Name(),
	}
	switch req.Arch {
	case ArchARM:
		if req.BareMetal {
			desc.CrossCompileARM = "arm-none-eabi-"
		} else {
			desc.CrossCompileARM = "arm-none-linux-gnueabihf-"
		}
	case ArchARM64:
		desc.CrossCompileARM64 = "aarch64-none-linux-gnu-"
	}
	return Probe{Available: true, Descriptor: desc}, nil
}
