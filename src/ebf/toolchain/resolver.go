package toolchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitswalk/ebf/src/common/errors"
)

// Resolver walks an ordered list of providers and returns the first usable
// toolchain. The order is the preference order: once a provider reports an
// available toolchain, later providers are never probed.
type Resolver struct {
	providers []Provider
}

// NewResolver creates a resolver with the given provider preference order
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{providers: providers}
}

// Providers returns the configured provider order
func (r *Resolver) Providers() []Provider {
	return r.providers
}

// Resolve returns the first available toolchain for the request. When every
// provider reports unavailable, the returned error carries each provider's
// reason so the operator can see the full picture in one message.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Descriptor, error) {
	if len(r.providers) == 0 {
		return nil, errors.ErrToolchainNotFound.WithMessage("no toolchain providers configured")
	}

	var reasons []string
	for _, p := range r.providers {
		probe, err := p.Probe(ctx, req)
		if err != nil {
			return nil, err
		}
		if !probe.Available {
			log.Debug("Toolchain provider unavailable", "provider", p.Name(), "reason", probe.Reason)
			reasons = append(reasons, fmt.Sprintf("%s: %s", p.Name(), probe.Reason))
			continue
		}

		desc := probe.Descriptor
		if req.WantVersion != "" && desc.Version != "" && desc.Version != req.WantVersion {
			log.Warn("Toolchain version differs from requested",
				"provider", p.Name(),
				"want", req.WantVersion,
				"got", desc.Version,
			)
		}
		log.Info("Toolchain resolved",
			"provider", p.Name(),
			"kind", desc.Kind,
			"version", desc.Version,
			"arch", req.Arch,
		)
		return desc, nil
	}

	return nil, errors.ErrToolchainNotFound.WithMessagef(
		"no usable toolchain for %s: %s", req.Arch, strings.Join(reasons, "; "))
}
