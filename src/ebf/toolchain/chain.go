package toolchain

import (
	"github.com/bitswalk/ebf/src/common/errors"
	"github.com/bitswalk/ebf/src/ebf/download"
)

// ProviderChain instantiates providers from their configured names, in the
// given order. Names match what each provider reports from Name().
func ProviderChain(names []string, client *download.Client) ([]Provider, error) {
	if len(names) == 0 {
		return nil, errors.ErrConfigInvalid.WithMessage("toolchain_order lists no providers")
	}
	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		switch name {
		case "vitis":
			providers = append(providers, NewVitisProvider())
		case "vivado":
			providers = append(providers, NewVivadoProvider())
		case "arm-gnu":
			providers = append(providers, NewARMGNUProvider(client))
		case "system":
			providers = append(providers, NewSystemProvider())
		case "bare-metal":
			providers = append(providers, NewBareMetalProvider())
		default:
			return nil, errors.ErrConfigInvalid.WithMessagef("unknown toolchain provider %q", name)
		}
	}
	return providers, nil
}
