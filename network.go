package cardano

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	NetworkMainNet Network = "mainnet"
	NetworkPreProd Network = "preprod"
	NetworkPreview Network = "preview"
	NetworkGuild   Network = "guild"
	NetworkSancho  Network = "sancho"
	NetworkCustom  Network = "custom"
)

type Network string

func (n Network) Valid() bool {
	switch n {
	case NetworkMainNet, NetworkPreProd, NetworkPreview, NetworkGuild, NetworkSancho, NetworkCustom:
		return true
	}
	return false
}

func (n Network) Validate() (err error) {
	if !n.Valid() {
		err = errors.Wrapf(ErrUnsupportedNetwork, "'%s'", n)
	}
	return
}

type NetworkMagic uint64

const (
	NetworkMagicMainNet NetworkMagic = 764824073
	NetworkMagicPreProd NetworkMagic = 1
	NetworkMagicPreview NetworkMagic = 2
	NetworkMagicSancho  NetworkMagic = 4
	NetworkMagicGuild   NetworkMagic = 141
)

func (n Network) Magic() (magic NetworkMagic, err error) {
	switch n {
	case NetworkMainNet:
		magic = NetworkMagicMainNet
	case NetworkPreProd:
		magic = NetworkMagicPreProd
	case NetworkPreview:
		magic = NetworkMagicPreview
	case NetworkSancho:
		magic = NetworkMagicSancho
	case NetworkGuild:
		magic = NetworkMagicGuild
	default:
		err = errors.Wrapf(ErrUnsupportedNetwork, "no fixed magic for network '%s'", n)
	}
	return
}

// CliArgs returns the network selector flags expected by cardano-cli.
// A custom network must carry its own magic; every fixed network resolves
// to its well-known constant.
func (n Network) CliArgs(customMagic NetworkMagic) (args []string, err error) {
	if err = n.Validate(); err != nil {
		return
	}

	if n == NetworkMainNet {
		args = []string{"--mainnet"}
		return
	}

	magic := customMagic
	if n != NetworkCustom {
		magic, err = n.Magic()
		if err != nil {
			return
		}
	}
	if magic == 0 {
		err = errors.Wrapf(ErrUnsupportedNetwork, "custom network requires a magic")
		return
	}

	args = []string{"--testnet-magic", fmt.Sprintf("%d", magic)}
	return
}
