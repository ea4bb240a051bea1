package cardano

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/pkg/errors"
)

// Address header types 14 and 15 are reward (stake) credentials; everything
// below 8 is a payment address shape.
const (
	addressHeaderStakeKey    = 0x0e
	addressHeaderStakeScript = 0x0f
)

func addressPrefixes(network Network) (payment, stake string) {
	if network == NetworkMainNet {
		return "addr", "stake"
	}
	return "addr_test", "stake_test"
}

// DecodeBech32Address decodes a bech32 address of any length into its human
// readable prefix and raw payload bytes.
func DecodeBech32Address(encoded string) (prefix string, payload []byte, err error) {
	prefix, data, err2 := bech32.DecodeNoLimit(strings.TrimSpace(encoded))
	if err2 != nil {
		err = errors.Wrapf(ErrInvalidAddress, "bech32 decode '%s': %v", encoded, err2)
		return
	}

	payload, err2 = bech32.ConvertBits(data, 5, 8, false)
	if err2 != nil {
		err = errors.Wrapf(ErrInvalidAddress, "bech32 bit conversion: %v", err2)
		return
	}

	return
}

// ValidatePaymentAddress checks that an address decodes and carries the
// payment prefix for the given network.
func ValidatePaymentAddress(encoded string, network Network) (err error) {
	prefix, payload, err := DecodeBech32Address(encoded)
	if err != nil {
		return
	}

	want, _ := addressPrefixes(network)
	if prefix != want {
		return errors.Wrapf(ErrInvalidAddress, "expected prefix '%s' on %s, got '%s'", want, network, prefix)
	}
	if len(payload) == 0 {
		return errors.Wrap(ErrInvalidAddress, "empty address payload")
	}

	return
}

// ValidateStakeAddress checks that an address decodes, carries the stake
// prefix for the given network, and actually has a staking part.
func ValidateStakeAddress(encoded string, network Network) (err error) {
	prefix, payload, err := DecodeBech32Address(encoded)
	if err != nil {
		return
	}

	_, want := addressPrefixes(network)
	if prefix != want {
		return errors.Wrapf(ErrInvalidAddress, "expected prefix '%s' on %s, got '%s'", want, network, prefix)
	}
	if len(payload) == 0 {
		return errors.Wrap(ErrInvalidAddress, "empty address payload")
	}

	headerType := payload[0] >> 4
	if headerType != addressHeaderStakeKey && headerType != addressHeaderStakeScript {
		return errors.Wrapf(ErrInvalidAddress, "address '%s' has no staking part", encoded)
	}

	return
}
