package cardano

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

type HexString string

func (h HexString) Bytes() []byte {
	b, _ := hex.DecodeString(string(h))
	return b
}

func (h HexString) Valid() bool {
	_, err := hex.DecodeString(string(h))
	return err == nil
}

func (h HexString) String() string {
	return string(h)
}

type HexBytes []byte

func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hex.EncodeToString(h) + `"`), nil
}

func (h *HexBytes) UnmarshalJSON(data []byte) (err error) {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.Wrapf(ErrValueParse, "expected hex string, got %s", string(data))
	}
	decoded, err := hex.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return errors.Wrapf(ErrValueParse, "invalid hex: %v", err)
	}
	*h = decoded
	return
}

// AssetNameFromASCII hex-encodes a human-readable asset name the way it
// appears on chain within an asset unit identifier.
func AssetNameFromASCII(name string) HexString {
	return HexString(hex.EncodeToString([]byte(name)))
}

// AssetNameToASCII is the inverse of AssetNameFromASCII. It fails on names
// that are not valid hex; non-printable bytes are the caller's problem.
func AssetNameToASCII(name HexString) (ascii string, err error) {
	b, err := hex.DecodeString(string(name))
	if err != nil {
		err = errors.Wrapf(ErrValueParse, "asset name is not hex: %v", err)
		return
	}
	ascii = string(b)
	return
}
