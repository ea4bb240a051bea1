package cardano

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/blake2b"
)

func TestSplitAssetUnit_RoundTrip(t *testing.T) {
	policies := []string{
		strings.Repeat("ab", PolicyIdLength),
		strings.Repeat("00", PolicyIdLength),
		"279c909f348e533da5808898f87f9a14bb2c3dfbbacccd631d927a3f",
	}
	names := []string{
		"",
		"534e454b", // SNEK
		string(AssetNameFromASCII("hello")),
	}

	for _, policy := range policies {
		for _, name := range names {
			unit := policy + name

			gotPolicy, gotName, err := SplitAssetUnit(unit)
			if err != nil {
				t.Fatalf("split %s: %+v", unit, err)
			}
			if string(gotPolicy) != policy {
				t.Fatalf("policy mismatch: want %s, got %s", policy, gotPolicy)
			}
			if string(gotName) != name {
				t.Fatalf("asset name mismatch: want %s, got %s", name, gotName)
			}
			if JoinAssetUnit(gotPolicy, gotName) != unit {
				t.Fatalf("join did not round-trip %s", unit)
			}
		}
	}
}

func TestSplitAssetUnit_Invalid(t *testing.T) {
	for _, unit := range []string{"zz", "abcd", strings.Repeat("ab", PolicyIdLength-1)} {
		if _, _, err := SplitAssetUnit(unit); err == nil {
			t.Fatalf("expected error splitting '%s'", unit)
		}
	}
}

func TestAssetNameASCII_RoundTrip(t *testing.T) {
	if got := AssetNameFromASCII("hello"); got != "68656c6c6f" {
		t.Fatalf("expected 68656c6c6f, got %s", got)
	}

	for b := byte(0x20); b < 0x7f; b++ {
		name := string([]byte{b, b, b})
		ascii, err := AssetNameToASCII(AssetNameFromASCII(name))
		if err != nil {
			t.Fatalf("round trip '%s': %+v", name, err)
		}
		if ascii != name {
			t.Fatalf("round trip mismatch: want '%s', got '%s'", name, ascii)
		}
	}
}

func TestValue_Normalize(t *testing.T) {
	value := Value{Coin: 5}
	value.MultiAsset = MultiAsset{
		"aa": {},
		"bb": {"cc": 1},
	}
	value.Normalize()

	assert.NotContains(t, value.MultiAsset, HexString("aa"))
	assert.Contains(t, value.MultiAsset, HexString("bb"))

	empty := Value{Coin: 1, MultiAsset: MultiAsset{"aa": {}}}
	empty.Normalize()
	assert.Nil(t, empty.MultiAsset)
}

func TestValue_AddAsset(t *testing.T) {
	value := Value{}
	value.AddAsset("aa", "01", 2)
	value.AddAsset("aa", "01", 3)
	assert.Equal(t, uint64(5), value.MultiAsset["aa"]["01"])
}

func TestRedeemerKey(t *testing.T) {
	assert.Equal(t, RedeemerKey("spend:0"), NewRedeemerKey(RedeemerPurposeSpend, 0))
	assert.Equal(t, RedeemerKey("withdrawal:2"), NewRedeemerKey(NormalizeRedeemerPurpose("withdraw"), 2))
	assert.Equal(t, RedeemerPurposeMint, NormalizeRedeemerPurpose("mint"))
}

func TestEraForProtocolVersion(t *testing.T) {
	testCases := []struct {
		major uint64
		era   Era
	}{
		{0, EraByron},
		{2, EraShelley},
		{3, EraAllegra},
		{4, EraMary},
		{5, EraAlonzo},
		{8, EraBabbage},
		{9, EraConway},
		{10, EraConway},
	}

	for _, testCase := range testCases {
		if got := EraForProtocolVersion(testCase.major); got != testCase.era {
			t.Fatalf("major %d: expected %s, got %s", testCase.major, testCase.era, got)
		}
	}
}

func TestEra_EnvelopeType(t *testing.T) {
	assert.Equal(t, "Witnessed Tx ConwayEra", EraConway.EnvelopeType())
	assert.Equal(t, "Witnessed Tx BabbageEra", EraBabbage.EnvelopeType())

	era, err := ParseEra("conway")
	assert.Nil(t, err)
	assert.Equal(t, EraConway, era)

	_, err = ParseEra("futurama")
	assert.Error(t, err)
}

func TestTx_Id(t *testing.T) {
	body, err := cbor.Marshal(map[int]any{0: []byte{0x01}, 1: []byte{0x02}})
	assert.Nil(t, err)
	witnesses, err := cbor.Marshal(map[int]any{})
	assert.Nil(t, err)
	raw, err := cbor.Marshal([]cbor.RawMessage{body, witnesses, cbor.RawMessage{0xf5}, cbor.RawMessage{0xf6}})
	assert.Nil(t, err)

	tx, err := TxFromCBOR(raw)
	assert.Nil(t, err)

	id, err := tx.Id()
	assert.Nil(t, err)

	want := blake2b.Sum256(body)
	assert.Equal(t, TransactionId(hex.EncodeToString(want[:])), id)

	fromHex, err := TxFromHex(tx.Hex())
	assert.Nil(t, err)
	assert.Equal(t, tx.Bytes(), fromHex.Bytes())
}

func TestTxFromHex_Invalid(t *testing.T) {
	if _, err := TxFromHex("not-hex"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
	if _, err := TxFromCBOR([]byte{}); err == nil {
		t.Fatal("expected error for empty cbor")
	}
}
