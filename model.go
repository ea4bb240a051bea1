package cardano

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// PolicyIdLength is the byte length of a minting policy hash. An asset unit
// identifier is the policy id immediately followed by the asset name, so the
// split point is fixed.
const PolicyIdLength = 28

const LovelaceUnit = "lovelace"

type TransactionId = HexString

// SplitAssetUnit splits a unit identifier into its policy id and asset name.
// The unit must be valid hex of at least PolicyIdLength bytes.
func SplitAssetUnit(unit string) (policyId, assetName HexString, err error) {
	raw, err2 := hex.DecodeString(unit)
	if err2 != nil {
		err = errors.Wrapf(ErrValueParse, "asset unit '%s' is not hex", unit)
		return
	}
	if len(raw) < PolicyIdLength {
		err = errors.Wrapf(ErrValueParse, "asset unit '%s' shorter than a policy id", unit)
		return
	}
	policyId = HexString(unit[:PolicyIdLength*2])
	assetName = HexString(unit[PolicyIdLength*2:])
	return
}

// JoinAssetUnit is the inverse of SplitAssetUnit.
func JoinAssetUnit(policyId, assetName HexString) string {
	return string(policyId) + string(assetName)
}

// MultiAsset maps policy id to asset name to quantity.
type MultiAsset map[HexString]map[HexString]uint64

// Value is a lovelace amount plus any native assets.
type Value struct {
	Coin       uint64     `json:"coin"`
	MultiAsset MultiAsset `json:"multiAsset,omitempty"`
}

// AddAsset accumulates a quantity under (policyId, assetName), creating the
// nested maps on first use.
func (v *Value) AddAsset(policyId, assetName HexString, quantity uint64) {
	if v.MultiAsset == nil {
		v.MultiAsset = MultiAsset{}
	}
	if v.MultiAsset[policyId] == nil {
		v.MultiAsset[policyId] = map[HexString]uint64{}
	}
	v.MultiAsset[policyId][assetName] += quantity
}

// Normalize removes empty policy entries left over from construction. A
// finalized Value handed to a caller never contains an empty policy map.
func (v *Value) Normalize() {
	for policy, assets := range v.MultiAsset {
		if len(assets) == 0 {
			delete(v.MultiAsset, policy)
		}
	}
	if len(v.MultiAsset) == 0 {
		v.MultiAsset = nil
	}
}

type UtxoKey struct {
	TxId  TransactionId `json:"txId"`
	Index uint64        `json:"index"`
}

type ScriptKind string

const (
	ScriptKindNative   ScriptKind = "native"
	ScriptKindPlutusV1 ScriptKind = "plutusV1"
	ScriptKindPlutusV2 ScriptKind = "plutusV2"
	ScriptKindPlutusV3 ScriptKind = "plutusV3"
)

// Script is a reference script attached to an output. Plutus scripts carry
// their CBOR bytes; native scripts carry the JSON body returned by the
// backend.
type Script struct {
	Kind  ScriptKind `json:"kind"`
	Bytes HexBytes   `json:"bytes,omitempty"`
	Json  []byte     `json:"json,omitempty"`
}

type UtxoOutput struct {
	Address     string    `json:"address"`
	Value       Value     `json:"value"`
	DatumHash   HexString `json:"datumHash,omitempty"`
	InlineDatum HexBytes  `json:"inlineDatum,omitempty"`
	Script      *Script   `json:"script,omitempty"`
}

type Utxo struct {
	Key    UtxoKey    `json:"key"`
	Output UtxoOutput `json:"output"`
}

// Snapshot helpers. Adapters cache what they fetch and hand out copies on
// every return, so a caller mutating a result can never change what a later
// caller receives.

func (v Value) clone() (out Value) {
	out.Coin = v.Coin
	if v.MultiAsset != nil {
		out.MultiAsset = make(MultiAsset, len(v.MultiAsset))
		for policy, assets := range v.MultiAsset {
			m := make(map[HexString]uint64, len(assets))
			for name, quantity := range assets {
				m[name] = quantity
			}
			out.MultiAsset[policy] = m
		}
	}
	return
}

func (u Utxo) clone() (out Utxo) {
	out = u
	out.Output.Value = u.Output.Value.clone()
	out.Output.InlineDatum = append(HexBytes(nil), u.Output.InlineDatum...)
	if u.Output.Script != nil {
		script := *u.Output.Script
		script.Bytes = append(HexBytes(nil), u.Output.Script.Bytes...)
		script.Json = append([]byte(nil), u.Output.Script.Json...)
		out.Output.Script = &script
	}
	return
}

func cloneUtxos(utxos []Utxo) []Utxo {
	if utxos == nil {
		return nil
	}
	out := make([]Utxo, len(utxos))
	for i := range utxos {
		out[i] = utxos[i].clone()
	}
	return out
}

type ChainTip struct {
	Height *uint64   `json:"height,omitempty"`
	Epoch  uint64    `json:"epoch"`
	Slot   uint64    `json:"slot"`
	Hash   HexString `json:"hash,omitempty"`
	Era    Era       `json:"era"`
}

type GenesisParameters struct {
	ActiveSlotsCoefficient float64      `json:"activeSlotsCoefficient"`
	EpochLength            uint64       `json:"epochLength"`
	MaxKESEvolutions       uint64       `json:"maxKesEvolutions"`
	MaxLovelaceSupply      uint64       `json:"maxLovelaceSupply"`
	NetworkMagic           NetworkMagic `json:"networkMagic"`
	SecurityParam          uint64       `json:"securityParam"`
	SlotLength             float64      `json:"slotLength"`
	SlotsPerKESPeriod      uint64       `json:"slotsPerKesPeriod"`
	SystemStart            time.Time    `json:"systemStart"`
	UpdateQuorum           uint64       `json:"updateQuorum"`
}

func (g *GenesisParameters) clone() *GenesisParameters {
	out := *g
	return &out
}

type ProtocolVersion struct {
	Major uint64 `json:"major"`
	Minor uint64 `json:"minor"`
}

// ProtocolParameters is the flat record of epoch-constant ledger parameters.
// Ratio-valued fields stay exact; missing optional fields decode to their
// zero value.
type ProtocolParameters struct {
	MinFeeConstant        uint64              `json:"minFeeConstant"`
	MinFeeCoefficient     uint64              `json:"minFeeCoefficient"`
	MaxBlockSize          uint64              `json:"maxBlockSize"`
	MaxTxSize             uint64              `json:"maxTxSize"`
	MaxBlockHeaderSize    uint64              `json:"maxBlockHeaderSize"`
	KeyDeposit            uint64              `json:"keyDeposit"`
	PoolDeposit           uint64              `json:"poolDeposit"`
	PoolInfluence         Rational            `json:"poolInfluence"`
	MonetaryExpansion     Rational            `json:"monetaryExpansion"`
	TreasuryExpansion     Rational            `json:"treasuryExpansion"`
	MinPoolCost           uint64              `json:"minPoolCost"`
	CoinsPerUtxoByte      uint64              `json:"coinsPerUtxoByte"`
	PriceMem              Rational            `json:"priceMem"`
	PriceStep             Rational            `json:"priceStep"`
	MaxTxExMem            uint64              `json:"maxTxExMem"`
	MaxTxExSteps          uint64              `json:"maxTxExSteps"`
	MaxBlockExMem         uint64              `json:"maxBlockExMem"`
	MaxBlockExSteps       uint64              `json:"maxBlockExSteps"`
	MaxValueSize          uint64              `json:"maxValueSize"`
	CollateralPercent     uint64              `json:"collateralPercent"`
	MaxCollateralInputs   uint64              `json:"maxCollateralInputs"`
	PoolRetireMaxEpoch    uint64              `json:"poolRetireMaxEpoch"`
	ProtocolVersion       ProtocolVersion     `json:"protocolVersion"`
	CostModels            map[string][]int64  `json:"costModels,omitempty"`
	PoolVotingThresholds  map[string]Rational `json:"poolVotingThresholds,omitempty"`
	DRepVotingThresholds  map[string]Rational `json:"drepVotingThresholds,omitempty"`
	GovActionDeposit      uint64              `json:"govActionDeposit"`
	DRepDeposit           uint64              `json:"drepDeposit"`
	GovActionLifetime     uint64              `json:"govActionLifetime"`
	DRepActivity          uint64              `json:"drepActivity"`
	CommitteeMinSize      uint64              `json:"committeeMinSize"`
	CommitteeMaxTermLimit uint64              `json:"committeeMaxTermLimit"`
}

func (p *ProtocolParameters) clone() *ProtocolParameters {
	out := *p
	if p.CostModels != nil {
		out.CostModels = make(map[string][]int64, len(p.CostModels))
		for lang, ops := range p.CostModels {
			out.CostModels[lang] = append([]int64(nil), ops...)
		}
	}
	out.PoolVotingThresholds = cloneRationalMap(p.PoolVotingThresholds)
	out.DRepVotingThresholds = cloneRationalMap(p.DRepVotingThresholds)
	return &out
}

func cloneRationalMap(in map[string]Rational) map[string]Rational {
	if in == nil {
		return nil
	}
	out := make(map[string]Rational, len(in))
	for name, r := range in {
		out[name] = r
	}
	return out
}

// EraForProtocolVersion maps a major protocol version to its era, for
// backends whose tip responses carry no era name.
func EraForProtocolVersion(major uint64) Era {
	switch {
	case major >= 9:
		return EraConway
	case major >= 7:
		return EraBabbage
	case major >= 5:
		return EraAlonzo
	case major == 4:
		return EraMary
	case major == 3:
		return EraAllegra
	case major == 2:
		return EraShelley
	default:
		return EraByron
	}
}

type StakeAddressInfo struct {
	Address        string `json:"address"`
	Active         bool   `json:"active"`
	RewardBalance  uint64 `json:"rewardBalance"`
	StakePool      string `json:"stakePool,omitempty"`
	VoteDelegation string `json:"voteDelegation,omitempty"`
}

type PoolRelayKind string

const (
	PoolRelayAddress   PoolRelayKind = "single-host-address"
	PoolRelayHostname  PoolRelayKind = "single-host-name"
	PoolRelayMultiHost PoolRelayKind = "multi-host-name"
)

type PoolRelay struct {
	Kind PoolRelayKind `json:"kind"`
	IPv4 string        `json:"ipv4,omitempty"`
	IPv6 string        `json:"ipv6,omitempty"`
	Host string        `json:"host,omitempty"`
	Port uint16        `json:"port,omitempty"`
}

type PoolMetadata struct {
	Url  string    `json:"url"`
	Hash HexString `json:"hash"`
}

type PoolParams struct {
	Operator      HexString     `json:"operator"`
	VrfKeyHash    HexString     `json:"vrfKeyHash"`
	Pledge        uint64        `json:"pledge"`
	Cost          uint64        `json:"cost"`
	Margin        Rational      `json:"margin"`
	RewardAccount string        `json:"rewardAccount"`
	Owners        []HexString   `json:"owners"`
	Relays        []PoolRelay   `json:"relays,omitempty"`
	Metadata      *PoolMetadata `json:"metadata,omitempty"`
}

// KESPeriodInfo feeds a pool operator's certificate-rotation decision and
// never mutates ledger state.
type KESPeriodInfo struct {
	OnChainOpCertCount uint64  `json:"onChainOpCertCount"`
	OnDiskOpCertCount  *uint64 `json:"onDiskOpCertCount,omitempty"`
	NextOpCertCount    uint64  `json:"nextOpCertCount"`
	KESStartPeriod     *uint64 `json:"kesStartPeriod,omitempty"`
}

type ExecutionUnits struct {
	Mem   uint64 `json:"mem"`
	Steps uint64 `json:"steps"`
}

type RedeemerPurpose string

const (
	RedeemerPurposeSpend       RedeemerPurpose = "spend"
	RedeemerPurposeMint        RedeemerPurpose = "mint"
	RedeemerPurposeCertificate RedeemerPurpose = "certificate"
	RedeemerPurposeWithdrawal  RedeemerPurpose = "withdrawal"
	RedeemerPurposeVoting      RedeemerPurpose = "voting"
	RedeemerPurposeProposing   RedeemerPurpose = "proposing"
)

// NormalizeRedeemerPurpose folds backend spellings into the canonical
// vocabulary. Ogmios says "withdraw" where everything else says
// "withdrawal".
func NormalizeRedeemerPurpose(s string) RedeemerPurpose {
	if s == "withdraw" {
		return RedeemerPurposeWithdrawal
	}
	return RedeemerPurpose(s)
}

// RedeemerKey is the canonical "purpose:index" form shared by every
// backend's evaluate result.
type RedeemerKey string

func NewRedeemerKey(purpose RedeemerPurpose, index uint64) RedeemerKey {
	return RedeemerKey(fmt.Sprintf("%s:%d", purpose, index))
}

// Tx wraps an already-encoded transaction. The facade never builds or signs
// transactions, it only carries their bytes to a backend.
type Tx struct {
	Raw HexBytes
}

func TxFromCBOR(raw []byte) (tx *Tx, err error) {
	var probe cbor.RawMessage
	if err = cbor.Unmarshal(raw, &probe); err != nil {
		err = errors.Wrapf(ErrValueParse, "not valid cbor: %v", err)
		return
	}
	tx = &Tx{Raw: append(HexBytes{}, raw...)}
	return
}

func TxFromHex(s string) (tx *Tx, err error) {
	raw, err2 := hex.DecodeString(s)
	if err2 != nil {
		err = errors.Wrapf(ErrValueParse, "transaction hex: %v", err2)
		return
	}
	return TxFromCBOR(raw)
}

func (t *Tx) Bytes() []byte {
	return t.Raw
}

func (t *Tx) Hex() string {
	return t.Raw.String()
}

// Id computes the transaction id: blake2b-256 over the encoded body, which
// is the first element of the top-level transaction array.
func (t *Tx) Id() (id TransactionId, err error) {
	var parts []cbor.RawMessage
	if err = cbor.Unmarshal(t.Raw, &parts); err != nil {
		err = errors.Wrapf(ErrValueParse, "transaction is not a cbor array: %v", err)
		return
	}
	if len(parts) == 0 {
		err = errors.Wrap(ErrValueParse, "transaction array is empty")
		return
	}
	sum := blake2b.Sum256(parts[0])
	id = TransactionId(hex.EncodeToString(sum[:]))
	return
}
