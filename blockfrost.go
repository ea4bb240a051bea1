package cardano

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/blake2b"
)

const blockfrostUtxoPageSize = 100

var blockfrostBaseUrls = map[Network]string{
	NetworkMainNet: "https://cardano-mainnet.blockfrost.io/api/v0",
	NetworkPreProd: "https://cardano-preprod.blockfrost.io/api/v0",
	NetworkPreview: "https://cardano-preview.blockfrost.io/api/v0",
}

type BlockfrostOptions struct {
	Network   Network
	ProjectId string
	BaseUrl   string

	HttpClient   *http.Client
	Retry        *RetryExecutor
	UtxoCacheTTL time.Duration
}

func (o *BlockfrostOptions) setDefaults() (err error) {
	if o.Network == "" {
		o.Network = NetworkMainNet
	}
	if o.ProjectId == "" {
		o.ProjectId = os.Getenv("BLOCKFROST_PROJECT_ID")
	}
	if o.BaseUrl == "" {
		url, ok := blockfrostBaseUrls[o.Network]
		if !ok {
			return errors.Wrapf(ErrUnsupportedNetwork, "blockfrost has no endpoint for '%s'", o.Network)
		}
		o.BaseUrl = url
	}
	if o.HttpClient == nil {
		o.HttpClient = http.DefaultClient
	}
	if o.Retry == nil {
		o.Retry = NewRetryExecutor(DefaultRetryAttempts, DefaultRetryBaseDelay)
	}
	if o.UtxoCacheTTL <= 0 {
		o.UtxoCacheTTL = DefaultUtxoCacheTTL
	}
	return
}

// BlockfrostContext is a ChainContext backed by the Blockfrost indexing API,
// one HTTP call per operation.
type BlockfrostContext struct {
	options *BlockfrostOptions
	log     zerolog.Logger
	retry   *RetryExecutor

	shortCache *ttlCache

	mu       sync.Mutex
	genesis  *GenesisParameters
	params   *ProtocolParameters
	epoch    uint64
	epochEnd time.Time
	now      func() time.Time
}

var _ ChainContext = (*BlockfrostContext)(nil)

func NewBlockfrostContext(options *BlockfrostOptions) (c *BlockfrostContext, err error) {
	if options == nil {
		options = &BlockfrostOptions{}
	}
	if err = options.setDefaults(); err != nil {
		return
	}

	c = &BlockfrostContext{
		options:    options,
		log:        Log().With().Str("backend", "blockfrost").Logger(),
		retry:      options.Retry,
		shortCache: newTtlCache(options.UtxoCacheTTL),
		now:        time.Now,
	}
	return
}

func (c *BlockfrostContext) Network() Network {
	return c.options.Network
}

func (c *BlockfrostContext) get(ctx context.Context, path string) (body []byte, err error) {
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		req, err2 := http.NewRequestWithContext(ctx, http.MethodGet, c.options.BaseUrl+path, nil)
		if err2 != nil {
			return errors.WithStack(err2)
		}
		req.Header.Set("project_id", c.options.ProjectId)

		rsp, err2 := c.options.HttpClient.Do(req)
		if err2 != nil {
			return errors.Wrapf(ErrBlockfrost, "%v", err2)
		}
		defer func() { _ = rsp.Body.Close() }()

		body, err2 = io.ReadAll(rsp.Body)
		if err2 != nil {
			return errors.Wrapf(ErrBlockfrost, "reading body: %v", err2)
		}
		if rsp.StatusCode/100 != 2 {
			return errors.Wrapf(ErrBlockfrost, "GET %s: status %d: %s", path, rsp.StatusCode, string(body))
		}
		return nil
	})
	return
}

func (c *BlockfrostContext) post(ctx context.Context, path, contentType string, payload []byte) (body []byte, err error) {
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		req, err2 := http.NewRequestWithContext(ctx, http.MethodPost, c.options.BaseUrl+path, bytes.NewReader(payload))
		if err2 != nil {
			return errors.WithStack(err2)
		}
		req.Header.Set("project_id", c.options.ProjectId)
		req.Header.Set("Content-Type", contentType)

		rsp, err2 := c.options.HttpClient.Do(req)
		if err2 != nil {
			return errors.Wrapf(ErrBlockfrost, "%v", err2)
		}
		defer func() { _ = rsp.Body.Close() }()

		body, err2 = io.ReadAll(rsp.Body)
		if err2 != nil {
			return errors.Wrapf(ErrBlockfrost, "reading body: %v", err2)
		}
		if rsp.StatusCode/100 != 2 {
			return errors.Wrapf(ErrBlockfrost, "POST %s: status %d: %s", path, rsp.StatusCode, string(body))
		}
		return nil
	})
	return
}

func (c *BlockfrostContext) GenesisParameters(ctx context.Context) (genesis *GenesisParameters, err error) {
	c.mu.Lock()
	cached := c.genesis
	c.mu.Unlock()
	if cached != nil {
		return cached.clone(), nil
	}

	body, err := c.get(ctx, "/genesis")
	if err != nil {
		return
	}

	var wire struct {
		ActiveSlotsCoefficient float64 `json:"active_slots_coefficient"`
		UpdateQuorum           uint64  `json:"update_quorum"`
		MaxLovelaceSupply      string  `json:"max_lovelace_supply"`
		NetworkMagic           uint64  `json:"network_magic"`
		EpochLength            uint64  `json:"epoch_length"`
		SystemStart            int64   `json:"system_start"`
		SlotsPerKESPeriod      uint64  `json:"slots_per_kes_period"`
		SlotLength             float64 `json:"slot_length"`
		MaxKESEvolutions       uint64  `json:"max_kes_evolutions"`
		SecurityParam          uint64  `json:"security_param"`
	}
	if err = jsonUnmarshal(body, &wire); err != nil {
		return
	}

	supply, err2 := strconv.ParseUint(wire.MaxLovelaceSupply, 10, 64)
	if err2 != nil {
		err = errors.Wrapf(ErrValueParse, "max_lovelace_supply '%s'", wire.MaxLovelaceSupply)
		return
	}

	genesis = &GenesisParameters{
		ActiveSlotsCoefficient: wire.ActiveSlotsCoefficient,
		EpochLength:            wire.EpochLength,
		MaxKESEvolutions:       wire.MaxKESEvolutions,
		MaxLovelaceSupply:      supply,
		NetworkMagic:           NetworkMagic(wire.NetworkMagic),
		SecurityParam:          wire.SecurityParam,
		SlotLength:             wire.SlotLength,
		SlotsPerKESPeriod:      wire.SlotsPerKESPeriod,
		SystemStart:            time.Unix(wire.SystemStart, 0).UTC(),
		UpdateQuorum:           wire.UpdateQuorum,
	}

	c.mu.Lock()
	c.genesis = genesis
	c.mu.Unlock()

	genesis = genesis.clone()
	return
}

// Epoch returns the current epoch, refreshed only once the previously
// declared epoch end time has passed.
func (c *BlockfrostContext) Epoch(ctx context.Context) (epoch uint64, err error) {
	c.mu.Lock()
	fresh := c.epochEnd.After(c.now())
	epoch = c.epoch
	c.mu.Unlock()
	if fresh {
		return
	}

	body, err := c.get(ctx, "/epochs/latest")
	if err != nil {
		return
	}

	jsn := gjson.ParseBytes(body)
	epoch = jsn.Get("epoch").Uint()
	end := time.Unix(jsn.Get("end_time").Int(), 0)

	c.mu.Lock()
	if epoch != c.epoch {
		// Epoch advanced, protocol parameters are stale.
		c.params = nil
	}
	c.epoch = epoch
	c.epochEnd = end
	c.mu.Unlock()

	return
}

func (c *BlockfrostContext) ProtocolParameters(ctx context.Context) (params *ProtocolParameters, err error) {
	if _, err = c.Epoch(ctx); err != nil {
		return
	}

	c.mu.Lock()
	cached := c.params
	c.mu.Unlock()
	if cached != nil {
		return cached.clone(), nil
	}

	body, err := c.get(ctx, "/epochs/latest/parameters")
	if err != nil {
		return
	}

	params, err = parseBlockfrostProtocolParams(body)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.params = params
	c.mu.Unlock()

	params = params.clone()
	return
}

// parseBlockfrostProtocolParams decodes leniently: unlike genesis values,
// absent protocol parameter fields default to zero.
func parseBlockfrostProtocolParams(body []byte) (params *ProtocolParameters, err error) {
	jsn := gjson.ParseBytes(body)

	ratio := func(path string) (r Rational) {
		v := jsn.Get(path)
		if !v.Exists() {
			return
		}
		r, convErr := RationalFromDecimal(v.String())
		if convErr != nil {
			return Rational{}
		}
		return r
	}

	params = &ProtocolParameters{
		MinFeeCoefficient:     jsn.Get("min_fee_a").Uint(),
		MinFeeConstant:        jsn.Get("min_fee_b").Uint(),
		MaxBlockSize:          jsn.Get("max_block_size").Uint(),
		MaxTxSize:             jsn.Get("max_tx_size").Uint(),
		MaxBlockHeaderSize:    jsn.Get("max_block_header_size").Uint(),
		KeyDeposit:            jsn.Get("key_deposit").Uint(),
		PoolDeposit:           jsn.Get("pool_deposit").Uint(),
		PoolInfluence:         ratio("a0"),
		MonetaryExpansion:     ratio("rho"),
		TreasuryExpansion:     ratio("tau"),
		MinPoolCost:           jsn.Get("min_pool_cost").Uint(),
		CoinsPerUtxoByte:      jsn.Get("coins_per_utxo_size").Uint(),
		PriceMem:              ratio("price_mem"),
		PriceStep:             ratio("price_step"),
		MaxTxExMem:            jsn.Get("max_tx_ex_mem").Uint(),
		MaxTxExSteps:          jsn.Get("max_tx_ex_steps").Uint(),
		MaxBlockExMem:         jsn.Get("max_block_ex_mem").Uint(),
		MaxBlockExSteps:       jsn.Get("max_block_ex_steps").Uint(),
		MaxValueSize:          jsn.Get("max_val_size").Uint(),
		CollateralPercent:     jsn.Get("collateral_percent").Uint(),
		MaxCollateralInputs:   jsn.Get("max_collateral_inputs").Uint(),
		PoolRetireMaxEpoch:    jsn.Get("e_max").Uint(),
		GovActionDeposit:      jsn.Get("gov_action_deposit").Uint(),
		DRepDeposit:           jsn.Get("drep_deposit").Uint(),
		GovActionLifetime:     jsn.Get("gov_action_lifetime").Uint(),
		DRepActivity:          jsn.Get("drep_activity").Uint(),
		CommitteeMinSize:      jsn.Get("committee_min_size").Uint(),
		CommitteeMaxTermLimit: jsn.Get("committee_max_term_length").Uint(),
		ProtocolVersion: ProtocolVersion{
			Major: jsn.Get("protocol_major_ver").Uint(),
			Minor: jsn.Get("protocol_minor_ver").Uint(),
		},
	}

	if costModels := jsn.Get("cost_models"); costModels.IsObject() {
		params.CostModels = map[string][]int64{}
		costModels.ForEach(func(lang, model gjson.Result) bool {
			var ops []int64
			// Served either as an ordered array or an op-name object.
			if model.IsArray() {
				for _, v := range model.Array() {
					ops = append(ops, v.Int())
				}
			} else {
				model.ForEach(func(_, v gjson.Result) bool {
					ops = append(ops, v.Int())
					return true
				})
			}
			params.CostModels[lang.String()] = ops
			return true
		})
	}

	thresholds := func(paths map[string]string) (out map[string]Rational) {
		for name, path := range paths {
			if v := jsn.Get(path); v.Exists() {
				if r, convErr := RationalFromDecimal(v.String()); convErr == nil {
					if out == nil {
						out = map[string]Rational{}
					}
					out[name] = r
				}
			}
		}
		return
	}

	params.PoolVotingThresholds = thresholds(map[string]string{
		"motionNoConfidence":    "pvt_motion_no_confidence",
		"committeeNormal":       "pvt_committee_normal",
		"committeeNoConfidence": "pvt_committee_no_confidence",
		"hardForkInitiation":    "pvt_hard_fork_initiation",
		"ppSecurityGroup":       "pvtpp_security_group",
	})
	params.DRepVotingThresholds = thresholds(map[string]string{
		"motionNoConfidence":    "dvt_motion_no_confidence",
		"committeeNormal":       "dvt_committee_normal",
		"committeeNoConfidence": "dvt_committee_no_confidence",
		"updateToConstitution":  "dvt_update_to_constitution",
		"hardForkInitiation":    "dvt_hard_fork_initiation",
		"ppNetworkGroup":        "dvt_p_p_network_group",
		"ppEconomicGroup":       "dvt_p_p_economic_group",
		"ppTechnicalGroup":      "dvt_p_p_technical_group",
		"ppGovGroup":            "dvt_p_p_gov_group",
		"treasuryWithdrawal":    "dvt_treasury_withdrawal",
	})

	return
}

func (c *BlockfrostContext) tip(ctx context.Context) (tip *ChainTip, err error) {
	body, err := c.get(ctx, "/blocks/latest")
	if err != nil {
		return
	}

	jsn := gjson.ParseBytes(body)
	height := jsn.Get("height").Uint()

	tip = &ChainTip{
		Height: &height,
		Epoch:  jsn.Get("epoch").Uint(),
		Slot:   jsn.Get("slot").Uint(),
		Hash:   HexString(jsn.Get("hash").String()),
	}

	if params, err2 := c.ProtocolParameters(ctx); err2 == nil {
		tip.Era = EraForProtocolVersion(params.ProtocolVersion.Major)
	}

	return
}

func (c *BlockfrostContext) LastBlockSlot(ctx context.Context) (slot uint64, err error) {
	if cached, ok := c.shortCache.get(lastBlockSlotCacheKey); ok {
		return cached.(uint64), nil
	}

	tip, err := c.tip(ctx)
	if err != nil {
		return
	}

	slot = tip.Slot
	c.shortCache.set(lastBlockSlotCacheKey, slot)
	return
}

func (c *BlockfrostContext) Era(ctx context.Context) (era Era, err error) {
	params, err := c.ProtocolParameters(ctx)
	if err != nil {
		return
	}
	era = EraForProtocolVersion(params.ProtocolVersion.Major)
	return
}

type blockfrostAmount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type blockfrostUtxo struct {
	TxHash              string             `json:"tx_hash"`
	OutputIndex         uint64             `json:"output_index"`
	Address             string             `json:"address"`
	Amount              []blockfrostAmount `json:"amount"`
	DataHash            string             `json:"data_hash"`
	InlineDatum         string             `json:"inline_datum"`
	ReferenceScriptHash string             `json:"reference_script_hash"`
}

func (c *BlockfrostContext) Utxos(ctx context.Context, address string) (utxos []Utxo, err error) {
	if err = ValidatePaymentAddress(address, c.options.Network); err != nil {
		return
	}

	slot, err := c.LastBlockSlot(ctx)
	if err != nil {
		return
	}

	cacheKey := utxoCacheKey(slot, address)
	if cached, ok := c.shortCache.get(cacheKey); ok {
		return cloneUtxos(cached.([]Utxo)), nil
	}

	// The endpoint paginates; loop until a short page so long UTXO sets are
	// never truncated.
	var page []blockfrostUtxo
	for pageNum := 1; ; pageNum++ {
		var body []byte
		body, err = c.get(ctx, "/addresses/"+address+"/utxos?count="+
			strconv.Itoa(blockfrostUtxoPageSize)+"&page="+strconv.Itoa(pageNum))
		if err != nil {
			return
		}

		page = page[:0]
		if err = jsonUnmarshal(body, &page); err != nil {
			return
		}

		for _, wire := range page {
			var utxo *Utxo
			utxo, err = c.normalizeUtxo(ctx, wire)
			if err != nil {
				return
			}
			if utxo != nil {
				utxos = append(utxos, *utxo)
			}
		}

		if len(page) < blockfrostUtxoPageSize {
			break
		}
	}

	c.shortCache.set(cacheKey, utxos)
	utxos = cloneUtxos(utxos)
	return
}

// normalizeUtxo maps one wire entry into the canonical model. Entries with
// an unparseable key (no tx hash) are skipped rather than failing the call.
func (c *BlockfrostContext) normalizeUtxo(ctx context.Context, wire blockfrostUtxo) (utxo *Utxo, err error) {
	if wire.TxHash == "" {
		c.log.Warn().Msgf("skipping utxo with missing tx hash at %s", wire.Address)
		return
	}

	value := Value{}
	for _, amount := range wire.Amount {
		quantity, err2 := strconv.ParseUint(amount.Quantity, 10, 64)
		if err2 != nil {
			err = errors.Wrapf(ErrValueParse, "utxo quantity '%s' for unit '%s'", amount.Quantity, amount.Unit)
			return
		}
		if amount.Unit == LovelaceUnit {
			value.Coin += quantity
			continue
		}
		policyId, assetName, err2 := SplitAssetUnit(amount.Unit)
		if err2 != nil {
			err = err2
			return
		}
		value.AddAsset(policyId, assetName, quantity)
	}
	value.Normalize()

	output := UtxoOutput{
		Address: wire.Address,
		Value:   value,
	}

	// An inline datum takes precedence; the hash is only recorded when no
	// inline datum is present.
	if wire.InlineDatum != "" {
		output.InlineDatum = HexString(wire.InlineDatum).Bytes()
	} else if wire.DataHash != "" {
		output.DatumHash = HexString(wire.DataHash)
	}

	if wire.ReferenceScriptHash != "" {
		output.Script, err = c.resolveScript(ctx, wire.ReferenceScriptHash)
		if err != nil {
			return
		}
	}

	utxo = &Utxo{
		Key:    UtxoKey{TxId: TransactionId(wire.TxHash), Index: wire.OutputIndex},
		Output: output,
	}
	return
}

// resolveScript fetches a reference script in two steps: the script's
// declared kind, then its cbor or json body. Plutus bytes are only trusted
// once their blake2b-224 hash matches the requested hash, trying the known
// cbor wrapping variants vendors disagree on.
func (c *BlockfrostContext) resolveScript(ctx context.Context, scriptHash string) (script *Script, err error) {
	meta, err := c.get(ctx, "/scripts/"+scriptHash)
	if err != nil {
		return
	}

	kind := gjson.ParseBytes(meta).Get("type").String()

	if kind == "timelock" {
		var body []byte
		body, err = c.get(ctx, "/scripts/"+scriptHash+"/json")
		if err != nil {
			return
		}
		script = &Script{
			Kind: ScriptKindNative,
			Json: []byte(gjson.ParseBytes(body).Get("json").Raw),
		}
		return
	}

	var scriptKind ScriptKind
	var tag byte
	switch kind {
	case "plutusV1":
		scriptKind, tag = ScriptKindPlutusV1, 1
	case "plutusV2":
		scriptKind, tag = ScriptKindPlutusV2, 2
	case "plutusV3":
		scriptKind, tag = ScriptKindPlutusV3, 3
	default:
		err = errors.Wrapf(ErrValueParse, "unknown script type '%s' for hash %s", kind, scriptHash)
		return
	}

	body, err := c.get(ctx, "/scripts/"+scriptHash+"/cbor")
	if err != nil {
		return
	}

	raw := HexString(gjson.ParseBytes(body).Get("cbor").String()).Bytes()
	if len(raw) == 0 {
		err = errors.Wrapf(ErrValueParse, "empty cbor body for script %s", scriptHash)
		return
	}

	verified, err := verifyScriptBytes(raw, tag, scriptHash)
	if err != nil {
		return
	}

	script = &Script{Kind: scriptKind, Bytes: verified}
	return
}

// verifyScriptBytes recomputes the script hash over each candidate wrapping
// of the resolved bytes and accepts the first that matches. Vendors are
// inconsistent about double cbor bytestring envelopes.
func verifyScriptBytes(raw []byte, tag byte, wantHash string) (verified HexBytes, err error) {
	candidates := [][]byte{raw}

	unwrapped := raw
	for i := 0; i < 2; i++ {
		var inner []byte
		if cbor.Unmarshal(unwrapped, &inner) != nil || inner == nil {
			break
		}
		candidates = append(candidates, inner)
		unwrapped = inner
	}

	if wrapped, err2 := cbor.Marshal(raw); err2 == nil {
		candidates = append(candidates, wrapped)
	}

	for _, candidate := range candidates {
		hasher, err2 := blake2b.New(28, nil)
		if err2 != nil {
			err = errors.WithStack(err2)
			return
		}
		hasher.Write([]byte{tag})
		hasher.Write(candidate)
		if hex.EncodeToString(hasher.Sum(nil)) == wantHash {
			verified = candidate
			return
		}
	}

	err = errors.Wrapf(ErrValueParse, "resolved script bytes do not hash to %s under any known wrapping", wantHash)
	return
}

func (c *BlockfrostContext) StakeAddressInfo(ctx context.Context, address string) (infos []StakeAddressInfo, err error) {
	if err = ValidateStakeAddress(address, c.options.Network); err != nil {
		return
	}

	body, err := c.get(ctx, "/accounts/"+address)
	if err != nil {
		return
	}

	jsn := gjson.ParseBytes(body)
	infos = []StakeAddressInfo{{
		Address:        address,
		Active:         jsn.Get("active").Bool(),
		RewardBalance:  jsn.Get("withdrawable_amount").Uint(),
		StakePool:      jsn.Get("pool_id").String(),
		VoteDelegation: jsn.Get("drep_id").String(),
	}}
	return
}

// PoolParams fetches the registration parameters of a stake pool. Not part
// of the ChainContext capability; exposed on the backends that can serve it.
func (c *BlockfrostContext) PoolParams(ctx context.Context, poolId string) (params *PoolParams, err error) {
	body, err := c.get(ctx, "/pools/"+poolId)
	if err != nil {
		return
	}

	jsn := gjson.ParseBytes(body)

	margin, err := RationalFromDecimal(jsn.Get("margin_cost").String())
	if err != nil {
		return
	}

	params = &PoolParams{
		Operator:      HexString(jsn.Get("hex").String()),
		VrfKeyHash:    HexString(jsn.Get("vrf_key").String()),
		Pledge:        jsn.Get("declared_pledge").Uint(),
		Cost:          jsn.Get("fixed_cost").Uint(),
		Margin:        margin,
		RewardAccount: jsn.Get("reward_account").String(),
	}
	for _, owner := range jsn.Get("owners").Array() {
		params.Owners = append(params.Owners, HexString(owner.String()))
	}

	relays, err := c.get(ctx, "/pools/"+poolId+"/relays")
	if err != nil {
		return
	}
	for _, relay := range gjson.ParseBytes(relays).Array() {
		params.Relays = append(params.Relays, poolRelayFromWire(
			relay.Get("ipv4").String(),
			relay.Get("ipv6").String(),
			relay.Get("dns").String(),
			relay.Get("dns_srv").String(),
			uint16(relay.Get("port").Uint()),
		))
	}

	metadata, err := c.get(ctx, "/pools/"+poolId+"/metadata")
	if err != nil {
		return
	}
	metaJsn := gjson.ParseBytes(metadata)
	if url := metaJsn.Get("url").String(); url != "" {
		params.Metadata = &PoolMetadata{
			Url:  url,
			Hash: HexString(metaJsn.Get("hash").String()),
		}
	}

	return
}

// poolRelayFromWire picks the relay variant from whichever fields the
// backend populated: srv name wins, then hostname, then bare addresses.
func poolRelayFromWire(ipv4, ipv6, dns, srv string, port uint16) PoolRelay {
	switch {
	case srv != "":
		return PoolRelay{Kind: PoolRelayMultiHost, Host: srv}
	case dns != "":
		return PoolRelay{Kind: PoolRelayHostname, Host: dns, Port: port}
	default:
		return PoolRelay{Kind: PoolRelayAddress, IPv4: ipv4, IPv6: ipv6, Port: port}
	}
}

func (c *BlockfrostContext) SubmitTxCBOR(ctx context.Context, raw []byte) (id TransactionId, err error) {
	body, err := c.post(ctx, "/tx/submit", "application/cbor", raw)
	if err != nil {
		err = errors.Wrapf(ErrTransactionFailed, "%v", err)
		return
	}

	id = TransactionId(gjson.ParseBytes(body).String())
	if id == "" {
		// The endpoint returns the tx hash as a bare json string.
		err = errors.Wrapf(ErrValueParse, "submit response '%s' is not a tx hash", string(body))
	}
	return
}

func (c *BlockfrostContext) EvaluateTxCBOR(ctx context.Context, raw []byte) (units map[RedeemerKey]ExecutionUnits, err error) {
	payload := []byte(hex.EncodeToString(raw))

	body, err := c.post(ctx, "/utils/txs/evaluate", "application/cbor", payload)
	if err != nil {
		return
	}

	jsn := gjson.ParseBytes(body)
	if failure := jsn.Get("result.EvaluationFailure"); failure.Exists() {
		err = errors.Wrapf(ErrValueParse, "evaluation failed: %s", failure.Raw)
		return
	}

	units = map[RedeemerKey]ExecutionUnits{}
	jsn.Get("result.EvaluationResult").ForEach(func(key, value gjson.Result) bool {
		units[RedeemerKey(key.String())] = ExecutionUnits{
			Mem:   value.Get("memory").Uint(),
			Steps: value.Get("steps").Uint(),
		}
		return true
	})
	return
}
