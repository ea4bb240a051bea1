package cardano

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var koiosBaseUrls = map[Network]string{
	NetworkMainNet: "https://api.koios.rest/api/v1",
	NetworkPreProd: "https://preprod.koios.rest/api/v1",
	NetworkPreview: "https://preview.koios.rest/api/v1",
	NetworkGuild:   "https://guild.koios.rest/api/v1",
}

type KoiosOptions struct {
	Network  Network
	BaseUrl  string
	ApiToken string

	HttpClient   *http.Client
	Retry        *RetryExecutor
	UtxoCacheTTL time.Duration
}

func (o *KoiosOptions) setDefaults() (err error) {
	if o.Network == "" {
		o.Network = NetworkMainNet
	}
	if o.BaseUrl == "" {
		o.BaseUrl = os.Getenv("KOIOS_URL")
	}
	if o.BaseUrl == "" {
		url, ok := koiosBaseUrls[o.Network]
		if !ok {
			return errors.Wrapf(ErrUnsupportedNetwork, "koios has no endpoint for '%s'", o.Network)
		}
		o.BaseUrl = url
	}
	if o.ApiToken == "" {
		o.ApiToken = os.Getenv("KOIOS_API_TOKEN")
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

// KoiosContext is a ChainContext backed by the Koios aggregator. Queries are
// batched POSTs; the wire format carries most numbers as strings, which are
// decoded defensively.
type KoiosContext struct {
	options *KoiosOptions
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

var _ ChainContext = (*KoiosContext)(nil)

func NewKoiosContext(options *KoiosOptions) (c *KoiosContext, err error) {
	if options == nil {
		options = &KoiosOptions{}
	}
	if err = options.setDefaults(); err != nil {
		return
	}

	c = &KoiosContext{
		options:    options,
		log:        Log().With().Str("backend", "koios").Logger(),
		retry:      options.Retry,
		shortCache: newTtlCache(options.UtxoCacheTTL),
		now:        time.Now,
	}
	return
}

func (c *KoiosContext) Network() Network {
	return c.options.Network
}

func (c *KoiosContext) req(ctx context.Context, method, path, contentType string, payload []byte) (body []byte, err error) {
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err2 := http.NewRequestWithContext(ctx, method, c.options.BaseUrl+path, reader)
		if err2 != nil {
			return errors.WithStack(err2)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.options.ApiToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.options.ApiToken)
		}

		rsp, err2 := c.options.HttpClient.Do(req)
		if err2 != nil {
			return errors.Wrapf(ErrKoios, "%v", err2)
		}
		defer func() { _ = rsp.Body.Close() }()

		body, err2 = io.ReadAll(rsp.Body)
		if err2 != nil {
			return errors.Wrapf(ErrKoios, "reading body: %v", err2)
		}
		if rsp.StatusCode/100 != 2 {
			return errors.Wrapf(ErrKoios, "%s %s: status %d: %s", method, path, rsp.StatusCode, string(body))
		}
		return nil
	})
	return
}

func (c *KoiosContext) get(ctx context.Context, path string) ([]byte, error) {
	return c.req(ctx, http.MethodGet, path, "", nil)
}

func (c *KoiosContext) post(ctx context.Context, path string, in any) (body []byte, err error) {
	payload, err := json.Marshal(in)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	return c.req(ctx, http.MethodPost, path, "application/json", payload)
}

// firstRow unwraps the single-element array shape every koios query returns.
func firstRow(body []byte) (row gjson.Result, err error) {
	jsn := gjson.ParseBytes(body)
	if !jsn.IsArray() || len(jsn.Array()) == 0 {
		err = errors.Wrapf(ErrValueParse, "expected a non-empty result array, got: %s", string(body))
		return
	}
	row = jsn.Array()[0]
	return
}

func (c *KoiosContext) GenesisParameters(ctx context.Context) (genesis *GenesisParameters, err error) {
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

	row, err := firstRow(body)
	if err != nil {
		return
	}

	// Every numeric genesis field arrives as a string; each must parse or
	// the call fails. Zero-defaulting a genesis value would poison the
	// permanent cache.
	activeSlots, err := strictFloat(row, "activeslotcoeff")
	if err != nil {
		return
	}
	epochLength, err := strictUint(row, "epochlength")
	if err != nil {
		return
	}
	maxKes, err := strictUint(row, "maxkesrevolutions")
	if err != nil {
		return
	}
	maxSupply, err := strictUint(row, "maxlovelacesupply")
	if err != nil {
		return
	}
	magic, err := strictUint(row, "networkmagic")
	if err != nil {
		return
	}
	security, err := strictUint(row, "securityparam")
	if err != nil {
		return
	}
	slotLength, err := strictFloat(row, "slotlength")
	if err != nil {
		return
	}
	slotsPerKes, err := strictUint(row, "slotsperkesperiod")
	if err != nil {
		return
	}
	systemStart, err := strictUint(row, "systemstart")
	if err != nil {
		return
	}
	quorum, err := strictUint(row, "updatequorum")
	if err != nil {
		return
	}

	genesis = &GenesisParameters{
		ActiveSlotsCoefficient: activeSlots,
		EpochLength:            epochLength,
		MaxKESEvolutions:       maxKes,
		MaxLovelaceSupply:      maxSupply,
		NetworkMagic:           NetworkMagic(magic),
		SecurityParam:          security,
		SlotLength:             slotLength,
		SlotsPerKESPeriod:      slotsPerKes,
		SystemStart:            time.Unix(int64(systemStart), 0).UTC(),
		UpdateQuorum:           quorum,
	}

	c.mu.Lock()
	c.genesis = genesis
	c.mu.Unlock()

	genesis = genesis.clone()
	return
}

func (c *KoiosContext) tip(ctx context.Context) (row gjson.Result, err error) {
	body, err := c.get(ctx, "/tip")
	if err != nil {
		return
	}
	return firstRow(body)
}

func (c *KoiosContext) Epoch(ctx context.Context) (epoch uint64, err error) {
	c.mu.Lock()
	fresh := c.epochEnd.After(c.now())
	epoch = c.epoch
	c.mu.Unlock()
	if fresh {
		return
	}

	tip, err := c.tip(ctx)
	if err != nil {
		return
	}
	epoch, err = strictUint(tip, "epoch_no")
	if err != nil {
		return
	}

	body, err := c.get(ctx, fmt.Sprintf("/epoch_info?_epoch_no=%d", epoch))
	if err != nil {
		return
	}
	info, err := firstRow(body)
	if err != nil {
		return
	}
	end, err := strictUint(info, "end_time")
	if err != nil {
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.params = nil
	}
	c.epoch = epoch
	c.epochEnd = time.Unix(int64(end), 0)
	c.mu.Unlock()

	return
}

func (c *KoiosContext) ProtocolParameters(ctx context.Context) (params *ProtocolParameters, err error) {
	epoch, err := c.Epoch(ctx)
	if err != nil {
		return
	}

	c.mu.Lock()
	cached := c.params
	c.mu.Unlock()
	if cached != nil {
		return cached.clone(), nil
	}

	body, err := c.get(ctx, fmt.Sprintf("/epoch_params?_epoch_no=%d", epoch))
	if err != nil {
		return
	}

	row, err := firstRow(body)
	if err != nil {
		return
	}

	// Protocol parameter fields, unlike genesis fields, default leniently.
	ratio := func(field string) Rational {
		v := row.Get(field)
		if !v.Exists() {
			return Rational{}
		}
		r, convErr := RationalFromDecimal(v.String())
		if convErr != nil {
			return Rational{}
		}
		return r
	}

	params = &ProtocolParameters{
		MinFeeCoefficient:     row.Get("min_fee_a").Uint(),
		MinFeeConstant:        row.Get("min_fee_b").Uint(),
		MaxBlockSize:          row.Get("max_block_size").Uint(),
		MaxTxSize:             row.Get("max_tx_size").Uint(),
		MaxBlockHeaderSize:    row.Get("max_bh_size").Uint(),
		KeyDeposit:            row.Get("key_deposit").Uint(),
		PoolDeposit:           row.Get("pool_deposit").Uint(),
		PoolInfluence:         ratio("influence"),
		MonetaryExpansion:     ratio("monetary_expand_rate"),
		TreasuryExpansion:     ratio("treasury_growth_rate"),
		MinPoolCost:           row.Get("min_pool_cost").Uint(),
		CoinsPerUtxoByte:      row.Get("coins_per_utxo_size").Uint(),
		PriceMem:              ratio("price_mem"),
		PriceStep:             ratio("price_step"),
		MaxTxExMem:            row.Get("max_tx_ex_mem").Uint(),
		MaxTxExSteps:          row.Get("max_tx_ex_steps").Uint(),
		MaxBlockExMem:         row.Get("max_block_ex_mem").Uint(),
		MaxBlockExSteps:       row.Get("max_block_ex_steps").Uint(),
		MaxValueSize:          row.Get("max_val_size").Uint(),
		CollateralPercent:     row.Get("collateral_percent").Uint(),
		MaxCollateralInputs:   row.Get("max_collateral_inputs").Uint(),
		PoolRetireMaxEpoch:    row.Get("max_epoch").Uint(),
		GovActionDeposit:      row.Get("gov_action_deposit").Uint(),
		DRepDeposit:           row.Get("drep_deposit").Uint(),
		GovActionLifetime:     row.Get("gov_action_lifetime").Uint(),
		DRepActivity:          row.Get("drep_activity").Uint(),
		CommitteeMinSize:      row.Get("committee_min_size").Uint(),
		CommitteeMaxTermLimit: row.Get("committee_max_term_length").Uint(),
		ProtocolVersion: ProtocolVersion{
			Major: row.Get("protocol_major").Uint(),
			Minor: row.Get("protocol_minor").Uint(),
		},
	}

	if costModels := row.Get("cost_models"); costModels.IsObject() {
		params.CostModels = map[string][]int64{}
		costModels.ForEach(func(lang, model gjson.Result) bool {
			var ops []int64
			for _, v := range model.Array() {
				ops = append(ops, v.Int())
			}
			params.CostModels[lang.String()] = ops
			return true
		})
	}

	c.mu.Lock()
	c.params = params
	c.mu.Unlock()

	params = params.clone()
	return
}

func (c *KoiosContext) LastBlockSlot(ctx context.Context) (slot uint64, err error) {
	if cached, ok := c.shortCache.get(lastBlockSlotCacheKey); ok {
		return cached.(uint64), nil
	}

	tip, err := c.tip(ctx)
	if err != nil {
		return
	}
	slot, err = strictUint(tip, "abs_slot")
	if err != nil {
		return
	}

	c.shortCache.set(lastBlockSlotCacheKey, slot)
	return
}

func (c *KoiosContext) Era(ctx context.Context) (era Era, err error) {
	params, err := c.ProtocolParameters(ctx)
	if err != nil {
		return
	}
	era = EraForProtocolVersion(params.ProtocolVersion.Major)
	return
}

func (c *KoiosContext) Utxos(ctx context.Context, address string) (utxos []Utxo, err error) {
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

	body, err := c.post(ctx, "/address_info", map[string]any{"_addresses": []string{address}})
	if err != nil {
		return
	}

	row, err := firstRow(body)
	if err != nil {
		return
	}

	for _, entry := range row.Get("utxo_set").Array() {
		txHash := entry.Get("tx_hash").String()
		if txHash == "" {
			c.log.Warn().Msgf("skipping utxo with missing tx hash at %s", address)
			continue
		}

		coin, err2 := strictUint(entry, "value")
		if err2 != nil {
			err = err2
			return
		}

		value := Value{Coin: coin}
		for _, asset := range entry.Get("asset_list").Array() {
			quantity, err3 := strictUint(asset, "quantity")
			if err3 != nil {
				err = err3
				return
			}
			value.AddAsset(
				HexString(asset.Get("policy_id").String()),
				HexString(asset.Get("asset_name").String()),
				quantity,
			)
		}
		value.Normalize()

		output := UtxoOutput{Address: address, Value: value}

		if inline := entry.Get("inline_datum.bytes").String(); inline != "" {
			output.InlineDatum = HexString(inline).Bytes()
		} else if datumHash := entry.Get("datum_hash").String(); datumHash != "" {
			output.DatumHash = HexString(datumHash)
		}

		if ref := entry.Get("reference_script"); ref.IsObject() && ref.Get("hash").String() != "" {
			script, err3 := koiosScript(ref)
			if err3 != nil {
				err = err3
				return
			}
			output.Script = script
		}

		utxos = append(utxos, Utxo{
			Key:    UtxoKey{TxId: TransactionId(txHash), Index: entry.Get("tx_index").Uint()},
			Output: output,
		})
	}

	c.shortCache.set(cacheKey, utxos)
	utxos = cloneUtxos(utxos)
	return
}

// koiosScript maps the inlined reference_script object; koios already
// delivers the body, so no secondary fetch is needed.
func koiosScript(ref gjson.Result) (script *Script, err error) {
	kind := ref.Get("type").String()
	switch kind {
	case "timelock", "multisig":
		script = &Script{Kind: ScriptKindNative, Json: []byte(ref.Get("value").Raw)}
	case "plutusV1":
		script = &Script{Kind: ScriptKindPlutusV1, Bytes: HexString(ref.Get("bytes").String()).Bytes()}
	case "plutusV2":
		script = &Script{Kind: ScriptKindPlutusV2, Bytes: HexString(ref.Get("bytes").String()).Bytes()}
	case "plutusV3":
		script = &Script{Kind: ScriptKindPlutusV3, Bytes: HexString(ref.Get("bytes").String()).Bytes()}
	default:
		err = errors.Wrapf(ErrValueParse, "unknown reference script type '%s'", kind)
	}
	return
}

func (c *KoiosContext) StakeAddressInfo(ctx context.Context, address string) (infos []StakeAddressInfo, err error) {
	if err = ValidateStakeAddress(address, c.options.Network); err != nil {
		return
	}

	body, err := c.post(ctx, "/account_info", map[string]any{"_stake_addresses": []string{address}})
	if err != nil {
		return
	}

	jsn := gjson.ParseBytes(body)
	if !jsn.IsArray() {
		err = errors.Wrapf(ErrValueParse, "expected account array, got: %s", string(body))
		return
	}
	if len(jsn.Array()) == 0 {
		// Unknown stake address: zero records.
		return
	}

	row := jsn.Array()[0]
	rewards, err := strictUint(row, "rewards_available")
	if err != nil {
		return
	}

	infos = []StakeAddressInfo{{
		Address:        address,
		Active:         row.Get("status").String() == "registered",
		RewardBalance:  rewards,
		StakePool:      row.Get("delegated_pool").String(),
		VoteDelegation: row.Get("delegated_drep").String(),
	}}
	return
}

// PoolParams fetches pool registration parameters through the batched
// pool_info query.
func (c *KoiosContext) PoolParams(ctx context.Context, poolId string) (params *PoolParams, err error) {
	body, err := c.post(ctx, "/pool_info", map[string]any{"_pool_bech32_ids": []string{poolId}})
	if err != nil {
		return
	}

	row, err := firstRow(body)
	if err != nil {
		return
	}

	margin, err := RationalFromDecimal(row.Get("margin").String())
	if err != nil {
		return
	}
	pledge, err := strictUint(row, "pledge")
	if err != nil {
		return
	}
	cost, err := strictUint(row, "fixed_cost")
	if err != nil {
		return
	}

	params = &PoolParams{
		Operator:      HexString(row.Get("pool_id_hex").String()),
		VrfKeyHash:    HexString(row.Get("vrf_key_hash").String()),
		Pledge:        pledge,
		Cost:          cost,
		Margin:        margin,
		RewardAccount: row.Get("reward_addr").String(),
	}
	for _, owner := range row.Get("owners").Array() {
		params.Owners = append(params.Owners, HexString(owner.String()))
	}
	for _, relay := range row.Get("relays").Array() {
		params.Relays = append(params.Relays, poolRelayFromWire(
			relay.Get("ipv4").String(),
			relay.Get("ipv6").String(),
			relay.Get("dns").String(),
			relay.Get("srv").String(),
			uint16(relay.Get("port").Uint()),
		))
	}
	if url := row.Get("meta_url").String(); url != "" {
		params.Metadata = &PoolMetadata{
			Url:  url,
			Hash: HexString(row.Get("meta_hash").String()),
		}
	}

	return
}

func (c *KoiosContext) SubmitTxCBOR(ctx context.Context, raw []byte) (id TransactionId, err error) {
	body, err := c.req(ctx, http.MethodPost, "/submittx", "application/cbor", raw)
	if err != nil {
		err = errors.Wrapf(ErrTransactionFailed, "%v", err)
		return
	}

	id = TransactionId(gjson.ParseBytes(body).String())
	if id == "" {
		err = errors.Wrapf(ErrValueParse, "submit response '%s' is not a tx hash", string(body))
	}
	return
}

// EvaluateTxCBOR goes through the aggregator's ogmios passthrough, so the
// result decodes with the same mapping as the bridge backend.
func (c *KoiosContext) EvaluateTxCBOR(ctx context.Context, raw []byte) (units map[RedeemerKey]ExecutionUnits, err error) {
	body, err := c.post(ctx, "/ogmios", map[string]any{
		"jsonrpc": "2.0",
		"method":  "evaluateTransaction",
		"params":  map[string]any{"transaction": map[string]any{"cbor": hex.EncodeToString(raw)}},
	})
	if err != nil {
		return
	}

	jsn := gjson.ParseBytes(body)
	if errField := jsn.Get("error"); errField.Exists() {
		err = errors.Wrapf(ErrValueParse, "evaluation failed: %s", errField.Raw)
		return
	}

	return parseOgmiosEvaluateResult(jsn.Get("result"))
}
