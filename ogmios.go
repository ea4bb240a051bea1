package cardano

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// wsConn is the slice of *websocket.Conn the adapter needs, split out so
// tests can stand in a fake connection.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

type OgmiosOptions struct {
	Network Network
	Url     string

	Dial               func(ctx context.Context, url string) (wsConn, error)
	Retry              *RetryExecutor
	UtxoCacheTTL       time.Duration
	TipRefetchInterval time.Duration
}

func (o *OgmiosOptions) setDefaults() (err error) {
	if o.Network == "" {
		o.Network = NetworkMainNet
	}
	if o.Url == "" {
		o.Url = os.Getenv("OGMIOS_URL")
	}
	if o.Url == "" {
		o.Url = "ws://localhost:1337"
	}
	if o.Dial == nil {
		o.Dial = func(ctx context.Context, url string) (wsConn, error) {
			conn, _, err2 := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err2 != nil {
				return nil, errors.Wrapf(ErrOgmios, "dial %s: %v", url, err2)
			}
			return conn, nil
		}
	}
	if o.Retry == nil {
		o.Retry = NewRetryExecutor(DefaultRetryAttempts, DefaultRetryBaseDelay)
	}
	if o.UtxoCacheTTL <= 0 {
		o.UtxoCacheTTL = DefaultUtxoCacheTTL
	}
	if o.TipRefetchInterval <= 0 {
		o.TipRefetchInterval = DefaultTipRefetchInterval
	}
	return
}

// OgmiosContext is a ChainContext backed by an Ogmios bridge over a
// persistent websocket JSON-RPC connection.
type OgmiosContext struct {
	options *OgmiosOptions
	log     zerolog.Logger
	retry   *RetryExecutor

	shortCache *ttlCache

	connMu sync.Mutex
	conn   wsConn
	nextId uint64

	mu           sync.Mutex
	genesis      *GenesisParameters
	params       *ProtocolParameters
	epoch        uint64
	epochChecked time.Time
	now          func() time.Time
}

var _ ChainContext = (*OgmiosContext)(nil)

func NewOgmiosContext(options *OgmiosOptions) (c *OgmiosContext, err error) {
	if options == nil {
		options = &OgmiosOptions{}
	}
	if err = options.setDefaults(); err != nil {
		return
	}

	c = &OgmiosContext{
		options:    options,
		log:        Log().With().Str("backend", "ogmios").Logger(),
		retry:      options.Retry,
		shortCache: newTtlCache(options.UtxoCacheTTL),
		now:        time.Now,
	}
	return
}

func (c *OgmiosContext) Network() Network {
	return c.options.Network
}

func (c *OgmiosContext) Close() (err error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return
}

// call issues one JSON-RPC request and waits for the response bearing the
// same id. The connection is serialized; ogmios answers in order.
func (c *OgmiosContext) call(ctx context.Context, method string, params any) (result gjson.Result, err error) {
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		response, callErr := c.callOnce(ctx, method, params)
		if callErr != nil {
			return callErr
		}
		result = response
		return nil
	})
	return
}

func (c *OgmiosContext) callOnce(ctx context.Context, method string, params any) (result gjson.Result, err error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		c.conn, err = c.options.Dial(ctx, c.options.Url)
		if err != nil {
			return
		}
	}

	c.nextId++
	id := c.nextId

	request, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      id,
	})
	if err != nil {
		err = errors.WithStack(err)
		return
	}

	c.log.Debug().Str("method", method).Msg("rpc out")

	if err = c.conn.WriteMessage(websocket.TextMessage, request); err != nil {
		err = errors.Wrapf(ErrOgmios, "write %s: %v", method, err)
		c.dropConn()
		return
	}

	for {
		_, data, err2 := c.conn.ReadMessage()
		if err2 != nil {
			err = errors.Wrapf(ErrOgmios, "read %s: %v", method, err2)
			c.dropConn()
			return
		}

		response := gjson.ParseBytes(data)
		if response.Get("id").Uint() != id {
			// Response to an abandoned earlier request.
			continue
		}

		if rpcErr := response.Get("error"); rpcErr.Exists() {
			err = errors.Wrapf(ErrOgmios, "%s: [%d] %s",
				method, rpcErr.Get("code").Int(), rpcErr.Get("message").String())
			return
		}

		result = response.Get("result")
		return
	}
}

// dropConn is called with connMu held after a transport failure so the next
// attempt redials.
func (c *OgmiosContext) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *OgmiosContext) GenesisParameters(ctx context.Context) (genesis *GenesisParameters, err error) {
	c.mu.Lock()
	cached := c.genesis
	c.mu.Unlock()
	if cached != nil {
		return cached.clone(), nil
	}

	result, err := c.call(ctx, "queryNetwork/genesisConfiguration", map[string]any{"era": "shelley"})
	if err != nil {
		return
	}

	// activeSlotsCoefficient arrives as an exact ratio string.
	activeSlots, err := ParseRational(result.Get("activeSlotsCoefficient").String())
	if err != nil {
		return
	}

	start, err2 := time.Parse(time.RFC3339, result.Get("startTime").String())
	if err2 != nil {
		err = errors.Wrapf(ErrValueParse, "startTime '%s': %v", result.Get("startTime").String(), err2)
		return
	}

	genesis = &GenesisParameters{
		ActiveSlotsCoefficient: activeSlots.Float64(),
		EpochLength:            result.Get("epochLength").Uint(),
		MaxKESEvolutions:       result.Get("maxKesEvolutions").Uint(),
		MaxLovelaceSupply:      result.Get("maxLovelaceSupply").Uint(),
		NetworkMagic:           NetworkMagic(result.Get("networkMagic").Uint()),
		SecurityParam:          result.Get("securityParameter").Uint(),
		SlotLength:             float64(result.Get("slotLength.milliseconds").Uint()) / 1000,
		SlotsPerKESPeriod:      result.Get("slotsPerKesPeriod").Uint(),
		SystemStart:            start.UTC(),
		UpdateQuorum:           result.Get("updateQuorum").Uint(),
	}

	c.mu.Lock()
	c.genesis = genesis
	c.mu.Unlock()

	genesis = genesis.clone()
	return
}

// Epoch re-derives the current epoch from the node at most once per
// refetch interval.
func (c *OgmiosContext) Epoch(ctx context.Context) (epoch uint64, err error) {
	c.mu.Lock()
	fresh := c.now().Sub(c.epochChecked) < c.options.TipRefetchInterval && !c.epochChecked.IsZero()
	epoch = c.epoch
	c.mu.Unlock()
	if fresh {
		return
	}

	result, err := c.call(ctx, "queryLedgerState/epoch", nil)
	if err != nil {
		return
	}
	epoch = result.Uint()

	c.mu.Lock()
	if epoch != c.epoch {
		c.params = nil
	}
	c.epoch = epoch
	c.epochChecked = c.now()
	c.mu.Unlock()

	return
}

func (c *OgmiosContext) ProtocolParameters(ctx context.Context) (params *ProtocolParameters, err error) {
	if _, err = c.Epoch(ctx); err != nil {
		return
	}

	c.mu.Lock()
	cached := c.params
	c.mu.Unlock()
	if cached != nil {
		return cached.clone(), nil
	}

	result, err := c.call(ctx, "queryLedgerState/protocolParameters", nil)
	if err != nil {
		return
	}

	params, err = parseOgmiosProtocolParams(result)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.params = params
	c.mu.Unlock()

	params = params.clone()
	return
}

func parseOgmiosProtocolParams(result gjson.Result) (params *ProtocolParameters, err error) {
	ratio := func(path string) (r Rational) {
		v := result.Get(path)
		if !v.Exists() {
			return
		}
		r, parseErr := ParseRational(v.String())
		if parseErr != nil {
			return Rational{}
		}
		return r
	}

	params = &ProtocolParameters{
		MinFeeCoefficient:     result.Get("minFeeCoefficient").Uint(),
		MinFeeConstant:        result.Get("minFeeConstant.ada.lovelace").Uint(),
		MaxBlockSize:          result.Get("maxBlockBodySize.bytes").Uint(),
		MaxTxSize:             result.Get("maxTransactionSize.bytes").Uint(),
		MaxBlockHeaderSize:    result.Get("maxBlockHeaderSize.bytes").Uint(),
		KeyDeposit:            result.Get("stakeCredentialDeposit.ada.lovelace").Uint(),
		PoolDeposit:           result.Get("stakePoolDeposit.ada.lovelace").Uint(),
		PoolInfluence:         ratio("stakePoolPledgeInfluence"),
		MonetaryExpansion:     ratio("monetaryExpansion"),
		TreasuryExpansion:     ratio("treasuryExpansion"),
		MinPoolCost:           result.Get("minStakePoolCost.ada.lovelace").Uint(),
		CoinsPerUtxoByte:      result.Get("minUtxoDepositCoefficient").Uint(),
		PriceMem:              ratio("scriptExecutionPrices.memory"),
		PriceStep:             ratio("scriptExecutionPrices.cpu"),
		MaxTxExMem:            result.Get("maxExecutionUnitsPerTransaction.memory").Uint(),
		MaxTxExSteps:          result.Get("maxExecutionUnitsPerTransaction.cpu").Uint(),
		MaxBlockExMem:         result.Get("maxExecutionUnitsPerBlock.memory").Uint(),
		MaxBlockExSteps:       result.Get("maxExecutionUnitsPerBlock.cpu").Uint(),
		MaxValueSize:          result.Get("maxValueSize.bytes").Uint(),
		CollateralPercent:     result.Get("collateralPercentage").Uint(),
		MaxCollateralInputs:   result.Get("maxCollateralInputs").Uint(),
		PoolRetireMaxEpoch:    result.Get("stakePoolRetirementEpochBound").Uint(),
		GovActionDeposit:      result.Get("governanceActionDeposit.ada.lovelace").Uint(),
		DRepDeposit:           result.Get("delegateRepresentativeDeposit.ada.lovelace").Uint(),
		GovActionLifetime:     result.Get("governanceActionLifetime.epochs").Uint(),
		DRepActivity:          result.Get("delegateRepresentativeMaxIdleTime.epochs").Uint(),
		CommitteeMinSize:      result.Get("constitutionalCommitteeMinSize").Uint(),
		CommitteeMaxTermLimit: result.Get("constitutionalCommitteeMaxTermLength.epochs").Uint(),
		ProtocolVersion: ProtocolVersion{
			Major: result.Get("version.major").Uint(),
			Minor: result.Get("version.minor").Uint(),
		},
	}

	if costModels := result.Get("plutusCostModels"); costModels.IsObject() {
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

	thresholds := func(path string) (out map[string]Rational) {
		obj := result.Get(path)
		if !obj.IsObject() {
			return
		}
		out = map[string]Rational{}
		var walk func(prefix string, node gjson.Result)
		walk = func(prefix string, node gjson.Result) {
			node.ForEach(func(key, value gjson.Result) bool {
				name := key.String()
				if prefix != "" {
					name = prefix + "." + name
				}
				if value.IsObject() {
					walk(name, value)
					return true
				}
				if r, parseErr := ParseRational(value.String()); parseErr == nil {
					out[name] = r
				}
				return true
			})
		}
		walk("", obj)
		return
	}

	params.PoolVotingThresholds = thresholds("stakePoolVotingThresholds")
	params.DRepVotingThresholds = thresholds("delegateRepresentativeVotingThresholds")

	return
}

func (c *OgmiosContext) LastBlockSlot(ctx context.Context) (slot uint64, err error) {
	if cached, ok := c.shortCache.get(lastBlockSlotCacheKey); ok {
		return cached.(uint64), nil
	}

	result, err := c.call(ctx, "queryLedgerState/tip", nil)
	if err != nil {
		return
	}

	slot = result.Get("slot").Uint()
	c.shortCache.set(lastBlockSlotCacheKey, slot)
	return
}

func (c *OgmiosContext) Era(ctx context.Context) (era Era, err error) {
	params, err := c.ProtocolParameters(ctx)
	if err != nil {
		return
	}
	era = EraForProtocolVersion(params.ProtocolVersion.Major)
	return
}

func (c *OgmiosContext) Utxos(ctx context.Context, address string) (utxos []Utxo, err error) {
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

	result, err := c.call(ctx, "queryLedgerState/utxo", map[string]any{"addresses": []string{address}})
	if err != nil {
		return
	}

	for _, entry := range result.Array() {
		txId := entry.Get("transaction.id").String()
		if txId == "" {
			c.log.Warn().Msgf("skipping utxo with missing tx id at %s", address)
			continue
		}

		value := Value{}
		entry.Get("value").ForEach(func(policy, assets gjson.Result) bool {
			if policy.String() == "ada" {
				value.Coin += assets.Get(LovelaceUnit).Uint()
				return true
			}
			assets.ForEach(func(assetName, quantity gjson.Result) bool {
				value.AddAsset(HexString(policy.String()), HexString(assetName.String()), quantity.Uint())
				return true
			})
			return true
		})
		value.Normalize()

		output := UtxoOutput{
			Address: entry.Get("address").String(),
			Value:   value,
		}

		if datum := entry.Get("datum").String(); datum != "" {
			output.InlineDatum = HexString(datum).Bytes()
		} else if datumHash := entry.Get("datumHash").String(); datumHash != "" {
			output.DatumHash = HexString(datumHash)
		}

		if script := entry.Get("script"); script.IsObject() {
			output.Script, err = ogmiosScript(script)
			if err != nil {
				return
			}
		}

		utxos = append(utxos, Utxo{
			Key:    UtxoKey{TxId: TransactionId(txId), Index: entry.Get("index").Uint()},
			Output: output,
		})
	}

	c.shortCache.set(cacheKey, utxos)
	utxos = cloneUtxos(utxos)
	return
}

func ogmiosScript(script gjson.Result) (out *Script, err error) {
	switch language := script.Get("language").String(); language {
	case "native":
		out = &Script{Kind: ScriptKindNative, Json: []byte(script.Get("json").Raw)}
	case "plutus:v1":
		out = &Script{Kind: ScriptKindPlutusV1, Bytes: HexString(script.Get("cbor").String()).Bytes()}
	case "plutus:v2":
		out = &Script{Kind: ScriptKindPlutusV2, Bytes: HexString(script.Get("cbor").String()).Bytes()}
	case "plutus:v3":
		out = &Script{Kind: ScriptKindPlutusV3, Bytes: HexString(script.Get("cbor").String()).Bytes()}
	default:
		err = errors.Wrapf(ErrValueParse, "unknown script language '%s'", language)
	}
	return
}

func (c *OgmiosContext) StakeAddressInfo(ctx context.Context, address string) (infos []StakeAddressInfo, err error) {
	if err = ValidateStakeAddress(address, c.options.Network); err != nil {
		return
	}

	result, err := c.call(ctx, "queryLedgerState/rewardAccountSummaries", map[string]any{
		"keys": []string{address},
	})
	if err != nil {
		return
	}

	if !result.IsObject() || len(result.Map()) == 0 {
		return
	}

	result.ForEach(func(_, summary gjson.Result) bool {
		infos = append(infos, StakeAddressInfo{
			Address:        address,
			Active:         true,
			RewardBalance:  summary.Get("rewards.ada.lovelace").Uint(),
			StakePool:      summary.Get("delegate.id").String(),
			VoteDelegation: summary.Get("delegateRepresentative.id").String(),
		})
		return true
	})
	return
}

func (c *OgmiosContext) SubmitTxCBOR(ctx context.Context, raw []byte) (id TransactionId, err error) {
	result, err := c.call(ctx, "submitTransaction", map[string]any{
		"transaction": map[string]any{"cbor": hex.EncodeToString(raw)},
	})
	if err != nil {
		err = errors.Wrapf(ErrTransactionFailed, "%v", err)
		return
	}

	id = TransactionId(result.Get("transaction.id").String())
	if id == "" {
		err = errors.Wrapf(ErrValueParse, "submit result carries no transaction id: %s", result.Raw)
	}
	return
}

func (c *OgmiosContext) EvaluateTxCBOR(ctx context.Context, raw []byte) (units map[RedeemerKey]ExecutionUnits, err error) {
	result, err := c.call(ctx, "evaluateTransaction", map[string]any{
		"transaction": map[string]any{"cbor": hex.EncodeToString(raw)},
	})
	if err != nil {
		return
	}

	return parseOgmiosEvaluateResult(result)
}

// parseOgmiosEvaluateResult maps the execution trace, keyed by validator
// purpose and index, into the canonical redeemer-key form. Shared with the
// koios passthrough.
func parseOgmiosEvaluateResult(result gjson.Result) (units map[RedeemerKey]ExecutionUnits, err error) {
	units = map[RedeemerKey]ExecutionUnits{}
	for _, entry := range result.Array() {
		purpose := NormalizeRedeemerPurpose(entry.Get("validator.purpose").String())
		key := NewRedeemerKey(purpose, entry.Get("validator.index").Uint())
		units[key] = ExecutionUnits{
			Mem:   entry.Get("budget.memory").Uint(),
			Steps: entry.Get("budget.cpu").Uint(),
		}
	}
	return
}
