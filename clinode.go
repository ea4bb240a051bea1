package cardano

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

type CliNodeOptions struct {
	Network     Network
	CustomMagic NetworkMagic
	BinaryPath  string
	SocketPath  string
	GenesisFile string
	OpCertFile  string

	// Run is swappable for tests; the default spawns the binary with the
	// subprocess bound to the call's context.
	Run func(ctx context.Context, binary string, args, env []string) ([]byte, error)

	Retry              *RetryExecutor
	UtxoCacheTTL       time.Duration
	TipRefetchInterval time.Duration
}

func (o *CliNodeOptions) setDefaults() (err error) {
	if o.Network == "" {
		o.Network = NetworkMainNet
	}
	if o.BinaryPath == "" {
		o.BinaryPath = os.Getenv("CARDANO_CLI_PATH")
	}
	if o.BinaryPath == "" {
		o.BinaryPath = "cardano-cli"
	}
	if o.SocketPath == "" {
		o.SocketPath = os.Getenv("CARDANO_NODE_SOCKET_PATH")
	}
	if o.Run == nil {
		o.Run = runCliBinary
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

func runCliBinary(ctx context.Context, binary string, args, env []string) (out []byte, err error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err = cmd.Run(); err != nil {
		err = errors.Wrapf(ErrCardanoCli, "%s %s: %v: %s",
			binary, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
		return
	}

	out = stdout.Bytes()
	return
}

// CliNodeContext is a ChainContext that shells out to cardano-cli against a
// local node socket, one subprocess per call.
type CliNodeContext struct {
	options     *CliNodeOptions
	log         zerolog.Logger
	retry       *RetryExecutor
	networkArgs []string

	shortCache *ttlCache

	mu           sync.Mutex
	genesis      *GenesisParameters
	params       *ProtocolParameters
	epoch        uint64
	era          Era
	epochChecked time.Time
	now          func() time.Time
}

var _ ChainContext = (*CliNodeContext)(nil)

func NewCliNodeContext(options *CliNodeOptions) (c *CliNodeContext, err error) {
	if options == nil {
		options = &CliNodeOptions{}
	}
	if err = options.setDefaults(); err != nil {
		return
	}

	networkArgs, err := options.Network.CliArgs(options.CustomMagic)
	if err != nil {
		return
	}

	c = &CliNodeContext{
		options:     options,
		log:         Log().With().Str("backend", "cardano-cli").Logger(),
		retry:       options.Retry,
		networkArgs: networkArgs,
		shortCache:  newTtlCache(options.UtxoCacheTTL),
		now:         time.Now,
	}
	return
}

func (c *CliNodeContext) Network() Network {
	return c.options.Network
}

func (c *CliNodeContext) run(ctx context.Context, args ...string) (out []byte, err error) {
	args = append(args, c.networkArgs...)
	env := []string{"CARDANO_NODE_SOCKET_PATH=" + c.options.SocketPath}

	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var runErr error
		out, runErr = c.options.Run(ctx, c.options.BinaryPath, args, env)
		return runErr
	})
	return
}

// GenesisParameters reads the shelley genesis file configured for the node.
// There is no cli query for it; the file is part of the node deployment.
func (c *CliNodeContext) GenesisParameters(ctx context.Context) (genesis *GenesisParameters, err error) {
	c.mu.Lock()
	cached := c.genesis
	c.mu.Unlock()
	if cached != nil {
		return cached.clone(), nil
	}

	if c.options.GenesisFile == "" {
		err = errors.Wrap(ErrCardanoCli, "no shelley genesis file configured")
		return
	}

	data, err2 := os.ReadFile(c.options.GenesisFile)
	if err2 != nil {
		err = errors.Wrapf(ErrCardanoCli, "reading genesis file: %v", err2)
		return
	}

	var wire struct {
		ActiveSlotsCoeff  float64   `json:"activeSlotsCoeff"`
		EpochLength       uint64    `json:"epochLength"`
		MaxKESEvolutions  uint64    `json:"maxKESEvolutions"`
		MaxLovelaceSupply uint64    `json:"maxLovelaceSupply"`
		NetworkMagic      uint64    `json:"networkMagic"`
		SecurityParam     uint64    `json:"securityParam"`
		SlotLength        float64   `json:"slotLength"`
		SlotsPerKESPeriod uint64    `json:"slotsPerKESPeriod"`
		SystemStart       time.Time `json:"systemStart"`
		UpdateQuorum      uint64    `json:"updateQuorum"`
	}
	if err = jsonUnmarshal(data, &wire); err != nil {
		return
	}

	genesis = &GenesisParameters{
		ActiveSlotsCoefficient: wire.ActiveSlotsCoeff,
		EpochLength:            wire.EpochLength,
		MaxKESEvolutions:       wire.MaxKESEvolutions,
		MaxLovelaceSupply:      wire.MaxLovelaceSupply,
		NetworkMagic:           NetworkMagic(wire.NetworkMagic),
		SecurityParam:          wire.SecurityParam,
		SlotLength:             wire.SlotLength,
		SlotsPerKESPeriod:      wire.SlotsPerKESPeriod,
		SystemStart:            wire.SystemStart.UTC(),
		UpdateQuorum:           wire.UpdateQuorum,
	}

	c.mu.Lock()
	c.genesis = genesis
	c.mu.Unlock()

	genesis = genesis.clone()
	return
}

func (c *CliNodeContext) queryTip(ctx context.Context) (tip gjson.Result, err error) {
	out, err := c.run(ctx, "query", "tip")
	if err != nil {
		return
	}

	tip = gjson.ParseBytes(out)
	if !tip.IsObject() {
		err = errors.Wrapf(ErrValueParse, "query tip output is not json: %s", string(out))
	}
	return
}

// refreshEpoch re-derives epoch and era from a fresh tip, consulted at most
// once per refetch interval.
func (c *CliNodeContext) refreshEpoch(ctx context.Context) (err error) {
	c.mu.Lock()
	fresh := c.now().Sub(c.epochChecked) < c.options.TipRefetchInterval && !c.epochChecked.IsZero()
	c.mu.Unlock()
	if fresh {
		return
	}

	tip, err := c.queryTip(ctx)
	if err != nil {
		return
	}

	epoch := tip.Get("epoch").Uint()
	era, err := ParseEra(tip.Get("era").String())
	if err != nil {
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.params = nil
	}
	c.epoch = epoch
	c.era = era
	c.epochChecked = c.now()
	c.mu.Unlock()

	return
}

func (c *CliNodeContext) Epoch(ctx context.Context) (epoch uint64, err error) {
	if err = c.refreshEpoch(ctx); err != nil {
		return
	}
	c.mu.Lock()
	epoch = c.epoch
	c.mu.Unlock()
	return
}

func (c *CliNodeContext) Era(ctx context.Context) (era Era, err error) {
	if err = c.refreshEpoch(ctx); err != nil {
		return
	}
	c.mu.Lock()
	era = c.era
	c.mu.Unlock()
	return
}

func (c *CliNodeContext) LastBlockSlot(ctx context.Context) (slot uint64, err error) {
	if cached, ok := c.shortCache.get(lastBlockSlotCacheKey); ok {
		return cached.(uint64), nil
	}

	tip, err := c.queryTip(ctx)
	if err != nil {
		return
	}

	slot = tip.Get("slot").Uint()
	c.shortCache.set(lastBlockSlotCacheKey, slot)
	return
}

func (c *CliNodeContext) ProtocolParameters(ctx context.Context) (params *ProtocolParameters, err error) {
	if err = c.refreshEpoch(ctx); err != nil {
		return
	}

	c.mu.Lock()
	cached := c.params
	c.mu.Unlock()
	if cached != nil {
		return cached.clone(), nil
	}

	out, err := c.run(ctx, "query", "protocol-parameters")
	if err != nil {
		return
	}

	params, err = parseCliProtocolParams(out)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.params = params
	c.mu.Unlock()

	params = params.clone()
	return
}

func parseCliProtocolParams(out []byte) (params *ProtocolParameters, err error) {
	jsn := gjson.ParseBytes(out)
	if !jsn.IsObject() {
		err = errors.Wrapf(ErrValueParse, "protocol parameters output is not json: %s", string(out))
		return
	}

	ratio := func(path string) Rational {
		v := jsn.Get(path)
		if !v.Exists() {
			return Rational{}
		}
		if v.IsObject() {
			// Newer cli versions print {"numerator": n, "denominator": d}.
			return Rational{
				Numerator:   v.Get("numerator").Int(),
				Denominator: v.Get("denominator").Int(),
			}
		}
		if r, convErr := RationalFromDecimal(v.String()); convErr == nil {
			return r
		}
		return Rational{}
	}

	params = &ProtocolParameters{
		MinFeeConstant:      jsn.Get("txFeeFixed").Uint(),
		MinFeeCoefficient:   jsn.Get("txFeePerByte").Uint(),
		MaxBlockSize:        jsn.Get("maxBlockBodySize").Uint(),
		MaxTxSize:           jsn.Get("maxTxSize").Uint(),
		MaxBlockHeaderSize:  jsn.Get("maxBlockHeaderSize").Uint(),
		KeyDeposit:          jsn.Get("stakeAddressDeposit").Uint(),
		PoolDeposit:         jsn.Get("stakePoolDeposit").Uint(),
		PoolInfluence:       ratio("poolPledgeInfluence"),
		MonetaryExpansion:   ratio("monetaryExpansion"),
		TreasuryExpansion:   ratio("treasuryCut"),
		MinPoolCost:         jsn.Get("minPoolCost").Uint(),
		CoinsPerUtxoByte:    jsn.Get("utxoCostPerByte").Uint(),
		PriceMem:            ratio("executionUnitPrices.priceMemory"),
		PriceStep:           ratio("executionUnitPrices.priceSteps"),
		MaxTxExMem:          jsn.Get("maxTxExecutionUnits.memory").Uint(),
		MaxTxExSteps:        jsn.Get("maxTxExecutionUnits.steps").Uint(),
		MaxBlockExMem:       jsn.Get("maxBlockExecutionUnits.memory").Uint(),
		MaxBlockExSteps:     jsn.Get("maxBlockExecutionUnits.steps").Uint(),
		MaxValueSize:        jsn.Get("maxValueSize").Uint(),
		CollateralPercent:   jsn.Get("collateralPercentage").Uint(),
		MaxCollateralInputs: jsn.Get("maxCollateralInputs").Uint(),
		PoolRetireMaxEpoch:  jsn.Get("poolRetireMaxEpoch").Uint(),
		ProtocolVersion: ProtocolVersion{
			Major: jsn.Get("protocolVersion.major").Uint(),
			Minor: jsn.Get("protocolVersion.minor").Uint(),
		},
	}

	if costModels := jsn.Get("costModels"); costModels.IsObject() {
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

	return
}

func (c *CliNodeContext) Utxos(ctx context.Context, address string) (utxos []Utxo, err error) {
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

	out, err := c.run(ctx, "query", "utxo", "--address", address, "--out-file", "/dev/stdout")
	if err != nil {
		return
	}

	jsn := gjson.ParseBytes(out)
	if !jsn.IsObject() {
		err = errors.Wrapf(ErrValueParse, "query utxo output is not json: %s", string(out))
		return
	}

	var parseErr error
	jsn.ForEach(func(key, entry gjson.Result) bool {
		// Keys are "txid#index"; anything else is skipped.
		txId, indexStr, found := strings.Cut(key.String(), "#")
		if !found || len(txId) != 64 {
			c.log.Warn().Msgf("skipping unparseable utxo key '%s'", key.String())
			return true
		}
		index, convErr := strconv.ParseUint(indexStr, 10, 64)
		if convErr != nil {
			c.log.Warn().Msgf("skipping unparseable utxo key '%s'", key.String())
			return true
		}

		value := Value{}
		entry.Get("value").ForEach(func(policy, assets gjson.Result) bool {
			if policy.String() == LovelaceUnit {
				value.Coin += assets.Uint()
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

		if inline := entry.Get("inlineDatum"); inline.Exists() && inline.Type != gjson.Null {
			// The cli prints inline datums as detailed-schema json; keep the
			// raw form, callers decode with the ledger-model library.
			output.InlineDatum = []byte(inline.Raw)
		} else if datumHash := entry.Get("datumhash").String(); datumHash != "" && datumHash != "null" {
			output.DatumHash = HexString(datumHash)
		}

		if script := entry.Get("referenceScript.script"); script.IsObject() {
			refScript, scriptErr := cliScript(script)
			if scriptErr != nil {
				parseErr = scriptErr
				return false
			}
			output.Script = refScript
		}

		utxos = append(utxos, Utxo{
			Key:    UtxoKey{TxId: TransactionId(txId), Index: index},
			Output: output,
		})
		return true
	})
	if parseErr != nil {
		err = parseErr
		return
	}

	c.shortCache.set(cacheKey, utxos)
	utxos = cloneUtxos(utxos)
	return
}

func cliScript(script gjson.Result) (out *Script, err error) {
	switch scriptType := script.Get("type").String(); scriptType {
	case "SimpleScript":
		out = &Script{Kind: ScriptKindNative, Json: []byte(script.Get("script").Raw)}
	case "PlutusScriptV1":
		out = &Script{Kind: ScriptKindPlutusV1, Bytes: HexString(script.Get("cborHex").String()).Bytes()}
	case "PlutusScriptV2":
		out = &Script{Kind: ScriptKindPlutusV2, Bytes: HexString(script.Get("cborHex").String()).Bytes()}
	case "PlutusScriptV3":
		out = &Script{Kind: ScriptKindPlutusV3, Bytes: HexString(script.Get("cborHex").String()).Bytes()}
	default:
		err = errors.Wrapf(ErrValueParse, "unknown reference script type '%s'", scriptType)
	}
	return
}

func (c *CliNodeContext) StakeAddressInfo(ctx context.Context, address string) (infos []StakeAddressInfo, err error) {
	if err = ValidateStakeAddress(address, c.options.Network); err != nil {
		return
	}

	out, err := c.run(ctx, "query", "stake-address-info", "--address", address, "--out-file", "/dev/stdout")
	if err != nil {
		return
	}

	jsn := gjson.ParseBytes(out)
	if !jsn.IsArray() {
		err = errors.Wrapf(ErrValueParse, "stake-address-info output is not a json array: %s", string(out))
		return
	}

	for _, row := range jsn.Array() {
		infos = append(infos, StakeAddressInfo{
			Address:        row.Get("address").String(),
			Active:         row.Get("rewardAccountBalance").Exists(),
			RewardBalance:  row.Get("rewardAccountBalance").Uint(),
			StakePool:      row.Get("stakeDelegation").String(),
			VoteDelegation: row.Get("voteDelegation").String(),
		})
	}
	return
}

// SubmitTxCBOR writes the transaction to a temporary era-tagged envelope
// file, submits it, and asks the cli for its id. The file is removed on
// every exit path. The era tag comes from the epoch-scoped era lookup, so
// it can trail the chain by one refetch interval across a hard fork.
func (c *CliNodeContext) SubmitTxCBOR(ctx context.Context, raw []byte) (id TransactionId, err error) {
	era, err := c.Era(ctx)
	if err != nil {
		return
	}

	envelope, err2 := json.Marshal(map[string]string{
		"type":        era.EnvelopeType(),
		"description": "Ledger Cddl Format",
		"cborHex":     hex.EncodeToString(raw),
	})
	if err2 != nil {
		err = errors.WithStack(err2)
		return
	}

	txFile, err2 := os.CreateTemp("", "cardano-tx-*.json")
	if err2 != nil {
		err = errors.WithStack(err2)
		return
	}
	defer func() {
		_ = os.Remove(txFile.Name())
	}()

	if _, err2 = txFile.Write(envelope); err2 != nil {
		_ = txFile.Close()
		err = errors.WithStack(err2)
		return
	}
	if err2 = txFile.Close(); err2 != nil {
		err = errors.WithStack(err2)
		return
	}

	if _, err = c.run(ctx, "transaction", "submit", "--tx-file", txFile.Name()); err != nil {
		err = errors.Wrapf(ErrTransactionFailed, "%v", err)
		return
	}

	out, err := c.run(ctx, "transaction", "txid", "--tx-file", txFile.Name())
	if err != nil {
		return
	}

	id = TransactionId(strings.TrimSpace(string(out)))
	if !HexString(id).Valid() || len(id) != 64 {
		err = errors.Wrapf(ErrValueParse, "'%s' is not a transaction id", id)
	}
	return
}

// EvaluateTxCBOR is not served by cardano-cli; there is no evaluate
// subcommand to shell out to.
func (c *CliNodeContext) EvaluateTxCBOR(ctx context.Context, raw []byte) (units map[RedeemerKey]ExecutionUnits, err error) {
	err = errors.Wrap(ErrOperationFailed, "transaction evaluation is not supported by the cardano-cli backend")
	return
}

// KESPeriodInfo queries the node's view of the operational certificate
// configured for this context. Pool operators use it to decide when to
// rotate; it never mutates ledger state.
func (c *CliNodeContext) KESPeriodInfo(ctx context.Context) (info *KESPeriodInfo, err error) {
	if c.options.OpCertFile == "" {
		err = errors.Wrap(ErrCardanoCli, "no operational certificate file configured")
		return
	}

	out, err := c.run(ctx, "query", "kes-period-info",
		"--op-cert-file", c.options.OpCertFile, "--out-file", "/dev/stdout")
	if err != nil {
		return
	}

	jsn := gjson.ParseBytes(out)
	if !jsn.IsObject() {
		err = errors.Wrapf(ErrValueParse, "kes-period-info output is not json: %s", string(out))
		return
	}

	onChain := jsn.Get("qKesNodeStateOperationalCertificateNumber").Uint()
	info = &KESPeriodInfo{
		OnChainOpCertCount: onChain,
		NextOpCertCount:    onChain + 1,
	}
	if onDisk := jsn.Get("qKesOnDiskOperationalCertificateNumber"); onDisk.Exists() {
		v := onDisk.Uint()
		info.OnDiskOpCertCount = &v
	}
	if start := jsn.Get("qKesStartKesInterval"); start.Exists() {
		v := start.Uint()
		info.KESStartPeriod = &v
	}
	return
}
