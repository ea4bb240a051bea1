package cardano

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/blake2b"
)

const testUtxoTxId = "39a7a284c2a0a737ee1bc2f0e8a6444a751d23e55e15e5d1a914a634e1e44d58"

type blockfrostFixture struct {
	server   *httptest.Server
	requests map[string]*int64
	utxoBody func(page int) string
	epoch    uint64
	epochEnd int64
}

func (f *blockfrostFixture) count(path string) int64 {
	counter, ok := f.requests[path]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter)
}

func newBlockfrostFixture(t *testing.T, address string) *blockfrostFixture {
	t.Helper()

	f := &blockfrostFixture{
		requests: map[string]*int64{},
		epoch:    500,
		epochEnd: time.Now().Add(time.Hour).Unix(),
	}

	mux := http.NewServeMux()
	record := func(key string) {
		if f.requests[key] == nil {
			f.requests[key] = new(int64)
		}
		atomic.AddInt64(f.requests[key], 1)
	}

	mux.HandleFunc("/genesis", func(w http.ResponseWriter, r *http.Request) {
		record("/genesis")
		fmt.Fprint(w, `{
			"active_slots_coefficient": 0.05,
			"update_quorum": 5,
			"max_lovelace_supply": "45000000000000000",
			"network_magic": 1,
			"epoch_length": 432000,
			"system_start": 1654041600,
			"slots_per_kes_period": 129600,
			"slot_length": 1,
			"max_kes_evolutions": 62,
			"security_param": 2160
		}`)
	})
	mux.HandleFunc("/epochs/latest", func(w http.ResponseWriter, r *http.Request) {
		record("/epochs/latest")
		fmt.Fprintf(w, `{"epoch": %d, "end_time": %d}`, f.epoch, f.epochEnd)
	})
	mux.HandleFunc("/epochs/latest/parameters", func(w http.ResponseWriter, r *http.Request) {
		record("/epochs/latest/parameters")
		fmt.Fprintf(w, `{
			"min_fee_a": 44,
			"min_fee_b": 155381,
			"max_tx_size": 16384,
			"key_deposit": "2000000",
			"pool_deposit": "500000000",
			"a0": 0.3,
			"rho": 0.003,
			"tau": 0.2,
			"min_pool_cost": "340000000",
			"coins_per_utxo_size": "4310",
			"price_mem": 0.0577,
			"price_step": 0.0000721,
			"protocol_major_ver": 9,
			"protocol_minor_ver": 0,
			"collateral_percent": 150,
			"max_collateral_inputs": 3,
			"cost_models": {"PlutusV2": [1, 2, 3]},
			"epoch": %d
		}`, f.epoch)
	})
	mux.HandleFunc("/blocks/latest", func(w http.ResponseWriter, r *http.Request) {
		record("/blocks/latest")
		fmt.Fprintf(w, `{"height": 10000, "epoch": %d, "slot": 4200, "hash": "abc123"}`, f.epoch)
	})
	mux.HandleFunc("/addresses/"+address+"/utxos", func(w http.ResponseWriter, r *http.Request) {
		record("/utxos")
		page := r.URL.Query().Get("page")
		if f.utxoBody != nil {
			var n int
			fmt.Sscanf(page, "%d", &n)
			fmt.Fprint(w, f.utxoBody(n))
			return
		}
		if page != "1" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprintf(w, `[{
			"tx_hash": "%s",
			"output_index": 0,
			"address": "%s",
			"amount": [{"unit": "lovelace", "quantity": "1000000"}]
		}]`, testUtxoTxId, address)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestBlockfrostContext(t *testing.T, f *blockfrostFixture) *BlockfrostContext {
	t.Helper()

	c, err := NewBlockfrostContext(&BlockfrostOptions{
		Network:   NetworkPreProd,
		ProjectId: "test",
		BaseUrl:   f.server.URL,
		Retry:     NewRetryExecutor(1, time.Millisecond),
	})
	assert.Nil(t, err)
	return c
}

func TestBlockfrost_UtxoScenario(t *testing.T) {
	address := testPaymentAddress(t, NetworkPreProd)
	f := newBlockfrostFixture(t, address)
	c := newTestBlockfrostContext(t, f)

	utxos, err := c.Utxos(context.Background(), address)
	assert.Nil(t, err)
	assert.Len(t, utxos, 1)
	assert.Equal(t, TransactionId(testUtxoTxId), utxos[0].Key.TxId)
	assert.Equal(t, uint64(0), utxos[0].Key.Index)
	assert.Equal(t, uint64(1000000), utxos[0].Output.Value.Coin)
	assert.Nil(t, utxos[0].Output.Value.MultiAsset)
}

func TestBlockfrost_UtxoCacheWithinSlot(t *testing.T) {
	address := testPaymentAddress(t, NetworkPreProd)
	f := newBlockfrostFixture(t, address)
	c := newTestBlockfrostContext(t, f)

	first, err := c.Utxos(context.Background(), address)
	assert.Nil(t, err)
	second, err := c.Utxos(context.Background(), address)
	assert.Nil(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), f.count("/utxos"), "second call within the cache window must not re-fetch")

	// After the lifetime window a fresh fetch happens.
	now := time.Now()
	c.shortCache.now = func() time.Time { return now.Add(2 * time.Second) }
	_, err = c.Utxos(context.Background(), address)
	assert.Nil(t, err)
	assert.Equal(t, int64(2), f.count("/utxos"))
}

// Returned values are caller-owned snapshots. Mutating one must never leak
// into what a later call hands out, even when the answer comes from cache.
func TestBlockfrost_ResultsAreCallerOwned(t *testing.T) {
	address := testPaymentAddress(t, NetworkPreProd)
	f := newBlockfrostFixture(t, address)
	c := newTestBlockfrostContext(t, f)

	first, err := c.Utxos(context.Background(), address)
	assert.Nil(t, err)
	assert.Len(t, first, 1)
	first[0].Output.Value.Coin = 42
	first[0].Output.Value.AddAsset("aa", "bb", 7)

	second, err := c.Utxos(context.Background(), address)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), f.count("/utxos"))
	assert.Equal(t, uint64(1000000), second[0].Output.Value.Coin)
	assert.Nil(t, second[0].Output.Value.MultiAsset)

	params, err := c.ProtocolParameters(context.Background())
	assert.Nil(t, err)
	params.MinFeeCoefficient = 0
	params.CostModels["PlutusV2"][0] = 99

	params, err = c.ProtocolParameters(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, int64(1), f.count("/epochs/latest/parameters"))
	assert.Equal(t, uint64(44), params.MinFeeCoefficient)
	assert.Equal(t, []int64{1, 2, 3}, params.CostModels["PlutusV2"])

	genesis, err := c.GenesisParameters(context.Background())
	assert.Nil(t, err)
	genesis.NetworkMagic = 0

	genesis, err = c.GenesisParameters(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, int64(1), f.count("/genesis"))
	assert.Equal(t, NetworkMagic(1), genesis.NetworkMagic)
}

func TestBlockfrost_UtxoPagination(t *testing.T) {
	address := testPaymentAddress(t, NetworkPreProd)
	f := newBlockfrostFixture(t, address)

	f.utxoBody = func(page int) string {
		if page > 2 {
			return "[]"
		}
		body := "["
		for i := 0; i < blockfrostUtxoPageSize; i++ {
			if i > 0 {
				body += ","
			}
			body += fmt.Sprintf(`{
				"tx_hash": "%s",
				"output_index": %d,
				"address": "%s",
				"amount": [{"unit": "lovelace", "quantity": "1"}]
			}`, testUtxoTxId, (page-1)*blockfrostUtxoPageSize+i, address)
		}
		return body + "]"
	}

	c := newTestBlockfrostContext(t, f)

	utxos, err := c.Utxos(context.Background(), address)
	assert.Nil(t, err)
	assert.Len(t, utxos, 2*blockfrostUtxoPageSize)
	assert.Equal(t, int64(3), f.count("/utxos"), "two full pages plus the terminating short page")
}

func TestBlockfrost_GenesisPermanentCache(t *testing.T) {
	address := testPaymentAddress(t, NetworkPreProd)
	f := newBlockfrostFixture(t, address)
	c := newTestBlockfrostContext(t, f)

	first, err := c.GenesisParameters(context.Background())
	assert.Nil(t, err)
	second, err := c.GenesisParameters(context.Background())
	assert.Nil(t, err)

	assert.Equal(t, first, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(1), f.count("/genesis"))

	assert.Equal(t, uint64(432000), first.EpochLength)
	assert.Equal(t, uint64(45000000000000000), first.MaxLovelaceSupply)
	assert.Equal(t, NetworkMagic(1), first.NetworkMagic)
	assert.InDelta(t, 0.05, first.ActiveSlotsCoefficient, 1e-9)
}

func TestBlockfrost_ProtocolParamsEpochScoped(t *testing.T) {
	address := testPaymentAddress(t, NetworkPreProd)
	f := newBlockfrostFixture(t, address)
	c := newTestBlockfrostContext(t, f)

	first, err := c.ProtocolParameters(context.Background())
	assert.Nil(t, err)
	second, err := c.ProtocolParameters(context.Background())
	assert.Nil(t, err)

	assert.Equal(t, first, second, "within an epoch the cached value is returned")
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(1), f.count("/epochs/latest/parameters"))

	assert.Equal(t, uint64(44), first.MinFeeCoefficient)
	assert.Equal(t, uint64(155381), first.MinFeeConstant)
	assert.Equal(t, Rational{3, 10}, first.PoolInfluence)
	assert.Equal(t, Rational{577, 10000}, first.PriceMem)
	assert.Equal(t, []int64{1, 2, 3}, first.CostModels["PlutusV2"])

	// Cross an epoch boundary: the declared end time passes and the next
	// poll reports a new epoch.
	f.epoch = 501
	c.mu.Lock()
	c.epochEnd = time.Now().Add(-time.Minute)
	c.mu.Unlock()

	third, err := c.ProtocolParameters(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, first, third)
	assert.Equal(t, int64(2), f.count("/epochs/latest/parameters"), "an epoch advance forces exactly one re-fetch")

	epoch, err := c.Epoch(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, uint64(501), epoch)
}

func TestBlockfrost_Era(t *testing.T) {
	address := testPaymentAddress(t, NetworkPreProd)
	f := newBlockfrostFixture(t, address)
	c := newTestBlockfrostContext(t, f)

	era, err := c.Era(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, EraConway, era)
}

func TestBlockfrost_UnsupportedNetwork(t *testing.T) {
	_, err := NewBlockfrostContext(&BlockfrostOptions{Network: NetworkGuild})
	assert.ErrorIs(t, err, ErrUnsupportedNetwork)
}

func TestBlockfrost_InvalidAddress(t *testing.T) {
	address := testPaymentAddress(t, NetworkPreProd)
	f := newBlockfrostFixture(t, address)
	c := newTestBlockfrostContext(t, f)

	_, err := c.Utxos(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, int64(0), f.count("/utxos"))
}

func TestVerifyScriptBytes(t *testing.T) {
	script := []byte{0x59, 0x01, 0x00, 0x11, 0x22}
	hasher, err := blake2b.New(28, nil)
	assert.Nil(t, err)
	hasher.Write([]byte{2})
	hasher.Write(script)
	hash := hex.EncodeToString(hasher.Sum(nil))

	// Exact bytes match directly.
	verified, err := verifyScriptBytes(script, 2, hash)
	assert.Nil(t, err)
	assert.Equal(t, HexBytes(script), verified)

	// A cbor bytestring envelope around the script is unwrapped and the
	// inner bytes accepted.
	wrapped, err := cbor.Marshal(script)
	assert.Nil(t, err)
	verified, err = verifyScriptBytes(wrapped, 2, hash)
	assert.Nil(t, err)
	assert.Equal(t, HexBytes(script), verified)

	// A double envelope also resolves.
	doubleWrapped, err := cbor.Marshal(wrapped)
	assert.Nil(t, err)
	verified, err = verifyScriptBytes(doubleWrapped, 2, hash)
	assert.Nil(t, err)
	assert.Equal(t, HexBytes(script), verified)

	// Garbage never verifies.
	_, err = verifyScriptBytes([]byte{0xde, 0xad}, 2, hash)
	assert.ErrorIs(t, err, ErrValueParse)
}
