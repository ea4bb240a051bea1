package cardano

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const koiosGenesisBody = `[{
	"activeslotcoeff": "0.05",
	"epochlength": "432000",
	"maxkesrevolutions": "62",
	"maxlovelacesupply": "45000000000000000",
	"networkmagic": "1",
	"securityparam": "2160",
	"slotlength": "1",
	"slotsperkesperiod": "129600",
	"systemstart": 1654041600,
	"updatequorum": "5"
}]`

func newTestKoiosContext(t *testing.T, handler http.Handler) *KoiosContext {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewKoiosContext(&KoiosOptions{
		Network: NetworkPreProd,
		BaseUrl: server.URL,
		Retry:   NewRetryExecutor(1, time.Millisecond),
	})
	assert.Nil(t, err)
	return c
}

func TestKoios_GenesisParameters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/genesis", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, koiosGenesisBody)
	})
	c := newTestKoiosContext(t, mux)

	genesis, err := c.GenesisParameters(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, uint64(432000), genesis.EpochLength)
	assert.Equal(t, uint64(45000000000000000), genesis.MaxLovelaceSupply)
	assert.Equal(t, NetworkMagic(1), genesis.NetworkMagic)
	assert.Equal(t, uint64(2160), genesis.SecurityParam)
	assert.InDelta(t, 0.05, genesis.ActiveSlotsCoefficient, 1e-9)
	assert.Equal(t, time.Unix(1654041600, 0).UTC(), genesis.SystemStart)

	again, err := c.GenesisParameters(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, genesis, again)
	assert.NotSame(t, genesis, again)
}

// A genesis document missing a numeric field must fail rather than cache a
// zero value forever.
func TestKoios_GenesisStrictDecoding(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing field", `[{"activeslotcoeff": "0.05", "epochlength": "432000"}]`},
		{"non-numeric field", `[{
			"activeslotcoeff": "0.05",
			"epochlength": "432000",
			"maxkesrevolutions": "62",
			"maxlovelacesupply": "not-a-number",
			"networkmagic": "1",
			"securityparam": "2160",
			"slotlength": "1",
			"slotsperkesperiod": "129600",
			"systemstart": 1654041600,
			"updatequorum": "5"
		}]`},
		{"empty result", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/genesis", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			c := newTestKoiosContext(t, mux)

			_, err := c.GenesisParameters(context.Background())
			assert.ErrorIs(t, err, ErrValueParse)

			// A failed fetch must not populate the permanent cache.
			c.mu.Lock()
			assert.Nil(t, c.genesis)
			c.mu.Unlock()
		})
	}
}

func koiosTipMux(t *testing.T, address string) *http.ServeMux {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/tip", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"epoch_no": 500, "abs_slot": 4200, "block_no": 10000}]`)
	})
	mux.HandleFunc("/epoch_info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"epoch_no": 500, "end_time": %d}]`, time.Now().Add(time.Hour).Unix())
	})
	return mux
}

func TestKoios_Utxos(t *testing.T) {
	address := testPaymentAddress(t, NetworkPreProd)
	policyId := "ec26b89af41bef0f7585353831cb5da42b5b37185e0c8a526143b824"

	mux := koiosTipMux(t, address)
	mux.HandleFunc("/address_info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{
			"address": "%s",
			"utxo_set": [
				{
					"tx_hash": "%s",
					"tx_index": 0,
					"value": "1000000",
					"asset_list": []
				},
				{
					"tx_hash": "",
					"tx_index": 1,
					"value": "7"
				},
				{
					"tx_hash": "%s",
					"tx_index": 2,
					"value": "2000000",
					"asset_list": [
						{"policy_id": "%s", "asset_name": "746f6b656e", "quantity": "42"}
					],
					"datum_hash": "aa00",
					"inline_datum": {"bytes": "d87980"}
				}
			]
		}]`, address, testUtxoTxId, testUtxoTxId, policyId)
	})
	c := newTestKoiosContext(t, mux)

	utxos, err := c.Utxos(context.Background(), address)
	assert.Nil(t, err)
	assert.Len(t, utxos, 2, "the entry without a tx hash is skipped")

	assert.Equal(t, TransactionId(testUtxoTxId), utxos[0].Key.TxId)
	assert.Equal(t, uint64(0), utxos[0].Key.Index)
	assert.Equal(t, uint64(1000000), utxos[0].Output.Value.Coin)
	assert.Nil(t, utxos[0].Output.Value.MultiAsset)

	assert.Equal(t, uint64(2), utxos[1].Key.Index)
	assert.Equal(t, uint64(42), utxos[1].Output.Value.MultiAsset[HexString(policyId)][HexString("746f6b656e")])
	assert.Equal(t, HexBytes{0xd8, 0x79, 0x80}, utxos[1].Output.InlineDatum, "inline datum wins over the hash")
	assert.Empty(t, utxos[1].Output.DatumHash)

	// Mutating a returned set cannot change what the cache hands out next.
	utxos[0].Output.Value.Coin = 42
	again, err := c.Utxos(context.Background(), address)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1000000), again[0].Output.Value.Coin)
}

func TestKoios_UtxoStrictQuantity(t *testing.T) {
	address := testPaymentAddress(t, NetworkPreProd)

	mux := koiosTipMux(t, address)
	mux.HandleFunc("/address_info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{
			"utxo_set": [{"tx_hash": "%s", "tx_index": 0, "value": "garbage"}]
		}]`, testUtxoTxId)
	})
	c := newTestKoiosContext(t, mux)

	_, err := c.Utxos(context.Background(), address)
	assert.ErrorIs(t, err, ErrValueParse)
}

func TestKoios_StakeAddressInfo(t *testing.T) {
	address := testStakeAddress(t, NetworkPreProd)

	mux := http.NewServeMux()
	mux.HandleFunc("/account_info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{
			"stake_address": "%s",
			"status": "registered",
			"rewards_available": "150000",
			"delegated_pool": "pool1abc",
			"delegated_drep": "drep1xyz"
		}]`, address)
	})
	c := newTestKoiosContext(t, mux)

	infos, err := c.StakeAddressInfo(context.Background(), address)
	assert.Nil(t, err)
	assert.Len(t, infos, 1)
	assert.True(t, infos[0].Active)
	assert.Equal(t, uint64(150000), infos[0].RewardBalance)
	assert.Equal(t, "pool1abc", infos[0].StakePool)
	assert.Equal(t, "drep1xyz", infos[0].VoteDelegation)
}

func TestKoios_StakeAddressInfoUnknown(t *testing.T) {
	address := testStakeAddress(t, NetworkPreProd)

	mux := http.NewServeMux()
	mux.HandleFunc("/account_info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	c := newTestKoiosContext(t, mux)

	infos, err := c.StakeAddressInfo(context.Background(), address)
	assert.Nil(t, err)
	assert.Empty(t, infos)
}

func TestKoios_SubmitTx(t *testing.T) {
	var submitted []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/submittx", func(w http.ResponseWriter, r *http.Request) {
		submitted, _ = io.ReadAll(r.Body)
		fmt.Fprintf(w, `"%s"`, testUtxoTxId)
	})
	c := newTestKoiosContext(t, mux)

	raw := []byte{0x84, 0xa0, 0xa0, 0xf5, 0xf6}
	id, err := c.SubmitTxCBOR(context.Background(), raw)
	assert.Nil(t, err)
	assert.Equal(t, TransactionId(testUtxoTxId), id)
	assert.Equal(t, raw, submitted)
}

func TestKoios_SubmitTxRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/submittx", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "BadInputsUTxO", http.StatusBadRequest)
	})
	c := newTestKoiosContext(t, mux)

	_, err := c.SubmitTxCBOR(context.Background(), []byte{0xf6})
	assert.ErrorIs(t, err, ErrTransactionFailed)
}

func TestKoios_EvaluateTx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ogmios", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"jsonrpc": "2.0",
			"result": [
				{"validator": {"purpose": "spend", "index": 0}, "budget": {"memory": 1700, "cpu": 476468}},
				{"validator": {"purpose": "withdraw", "index": 1}, "budget": {"memory": 140, "cpu": 1000}}
			]
		}`)
	})
	c := newTestKoiosContext(t, mux)

	units, err := c.EvaluateTxCBOR(context.Background(), []byte{0xf6})
	assert.Nil(t, err)
	assert.Equal(t, map[RedeemerKey]ExecutionUnits{
		"spend:0":      {Mem: 1700, Steps: 476468},
		"withdrawal:1": {Mem: 140, Steps: 1000},
	}, units)
}
