package cardano

import (
	"context"

	"github.com/pkg/errors"
)

// ChainContext is the capability every backend satisfies. Reads are
// side-effect free and cache-aware; the concrete backend is chosen at
// construction and held behind this interface for the lifetime of the
// context.
type ChainContext interface {
	// Utxos lists the unspent outputs at an address.
	Utxos(ctx context.Context, address string) ([]Utxo, error)

	// SubmitTxCBOR broadcasts an encoded transaction and returns its id.
	// Rejection by the backend surfaces as ErrTransactionFailed.
	SubmitTxCBOR(ctx context.Context, raw []byte) (TransactionId, error)

	// EvaluateTxCBOR asks the backend to execute the transaction's scripts
	// and returns the execution budget per redeemer. A transaction with no
	// scripts legitimately yields an empty map.
	EvaluateTxCBOR(ctx context.Context, raw []byte) (map[RedeemerKey]ExecutionUnits, error)

	// StakeAddressInfo returns zero or one records for a stake address,
	// as a list for interface uniformity.
	StakeAddressInfo(ctx context.Context, address string) ([]StakeAddressInfo, error)

	ProtocolParameters(ctx context.Context) (*ProtocolParameters, error)
	GenesisParameters(ctx context.Context) (*GenesisParameters, error)
	Epoch(ctx context.Context) (uint64, error)
	LastBlockSlot(ctx context.Context) (uint64, error)
	Era(ctx context.Context) (Era, error)

	Network() Network
}

// SubmitTx normalizes the accepted transaction variants, a parsed *Tx, raw
// bytes, or a hex string, into CBOR and forwards to the context's
// SubmitTxCBOR. Implemented once so backends need not repeat it.
func SubmitTx(ctx context.Context, cc ChainContext, tx any) (id TransactionId, err error) {
	raw, err := txVariantBytes(tx)
	if err != nil {
		return
	}
	return cc.SubmitTxCBOR(ctx, raw)
}

// EvaluateTx serializes a parsed transaction and forwards to EvaluateTxCBOR.
func EvaluateTx(ctx context.Context, cc ChainContext, tx *Tx) (units map[RedeemerKey]ExecutionUnits, err error) {
	if tx == nil {
		err = errors.Wrap(ErrValueParse, "nil transaction")
		return
	}
	return cc.EvaluateTxCBOR(ctx, tx.Bytes())
}

func txVariantBytes(tx any) (raw []byte, err error) {
	switch v := tx.(type) {
	case *Tx:
		if v == nil {
			err = errors.Wrap(ErrValueParse, "nil transaction")
			return
		}
		raw = v.Bytes()
	case []byte:
		raw = v
	case HexBytes:
		raw = v
	case string:
		var parsed *Tx
		parsed, err = TxFromHex(v)
		if err != nil {
			return
		}
		raw = parsed.Bytes()
	default:
		err = errors.Wrapf(ErrValueParse, "unsupported transaction variant %T", tx)
	}
	return
}
