package cardano

import (
	"fmt"
)

var (
	ErrBlockfrost         = fmt.Errorf("blockfrost request failed")
	ErrKoios              = fmt.Errorf("koios request failed")
	ErrOgmios             = fmt.Errorf("ogmios request failed")
	ErrCardanoCli         = fmt.Errorf("cardano-cli invocation failed")
	ErrInvalidAddress     = fmt.Errorf("invalid address")
	ErrTransactionFailed  = fmt.Errorf("transaction submission failed")
	ErrValueParse         = fmt.Errorf("unable to parse backend response")
	ErrUnsupportedNetwork = fmt.Errorf("unsupported network")
	ErrOperationFailed    = fmt.Errorf("operation failed")
)

var AllErrors = []error{
	ErrBlockfrost,
	ErrKoios,
	ErrOgmios,
	ErrCardanoCli,
	ErrInvalidAddress,
	ErrTransactionFailed,
	ErrValueParse,
	ErrUnsupportedNetwork,
	ErrOperationFailed,
}
