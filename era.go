package cardano

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	EraByron Era = iota
	EraShelley
	EraAllegra
	EraMary
	EraAlonzo
	EraBabbage
	EraConway
)

type Era uint64

var EraStringMap = map[Era]string{
	EraByron:   "Byron",
	EraShelley: "Shelley",
	EraAllegra: "Allegra",
	EraMary:    "Mary",
	EraAlonzo:  "Alonzo",
	EraBabbage: "Babbage",
	EraConway:  "Conway",
}

func (e Era) String() string {
	if s, ok := EraStringMap[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown (%d)", uint64(e))
}

func (e Era) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.String() + `"`), nil
}

func (e Era) Valid() bool {
	return e >= EraByron && e <= EraConway
}

// EnvelopeType is the era-qualified tag cardano-cli expects in the `type`
// field of a transaction file.
func (e Era) EnvelopeType() string {
	return fmt.Sprintf("Witnessed Tx %sEra", e.String())
}

func ParseEra(s string) (era Era, err error) {
	for e, name := range EraStringMap {
		if strings.EqualFold(name, s) {
			return e, nil
		}
	}
	err = errors.Wrapf(ErrValueParse, "unknown era '%s'", s)
	return
}
