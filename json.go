package cardano

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

func jsonUnmarshal(data []byte, target any) (err error) {
	if err = json.Unmarshal(data, target); err != nil {
		err = errors.Wrapf(ErrValueParse, "unable to unmarshal body: %s", string(data))
	}
	return
}

// strictUint reads a numeric field that may arrive as a json number or a
// numeric string. Absent or non-numeric values are an explicit failure;
// there is no silent zero-defaulting.
func strictUint(jsn gjson.Result, field string) (value uint64, err error) {
	v := jsn.Get(field)
	switch v.Type {
	case gjson.Number:
		value = v.Uint()
	case gjson.String:
		value, err = strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			err = errors.Wrapf(ErrValueParse, "field '%s': '%s' is not numeric", field, v.String())
		}
	default:
		err = errors.Wrapf(ErrValueParse, "field '%s' absent or non-numeric", field)
	}
	return
}

func strictFloat(jsn gjson.Result, field string) (value float64, err error) {
	v := jsn.Get(field)
	switch v.Type {
	case gjson.Number:
		value = v.Float()
	case gjson.String:
		value, err = strconv.ParseFloat(v.String(), 64)
		if err != nil {
			err = errors.Wrapf(ErrValueParse, "field '%s': '%s' is not numeric", field, v.String())
		}
	default:
		err = errors.Wrapf(ErrValueParse, "field '%s' absent or non-numeric", field)
	}
	return
}
