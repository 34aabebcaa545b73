package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrTrailingData is returned by DecodeJSON for input with more than one
// JSON value.
var ErrTrailingData = errors.New("unexpected data after JSON value")

// DecodeJSON decodes exactly one JSON value. Numbers are kept as
// json.Number so no precision is lost before metric coercion.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, ErrTrailingData
	}
	return v, nil
}
