package codec

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Envelopes are JSON on the wire so that Java and C# peers can read them.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode keeps numbers as json.Number so 64-bit integers survive a round trip
// through interface{} values.
func (JSONCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("codec: empty JSON document")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "codec: decode JSON")
	}
	return nil
}

func (JSONCodec) Name() string {
	return "json"
}
