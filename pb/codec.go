package pb

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype both sides negotiate. Clients dial with
// DefaultCallOption; servers pick it up from the registered codec.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec serializes RPC messages as JSON. The message set is small and
// owned end to end, so a schema compiler buys nothing here.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("pb: unmarshal %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }

// DefaultCallOption selects the JSON codec on every outbound call.
func DefaultCallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
