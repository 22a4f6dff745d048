package api

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// CodecName is the gRPC content subtype used by the quaestor services.
// Requests arrive as application/grpc+cbor.
const CodecName = "cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("api: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("api: CBOR decoder initialization failed: " + err.Error())
	}

	encoding.RegisterCodec(codec{})
}

// codec encodes plain message structs as CBOR. Protobuf messages (health
// checks sharing a connection) pass through the protobuf wire format.
type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return encMode.Marshal(v)
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return decMode.Unmarshal(data, v)
}

func (codec) Name() string {
	return CodecName
}

// Marshal and Unmarshal expose the wire encoding for tests and tooling.
func Marshal(v interface{}) ([]byte, error) {
	return codec{}.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return codec{}.Unmarshal(data, v)
}
