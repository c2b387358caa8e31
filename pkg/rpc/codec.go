package rpc

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so identical messages produce
// identical bytes on every transport.
var encMode cbor.EncMode

// decMode decodes untyped maps as map[string]interface{} so Args survive a
// round trip with the same shape they were sent with.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("rpc: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("rpc: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v
func Unmarshal(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value used for lazily decoded results
type RawMessage = cbor.RawMessage
