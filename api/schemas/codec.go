package schemas

import (
	jsoniter "github.com/json-iterator/go"
)

// rpcJSON is the codec for every value object crossing a process boundary.
// It is configured to be byte-compatible with encoding/json so that either side
// of the wire can be implemented with the standard library.
var rpcJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal encodes v with the RPC codec.
func Marshal(v interface{}) ([]byte, error) {
	return rpcJSON.Marshal(v)
}

// Unmarshal decodes data into v with the RPC codec.
func Unmarshal(data []byte, v interface{}) error {
	return rpcJSON.Unmarshal(data, v)
}

// MarshalIndent is Marshal with indentation, for human-facing output.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return rpcJSON.MarshalIndent(v, prefix, indent)
}
