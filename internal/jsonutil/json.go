// Package jsonutil centralizes JSON encoding for the bridge so every
// component decodes and encodes the same way: tool-call envelopes,
// GraphQL payloads, and authenticate responses.
package jsonutil

import (
	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	Marshal    = api.Marshal
	Unmarshal  = api.Unmarshal
	NewDecoder = api.NewDecoder
	NewEncoder = api.NewEncoder
)

// RawMessage mirrors encoding/json.RawMessage so callers can defer
// decoding without importing both packages.
type RawMessage = jsoniter.RawMessage
