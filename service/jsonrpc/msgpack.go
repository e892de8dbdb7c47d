// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// DecodeMsgpack parses a binary frame carrying the same structure as a
// JSON frame.
func DecodeMsgpack(data []byte) (Message, error) {
	var v map[string]interface{}
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal frame: %w", ErrProtocol, err)
	}

	js, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to convert frame: %w", ErrProtocol, err)
	}

	return Decode(js)
}

// EncodeMsgpack serializes a message for a binary frame.
func EncodeMsgpack(msg Message) ([]byte, error) {
	js, err := Encode(msg)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	return msgpack.Marshal(fromJSONValue(v))
}

// fromJSONValue turns json.Number values into proper integers or floats
// so they're not encoded as strings.
func fromJSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		for k, val := range t {
			t[k] = fromJSONValue(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = fromJSONValue(val)
		}
		return t
	default:
		return v
	}
}
