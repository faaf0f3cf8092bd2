package kvstore

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts keys or values to and from their stored byte form.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// StringCodec stores string-like keys as their raw bytes.
type StringCodec[T ~string] struct{}

// Encode implements Codec.
func (StringCodec[T]) Encode(v T) ([]byte, error) { return []byte(v), nil }

// Decode implements Codec.
func (StringCodec[T]) Decode(data []byte) (T, error) { return T(data), nil }

// JSONCodec stores values as JSON documents.
type JSONCodec[T any] struct{}

// Encode implements Codec.
func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding json: %w", err)
	}
	return data, nil
}

// Decode implements Codec.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decoding json: %w", err)
	}
	return v, nil
}

// MsgpackCodec stores values in MessagePack form. It is more compact than
// JSON and, unlike JSON, encodes NaN and infinite floats.
type MsgpackCodec[T any] struct{}

// Encode implements Codec.
func (MsgpackCodec[T]) Encode(v T) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding msgpack: %w", err)
	}
	return data, nil
}

// Decode implements Codec.
func (MsgpackCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decoding msgpack: %w", err)
	}
	return v, nil
}
