package redistore

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes entities and event envelopes for storage and pub/sub.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// JSON returns the default codec. Payloads stay readable from redis-cli.
func JSON() Codec { return jsonCodec{} }

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (msgpackCodec) Name() string                       { return "msgpack" }

// Msgpack returns a MessagePack codec, denser than JSON for large or hot
// entities.
func Msgpack() Codec { return msgpackCodec{} }
