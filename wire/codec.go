package wire

import (
	"encoding/json"
	"fmt"
)

// Codec encodes a Message to a transport frame and decodes it back. The
// default is JSONCodec; callers may inject an alternate codec (see
// MsgpackCodec) provided it is symmetric and round-trips the supported
// value domain: nil, booleans, numbers, strings, slices, string-keyed
// maps, and the HandleRef placeholder.
//
// Budget reports the threshold above which a large set/apply Message gets
// split into multiple chunk frames before Encode ever sees it (see
// ChunkPayload); 0 disables splitting.
type Codec interface {
	Encode(msg *Message) (string, error)
	Decode(frame string) (*Message, error)
	Budget() int
}

// JSONCodec is the default codec: plain UTF-8 JSON frames.
type JSONCodec struct {
	// MaxFrameBytes bounds the JSON-encoded size of a set/apply payload
	// before it is split into chunk frames; each chunk frame carries at
	// most this many payload bytes plus its envelope. 0 disables chunking.
	MaxFrameBytes int
}

// NewJSONCodec returns a JSONCodec with the recommended default frame
// budget.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{MaxFrameBytes: DefaultMaxFrameBytes}
}

// DefaultMaxFrameBytes is the per-frame budget before a set/apply payload
// is split into chunks.
const DefaultMaxFrameBytes = 64 * 1024

func (c *JSONCodec) Encode(msg *Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", NewError(KindCodecError, "encode: %v", err)
	}
	return string(b), nil
}

func (c *JSONCodec) Decode(frame string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(frame), &msg); err != nil {
		return nil, NewError(KindCodecError, "decode: %v", err)
	}
	return &msg, nil
}

func (c *JSONCodec) Budget() int {
	return c.MaxFrameBytes
}

// marshalValueJSON renders a marshalled domain value (Args or Value) to
// canonical JSON bytes for chunk splitting, independent of which Codec the
// outer Message travels over.
func marshalValueJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal chunk payload: %w", err)
	}
	return b, nil
}

func unmarshalValueJSON(b []byte, out *any) error {
	return json.Unmarshal(b, out)
}
