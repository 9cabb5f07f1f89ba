package wire

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec is an alternate Codec backed by github.com/vmihailenco/msgpack.
// Frames are still handed to the transport as strings (the msgpack bytes
// reinterpreted as a string), keeping the Transport's string-payload
// contract.
type MsgpackCodec struct {
	MaxFrameBytes int
}

// NewMsgpackCodec returns a MsgpackCodec with the recommended default frame
// budget.
func NewMsgpackCodec() *MsgpackCodec {
	return &MsgpackCodec{MaxFrameBytes: DefaultMaxFrameBytes}
}

func (c *MsgpackCodec) Encode(msg *Message) (string, error) {
	b, err := msgpack.Marshal(msg)
	if err != nil {
		return "", NewError(KindCodecError, "msgpack encode: %v", err)
	}
	return string(b), nil
}

func (c *MsgpackCodec) Decode(frame string) (*Message, error) {
	var msg Message
	if err := msgpack.Unmarshal([]byte(frame), &msg); err != nil {
		return nil, NewError(KindCodecError, "msgpack decode: %v", err)
	}
	return &msg, nil
}

func (c *MsgpackCodec) Budget() int {
	return c.MaxFrameBytes
}
