package wire

import "io"

// RequestToken is sent by the side that does not hold the write token when
// it has operations waiting. The holder answers with a move token, possibly
// empty, handing the token over.
type RequestToken struct{}

// A compile time check to ensure RequestToken implements the wire.Message
// interface.
var _ Message = (*RequestToken)(nil)

// Decode deserializes a serialized RequestToken message stored in the
// passed io.Reader observing the specified protocol version.
//
// This is part of the wire.Message interface.
func (m *RequestToken) Decode(r io.Reader, pver uint32) error {
	return nil
}

// Encode serializes the target RequestToken into the passed io.Writer
// observing the protocol version specified.
//
// This is part of the wire.Message interface.
func (m *RequestToken) Encode(w io.Writer, pver uint32) error {
	return nil
}

// MsgType returns the integer uniquely identifying this message type on the
// wire.
//
// This is part of the wire.Message interface.
func (m *RequestToken) MsgType() MessageType {
	return MsgRequestToken
}

// MaxPayloadLength returns the maximum allowed payload size for a
// RequestToken complete message observing the specified protocol version.
//
// This is part of the wire.Message interface.
func (m *RequestToken) MaxPayloadLength(uint32) uint32 {
	return 0
}
