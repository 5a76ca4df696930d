package wire

import "io"

// RelaysUpdate advertises the sender's current relay set outside of the
// token channel. Unlike the SetRelays operation it does not require holding
// the token, so a node can announce new relays immediately after
// reconfiguration.
type RelaysUpdate struct {
	// Relays is the sender's full current relay set.
	Relays []RelayAddress
}

// A compile time check to ensure RelaysUpdate implements the wire.Message
// interface.
var _ Message = (*RelaysUpdate)(nil)

// Decode deserializes a serialized RelaysUpdate message stored in the passed
// io.Reader observing the specified protocol version.
//
// This is part of the wire.Message interface.
func (m *RelaysUpdate) Decode(r io.Reader, pver uint32) error {
	return ReadElement(r, &m.Relays)
}

// Encode serializes the target RelaysUpdate into the passed io.Writer
// observing the protocol version specified.
//
// This is part of the wire.Message interface.
func (m *RelaysUpdate) Encode(w io.Writer, pver uint32) error {
	return WriteElement(w, m.Relays)
}

// MsgType returns the integer uniquely identifying this message type on the
// wire.
//
// This is part of the wire.Message interface.
func (m *RelaysUpdate) MsgType() MessageType {
	return MsgRelaysUpdate
}

// MaxPayloadLength returns the maximum allowed payload size for a
// RelaysUpdate complete message observing the specified protocol version.
//
// This is part of the wire.Message interface.
func (m *RelaysUpdate) MaxPayloadLength(uint32) uint32 {
	return MaxMessagePayload
}
