package funder

import (
	"github.com/credmesh/credmesh/tokenchannel"
)

// handleLiveness reacts to channeler liveness notifications. Going online
// resumes the channel conversation: a retained unacknowledged move token is
// retransmitted, an inconsistent channel re-sends its reset terms, and any
// pending work is flushed.
func (c *handlerCall) handleLiveness(ev *LivenessChange) error {
	friend, ok := c.state().Friends[ev.PublicKey]
	if !ok {
		log.Warnf("Liveness change for unknown friend %v",
			ev.PublicKey)
		return nil
	}

	if !ev.Online {
		c.e.Mutate(&SetFriendOffline{PublicKey: ev.PublicKey})
		return nil
	}

	c.e.Mutate(&SetFriendOnline{PublicKey: ev.PublicKey})
	log.Debugf("Friend %v (%v) is online", friend.Name, ev.PublicKey)

	switch status := friend.ChannelStatus.(type) {
	case *ChannelInconsistent:
		return c.sendInconsistencyError(
			ev.PublicKey, status.LocalResetTerms,
		)

	case *ChannelConsistent:
		channel := status.Channel
		if channel.Direction == tokenchannel.DirIncoming &&
			channel.LastMoveToken != nil {

			// Our last move token may never have arrived.
			c.sendFriendMessage(ev.PublicKey, channel.LastMoveToken)
		}
		c.markDirty(ev.PublicKey)
	}

	return nil
}
