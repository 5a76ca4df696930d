package funder

import "github.com/credmesh/credmesh/wire"

// Ephemeral is the volatile, non-persisted side state of the funder:
// currently just friend liveness as reported by the channeler. It follows
// the same mutation discipline as FunderState but its mutations are never
// written to the durable log.
type Ephemeral struct {
	liveness map[wire.PublicKey]struct{}
}

// NewEphemeral creates an empty ephemeral state: all friends offline.
func NewEphemeral() *Ephemeral {
	return &Ephemeral{
		liveness: make(map[wire.PublicKey]struct{}),
	}
}

// IsOnline reports whether the friend is currently reachable.
func (e *Ephemeral) IsOnline(pk wire.PublicKey) bool {
	_, ok := e.liveness[pk]
	return ok
}

// EphemeralMutation is a single atomic change to the ephemeral state.
type EphemeralMutation interface {
	ephemeralMutation()
}

// SetFriendOnline marks a friend as reachable.
type SetFriendOnline struct {
	PublicKey wire.PublicKey
}

// SetFriendOffline marks a friend as unreachable.
type SetFriendOffline struct {
	PublicKey wire.PublicKey
}

func (*SetFriendOnline) ephemeralMutation()  {}
func (*SetFriendOffline) ephemeralMutation() {}

// Mutate applies a single mutation to the ephemeral state.
func (e *Ephemeral) Mutate(mutation EphemeralMutation) {
	switch m := mutation.(type) {
	case *SetFriendOnline:
		e.liveness[m.PublicKey] = struct{}{}
	case *SetFriendOffline:
		delete(e.liveness, m.PublicKey)
	}
}
