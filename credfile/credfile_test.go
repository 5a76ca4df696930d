package credfile

import (
	"path/filepath"
	"testing"

	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/wire"
)

func TestIdentityFileRoundTrip(t *testing.T) {
	t.Parallel()

	id, err := identity.New()
	if err != nil {
		t.Fatalf("unable to create identity: %v", err)
	}

	path := filepath.Join(t.TempDir(), "node.ident")
	if err := StoreIdentity(path, id); err != nil {
		t.Fatalf("unable to store identity: %v", err)
	}

	loaded, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("unable to load identity: %v", err)
	}
	if loaded.PublicKey() != id.PublicKey() {
		t.Fatalf("identity changed across the round trip")
	}
}

func TestRelayFileRoundTrip(t *testing.T) {
	t.Parallel()

	var pk wire.PublicKey
	pk[0] = 0x02
	pk[32] = 0xee
	relay := wire.NamedRelayAddress{
		RelayAddress: wire.RelayAddress{
			PublicKey: pk,
			Address:   "relay.example.com:1337",
		},
		Name: "relay1",
	}

	path := filepath.Join(t.TempDir(), "relay.addr")
	if err := StoreRelay(path, relay); err != nil {
		t.Fatalf("unable to store relay: %v", err)
	}

	loaded, err := LoadRelay(path)
	if err != nil {
		t.Fatalf("unable to load relay: %v", err)
	}
	if loaded != relay {
		t.Fatalf("relay changed across the round trip: %v vs %v",
			relay, loaded)
	}
}

func TestFriendFileRoundTrip(t *testing.T) {
	t.Parallel()

	var friendPK, relayPK wire.PublicKey
	friendPK[0] = 0x03
	relayPK[0] = 0x02
	friend := &FriendAddress{
		PublicKey: friendPK,
		Name:      "bob",
		Relays: []wire.RelayAddress{
			{PublicKey: relayPK, Address: "relay0:1337"},
			{PublicKey: relayPK, Address: "relay0:1338"},
		},
	}

	path := filepath.Join(t.TempDir(), "bob.friend")
	if err := StoreFriend(path, friend); err != nil {
		t.Fatalf("unable to store friend: %v", err)
	}

	loaded, err := LoadFriend(path)
	if err != nil {
		t.Fatalf("unable to load friend: %v", err)
	}
	if loaded.PublicKey != friend.PublicKey ||
		loaded.Name != friend.Name ||
		len(loaded.Relays) != len(friend.Relays) {

		t.Fatalf("friend changed across the round trip")
	}
	for i := range friend.Relays {
		if loaded.Relays[i] != friend.Relays[i] {
			t.Fatalf("relay %d changed across the round trip", i)
		}
	}
}

func TestPublicKeyStringValidation(t *testing.T) {
	t.Parallel()

	if _, err := StringToPublicKey("zz"); err != ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}

	// Too short.
	if _, err := StringToPublicKey("02ab"); err != ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}

	var pk wire.PublicKey
	pk[0] = 0x02
	parsed, err := StringToPublicKey(PublicKeyToString(pk))
	if err != nil {
		t.Fatalf("unable to parse public key: %v", err)
	}
	if parsed != pk {
		t.Fatalf("public key changed across the round trip")
	}
}
