// Package credfile reads and writes the small text documents a node
// exchanges with its operator: the identity file, relay address files and
// friend address files. The documents are INI formatted; the funder core
// only ever consumes the parsed values.
package credfile

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/wire"
	flags "github.com/jessevdk/go-flags"
)

var (
	// ErrInvalidPublicKey is returned when a document carries a
	// malformed public key.
	ErrInvalidPublicKey = fmt.Errorf("invalid public key string")

	// ErrInvalidPrivateKey is returned when an identity file carries a
	// malformed private key.
	ErrInvalidPrivateKey = fmt.Errorf("invalid private key string")

	// ErrInvalidRelay is returned when a relay entry is malformed.
	ErrInvalidRelay = fmt.Errorf("invalid relay string")
)

// PublicKeyToString hex-encodes a public key for use in documents.
func PublicKeyToString(pk wire.PublicKey) string {
	return hex.EncodeToString(pk[:])
}

// StringToPublicKey parses the hex encoding of a public key.
func StringToPublicKey(s string) (wire.PublicKey, error) {
	var pk wire.PublicKey
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != wire.PublicKeyLen {
		return pk, ErrInvalidPublicKey
	}
	copy(pk[:], raw)
	return pk, nil
}

// relayToString encodes a relay address as public_key@address.
func relayToString(relay wire.RelayAddress) string {
	return PublicKeyToString(relay.PublicKey) + "@" + relay.Address
}

// stringToRelay parses a public_key@address relay entry.
func stringToRelay(s string) (wire.RelayAddress, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "@", 2)
	if len(parts) != 2 || parts[1] == "" {
		return wire.RelayAddress{}, ErrInvalidRelay
	}
	pk, err := StringToPublicKey(parts[0])
	if err != nil {
		return wire.RelayAddress{}, err
	}
	return wire.RelayAddress{
		PublicKey: pk,
		Address:   parts[1],
	}, nil
}

type identityDoc struct {
	Identity struct {
		PrivateKey string `long:"private_key" description:"hex encoded private key"`
	} `group:"identity"`
}

// LoadIdentity reads an identity file.
func LoadIdentity(path string) (*identity.Identity, error) {
	var doc identityDoc
	if err := parseDoc(path, &doc); err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimSpace(doc.Identity.PrivateKey))
	if err != nil || len(raw) != identity.PrivateKeyLen {
		return nil, ErrInvalidPrivateKey
	}
	return identity.FromBytes(raw)
}

// StoreIdentity writes an identity file.
func StoreIdentity(path string, id *identity.Identity) error {
	var doc identityDoc
	doc.Identity.PrivateKey = hex.EncodeToString(id.Serialize())
	return writeDoc(path, &doc)
}

type relayDoc struct {
	Relay struct {
		PublicKey string `long:"public_key" description:"hex encoded relay public key"`
		Address   string `long:"address" description:"network address of the relay"`
		Name      string `long:"name" description:"local label for the relay"`
	} `group:"relay"`
}

// LoadRelay reads a relay address file.
func LoadRelay(path string) (wire.NamedRelayAddress, error) {
	var doc relayDoc
	if err := parseDoc(path, &doc); err != nil {
		return wire.NamedRelayAddress{}, err
	}

	pk, err := StringToPublicKey(doc.Relay.PublicKey)
	if err != nil {
		return wire.NamedRelayAddress{}, err
	}
	if doc.Relay.Address == "" {
		return wire.NamedRelayAddress{}, ErrInvalidRelay
	}
	return wire.NamedRelayAddress{
		RelayAddress: wire.RelayAddress{
			PublicKey: pk,
			Address:   doc.Relay.Address,
		},
		Name: doc.Relay.Name,
	}, nil
}

// StoreRelay writes a relay address file.
func StoreRelay(path string, relay wire.NamedRelayAddress) error {
	var doc relayDoc
	doc.Relay.PublicKey = PublicKeyToString(relay.PublicKey)
	doc.Relay.Address = relay.Address
	doc.Relay.Name = relay.Name
	return writeDoc(path, &doc)
}

// FriendAddress is the parsed content of a friend address file: everything
// needed to configure a friend.
type FriendAddress struct {
	PublicKey wire.PublicKey
	Name      string
	Relays    []wire.RelayAddress
}

type friendDoc struct {
	Friend struct {
		PublicKey string   `long:"public_key" description:"hex encoded friend public key"`
		Name      string   `long:"name" description:"local label for the friend"`
		Relays    []string `long:"relay" description:"relay as public_key@address"`
	} `group:"friend"`
}

// LoadFriend reads a friend address file.
func LoadFriend(path string) (*FriendAddress, error) {
	var doc friendDoc
	if err := parseDoc(path, &doc); err != nil {
		return nil, err
	}

	pk, err := StringToPublicKey(doc.Friend.PublicKey)
	if err != nil {
		return nil, err
	}
	friend := &FriendAddress{
		PublicKey: pk,
		Name:      doc.Friend.Name,
	}
	for _, entry := range doc.Friend.Relays {
		relay, err := stringToRelay(entry)
		if err != nil {
			return nil, err
		}
		friend.Relays = append(friend.Relays, relay)
	}
	return friend, nil
}

// StoreFriend writes a friend address file.
func StoreFriend(path string, friend *FriendAddress) error {
	var doc friendDoc
	doc.Friend.PublicKey = PublicKeyToString(friend.PublicKey)
	doc.Friend.Name = friend.Name
	for _, relay := range friend.Relays {
		doc.Friend.Relays = append(
			doc.Friend.Relays, relayToString(relay),
		)
	}
	return writeDoc(path, &doc)
}

// parseDoc reads an INI document into the passed struct.
func parseDoc(path string, data interface{}) error {
	parser := flags.NewParser(data, flags.None)
	return flags.NewIniParser(parser).ParseFile(path)
}

// writeDoc writes the passed struct as an INI document.
func writeDoc(path string, data interface{}) error {
	parser := flags.NewParser(data, flags.None)
	return flags.NewIniParser(parser).WriteFile(
		path, flags.IniIncludeAll,
	)
}
