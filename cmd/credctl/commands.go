package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/credmesh/credmesh/credfile"
	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/wire"
	"github.com/urfave/cli"
)

var genIdentityCommand = cli.Command{
	Name:      "gen-identity",
	Usage:     "Generate a fresh node identity file.",
	ArgsUsage: "output-file",
	Action:    genIdentity,
}

func genIdentity(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "gen-identity")
	}
	path := ctx.Args().First()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite %v", path)
	}

	id, err := identity.New()
	if err != nil {
		return err
	}
	if err := credfile.StoreIdentity(path, id); err != nil {
		return err
	}

	fmt.Printf("%v\n", credfile.PublicKeyToString(id.PublicKey()))
	return nil
}

var showPublicKeyCommand = cli.Command{
	Name:      "show-public-key",
	Usage:     "Print the public key of an identity file.",
	ArgsUsage: "identity-file",
	Action:    showPublicKey,
}

func showPublicKey(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "show-public-key")
	}

	id, err := credfile.LoadIdentity(ctx.Args().First())
	if err != nil {
		return err
	}

	fmt.Printf("%v\n", credfile.PublicKeyToString(id.PublicKey()))
	return nil
}

var makeRelayFileCommand = cli.Command{
	Name:      "make-relay-file",
	Usage:     "Write a relay address file.",
	ArgsUsage: "output-file",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "public_key",
			Usage: "hex encoded relay public key",
		},
		cli.StringFlag{
			Name:  "address",
			Usage: "network address of the relay",
		},
		cli.StringFlag{
			Name:  "name",
			Usage: "local label for the relay",
		},
	},
	Action: makeRelayFile,
}

func makeRelayFile(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "make-relay-file")
	}

	pk, err := credfile.StringToPublicKey(ctx.String("public_key"))
	if err != nil {
		return err
	}
	address := ctx.String("address")
	if address == "" {
		return fmt.Errorf("address is required")
	}

	return credfile.StoreRelay(ctx.Args().First(), wire.NamedRelayAddress{
		RelayAddress: wire.RelayAddress{
			PublicKey: pk,
			Address:   address,
		},
		Name: ctx.String("name"),
	})
}

var makeFriendFileCommand = cli.Command{
	Name:      "make-friend-file",
	Usage:     "Write a friend address file.",
	ArgsUsage: "output-file",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "public_key",
			Usage: "hex encoded friend public key",
		},
		cli.StringFlag{
			Name:  "name",
			Usage: "local label for the friend",
		},
		cli.StringSliceFlag{
			Name:  "relay",
			Usage: "relay as public_key@address; may be repeated",
		},
	},
	Action: makeFriendFile,
}

func makeFriendFile(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "make-friend-file")
	}

	pk, err := credfile.StringToPublicKey(ctx.String("public_key"))
	if err != nil {
		return err
	}
	friend := &credfile.FriendAddress{
		PublicKey: pk,
		Name:      ctx.String("name"),
	}
	for _, entry := range ctx.StringSlice("relay") {
		parts := bytes.SplitN([]byte(entry), []byte("@"), 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid relay %q, expected "+
				"public_key@address", entry)
		}
		relayPK, err := credfile.StringToPublicKey(string(parts[0]))
		if err != nil {
			return err
		}
		friend.Relays = append(friend.Relays, wire.RelayAddress{
			PublicKey: relayPK,
			Address:   string(parts[1]),
		})
	}

	return credfile.StoreFriend(ctx.Args().First(), friend)
}

var verifyReceiptCommand = cli.Command{
	Name:      "verify-receipt",
	Usage:     "Verify a payment receipt against the seller's public key.",
	ArgsUsage: "receipt-file",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "seller",
			Usage: "hex encoded seller public key",
		},
	},
	Action: verifyReceipt,
}

func verifyReceipt(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "verify-receipt")
	}

	seller, err := credfile.StringToPublicKey(ctx.String("seller"))
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	receipt := &wire.Receipt{}
	if err := receipt.Decode(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("unable to decode receipt: %v", err)
	}

	if err := receipt.Verify(seller); err != nil {
		return fmt.Errorf("receipt is INVALID: %v", err)
	}

	fmt.Printf("receipt is valid\n")
	fmt.Printf("invoice:      %v\n", receipt.InvoiceID)
	fmt.Printf("transaction:  %v\n", receipt.RequestID)
	fmt.Printf("amount:       %v\n", receipt.DestPayment)
	fmt.Printf("invoice total: %v\n", receipt.TotalDestPayment)
	return nil
}
