package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/credmesh/credmesh"
	"github.com/credmesh/credmesh/amount"
	"github.com/credmesh/credmesh/channeler"
	"github.com/credmesh/credmesh/credfile"
	"github.com/credmesh/credmesh/funder"
	"github.com/credmesh/credmesh/funderdb"
	"github.com/credmesh/credmesh/identity"
	"github.com/credmesh/credmesh/wire"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

func main() {
	if err := credmeshMain(); err != nil {
		if e, ok := err.(*flags.Error); ok &&
			e.Type == flags.ErrHelp {

			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "[credmeshd] %v\n", err)
		os.Exit(1)
	}
}

// loadOrCreateIdentity loads the node identity file, generating a fresh
// identity on first start.
func loadOrCreateIdentity(path string) (*identity.Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return credfile.LoadIdentity(path)
	}

	id, err := identity.New()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := credfile.StoreIdentity(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

func credmeshMain() error {
	cfg, err := credmesh.LoadConfig()
	if err != nil {
		return err
	}

	credmesh.InitLogRotator(
		filepath.Join(cfg.LogDir, "credmeshd.log"),
	)

	id, err := loadOrCreateIdentity(cfg.IdentityFile)
	if err != nil {
		return fmt.Errorf("unable to load identity: %v", err)
	}

	db, err := funderdb.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("unable to open funder db: %v", err)
	}
	defer db.Close()

	var bootstrapRelays []wire.NamedRelayAddress
	for _, relayFile := range cfg.RelayFiles {
		relay, err := credfile.LoadRelay(relayFile)
		if err != nil {
			return fmt.Errorf("unable to load relay file %v: %v",
				relayFile, err)
		}
		bootstrapRelays = append(bootstrapRelays, relay)
	}

	chanler, err := channeler.NewTCPChanneler(id.PublicKey(), cfg.Listen)
	if err != nil {
		return fmt.Errorf("unable to create channeler: %v", err)
	}
	if err := chanler.Start(); err != nil {
		return err
	}
	defer chanler.Stop()

	server, err := credmesh.NewServer(&credmesh.ServerConfig{
		Identity:  id,
		DB:        db,
		Channeler: chanler,
		HandlerConfig: funder.Config{
			MaxOperationsInBatch:   funder.DefaultMaxOperationsInBatch,
			MaxPendingOperations:   cfg.MaxPendingOperations,
			MaxPendingUserRequests: cfg.MaxPendingUserRequests,
			ForwardingFee:          amount.FromUint64(cfg.ForwardingFee),
		},
		BootstrapRelays: bootstrapRelays,
		SnapshotTicker:  ticker.New(cfg.SnapshotInterval),
		Clock:           clock.NewDefaultClock(),
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	fmt.Printf("credmeshd running as %v, listening on %v\n",
		id.PublicKey(), cfg.Listen)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	return nil
}
