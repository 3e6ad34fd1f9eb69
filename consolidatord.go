// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/consolidator/chain"
	"github.com/btcsuite/consolidator/consolidator"
	"github.com/btcsuite/consolidator/datastore"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := consolidatorMain(); err != nil {
		os.Exit(1)
	}
}

// consolidatorMain is a work-around main function that is required since
// deferred functions (such as log flushing) are not called with calls to
// os.Exit.  Instead, main runs this function and checks for a non-nil error,
// at which point any defers have already run, and if the error is non-nil,
// the program can be exited with an error exit status.
func consolidatorMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s", version())
	log.Infof("Active network: %s", cfg.activeNet.Name)

	ctx := interruptContext(context.Background())

	var store datastore.Store
	if cfg.Persist {
		store, err = openStore(ctx, cfg)
		if err != nil {
			log.Errorf("Unable to open job store: %v", err)
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Errorf("Unable to close job store: %v", err)
			}
		}()
	}

	node, err := connectNode(cfg)
	if err != nil {
		log.Errorf("Unable to create node client: %v", err)
		return err
	}
	defer node.Stop()

	c, err := consolidator.New(consolidator.Config{
		Node:          node,
		Store:         store,
		Persist:       cfg.Persist,
		Interval:      cfg.interval(),
		FeeMultiplier: cfg.FeeMulti,
		FeeTarget:     cfg.FeeTarget,
		MaxFeeRate:    consolidator.SatPerKVByte(cfg.MaxFeeRate),
		Reserve:       cfg.Reserve.Amount,
		AddressType:   consolidator.AddressType(cfg.AddressType),
	})
	if err != nil {
		log.Errorf("Unable to create consolidator: %v", err)
		return err
	}
	if err := c.Start(ctx); err != nil {
		log.Errorf("Unable to start consolidator: %v", err)
		return err
	}
	defer func() {
		log.Info("Stopping consolidator...")
		c.Stop()
	}()

	server, err := startRPCServer(cfg, c)
	if err != nil {
		log.Errorf("Unable to start RPC server: %v", err)
		return err
	}
	defer func() {
		log.Info("Stopping RPC server...")
		server.Stop()
	}()

	// A stop request over RPC shuts down the same way an interrupt does.
	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-server.RequestProcessShutdown():
			requestShutdown()

		case <-ctx.Done():
		}

		return nil
	})

	<-ctx.Done()
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Shutdown complete")
	return nil
}

// openStore opens the job record store selected by the config.
func openStore(ctx context.Context, cfg *config) (datastore.Store, error) {
	dbCfg := &datastore.Config{
		Type:    datastore.Type(cfg.DBType),
		DataDir: cfg.netDir(),
		DSN:     cfg.DBDSN,
	}
	if dbCfg.Type != datastore.TypePostgres {
		if err := os.MkdirAll(dbCfg.DataDir, 0700); err != nil {
			return nil, err
		}
	}

	return datastore.Open(ctx, dbCfg)
}

// connectNode creates the client of the bitcoind wallet.
func connectNode(cfg *config) (*chain.NodeClient, error) {
	var certs []byte
	if !cfg.NoClientTLS {
		var err error
		certs, err = os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("cannot open CA file: %w", err)
		}
	} else {
		log.Info("Node client TLS is disabled")
	}

	return chain.NewNodeClient(&chain.NodeClientConfig{
		Conn: &rpcclient.ConnConfig{
			Host:         cfg.NodeConnect,
			User:         cfg.NodeUser,
			Pass:         cfg.NodePass,
			Certificates: certs,
			DisableTLS:   cfg.NoClientTLS,
		},
		Chain:       cfg.activeNet.Params,
		AddressType: consolidator.AddressType(cfg.AddressType),
	})
}
