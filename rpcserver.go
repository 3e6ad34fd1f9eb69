// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/consolidator/internal/cfgutil"
	"github.com/btcsuite/consolidator/rpc/jsonrpc"
)

// openRPCKeyPair creates or loads the RPC TLS keypair specified by the
// application config.
func openRPCKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	// Check for existence of the TLS key file.  If one is not found, a new
	// keypair is generated.
	keyExists, err := cfgutil.FileExists(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	if !keyExists {
		return generateRPCKeyPair(certFile, keyFile)
	}

	return tls.LoadX509KeyPair(certFile, keyFile)
}

// generateRPCKeyPair generates a new RPC TLS keypair and writes the cert and
// key in PEM format to the paths provided.
func generateRPCKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	log.Infof("Generating TLS certificates...")

	// Create directories for cert and key files if they do not yet exist.
	certDir, _ := filepath.Split(certFile)
	keyDir, _ := filepath.Split(keyFile)
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return tls.Certificate{}, err
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return tls.Certificate{}, err
	}

	// Generate cert pair.
	org := "consolidatord autogenerated cert"
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := btcutil.NewTLSCertPair(org, validUntil, nil)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPair, err := tls.X509KeyPair(cert, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	// Write cert and key files.
	if err := os.WriteFile(certFile, cert, 0600); err != nil {
		return tls.Certificate{}, err
	}
	if err := os.WriteFile(keyFile, key, 0600); err != nil {
		if rmErr := os.Remove(certFile); rmErr != nil {
			log.Warnf("Cannot remove written certificates: %v",
				rmErr)
		}
		return tls.Certificate{}, err
	}

	log.Info("Done generating TLS certificates")
	return keyPair, nil
}

// parseListeners splits the list of listen addresses passed in addrs into
// IPv4 and IPv6 slices and returns them.  This allows easy creation of the
// listeners on the correct interface "tcp4" and "tcp6".  It also properly
// detects addresses which apply to "all interfaces" and adds the address to
// both slices.
func parseListeners(addrs []string) ([]string, []string, error) {
	ipv4ListenAddrs := make([]string, 0, len(addrs)*2)
	ipv6ListenAddrs := make([]string, 0, len(addrs)*2)
	for _, addr := range addrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			// Shouldn't happen due to already being normalized.
			return nil, nil, err
		}

		// Empty host or host of * on plan9 is both IPv4 and IPv6.
		if host == "" || (host == "*" && runtime.GOOS == "plan9") {
			ipv4ListenAddrs = append(ipv4ListenAddrs, addr)
			ipv6ListenAddrs = append(ipv6ListenAddrs, addr)
			continue
		}

		// Resolve localhost to both loopback addresses.
		if host == "localhost" {
			_, port, _ := net.SplitHostPort(addr)
			ipv4ListenAddrs = append(ipv4ListenAddrs,
				net.JoinHostPort("127.0.0.1", port))
			ipv6ListenAddrs = append(ipv6ListenAddrs,
				net.JoinHostPort("::1", port))
			continue
		}

		// Parse the IP.
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, nil, fmt.Errorf("'%s' is not a valid IP "+
				"address", host)
		}

		// To4 returns nil when the IP is not an IPv4 address, so use
		// this determine the address type.
		if ip.To4() == nil {
			ipv6ListenAddrs = append(ipv6ListenAddrs, addr)
		} else {
			ipv4ListenAddrs = append(ipv4ListenAddrs, addr)
		}
	}
	return ipv4ListenAddrs, ipv6ListenAddrs, nil
}

// makeListeners splits the normalized listen addresses into IPv4 and IPv6
// addresses and creates new net.Listeners for each with the passed listen
// func.  Invalid addresses are logged and skipped.
func makeListeners(normalizedListenAddrs []string,
	listen func(string, string) (net.Listener, error)) ([]net.Listener,
	error) {

	ipv4Addrs, ipv6Addrs, err := parseListeners(normalizedListenAddrs)
	if err != nil {
		return nil, err
	}

	listeners := make([]net.Listener, 0, len(ipv6Addrs)+len(ipv4Addrs))
	for _, addr := range ipv4Addrs {
		listener, err := listen("tcp4", addr)
		if err != nil {
			log.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	for _, addr := range ipv6Addrs {
		listener, err := listen("tcp6", addr)
		if err != nil {
			log.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}

	return listeners, nil
}

// startRPCServer creates the RPC server listening on the configured
// addresses.
func startRPCServer(cfg *config, c jsonrpc.Consolidator) (*jsonrpc.Server,
	error) {

	listen := net.Listen
	if !cfg.NoServerTLS {
		keyPair, err := openRPCKeyPair(cfg.RPCCert, cfg.RPCKey)
		if err != nil {
			return nil, err
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{keyPair},
			MinVersion:   tls.VersionTLS12,
		}
		listen = func(network, laddr string) (net.Listener, error) {
			return tls.Listen(network, laddr, tlsConfig)
		}
	}

	listeners, err := makeListeners(cfg.RPCListeners, listen)
	if err != nil {
		return nil, err
	}
	if len(listeners) == 0 {
		return nil, errors.New("failed to create listeners for RPC " +
			"server")
	}

	server := jsonrpc.NewServer(&jsonrpc.Options{
		Username:       cfg.RPCUser,
		Password:       cfg.RPCPass,
		MaxPOSTClients: cfg.RPCMaxClients,
	}, c, listeners)
	server.Start()

	return server, nil
}
