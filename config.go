// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/consolidator/consolidator"
	"github.com/btcsuite/consolidator/datastore"
	"github.com/btcsuite/consolidator/internal/cfgutil"
	"github.com/btcsuite/consolidator/internal/prompt"
	"github.com/btcsuite/consolidator/netparams"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultCAFilename     = "bitcoind.cert"
	defaultConfigFilename = "consolidatord.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "consolidatord.log"
	defaultRPCMaxClients  = 10
	defaultNetwork        = "mainnet"
)

var (
	consolidatordHomeDir = btcutil.AppDataDir("consolidatord", false)
	bitcoindHomeDir      = btcutil.AppDataDir("bitcoin", false)
	defaultCAFile        = filepath.Join(bitcoindHomeDir, defaultCAFilename)
	defaultConfigFile    = filepath.Join(
		consolidatordHomeDir, defaultConfigFilename,
	)
	defaultRPCKeyFile  = filepath.Join(consolidatordHomeDir, "rpc.key")
	defaultRPCCertFile = filepath.Join(consolidatordHomeDir, "rpc.cert")
	defaultLogDir      = filepath.Join(consolidatordHomeDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     *cfgutil.ExplicitString `short:"b" long:"datadir" description:"Directory to store the job record"`
	LogDir      string                  `long:"logdir" description:"Directory to log output."`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Network     string                  `long:"network" description:"Network of the node {mainnet, testnet3, signet, regtest, simnet}"`

	// RPC server options
	RPCListeners  []string `long:"rpclisten" description:"Listen for RPC connections on this interface/port (default port: 8336, testnet: 18336, signet: 38336, regtest: 18446)"`
	RPCUser       string   `short:"u" long:"rpcuser" description:"Username for RPC clients"`
	RPCPass       string   `short:"P" long:"rpcpass" default-mask:"-" description:"Password for RPC clients"`
	RPCCert       string   `long:"rpccert" description:"File containing the certificate file"`
	RPCKey        string   `long:"rpckey" description:"File containing the certificate key"`
	NoServerTLS   bool     `long:"noservertls" description:"Disable TLS for the RPC server -- NOTE: This is only allowed if the RPC server is bound to localhost"`
	RPCMaxClients int64    `long:"rpcmaxclients" description:"Max number of RPC clients for standard connections"`

	// Node connection options
	NodeConnect string `short:"c" long:"nodeconnect" description:"Hostname/IP and port of the bitcoind RPC server to connect to (default localhost:8332, testnet: localhost:18332, signet: localhost:38332, regtest: localhost:18443)"`
	NodeUser    string `long:"nodeuser" description:"Username for the bitcoind RPC server"`
	NodePass    string `long:"nodepass" default-mask:"-" description:"Password for the bitcoind RPC server, prompted for when empty"`
	CAFile      string `long:"cafile" description:"File containing root certificates to authenticate a TLS connection with bitcoind"`
	NoClientTLS bool   `long:"noclienttls" description:"Disable TLS for the RPC client -- NOTE: This is only allowed if the RPC client is connecting to localhost"`

	// Consolidator options
	Interval    uint32              `long:"consolidator-interval" description:"Seconds between two checks of a consolidate-below job"`
	FeeMulti    float64             `long:"consolidator-feemulti" description:"Multiplier applied to the fee estimate when a consolidate-below job fires {0.3 - 3.0}"`
	Persist     bool                `long:"consolidator-persist" description:"Save the consolidate-below job and resume it on restart"`
	FeeTarget   uint32              `long:"consolidator-feetarget" description:"Confirmation target in blocks of fee estimates"`
	Reserve     *cfgutil.AmountFlag `long:"consolidator-reserve" description:"Keep one output of at least this value out of every consolidation (BTC, or satoshis with a sat suffix)"`
	MaxFeeRate  int64               `long:"consolidator-maxfeerate" description:"Highest accepted feerate in sat/kvB"`
	AddressType string              `long:"consolidator-addresstype" description:"Type of the consolidated output {bech32m, bech32, p2sh-segwit, legacy}"`

	// Store options
	DBType string `long:"dbtype" description:"Backend of the job record store {bdb, sqlite, postgres}"`
	DBDSN  string `long:"dbdsn" default-mask:"-" description:"Postgres connection string, used with --dbtype=postgres"`

	activeNet *netparams.Params
}

// interval returns the poll interval as a duration.
func (c *config) interval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// netDir returns the network namespaced data directory.
func (c *config) netDir() string {
	return filepath.Join(c.DataDir.Value, c.activeNet.Name)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	return cfgutil.CleanAndExpandPath(
		path, filepath.Dir(consolidatordHomeDir),
	)
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") &&
		!strings.Contains(debugLevel, "=") {

		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		subsysID, logLevel, ok := strings.Cut(logLevelPair, "=")
		if !ok {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// defaultConfig returns a config with every default filled in.
func defaultConfig() config {
	return config{
		ConfigFile:    cfgutil.NewExplicitString(defaultConfigFile),
		DataDir:       cfgutil.NewExplicitString(consolidatordHomeDir),
		LogDir:        defaultLogDir,
		DebugLevel:    defaultLogLevel,
		Network:       defaultNetwork,
		RPCKey:        defaultRPCKeyFile,
		RPCCert:       defaultRPCCertFile,
		RPCMaxClients: defaultRPCMaxClients,
		Interval: uint32(
			consolidator.DefaultInterval / time.Second,
		),
		FeeMulti:    consolidator.DefaultFeeMultiplier,
		FeeTarget:   consolidator.DefaultFeeTarget,
		Reserve:     cfgutil.NewAmountFlag(0),
		MaxFeeRate:  int64(consolidator.DefaultMaxFeeRate),
		AddressType: string(consolidator.AddressTypeBech32m),
		DBType:      string(datastore.TypeBdb),
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in consolidatord functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := cleanAndExpandPath(preCfg.ConfigFile.Value)
	if preCfg.ConfigFile.ExplicitlySet() {
		// If the config file was explicitly set, it must exist.
		exists, err := cfgutil.FileExists(configFilePath)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			err := fmt.Errorf("config file %v does not exist",
				configFilePath)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	if err := cfg.validate(); err != nil {
		err := fmt.Errorf("loadConfig: %w", err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	err = initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	setLogLevels(defaultLogLevel)

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %w", err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	// Ask for the node password last, once everything else is known to
	// be valid.
	if cfg.NodeUser != "" && cfg.NodePass == "" {
		cfg.NodePass, err = prompt.ProvidePassword(fmt.Sprintf(
			"Password for %s@%s: ", cfg.NodeUser, cfg.NodeConnect,
		))
		if err != nil {
			return nil, nil, fmt.Errorf("reading node password: %w",
				err)
		}
	}

	return &cfg, remainingArgs, nil
}

// validate checks the parsed options and derives the values that depend on
// others.
func (c *config) validate() error {
	activeNet, err := netparams.ByName(c.Network)
	if err != nil {
		return err
	}
	c.activeNet = activeNet

	c.DataDir.Value = cleanAndExpandPath(c.DataDir.Value)
	c.LogDir = cleanAndExpandPath(c.LogDir)
	c.CAFile = cleanAndExpandPath(c.CAFile)

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	c.LogDir = filepath.Join(c.LogDir, c.activeNet.Name)

	// If an alternate data directory was specified, and paths with
	// defaults relative to the data dir are unchanged, modify each path to
	// be relative to the new data dir.
	if c.DataDir.ExplicitlySet() {
		if c.RPCKey == defaultRPCKeyFile {
			c.RPCKey = filepath.Join(c.DataDir.Value, "rpc.key")
		}
		if c.RPCCert == defaultRPCCertFile {
			c.RPCCert = filepath.Join(c.DataDir.Value, "rpc.cert")
		}
	}
	c.RPCKey = cleanAndExpandPath(c.RPCKey)
	c.RPCCert = cleanAndExpandPath(c.RPCCert)

	if c.RPCUser == "" || c.RPCPass == "" {
		return errors.New("rpcuser and rpcpass must be set")
	}
	if c.RPCMaxClients < 1 {
		return errors.New("rpcmaxclients must be positive")
	}

	// Add default port to all rpc listener addresses if needed and remove
	// duplicate addresses.
	if len(c.RPCListeners) == 0 {
		c.RPCListeners = []string{
			net.JoinHostPort("localhost", c.activeNet.RPCServerPort),
		}
	}
	c.RPCListeners, err = cfgutil.NormalizeAddresses(
		c.RPCListeners, c.activeNet.RPCServerPort,
	)
	if err != nil {
		return fmt.Errorf("invalid rpclisten: %w", err)
	}

	// Only allow server TLS to be disabled if the RPC server is bound to
	// localhost addresses.
	if c.NoServerTLS {
		for _, addr := range c.RPCListeners {
			if !isLoopback(addr) {
				return fmt.Errorf("noservertls requires every "+
					"rpclisten address to be localhost, "+
					"got %s", addr)
			}
		}
	}

	if c.NodeConnect == "" {
		c.NodeConnect = "localhost"
	}
	c.NodeConnect, err = cfgutil.NormalizeAddress(
		c.NodeConnect, c.activeNet.NodeRPCPort,
	)
	if err != nil {
		return fmt.Errorf("invalid nodeconnect: %w", err)
	}
	if c.NoClientTLS && !isLoopback(c.NodeConnect) {
		return fmt.Errorf("noclienttls requires nodeconnect to be "+
			"localhost, got %s", c.NodeConnect)
	}
	if !c.NoClientTLS && c.CAFile == "" {
		c.CAFile = defaultCAFile
	}

	if c.Interval < 1 {
		return errors.New("consolidator-interval must be at least 1 " +
			"second")
	}
	if c.FeeMulti < consolidator.MinFeeMultiplier ||
		c.FeeMulti > consolidator.MaxFeeMultiplier {

		return fmt.Errorf("consolidator-feemulti must be in [%v, %v]",
			consolidator.MinFeeMultiplier,
			consolidator.MaxFeeMultiplier)
	}
	if c.FeeTarget < 1 {
		return errors.New("consolidator-feetarget must be positive")
	}
	if c.MaxFeeRate < 1 {
		return errors.New("consolidator-maxfeerate must be positive")
	}
	if _, err := consolidator.AddressType(c.AddressType).
		ScriptSize(); err != nil {

		return fmt.Errorf("consolidator-addresstype: %w", err)
	}

	switch datastore.Type(c.DBType) {
	case datastore.TypeBdb, datastore.TypeSQLite:
	case datastore.TypePostgres:
		if c.DBDSN == "" {
			return errors.New("dbtype=postgres requires dbdsn")
		}
	default:
		return fmt.Errorf("unknown dbtype %q", c.DBType)
	}

	return nil
}

// isLoopback reports whether the host of addr is localhost or a loopback IP.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
