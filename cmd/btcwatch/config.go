// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwatch/chain"
	"github.com/btcsuite/btcwatch/wallet"
	"github.com/btcsuite/btcwatch/watcher"
	flags "github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFilename = "btcwatch.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "btcwatch.log"
	defaultMetricsListen  = "localhost:9333"

	headersDBName = "neutrino.db"

	headersDBTimeout = 5 * time.Second
)

var (
	btcwatchHomeDir   = btcutil.AppDataDir("btcwatch", false)
	defaultConfigFile = filepath.Join(btcwatchHomeDir, defaultConfigFilename)
	defaultDataDir    = btcwatchHomeDir
	defaultLogDir     = filepath.Join(btcwatchHomeDir, defaultLogDirname)
)

var (
	// errMultipleNetworks is returned when more than one network flag is
	// set.
	errMultipleNetworks = errors.New("the testnet, signet, regtest and " +
		"simnet params can't be used together -- choose one")

	// errSampleNetwork is returned when no xpub is configured for a
	// network other than mainnet, which is the only network the sample
	// wallet exists on.
	errSampleNetwork = errors.New("no xpub configured and the sample " +
		"wallet only exists on mainnet")

	// errNetworkConflict is returned when the wallet file names another
	// network than the command line.
	errNetworkConflict = errors.New("wallet file network conflicts with " +
		"the selected network")
)

type config struct {
	// General application behavior
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"Directory to store the block header database"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// Network selection
	TestNet3 bool `long:"testnet" description:"Use the test network (default mainnet)"`
	SigNet   bool `long:"signet" description:"Use the signet test network (default mainnet)"`
	RegTest  bool `long:"regtest" description:"Use the regression test network (default mainnet)"`
	SimNet   bool `long:"simnet" description:"Use the simulation test network (default mainnet)"`

	// Wallet options
	WalletFile     string `long:"walletfile" description:"YAML file holding the wallet definition, overrides the xpub options"`
	XPub           string `long:"xpub" description:"Account extended public key to watch (default is a public mainnet sample wallet)"`
	DerivationPath string `long:"derivationpath" description:"Derivation path of the xpub below the master key, used to label addresses"`
	AddressCount   uint16 `long:"addresscount" description:"Number of addresses to derive on each of the receive and change branches"`
	BirthHeight    uint32 `long:"birthheight" description:"First block that can contain wallet activity"`
	ShowAddresses  bool   `long:"showaddresses" description:"Print the watched addresses and exit"`

	// Peer options
	ConnectPeers  []string `long:"connect" description:"Connect only to the specified peers at startup"`
	AddPeers      []string `short:"a" long:"addpeer" description:"Add a peer to connect with at startup"`
	RequiredPeers int32    `long:"numpeers" description:"Number of connected peers required before the chain is considered reachable"`

	// Output options
	NotifyInterval time.Duration `long:"notifyinterval" description:"Minimum interval between two progress updates"`
	MetricsListen  string        `long:"metricslisten" description:"Listen for prometheus scrapes on this interface/port, empty to disable"`

	activeNet *chaincfg.Params
}

// walletFile is the on-disk YAML form of a wallet definition.
type walletFile struct {
	Network        string `yaml:"network"`
	XPub           string `yaml:"xpub"`
	DerivationPath string `yaml:"derivation_path"`
	AddressCount   uint16 `yaml:"address_count"`
	BirthHeight    uint32 `yaml:"birth_height"`
}

// defaultConfig returns the configuration with every default applied.
func defaultConfig() config {
	return config{
		ConfigFile:     defaultConfigFile,
		DataDir:        defaultDataDir,
		LogDir:         defaultLogDir,
		DebugLevel:     defaultLogLevel,
		RequiredPeers:  chain.DefaultRequiredPeers,
		NotifyInterval: watcher.DefaultNotifyInterval,
		MetricsListen:  defaultMetricsListen,
	}
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(btcwatchHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in btcwatch functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(args []string) (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(
		cleanAndExpandPath(preCfg.ConfigFile),
	)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, nil, fmt.Errorf("parse config file: %w", err)
		}

		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil && preCfg.ConfigFile != defaultConfigFile {
		log.Warnf("%v", configFileError)
	}

	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	numNets := 0
	cfg.activeNet = &chaincfg.MainNetParams
	if cfg.TestNet3 {
		cfg.activeNet = &chaincfg.TestNet3Params
		numNets++
	}
	if cfg.SigNet {
		cfg.activeNet = &chaincfg.SigNetParams
		numNets++
	}
	if cfg.RegTest {
		cfg.activeNet = &chaincfg.RegressionNetParams
		numNets++
	}
	if cfg.SimNet {
		cfg.activeNet = &chaincfg.SimNetParams
		numNets++
	}
	if numNets > 1 {
		return nil, nil, errMultipleNetworks
	}

	// The directories are namespaced per network once the wallet
	// definition, which may name its own network, is known.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	if cfg.WalletFile != "" {
		cfg.WalletFile = cleanAndExpandPath(cfg.WalletFile)
	}

	if cfg.RequiredPeers <= 0 {
		cfg.RequiredPeers = chain.DefaultRequiredPeers
	}

	if cfg.NotifyInterval <= 0 {
		cfg.NotifyInterval = watcher.DefaultNotifyInterval
	}

	// Special show command to list supported subsystems is handled by the
	// caller, anything else must be a valid level specification.
	if cfg.DebugLevel != "show" {
		err := parseAndSetDebugLevels(cfg.DebugLevel)
		if err != nil {
			return nil, nil, err
		}
	}

	return &cfg, remainingArgs, nil
}

// walletDefinition builds the definition of the watched wallet. A wallet file
// takes precedence over the xpub options, and without either the public
// sample wallet is watched. The address count and birth height options
// override the values of the wallet file when set.
func (c *config) walletDefinition() (*wallet.Definition, error) {
	var def wallet.Definition

	switch {
	case c.WalletFile != "":
		fileDef, err := loadWalletFile(c.WalletFile, c.activeNet)
		if err != nil {
			return nil, err
		}

		def = *fileDef

	case c.XPub != "":
		def = wallet.Definition{
			Network:        c.activeNet,
			XPub:           c.XPub,
			DerivationPath: c.DerivationPath,
			AddressCount:   wallet.DefaultAddressCount,
		}

	default:
		if c.activeNet != &chaincfg.MainNetParams {
			return nil, errSampleNetwork
		}

		def = wallet.SampleDefinition()
	}

	if c.AddressCount != 0 {
		def.AddressCount = c.AddressCount
	}

	if c.BirthHeight != 0 {
		def.BirthHeight = c.BirthHeight
	}

	if c.DerivationPath != "" {
		def.DerivationPath = c.DerivationPath
	}

	if def.DerivationPath == "" {
		def.DerivationPath = wallet.DefaultDerivationPath
	}

	return &def, nil
}

// loadWalletFile reads a YAML wallet definition. A file without a network
// uses the network selected on the command line. Without a network flag the
// file may name any network, otherwise both must agree.
func loadWalletFile(path string,
	activeNet *chaincfg.Params) (*wallet.Definition, error) {

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet file: %w", err)
	}

	var wf walletFile
	if err := yaml.Unmarshal(b, &wf); err != nil {
		return nil, fmt.Errorf("decode wallet file %s: %w", path, err)
	}

	params := activeNet
	if wf.Network != "" {
		params, err = wallet.ParseNetwork(wf.Network)
		if err != nil {
			return nil, fmt.Errorf("wallet file %s: %w", path, err)
		}

		if activeNet != &chaincfg.MainNetParams && params != activeNet {
			return nil, fmt.Errorf("%w: %s != %s", errNetworkConflict,
				params.Name, activeNet.Name)
		}
	}

	addressCount := wf.AddressCount
	if addressCount == 0 {
		addressCount = wallet.DefaultAddressCount
	}

	derivationPath := wf.DerivationPath
	if derivationPath == "" {
		derivationPath = wallet.DefaultDerivationPath
	}

	return &wallet.Definition{
		Network:        params,
		XPub:           strings.TrimSpace(wf.XPub),
		DerivationPath: derivationPath,
		AddressCount:   addressCount,
		BirthHeight:    wf.BirthHeight,
	}, nil
}
