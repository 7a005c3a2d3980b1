package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwatch/wallet"
	"github.com/btcsuite/btcwatch/watcher"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// testArgs returns the arguments that keep a test away from the user's home
// directory.
func testArgs(t *testing.T, extra ...string) []string {
	t.Helper()

	dir := t.TempDir()

	return append([]string{
		"--configfile=" + filepath.Join(dir, "missing.conf"),
		"--datadir=" + filepath.Join(dir, "data"),
		"--logdir=" + filepath.Join(dir, "logs"),
	}, extra...)
}

// testXPub returns an account key on the given network.
func testXPub(t *testing.T, params *chaincfg.Params) string {
	t.Helper()

	seed := bytes.Repeat([]byte{0x07}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, params)
	require.NoError(t, err)

	pub, err := master.Neuter()
	require.NoError(t, err)

	return pub.String()
}

// TestLoadConfigDefaults verifies the defaults of an empty command line.
func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, remaining, err := loadConfig(testArgs(t))
	require.NoError(t, err)

	require.Empty(t, remaining)
	require.Equal(t, &chaincfg.MainNetParams, cfg.activeNet)
	require.Equal(t, int32(1), cfg.RequiredPeers)
	require.Equal(t, watcher.DefaultNotifyInterval, cfg.NotifyInterval)
	require.Equal(t, defaultMetricsListen, cfg.MetricsListen)
}

// TestLoadConfigFile verifies options are read from the config file and that
// the command line takes precedence.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	// Arrange.
	confPath := filepath.Join(t.TempDir(), "btcwatch.conf")
	conf := "[Application Options]\n" +
		"regtest=1\n" +
		"addresscount=5\n" +
		"notifyinterval=1s\n" +
		"connect=127.0.0.1:18444\n"
	require.NoError(t, os.WriteFile(confPath, []byte(conf), 0600))

	// Act.
	cfg, _, err := loadConfig([]string{
		"--configfile=" + confPath,
		"--datadir=" + t.TempDir(),
		"--addresscount=7",
	})

	// Assert.
	require.NoError(t, err)
	require.Equal(t, &chaincfg.RegressionNetParams, cfg.activeNet)
	require.Equal(t, uint16(7), cfg.AddressCount)
	require.Equal(t, time.Second, cfg.NotifyInterval)
	require.Equal(t, []string{"127.0.0.1:18444"}, cfg.ConnectPeers)
}

// TestLoadConfigErrors verifies invalid option combinations are rejected.
func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{
			name: "two networks",
			args: []string{"--testnet", "--regtest"},
		},
		{
			name: "bad debug level",
			args: []string{"--debuglevel=loud"},
		},
		{
			name: "unknown subsystem",
			args: []string{"--debuglevel=NOPE=debug"},
		},
		{
			name: "unknown flag",
			args: []string{"--nosuchflag"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := loadConfig(testArgs(t, tc.args...))
			require.Error(t, err)
		})
	}

	_, _, err := loadConfig(testArgs(t, "--signet", "--simnet"))
	require.ErrorIs(t, err, errMultipleNetworks)
}

// TestParseAndSetDebugLevels verifies the accepted level specifications.
func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	require.NoError(t, parseAndSetDebugLevels("info"))
	require.NoError(t, parseAndSetDebugLevels("WTCH=debug,CHIO=info"))
	require.Error(t, parseAndSetDebugLevels("WTCH,"))
	require.Error(t, parseAndSetDebugLevels("WTCH=loud"))
	require.Contains(t, supportedSubsystems(), "LDGR")
}

// TestWalletDefinitionSources verifies the order in which the wallet
// definition is resolved.
func TestWalletDefinitionSources(t *testing.T) {
	t.Parallel()

	// Without an xpub the sample wallet is watched on mainnet.
	cfg, _, err := loadConfig(testArgs(t, "--birthheight=700000"))
	require.NoError(t, err)

	def, err := cfg.walletDefinition()
	require.NoError(t, err)

	sample := wallet.SampleDefinition()
	require.Equal(t, sample.XPub, def.XPub)
	require.Equal(t, uint32(700000), def.BirthHeight)

	// The sample wallet does not exist on the test networks.
	cfg, _, err = loadConfig(testArgs(t, "--regtest"))
	require.NoError(t, err)

	_, err = cfg.walletDefinition()
	require.ErrorIs(t, err, errSampleNetwork)

	// The xpub options describe the wallet on the selected network.
	xpub := testXPub(t, &chaincfg.RegressionNetParams)
	cfg, _, err = loadConfig(testArgs(
		t, "--regtest", "--xpub="+xpub, "--derivationpath=m",
	))
	require.NoError(t, err)

	def, err = cfg.walletDefinition()
	require.NoError(t, err)
	require.Equal(t, &chaincfg.RegressionNetParams, def.Network)
	require.Equal(t, uint16(wallet.DefaultAddressCount), def.AddressCount)

	w, err := wallet.NewWallet(*def)
	require.NoError(t, err)
	require.Len(t, w.Addresses(), 2*wallet.DefaultAddressCount)
}

// TestWalletDefinitionDefaultPath verifies an xpub without a derivation path
// is labeled with the default account path.
func TestWalletDefinitionDefaultPath(t *testing.T) {
	t.Parallel()

	// Arrange.
	sample := wallet.SampleDefinition()
	cfg, _, err := loadConfig(testArgs(t, "--xpub="+sample.XPub))
	require.NoError(t, err)

	// Act.
	def, err := cfg.walletDefinition()
	require.NoError(t, err)

	w, err := wallet.NewWallet(*def)

	// Assert.
	require.NoError(t, err)
	require.Equal(t, wallet.DefaultDerivationPath, def.DerivationPath)
	require.Equal(t, "m/84'/0'/0'/0/0",
		w.Addresses()[0].Path.String())

	// A wallet file without a path gets the same default.
	path := filepath.Join(t.TempDir(), "wallet.yaml")
	require.NoError(t, os.WriteFile(
		path, []byte("xpub: "+sample.XPub+"\n"), 0600,
	))

	fileDef, err := loadWalletFile(path, &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.Equal(t, wallet.DefaultDerivationPath, fileDef.DerivationPath)

	_, err = wallet.NewWallet(*fileDef)
	require.NoError(t, err)
}

// TestWalletFile verifies a YAML wallet file is decoded and checked against
// the selected network.
func TestWalletFile(t *testing.T) {
	t.Parallel()

	// Arrange.
	xpub := testXPub(t, &chaincfg.RegressionNetParams)
	path := filepath.Join(t.TempDir(), "wallet.yaml")
	content := "network: regtest\n" +
		"xpub: " + xpub + "\n" +
		"derivation_path: m\n" +
		"birth_height: 12\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	// Act: without a network flag the file picks the network.
	cfg, _, err := loadConfig(testArgs(
		t, "--walletfile="+path, "--addresscount=3",
	))
	require.NoError(t, err)

	def, err := cfg.walletDefinition()

	// Assert.
	require.NoError(t, err)
	require.Equal(t, &chaincfg.RegressionNetParams, def.Network)
	require.Equal(t, xpub, def.XPub)
	require.Equal(t, "m", def.DerivationPath)
	require.Equal(t, uint16(3), def.AddressCount)
	require.Equal(t, uint32(12), def.BirthHeight)

	// A conflicting network flag is rejected.
	_, err = loadWalletFile(path, &chaincfg.TestNet3Params)
	require.ErrorIs(t, err, errNetworkConflict)

	// A missing or malformed file is reported.
	_, err = loadWalletFile(
		filepath.Join(t.TempDir(), "none.yaml"), &chaincfg.MainNetParams,
	)
	require.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("xpub: [1, 2"), 0600))
	_, err = loadWalletFile(bad, &chaincfg.MainNetParams)
	require.Error(t, err)

	unknown := filepath.Join(t.TempDir(), "unknown.yaml")
	require.NoError(t, os.WriteFile(
		unknown, []byte("network: moonnet\n"), 0600,
	))
	_, err = loadWalletFile(unknown, &chaincfg.MainNetParams)
	require.ErrorIs(t, err, wallet.ErrUnknownNetwork)
}

// TestPrintRecords verifies the ledger rows printed by the command.
func TestPrintRecords(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	printRecords(&b, []watcher.RecordView{
		{
			Txid:      chainhash.Hash{1},
			Amount:    btcutil.Amount(5000),
			Addresses: []string{"bcrt1qexample"},
			Height:    100,
			SpentHeight: fn.Some(
				uint32(150),
			),
		},
		{
			Txid:        chainhash.Hash{2},
			Amount:      btcutil.Amount(1500),
			Height:      120,
			SpentHeight: fn.None[uint32](),
		},
	})

	lines := bytes.Split(bytes.TrimSpace(b.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	require.Contains(t, string(lines[0]), "height=100")
	require.Contains(t, string(lines[0]), "spent@150")
	require.Contains(t, string(lines[0]), "bcrt1qexample")
	require.Contains(t, string(lines[1]), "unspent")
}
