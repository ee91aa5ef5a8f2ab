package repo

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitializeAndUnmarshal(t *testing.T) {
	root := t.TempDir()

	require.Nil(t, Initialize(root))

	// second init must not clobber an existing config
	err := Initialize(root)
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "already exists")

	config, err := UnmarshalConfig(root)
	require.Nil(t, err)

	require.Equal(t, root, config.RepoRoot)
	require.Equal(t, time.Hour, config.Bridge.LockDuration)
	require.Equal(t, 30*time.Second, config.Bridge.ScanInterval)
	require.Equal(t, 2, config.Multisig.Threshold)
	require.Equal(t, 5*time.Minute, config.Validator.HeartbeatTimeout)
	require.Equal(t, 30, config.Validator.ReputationFloor)
	require.Equal(t, 0.5, config.Validator.LivenessThreshold)
	require.Equal(t, int64(10), config.Fee.BasisPoints)
	require.Equal(t, "1", config.Fee.Minimum)

	require.Len(t, config.Chains, 2)

	chains := config.ChainMap()
	require.Contains(t, chains, "ethereum")
	require.Contains(t, chains, "bitcoin")

	eth := chains["ethereum"]
	require.Equal(t, "evm", eth.Family)
	require.Equal(t, uint64(12), eth.FinalityDepth)
	require.Equal(t, 5*time.Second, eth.Timeout)
	require.Equal(t, uint(3), eth.Retries)

	btc := chains["bitcoin"]
	require.Equal(t, "utxo", btc.Family)
	require.Equal(t, uint64(6), btc.FinalityDepth)
}

func TestUnmarshalConfig_MissingRepo(t *testing.T) {
	_, err := UnmarshalConfig(t.TempDir())
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "initialize")
}

func TestUnmarshalConfig_ChecksThreshold(t *testing.T) {
	root := t.TempDir()

	toml := `title = "ferry configuration file"

[multisig]
  threshold = 3
  [[multisig.validators]]
    id = "v1"
    address = "0xaaa"
  [[multisig.validators]]
    id = "v2"
    address = "0xbbb"
`
	require.Nil(t, ioutil.WriteFile(filepath.Join(root, ConfigName), []byte(toml), 0644))

	_, err := UnmarshalConfig(root)
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "exceeds validator set size")
}

func TestUnmarshalConfig_RejectsDuplicateChains(t *testing.T) {
	root := t.TempDir()

	toml := `title = "ferry configuration file"

[[chains]]
  chain_id = "ethereum"
  family = "evm"
  endpoint = "http://localhost:8545"

[[chains]]
  chain_id = "ethereum"
  family = "evm"
  endpoint = "http://localhost:8546"
`
	require.Nil(t, ioutil.WriteFile(filepath.Join(root, ConfigName), []byte(toml), 0644))

	_, err := UnmarshalConfig(root)
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "duplicate chain_id")
}

func TestExtraCarriesFamilySettings(t *testing.T) {
	root := t.TempDir()

	toml := `title = "ferry configuration file"

[[chains]]
  chain_id = "osmosis"
  family = "cosmos"
  endpoint = "http://localhost:1317"
  finality_depth = 1
  [chains.extra]
    denom = "uosmo"
    gas_price = "0.025"
`
	require.Nil(t, ioutil.WriteFile(filepath.Join(root, ConfigName), []byte(toml), 0644))

	config, err := UnmarshalConfig(root)
	require.Nil(t, err)
	require.Len(t, config.Chains, 1)
	require.Equal(t, "uosmo", config.Chains[0].Extra["denom"])
	require.Equal(t, "0.025", config.Chains[0].Extra["gas_price"])
}
