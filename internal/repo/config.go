package repo

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the necessary config data for starting ferry
type Config struct {
	RepoRoot  string
	Title     string    `toml:"title" json:"title"`
	Log       Log       `toml:"log" json:"log"`
	Bridge    Bridge    `toml:"bridge" json:"bridge"`
	Multisig  Multisig  `toml:"multisig" json:"multisig"`
	Validator Validator `toml:"validator" json:"validator"`
	Fee       Fee       `toml:"fee" json:"fee"`
	Chains    []Chain   `toml:"chains" json:"chains"`
}

// Log are configs about log
type Log struct {
	Dir          string    `toml:"dir" json:"dir"`
	Filename     string    `toml:"filename" json:"filename"`
	ReportCaller bool      `mapstructure:"report_caller"`
	Level        string    `toml:"level" json:"level"`
	Module       LogModule `toml:"module" json:"module"`
}

type LogModule struct {
	App        string `toml:"app" json:"app"`
	SwapEngine string `mapstructure:"swap_engine" toml:"swap_engine" json:"swap_engine"`
	Multisig   string `toml:"multisig" json:"multisig"`
	Validator  string `toml:"validator" json:"validator"`
	Adapter    string `toml:"adapter" json:"adapter"`
	Store      string `toml:"store" json:"store"`
	Fee        string `toml:"fee" json:"fee"`
}

// Bridge are configs about the swap engine
type Bridge struct {
	LockDuration time.Duration `mapstructure:"lock_duration" toml:"lock_duration" json:"lock_duration"`
	ScanInterval time.Duration `mapstructure:"scan_interval" toml:"scan_interval" json:"scan_interval"`
	Workers      int           `toml:"workers" json:"workers"`
}

// Multisig are configs about transfer authorization
type Multisig struct {
	Threshold  int             `toml:"threshold" json:"threshold"`
	Validators []ValidatorNode `toml:"validators" json:"validators"`
}

// ValidatorNode describes one member of the validator set
type ValidatorNode struct {
	ID      string `toml:"id" json:"id"`
	Address string `toml:"address" json:"address"`
}

// Validator are configs about network liveness and reputation
type Validator struct {
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" toml:"heartbeat_timeout" json:"heartbeat_timeout"`
	ReputationFloor   int           `mapstructure:"reputation_floor" toml:"reputation_floor" json:"reputation_floor"`
	LivenessThreshold float64       `mapstructure:"liveness_threshold" toml:"liveness_threshold" json:"liveness_threshold"`
}

// Fee are configs about the bridge margin charged on top of chain fees
type Fee struct {
	BasisPoints int64  `mapstructure:"basis_points" toml:"basis_points" json:"basis_points"`
	Minimum     string `toml:"minimum" json:"minimum"`
}

// Chain describes one supported chain. Extra carries family-specific
// settings such as generic RPC method overrides or the cosmos denom.
type Chain struct {
	ChainID       string            `mapstructure:"chain_id" toml:"chain_id" json:"chain_id"`
	Name          string            `toml:"name" json:"name"`
	Family        string            `toml:"family" json:"family"`
	Endpoint      string            `toml:"endpoint" json:"endpoint"`
	FinalityDepth uint64            `mapstructure:"finality_depth" toml:"finality_depth" json:"finality_depth"`
	Timeout       time.Duration     `toml:"timeout" json:"timeout"`
	Retries       uint              `toml:"retries" json:"retries"`
	Extra         map[string]string `toml:"extra" json:"extra"`
}

// DefaultConfig returns config with default value
func DefaultConfig() *Config {
	return &Config{
		RepoRoot: ".ferry",
		Title:    "ferry configuration file",
		Log: Log{
			Level:    "info",
			Dir:      "logs",
			Filename: "ferry.log",
			Module: LogModule{
				App:        "info",
				SwapEngine: "info",
				Multisig:   "info",
				Validator:  "info",
				Adapter:    "info",
				Store:      "info",
				Fee:        "info",
			},
		},
		Bridge: Bridge{
			LockDuration: time.Hour,
			ScanInterval: 30 * time.Second,
			Workers:      8,
		},
		Multisig: Multisig{
			Threshold: 2,
		},
		Validator: Validator{
			HeartbeatTimeout:  5 * time.Minute,
			ReputationFloor:   30,
			LivenessThreshold: 0.5,
		},
		Fee: Fee{
			BasisPoints: 10,
			Minimum:     "1",
		},
	}
}

// UnmarshalConfig read from config files under config path
func UnmarshalConfig(repoRoot string) (*Config, error) {
	configPath := filepath.Join(repoRoot, ConfigName)

	if !fileExist(configPath) {
		return nil, fmt.Errorf("please initialize ferry firstly")
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("toml")
	viper.AutomaticEnv()
	viper.SetEnvPrefix("FERRY")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	config := DefaultConfig()

	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}

	config.RepoRoot = repoRoot

	if err := config.check(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) check() error {
	if c.Multisig.Threshold < 1 {
		return fmt.Errorf("multisig threshold must be at least 1")
	}

	if len(c.Multisig.Validators) != 0 && c.Multisig.Threshold > len(c.Multisig.Validators) {
		return fmt.Errorf("multisig threshold %d exceeds validator set size %d",
			c.Multisig.Threshold, len(c.Multisig.Validators))
	}

	seen := make(map[string]struct{}, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.ChainID == "" {
			return fmt.Errorf("chain with empty chain_id")
		}
		if _, ok := seen[chain.ChainID]; ok {
			return fmt.Errorf("duplicate chain_id %s", chain.ChainID)
		}
		seen[chain.ChainID] = struct{}{}
	}

	return nil
}

// ChainMap indexes the configured chains by chain id
func (c *Config) ChainMap() map[string]*Chain {
	m := make(map[string]*Chain, len(c.Chains))
	for i := range c.Chains {
		m[c.Chains[i].ChainID] = &c.Chains[i]
	}
	return m
}

const defaultConfigToml = `title = "ferry configuration file"

[log]
  dir = "logs"
  filename = "ferry.log"
  level = "info"
  [log.module]
    app = "info"
    swap_engine = "info"
    multisig = "info"
    validator = "info"
    adapter = "info"
    store = "info"
    fee = "info"

[bridge]
  lock_duration = "1h"
  scan_interval = "30s"
  workers = 8

[multisig]
  threshold = 2

[validator]
  heartbeat_timeout = "5m"
  reputation_floor = 30
  liveness_threshold = 0.5

[fee]
  basis_points = 10
  minimum = "1"

[[chains]]
  chain_id = "ethereum"
  name = "Ethereum Mainnet"
  family = "evm"
  endpoint = "http://localhost:8545"
  finality_depth = 12
  timeout = "5s"
  retries = 3

[[chains]]
  chain_id = "bitcoin"
  name = "Bitcoin"
  family = "utxo"
  endpoint = "http://localhost:8332"
  finality_depth = 6
  timeout = "5s"
  retries = 3
`
