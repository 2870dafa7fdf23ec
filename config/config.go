package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TokenListing registers one money market reserve with its oracle price,
// expressed in 1e18-scaled USD per token wei as a decimal string.
type TokenListing struct {
	Symbol   string `toml:"Symbol"`
	PriceUSD string `toml:"PriceUSD"`
}

// Market configures the optional external money market backing the pool.
type Market struct {
	Enabled                 bool           `toml:"Enabled"`
	TreasuryAddress         string         `toml:"TreasuryAddress"`
	LiquidationThresholdBps uint64         `toml:"LiquidationThresholdBps"`
	Tokens                  []TokenListing `toml:"Tokens"`
}

// Vault configures the optional public fee-sharing variant.
type Vault struct {
	Enabled            bool   `toml:"Enabled"`
	ProtocolFeeRateBps uint64 `toml:"ProtocolFeeRateBps"`
}

type Config struct {
	ListenAddress      string `toml:"ListenAddress"`
	DataDir            string `toml:"DataDir"`
	ChainID            uint64 `toml:"ChainID"`
	PoolID             string `toml:"PoolID"`
	Asset              string `toml:"Asset"`
	WrappedNative      string `toml:"WrappedNative"`
	ModuleAddress      string `toml:"ModuleAddress"`
	MPCAddress         string `toml:"MPCAddress"`
	AdminAddress       string `toml:"AdminAddress"`
	MinHealthFactorBps uint64 `toml:"MinHealthFactorBps"`
	DefaultLTVBps      uint64 `toml:"DefaultLTVBps"`
	Market             Market `toml:"Market"`
	Vault              Vault  `toml:"Vault"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.PoolID) == "" {
		cfg.PoolID = "hub-local"
	}
	if strings.TrimSpace(cfg.Asset) == "" {
		cfg.Asset = "USDC"
	}
	if cfg.Tokens() == nil {
		cfg.Market.Tokens = []TokenListing{}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Tokens returns the configured market listings.
func (c *Config) Tokens() []TokenListing {
	if c == nil {
		return nil
	}
	return c.Market.Tokens
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:      ":8080",
		DataDir:            "./hub-data",
		ChainID:            1,
		PoolID:             "hub-local",
		Asset:              "USDC",
		MinHealthFactorBps: 10_500,
		DefaultLTVBps:      10_000,
		Market: Market{
			LiquidationThresholdBps: 8_000,
			Tokens:                  []TokenListing{},
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
