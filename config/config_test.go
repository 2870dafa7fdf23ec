package config

import (
	"os"
	"path/filepath"
	"testing"

	"liquidhub/crypto"
)

func testBech32(t *testing.T, b byte) string {
	t.Helper()
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = b
	}
	return crypto.NewAddress(raw).String()
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poold.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PoolID != "hub-local" || cfg.Asset != "USDC" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ChainID == 0 {
		t.Fatal("default chain id is zero")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	// A second load parses the file it just wrote.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.PoolID != cfg.PoolID || reloaded.ListenAddress != cfg.ListenAddress {
		t.Fatalf("reload mismatch: %+v", reloaded)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poold.toml")
	admin := testBech32(t, 0xA1)
	body := `
ListenAddress = ":9090"
DataDir = ":memory:"
ChainID = 7
PoolID = "hub-test"
Asset = "USDC"
WrappedNative = "WNATIVE"
AdminAddress = "` + admin + `"
MinHealthFactorBps = 12500
DefaultLTVBps = 5000

[Market]
Enabled = true
TreasuryAddress = "` + testBech32(t, 0xE5) + `"
LiquidationThresholdBps = 8000

[[Market.Tokens]]
Symbol = "USDC"
PriceUSD = "1"

[[Market.Tokens]]
Symbol = "DAI"
PriceUSD = "99/100"

[Vault]
Enabled = true
ProtocolFeeRateBps = 2000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != 7 || cfg.PoolID != "hub-test" || cfg.WrappedNative != "WNATIVE" {
		t.Fatalf("parsed config mismatch: %+v", cfg)
	}
	if cfg.AdminAddress != admin {
		t.Fatalf("admin address %q", cfg.AdminAddress)
	}
	if len(cfg.Tokens()) != 2 || cfg.Tokens()[1].PriceUSD != "99/100" {
		t.Fatalf("tokens %+v", cfg.Tokens())
	}
	if !cfg.Vault.Enabled || cfg.Vault.ProtocolFeeRateBps != 2000 {
		t.Fatalf("vault %+v", cfg.Vault)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		return &Config{ChainID: 1, PoolID: "hub-local", Asset: "USDC"}
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("baseline should validate: %v", err)
	}

	cfg := base()
	cfg.PoolID = " "
	if err := Validate(cfg); err == nil {
		t.Fatal("empty pool id accepted")
	}

	cfg = base()
	cfg.ChainID = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("zero chain id accepted")
	}

	cfg = base()
	cfg.MPCAddress = "not-bech32"
	if err := Validate(cfg); err == nil {
		t.Fatal("garbage mpc address accepted")
	}

	cfg = base()
	cfg.MinHealthFactorBps = 9_999
	if err := Validate(cfg); err == nil {
		t.Fatal("sub-1.0 min health factor accepted")
	}
	cfg.MinHealthFactorBps = 10_000
	if err := Validate(cfg); err != nil {
		t.Fatalf("exact 1.0 min health factor rejected: %v", err)
	}

	cfg = base()
	cfg.Vault.Enabled = true
	cfg.Vault.ProtocolFeeRateBps = 10_001
	if err := Validate(cfg); err == nil {
		t.Fatal("fee rate above 100% accepted")
	}

	cfg = base()
	cfg.Market.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("market without treasury accepted")
	}
	cfg.Market.TreasuryAddress = testBech32(t, 0xE5)
	cfg.Market.LiquidationThresholdBps = 10_001
	if err := Validate(cfg); err == nil {
		t.Fatal("threshold above 100% accepted")
	}
	cfg.Market.LiquidationThresholdBps = 8_000
	cfg.Market.Tokens = []TokenListing{{Symbol: "DAI", PriceUSD: "one"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("unparseable price accepted")
	}
	cfg.Market.Tokens = []TokenListing{{Symbol: "DAI", PriceUSD: "99/100"}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("valid market rejected: %v", err)
	}
}
