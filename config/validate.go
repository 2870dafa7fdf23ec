package config

import (
	"fmt"
	"math/big"
	"strings"

	"liquidhub/crypto"
)

func validAddress(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if _, err := crypto.DecodeAddress(value); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// Validate rejects configurations the gateway cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(cfg.PoolID) == "" {
		return fmt.Errorf("config: PoolID empty")
	}
	if strings.TrimSpace(cfg.Asset) == "" {
		return fmt.Errorf("config: Asset empty")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("config: ChainID zero")
	}
	if err := validAddress("ModuleAddress", cfg.ModuleAddress); err != nil {
		return err
	}
	if err := validAddress("MPCAddress", cfg.MPCAddress); err != nil {
		return err
	}
	if err := validAddress("AdminAddress", cfg.AdminAddress); err != nil {
		return err
	}
	if cfg.MinHealthFactorBps != 0 && cfg.MinHealthFactorBps < 10_000 {
		return fmt.Errorf("config: MinHealthFactorBps below 10000")
	}
	if cfg.Vault.Enabled && cfg.Vault.ProtocolFeeRateBps > 10_000 {
		return fmt.Errorf("config: ProtocolFeeRateBps above 10000")
	}
	if cfg.Market.Enabled {
		if err := validAddress("Market.TreasuryAddress", cfg.Market.TreasuryAddress); err != nil {
			return err
		}
		if strings.TrimSpace(cfg.Market.TreasuryAddress) == "" {
			return fmt.Errorf("config: Market.TreasuryAddress empty")
		}
		if cfg.Market.LiquidationThresholdBps == 0 || cfg.Market.LiquidationThresholdBps > 10_000 {
			return fmt.Errorf("config: Market.LiquidationThresholdBps out of range")
		}
		for _, listing := range cfg.Market.Tokens {
			if strings.TrimSpace(listing.Symbol) == "" {
				return fmt.Errorf("config: market token with empty symbol")
			}
			if _, ok := new(big.Rat).SetString(listing.PriceUSD); !ok {
				return fmt.Errorf("config: market token %s has invalid price %q", listing.Symbol, listing.PriceUSD)
			}
		}
	}
	return nil
}
