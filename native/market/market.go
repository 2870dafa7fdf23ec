package market

import (
	"math/big"

	"liquidhub/crypto"
)

// AccountData summarises a position held inside the money market. USD values
// are 1e18-scaled big integers so downstream math stays in integer space.
type AccountData struct {
	// CollateralUSD is the oracle value of everything the account supplied.
	CollateralUSD *big.Int
	// DebtUSD is the oracle value of the account's outstanding borrows.
	DebtUSD *big.Int
	// LiquidationThresholdBps is the weighted liquidation threshold applied
	// when the market computes the account's health factor.
	LiquidationThresholdBps uint64
}

// HealthFactorBps derives the position's health factor in basis points
// (10000 = 1.0). A debt-free position reports the maximum uint64 value.
func (d AccountData) HealthFactorBps() uint64 {
	if d.DebtUSD == nil || d.DebtUSD.Sign() == 0 {
		return ^uint64(0)
	}
	if d.CollateralUSD == nil || d.CollateralUSD.Sign() == 0 {
		return 0
	}
	num := new(big.Int).Mul(d.CollateralUSD, new(big.Int).SetUint64(d.LiquidationThresholdBps))
	num.Quo(num, d.DebtUSD)
	if !num.IsUint64() {
		return ^uint64(0)
	}
	return num.Uint64()
}

// MoneyMarket abstracts the external interest-accruing lending market (Aave
// or equivalent) that pools park collateral in. Implementations accrue
// interest continuously, so callers must re-read positions inside the same
// operation rather than caching values across calls.
type MoneyMarket interface {
	// Supply deposits amount of token from the account's hub balance into
	// the market, minting the corresponding receipt token.
	Supply(account crypto.Address, token string, amount *big.Int) error
	// Withdraw redeems supplied underlying back to the destination address.
	Withdraw(account crypto.Address, token string, amount *big.Int, to crypto.Address) error
	// Borrow draws token liquidity against the account's collateral.
	Borrow(account crypto.Address, token string, amount *big.Int, to crypto.Address) error
	// Repay settles outstanding debt and returns the amount actually applied.
	Repay(account crypto.Address, token string, amount *big.Int) (*big.Int, error)
	// AccountData reports the live collateral/debt valuation for an account.
	AccountData(account crypto.Address) (AccountData, error)
	// SuppliedBalance reports how much underlying the account has supplied.
	SuppliedBalance(account crypto.Address, token string) (*big.Int, error)
	// DebtBalance reports the account's outstanding debt in token units.
	DebtBalance(account crypto.Address, token string) (*big.Int, error)
	// AvailableLiquidity reports how much of token the market itself can lend.
	AvailableLiquidity(token string) (*big.Int, error)
	// Price quotes the oracle price for one token wei in 1e18-scaled USD.
	Price(token string) (*big.Rat, error)
	// Supports reports whether the market lists the token as a reserve.
	Supports(token string) bool
	// IsReceiptToken reports whether the symbol is a liquidity-bearing
	// receipt minted by this market (e.g. an aToken).
	IsReceiptToken(token string) bool
}
