package pool

import (
	"errors"
	"math/big"
	"testing"

	"liquidhub/native/market"
)

var treasuryAddr = testAddr(0xE5)

func newTestMarket(t *testing.T, state *mockState) *market.MemoryMarket {
	t.Helper()
	mkt := market.NewMemoryMarket(state, treasuryAddr, 8000)
	one := new(big.Rat).SetInt64(1)
	mkt.ListToken(testAsset, one)
	mkt.ListToken("DAI", one)
	state.credit(treasuryAddr, "DAI", 10_000)
	return mkt
}

func supplyCollateral(t *testing.T, state *mockState, mkt *market.MemoryMarket, amount int64) {
	t.Helper()
	state.credit(moduleAddr, testAsset, amount)
	if err := mkt.Supply(moduleAddr, testAsset, big.NewInt(amount)); err != nil {
		t.Fatalf("supply: %v", err)
	}
}

func TestEffectiveLTVResolution(t *testing.T) {
	state := newMockState()
	risk := NewRiskEngine(testPoolID, moduleAddr, newTestMarket(t, state))
	risk.SetDefaultLTV(500)
	if got := risk.EffectiveLTV("DAI"); got != 500 {
		t.Fatalf("default ltv %d", got)
	}
	if err := risk.SetBorrowTokenLTVs([]string{"DAI"}, []uint64{2500}); err != nil {
		t.Fatalf("set token ltvs: %v", err)
	}
	if got := risk.EffectiveLTV("DAI"); got != 2500 {
		t.Fatalf("override ltv %d", got)
	}
	// Values above 100% saturate rather than extend borrowing power.
	if err := risk.SetBorrowTokenLTVs([]string{"DAI"}, []uint64{25_000}); err != nil {
		t.Fatalf("set token ltvs: %v", err)
	}
	if got := risk.EffectiveLTV("DAI"); got != 10_000 {
		t.Fatalf("saturated ltv %d", got)
	}
}

func TestSetBorrowTokenLTVsLengthMismatch(t *testing.T) {
	state := newMockState()
	risk := NewRiskEngine(testPoolID, moduleAddr, newTestMarket(t, state))
	if err := risk.SetBorrowTokenLTVs([]string{"DAI", "ARB"}, []uint64{100}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if err := risk.SetBorrowTokenLTVs(nil, nil); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength for empty, got %v", err)
	}
}

func TestCheckBorrowLTVCeiling(t *testing.T) {
	state := newMockState()
	mkt := newTestMarket(t, state)
	supplyCollateral(t, state, mkt, 1000)
	risk := NewRiskEngine(testPoolID, moduleAddr, mkt)
	risk.SetDefaultLTV(500)

	if err := risk.CheckBorrow("DAI", big.NewInt(50)); err != nil {
		t.Fatalf("borrow at ceiling: %v", err)
	}
	if err := risk.CheckBorrow("DAI", big.NewInt(51)); !errors.Is(err, ErrTokenLTVExceeded) {
		t.Fatalf("expected ErrTokenLTVExceeded, got %v", err)
	}
}

func TestCheckBorrowZeroLTVBlocksEverything(t *testing.T) {
	state := newMockState()
	mkt := newTestMarket(t, state)
	supplyCollateral(t, state, mkt, 1000)
	risk := NewRiskEngine(testPoolID, moduleAddr, mkt)

	if err := risk.CheckBorrow("DAI", big.NewInt(1)); !errors.Is(err, ErrTokenLTVExceeded) {
		t.Fatalf("expected ErrTokenLTVExceeded, got %v", err)
	}
}

func TestCheckBorrowHealthFactorCeiling(t *testing.T) {
	state := newMockState()
	mkt := newTestMarket(t, state)
	supplyCollateral(t, state, mkt, 1000)
	risk := NewRiskEngine(testPoolID, moduleAddr, mkt)
	risk.SetDefaultLTV(10_000)
	risk.SetMinHealthFactor(12_500)

	// maxDebt = 1000 * 8000 / 12500 = 640 with the 80% liquidation threshold.
	if err := risk.CheckBorrow("DAI", big.NewInt(640)); err != nil {
		t.Fatalf("borrow at health ceiling: %v", err)
	}
	if err := risk.CheckBorrow("DAI", big.NewInt(641)); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
}

func TestCheckBorrowLiquidityCeiling(t *testing.T) {
	state := newMockState()
	mkt := market.NewMemoryMarket(state, treasuryAddr, 8000)
	one := new(big.Rat).SetInt64(1)
	mkt.ListToken(testAsset, one)
	mkt.ListToken("DAI", one)
	state.credit(treasuryAddr, "DAI", 30)
	supplyCollateral(t, state, mkt, 1000)
	risk := NewRiskEngine(testPoolID, moduleAddr, mkt)
	risk.SetDefaultLTV(10_000)

	if err := risk.CheckBorrow("DAI", big.NewInt(30)); err != nil {
		t.Fatalf("borrow at liquidity ceiling: %v", err)
	}
	if err := risk.CheckBorrow("DAI", big.NewInt(31)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestAvailableToBorrowTakesMinimum(t *testing.T) {
	state := newMockState()
	mkt := newTestMarket(t, state)
	supplyCollateral(t, state, mkt, 1000)
	risk := NewRiskEngine(testPoolID, moduleAddr, mkt)
	risk.SetDefaultLTV(500)

	available, err := risk.AvailableToBorrow("DAI")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("available %s, want 50", available)
	}

	// Raising the cap moves the binding constraint to the health factor.
	risk.SetDefaultLTV(10_000)
	risk.SetMinHealthFactor(12_500)
	available, err = risk.AvailableToBorrow("DAI")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available.Cmp(big.NewInt(640)) != 0 {
		t.Fatalf("available %s, want 640", available)
	}
}

func TestAvailableToBorrowMonotoneInLTV(t *testing.T) {
	state := newMockState()
	mkt := newTestMarket(t, state)
	supplyCollateral(t, state, mkt, 1000)
	risk := NewRiskEngine(testPoolID, moduleAddr, mkt)

	previous := big.NewInt(-1)
	for _, ltv := range []uint64{0, 100, 500, 2500, 5000, 10_000} {
		risk.SetDefaultLTV(ltv)
		available, err := risk.AvailableToBorrow("DAI")
		if err != nil {
			t.Fatalf("available at %d: %v", ltv, err)
		}
		if available.Cmp(previous) < 0 {
			t.Fatalf("available shrank from %s to %s at ltv %d", previous, available, ltv)
		}
		previous = available
	}
}

func TestWithdrawableCollateral(t *testing.T) {
	state := newMockState()
	mkt := newTestMarket(t, state)
	supplyCollateral(t, state, mkt, 1000)
	risk := NewRiskEngine(testPoolID, moduleAddr, mkt)
	risk.SetMinHealthFactor(10_000)

	// Debt free: everything supplied can leave.
	free, err := risk.WithdrawableCollateral(testAsset)
	if err != nil {
		t.Fatalf("withdrawable: %v", err)
	}
	if free.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("withdrawable %s, want 1000", free)
	}

	// 400 of debt pins 500 of collateral at the 80% threshold.
	if err := mkt.Borrow(moduleAddr, "DAI", big.NewInt(400), moduleAddr); err != nil {
		t.Fatalf("market borrow: %v", err)
	}
	free, err = risk.WithdrawableCollateral(testAsset)
	if err != nil {
		t.Fatalf("withdrawable: %v", err)
	}
	if free.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("withdrawable %s, want 500", free)
	}
}
