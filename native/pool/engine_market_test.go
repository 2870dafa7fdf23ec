package pool

import (
	"errors"
	"math/big"
	"testing"

	"liquidhub/native/market"
)

type marketEnv struct {
	*testEnv
	mkt  *market.MemoryMarket
	risk *RiskEngine
}

func newMarketEnv(t *testing.T) *marketEnv {
	t.Helper()
	env := newTestEnv(t)
	mkt := newTestMarket(t, env.state)
	risk := NewRiskEngine(testPoolID, moduleAddr, mkt)
	risk.SetDefaultLTV(10_000)
	risk.SetMinHealthFactor(10_000)
	env.engine.SetMarket(mkt, risk)
	return &marketEnv{testEnv: env, mkt: mkt, risk: risk}
}

func TestMarketDepositSuppliesCollateral(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)

	if got := env.state.balance(moduleAddr, testAsset); got.Sign() != 0 {
		t.Fatalf("raw balance should be supplied, got %s", got)
	}
	supplied, err := env.mkt.SuppliedBalance(moduleAddr, testAsset)
	if err != nil {
		t.Fatalf("supplied: %v", err)
	}
	if supplied.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("supplied %s", supplied)
	}
	balance, err := env.engine.Balance(testAsset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("tracked balance %s", balance)
	}
}

func TestMarketBorrowAssetPullsCollateral(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)

	req := borrowReq(testAsset, 100, 51, env.now+600)
	sig := env.sign(t, req, otherAddr)
	if err := env.engine.Borrow(otherAddr, req, sig); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := env.state.balance(targetAddr, testAsset); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("target balance %s", got)
	}
	supplied, _ := env.mkt.SuppliedBalance(moduleAddr, testAsset)
	if supplied.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("supplied %s, want 900", supplied)
	}
}

func TestMarketBorrowOtherTokenDrawsDebt(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)

	req := borrowReq("DAI", 400, 52, env.now+600)
	sig := env.sign(t, req, otherAddr)
	if err := env.engine.Borrow(otherAddr, req, sig); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := env.state.balance(targetAddr, "DAI"); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("target balance %s", got)
	}
	debt, _ := env.mkt.DebtBalance(moduleAddr, "DAI")
	if debt.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("debt %s", debt)
	}
}

func TestMarketBorrowBeyondHealthCeiling(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)
	env.risk.SetMinHealthFactor(12_500)

	req := borrowReq("DAI", 641, 53, env.now+600)
	sig := env.sign(t, req, otherAddr)
	if err := env.engine.Borrow(otherAddr, req, sig); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
}

func TestMarketWithdrawGuardsHealthFactor(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)

	// 400 of DAI debt pins 500 of collateral at the 80% threshold.
	req := borrowReq("DAI", 400, 54, env.now+600)
	sig := env.sign(t, req, otherAddr)
	if err := env.engine.Borrow(otherAddr, req, sig); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := env.engine.Withdraw(adminAddr, otherAddr, big.NewInt(600)); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
	if err := env.engine.Withdraw(adminAddr, otherAddr, big.NewInt(500)); err != nil {
		t.Fatalf("withdraw within headroom: %v", err)
	}
	if got := env.state.balance(otherAddr, testAsset); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("destination balance %s", got)
	}
}

func TestMarketRepayClearsDebt(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)

	req := borrowReq("DAI", 400, 55, env.now+600)
	sig := env.sign(t, req, otherAddr)
	if err := env.engine.Borrow(otherAddr, req, sig); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	env.state.credit(moduleAddr, "DAI", 500)
	applied, err := env.engine.Repay(adminAddr, "DAI", big.NewInt(500))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if applied.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("applied %s, want 400 (capped at debt)", applied)
	}
	debt, _ := env.mkt.DebtBalance(moduleAddr, "DAI")
	if debt.Sign() != 0 {
		t.Fatalf("debt remains %s", debt)
	}
	if _, err := env.engine.Repay(adminAddr, "DAI", big.NewInt(1)); !errors.Is(err, ErrNothingToRepay) {
		t.Fatalf("expected ErrNothingToRepay, got %v", err)
	}
}

func TestMarketYieldBecomesProfit(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)

	// 5% supply-side yield accrues to the position.
	if err := env.mkt.AccrueYield(testAsset, 500); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	status, err := env.engine.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Profit.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("profit %s, want 50", status.Profit)
	}
	if err := env.engine.WithdrawProfit(adminAddr, otherAddr, []string{testAsset}); err != nil {
		t.Fatalf("withdraw profit: %v", err)
	}
	if got := env.state.balance(otherAddr, testAsset); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("profit received %s", got)
	}
	pool, _ := env.state.GetPool(testPoolID)
	if pool.TotalDeposited.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("principal disturbed: %s", pool.TotalDeposited)
	}
}

func TestMarketBatchBorrowChecksAggregateCapacity(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)
	env.risk.SetMinHealthFactor(12_500)

	// Each slice alone clears the 640 ceiling; together they must not.
	req := &BorrowRequest{
		Tokens:   []string{"DAI", "DAI"},
		Amounts:  []*big.Int{big.NewInt(400), big.NewInt(400)},
		Target:   targetAddr,
		Nonce:    57,
		Deadline: env.now + 600,
	}
	sig := env.sign(t, req, otherAddr)
	if err := env.engine.BorrowMany(otherAddr, req, sig); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
	debt, _ := env.mkt.DebtBalance(moduleAddr, "DAI")
	if debt.Sign() != 0 {
		t.Fatalf("failed batch left %s of drawn debt", debt)
	}
	if got := env.state.balance(targetAddr, "DAI"); got.Sign() != 0 {
		t.Fatalf("target received %s", got)
	}
	if got := env.state.balance(moduleAddr, "DAI"); got.Sign() != 0 {
		t.Fatalf("module kept %s of drawn funds", got)
	}
}

func TestMarketBatchBorrowAggregatesSameToken(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)

	req := &BorrowRequest{
		Tokens:   []string{"DAI", "DAI"},
		Amounts:  []*big.Int{big.NewInt(200), big.NewInt(200)},
		Target:   targetAddr,
		Nonce:    58,
		Deadline: env.now + 600,
	}
	sig := env.sign(t, req, otherAddr)
	if err := env.engine.BorrowMany(otherAddr, req, sig); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := env.state.balance(targetAddr, "DAI"); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("target balance %s", got)
	}
	debt, _ := env.mkt.DebtBalance(moduleAddr, "DAI")
	if debt.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("debt %s", debt)
	}
}

func TestMarketBatchBorrowUnwindsEarlierLegs(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)

	// The DAI leg draws first; 400 of debt pins 500 of collateral, so the 600
	// asset leg fails and the draw must be returned.
	req := &BorrowRequest{
		Tokens:   []string{"DAI", testAsset},
		Amounts:  []*big.Int{big.NewInt(400), big.NewInt(600)},
		Target:   targetAddr,
		Nonce:    59,
		Deadline: env.now + 600,
	}
	sig := env.sign(t, req, otherAddr)
	if err := env.engine.BorrowMany(otherAddr, req, sig); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
	debt, _ := env.mkt.DebtBalance(moduleAddr, "DAI")
	if debt.Sign() != 0 {
		t.Fatalf("failed batch left %s of drawn debt", debt)
	}
	if got := env.state.balance(moduleAddr, "DAI"); got.Sign() != 0 {
		t.Fatalf("module kept %s of drawn funds", got)
	}
	supplied, _ := env.mkt.SuppliedBalance(moduleAddr, testAsset)
	if supplied.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("collateral disturbed: %s", supplied)
	}
}

func TestMarketDrawUnwoundOnTargetFailure(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)
	env.engine.SetInvoker(failingInvoker{err: errors.New("revert: paused")})

	req := borrowReq("DAI", 400, 60, env.now+600)
	req.Calldata = []byte{0xde, 0xad}
	sig := env.sign(t, req, otherAddr)
	if err := env.engine.Borrow(otherAddr, req, sig); !errors.Is(err, ErrTargetCallFailed) {
		t.Fatalf("expected ErrTargetCallFailed, got %v", err)
	}
	debt, _ := env.mkt.DebtBalance(moduleAddr, "DAI")
	if debt.Sign() != 0 {
		t.Fatalf("failed borrow left %s of drawn debt", debt)
	}
	if got := env.state.balance(targetAddr, "DAI"); got.Sign() != 0 {
		t.Fatalf("target kept funds: %s", got)
	}
	if got := env.state.balance(moduleAddr, "DAI"); got.Sign() != 0 {
		t.Fatalf("module kept %s of drawn funds", got)
	}
}

func TestMarketRejectsReceiptTokenBorrow(t *testing.T) {
	env := newMarketEnv(t)
	env.deposit(t, 1000)

	req := borrowReq("aUSDC", 10, 56, env.now+600)
	sig := env.sign(t, req, otherAddr)
	if err := env.engine.Borrow(otherAddr, req, sig); !errors.Is(err, ErrInvalidBorrowToken) {
		t.Fatalf("expected ErrInvalidBorrowToken, got %v", err)
	}
}
