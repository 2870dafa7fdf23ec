package pool

import (
	"errors"
	"fmt"
	"math/big"

	"liquidhub/core/events"
	"liquidhub/core/types"
	"liquidhub/crypto"
	"liquidhub/native/market"
)

// engineState is the slice of hub state the pool engine mutates. GetAccount
// and GetPool return copies that are safe to mutate; changes take effect only
// through the matching Put.
type engineState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetPool(id string) (*PoolState, error)
	PutPool(id string, pool *PoolState) error
	NonceUsed(poolID string, nonce uint64) (bool, error)
	MarkNonce(poolID string, nonce uint64) error
}

// PoolStatus is the read-only snapshot surfaced by status queries.
type PoolStatus struct {
	PoolID          string
	Asset           string
	Paused          bool
	BorrowPaused    bool
	TotalDeposited  *big.Int
	AssetBalance    *big.Int
	Profit          *big.Int
	ReservedFees    *big.Int
	MPCAddress      crypto.Address
	ContractSigner  crypto.Address
	MinHealthFactor uint64
	DefaultLTV      uint64
}

// Engine executes pool operations against hub state. A base engine lends only
// its configured asset out of its own balance; wiring a money market plus a
// risk engine turns it into the market-backed variant that parks idle
// principal as collateral and sources borrows through the market. Wiring a
// fee handler turns on the public variant's borrow fee split.
//
// The engine is not safe for concurrent use; callers serialise access the
// same way block processing serialises transactions.
type Engine struct {
	state         engineState
	roles         *RoleRegistry
	verifier      *Verifier
	emitter       events.Emitter
	moduleAddress crypto.Address
	poolID        string
	asset         string
	wrappedNative string
	invoker       TargetInvoker
	feeHandler    BorrowFeeHandler
	risk          *RiskEngine
	market        market.MoneyMarket
}

// NewEngine constructs an engine for one pool identified by poolID, lending
// the given asset.
func NewEngine(poolID, asset string) *Engine {
	return &Engine{
		roles:   NewRoleRegistry(),
		emitter: events.NoopEmitter{},
		poolID:  poolID,
		asset:   asset,
	}
}

// SetState wires the engine to hub state.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetEmitter configures the event sink for the engine and its role registry
// and risk engine. Passing nil resets to no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
	e.roles.SetEmitter(emitter)
	e.risk.SetEmitter(emitter)
}

// SetVerifier installs the signature verifier.
func (e *Engine) SetVerifier(verifier *Verifier) {
	if e == nil {
		return
	}
	e.verifier = verifier
}

// SetModuleAddress fixes the account the pool's funds live under.
func (e *Engine) SetModuleAddress(addr crypto.Address) {
	if e == nil {
		return
	}
	e.moduleAddress = addr
}

// SetWrappedNative configures the token symbol the engine unwraps into native
// balance when delivering borrowed funds.
func (e *Engine) SetWrappedNative(token string) {
	if e == nil {
		return
	}
	e.wrappedNative = token
}

// SetInvoker installs the executor for borrow target calldata.
func (e *Engine) SetInvoker(invoker TargetInvoker) {
	if e == nil {
		return
	}
	e.invoker = invoker
}

// SetFeeHandler enables the public variant's borrow fee split.
func (e *Engine) SetFeeHandler(handler BorrowFeeHandler) {
	if e == nil {
		return
	}
	e.feeHandler = handler
}

// SetMarket wires the external money market and its risk engine together.
// Both must be set for the market-backed behaviour to activate.
func (e *Engine) SetMarket(mkt market.MoneyMarket, risk *RiskEngine) {
	if e == nil {
		return
	}
	e.market = mkt
	e.risk = risk
	if risk != nil {
		risk.SetEmitter(e.emitter)
	}
}

// Roles exposes the capability registry for grant and revoke operations.
func (e *Engine) Roles() *RoleRegistry {
	if e == nil {
		return nil
	}
	return e.roles
}

// InitPool persists the initial pool record if none exists yet.
func (e *Engine) InitPool() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	existing, err := e.state.GetPool(e.poolID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return e.state.PutPool(e.poolID, &PoolState{
		Asset:          e.asset,
		TotalDeposited: big.NewInt(0),
	})
}

func (e *Engine) loadPool() (*PoolState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.state.GetPool(e.poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errNilPool
	}
	if pool.TotalDeposited == nil {
		pool.TotalDeposited = big.NewInt(0)
	}
	return pool, nil
}

func (e *Engine) getAccount(addr crypto.Address) (*types.Account, error) {
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = types.NewAccount()
	}
	return account, nil
}

func (e *Engine) reservedFees(token string) *big.Int {
	if e == nil || e.feeHandler == nil {
		return big.NewInt(0)
	}
	reserved := e.feeHandler.ReservedFees(token)
	if reserved == nil {
		return big.NewInt(0)
	}
	return reserved
}

// trackedAssetBalance is the pool's asset holdings: the raw module balance
// plus whatever sits as collateral in the market.
func (e *Engine) trackedAssetBalance(module *types.Account) (*big.Int, error) {
	total := new(big.Int).Set(module.Balance(e.asset))
	if e.market != nil {
		supplied, err := e.market.SuppliedBalance(e.moduleAddress, e.asset)
		if err != nil {
			return nil, err
		}
		total.Add(total, supplied)
	}
	return total, nil
}

// SetPaused flips the contract-wide pause switch.
func (e *Engine) SetPaused(caller crypto.Address, paused bool) error {
	if err := e.roles.require(RolePauser, caller); err != nil {
		return err
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	before := pool.Paused
	if before == paused {
		return nil
	}
	pool.Paused = paused
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return err
	}
	e.emitter.Emit(events.PoolPauseChanged{PoolID: e.poolID, Switch: "paused", Before: before, After: paused})
	return nil
}

// SetBorrowPaused flips the borrow-only switch; deposits and withdrawals are
// unaffected.
func (e *Engine) SetBorrowPaused(caller crypto.Address, paused bool) error {
	if err := e.roles.require(RoleWithdrawProfit, caller); err != nil {
		return err
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	before := pool.BorrowPaused
	if before == paused {
		return nil
	}
	pool.BorrowPaused = paused
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return err
	}
	e.emitter.Emit(events.PoolPauseChanged{PoolID: e.poolID, Switch: "borrowPaused", Before: before, After: paused})
	return nil
}

// SetMPCAddress rotates the expected ECDSA signer. Signatures produced by the
// previous signer fail verification from the next operation on.
func (e *Engine) SetMPCAddress(caller crypto.Address, addr crypto.Address) error {
	if err := e.roles.require(RoleDefaultAdmin, caller); err != nil {
		return err
	}
	if e.verifier == nil {
		return errNoVerifier
	}
	if addr.IsZero() {
		return ErrZeroAddress
	}
	before := e.verifier.MPCAddress()
	e.verifier.SetMPCAddress(addr)
	e.emitter.Emit(events.PoolSignerUpdated{PoolID: e.poolID, Kind: "mpc", Before: before, After: addr})
	return nil
}

// SetContractSigner installs or clears the contract-signature delegate.
func (e *Engine) SetContractSigner(caller crypto.Address, signer ContractSigner, addr crypto.Address) error {
	if err := e.roles.require(RoleDefaultAdmin, caller); err != nil {
		return err
	}
	if e.verifier == nil {
		return errNoVerifier
	}
	before := e.verifier.ContractSignerAddress()
	e.verifier.SetContractSigner(signer, addr)
	e.emitter.Emit(events.PoolSignerUpdated{PoolID: e.poolID, Kind: "contract", Before: before, After: addr})
	return nil
}

// SetMinHealthFactor configures the health factor floor on the risk engine.
func (e *Engine) SetMinHealthFactor(caller crypto.Address, bps uint64) error {
	if err := e.roles.require(RoleDefaultAdmin, caller); err != nil {
		return err
	}
	if e.risk == nil {
		return errNoRisk
	}
	e.risk.SetMinHealthFactor(bps)
	return nil
}

// SetDefaultLTV configures the fallback loan-to-value cap.
func (e *Engine) SetDefaultLTV(caller crypto.Address, bps uint64) error {
	if err := e.roles.require(RoleDefaultAdmin, caller); err != nil {
		return err
	}
	if e.risk == nil {
		return errNoRisk
	}
	e.risk.SetDefaultLTV(bps)
	return nil
}

// SetBorrowTokenLTVs installs per-token loan-to-value overrides.
func (e *Engine) SetBorrowTokenLTVs(caller crypto.Address, tokens []string, bps []uint64) error {
	if err := e.roles.require(RoleDefaultAdmin, caller); err != nil {
		return err
	}
	if e.risk == nil {
		return errNoRisk
	}
	return e.risk.SetBorrowTokenLTVs(tokens, bps)
}

// Deposit counts funds already sitting in the module account as principal.
// Only the surplus above tracked principal and reserved fees is countable, so
// a deposit that never arrived is rejected rather than absorbed from profit.
func (e *Engine) Deposit(caller crypto.Address, amount *big.Int) error {
	if err := e.roles.require(RoleLiquidityAdmin, caller); err != nil {
		return err
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.Paused {
		return ErrEnforcedPause
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	module, err := e.getAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	tracked, err := e.trackedAssetBalance(module)
	if err != nil {
		return err
	}
	available := new(big.Int).Sub(tracked, pool.TotalDeposited)
	available.Sub(available, e.reservedFees(e.asset))
	if available.Cmp(amount) < 0 {
		return ErrNotEnoughToDeposit
	}
	pool.TotalDeposited = new(big.Int).Add(pool.TotalDeposited, amount)
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return err
	}
	if e.market != nil {
		raw := module.Balance(e.asset)
		supply := new(big.Int).Set(amount)
		if raw.Cmp(supply) < 0 {
			supply = new(big.Int).Set(raw)
		}
		if supply.Sign() > 0 {
			if err := e.market.Supply(e.moduleAddress, e.asset, supply); err != nil {
				return err
			}
		}
	}
	e.emitter.Emit(events.PoolDeposited{PoolID: e.poolID, From: caller, Token: e.asset, Amount: amount})
	return nil
}

// DepositWithPull moves the asset from the depositor's account into the pool
// and counts it as principal in one step.
func (e *Engine) DepositWithPull(caller crypto.Address, from crypto.Address, amount *big.Int) error {
	if err := e.roles.require(RoleLiquidityAdmin, caller); err != nil {
		return err
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.Paused {
		return ErrEnforcedPause
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from.IsZero() {
		return ErrZeroAddress
	}
	depositor, err := e.getAccount(from)
	if err != nil {
		return err
	}
	if !depositor.Debit(e.asset, amount) {
		return ErrNotEnoughToDeposit
	}
	module, err := e.getAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	module.Credit(e.asset, amount)
	if err := e.state.PutAccount(from, depositor); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.moduleAddress, module); err != nil {
		return err
	}
	pool.TotalDeposited = new(big.Int).Add(pool.TotalDeposited, amount)
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return err
	}
	if e.market != nil {
		if err := e.market.Supply(e.moduleAddress, e.asset, amount); err != nil {
			return err
		}
	}
	e.emitter.Emit(events.PoolDeposited{PoolID: e.poolID, From: from, Token: e.asset, Amount: amount})
	return nil
}

// sourceAsset pulls the shortfall of the pool asset out of the market so the
// raw module balance covers need, reporting how much collateral was withdrawn.
// Collateral that must back outstanding debt stays put.
func (e *Engine) sourceAsset(module *types.Account, need *big.Int) (*big.Int, error) {
	raw := module.Balance(e.asset)
	if raw.Cmp(need) >= 0 {
		return nil, nil
	}
	if e.market == nil {
		return nil, ErrInsufficientLiquidity
	}
	shortfall := new(big.Int).Sub(need, raw)
	supplied, err := e.market.SuppliedBalance(e.moduleAddress, e.asset)
	if err != nil {
		return nil, err
	}
	liquidity, err := e.market.AvailableLiquidity(e.asset)
	if err != nil {
		return nil, err
	}
	if shortfall.Cmp(supplied) > 0 || shortfall.Cmp(liquidity) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	if e.risk != nil {
		withdrawable, err := e.risk.WithdrawableCollateral(e.asset)
		if err != nil {
			return nil, err
		}
		if shortfall.Cmp(withdrawable) > 0 {
			return nil, ErrHealthFactorTooLow
		}
	}
	if err := e.market.Withdraw(e.moduleAddress, e.asset, shortfall, e.moduleAddress); err != nil {
		return nil, err
	}
	return shortfall, nil
}

// Withdraw returns principal to the liquidity admin's chosen destination.
func (e *Engine) Withdraw(caller crypto.Address, to crypto.Address, amount *big.Int) error {
	if err := e.roles.require(RoleLiquidityAdmin, caller); err != nil {
		return err
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.Paused {
		return ErrEnforcedPause
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	if pool.TotalDeposited.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	module, err := e.getAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if _, err := e.sourceAsset(module, amount); err != nil {
		return err
	}
	// Reload after a market pull so the raw balance reflects the withdrawal.
	module, err = e.getAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if !module.Debit(e.asset, amount) {
		return ErrInsufficientLiquidity
	}
	dest, err := e.getAccount(to)
	if err != nil {
		return err
	}
	dest.Credit(e.asset, amount)
	if err := e.state.PutAccount(e.moduleAddress, module); err != nil {
		return err
	}
	if err := e.state.PutAccount(to, dest); err != nil {
		return err
	}
	pool.TotalDeposited = new(big.Int).Sub(pool.TotalDeposited, amount)
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return err
	}
	e.emitter.Emit(events.PoolWithdrawn{PoolID: e.poolID, To: to, Token: e.asset, Amount: amount})
	return nil
}

// profitOf computes the withdrawable surplus for a token. For the pool asset
// that is everything above principal and reserved fees; any other token held
// by the module is surplus in full.
func (e *Engine) profitOf(pool *PoolState, module *types.Account, token string) (*big.Int, error) {
	if token != e.asset {
		return new(big.Int).Set(module.Balance(token)), nil
	}
	tracked, err := e.trackedAssetBalance(module)
	if err != nil {
		return nil, err
	}
	profit := new(big.Int).Sub(tracked, pool.TotalDeposited)
	profit.Sub(profit, e.reservedFees(token))
	if profit.Sign() < 0 {
		profit = big.NewInt(0)
	}
	return profit, nil
}

// WithdrawProfit skims every listed token's surplus above principal to the
// destination. Tokens with no surplus are skipped; if nothing is withdrawn at
// all the call fails with ErrNoProfit.
func (e *Engine) WithdrawProfit(caller crypto.Address, to crypto.Address, tokens []string) error {
	if err := e.roles.require(RoleWithdrawProfit, caller); err != nil {
		return err
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.Paused {
		return ErrEnforcedPause
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	if len(tokens) == 0 {
		return ErrInvalidLength
	}
	withdrawn := false
	for _, token := range tokens {
		if e.market != nil && e.market.IsReceiptToken(token) {
			return ErrInvalidBorrowToken
		}
		module, err := e.getAccount(e.moduleAddress)
		if err != nil {
			return err
		}
		profit, err := e.profitOf(pool, module, token)
		if err != nil {
			return err
		}
		if profit.Sign() == 0 {
			continue
		}
		if token == e.asset {
			if _, err := e.sourceAsset(module, profit); err != nil {
				return err
			}
			module, err = e.getAccount(e.moduleAddress)
			if err != nil {
				return err
			}
		}
		if !module.Debit(token, profit) {
			return ErrInsufficientLiquidity
		}
		dest, err := e.getAccount(to)
		if err != nil {
			return err
		}
		dest.Credit(token, profit)
		if err := e.state.PutAccount(e.moduleAddress, module); err != nil {
			return err
		}
		if err := e.state.PutAccount(to, dest); err != nil {
			return err
		}
		e.emitter.Emit(events.PoolProfitWithdrawn{PoolID: e.poolID, To: to, Token: token, Amount: profit})
		withdrawn = true
	}
	if !withdrawn {
		return ErrNoProfit
	}
	return nil
}

// Repay settles the pool's outstanding market debt for a token out of the raw
// module balance, capped at the smaller of amount, debt and balance.
func (e *Engine) Repay(caller crypto.Address, token string, amount *big.Int) (*big.Int, error) {
	if err := e.roles.require(RoleLiquidityAdmin, caller); err != nil {
		return nil, err
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	if pool.Paused {
		return nil, ErrEnforcedPause
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.market == nil {
		return nil, ErrNothingToRepay
	}
	debt, err := e.market.DebtBalance(e.moduleAddress, token)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return nil, ErrNothingToRepay
	}
	module, err := e.getAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	pay := new(big.Int).Set(amount)
	if pay.Cmp(debt) > 0 {
		pay = new(big.Int).Set(debt)
	}
	if raw := module.Balance(token); pay.Cmp(raw) > 0 {
		pay = new(big.Int).Set(raw)
	}
	if pay.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	applied, err := e.market.Repay(e.moduleAddress, token, pay)
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(events.PoolRepaid{PoolID: e.poolID, Token: token, Amount: applied})
	return applied, nil
}

// Balance reports the pool's tracked holdings for a token.
func (e *Engine) Balance(token string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	module, err := e.getAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if token == e.asset {
		return e.trackedAssetBalance(module)
	}
	return new(big.Int).Set(module.Balance(token)), nil
}

// Status assembles the pool snapshot surfaced by the gateway.
func (e *Engine) Status() (*PoolStatus, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	module, err := e.getAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	balance, err := e.trackedAssetBalance(module)
	if err != nil {
		return nil, err
	}
	profit, err := e.profitOf(pool, module, e.asset)
	if err != nil {
		return nil, err
	}
	status := &PoolStatus{
		PoolID:         e.poolID,
		Asset:          pool.Asset,
		Paused:         pool.Paused,
		BorrowPaused:   pool.BorrowPaused,
		TotalDeposited: new(big.Int).Set(pool.TotalDeposited),
		AssetBalance:   balance,
		Profit:         profit,
		ReservedFees:   e.reservedFees(e.asset),
	}
	if e.verifier != nil {
		status.MPCAddress = e.verifier.MPCAddress()
		status.ContractSigner = e.verifier.ContractSignerAddress()
	}
	if e.risk != nil {
		status.MinHealthFactor = e.risk.MinHealthFactor()
		status.DefaultLTV = e.risk.DefaultLTV()
	}
	return status, nil
}

// Borrow redeems a single-token authorization, advancing funds to the target
// and executing its calldata.
func (e *Engine) Borrow(caller crypto.Address, req *BorrowRequest, signature []byte) error {
	if req != nil && len(req.Tokens) != 1 {
		return ErrInvalidLength
	}
	return e.borrow(caller, req, signature, nil, nil)
}

// BorrowMany redeems a multi-token authorization against a single target.
func (e *Engine) BorrowMany(caller crypto.Address, req *BorrowRequest, signature []byte) error {
	return e.borrow(caller, req, signature, nil, nil)
}

// BorrowAndSwap redeems a single-token authorization whose proceeds are
// swapped back into the pool through the adapter. The settlement must deliver
// at least FillAmount of FillToken or the whole operation is rejected.
func (e *Engine) BorrowAndSwap(caller crypto.Address, req *BorrowRequest, signature []byte, settle *SwapSettlement, adapter SwapAdapter) error {
	if req != nil && len(req.Tokens) != 1 {
		return ErrInvalidLength
	}
	return e.borrow(caller, req, signature, settle, adapter)
}

// BorrowAndSwapMany is BorrowAndSwap over a multi-token authorization; every
// borrowed token is swapped toward the same fill.
func (e *Engine) BorrowAndSwapMany(caller crypto.Address, req *BorrowRequest, signature []byte, settle *SwapSettlement, adapter SwapAdapter) error {
	return e.borrow(caller, req, signature, settle, adapter)
}

func (e *Engine) validateRequest(req *BorrowRequest, settle *SwapSettlement) error {
	if req == nil || len(req.Tokens) == 0 || len(req.Tokens) != len(req.Amounts) {
		return ErrInvalidLength
	}
	if req.Target.IsZero() {
		return ErrZeroAddress
	}
	for i, token := range req.Tokens {
		amount := req.Amounts[i]
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if e.market != nil && e.market.IsReceiptToken(token) {
			return ErrInvalidBorrowToken
		}
		if token != e.asset && (e.market == nil || !e.market.Supports(token)) {
			return ErrInvalidBorrowToken
		}
	}
	if settle != nil {
		if settle.FillToken == "" {
			return ErrInvalidLength
		}
		if settle.FillAmount == nil || settle.FillAmount.Sign() <= 0 {
			return ErrInvalidAmount
		}
	}
	return nil
}

// sourcedLeg records what one borrow token pulled out of the market so a
// failed batch can be unwound.
type sourcedLeg struct {
	token          string
	fromDebt       *big.Int
	fromCollateral *big.Int
}

// aggregateBorrowLegs folds the request's legs into one total per token, in
// first-appearance order. Capacity is checked against these totals so repeated
// tokens cannot pass the ceilings one slice at a time.
func aggregateBorrowLegs(req *BorrowRequest) ([]string, map[string]*big.Int) {
	order := make([]string, 0, len(req.Tokens))
	totals := make(map[string]*big.Int, len(req.Tokens))
	for i, token := range req.Tokens {
		total, ok := totals[token]
		if !ok {
			total = big.NewInt(0)
			totals[token] = total
			order = append(order, token)
		}
		total.Add(total, req.Amounts[i])
	}
	return order, totals
}

// sourceBorrow makes the raw module balance cover a token's aggregate borrow
// amount. The pool asset is pulled out of collateral; any other supported
// token's shortfall is drawn as market debt after the risk ceilings admit it.
// The returned leg, if any, describes the market draw for unwinding.
func (e *Engine) sourceBorrow(token string, amount *big.Int) (*sourcedLeg, error) {
	module, err := e.getAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if token == e.asset {
		available := new(big.Int).Sub(module.Balance(e.asset), e.reservedFees(e.asset))
		if available.Cmp(amount) >= 0 {
			return nil, nil
		}
		need := new(big.Int).Add(amount, e.reservedFees(e.asset))
		withdrawn, err := e.sourceAsset(module, need)
		if err != nil {
			return nil, err
		}
		if withdrawn == nil || withdrawn.Sign() == 0 {
			return nil, nil
		}
		return &sourcedLeg{token: token, fromCollateral: withdrawn}, nil
	}
	raw := module.Balance(token)
	if raw.Cmp(amount) >= 0 {
		return nil, nil
	}
	shortfall := new(big.Int).Sub(amount, raw)
	if e.risk != nil {
		if err := e.risk.CheckBorrow(token, shortfall); err != nil {
			return nil, err
		}
	}
	if err := e.market.Borrow(e.moduleAddress, token, shortfall, e.moduleAddress); err != nil {
		return nil, err
	}
	return &sourcedLeg{token: token, fromDebt: shortfall}, nil
}

// unwindSourced puts failed borrow sourcing back: drawn debt is repaid and
// withdrawn collateral re-supplied, newest leg first.
func (e *Engine) unwindSourced(legs []*sourcedLeg) error {
	if e.market == nil {
		return nil
	}
	for i := len(legs) - 1; i >= 0; i-- {
		leg := legs[i]
		if leg.fromDebt != nil && leg.fromDebt.Sign() > 0 {
			if _, err := e.market.Repay(e.moduleAddress, leg.token, leg.fromDebt); err != nil {
				return err
			}
		}
		if leg.fromCollateral != nil && leg.fromCollateral.Sign() > 0 {
			if err := e.market.Supply(e.moduleAddress, leg.token, leg.fromCollateral); err != nil {
				return err
			}
		}
	}
	return nil
}

// deliveryToken maps a borrow token to the balance credited on the target:
// the configured wrapped-native token is unwrapped into native balance.
func (e *Engine) deliveryToken(token string) string {
	if e.wrappedNative != "" && token == e.wrappedNative {
		return types.NativeToken
	}
	return token
}

func (e *Engine) borrow(caller crypto.Address, req *BorrowRequest, signature []byte, settle *SwapSettlement, adapter SwapAdapter) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.verifier == nil {
		return errNoVerifier
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.Paused {
		return ErrEnforcedPause
	}
	if pool.BorrowPaused {
		return ErrBorrowingPaused
	}
	if err := e.validateRequest(req, settle); err != nil {
		return err
	}
	if settle != nil && adapter == nil {
		return errNoAdapter
	}
	if err := e.verifier.Verify(req, caller, signature); err != nil {
		return err
	}
	used, err := e.state.NonceUsed(e.poolID, req.Nonce)
	if err != nil {
		return err
	}
	if used {
		return ErrNonceAlreadyUsed
	}
	// The nonce is burned before any funds move or external code runs, and it
	// stays burned even when a later step fails.
	if err := e.state.MarkNonce(e.poolID, req.Nonce); err != nil {
		return err
	}
	order, totals := aggregateBorrowLegs(req)
	legs := make([]*sourcedLeg, 0, len(order))
	for _, token := range order {
		leg, err := e.sourceBorrow(token, totals[token])
		if err != nil {
			if unwindErr := e.unwindSourced(legs); unwindErr != nil {
				return unwindErr
			}
			return err
		}
		if leg != nil {
			legs = append(legs, leg)
		}
	}
	var execErr error
	if settle != nil {
		execErr = e.settleSwap(caller, req, settle, adapter)
		if execErr != nil && errors.Is(execErr, ErrTargetCallFailed) {
			// The fill already landed, so the drawn legs were consumed by the
			// swap and cannot be returned to the market in kind.
			return execErr
		}
	} else {
		execErr = e.transferAndInvoke(caller, req)
	}
	if execErr != nil {
		if unwindErr := e.unwindSourced(legs); unwindErr != nil {
			return unwindErr
		}
		return execErr
	}
	return nil
}

// borrowFee resolves the public variant's fee split for a single-token
// borrow: the target receives AmountToReceive while the signed gross amount
// is drawn, the difference staying in the pool as the borrow fee.
func (e *Engine) borrowFee(req *BorrowRequest) (deliver, fee *big.Int, err error) {
	gross := req.Amounts[0]
	if e.feeHandler == nil || req.AmountToReceive == nil || len(req.Tokens) != 1 {
		return gross, nil, nil
	}
	deliver = req.AmountToReceive
	if deliver.Sign() <= 0 || deliver.Cmp(gross) > 0 {
		return nil, nil, ErrInvalidAmount
	}
	fee = new(big.Int).Sub(gross, deliver)
	return deliver, fee, nil
}

func (e *Engine) transferAndInvoke(caller crypto.Address, req *BorrowRequest) error {
	deliver, fee, err := e.borrowFee(req)
	if err != nil {
		return err
	}
	if len(req.Calldata) > 0 && e.invoker == nil {
		return errNoInvoker
	}
	module, err := e.getAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	target, err := e.getAccount(req.Target)
	if err != nil {
		return err
	}
	delivered := make([]*big.Int, len(req.Tokens))
	for i, token := range req.Tokens {
		amount := req.Amounts[i]
		if i == 0 && deliver != nil {
			amount = deliver
		}
		if !module.Debit(token, amount) {
			return ErrInsufficientLiquidity
		}
		target.Credit(e.deliveryToken(token), amount)
		delivered[i] = amount
	}
	if err := e.state.PutAccount(e.moduleAddress, module); err != nil {
		return err
	}
	if err := e.state.PutAccount(req.Target, target); err != nil {
		return err
	}
	if len(req.Calldata) > 0 {
		if err := e.invoker.Invoke(req.Target, req.Calldata); err != nil {
			if restoreErr := e.restoreTransfer(req, delivered); restoreErr != nil {
				return restoreErr
			}
			return fmt.Errorf("%w: %v", ErrTargetCallFailed, err)
		}
	}
	// The fee accrues only after the whole borrow has succeeded; a rejected
	// target call must leave no trace in the fee ledger.
	if fee != nil && fee.Sign() > 0 {
		if err := e.feeHandler.HandleBorrowFee(req.Tokens[0], fee); err != nil {
			return err
		}
	}
	for i, token := range req.Tokens {
		e.emitter.Emit(events.PoolBorrowed{
			PoolID: e.poolID,
			Caller: caller,
			Target: req.Target,
			Token:  token,
			Amount: delivered[i],
			Nonce:  req.Nonce,
		})
	}
	return nil
}

// restoreTransfer claws the advanced funds back from the target after its
// call failed. The consumed nonce is deliberately left burned.
func (e *Engine) restoreTransfer(req *BorrowRequest, delivered []*big.Int) error {
	module, err := e.getAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	target, err := e.getAccount(req.Target)
	if err != nil {
		return err
	}
	for i, token := range req.Tokens {
		if !target.Debit(e.deliveryToken(token), delivered[i]) {
			return ErrInsufficientLiquidity
		}
		module.Credit(token, delivered[i])
	}
	if err := e.state.PutAccount(req.Target, target); err != nil {
		return err
	}
	return e.state.PutAccount(e.moduleAddress, module)
}

// settleSwap escrows the borrowed amounts, lets the adapter route them and
// requires at least the agreed fill back in the module account. A short fill
// returns the escrow to the pool and rejects the operation; any surplus above
// the fill simply stays in the pool as profit.
func (e *Engine) settleSwap(caller crypto.Address, req *BorrowRequest, settle *SwapSettlement, adapter SwapAdapter) error {
	deliver, fee, err := e.borrowFee(req)
	if err != nil {
		return err
	}
	if len(req.Calldata) > 0 && e.invoker == nil {
		return errNoInvoker
	}
	module, err := e.getAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	// Only the net amount is routed through the adapter; the fee slice of the
	// signed gross never leaves the pool.
	swapped := make([]*big.Int, len(req.Tokens))
	for i, token := range req.Tokens {
		amount := req.Amounts[i]
		if i == 0 && deliver != nil {
			amount = deliver
		}
		if !module.Debit(token, amount) {
			return ErrInsufficientLiquidity
		}
		swapped[i] = amount
	}
	before := new(big.Int).Set(module.Balance(settle.FillToken))
	if err := e.state.PutAccount(e.moduleAddress, module); err != nil {
		return err
	}
	restore := func() error {
		current, err := e.getAccount(e.moduleAddress)
		if err != nil {
			return err
		}
		for i, token := range req.Tokens {
			current.Credit(token, swapped[i])
		}
		return e.state.PutAccount(e.moduleAddress, current)
	}
	for i, token := range req.Tokens {
		if err := adapter.Swap(token, swapped[i], settle.SwapData); err != nil {
			if restoreErr := restore(); restoreErr != nil {
				return restoreErr
			}
			return fmt.Errorf("%w: %v", ErrInsufficientSwapResult, err)
		}
	}
	module, err = e.getAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	received := new(big.Int).Sub(module.Balance(settle.FillToken), before)
	if received.Cmp(settle.FillAmount) < 0 {
		if restoreErr := restore(); restoreErr != nil {
			return restoreErr
		}
		return ErrInsufficientSwapResult
	}
	if len(req.Calldata) > 0 {
		if err := e.invoker.Invoke(req.Target, req.Calldata); err != nil {
			return fmt.Errorf("%w: %v", ErrTargetCallFailed, err)
		}
	}
	if fee != nil && fee.Sign() > 0 {
		if err := e.feeHandler.HandleBorrowFee(req.Tokens[0], fee); err != nil {
			return err
		}
	}
	for i, token := range req.Tokens {
		e.emitter.Emit(events.PoolBorrowed{
			PoolID: e.poolID,
			Caller: caller,
			Target: req.Target,
			Token:  token,
			Amount: swapped[i],
			Nonce:  req.Nonce,
		})
	}
	e.emitter.Emit(events.PoolSwapFilled{
		PoolID:     e.poolID,
		FillToken:  settle.FillToken,
		FillAmount: settle.FillAmount,
		Received:   received,
	})
	return nil
}
