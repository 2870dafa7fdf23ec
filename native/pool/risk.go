package pool

import (
	"math/big"

	"liquidhub/core/events"
	"liquidhub/crypto"
	"liquidhub/native/market"
)

var basisPoints = big.NewInt(10_000)

// maxLTVBps is the saturation point for loan-to-value settings: 10000 (100%)
// and anything above it disable the cap entirely.
const maxLTVBps = 10_000

// RiskEngine bounds how much a market-backed pool may borrow of a token. The
// available amount is the minimum of three independent ceilings: the
// loan-to-value cap on collateral, the maximum extra debt that keeps the
// health factor above its floor, and the external market's own liquidity.
// Every ceiling is derived from live market state; values must never be
// cached across operations because the market accrues interest continuously.
type RiskEngine struct {
	poolID             string
	account            crypto.Address
	market             market.MoneyMarket
	emitter            events.Emitter
	minHealthFactorBps uint64
	defaultLTVBps      uint64
	tokenLTVBps        map[string]uint64
}

// NewRiskEngine constructs a risk engine for the pool's position in the
// external market, held under the given account address.
func NewRiskEngine(poolID string, account crypto.Address, mkt market.MoneyMarket) *RiskEngine {
	return &RiskEngine{
		poolID:      poolID,
		account:     account,
		market:      mkt,
		emitter:     events.NoopEmitter{},
		tokenLTVBps: make(map[string]uint64),
	}
}

// SetEmitter configures the event sink. Passing nil resets to no-op.
func (r *RiskEngine) SetEmitter(emitter events.Emitter) {
	if r == nil {
		return
	}
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetMinHealthFactor updates the health factor floor (10000 = 1.0) and emits
// the before/after audit event.
func (r *RiskEngine) SetMinHealthFactor(bps uint64) {
	if r == nil {
		return
	}
	before := r.minHealthFactorBps
	r.minHealthFactorBps = bps
	r.emitter.Emit(events.RiskParamUpdated{
		PoolID: r.poolID,
		Param:  "minHealthFactor",
		Before: before,
		After:  bps,
	})
}

// MinHealthFactor returns the configured floor in basis points.
func (r *RiskEngine) MinHealthFactor() uint64 {
	if r == nil {
		return 0
	}
	return r.minHealthFactorBps
}

// SetDefaultLTV updates the fallback loan-to-value cap.
func (r *RiskEngine) SetDefaultLTV(bps uint64) {
	if r == nil {
		return
	}
	before := r.defaultLTVBps
	r.defaultLTVBps = bps
	r.emitter.Emit(events.RiskParamUpdated{
		PoolID: r.poolID,
		Param:  "defaultLTV",
		Before: before,
		After:  bps,
	})
}

// DefaultLTV returns the fallback cap in basis points.
func (r *RiskEngine) DefaultLTV() uint64 {
	if r == nil {
		return 0
	}
	return r.defaultLTVBps
}

// SetBorrowTokenLTVs installs per-token overrides. Both slices must be the
// same non-zero length.
func (r *RiskEngine) SetBorrowTokenLTVs(tokens []string, bps []uint64) error {
	if r == nil {
		return errNilPool
	}
	if len(tokens) == 0 || len(tokens) != len(bps) {
		return ErrInvalidLength
	}
	for i, token := range tokens {
		before, had := r.tokenLTVBps[token]
		if !had {
			before = r.defaultLTVBps
		}
		r.tokenLTVBps[token] = bps[i]
		r.emitter.Emit(events.RiskParamUpdated{
			PoolID: r.poolID,
			Param:  "tokenLTV",
			Token:  token,
			Before: before,
			After:  bps[i],
		})
	}
	return nil
}

// EffectiveLTV resolves the cap for a token: the per-token override when set,
// otherwise the default, saturated at 10000 bps. Values above 100% never
// extend borrowing power beyond collateral value.
func (r *RiskEngine) EffectiveLTV(token string) uint64 {
	if r == nil {
		return 0
	}
	ltv := r.defaultLTVBps
	if override, ok := r.tokenLTVBps[token]; ok {
		ltv = override
	}
	if ltv > maxLTVBps {
		ltv = maxLTVBps
	}
	return ltv
}

// usdToTokens converts a 1e18-scaled USD amount into token units at the
// supplied oracle price, rounding down.
func usdToTokens(usd *big.Int, price *big.Rat) *big.Int {
	if usd == nil || usd.Sign() <= 0 || price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	tokens := new(big.Rat).SetInt(usd)
	tokens.Quo(tokens, price)
	return new(big.Int).Quo(tokens.Num(), tokens.Denom())
}

// ltvCeiling returns the LTV-bounded borrowable amount in token units, or nil
// when the cap is disabled (effective LTV of 100%). The nil fast path keeps a
// saturated cap free of oracle math while staying numerically identical to
// an explicit 100% cap combined with the health factor ceiling.
func (r *RiskEngine) ltvCeiling(token string, data market.AccountData, price *big.Rat) *big.Int {
	ltv := r.EffectiveLTV(token)
	if ltv >= maxLTVBps {
		return nil
	}
	if data.CollateralUSD == nil || data.CollateralUSD.Sign() == 0 || ltv == 0 {
		return big.NewInt(0)
	}
	capUSD := new(big.Int).Mul(data.CollateralUSD, new(big.Int).SetUint64(ltv))
	capUSD.Quo(capUSD, basisPoints)
	return usdToTokens(capUSD, price)
}

// healthFactorCeiling returns the extra debt (token units) that keeps the
// position at or above the minimum health factor, or nil when no floor is
// configured.
func (r *RiskEngine) healthFactorCeiling(data market.AccountData, price *big.Rat) *big.Int {
	minHF := r.minHealthFactorBps
	if minHF == 0 {
		return nil
	}
	if data.CollateralUSD == nil || data.CollateralUSD.Sign() == 0 {
		return big.NewInt(0)
	}
	// maxDebtUSD = collateralUSD * liqThreshold / minHF
	maxDebt := new(big.Int).Mul(data.CollateralUSD, new(big.Int).SetUint64(data.LiquidationThresholdBps))
	maxDebt.Quo(maxDebt, new(big.Int).SetUint64(minHF))
	if data.DebtUSD != nil {
		maxDebt.Sub(maxDebt, data.DebtUSD)
	}
	if maxDebt.Sign() <= 0 {
		return big.NewInt(0)
	}
	return usdToTokens(maxDebt, price)
}

// AvailableToBorrow computes the minimum of the three ceilings for the token
// from live market state.
func (r *RiskEngine) AvailableToBorrow(token string) (*big.Int, error) {
	if r == nil || r.market == nil {
		return nil, errNilPool
	}
	data, err := r.market.AccountData(r.position())
	if err != nil {
		return nil, err
	}
	price, err := r.market.Price(token)
	if err != nil {
		return nil, err
	}
	liquidity, err := r.market.AvailableLiquidity(token)
	if err != nil {
		return nil, err
	}
	available := new(big.Int).Set(liquidity)
	if ceiling := r.ltvCeiling(token, data, price); ceiling != nil && ceiling.Cmp(available) < 0 {
		available = ceiling
	}
	if ceiling := r.healthFactorCeiling(data, price); ceiling != nil && ceiling.Cmp(available) < 0 {
		available = ceiling
	}
	return available, nil
}

// CheckBorrow validates a prospective borrow against each ceiling, surfacing
// which bound rejected it.
func (r *RiskEngine) CheckBorrow(token string, amount *big.Int) error {
	if r == nil || r.market == nil {
		return errNilPool
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	data, err := r.market.AccountData(r.position())
	if err != nil {
		return err
	}
	price, err := r.market.Price(token)
	if err != nil {
		return err
	}
	if ceiling := r.ltvCeiling(token, data, price); ceiling != nil && amount.Cmp(ceiling) > 0 {
		return ErrTokenLTVExceeded
	}
	if ceiling := r.healthFactorCeiling(data, price); ceiling != nil && amount.Cmp(ceiling) > 0 {
		return ErrHealthFactorTooLow
	}
	liquidity, err := r.market.AvailableLiquidity(token)
	if err != nil {
		return err
	}
	if amount.Cmp(liquidity) > 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}

// WithdrawableCollateral computes how much supplied collateral can leave the
// market without driving the health factor below its floor against existing
// debt, additionally bounded by the supplied balance and market liquidity.
func (r *RiskEngine) WithdrawableCollateral(token string) (*big.Int, error) {
	if r == nil || r.market == nil {
		return nil, errNilPool
	}
	supplied, err := r.market.SuppliedBalance(r.position(), token)
	if err != nil {
		return nil, err
	}
	liquidity, err := r.market.AvailableLiquidity(token)
	if err != nil {
		return nil, err
	}
	withdrawable := new(big.Int).Set(supplied)
	if liquidity.Cmp(withdrawable) < 0 {
		withdrawable = new(big.Int).Set(liquidity)
	}
	data, err := r.market.AccountData(r.position())
	if err != nil {
		return nil, err
	}
	if data.DebtUSD == nil || data.DebtUSD.Sign() == 0 || r.minHealthFactorBps == 0 {
		return withdrawable, nil
	}
	if data.LiquidationThresholdBps == 0 {
		return big.NewInt(0), nil
	}
	price, err := r.market.Price(token)
	if err != nil {
		return nil, err
	}
	// Collateral that must stay: minHF * debtUSD / liqThreshold, rounded up.
	required := new(big.Int).Mul(data.DebtUSD, new(big.Int).SetUint64(r.minHealthFactorBps))
	threshold := new(big.Int).SetUint64(data.LiquidationThresholdBps)
	required.Add(required, new(big.Int).Sub(threshold, big.NewInt(1)))
	required.Quo(required, threshold)
	free := new(big.Int).Sub(data.CollateralUSD, required)
	if free.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	freeTokens := usdToTokens(free, price)
	if freeTokens.Cmp(withdrawable) < 0 {
		withdrawable = freeTokens
	}
	return withdrawable, nil
}

func (r *RiskEngine) position() crypto.Address {
	return r.account
}
