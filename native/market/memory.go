package market

import (
	"errors"
	"math/big"

	"liquidhub/core/types"
	"liquidhub/crypto"
)

var (
	errNilStore        = errors.New("memory market: account store not configured")
	errUnknownToken    = errors.New("memory market: token not listed")
	errInvalidAmount   = errors.New("memory market: amount must be positive")
	errLowBalance      = errors.New("memory market: insufficient balance")
	errLowLiquidity    = errors.New("memory market: insufficient market liquidity")
	errNothingSupplied = errors.New("memory market: nothing supplied")
	errNoDebt          = errors.New("memory market: no outstanding debt")
)

var basisPoints = big.NewInt(10_000)

// AccountStore is the slice of hub state the market needs to move funds.
type AccountStore interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// MemoryMarket is a deterministic MoneyMarket used by engine tests and the
// local development mode of the gateway. Prices and thresholds are fixed by
// the operator; yield is applied explicitly via AccrueYield rather than per
// block.
type MemoryMarket struct {
	store           AccountStore
	treasury        crypto.Address
	liqThresholdBps uint64
	prices          map[string]*big.Rat
	supplies        map[string]map[string]*big.Int
	debts           map[string]map[string]*big.Int
}

// NewMemoryMarket constructs a market whose pooled liquidity lives in the
// treasury account.
func NewMemoryMarket(store AccountStore, treasury crypto.Address, liqThresholdBps uint64) *MemoryMarket {
	return &MemoryMarket{
		store:           store,
		treasury:        treasury,
		liqThresholdBps: liqThresholdBps,
		prices:          make(map[string]*big.Rat),
		supplies:        make(map[string]map[string]*big.Int),
		debts:           make(map[string]map[string]*big.Int),
	}
}

// ListToken registers a reserve with its 1e18-scaled USD price per token wei.
func (m *MemoryMarket) ListToken(token string, price *big.Rat) {
	if m == nil || price == nil {
		return
	}
	m.prices[token] = new(big.Rat).Set(price)
}

// SetPrice updates the oracle quote for an already listed token.
func (m *MemoryMarket) SetPrice(token string, price *big.Rat) {
	m.ListToken(token, price)
}

func receiptSymbol(token string) string { return "a" + token }

func (m *MemoryMarket) Supports(token string) bool {
	if m == nil {
		return false
	}
	_, ok := m.prices[token]
	return ok
}

func (m *MemoryMarket) IsReceiptToken(token string) bool {
	if m == nil || len(token) < 2 || token[0] != 'a' {
		return false
	}
	_, ok := m.prices[token[1:]]
	return ok
}

func (m *MemoryMarket) positionOf(bucket map[string]map[string]*big.Int, account crypto.Address) map[string]*big.Int {
	key := string(account.Bytes())
	if pos, ok := bucket[key]; ok {
		return pos
	}
	pos := make(map[string]*big.Int)
	bucket[key] = pos
	return pos
}

func positionBalance(pos map[string]*big.Int, token string) *big.Int {
	if bal, ok := pos[token]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

func (m *MemoryMarket) loadAccount(addr crypto.Address) (*types.Account, error) {
	if m == nil || m.store == nil {
		return nil, errNilStore
	}
	acc, err := m.store.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	return acc, nil
}

func (m *MemoryMarket) Supply(account crypto.Address, token string, amount *big.Int) error {
	if !m.Supports(token) {
		return errUnknownToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	acc, err := m.loadAccount(account)
	if err != nil {
		return err
	}
	if !acc.Debit(token, amount) {
		return errLowBalance
	}
	treasury, err := m.loadAccount(m.treasury)
	if err != nil {
		return err
	}
	treasury.Credit(token, amount)
	acc.Credit(receiptSymbol(token), amount)
	if err := m.store.PutAccount(account, acc); err != nil {
		return err
	}
	if err := m.store.PutAccount(m.treasury, treasury); err != nil {
		return err
	}
	pos := m.positionOf(m.supplies, account)
	pos[token] = new(big.Int).Add(positionBalance(pos, token), amount)
	return nil
}

func (m *MemoryMarket) Withdraw(account crypto.Address, token string, amount *big.Int, to crypto.Address) error {
	if !m.Supports(token) {
		return errUnknownToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pos := m.positionOf(m.supplies, account)
	supplied := positionBalance(pos, token)
	if supplied.Cmp(amount) < 0 {
		return errNothingSupplied
	}
	treasury, err := m.loadAccount(m.treasury)
	if err != nil {
		return err
	}
	if !treasury.Debit(token, amount) {
		return errLowLiquidity
	}
	acc, err := m.loadAccount(account)
	if err != nil {
		return err
	}
	acc.Debit(receiptSymbol(token), amount)
	dest := acc
	if !to.Equal(account) {
		dest, err = m.loadAccount(to)
		if err != nil {
			return err
		}
	}
	dest.Credit(token, amount)
	if err := m.store.PutAccount(m.treasury, treasury); err != nil {
		return err
	}
	if err := m.store.PutAccount(account, acc); err != nil {
		return err
	}
	if !to.Equal(account) {
		if err := m.store.PutAccount(to, dest); err != nil {
			return err
		}
	}
	pos[token] = new(big.Int).Sub(supplied, amount)
	return nil
}

func (m *MemoryMarket) Borrow(account crypto.Address, token string, amount *big.Int, to crypto.Address) error {
	if !m.Supports(token) {
		return errUnknownToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	treasury, err := m.loadAccount(m.treasury)
	if err != nil {
		return err
	}
	if !treasury.Debit(token, amount) {
		return errLowLiquidity
	}
	dest, err := m.loadAccount(to)
	if err != nil {
		return err
	}
	dest.Credit(token, amount)
	if err := m.store.PutAccount(m.treasury, treasury); err != nil {
		return err
	}
	if err := m.store.PutAccount(to, dest); err != nil {
		return err
	}
	pos := m.positionOf(m.debts, account)
	pos[token] = new(big.Int).Add(positionBalance(pos, token), amount)
	return nil
}

func (m *MemoryMarket) Repay(account crypto.Address, token string, amount *big.Int) (*big.Int, error) {
	if !m.Supports(token) {
		return nil, errUnknownToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	pos := m.positionOf(m.debts, account)
	debt := positionBalance(pos, token)
	if debt.Sign() == 0 {
		return nil, errNoDebt
	}
	applied := new(big.Int).Set(amount)
	if applied.Cmp(debt) > 0 {
		applied = new(big.Int).Set(debt)
	}
	acc, err := m.loadAccount(account)
	if err != nil {
		return nil, err
	}
	if !acc.Debit(token, applied) {
		return nil, errLowBalance
	}
	treasury, err := m.loadAccount(m.treasury)
	if err != nil {
		return nil, err
	}
	treasury.Credit(token, applied)
	if err := m.store.PutAccount(account, acc); err != nil {
		return nil, err
	}
	if err := m.store.PutAccount(m.treasury, treasury); err != nil {
		return nil, err
	}
	pos[token] = new(big.Int).Sub(debt, applied)
	return applied, nil
}

func (m *MemoryMarket) valueUSD(position map[string]*big.Int) *big.Int {
	total := new(big.Rat)
	for token, amount := range position {
		price, ok := m.prices[token]
		if !ok || amount == nil || amount.Sign() == 0 {
			continue
		}
		part := new(big.Rat).SetInt(amount)
		part.Mul(part, price)
		total.Add(total, part)
	}
	return new(big.Int).Quo(total.Num(), total.Denom())
}

func (m *MemoryMarket) AccountData(account crypto.Address) (AccountData, error) {
	if m == nil || m.store == nil {
		return AccountData{}, errNilStore
	}
	key := string(account.Bytes())
	data := AccountData{
		CollateralUSD:           big.NewInt(0),
		DebtUSD:                 big.NewInt(0),
		LiquidationThresholdBps: m.liqThresholdBps,
	}
	if pos, ok := m.supplies[key]; ok {
		data.CollateralUSD = m.valueUSD(pos)
	}
	if pos, ok := m.debts[key]; ok {
		data.DebtUSD = m.valueUSD(pos)
	}
	return data, nil
}

func (m *MemoryMarket) SuppliedBalance(account crypto.Address, token string) (*big.Int, error) {
	if !m.Supports(token) {
		return nil, errUnknownToken
	}
	pos := m.positionOf(m.supplies, account)
	return new(big.Int).Set(positionBalance(pos, token)), nil
}

func (m *MemoryMarket) DebtBalance(account crypto.Address, token string) (*big.Int, error) {
	if !m.Supports(token) {
		return nil, errUnknownToken
	}
	pos := m.positionOf(m.debts, account)
	return new(big.Int).Set(positionBalance(pos, token)), nil
}

func (m *MemoryMarket) AvailableLiquidity(token string) (*big.Int, error) {
	if !m.Supports(token) {
		return nil, errUnknownToken
	}
	treasury, err := m.loadAccount(m.treasury)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(treasury.Balance(token)), nil
}

func (m *MemoryMarket) Price(token string) (*big.Rat, error) {
	price, ok := m.prices[token]
	if !ok {
		return nil, errUnknownToken
	}
	return new(big.Rat).Set(price), nil
}

// AccrueYield simulates supply-side interest: every supplier's position grows
// by bps and the matching underlying is credited to the market treasury so it
// remains withdrawable.
func (m *MemoryMarket) AccrueYield(token string, bps uint64) error {
	if !m.Supports(token) {
		return errUnknownToken
	}
	if bps == 0 {
		return nil
	}
	treasury, err := m.loadAccount(m.treasury)
	if err != nil {
		return err
	}
	factor := new(big.Int).SetUint64(bps)
	for _, pos := range m.supplies {
		supplied := positionBalance(pos, token)
		if supplied.Sign() == 0 {
			continue
		}
		interest := new(big.Int).Mul(supplied, factor)
		interest.Quo(interest, basisPoints)
		if interest.Sign() == 0 {
			continue
		}
		pos[token] = new(big.Int).Add(supplied, interest)
		treasury.Credit(token, interest)
	}
	return m.store.PutAccount(m.treasury, treasury)
}
