package types

import "math/big"

// NativeToken is the symbol reserved for the chain's native currency. Pools
// unwrap their configured wrapped-native token into this balance before
// sending value to a borrow target.
const NativeToken = "NATIVE"

// Account holds fungible balances keyed by token symbol. Amounts are
// denominated in wei and expressed as big integers to match on-chain
// precision.
type Account struct {
	Balances map[string]*big.Int
}

// NewAccount returns an account with an initialised balance map.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// Balance returns the account's balance for the supplied token, never nil.
func (a *Account) Balance(token string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[token]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// Credit increases the token balance by amount.
func (a *Account) Credit(token string, amount *big.Int) {
	if a == nil || amount == nil || amount.Sign() == 0 {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	a.Balances[token] = new(big.Int).Add(a.Balance(token), amount)
}

// Debit decreases the token balance by amount. The caller is responsible for
// checking sufficiency first; Debit never drives a balance negative.
func (a *Account) Debit(token string, amount *big.Int) bool {
	if a == nil || amount == nil || amount.Sign() < 0 {
		return false
	}
	current := a.Balance(token)
	if current.Cmp(amount) < 0 {
		return false
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	a.Balances[token] = new(big.Int).Sub(current, amount)
	return true
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := NewAccount()
	for token, bal := range a.Balances {
		if bal != nil {
			clone.Balances[token] = new(big.Int).Set(bal)
		}
	}
	return clone
}
