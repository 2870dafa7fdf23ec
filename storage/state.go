package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"liquidhub/core/types"
	"liquidhub/crypto"
	"liquidhub/native/pool"
	"liquidhub/native/vault"
)

// StateStore persists pool, vault and account records as JSON values in the
// underlying key-value database. It satisfies the state interfaces of the
// pool engine, the vault ledger and the memory market, so one store backs the
// whole gateway.
type StateStore struct {
	db Database
}

// NewStateStore wraps a database in the typed state accessors.
func NewStateStore(db Database) *StateStore {
	return &StateStore{db: db}
}

func accountKey(addr crypto.Address) []byte {
	return []byte("account/" + addr.String())
}

func poolKey(id string) []byte {
	return []byte("pool/" + id)
}

func nonceKey(id string, nonce uint64) []byte {
	return []byte(fmt.Sprintf("nonce/%s/%d", id, nonce))
}

func vaultKey(id string) []byte {
	return []byte("vault/" + id)
}

func sharesKey(id string, owner crypto.Address) []byte {
	return []byte("shares/" + id + "/" + owner.String())
}

func (s *StateStore) get(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *StateStore) put(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw)
}

// GetAccount returns a mutable copy of the stored account, or nil when the
// address has never been touched.
func (s *StateStore) GetAccount(addr crypto.Address) (*types.Account, error) {
	account := types.NewAccount()
	found, err := s.get(accountKey(addr), account)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if account.Balances == nil {
		account.Balances = make(map[string]*big.Int)
	}
	return account, nil
}

func (s *StateStore) PutAccount(addr crypto.Address, account *types.Account) error {
	return s.put(accountKey(addr), account)
}

func (s *StateStore) GetPool(id string) (*pool.PoolState, error) {
	state := &pool.PoolState{}
	found, err := s.get(poolKey(id), state)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return state, nil
}

func (s *StateStore) PutPool(id string, state *pool.PoolState) error {
	return s.put(poolKey(id), state)
}

func (s *StateStore) NonceUsed(poolID string, nonce uint64) (bool, error) {
	return s.db.Has(nonceKey(poolID, nonce))
}

func (s *StateStore) MarkNonce(poolID string, nonce uint64) error {
	return s.db.Put(nonceKey(poolID, nonce), []byte{1})
}

func (s *StateStore) GetVault(id string) (*vault.VaultState, error) {
	state := &vault.VaultState{}
	found, err := s.get(vaultKey(id), state)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return state, nil
}

func (s *StateStore) PutVault(id string, state *vault.VaultState) error {
	return s.put(vaultKey(id), state)
}

// GetShares returns the owner's share balance, nil when no shares were ever
// minted for the owner.
func (s *StateStore) GetShares(id string, owner crypto.Address) (*big.Int, error) {
	raw, err := s.db.Get(sharesKey(id, owner))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	shares, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("storage: corrupt share balance for %s", owner.String())
	}
	return shares, nil
}

func (s *StateStore) PutShares(id string, owner crypto.Address, shares *big.Int) error {
	if shares == nil {
		shares = big.NewInt(0)
	}
	return s.db.Put(sharesKey(id, owner), []byte(shares.String()))
}
