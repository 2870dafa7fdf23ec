package vault

import (
	"errors"
	"math/big"
	"testing"

	"liquidhub/core/types"
	"liquidhub/crypto"
	"liquidhub/native/pool"
)

type mockLedgerState struct {
	accounts map[string]*types.Account
	vaults   map[string]*VaultState
	shares   map[string]*big.Int
}

func newMockLedgerState() *mockLedgerState {
	return &mockLedgerState{
		accounts: make(map[string]*types.Account),
		vaults:   make(map[string]*VaultState),
		shares:   make(map[string]*big.Int),
	}
}

func (m *mockLedgerState) GetAccount(addr crypto.Address) (*types.Account, error) {
	account, ok := m.accounts[string(addr.Bytes())]
	if !ok {
		return nil, nil
	}
	return account.Clone(), nil
}

func (m *mockLedgerState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[string(addr.Bytes())] = account.Clone()
	return nil
}

func (m *mockLedgerState) GetVault(id string) (*VaultState, error) {
	vault, ok := m.vaults[id]
	if !ok {
		return nil, nil
	}
	return vault.Clone(), nil
}

func (m *mockLedgerState) PutVault(id string, vault *VaultState) error {
	m.vaults[id] = vault.Clone()
	return nil
}

func (m *mockLedgerState) GetShares(id string, owner crypto.Address) (*big.Int, error) {
	shares, ok := m.shares[id+"/"+string(owner.Bytes())]
	if !ok {
		return nil, nil
	}
	return new(big.Int).Set(shares), nil
}

func (m *mockLedgerState) PutShares(id string, owner crypto.Address, shares *big.Int) error {
	m.shares[id+"/"+string(owner.Bytes())] = new(big.Int).Set(shares)
	return nil
}

func (m *mockLedgerState) credit(addr crypto.Address, token string, amount int64) {
	account, ok := m.accounts[string(addr.Bytes())]
	if !ok {
		account = types.NewAccount()
		m.accounts[string(addr.Bytes())] = account
	}
	account.Credit(token, big.NewInt(amount))
}

func (m *mockLedgerState) balance(addr crypto.Address, token string) *big.Int {
	account, ok := m.accounts[string(addr.Bytes())]
	if !ok {
		return big.NewInt(0)
	}
	return account.Balance(token)
}

func vaultAddr(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = b
	}
	return crypto.NewAddress(raw)
}

const (
	ledgerPoolID = "hub-test"
	ledgerAsset  = "USDC"
)

var (
	vaultModule = vaultAddr(0xB2)
	vaultAdmin  = vaultAddr(0xA1)
	depositorA  = vaultAddr(0x11)
	depositorB  = vaultAddr(0x22)
)

func newTestLedger(t *testing.T) (*Ledger, *mockLedgerState) {
	t.Helper()
	state := newMockLedgerState()
	roles := pool.NewRoleRegistry()
	if err := roles.Grant(pool.RoleDefaultAdmin, vaultAdmin); err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	if err := roles.Grant(pool.RoleFeeSetter, vaultAdmin); err != nil {
		t.Fatalf("grant fee setter: %v", err)
	}
	ledger := NewLedger(ledgerPoolID, ledgerAsset)
	ledger.SetState(state)
	ledger.SetRoles(roles)
	ledger.SetModuleAddress(vaultModule)
	return ledger, state
}

func TestDepositBootstrapsOneToOne(t *testing.T) {
	ledger, state := newTestLedger(t)
	state.credit(depositorA, ledgerAsset, 1000)

	shares, err := ledger.Deposit(depositorA, big.NewInt(1000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("bootstrap shares %s", shares)
	}
	if got := state.balance(vaultModule, ledgerAsset); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("module balance %s", got)
	}
	total, err := ledger.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if total.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("total assets %s", total)
	}
}

func TestBorrowFeeConservation(t *testing.T) {
	ledger, state := newTestLedger(t)
	state.credit(depositorA, ledgerAsset, 1000)
	if _, err := ledger.Deposit(depositorA, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.SetProtocolFeeRate(vaultAdmin, 2000); err != nil {
		t.Fatalf("set fee rate: %v", err)
	}

	// A borrow leaves a 20 USDC spread behind in the module balance.
	state.credit(vaultModule, ledgerAsset, 20)
	if err := ledger.HandleBorrowFee(ledgerAsset, big.NewInt(20)); err != nil {
		t.Fatalf("handle fee: %v", err)
	}

	accrued, err := ledger.AccruedProtocolFees()
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	if accrued.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("protocol cut %s, want 4", accrued)
	}
	total, err := ledger.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if total.Cmp(big.NewInt(1016)) != 0 {
		t.Fatalf("total assets %s, want 1016", total)
	}
}

func TestProRataRedemption(t *testing.T) {
	ledger, state := newTestLedger(t)
	state.credit(depositorA, ledgerAsset, 1000)
	state.credit(depositorB, ledgerAsset, 3000)
	if _, err := ledger.Deposit(depositorA, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit A: %v", err)
	}
	if _, err := ledger.Deposit(depositorB, big.NewInt(3000)); err != nil {
		t.Fatalf("deposit B: %v", err)
	}

	// Yield raises assets per share for both holders equally.
	state.credit(vaultModule, ledgerAsset, 400)

	assets, err := ledger.Redeem(depositorA, depositorA, big.NewInt(1000))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if assets.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("redeemed %s, want 1100", assets)
	}
	held, err := ledger.SharesOf(depositorB)
	if err != nil {
		t.Fatalf("shares of B: %v", err)
	}
	if held.Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("B shares %s", held)
	}
	total, err := ledger.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if total.Cmp(big.NewInt(3300)) != 0 {
		t.Fatalf("remaining assets %s, want 3300", total)
	}
}

func TestWithdrawBurnsSharesRoundedUp(t *testing.T) {
	ledger, state := newTestLedger(t)
	state.credit(depositorA, ledgerAsset, 9)
	if _, err := ledger.Deposit(depositorA, big.NewInt(9)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Donated yield: 9 shares now back 10 assets.
	state.credit(vaultModule, ledgerAsset, 1)

	shares, err := ledger.Withdraw(depositorA, depositorA, big.NewInt(3))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if shares.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("burned %s shares, want 3 (ceil of 2.7)", shares)
	}
}

func TestWithdrawMoreThanHoldingRejected(t *testing.T) {
	ledger, state := newTestLedger(t)
	state.credit(depositorA, ledgerAsset, 100)
	if _, err := ledger.Deposit(depositorA, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := ledger.Redeem(depositorA, depositorA, big.NewInt(101)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if _, err := ledger.Withdraw(depositorA, depositorA, big.NewInt(101)); !errors.Is(err, ErrInsufficientAssets) {
		t.Fatalf("expected ErrInsufficientAssets, got %v", err)
	}
}

func TestMintChargesRoundedUpAssets(t *testing.T) {
	ledger, state := newTestLedger(t)
	state.credit(depositorA, ledgerAsset, 9)
	if _, err := ledger.Deposit(depositorA, big.NewInt(9)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	state.credit(vaultModule, ledgerAsset, 1)
	state.credit(depositorB, ledgerAsset, 100)

	// 9 shares back 10 assets; minting 9 more must cost 10, not 9.
	assets, err := ledger.Mint(depositorB, big.NewInt(9))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if assets.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("mint cost %s, want 10", assets)
	}
}

func TestSetProtocolFeeRateBounds(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.SetProtocolFeeRate(vaultAdmin, 10_001); !errors.Is(err, ErrInvalidProtocolFeeRate) {
		t.Fatalf("expected ErrInvalidProtocolFeeRate, got %v", err)
	}
	if err := ledger.SetProtocolFeeRate(depositorA, 100); !errors.Is(err, pool.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := ledger.SetProtocolFeeRate(vaultAdmin, 10_000); err != nil {
		t.Fatalf("full rate rejected: %v", err)
	}
}

func TestWithdrawProtocolFees(t *testing.T) {
	ledger, state := newTestLedger(t)
	state.credit(depositorA, ledgerAsset, 1000)
	if _, err := ledger.Deposit(depositorA, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.SetProtocolFeeRate(vaultAdmin, 5000); err != nil {
		t.Fatalf("set fee rate: %v", err)
	}
	state.credit(vaultModule, ledgerAsset, 40)
	if err := ledger.HandleBorrowFee(ledgerAsset, big.NewInt(40)); err != nil {
		t.Fatalf("handle fee: %v", err)
	}
	if got := ledger.ReservedFees(ledgerAsset); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("reserved %s, want 20", got)
	}

	collected, err := ledger.WithdrawProtocolFees(vaultAdmin, vaultAdmin)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if collected.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("collected %s", collected)
	}
	if got := state.balance(vaultAdmin, ledgerAsset); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("admin balance %s", got)
	}
	if _, err := ledger.WithdrawProtocolFees(vaultAdmin, vaultAdmin); !errors.Is(err, ErrNoFees) {
		t.Fatalf("expected ErrNoFees, got %v", err)
	}
	if _, err := ledger.WithdrawProtocolFees(depositorA, depositorA); !errors.Is(err, pool.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestFeeOnForeignTokenIgnored(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.SetProtocolFeeRate(vaultAdmin, 5000); err != nil {
		t.Fatalf("set fee rate: %v", err)
	}
	if err := ledger.HandleBorrowFee("DAI", big.NewInt(40)); err != nil {
		t.Fatalf("handle fee: %v", err)
	}
	if got := ledger.ReservedFees(ledgerAsset); got.Sign() != 0 {
		t.Fatalf("reserved %s, want 0", got)
	}
}
