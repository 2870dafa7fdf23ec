package vault

import (
	"errors"
	"math/big"

	"liquidhub/core/events"
	"liquidhub/core/types"
	"liquidhub/crypto"
	"liquidhub/native/pool"
)

var (
	// ErrInvalidProtocolFeeRate signals a fee rate above 10000 bps.
	ErrInvalidProtocolFeeRate = errors.New("vault ledger: invalid protocol fee rate")
	// ErrInsufficientShares signals a redemption larger than the holding.
	ErrInsufficientShares = errors.New("vault ledger: insufficient shares")
	// ErrInvalidAmount signals a nil, zero or negative amount.
	ErrInvalidAmount = errors.New("vault ledger: amount must be positive")
	// ErrZeroAddress signals a missing owner or destination address.
	ErrZeroAddress = errors.New("vault ledger: zero address")
	// ErrInsufficientAssets signals the vault cannot cover a withdrawal.
	ErrInsufficientAssets = errors.New("vault ledger: insufficient assets")
	// ErrNoFees signals there are no accrued protocol fees to collect.
	ErrNoFees = errors.New("vault ledger: no accrued fees")

	errNilState = errors.New("vault ledger: state not configured")
	errNoRoles  = errors.New("vault ledger: roles not configured")
)

var basisPoints = big.NewInt(10_000)

// VaultState is the persisted share accounting for one vault.
type VaultState struct {
	// TotalShares is the outstanding share supply across all holders.
	TotalShares *big.Int
	// ProtocolFee is the accrued protocol cut, denominated in the vault
	// asset. It is reserved: never part of total assets and never
	// redeemable by share holders.
	ProtocolFee *big.Int
	// ProtocolFeeRateBps is the protocol's share of every borrow fee.
	ProtocolFeeRateBps uint64
}

// Clone returns a deep copy of the vault state.
func (v *VaultState) Clone() *VaultState {
	if v == nil {
		return nil
	}
	clone := *v
	if v.TotalShares != nil {
		clone.TotalShares = new(big.Int).Set(v.TotalShares)
	}
	if v.ProtocolFee != nil {
		clone.ProtocolFee = new(big.Int).Set(v.ProtocolFee)
	}
	return &clone
}

// ledgerState is the slice of hub state the vault mutates. Getters return
// copies safe to mutate; changes take effect only through the matching Put.
type ledgerState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetVault(id string) (*VaultState, error)
	PutVault(id string, vault *VaultState) error
	GetShares(id string, owner crypto.Address) (*big.Int, error)
	PutShares(id string, owner crypto.Address, shares *big.Int) error
}

// Ledger is the public pool's fee-sharing share ledger. Deposits mint shares
// against the pool's current assets; borrow fees raise assets per share for
// every holder except the protocol cut, which accrues separately. The ledger
// satisfies the pool engine's borrow fee handler so the split happens inside
// the borrow itself.
type Ledger struct {
	state         ledgerState
	emitter       events.Emitter
	roles         *pool.RoleRegistry
	poolID        string
	asset         string
	moduleAddress crypto.Address
}

// NewLedger constructs a ledger bound to the pool's identity and asset.
func NewLedger(poolID, asset string) *Ledger {
	return &Ledger{
		emitter: events.NoopEmitter{},
		poolID:  poolID,
		asset:   asset,
	}
}

// SetState wires the ledger to hub state.
func (l *Ledger) SetState(state ledgerState) {
	if l == nil {
		return
	}
	l.state = state
}

// SetEmitter configures the event sink. Passing nil resets to no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetRoles shares the pool's capability registry for fee administration.
func (l *Ledger) SetRoles(roles *pool.RoleRegistry) {
	if l == nil {
		return
	}
	l.roles = roles
}

// SetModuleAddress fixes the account the vault's assets live under. It is the
// same account the pool engine lends from.
func (l *Ledger) SetModuleAddress(addr crypto.Address) {
	if l == nil {
		return
	}
	l.moduleAddress = addr
}

func (l *Ledger) loadVault() (*VaultState, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	vault, err := l.state.GetVault(l.poolID)
	if err != nil {
		return nil, err
	}
	if vault == nil {
		vault = &VaultState{}
	}
	if vault.TotalShares == nil {
		vault.TotalShares = big.NewInt(0)
	}
	if vault.ProtocolFee == nil {
		vault.ProtocolFee = big.NewInt(0)
	}
	return vault, nil
}

func (l *Ledger) getAccount(addr crypto.Address) (*types.Account, error) {
	account, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = types.NewAccount()
	}
	return account, nil
}

func (l *Ledger) sharesOf(owner crypto.Address) (*big.Int, error) {
	shares, err := l.state.GetShares(l.poolID, owner)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		return big.NewInt(0), nil
	}
	return shares, nil
}

// totalAssets is the vault's distributable balance: the raw module holding of
// the asset minus the reserved protocol fee.
func (l *Ledger) totalAssets(vault *VaultState) (*big.Int, error) {
	module, err := l.getAccount(l.moduleAddress)
	if err != nil {
		return nil, err
	}
	assets := new(big.Int).Sub(module.Balance(l.asset), vault.ProtocolFee)
	if assets.Sign() < 0 {
		assets = big.NewInt(0)
	}
	return assets, nil
}

// TotalAssets reports the distributable asset balance.
func (l *Ledger) TotalAssets() (*big.Int, error) {
	vault, err := l.loadVault()
	if err != nil {
		return nil, err
	}
	return l.totalAssets(vault)
}

// TotalShares reports the outstanding share supply.
func (l *Ledger) TotalShares() (*big.Int, error) {
	vault, err := l.loadVault()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(vault.TotalShares), nil
}

// SharesOf reports the owner's share balance.
func (l *Ledger) SharesOf(owner crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	shares, err := l.sharesOf(owner)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(shares), nil
}

// ProtocolFeeRate reports the configured protocol cut in basis points.
func (l *Ledger) ProtocolFeeRate() (uint64, error) {
	vault, err := l.loadVault()
	if err != nil {
		return 0, err
	}
	return vault.ProtocolFeeRateBps, nil
}

// AccruedProtocolFees reports the reserved protocol balance.
func (l *Ledger) AccruedProtocolFees() (*big.Int, error) {
	vault, err := l.loadVault()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(vault.ProtocolFee), nil
}

func mulDivFloor(a, b, denom *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denom)
}

func mulDivCeil(a, b, denom *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	out.Add(out, new(big.Int).Sub(denom, big.NewInt(1)))
	return out.Quo(out, denom)
}

// convertToShares prices assets in shares at the current exchange rate,
// rounding down. The first deposit bootstraps at one share per asset unit.
func (l *Ledger) convertToShares(vault *VaultState, assets *big.Int) (*big.Int, error) {
	total, err := l.totalAssets(vault)
	if err != nil {
		return nil, err
	}
	if vault.TotalShares.Sign() == 0 || total.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	return mulDivFloor(assets, vault.TotalShares, total), nil
}

// convertToAssets prices shares in assets at the current exchange rate,
// rounding down.
func (l *Ledger) convertToAssets(vault *VaultState, shares *big.Int) (*big.Int, error) {
	if vault.TotalShares.Sign() == 0 {
		return new(big.Int).Set(shares), nil
	}
	total, err := l.totalAssets(vault)
	if err != nil {
		return nil, err
	}
	return mulDivFloor(shares, total, vault.TotalShares), nil
}

// ConvertToShares quotes the shares minted for a deposit of assets.
func (l *Ledger) ConvertToShares(assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	vault, err := l.loadVault()
	if err != nil {
		return nil, err
	}
	return l.convertToShares(vault, assets)
}

// ConvertToAssets quotes the assets returned for redeeming shares.
func (l *Ledger) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	vault, err := l.loadVault()
	if err != nil {
		return nil, err
	}
	return l.convertToAssets(vault, shares)
}

// Deposit moves assets from the owner's account into the pool and mints
// shares at the pre-deposit exchange rate.
func (l *Ledger) Deposit(owner crypto.Address, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if owner.IsZero() {
		return nil, ErrZeroAddress
	}
	vault, err := l.loadVault()
	if err != nil {
		return nil, err
	}
	shares, err := l.convertToShares(vault, assets)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if err := l.pullAssets(owner, assets); err != nil {
		return nil, err
	}
	if err := l.mint(vault, owner, shares); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.VaultDeposited{PoolID: l.poolID, Owner: owner, Assets: assets, Shares: shares})
	return shares, nil
}

// Mint mints an exact share amount, charging the owner the asset cost rounded
// up so the vault never underprices shares.
func (l *Ledger) Mint(owner crypto.Address, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if owner.IsZero() {
		return nil, ErrZeroAddress
	}
	vault, err := l.loadVault()
	if err != nil {
		return nil, err
	}
	assets := new(big.Int).Set(shares)
	if vault.TotalShares.Sign() > 0 {
		total, err := l.totalAssets(vault)
		if err != nil {
			return nil, err
		}
		if total.Sign() > 0 {
			assets = mulDivCeil(shares, total, vault.TotalShares)
		}
	}
	if assets.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if err := l.pullAssets(owner, assets); err != nil {
		return nil, err
	}
	if err := l.mint(vault, owner, shares); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.VaultDeposited{PoolID: l.poolID, Owner: owner, Assets: assets, Shares: shares})
	return assets, nil
}

// Withdraw returns an exact asset amount to the destination, burning the
// owner's shares rounded up.
func (l *Ledger) Withdraw(owner, to crypto.Address, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if owner.IsZero() || to.IsZero() {
		return nil, ErrZeroAddress
	}
	vault, err := l.loadVault()
	if err != nil {
		return nil, err
	}
	total, err := l.totalAssets(vault)
	if err != nil {
		return nil, err
	}
	if total.Cmp(assets) < 0 {
		return nil, ErrInsufficientAssets
	}
	shares := new(big.Int).Set(assets)
	if vault.TotalShares.Sign() > 0 {
		shares = mulDivCeil(assets, vault.TotalShares, total)
	}
	if err := l.burn(vault, owner, shares); err != nil {
		return nil, err
	}
	if err := l.pushAssets(to, assets); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.VaultWithdrawn{PoolID: l.poolID, Owner: owner, To: to, Assets: assets, Shares: shares})
	return shares, nil
}

// Redeem burns an exact share amount and returns the pro-rata assets rounded
// down to the destination.
func (l *Ledger) Redeem(owner, to crypto.Address, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if owner.IsZero() || to.IsZero() {
		return nil, ErrZeroAddress
	}
	vault, err := l.loadVault()
	if err != nil {
		return nil, err
	}
	assets, err := l.convertToAssets(vault, shares)
	if err != nil {
		return nil, err
	}
	if assets.Sign() == 0 {
		return nil, ErrInsufficientAssets
	}
	if err := l.burn(vault, owner, shares); err != nil {
		return nil, err
	}
	if err := l.pushAssets(to, assets); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.VaultWithdrawn{PoolID: l.poolID, Owner: owner, To: to, Assets: assets, Shares: shares})
	return assets, nil
}

func (l *Ledger) pullAssets(owner crypto.Address, assets *big.Int) error {
	account, err := l.getAccount(owner)
	if err != nil {
		return err
	}
	if !account.Debit(l.asset, assets) {
		return ErrInsufficientAssets
	}
	module, err := l.getAccount(l.moduleAddress)
	if err != nil {
		return err
	}
	module.Credit(l.asset, assets)
	if err := l.state.PutAccount(owner, account); err != nil {
		return err
	}
	return l.state.PutAccount(l.moduleAddress, module)
}

func (l *Ledger) pushAssets(to crypto.Address, assets *big.Int) error {
	module, err := l.getAccount(l.moduleAddress)
	if err != nil {
		return err
	}
	if !module.Debit(l.asset, assets) {
		return ErrInsufficientAssets
	}
	dest, err := l.getAccount(to)
	if err != nil {
		return err
	}
	dest.Credit(l.asset, assets)
	if err := l.state.PutAccount(l.moduleAddress, module); err != nil {
		return err
	}
	return l.state.PutAccount(to, dest)
}

func (l *Ledger) mint(vault *VaultState, owner crypto.Address, shares *big.Int) error {
	held, err := l.sharesOf(owner)
	if err != nil {
		return err
	}
	if err := l.state.PutShares(l.poolID, owner, new(big.Int).Add(held, shares)); err != nil {
		return err
	}
	vault.TotalShares = new(big.Int).Add(vault.TotalShares, shares)
	return l.state.PutVault(l.poolID, vault)
}

func (l *Ledger) burn(vault *VaultState, owner crypto.Address, shares *big.Int) error {
	held, err := l.sharesOf(owner)
	if err != nil {
		return err
	}
	if held.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	if err := l.state.PutShares(l.poolID, owner, new(big.Int).Sub(held, shares)); err != nil {
		return err
	}
	vault.TotalShares = new(big.Int).Sub(vault.TotalShares, shares)
	return l.state.PutVault(l.poolID, vault)
}

// SetProtocolFeeRate updates the protocol's cut of future borrow fees.
func (l *Ledger) SetProtocolFeeRate(caller crypto.Address, bps uint64) error {
	if l == nil || l.roles == nil {
		return errNoRoles
	}
	if err := l.rolesRequire(pool.RoleFeeSetter, caller); err != nil {
		return err
	}
	if bps > 10_000 {
		return ErrInvalidProtocolFeeRate
	}
	vault, err := l.loadVault()
	if err != nil {
		return err
	}
	before := vault.ProtocolFeeRateBps
	vault.ProtocolFeeRateBps = bps
	if err := l.state.PutVault(l.poolID, vault); err != nil {
		return err
	}
	l.emitter.Emit(events.VaultFeeRateUpdated{PoolID: l.poolID, Before: before, After: bps})
	return nil
}

func (l *Ledger) rolesRequire(role string, caller crypto.Address) error {
	if l.roles.Has(role, caller) {
		return nil
	}
	return pool.ErrUnauthorized
}

// HandleBorrowFee splits a borrow fee already sitting in the module balance:
// the protocol cut is reserved, the remainder raises assets per share.
func (l *Ledger) HandleBorrowFee(token string, fee *big.Int) error {
	if fee == nil || fee.Sign() < 0 {
		return ErrInvalidAmount
	}
	if token != l.asset || fee.Sign() == 0 {
		return nil
	}
	vault, err := l.loadVault()
	if err != nil {
		return err
	}
	cut := new(big.Int).Mul(fee, new(big.Int).SetUint64(vault.ProtocolFeeRateBps))
	cut.Quo(cut, basisPoints)
	if cut.Sign() > 0 {
		vault.ProtocolFee = new(big.Int).Add(vault.ProtocolFee, cut)
		if err := l.state.PutVault(l.poolID, vault); err != nil {
			return err
		}
	}
	l.emitter.Emit(events.VaultFeeAccrued{PoolID: l.poolID, Token: token, Fee: fee, ProtocolCut: cut})
	return nil
}

// ReservedFees reports the protocol accrual that must never be counted as
// withdrawable pool balance.
func (l *Ledger) ReservedFees(token string) *big.Int {
	if l == nil || token != l.asset {
		return big.NewInt(0)
	}
	vault, err := l.loadVault()
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(vault.ProtocolFee)
}

// WithdrawProtocolFees transfers the accrued protocol cut to the destination.
func (l *Ledger) WithdrawProtocolFees(caller, to crypto.Address) (*big.Int, error) {
	if l == nil || l.roles == nil {
		return nil, errNoRoles
	}
	if err := l.rolesRequire(pool.RoleDefaultAdmin, caller); err != nil {
		return nil, err
	}
	if to.IsZero() {
		return nil, ErrZeroAddress
	}
	vault, err := l.loadVault()
	if err != nil {
		return nil, err
	}
	if vault.ProtocolFee.Sign() == 0 {
		return nil, ErrNoFees
	}
	amount := new(big.Int).Set(vault.ProtocolFee)
	vault.ProtocolFee = big.NewInt(0)
	if err := l.state.PutVault(l.poolID, vault); err != nil {
		return nil, err
	}
	if err := l.pushAssets(to, amount); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.VaultFeesCollected{PoolID: l.poolID, To: to, Amount: amount})
	return amount, nil
}
