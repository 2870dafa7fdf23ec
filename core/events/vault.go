package events

import (
	"math/big"
	"strconv"

	"liquidhub/core/types"
	"liquidhub/crypto"
)

const (
	// TypeVaultDeposited is emitted when a public depositor mints shares.
	TypeVaultDeposited = "vault.deposited"
	// TypeVaultWithdrawn is emitted when shares are redeemed for assets.
	TypeVaultWithdrawn = "vault.withdrawn"
	// TypeVaultFeeAccrued is emitted when a borrow fee is split.
	TypeVaultFeeAccrued = "vault.fee_accrued"
	// TypeVaultFeeRateUpdated carries before/after protocol fee rates.
	TypeVaultFeeRateUpdated = "vault.fee_rate_updated"
	// TypeVaultFeesCollected is emitted when the protocol accrual is swept.
	TypeVaultFeesCollected = "vault.fees_collected"
)

// VaultDeposited records a share mint for a public depositor.
type VaultDeposited struct {
	PoolID string
	Owner  crypto.Address
	Assets *big.Int
	Shares *big.Int
}

func (VaultDeposited) EventType() string { return TypeVaultDeposited }

func (e VaultDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultDeposited,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"owner":  addressString(e.Owner),
			"assets": amountString(e.Assets),
			"shares": amountString(e.Shares),
		},
	}
}

// VaultWithdrawn records a share burn.
type VaultWithdrawn struct {
	PoolID string
	Owner  crypto.Address
	To     crypto.Address
	Assets *big.Int
	Shares *big.Int
}

func (VaultWithdrawn) EventType() string { return TypeVaultWithdrawn }

func (e VaultWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultWithdrawn,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"owner":  addressString(e.Owner),
			"to":     addressString(e.To),
			"assets": amountString(e.Assets),
			"shares": amountString(e.Shares),
		},
	}
}

// VaultFeeAccrued records a borrow fee split between depositors and the
// protocol accrual.
type VaultFeeAccrued struct {
	PoolID      string
	Token       string
	Fee         *big.Int
	ProtocolCut *big.Int
}

func (VaultFeeAccrued) EventType() string { return TypeVaultFeeAccrued }

func (e VaultFeeAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultFeeAccrued,
		Attributes: map[string]string{
			"poolId":      e.PoolID,
			"token":       e.Token,
			"fee":         amountString(e.Fee),
			"protocolCut": amountString(e.ProtocolCut),
		},
	}
}

// VaultFeesCollected records the protocol accrual leaving the vault.
type VaultFeesCollected struct {
	PoolID string
	To     crypto.Address
	Amount *big.Int
}

func (VaultFeesCollected) EventType() string { return TypeVaultFeesCollected }

func (e VaultFeesCollected) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultFeesCollected,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"to":     addressString(e.To),
			"amount": amountString(e.Amount),
		},
	}
}

// VaultFeeRateUpdated carries the before/after protocol fee rate.
type VaultFeeRateUpdated struct {
	PoolID string
	Before uint64
	After  uint64
}

func (VaultFeeRateUpdated) EventType() string { return TypeVaultFeeRateUpdated }

func (e VaultFeeRateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultFeeRateUpdated,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"before": strconv.FormatUint(e.Before, 10),
			"after":  strconv.FormatUint(e.After, 10),
		},
	}
}
