package events

import (
	"math/big"
	"strconv"
	"strings"

	"liquidhub/core/types"
	"liquidhub/crypto"
)

const (
	// TypePoolDeposited is emitted when principal enters a pool.
	TypePoolDeposited = "pool.deposited"
	// TypePoolWithdrawn is emitted when the liquidity admin pulls principal.
	TypePoolWithdrawn = "pool.withdrawn"
	// TypePoolProfitWithdrawn is emitted when accrued profit leaves the pool.
	TypePoolProfitWithdrawn = "pool.profit_withdrawn"
	// TypePoolBorrowed is emitted for every completed borrow leg.
	TypePoolBorrowed = "pool.borrowed"
	// TypePoolSwapFilled is emitted when a borrow-and-swap settles.
	TypePoolSwapFilled = "pool.swap_filled"
	// TypePoolRepaid is emitted when pool debt is settled in the market.
	TypePoolRepaid = "pool.repaid"
	// TypePoolPauseChanged is emitted when either pause switch flips.
	TypePoolPauseChanged = "pool.pause_changed"
	// TypePoolSignerUpdated is emitted when the MPC or contract signer moves.
	TypePoolSignerUpdated = "pool.signer_updated"
	// TypeRoleGranted audits a capability grant.
	TypeRoleGranted = "roles.granted"
	// TypeRoleRevoked audits a capability revocation.
	TypeRoleRevoked = "roles.revoked"
	// TypeRiskParamUpdated carries before/after values for risk mutators.
	TypeRiskParamUpdated = "risk.param_updated"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

// PoolDeposited records new principal entering the pool.
type PoolDeposited struct {
	PoolID string
	From   crypto.Address
	Token  string
	Amount *big.Int
}

func (PoolDeposited) EventType() string { return TypePoolDeposited }

func (e PoolDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypePoolDeposited,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"from":   addressString(e.From),
			"token":  strings.TrimSpace(e.Token),
			"amount": amountString(e.Amount),
		},
	}
}

// PoolWithdrawn records principal leaving the pool.
type PoolWithdrawn struct {
	PoolID string
	To     crypto.Address
	Token  string
	Amount *big.Int
}

func (PoolWithdrawn) EventType() string { return TypePoolWithdrawn }

func (e PoolWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypePoolWithdrawn,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"to":     addressString(e.To),
			"token":  strings.TrimSpace(e.Token),
			"amount": amountString(e.Amount),
		},
	}
}

// PoolProfitWithdrawn records profit skimmed above principal.
type PoolProfitWithdrawn struct {
	PoolID string
	To     crypto.Address
	Token  string
	Amount *big.Int
}

func (PoolProfitWithdrawn) EventType() string { return TypePoolProfitWithdrawn }

func (e PoolProfitWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypePoolProfitWithdrawn,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"to":     addressString(e.To),
			"token":  strings.TrimSpace(e.Token),
			"amount": amountString(e.Amount),
		},
	}
}

// PoolBorrowed records a completed borrow leg against a signed authorization.
type PoolBorrowed struct {
	PoolID string
	Caller crypto.Address
	Target crypto.Address
	Token  string
	Amount *big.Int
	Nonce  uint64
}

func (PoolBorrowed) EventType() string { return TypePoolBorrowed }

func (e PoolBorrowed) Event() *types.Event {
	return &types.Event{
		Type: TypePoolBorrowed,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"caller": addressString(e.Caller),
			"target": addressString(e.Target),
			"token":  strings.TrimSpace(e.Token),
			"amount": amountString(e.Amount),
			"nonce":  strconv.FormatUint(e.Nonce, 10),
		},
	}
}

// PoolSwapFilled records the settlement leg of a borrow-and-swap.
type PoolSwapFilled struct {
	PoolID     string
	FillToken  string
	FillAmount *big.Int
	Received   *big.Int
}

func (PoolSwapFilled) EventType() string { return TypePoolSwapFilled }

func (e PoolSwapFilled) Event() *types.Event {
	return &types.Event{
		Type: TypePoolSwapFilled,
		Attributes: map[string]string{
			"poolId":     e.PoolID,
			"fillToken":  strings.TrimSpace(e.FillToken),
			"fillAmount": amountString(e.FillAmount),
			"received":   amountString(e.Received),
		},
	}
}

// PoolRepaid records debt settled against the external market.
type PoolRepaid struct {
	PoolID string
	Token  string
	Amount *big.Int
}

func (PoolRepaid) EventType() string { return TypePoolRepaid }

func (e PoolRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypePoolRepaid,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"token":  strings.TrimSpace(e.Token),
			"amount": amountString(e.Amount),
		},
	}
}

// PoolPauseChanged audits a pause switch flip.
type PoolPauseChanged struct {
	PoolID string
	Switch string
	Before bool
	After  bool
}

func (PoolPauseChanged) EventType() string { return TypePoolPauseChanged }

func (e PoolPauseChanged) Event() *types.Event {
	return &types.Event{
		Type: TypePoolPauseChanged,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"switch": e.Switch,
			"before": strconv.FormatBool(e.Before),
			"after":  strconv.FormatBool(e.After),
		},
	}
}

// PoolSignerUpdated audits a change of the MPC or contract signer address.
type PoolSignerUpdated struct {
	PoolID string
	Kind   string
	Before crypto.Address
	After  crypto.Address
}

func (PoolSignerUpdated) EventType() string { return TypePoolSignerUpdated }

func (e PoolSignerUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePoolSignerUpdated,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"kind":   e.Kind,
			"before": addressString(e.Before),
			"after":  addressString(e.After),
		},
	}
}

// RoleGranted audits a capability grant.
type RoleGranted struct {
	Role    string
	Address crypto.Address
}

func (RoleGranted) EventType() string { return TypeRoleGranted }

func (e RoleGranted) Event() *types.Event {
	return &types.Event{
		Type: TypeRoleGranted,
		Attributes: map[string]string{
			"role":    e.Role,
			"address": addressString(e.Address),
		},
	}
}

// RoleRevoked audits a capability revocation.
type RoleRevoked struct {
	Role    string
	Address crypto.Address
}

func (RoleRevoked) EventType() string { return TypeRoleRevoked }

func (e RoleRevoked) Event() *types.Event {
	return &types.Event{
		Type: TypeRoleRevoked,
		Attributes: map[string]string{
			"role":    e.Role,
			"address": addressString(e.Address),
		},
	}
}

// RiskParamUpdated carries the before/after values of a risk configuration
// mutator. Token is empty for pool-wide parameters.
type RiskParamUpdated struct {
	PoolID string
	Param  string
	Token  string
	Before uint64
	After  uint64
}

func (RiskParamUpdated) EventType() string { return TypeRiskParamUpdated }

func (e RiskParamUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRiskParamUpdated,
		Attributes: map[string]string{
			"poolId": e.PoolID,
			"param":  e.Param,
			"token":  strings.TrimSpace(e.Token),
			"before": strconv.FormatUint(e.Before, 10),
			"after":  strconv.FormatUint(e.After, 10),
		},
	}
}
