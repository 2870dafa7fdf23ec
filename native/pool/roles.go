package pool

import (
	"errors"
	"fmt"

	"liquidhub/core/events"
	"liquidhub/crypto"
)

// Capability identifiers. Roles are flat capability sets, not a hierarchy:
// holding one grants nothing about another.
const (
	RoleDefaultAdmin   = "ROLE_DEFAULT_ADMIN"
	RoleLiquidityAdmin = "ROLE_LIQUIDITY_ADMIN"
	RoleWithdrawProfit = "ROLE_WITHDRAW_PROFIT"
	RolePauser         = "ROLE_PAUSER"
	RoleFeeSetter      = "ROLE_FEE_SETTER"
)

var knownRoles = map[string]struct{}{
	RoleDefaultAdmin:   {},
	RoleLiquidityAdmin: {},
	RoleWithdrawProfit: {},
	RolePauser:         {},
	RoleFeeSetter:      {},
}

var errUnknownRole = errors.New("pool roles: unknown role")

// RoleRegistry maps capabilities to the addresses holding them. Grants and
// revocations are explicit mutations with their own audit events.
type RoleRegistry struct {
	emitter events.Emitter
	grants  map[string]map[string]struct{}
}

// NewRoleRegistry returns an empty registry with a no-op emitter.
func NewRoleRegistry() *RoleRegistry {
	return &RoleRegistry{
		emitter: events.NoopEmitter{},
		grants:  make(map[string]map[string]struct{}),
	}
}

// SetEmitter configures the audit event sink. Passing nil resets to no-op.
func (r *RoleRegistry) SetEmitter(emitter events.Emitter) {
	if r == nil {
		return
	}
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Grant adds the address to the role's capability set.
func (r *RoleRegistry) Grant(role string, addr crypto.Address) error {
	if r == nil {
		return errUnknownRole
	}
	if _, ok := knownRoles[role]; !ok {
		return fmt.Errorf("%w: %s", errUnknownRole, role)
	}
	if addr.IsZero() {
		return ErrZeroAddress
	}
	set, ok := r.grants[role]
	if !ok {
		set = make(map[string]struct{})
		r.grants[role] = set
	}
	key := string(addr.Bytes())
	if _, exists := set[key]; exists {
		return nil
	}
	set[key] = struct{}{}
	r.emitter.Emit(events.RoleGranted{Role: role, Address: addr})
	return nil
}

// Revoke removes the address from the role's capability set.
func (r *RoleRegistry) Revoke(role string, addr crypto.Address) error {
	if r == nil {
		return errUnknownRole
	}
	if _, ok := knownRoles[role]; !ok {
		return fmt.Errorf("%w: %s", errUnknownRole, role)
	}
	set, ok := r.grants[role]
	if !ok {
		return nil
	}
	key := string(addr.Bytes())
	if _, exists := set[key]; !exists {
		return nil
	}
	delete(set, key)
	r.emitter.Emit(events.RoleRevoked{Role: role, Address: addr})
	return nil
}

// Has reports whether the address holds the capability.
func (r *RoleRegistry) Has(role string, addr crypto.Address) bool {
	if r == nil {
		return false
	}
	set, ok := r.grants[role]
	if !ok {
		return false
	}
	_, exists := set[string(addr.Bytes())]
	return exists
}

func (r *RoleRegistry) require(role string, addr crypto.Address) error {
	if r.Has(role, addr) {
		return nil
	}
	return fmt.Errorf("%w: %s required", ErrUnauthorized, role)
}
