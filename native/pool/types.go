package pool

import (
	"math/big"

	"liquidhub/crypto"
)

// PoolState captures the persisted accounting for a pool. Principal is
// tracked separately from the raw token balance so profit is always
// computable as the difference.
type PoolState struct {
	// Asset is the token the pool lends and accepts as principal.
	Asset string
	// TotalDeposited is the principal supplied through Deposit, never
	// inflated by fees, yield or donations.
	TotalDeposited *big.Int
	// Paused halts every mutating operation.
	Paused bool
	// BorrowPaused halts borrowing only; deposits and withdrawals continue.
	BorrowPaused bool
}

// Clone returns a deep copy of the pool state.
func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	clone := *p
	if p.TotalDeposited != nil {
		clone.TotalDeposited = new(big.Int).Set(p.TotalDeposited)
	}
	return &clone
}

// BorrowRequest carries the call arguments a borrower submits alongside the
// MPC signature. It is reconstructed per call and never stored; only the
// nonce survives, in the used-nonce set.
type BorrowRequest struct {
	Tokens   []string
	Amounts  []*big.Int
	Target   crypto.Address
	Calldata []byte
	Nonce    uint64
	Deadline int64
	// AmountToReceive applies to the public fee-sharing variant only: the
	// target receives this amount while the signature covers the gross
	// amount, the difference being the borrow fee retained by the pool.
	AmountToReceive *big.Int
}

// SwapSettlement describes the fill the pool must receive back from a
// caller-supplied swap adapter before a borrow-and-swap completes.
type SwapSettlement struct {
	FillToken  string
	FillAmount *big.Int
	SwapData   []byte
}

// TargetInvoker executes the opaque calldata against an external target once
// the borrowed funds have been advanced. Implementations are untrusted; a
// returned error aborts the borrow with ErrTargetCallFailed.
type TargetInvoker interface {
	Invoke(target crypto.Address, calldata []byte) error
}

// SwapAdapter receives borrowed funds plus opaque swap data and must deliver
// the agreed fill back into the pool's account before returning.
type SwapAdapter interface {
	Swap(token string, amount *big.Int, data []byte) error
}

// BorrowFeeHandler lets the public fee-sharing variant split the spread
// retained by a borrow. ReservedFees reports accruals that must never be
// counted as withdrawable pool balance.
type BorrowFeeHandler interface {
	HandleBorrowFee(token string, fee *big.Int) error
	ReservedFees(token string) *big.Int
}
