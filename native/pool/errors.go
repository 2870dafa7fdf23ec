package pool

import "errors"

var (
	// ErrEnforcedPause signals the contract-wide pause switch is on.
	ErrEnforcedPause = errors.New("pool engine: paused")
	// ErrBorrowingPaused signals the borrow-only switch is on.
	ErrBorrowingPaused = errors.New("pool engine: borrowing paused")
	// ErrInvalidSignature covers failed ECDSA recovery, an unknown signer and
	// a payload redeemed by a caller other than the one bound into it.
	ErrInvalidSignature = errors.New("pool engine: invalid signature")
	// ErrExpiredSignature signals the authorization deadline has passed.
	ErrExpiredSignature = errors.New("pool engine: expired signature")
	// ErrNonceAlreadyUsed signals a replayed authorization.
	ErrNonceAlreadyUsed = errors.New("pool engine: nonce already used")
	// ErrInvalidLength signals mismatched or empty token/amount lists.
	ErrInvalidLength = errors.New("pool engine: invalid length")
	// ErrInvalidBorrowToken signals a token the pool does not lend.
	ErrInvalidBorrowToken = errors.New("pool engine: invalid borrow token")
	// ErrInvalidAmount signals a nil, zero or negative amount.
	ErrInvalidAmount = errors.New("pool engine: amount must be positive")
	// ErrZeroAddress signals a missing destination address.
	ErrZeroAddress = errors.New("pool engine: zero address")
	// ErrNotEnoughToDeposit signals the deposited funds never arrived.
	ErrNotEnoughToDeposit = errors.New("pool engine: not enough to deposit")
	// ErrInsufficientLiquidity signals the request exceeds what the pool or
	// the external market can release right now.
	ErrInsufficientLiquidity = errors.New("pool engine: insufficient liquidity")
	// ErrHealthFactorTooLow signals the operation would breach the minimum
	// health factor against existing debt.
	ErrHealthFactorTooLow = errors.New("pool engine: health factor too low")
	// ErrTokenLTVExceeded signals the borrow would exceed the loan-to-value
	// ceiling for the token.
	ErrTokenLTVExceeded = errors.New("pool engine: token ltv exceeded")
	// ErrInsufficientSwapResult signals the swap adapter delivered less than
	// the agreed fill amount.
	ErrInsufficientSwapResult = errors.New("pool engine: insufficient swap result")
	// ErrTargetCallFailed wraps the target contract's failure reason.
	ErrTargetCallFailed = errors.New("pool engine: target call failed")
	// ErrNoProfit signals there is nothing above principal to withdraw.
	ErrNoProfit = errors.New("pool engine: no profit")
	// ErrNothingToRepay signals the pool holds no debt for the token.
	ErrNothingToRepay = errors.New("pool engine: nothing to repay")
	// ErrUnauthorized signals the caller lacks the required capability.
	ErrUnauthorized = errors.New("pool engine: unauthorized")

	errNilState   = errors.New("pool engine: state not configured")
	errNilPool    = errors.New("pool engine: pool not initialised")
	errNoVerifier = errors.New("pool engine: verifier not configured")
	errNoInvoker  = errors.New("pool engine: target invoker not configured")
	errNoAdapter  = errors.New("pool engine: swap adapter not configured")
	errNoRisk     = errors.New("pool engine: risk engine not configured")
)
