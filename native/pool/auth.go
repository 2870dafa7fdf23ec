package pool

import (
	"encoding/binary"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"liquidhub/crypto"
)

// AuthDomainV1 is the domain separator bound into every signed borrow
// authorization. Bumping the version invalidates all outstanding signatures.
const AuthDomainV1 = "LIQUIDHUB_BORROW_V1"

// appendField length-prefixes each field so no two distinct requests can share
// a preimage, whatever bytes the fields contain.
func appendField(buf []byte, field []byte) []byte {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(field)))
	buf = append(buf, prefix[:]...)
	return append(buf, field...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var word [8]byte
	binary.BigEndian.PutUint64(word[:], v)
	return appendField(buf, word[:])
}

// Digest reconstructs the canonical message hash signed by the MPC authority.
// The digest binds chain, pool and caller so a payload signed for one context
// cannot be redeemed in another.
func (r *BorrowRequest) Digest(chainID uint64, poolID string, caller crypto.Address) []byte {
	buf := appendField(nil, []byte(AuthDomainV1))
	buf = appendUint64(buf, chainID)
	buf = appendField(buf, []byte(strings.TrimSpace(poolID)))
	buf = appendField(buf, caller.Bytes())
	buf = appendUint64(buf, uint64(len(r.Tokens)))
	for _, token := range r.Tokens {
		buf = appendField(buf, []byte(strings.TrimSpace(token)))
	}
	buf = appendUint64(buf, uint64(len(r.Amounts)))
	for _, amount := range r.Amounts {
		if amount == nil {
			buf = appendField(buf, nil)
			continue
		}
		buf = appendField(buf, amount.Bytes())
	}
	buf = appendField(buf, r.Target.Bytes())
	buf = appendField(buf, ethcrypto.Keccak256(r.Calldata))
	if r.AmountToReceive != nil {
		buf = appendField(buf, r.AmountToReceive.Bytes())
	} else {
		buf = appendField(buf, nil)
	}
	buf = appendUint64(buf, r.Nonce)
	buf = appendUint64(buf, uint64(r.Deadline))
	return ethcrypto.Keccak256(buf)
}

// ContractSigner mirrors the EIP-1271 contract-signature callback: a
// configured verifier contract judges whether the signature authorizes the
// digest. Implementations decide their own scheme.
type ContractSigner interface {
	IsValidSignature(digest []byte, signature []byte) bool
}

// Verifier validates signed borrow authorizations. Two signer modes are
// supported: a 65-byte recoverable ECDSA signature matched against the MPC
// address, and delegation to a configured contract signer. Either passing
// authorizes the request.
type Verifier struct {
	chainID    uint64
	poolID     string
	mpcAddress crypto.Address
	signer     ContractSigner
	signerAddr crypto.Address
	nowFn      func() int64
}

// NewVerifier binds the verifier to its chain and pool identity.
func NewVerifier(chainID uint64, poolID string, mpcAddress crypto.Address) *Verifier {
	return &Verifier{
		chainID:    chainID,
		poolID:     strings.TrimSpace(poolID),
		mpcAddress: mpcAddress,
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetMPCAddress rotates the expected ECDSA signer.
func (v *Verifier) SetMPCAddress(addr crypto.Address) {
	if v == nil {
		return
	}
	v.mpcAddress = addr
}

// MPCAddress returns the currently expected ECDSA signer.
func (v *Verifier) MPCAddress() crypto.Address {
	if v == nil {
		return crypto.Address{}
	}
	return v.mpcAddress
}

// SetContractSigner installs or clears the contract-signature delegate. The
// address is informational, surfaced in signer rotation events.
func (v *Verifier) SetContractSigner(signer ContractSigner, addr crypto.Address) {
	if v == nil {
		return
	}
	v.signer = signer
	v.signerAddr = addr
}

// ContractSignerAddress returns the address of the configured delegate.
func (v *Verifier) ContractSignerAddress() crypto.Address {
	if v == nil {
		return crypto.Address{}
	}
	return v.signerAddr
}

// SetNowFunc overrides the clock used for deadline checks, primarily for
// deterministic tests.
func (v *Verifier) SetNowFunc(now func() int64) {
	if v == nil || now == nil {
		return
	}
	v.nowFn = now
}

// Verify checks the deadline and the signature over the request as redeemed
// by caller. A signature produced for a different caller yields a different
// digest and therefore ErrInvalidSignature.
func (v *Verifier) Verify(req *BorrowRequest, caller crypto.Address, signature []byte) error {
	if v == nil {
		return errNoVerifier
	}
	if req == nil {
		return ErrInvalidLength
	}
	if req.Deadline > 0 && v.nowFn() > req.Deadline {
		return ErrExpiredSignature
	}
	digest := req.Digest(v.chainID, v.poolID, caller)
	if len(signature) == 65 && !v.mpcAddress.IsZero() {
		recovered, err := crypto.RecoverAddress(digest, signature)
		if err == nil && recovered.Equal(v.mpcAddress) {
			return nil
		}
	}
	if v.signer != nil && v.signer.IsValidSignature(digest, signature) {
		return nil
	}
	return ErrInvalidSignature
}
