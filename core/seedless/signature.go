package seedless

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is an (r, s, v) triple. V may be given either as a recovery id
// (0/1) or in the legacy 27/28 form.
type Signature struct {
	R common.Hash
	S common.Hash
	V byte
}

// FixedSignature is the burn signature attached to every approval. Nobody
// holds a key for the address it recovers to; the address can only ever send
// the one transaction whose hash this signature was recovered against.
var FixedSignature = Signature{
	R: common.HexToHash("0xda0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da00"),
	S: common.HexToHash("0x0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0da0"),
	V: 0x1b,
}

var ErrInvalidSignature = errors.New("invalid signature")

// RecoveryID returns v normalized to 0 or 1.
func (s Signature) RecoveryID() byte {
	if s.V >= 27 {
		return s.V - 27
	}
	return s.V
}

// Bytes returns the 65 byte [R || S || recovery id] form used by go-ethereum.
func (s Signature) Bytes() []byte {
	sig := make([]byte, crypto.SignatureLength)
	copy(sig[:32], s.R[:])
	copy(sig[32:64], s.S[:])
	sig[crypto.RecoveryIDOffset] = s.RecoveryID()
	return sig
}

// DeriveSender recovers the address that signed hash with sig.
func DeriveSender(hash common.Hash, sig Signature) (common.Address, error) {
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	if !crypto.ValidateSignatureValues(sig.RecoveryID(), r, s, true) {
		return common.Address{}, fmt.Errorf("%w: values out of range", ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(hash[:], sig.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
