package seedless

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/primev/seedless_approver/core/contracts"
	ee "github.com/primev/seedless_approver/core/eth"
)

// ErrAlreadyUsed is returned when the derived sender has sent a transaction
// before, which means the approval was already broadcast or replayed.
var ErrAlreadyUsed = errors.New("seedless account already used")

var errCostOverflow = errors.New("transaction cost overflows uint256")

// Request names the token to approve and the spender receiving the allowance.
type Request struct {
	Token   common.Address
	Spender common.Address
}

// Intent is every field of the approval transaction except its signature.
// The nonce is always zero.
type Intent struct {
	ChainID   *big.Int
	To        common.Address
	Data      []byte
	Gas       uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

// Prepared is an approval transaction carrying the fixed signature.
type Prepared struct {
	Tx     *types.Transaction
	Sender common.Address
	// Cost is GasFeeCap * Gas, the most the transaction can ever be charged.
	Cost *big.Int
}

// Serialized returns the raw transaction as submitted to the network.
func (p *Prepared) Serialized() ([]byte, error) {
	return p.Tx.MarshalBinary()
}

// Assemble builds the transaction described by intent, attaches sig and
// derives its sender. It performs no I/O.
func Assemble(intent Intent, sig Signature) (*Prepared, error) {
	to := intent.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   intent.ChainID,
		Nonce:     0,
		GasTipCap: intent.GasTipCap,
		GasFeeCap: intent.GasFeeCap,
		Gas:       intent.Gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      intent.Data,
	})

	signer := types.LatestSignerForChainID(intent.ChainID)
	sender, err := DeriveSender(signer.Hash(tx), sig)
	if err != nil {
		return nil, err
	}

	signedTx, err := tx.WithSignature(signer, sig.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to attach signature: %w", err)
	}

	cost, err := MaxCost(intent.GasFeeCap, intent.Gas)
	if err != nil {
		return nil, err
	}

	return &Prepared{Tx: signedTx, Sender: sender, Cost: cost}, nil
}

// MaxCost returns gasFeeCap * gas.
func MaxCost(gasFeeCap *big.Int, gas uint64) (*big.Int, error) {
	feeCap, overflow := uint256.FromBig(gasFeeCap)
	if overflow {
		return nil, errCostOverflow
	}
	cost, overflow := new(uint256.Int).MulOverflow(feeCap, uint256.NewInt(gas))
	if overflow {
		return nil, errCostOverflow
	}
	return cost.ToBig(), nil
}

// Build prepares an unlimited approval of req.Spender on req.Token using the
// chain's current gas estimate, fee data and chain id.
func Build(ctx context.Context, client ee.Backend, req Request) (*Prepared, error) {
	data, err := contracts.PackApprove(req.Spender, contracts.MaxAllowance())
	if err != nil {
		return nil, fmt.Errorf("failed to encode approve call: %w", err)
	}

	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{To: &req.Token, Data: data})
	if err != nil {
		return nil, ee.WrapRPC("eth_estimateGas", err)
	}

	fees, err := ee.SuggestFees(ctx, client)
	if err != nil {
		return nil, err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, ee.WrapRPC("eth_chainId", err)
	}

	return Assemble(Intent{
		ChainID:   chainID,
		To:        req.Token,
		Data:      data,
		Gas:       gasLimit,
		GasFeeCap: fees.GasFeeCap,
		GasTipCap: fees.GasTipCap,
	}, FixedSignature)
}

// NonceReader reads confirmed account nonces.
type NonceReader interface {
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// CheckUnused fails with ErrAlreadyUsed unless sender has never sent a
// transaction. Nothing stops the nonce from moving between this check and the
// broadcast.
func CheckUnused(ctx context.Context, client NonceReader, sender common.Address) error {
	nonce, err := client.NonceAt(ctx, sender, nil)
	if err != nil {
		return ee.WrapRPC("eth_getTransactionCount", err)
	}
	if nonce != 0 {
		return fmt.Errorf("%w: %s has nonce %d", ErrAlreadyUsed, sender.Hex(), nonce)
	}
	return nil
}
