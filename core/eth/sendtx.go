package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SendTransfer sends value wei from authAcct to the given address as an
// EIP-1559 transaction. It returns once the node has accepted the transaction.
func SendTransfer(ctx context.Context, client Backend, authAcct AuthAcct, to common.Address, value *big.Int) (*types.Transaction, error) {
	nonce, err := client.PendingNonceAt(ctx, authAcct.Address)
	if err != nil {
		return nil, WrapRPC("eth_getTransactionCount", err)
	}

	fees, err := SuggestFees(ctx, client)
	if err != nil {
		return nil, err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, WrapRPC("eth_chainId", err)
	}

	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:      authAcct.Address,
		To:        &to,
		GasFeeCap: fees.GasFeeCap,
		GasTipCap: fees.GasTipCap,
		Value:     value,
	})
	if err != nil {
		return nil, classify("eth_estimateGas", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gasLimit,
		GasFeeCap: fees.GasFeeCap,
		GasTipCap: fees.GasTipCap,
	})

	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, authAcct.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transfer: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return nil, classify("eth_sendRawTransaction", err)
	}
	return signedTx, nil
}

// Broadcast submits an already signed transaction exactly as it is.
func Broadcast(ctx context.Context, client Backend, signedTx *types.Transaction) error {
	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return classify("eth_sendRawTransaction", err)
	}
	return nil
}

// WaitMined blocks until tx has one confirmation and checks its status.
func WaitMined(ctx context.Context, client Backend, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return nil, WrapRPC("wait for "+tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s in block %v", ErrTxFailed, tx.Hash().Hex(), receipt.BlockNumber)
	}
	return receipt, nil
}
