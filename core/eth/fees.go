package eth

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// FeeData holds the EIP-1559 fee caps used for every transaction in a run.
type FeeData struct {
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

var errNoBaseFee = errors.New("latest block has no base fee")

// defaultTipCap is used when the node cannot suggest a priority fee.
var defaultTipCap = big.NewInt(params.GWei)

// SuggestFees returns the node's priority fee suggestion and a fee cap of
// twice the latest base fee plus that priority fee.
func SuggestFees(ctx context.Context, client Backend) (FeeData, error) {
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeData{}, WrapRPC("eth_getBlockByNumber", err)
	}
	if header.BaseFee == nil {
		return FeeData{}, errNoBaseFee
	}

	gasTipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		gasTipCap = new(big.Int).Set(defaultTipCap)
	}

	gasFeeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	gasFeeCap.Add(gasFeeCap, gasTipCap)

	return FeeData{GasFeeCap: gasFeeCap, GasTipCap: gasTipCap}, nil
}
