package eth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRPC marks a failed call against the node: transport errors, node
	// rejections and reverted calls.
	ErrRPC = errors.New("rpc call failed")

	// ErrInsufficientFunds marks a transfer the sending account cannot pay for.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTxFailed marks a mined transaction whose receipt reports failure.
	ErrTxFailed = errors.New("transaction failed")
)

// WrapRPC tags err as an RPC failure of op.
func WrapRPC(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRPC, op, err)
}

// classify maps node errors for submitted transactions onto the sentinels.
// Nodes report balance problems only through the message text.
func classify(op string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
		return fmt.Errorf("%w: %s: %w", ErrInsufficientFunds, op, err)
	}
	return WrapRPC(op, err)
}
