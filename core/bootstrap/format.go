package bootstrap

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatEther renders wei as a decimal ether amount without rounding.
func FormatEther(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -18).String()
}
