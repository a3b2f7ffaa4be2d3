package bundler

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

// gasEstimation is the wire shape of eth_estimateUserOperationGas. Some
// bundlers answer with decimal numbers instead of quantities.
type gasEstimation struct {
	PreVerificationGas            *math.HexOrDecimal256 `json:"preVerificationGas"`
	VerificationGasLimit          *math.HexOrDecimal256 `json:"verificationGasLimit"`
	CallGasLimit                  *math.HexOrDecimal256 `json:"callGasLimit"`
	PaymasterVerificationGasLimit *math.HexOrDecimal256 `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *math.HexOrDecimal256 `json:"paymasterPostOpGasLimit"`

	// older v0.6 bundlers
	VerificationGas *math.HexOrDecimal256 `json:"verificationGas"`
}

func (g gasEstimation) toGasEstimate() (*userop.GasEstimate, error) {
	verification := g.VerificationGasLimit
	if verification == nil {
		verification = g.VerificationGas
	}
	if g.PreVerificationGas == nil || verification == nil || g.CallGasLimit == nil {
		return nil, errors.New("gas estimation response is missing fields")
	}
	estimate := &userop.GasEstimate{
		PreVerificationGas:   (*big.Int)(g.PreVerificationGas),
		VerificationGasLimit: (*big.Int)(verification),
		CallGasLimit:         (*big.Int)(g.CallGasLimit),
	}
	if g.PaymasterVerificationGasLimit != nil {
		estimate.PaymasterVerificationGasLimit = (*big.Int)(g.PaymasterVerificationGasLimit)
	}
	if g.PaymasterPostOpGasLimit != nil {
		estimate.PaymasterPostOpGasLimit = (*big.Int)(g.PaymasterPostOpGasLimit)
	}
	return estimate, nil
}
