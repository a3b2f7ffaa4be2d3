package cmd

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/aa-sdk-go/core/config"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/client"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
)

var (
	sendTargets       []string
	sendValues        []string
	sendData          []string
	sendNoWait        bool
	sendNonceKey      string
	sendFeeMultiplier float64
	sendGasMultiplier float64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a user operation from the smart account",
	Long: `Build, sign and send a user operation. Repeat --to to send a batch;
--value and --data are matched to targets by position and may be shorter.

By default the command waits for the receipt. With a journal configured an
operation that times out can be resumed later with "aasdk receipt".`,
	Example: `  aasdk send --to 0xabc... --value 1000000000000000
  aasdk send --to 0xtoken --data 0xa9059cbb... --to 0xother --value 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		calls, err := parseCalls(sendTargets, sendValues, sendData)
		if err != nil {
			return err
		}
		overrides, err := sendOverrides(sendNonceKey, sendFeeMultiplier, sendGasMultiplier)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		e, err := loadEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.Close()

		p := printer(cmd.OutOrStdout())
		if sendNoWait {
			res, err := e.client.SendUserOperation(ctx, calls, overrides)
			if err != nil {
				return err
			}
			p.Println(map[string]any{"userOpHash": res.Hash, "sender": res.Request.Sender})
			return nil
		}

		receipt, err := e.client.SendAndWait(ctx, calls, overrides)
		if receipt != nil {
			p.Println(receipt)
			fmt.Fprintln(cmd.OutOrStdout(), config.TxLink(e.cfg.ChainID, receipt.Receipt.TransactionHash))
		}
		return err
	},
}

// parseCalls zips targets with values and data by position.
func parseCalls(targets, values, data []string) ([]userop.Call, error) {
	if len(targets) == 0 {
		return nil, client.ErrNoCalls
	}
	if len(values) > len(targets) || len(data) > len(targets) {
		return nil, fmt.Errorf("got %d targets but %d values and %d data", len(targets), len(values), len(data))
	}

	calls := make([]userop.Call, len(targets))
	for i, t := range targets {
		if !common.IsHexAddress(t) {
			return nil, fmt.Errorf("invalid target address %q", t)
		}
		calls[i] = userop.Call{Target: common.HexToAddress(t), Value: new(big.Int)}
		if i < len(values) && values[i] != "" {
			v, ok := new(big.Int).SetString(values[i], 0)
			if !ok || v.Sign() < 0 {
				return nil, fmt.Errorf("invalid value %q", values[i])
			}
			calls[i].Value = v
		}
		if i < len(data) && data[i] != "" {
			d, err := hexutil.Decode(data[i])
			if err != nil {
				return nil, fmt.Errorf("invalid data %q: %w", data[i], err)
			}
			calls[i].Data = d
		}
	}
	return calls, nil
}

func sendOverrides(nonceKey string, feeMultiplier, gasMultiplier float64) (*client.Overrides, error) {
	if nonceKey == "" && feeMultiplier == 0 && gasMultiplier == 0 {
		return nil, nil
	}
	o := &client.Overrides{}
	if nonceKey != "" {
		key, ok := new(big.Int).SetString(nonceKey, 0)
		if !ok || key.Sign() < 0 {
			return nil, fmt.Errorf("invalid nonce key %q", nonceKey)
		}
		o.NonceKey = key
	}
	if feeMultiplier != 0 {
		if _, err := client.MultiplyBig(big.NewInt(1), feeMultiplier); err != nil {
			return nil, err
		}
		o.MaxFeePerGas = client.Multiply(feeMultiplier)
		o.MaxPriorityFeePerGas = client.Multiply(feeMultiplier)
	}
	if gasMultiplier != 0 {
		if _, err := client.MultiplyBig(big.NewInt(1), gasMultiplier); err != nil {
			return nil, err
		}
		o.CallGasLimit = client.Multiply(gasMultiplier)
		o.VerificationGasLimit = client.Multiply(gasMultiplier)
		o.PreVerificationGas = client.Multiply(gasMultiplier)
	}
	return o, nil
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringArrayVar(&sendTargets, "to", nil, "call target, repeat for a batch")
	sendCmd.Flags().StringArrayVar(&sendValues, "value", nil, "wei sent with the call at the same position")
	sendCmd.Flags().StringArrayVar(&sendData, "data", nil, "hex call data for the call at the same position")
	sendCmd.Flags().BoolVar(&sendNoWait, "no-wait", false, "return once the bundler accepted the operation")
	sendCmd.Flags().StringVar(&sendNonceKey, "nonce-key", "", "use a parallel nonce key")
	sendCmd.Flags().Float64Var(&sendFeeMultiplier, "fee-multiplier", 0, "multiply the estimated fees, e.g. 1.2")
	sendCmd.Flags().Float64Var(&sendGasMultiplier, "gas-multiplier", 0, "multiply the estimated gas limits")
}
