package cmd

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/aa-sdk-go/pkg/byte4"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/account"
)

type callView struct {
	Target common.Address
	Value  *big.Int
	Data   hexutil.Bytes
	// Decoded is nil when the selector is not known.
	Decoded *byte4.DecodedCall
}

var decodeCmd = &cobra.Command{
	Use:   "decode <callData>",
	Short: "Decode account execute/executeBatch call data",
	Long: `Decode user operation call data of a Light Account or Modular Account
into its calls. Inner calls to well known token methods are decoded too.
Needs no config or network access.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := hexutil.Decode(args[0])
		if err != nil {
			return err
		}
		views, err := describeCalls(byte4.NewRegistry(), data)
		if err != nil {
			return err
		}
		printer(cmd.OutOrStdout()).Println(views)
		return nil
	},
}

func describeCalls(registry *byte4.Registry, data []byte) ([]callView, error) {
	calls, err := account.DecodeCalls(data)
	if err != nil {
		return nil, err
	}
	views := make([]callView, len(calls))
	for i, c := range calls {
		views[i] = callView{Target: c.Target, Value: c.Value, Data: c.Data}
		if decoded, err := registry.Decode(c.Data); err == nil {
			views[i].Decoded = decoded
		}
	}
	return views, nil
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}
