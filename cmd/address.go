package cmd

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

type addressView struct {
	Address     common.Address
	Type        string
	Version     string
	EntryPoint  common.Address
	Signer      common.Address
	Deployed    bool
	Factory     common.Address
	FactoryData hexutil.Bytes
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the smart account address and deployment state",
	Long: `Compute the counterfactual address of the configured account and check
whether it already has code on chain. The factory call is printed while the
account is not deployed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		addr, err := e.account.GetAddress(ctx)
		if err != nil {
			return err
		}
		deployed, err := e.account.IsAccountDeployed(ctx)
		if err != nil {
			return err
		}

		view := addressView{
			Address:    addr,
			Type:       string(e.account.Source()),
			Version:    e.account.Version(),
			EntryPoint: e.account.EntryPoint().Address,
			Signer:     e.cfg.Signer.Address(),
			Deployed:   deployed,
		}
		if !deployed {
			fa := e.account.FactoryArgs()
			view.Factory = fa.Factory
			view.FactoryData = fa.FactoryData
		}
		printer(cmd.OutOrStdout()).Println(view)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
