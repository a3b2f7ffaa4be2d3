package cmd

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

var signWith6492 bool

var signMessageCmd = &cobra.Command{
	Use:   "sign-message <message>",
	Short: "Sign a message as the smart account (ERC-1271)",
	Long: `Produce a signature the account's isValidSignature accepts for the
EIP-191 hash of message. A 0x prefixed message is signed as raw bytes.

With --6492 the signature is wrapped in ERC-6492 while the account is not yet
deployed, so verifiers can simulate the deployment.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := messageBytes(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		e, err := loadEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		var sig []byte
		if signWith6492 {
			sig, err = e.account.SignMessageWith6492(ctx, msg)
		} else {
			sig, err = e.account.SignMessage(ctx, msg)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(sig))
		return nil
	},
}

func messageBytes(arg string) ([]byte, error) {
	if strings.HasPrefix(arg, "0x") {
		return hexutil.Decode(arg)
	}
	return []byte(arg), nil
}

func init() {
	rootCmd.AddCommand(signMessageCmd)
	signMessageCmd.Flags().BoolVar(&signWith6492, "6492", false, "wrap the signature in ERC-6492 when undeployed")
}
