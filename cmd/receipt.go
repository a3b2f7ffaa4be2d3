package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/client"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
	"github.com/AvaProtocol/aa-sdk-go/storage"
)

type receiptWaiter interface {
	WaitForUserOperationReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error)
}

var receiptCmd = &cobra.Command{
	Use:   "receipt [userOpHash]",
	Short: "Wait for the receipt of a sent user operation",
	Long: `Poll the bundler for the receipt of userOpHash. Without an argument every
operation the journal still has as pending is resumed in send order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var hashes []common.Hash
		if len(args) == 1 {
			if len(common.FromHex(args[0])) != common.HashLength {
				return fmt.Errorf("invalid user operation hash %q", args[0])
			}
			hashes = append(hashes, common.HexToHash(args[0]))
		}

		ctx := cmd.Context()
		e, err := loadEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.Close()

		if len(hashes) == 0 {
			if e.journal == nil {
				return errors.New("no journal_path configured, pass a user operation hash")
			}
			pending, err := e.journal.Pending()
			if err != nil {
				return err
			}
			for _, entry := range pending {
				hashes = append(hashes, entry.Hash)
			}
		}

		var journal stateRecorder
		if e.journal != nil {
			journal = e.journal
		}
		var errs []error
		for _, h := range hashes {
			if err := resolveReceipt(ctx, cmd.OutOrStdout(), e.client, journal, h); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	},
}

type stateRecorder interface {
	UpdateState(ctx context.Context, hash common.Hash, state string) error
}

// resolveReceipt waits for hash and moves its journal entry to confirmed or
// failed. A timeout leaves the entry pending.
func resolveReceipt(ctx context.Context, w io.Writer, waiter receiptWaiter, journal stateRecorder, hash common.Hash) error {
	receipt, err := waiter.WaitForUserOperationReceipt(ctx, hash)

	var timeout *client.UserOperationTimeoutError
	state := ""
	switch {
	case errors.As(err, &timeout):
		fmt.Fprintf(w, "%s still pending after %d polls\n", hash.Hex(), timeout.Attempts)
		return err
	case err != nil:
		state = client.StateFailed.String()
	case !receipt.Success:
		state = client.StateFailed.String()
		err = fmt.Errorf("%w: %s %s", client.ErrUserOperationReverted, hash.Hex(), receipt.Reason)
	default:
		state = client.StateConfirmed.String()
	}

	if receipt != nil {
		printer(w).Println(receipt)
	}
	if journal != nil {
		if jerr := journal.UpdateState(ctx, hash, state); jerr != nil && !errors.Is(jerr, storage.ErrNotFound) {
			return errors.Join(err, jerr)
		}
	}
	return err
}

func init() {
	rootCmd.AddCommand(receiptCmd)
}
