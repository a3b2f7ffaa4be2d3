package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/aa-sdk-go/core/config"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/account"
	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/client"
	"github.com/AvaProtocol/aa-sdk-go/storage"
)

// rootCmd represents the base command when called without any subcommands
var (
	configPath = "config/aa.yaml"
	rootCmd    = &cobra.Command{
		Use:   "aasdk",
		Short: "ERC-4337 smart account CLI",
		Long: `Build, sign and send ERC-4337 user operations from a smart account
described in a yaml config file.

Such as "aasdk address" or "aasdk send --to 0x... --value 1000" and so on
`,
		SilenceUsage: true,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "Path to config file")
}

// env is what a command needs once the config is loaded.
type env struct {
	cfg     *config.Config
	account *account.Account
	client  *client.Client
	db      storage.Storage
	journal *storage.Journal
}

func (e *env) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	e.cfg.Close()
}

// loadEnv reads the config, builds the account and, when withClient is set,
// the client plus the journal and metrics server.
func loadEnv(ctx context.Context, withClient bool) (*env, error) {
	cfg, err := config.NewConfig(ctx, configPath)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg}

	if e.account, err = cfg.NewAccount(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("cannot build account: %w", err)
	}
	if !withClient {
		return e, nil
	}

	var journal client.Journal
	if cfg.JournalPath != "" {
		if e.db, err = storage.NewWithPath(cfg.JournalPath); err != nil {
			e.Close()
			return nil, fmt.Errorf("cannot open journal %s: %w", cfg.JournalPath, err)
		}
		e.journal = storage.NewJournal(e.db)
		journal = e.journal
	}

	if cfg.EigenMetrics != nil {
		errC := cfg.EigenMetrics.Start(ctx, cfg.Registry)
		go func() {
			if err := <-errC; err != nil {
				cfg.Logger.Error("metrics server stopped", "err", err)
			}
		}()
	}

	if e.client, err = cfg.NewClient(e.account, journal); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func printer(w io.Writer) *pp.PrettyPrinter {
	p := pp.New()
	p.SetOutput(w)
	p.SetColoringEnabled(false)
	return p
}
