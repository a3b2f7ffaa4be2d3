package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/aa-sdk-go/core/backup"
	"github.com/AvaProtocol/aa-sdk-go/core/config"
	"github.com/AvaProtocol/aa-sdk-go/pkg/logger"
	"github.com/AvaProtocol/aa-sdk-go/storage"
)

var (
	journalState     string
	journalBackupDir string
	journalOlderThan time.Duration
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect, back up and restore the user operation journal",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled user operations",
	Long:  `List journaled user operations. Without --state only pending ones are shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJournalDB(func(_ logger.Logger, db storage.Storage) error {
			j := storage.NewJournal(db)
			var (
				entries []*storage.JournalEntry
				err     error
			)
			if journalState == "" {
				entries, err = j.Pending()
			} else {
				entries, err = j.ListByState(journalState)
			}
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s nonce=%s %s\n",
					e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), e.Hash.Hex(), e.Sender.Hex(), e.Nonce, e.State)
			}
			return nil
		})
	},
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count journaled user operations per state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJournalDB(func(_ logger.Logger, db storage.Storage) error {
			return printCounts(cmd.OutOrStdout(), storage.NewJournal(db))
		})
	},
}

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old confirmed and failed entries and compact the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if journalOlderThan <= 0 {
			return errors.New("--older-than must be positive")
		}
		return withJournalDB(func(log logger.Logger, db storage.Storage) error {
			cutoff := time.Now().Add(-journalOlderThan)
			n, err := storage.NewJournal(db).Prune(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			log.Info("pruned journal", "entries", n, "before", cutoff.Format(time.RFC3339))
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", n)
			return nil
		})
	},
}

func printCounts(w io.Writer, j *storage.Journal) error {
	counts, err := j.Counts()
	if err != nil {
		return err
	}
	for _, state := range storage.States {
		fmt.Fprintf(w, "%-20s %d\n", state, counts[state])
	}
	return nil
}

var journalBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a full backup of the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJournalDB(func(log logger.Logger, db storage.Storage) error {
			file, err := backup.NewService(log, db, journalBackupDir).PerformBackup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), file)
			return nil
		})
	},
}

var journalRestoreCmd = &cobra.Command{
	Use:   "restore <backupFile>",
	Short: "Load a journal backup into the configured journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJournalDB(func(log logger.Logger, db storage.Storage) error {
			return backup.NewService(log, db, "").Restore(cmd.Context(), args[0])
		})
	},
}

// withJournalDB opens journal_path from the config without dialing any
// rpc endpoint.
func withJournalDB(fn func(logger.Logger, storage.Storage) error) error {
	raw, err := config.ReadConfigRaw(configPath)
	if err != nil {
		return err
	}
	if raw.JournalPath == "" {
		return errors.New("no journal_path configured")
	}
	log, err := logger.New(raw.Environment)
	if err != nil {
		return err
	}

	db, err := storage.NewWithPath(raw.JournalPath)
	if err != nil {
		return fmt.Errorf("cannot open journal %s: %w", raw.JournalPath, err)
	}
	defer db.Close()
	return fn(log, db)
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalListCmd, journalStatsCmd, journalPruneCmd, journalBackupCmd, journalRestoreCmd)

	journalListCmd.Flags().StringVar(&journalState, "state", "", "only entries in this state, e.g. confirmed")
	journalBackupCmd.Flags().StringVar(&journalBackupDir, "dir", "backup", "directory backups are written under")
	journalPruneCmd.Flags().DurationVar(&journalOlderThan, "older-than", 30*24*time.Hour, "prune entries last updated longer ago than this")
}
