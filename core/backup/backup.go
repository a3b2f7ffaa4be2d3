// Package backup snapshots and restores the user operation journal.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AvaProtocol/aa-sdk-go/pkg/logger"
	"github.com/AvaProtocol/aa-sdk-go/storage"
)

type Service struct {
	logger    logger.Logger
	db        storage.Storage
	backupDir string
	now       func() time.Time
}

func NewService(log logger.Logger, db storage.Storage, backupDir string) *Service {
	return &Service{
		logger:    logger.EnsureLogger(log),
		db:        db,
		backupDir: backupDir,
		now:       time.Now,
	}
}

// PerformBackup writes a full backup to <backupDir>/<timestamp>/journal.bak
// and returns its path.
func (s *Service) PerformBackup(ctx context.Context) (string, error) {
	backupPath := filepath.Join(s.backupDir, s.now().UTC().Format("06-01-02-15-04-05"))
	if err := os.MkdirAll(backupPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	backupFile := filepath.Join(backupPath, "journal.bak")
	f, err := os.Create(backupFile)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	s.logger.Info("running journal backup", "file", backupFile)
	if _, err := s.db.Backup(ctx, f, 0); err != nil {
		return "", fmt.Errorf("backup operation failed: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", err
	}
	return backupFile, nil
}

// Restore loads a file written by PerformBackup into the journal db.
// Existing keys are overwritten.
func (s *Service) Restore(ctx context.Context, backupFile string) error {
	f, err := os.Open(backupFile)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	s.logger.Info("restoring journal", "file", backupFile, "db", s.db.DbPath())
	if err := s.db.Load(ctx, f); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	return nil
}
