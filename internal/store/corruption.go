package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenWithRecovery opens the database per New, but treats corruption as
// non-fatal : if the open or an initial ping reports the
// on-disk file is corrupt, it is moved aside to
// "<path>.corrupt.<unix-ts>" and a fresh database is opened in its place.
// The caller's reconciler is expected to repopulate it from the
// filesystem on the next tick, since the mirror is defined as rebuildable.
func OpenWithRecovery(cfg Config) (*gorm.DB, error) {
	database, err := New(cfg)
	if err == nil {
		if pingErr := Ping(context.Background(), database); pingErr == nil {
			return database, nil
		} else if !looksCorrupt(pingErr) {
			return nil, pingErr
		}
	} else if !looksCorrupt(err) {
		return nil, err
	}

	quarantinePath := fmt.Sprintf("%s.corrupt.%d", cfg.Path, time.Now().Unix())
	if renameErr := os.Rename(cfg.Path, quarantinePath); renameErr != nil && !os.IsNotExist(renameErr) {
		return nil, fmt.Errorf("store: quarantine corrupt db: %w", renameErr)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(cfg.Path + suffix)
	}

	cfg.Logger.Warn("sqlite mirror corrupt, rebuilding from filesystem",
		zap.String("quarantined_to", quarantinePath))

	return New(cfg)
}

func looksCorrupt(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "corrupt")
}
