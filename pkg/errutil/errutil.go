package errutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/small-frappuccino/guilddash/pkg/log"
)

// HandleBackendError executes fn and logs any error as a failed backend operation.
// It returns whatever error fn returns, unmodified. Cancellations are logged at
// debug level since they follow the browser going away or the session expiring.
func HandleBackendError(operation, guildID string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}

	err := fn()
	if err == nil {
		return nil
	}

	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) {
		level = slog.LevelDebug
	}
	log.BackendLogger().Log(context.Background(), level, "Backend operation failed",
		"operation", operation, "guild_id", guildID, "error", err)

	return err
}

// HandleStoreError executes fn and logs any error as a failed audit store operation.
// It returns a wrapped error carrying the operation name.
func HandleStoreError(operation string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}

	err := fn()
	if err == nil {
		return nil
	}

	log.DatabaseLogger().Error("Store operation failed", "operation", operation, "error", err)
	return fmt.Errorf("store %s: %w", operation, err)
}
