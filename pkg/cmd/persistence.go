package cmd

import (
	"context"
	"log/slog"

	"github.com/colinrozzi/th-commit/pkg/persistence"
	"github.com/colinrozzi/th-commit/pkg/persistence/file"
)

// NewPersistence opens the run history store rooted at the state
// directory and verifies it is usable.
func NewPersistence(ctx context.Context, logger *slog.Logger, stateDir string) persistence.Persistence {
	fp := file.NewPersistence(stateDir)

	if err := fp.HealthCheck(ctx); err != nil {
		logger.WarnContext(ctx, "Run history directory is not ready yet, it will be created on first save",
			"state_dir", stateDir, "error", err)
	}

	return fp
}
