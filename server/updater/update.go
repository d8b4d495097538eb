package updater

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/justdownloadit/justdownloadit/server/config"
)

// UpdateExecutable updates the resolver binary through its builtin
// self-update.
func UpdateExecutable(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, config.Instance().Paths.ResolverPath, "-U")

	out, err := cmd.CombinedOutput()
	if msg := strings.TrimSpace(string(out)); msg != "" {
		slog.Info("resolver update", slog.String("output", msg))
	}

	return err
}
