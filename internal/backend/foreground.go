// Package backend implements the three ways a command can actually be run:
// synchronously in the caller's own process (foreground), in a forked
// supervisor process tracked by PID (background), or submitted to a
// PBS/Torque queue (cluster, see internal/cluster).
package backend

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/cxgntools/run/internal/execexec"
)

// RunForeground changes to opts.WorkingDir (if set), runs the exec helper
// synchronously, and restores the prior working directory whether or not
// the command succeeded.
func RunForeground(ctx context.Context, opts Options) error {
	if opts.WorkingDir == "" {
		return execexec.Run(ctx, opts.Exec)
	}

	prev, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "get working directory")
	}
	if err := os.Chdir(opts.WorkingDir); err != nil {
		return errors.Wrapf(err, "change to working directory %s", opts.WorkingDir)
	}
	defer func() {
		if err := os.Chdir(prev); err != nil {
			logger.Errorf("restore working directory %s: %v", prev, err)
		}
	}()

	return execexec.Run(ctx, opts.Exec)
}
