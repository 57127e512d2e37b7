// Package run unifies three ways of executing an external command --
// foreground (synchronous), background (local supervisor process), and
// cluster (PBS/Torque submission) -- behind a single Job handle. Every mode
// shares the same lifecycle operations: Alive, Wait, Kill, Cleanup, Out,
// Err, ExitStatus, and completion hooks that fire exactly once per job.
//
// Construct a Job with Run, RunAsync or RunCluster, each of which take a
// command and a set of functional Options.
package run

import (
	"os"

	"github.com/cxgntools/run/internal/log"
)

var logger = log.New(os.Stdout, "run")
