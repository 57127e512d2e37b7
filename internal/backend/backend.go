package backend

import (
	"os"

	"github.com/cxgntools/run/internal/execexec"
	"github.com/cxgntools/run/internal/log"
)

var logger = log.New(os.Stdout, "backend")

// Options bundles what a backend needs to run a command: the exec helper's
// own options plus the working directory a backend changes into (or passes
// along to its supervisor) before running them.
type Options struct {
	Exec       execexec.Options
	WorkingDir string
}
