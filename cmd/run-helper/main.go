// Command run-helper is the self-reexec target for background and cluster
// jobs: the library reinvokes this same binary with "supervise" (local
// background mode) or "cluster-exec" (the PBS/Torque driver script, once
// qsub schedules it on a compute node), each of which reads the spec.json
// a controller wrote into the job's rendezvous tempdir and runs it through
// the exec helper.
package main

import "os"

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd().Execute(); err != nil {
		return 1
	}
	return 0
}
