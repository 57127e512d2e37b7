package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cxgntools/run/internal/reexec"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "run-helper",
		Short:         "self-reexec entry point for background and cluster job supervision",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(superviseCmd(), clusterExecCmd())
	return root
}

// superviseCmd is invoked by the background backend: it re-enters the exec
// helper in a freshly forked process so the original caller's process can
// return immediately while this one hosts the job.
func superviseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supervise <tempdir>",
		Short: "run the job described by <tempdir>/spec.json and hard-exit",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			reexec.Run(context.Background(), args[0])
		},
	}
}

// clusterExecCmd is what the qsub driver script execs on the compute node
// once the scheduler starts the job.
func clusterExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cluster-exec <tempdir>",
		Short: "run the job described by <tempdir>/spec.json on a cluster compute node",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			reexec.Run(context.Background(), args[0])
		},
	}
}
