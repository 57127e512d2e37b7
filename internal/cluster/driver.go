package cluster

import (
	"fmt"
	"strings"
)

// pbsO is the PBS environment-variable prefix the driver script mirrors
// into the job's own environment under the stripped name.
const pbsO = "PBS_O_"

// BuildDriverScript synthesizes the self-contained shell artifact submitted
// to qsub. It imports PBS_O_* scheduler variables under their final names,
// then hands off to a pre-installed run-helper binary (see DESIGN.md for
// why this port requires a pre-installed helper rather than embedding
// source, as the original library did) which reads tempdir/spec.json --
// already written by the submitter onto the shared rendezvous filesystem --
// and re-enters the exec helper against it.
func BuildDriverScript(tempdir string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# generated by run; submitted via qsub, do not edit by hand.\n")
	fmt.Fprintf(&b, "for _run_var in $(env | sed -n 's/^%s\\([A-Za-z_][A-Za-z0-9_]*\\)=.*/\\1/p'); do\n", pbsO)
	fmt.Fprintf(&b, "  eval \"export $_run_var=\\$%s$_run_var\"\n", pbsO)
	b.WriteString("done\n")
	b.WriteString("unset _run_var\n")
	fmt.Fprintf(&b, "exec run-helper cluster-exec %s\n", shellQuote(tempdir))
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
