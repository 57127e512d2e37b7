package cluster

import (
	"fmt"
	"strconv"
	"strings"
)

// Resources is a PBS/Torque resource request: nodes, processors-per-node,
// and virtual memory (in megabytes).
type Resources struct {
	Nodes         int
	ProcsPerNode  int
	VMemMegabytes int
}

// String renders r as a qsub -l resource string: fields sorted lexically
// ("nodes" before "vmem"), undefined fields omitted, the "m" suffix applied
// to vmem.
func (r Resources) String() string {
	var parts []string
	if r.Nodes > 0 {
		nodes := fmt.Sprintf("nodes=%d", r.Nodes)
		if r.ProcsPerNode > 0 {
			nodes += fmt.Sprintf(":ppn=%d", r.ProcsPerNode)
		}
		parts = append(parts, nodes)
	}
	if r.VMemMegabytes > 0 {
		parts = append(parts, fmt.Sprintf("vmem=%dm", r.VMemMegabytes))
	}
	return strings.Join(parts, ",")
}

// ParseResourceString parses the inverse of Resources.String, as produced by
// a qsub -l flag. Job deserialization does not use it: the serialized form
// stores Resources as a struct.
func ParseResourceString(s string) (Resources, error) {
	var r Resources
	if s == "" {
		return r, nil
	}
	for _, field := range strings.Split(s, ",") {
		switch {
		case strings.HasPrefix(field, "nodes="):
			rest := strings.TrimPrefix(field, "nodes=")
			if idx := strings.Index(rest, ":ppn="); idx >= 0 {
				n, err := strconv.Atoi(rest[:idx])
				if err != nil {
					return Resources{}, fmt.Errorf("parse nodes in %q: %w", s, err)
				}
				p, err := strconv.Atoi(rest[idx+len(":ppn="):])
				if err != nil {
					return Resources{}, fmt.Errorf("parse ppn in %q: %w", s, err)
				}
				r.Nodes, r.ProcsPerNode = n, p
			} else {
				n, err := strconv.Atoi(rest)
				if err != nil {
					return Resources{}, fmt.Errorf("parse nodes in %q: %w", s, err)
				}
				r.Nodes = n
			}
		case strings.HasPrefix(field, "vmem="):
			rest := strings.TrimSuffix(strings.TrimPrefix(field, "vmem="), "m")
			v, err := strconv.Atoi(rest)
			if err != nil {
				return Resources{}, fmt.Errorf("parse vmem in %q: %w", s, err)
			}
			r.VMemMegabytes = v
		}
	}
	return r, nil
}
