package run

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cxgntools/run/internal/backend"
	"github.com/cxgntools/run/internal/cluster"
	"github.com/cxgntools/run/internal/execexec"
	"github.com/cxgntools/run/internal/rendezvous"
)

// serialized is the stable, JSON-encodable projection of a Job's state.
// In-memory buffer sinks and live streams are not serializable (spec.md
// §6): only their resolved filesystem paths survive a round trip, which is
// sufficient to resume observation -- the rendezvous directory, not the
// sink, is what actually carries output across a process restart.
type serialized struct {
	ID              uuid.UUID
	Mode            Mode
	Argv            []string
	CommandForError string
	WorkingDir      string
	Tempdir         string
	ExistingTemp    bool
	RaiseError      bool
	DieOnDestroy    bool
	ToldToDie       bool

	Pid            int
	JobID          string
	Queue          string
	Resources      cluster.Resources
	MaxClusterJobs int

	StartTime   time.Time
	EndTime     time.Time
	Host        string
	ExitStatus  int
	ErrorString string
	State       State

	OutPath, ErrPath string

	Properties map[string]interface{}
}

// Serialize captures the job's state into a stable byte representation a
// successor process can resume supervision from via Deserialize.
func (j *Job) Serialize() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := serialized{
		ID:              j.id,
		Mode:            j.mode,
		Argv:            j.argv,
		CommandForError: j.comment,
		WorkingDir:      j.workingDir,
		Tempdir:         j.tempdir,
		ExistingTemp:    j.existingTemp,
		RaiseError:      j.raiseError,
		DieOnDestroy:    j.dieOnDestroy,
		ToldToDie:       j.toldToDie,
		JobID:           j.jobID,
		Queue:           j.queue,
		Resources:       j.resources,
		MaxClusterJobs:  j.maxClusterJobs,
		StartTime:       j.startTime,
		EndTime:         j.endTime,
		Host:            j.host,
		ExitStatus:      j.exitStatus,
		ErrorString:     j.errorString,
		State:           j.state,
		OutPath:         j.resolvedPathLocked(j.outSink, rendezvous.OutFile),
		ErrPath:         j.resolvedPathLocked(j.errSink, rendezvous.ErrFile),
		Properties:      j.properties,
	}
	if j.background != nil {
		s.Pid = j.background.pid
	}
	return json.MarshalIndent(s, "", "  ")
}

// DeserializeOption configures Deserialize.
type DeserializeOption func(*deserializeConfig)

type deserializeConfig struct {
	clusterEnv *cluster.Environment
}

// WithDeserializeClusterEnvironment supplies the cluster.Environment a
// resumed cluster Job polls through. Defaults to cluster.Default().
func WithDeserializeClusterEnvironment(env *cluster.Environment) DeserializeOption {
	return func(c *deserializeConfig) { c.clusterEnv = env }
}

// Deserialize reconstructs a Job from bytes produced by Serialize, in a new
// controlling process. Observation calls (Alive, Wait, ExitStatus, ...)
// reflect the same state the original process would have observed: if the
// job already reached a terminal state before serialization, that state is
// returned directly; if the job's tempdir has since been removed, the
// previously recorded terminal status is all that's available and is
// returned as-is (spec.md §6).
func Deserialize(b []byte, opts ...DeserializeOption) (*Job, error) {
	var s serialized
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "unmarshal job state")
	}

	cfg := &deserializeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	j := &Job{
		id:             s.ID,
		mode:           s.Mode,
		argv:           s.Argv,
		comment:        s.CommandForError,
		outSink:        sinkForPath(s.OutPath),
		errSink:        sinkForPath(s.ErrPath),
		workingDir:     s.WorkingDir,
		tempdir:        s.Tempdir,
		existingTemp:   s.ExistingTemp,
		raiseError:     s.RaiseError,
		dieOnDestroy:   s.DieOnDestroy,
		toldToDie:      s.ToldToDie,
		jobID:          s.JobID,
		queue:          s.Queue,
		resources:      s.Resources,
		maxClusterJobs: s.MaxClusterJobs,
		startTime:      s.StartTime,
		endTime:        s.EndTime,
		host:           s.Host,
		exitStatus:     s.ExitStatus,
		errorString:    s.ErrorString,
		state:          s.State,
		properties:     s.Properties,
	}
	if j.properties == nil {
		j.properties = map[string]interface{}{}
	}

	switch j.mode {
	case ModeBackground:
		if s.Pid != 0 {
			j.background = &backgroundState{pid: s.Pid, handle: backend.Attach(s.Pid)}
		}
	case ModeCluster:
		j.clusterEnv = cfg.clusterEnv
		if j.clusterEnv == nil {
			j.clusterEnv = cluster.Default()
		}
	}

	return j, nil
}

func sinkForPath(path string) execexec.Sink {
	if path == "" {
		return execexec.Absent()
	}
	return execexec.FromPath(path)
}
