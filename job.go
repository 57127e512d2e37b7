package run

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cxgntools/run/internal/cluster"
	"github.com/cxgntools/run/internal/execexec"
)

// Mode is a Job's fixed execution strategy, set at construction and never
// changed afterward.
type Mode string

const (
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
	ModeCluster    Mode = "cluster"
)

// State is a Job's position in the Created -> Running -> terminal state
// machine (spec.md §4.8). Terminal states are absorbing.
type State string

const (
	StateCreated           State = "created"
	StateRunning           State = "running"
	StateTerminatedSuccess State = "terminated_success"
	StateTerminatedFailure State = "terminated_failure"
	StateCancelled         State = "cancelled"
)

// Terminal reports whether s is one of the absorbing terminal states.
func (s State) Terminal() bool {
	switch s {
	case StateTerminatedSuccess, StateTerminatedFailure, StateCancelled:
		return true
	default:
		return false
	}
}

// Job is the central handle returned by Run, RunAsync and RunCluster. Every
// lifecycle operation (Alive, Wait, Kill, Cleanup, Out, Err, ExitStatus,
// Property) is safe to call concurrently and behaves consistently across
// all three execution modes.
type Job struct {
	mu sync.Mutex

	// id is a correlation identifier assigned once at construction, used in
	// this controlling process's log lines and carried through
	// Serialize/Deserialize. It is not passed to a background supervisor or
	// a cluster compute node.
	id uuid.UUID

	mode    Mode
	argv    []string
	comment string // commandForError: retained for diagnostics independent of argv mutation

	inSink, outSink, errSink execexec.Sink
	tieErrToOut              bool

	workingDir   string
	tempdir      string
	existingTemp bool

	raiseError   bool
	dieOnDestroy bool

	onCompletion     []Hook
	completionFired  bool
	toldToDie        bool

	background *backgroundState

	jobID          string
	queue          string
	resources      cluster.Resources
	maxClusterJobs int
	clusterEnv     *cluster.Environment

	startTime, endTime time.Time
	host               string
	exitStatus         int
	errorString        string

	state State

	properties map[string]interface{}
}

// backgroundState holds the subset of a Job's fields specific to local
// background supervision, split out so Job's zero value stays valid for
// foreground/cluster jobs that never populate it.
type backgroundState struct {
	pid     int
	handle  backgroundSupervisor
}

// backgroundSupervisor is the subset of *backend.Background a Job needs;
// named here so job.go doesn't have to import internal/backend just for
// this interface (serialize.go and run.go do the actual construction).
type backgroundSupervisor interface {
	Pid() int
	Alive() bool
	Wait() error
	Kill() error
}

// ID returns the job's correlation identifier, stable for its lifetime and
// across a serialize/deserialize round trip.
func (j *Job) ID() uuid.UUID {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.id
}

// Mode reports the job's fixed execution mode.
func (j *Job) Mode() Mode {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.mode
}

// Command returns the argv this job runs (or ran).
func (j *Job) Command() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.argv...)
}

// Tempdir returns the job's rendezvous directory.
func (j *Job) Tempdir() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tempdir
}

// JobID returns the scheduler job id (cluster mode only; empty otherwise).
func (j *Job) JobID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jobID
}

// Pid returns the supervisor process id (background mode only; zero
// otherwise).
func (j *Job) Pid() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.background == nil {
		return 0
	}
	return j.background.pid
}

// StartTime returns the job's recorded start time, the zero value if not
// yet observed.
func (j *Job) StartTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startTime
}

// EndTime returns the job's recorded end time, the zero value if not yet
// terminal.
func (j *Job) EndTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.endTime
}

// Host returns the hostname the job ran on, once observed.
func (j *Job) Host() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.host
}

// ErrorString returns the last observed failure text, empty if none.
func (j *Job) ErrorString() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errorString
}

// State returns the job's current position in the lifecycle state machine.
// It does not itself perform an observation; call Alive or Wait first to
// refresh it.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// CommandForError returns the command line retained for diagnostics.
func (j *Job) CommandForError() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.comment
}

// Property returns a caller-attached property, and whether it was set.
func (j *Job) Property(key string) (interface{}, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.properties[key]
	return v, ok
}

// SetProperty attaches a free-form property to the job.
func (j *Job) SetProperty(key string, value interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.properties == nil {
		j.properties = map[string]interface{}{}
	}
	j.properties[key] = value
}
