// Package compute is the interface to remote services running plugin jobs.
package compute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when the compute resource does not know the job.
	ErrJobNotFound = errors.New("job is not found")

	// ErrUnknownComputeResource is returned by Resolver for names not configured.
	ErrUnknownComputeResource = errors.New("unknown compute resource")
)

// Stage is a named step of a remote job.
type Stage string

const (
	PushInput     Stage = "push-input"
	ComputeSubmit Stage = "compute-submit"
	ComputeReturn Stage = "compute-return"
	PullOutput    Stage = "pull-output"
	PushOutput    Stage = "push-output"
)

// Stages returns all stages in the order a job goes through them.
func Stages() []Stage {
	return []Stage{PushInput, ComputeSubmit, ComputeReturn, PullOutput, PushOutput}
}

func (s Stage) String() string {
	return string(s)
}

func AsStage(s string) (Stage, error) {
	switch st := Stage(s); st {
	case PushInput, ComputeSubmit, ComputeReturn, PullOutput, PushOutput:
		return st, nil
	default:
		return "", fmt.Errorf("'%s' is not Stage", s)
	}
}

type StageState string

const (
	Pending StageState = "pending"
	Ok      StageState = "ok"
	Error   StageState = "error"
)

type StageStatus struct {
	Status  StageState `json:"status"`
	Message string     `json:"message,omitempty"`
}

// Outcome is the decision drawn from stage statuses.
type Outcome string

const (
	Running   Outcome = "running"
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
)

// StructuredStatus is a job status reported by a compute resource.
type StructuredStatus struct {
	JobId string `json:"jid"`

	// stages not reported are pending.
	Stages map[Stage]StageStatus `json:"stages"`

	// objects pushed to storage by the job.
	//
	// nil when the compute resource does not enumerate them.
	Objects []string `json:"objects,omitempty"`

	// output of the app, if the compute resource has collected.
	Logs string `json:"logs,omitempty"`

	Info json.RawMessage `json:"info,omitempty"`
}

// Stage looks up the status of stage.
func (s StructuredStatus) Stage(stage Stage) StageStatus {
	if st, ok := s.Stages[stage]; ok {
		return st
	}
	return StageStatus{Status: Pending}
}

// FailedAt returns the first stage reporting an error.
func (s StructuredStatus) FailedAt() (Stage, StageStatus, bool) {
	for _, stage := range Stages() {
		if st := s.Stage(stage); st.Status == Error {
			return stage, st, true
		}
	}
	return "", StageStatus{}, false
}

// OutputPushed is true when the job has pushed its outputs to storage.
func (s StructuredStatus) OutputPushed() bool {
	return s.Stage(PushOutput).Status == Ok
}

func (s StructuredStatus) Outcome() Outcome {
	if _, _, failed := s.FailedAt(); failed {
		return Failed
	}
	if s.OutputPushed() {
		return Succeeded
	}
	return Running
}

// Summary is the stage statuses in JSON, to be stored as diagnostics.
func (s StructuredStatus) Summary() []byte {
	stages := map[Stage]StageStatus{}
	for _, stage := range Stages() {
		stages[stage] = s.Stage(stage)
	}
	b, err := json.Marshal(stages)
	if err != nil {
		// map of strings never fails
		panic(err)
	}
	return b
}

// JobType tells how the inputs of a job are prepared.
type JobType string

const (
	FS JobType = "fs"
	DS JobType = "ds"
	TS JobType = "ts"
)

// JobSpec is the description of a job to be submitted.
type JobSpec struct {
	JobId string `json:"jid"`

	// the command line. The first element is the executable.
	Entrypoint []string `json:"entrypoint"`
	Args       []string `json:"args"`

	Image string  `json:"image"`
	Type  JobType `json:"type"`

	// user who owns the job.
	Owner string `json:"auid"`

	NumberOfWorkers int64 `json:"number_of_workers"`

	// millicores
	CPULimit int64 `json:"cpu_limit"`

	// MiB
	MemoryLimit int64 `json:"memory_limit"`
	GPULimit    int64 `json:"gpu_limit"`

	// storage directories to be mounted as the input of the job.
	InputDirs []string `json:"input_dirs"`

	// storage directory where the outputs are pushed.
	OutputDir string `json:"output_dir"`
}

// Client talks to one compute resource.
//
// Implementations should be safe for concurrent use.
type Client interface {
	// Submit schedules a job.
	Submit(ctx context.Context, spec JobSpec) error

	// Status gets the status of the job.
	//
	// It returns ErrJobNotFound when the job is unknown.
	Status(ctx context.Context, jobId string) (StructuredStatus, error)

	// Delete removes the job and its bookkeeping.
	//
	// Deleting unknown jobs succeeds.
	Delete(ctx context.Context, jobId string) error
}

// Resolver finds Client by the name of compute resource.
type Resolver interface {
	// Resolve returns ErrUnknownComputeResource for names not configured.
	Resolve(name string) (Client, error)
}

type staticResolver map[string]Client

// NewResolver makes Resolver from name to Client mapping.
func NewResolver(clients map[string]Client) Resolver {
	r := staticResolver{}
	for name, c := range clients {
		r[name] = c
	}
	return r
}

func (r staticResolver) Resolve(name string) (Client, error) {
	c, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComputeResource, name)
	}
	return c, nil
}
