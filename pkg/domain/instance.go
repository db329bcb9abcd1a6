package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fnndsc/plinst/pkg/utils/cmp"
)

type InstanceID int64

func (id InstanceID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

type FeedID int64

type InstanceStatus string

const (
	// The instance is recorded, but not evaluated yet.
	Created InstanceStatus = "created"

	// The instance waits for its previous/ancestor instances.
	Waiting InstanceStatus = "waiting"

	// Dependencies are satisfied. The job is going to be submitted.
	Scheduled InstanceStatus = "scheduled"

	// The compute resource has accepted the job.
	Started InstanceStatus = "started"

	// The job has pushed its outputs, and they are being recorded as files.
	//
	// This is not requested by clients. Pollers pass through it.
	RegisteringFiles InstanceStatus = "registeringFiles"

	// The job has done, and its outputs are registered.
	FinishedSuccessfully InstanceStatus = "finishedSuccessfully"

	// The job has failed at the compute resource.
	FinishedWithError InstanceStatus = "finishedWithError"

	// The instance is cancelled, by request, by failed dependencies or by recovery.
	Cancelled InstanceStatus = "cancelled"
)

func (s InstanceStatus) String() string {
	return string(s)
}

// Terminal statuses never change any more.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case FinishedSuccessfully, FinishedWithError, Cancelled:
		return true
	default:
		return false
	}
}

// InProgress statuses hold remote work.
// Instances staying in them too long are considered stuck.
func (s InstanceStatus) InProgress() bool {
	switch s {
	case Started, RegisteringFiles:
		return true
	default:
		return false
	}
}

// Failed statuses make dependents unrunnable.
func (s InstanceStatus) Failed() bool {
	switch s {
	case FinishedWithError, Cancelled:
		return true
	default:
		return false
	}
}

func TerminalStatuses() []InstanceStatus {
	return []InstanceStatus{FinishedSuccessfully, FinishedWithError, Cancelled}
}

func InProgressStatuses() []InstanceStatus {
	return []InstanceStatus{Started, RegisteringFiles}
}

func AsInstanceStatus(status string) (InstanceStatus, error) {
	switch s := InstanceStatus(status); s {
	case Created, Waiting, Scheduled, Started, RegisteringFiles,
		FinishedSuccessfully, FinishedWithError, Cancelled:
		return s, nil
	default:
		return "", fmt.Errorf("'%s' is not InstanceStatus", status)
	}
}

// ErrorCode is a diagnostic code set on instances.
//
// Empty ErrorCode means "no error".
type ErrorCode string

const (
	NoError ErrorCode = ""

	// The instance was left in an in-progress status too long.
	StuckInLock ErrorCode = "stuckInLock"

	// Deleting the remote job has failed. Cleanup sweep retries it.
	RemoteDeleteFailed ErrorCode = "remoteDeleteFailed"

	// A task processing the instance has crashed.
	TaskCrashed ErrorCode = "taskCrashed"

	// The job has failed at the compute resource.
	RemoteExecutionFailed ErrorCode = "remoteExecutionFailed"

	// The instance refers a compute resource which is not configured.
	ComputeResourceUnknown ErrorCode = "computeResourceUnknown"

	// The job cannot be built from the instance (bad image, unresolvable inputs).
	InvalidJob ErrorCode = "invalidJob"
)

func (c ErrorCode) String() string {
	return string(c)
}

// ResourceLimits is a resolved resource request for a job.
type ResourceLimits struct {
	// CPU in millicores.
	CPU int64

	// Memory in MiB.
	Memory int64

	Workers int64

	GPU int64
}

type Feed struct {
	Id    FeedID
	Name  string
	Owner string
}

// ParameterValue is a value bound to a declared plugin parameter.
type ParameterValue struct {
	Spec  ParameterSpec
	Value string
}

type PluginInstance struct {
	Id     InstanceID
	Title  string
	Status InstanceStatus

	// when Status has been entered.
	StatusChangedAt time.Time

	StartDate time.Time

	// set when the instance becomes terminal.
	EndDate *time.Time

	Owner string

	// name of the compute resource the job runs on.
	ComputeResource string

	Limits ResourceLimits

	ErrorCode ErrorCode

	// Diagnostic blobs reported by the compute resource, uncompressed.
	Summary []byte
	Raw     []byte

	Plugin Plugin

	// nil iff Plugin.Type is fs.
	Previous *InstanceID

	Feed Feed

	Parameters []ParameterValue
}

// Parameter returns the value bound to the parameter named name.
func (pi PluginInstance) Parameter(name string) (ParameterValue, bool) {
	for _, p := range pi.Parameters {
		if p.Spec.Name == name {
			return p, true
		}
	}
	return ParameterValue{}, false
}

func (pi PluginInstance) String() string {
	return fmt.Sprintf("%s_%d (%s)", pi.Plugin.Name, pi.Id, pi.Status)
}

// InstanceFile is an output file registered for an instance.
type InstanceFile struct {
	Id           int64
	InstanceId   InstanceID
	Path         string
	CreationDate time.Time
}

// InstanceSpec is what the creation API passes to persist a new instance.
type InstanceSpec struct {
	PluginId        PluginID
	Title           string
	Owner           string
	Previous        *InstanceID
	ComputeResource string
	Limits          ResourceLimits

	// Parameter name to value. Names should be declared by the plugin.
	Parameters map[string]string

	// For fs instances, a feed with this name is created.
	FeedName string
}

// StatusUpdate is the result of a task picking an instance.
type StatusUpdate struct {
	Status InstanceStatus

	// nil keeps the current code. Point NoError to clear it.
	ErrorCode *ErrorCode

	// nil keeps current blobs.
	Summary []byte
	Raw     []byte
}

// Stay keeps the status of pi.
func Stay(pi PluginInstance) StatusUpdate {
	return StatusUpdate{Status: pi.Status}
}

// Become changes status to s.
func Become(s InstanceStatus) StatusUpdate {
	return StatusUpdate{Status: s}
}

func (u StatusUpdate) WithErrorCode(code ErrorCode) StatusUpdate {
	u.ErrorCode = &code
	return u
}

func (u StatusUpdate) WithDiagnostics(summary, raw []byte) StatusUpdate {
	u.Summary = summary
	u.Raw = raw
	return u
}

// InstanceCursor walks instances one by one in id order.
type InstanceCursor struct {
	// Id of instance which is picked at last time
	Head InstanceID

	// interval to pick the same instance again when its status is not changed.
	Debounce time.Duration

	// status of instance to be picked
	Status []InstanceStatus
}

func (c InstanceCursor) Equal(other InstanceCursor) bool {
	return c.Head == other.Head &&
		c.Debounce == other.Debounce &&
		cmp.SliceContentEq(c.Status, other.Status)
}

// InstanceFindQuery matches instances when all of its dimensions match.
type InstanceFindQuery struct {
	// If it is nil or empty, it means "match any".
	Status []InstanceStatus

	// If it is nil or empty, it means "match any".
	ErrorCode []ErrorCode

	// match if the instance has entered its status before this time.
	StatusChangedBefore *time.Time

	// match if the instance is the direct dependent of this.
	Previous *InstanceID
}
