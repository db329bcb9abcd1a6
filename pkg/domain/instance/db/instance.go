package db

import (
	"context"

	"github.com/fnndsc/plinst/pkg/domain"
)

// Task processes an instance picked from database.
//
// The returned StatusUpdate is saved as it is, and it becomes the next state of the instance.
// Return domain.Stay(pi) to keep the status.
//
// Task should not change the status of the instance by itself.
type Task func(domain.PluginInstance) (domain.StatusUpdate, error)

type Interface interface {
	// New records a new plugin instance in status "created".
	//
	// When the plugin is fs, a new feed is created, named spec.FeedName.
	// Otherwise, the instance joins the feed of its previous.
	//
	// Args
	//
	// - context.Context
	//
	// - domain.InstanceSpec: validated instance request. Limits should be resolved.
	//
	// Returns
	//
	// - domain.InstanceID: id of the new instance.
	//
	// - error: ErrMissing when the plugin or previous is not found.
	New(ctx context.Context, spec domain.InstanceSpec) (domain.InstanceID, error)

	// Get retrieves instances.
	//
	// Instances which are not found are not contained in the result.
	Get(ctx context.Context, ids []domain.InstanceID) (map[domain.InstanceID]domain.PluginInstance, error)

	// Find returns ids of instances which the query matches, in id order.
	Find(ctx context.Context, query domain.InstanceFindQuery) ([]domain.InstanceID, error)

	// Ancestry returns the chain of instances from the root of feed to the instance,
	// following previous.
	//
	// The first item is the fs instance, and the last is the instance itself.
	//
	// Returns
	//
	// - []domain.PluginInstance: chain of instances. They do not have Parameters.
	//
	// - error: ErrMissing when the instance is not found.
	Ancestry(ctx context.Context, id domain.InstanceID) ([]domain.PluginInstance, error)

	// PickAndSetStatus picks the next instance of cursor, and changes its status
	// to what task returns.
	//
	// An instance picked is locked until task returns, and others cannot pick it.
	// When task returns the same status, the instance is not picked again
	// until cursor.Debounce passes.
	//
	// Args
	//
	// - context.Context
	//
	// - domain.InstanceCursor: where to start picking.
	//
	// - Task: a process for the instance, deciding the next status.
	//
	// Returns
	//
	// - domain.InstanceCursor: cursor pointing the picked instance.
	// If nothing is picked, it is the cursor passed.
	//
	// - bool: true only when status is changed and saved.
	//
	// - error: error from Task, or ErrInvalidTransition when task returns a
	// status not allowed.
	PickAndSetStatus(ctx context.Context, cursor domain.InstanceCursor, task Task) (domain.InstanceCursor, bool, error)

	// LockAndSetStatus does what PickAndSetStatus does, for a specified instance.
	//
	// If the instance is locked by others, task is not called and it returns (false, nil).
	//
	// Returns
	//
	// - bool: true only when status is changed and saved.
	//
	// - error: ErrMissing when the instance is not found, or errors from Task.
	LockAndSetStatus(ctx context.Context, id domain.InstanceID, task Task) (bool, error)

	// CompareAndSetStatus changes status of the instance only when its status is expected.
	//
	// Returns
	//
	// - bool: true if the status is changed. false if the current status is not expected.
	//
	// - error: ErrMissing when the instance is not found,
	// ErrInvalidTransition when expected -> update.Status is not allowed,
	// ErrLocked when the instance is in expected status but a task is working on it.
	// Stores locking rows wait for the task instead of returning ErrLocked.
	CompareAndSetStatus(ctx context.Context, id domain.InstanceID, expected domain.InstanceStatus, update domain.StatusUpdate) (bool, error)

	// SetErrorCode overwrites error code of the instance, keeping its status.
	SetErrorCode(ctx context.Context, id domain.InstanceID, code domain.ErrorCode) error

	// AddFile registers an output file of the instance.
	//
	// Returns
	//
	// - bool: true if the file is newly registered. false if it has been registered already.
	//
	// - error
	AddFile(ctx context.Context, id domain.InstanceID, path string) (bool, error)

	// Files returns output files registered for the instance, in path order.
	Files(ctx context.Context, id domain.InstanceID) ([]domain.InstanceFile, error)
}
