// Package reconcile follows jobs of started instances on compute resources,
// and brings instances to terminal statuses.
//
// Polling an instance is split into two steps.
// When the job is found succeeded, the instance moves to registeringFiles,
// and then its outputs are registered and it finishes successfully.
// Each step changes status only by conditional updates, so running
// pollers concurrently neither registers outputs twice nor transits twice.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fnndsc/plinst/pkg/domain"
	domerr "github.com/fnndsc/plinst/pkg/domain/errors"
	"github.com/fnndsc/plinst/pkg/domain/errors/dberrors"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/domain/instance/dispatch"
	"github.com/fnndsc/plinst/pkg/domain/instance/outputs"
	xe "github.com/fnndsc/plinst/pkg/errors"
	"github.com/fnndsc/plinst/pkg/metrics"
	"github.com/fnndsc/plinst/pkg/utils/retry"
	"github.com/fnndsc/plinst/pkg/workloads/compute"
)

// how many times Cancel tries when the status moves under it.
const cancelAttempts = 3

// how Cancel waits for a task working on the instance, by default.
func defaultLockBackoff() retry.Backoff {
	return retry.Limit(50, retry.StaticBackoff(200*time.Millisecond))
}

type Config struct {
	// instances staying started or registeringFiles longer than this are stuck.
	StuckThreshold time.Duration
}

type Reconciler struct {
	config     Config
	db         kdb.Interface
	dispatcher *dispatch.Dispatcher
	registrar  *outputs.Registrar
	computes   compute.Resolver
	logger     *log.Logger
	now        func() time.Time

	lockBackoff func() retry.Backoff
}

type Option func(*Reconciler) *Reconciler

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) *Reconciler {
		r.now = now
		return r
	}
}

// WithLockBackoff replaces how Cancel waits for a task working on the instance.
//
// backoff is called once per Cancel.
func WithLockBackoff(backoff func() retry.Backoff) Option {
	return func(r *Reconciler) *Reconciler {
		r.lockBackoff = backoff
		return r
	}
}

func New(
	config Config,
	db kdb.Interface,
	dispatcher *dispatch.Dispatcher,
	registrar *outputs.Registrar,
	computes compute.Resolver,
	logger *log.Logger,
	options ...Option,
) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	r := &Reconciler{
		config:     config,
		db:         db,
		dispatcher: dispatcher,
		registrar:  registrar,
		computes:   computes,
		logger:     logger,
		now:        time.Now,

		lockBackoff: defaultLockBackoff,
	}
	for _, o := range options {
		r = o(r)
	}
	return r
}

// diagnostics makes summary and raw blobs from status.
func diagnostics(status compute.StructuredStatus) ([]byte, []byte) {
	raw, err := json.Marshal(status)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"jid":%q}`, status.JobId))
	}
	return status.Summary(), raw
}

// PollTask is a task to advance an in-progress instance one step.
//
// - started: the job status is queried. A succeeded job moves the instance to
// registeringFiles, and a failed job moves it to finishedWithError.
//
// - registeringFiles: outputs are registered. When all outputs are recorded,
// the instance finishes successfully. Otherwise it stays for the next poll.
//
// Instances in other statuses stay.
// Transport errors keep the status, and they are reported to onError.
func (r *Reconciler) PollTask(ctx context.Context, onError func(error)) kdb.Task {
	return func(pi domain.PluginInstance) (domain.StatusUpdate, error) {
		if !pi.Status.InProgress() {
			return domain.Stay(pi), nil
		}

		client, err := r.computes.Resolve(pi.ComputeResource)
		if err != nil {
			if errors.Is(err, compute.ErrUnknownComputeResource) {
				metrics.Polls.WithLabelValues("unknown_compute").Inc()
				onError(err)
				return domain.Stay(pi).WithErrorCode(domain.ComputeResourceUnknown), nil
			}
			return domain.Stay(pi), err
		}
		jid := r.dispatcher.JobId(pi.Id)

		status, err := client.Status(ctx, jid)
		lost := errors.Is(err, compute.ErrJobNotFound)
		if err != nil && !lost {
			metrics.Polls.WithLabelValues(metrics.Failed).Inc()
			onError(xe.WrapWithNote(jid, err))
			return domain.Stay(pi), nil
		}

		if pi.Status == domain.RegisteringFiles {
			if lost {
				// the job is gone, but its outputs are still in storage.
				status = compute.StructuredStatus{JobId: jid}
			}
			return r.registerStep(ctx, pi, status)
		}

		if lost {
			metrics.Polls.WithLabelValues("lost").Inc()
			r.logger.Printf("instance %d: job %s is not found on %s", pi.Id, jid, pi.ComputeResource)
			raw, _ := json.Marshal(map[string]string{"jid": jid, "message": "job is not found"})
			return domain.Become(domain.FinishedWithError).
				WithErrorCode(domain.RemoteExecutionFailed).
				WithDiagnostics(compute.StructuredStatus{}.Summary(), raw), nil
		}

		summary, raw := diagnostics(status)
		switch status.Outcome() {
		case compute.Succeeded:
			metrics.Polls.WithLabelValues(string(compute.Succeeded)).Inc()
			return domain.Become(domain.RegisteringFiles).WithDiagnostics(summary, raw), nil
		case compute.Failed:
			metrics.Polls.WithLabelValues(string(compute.Failed)).Inc()
			if stage, st, ok := status.FailedAt(); ok {
				r.logger.Printf("instance %d: job %s has failed at %s: %s", pi.Id, jid, stage, st.Message)
			}
			return domain.Become(domain.FinishedWithError).
				WithErrorCode(domain.RemoteExecutionFailed).
				WithDiagnostics(summary, raw), nil
		default:
			metrics.Polls.WithLabelValues(string(compute.Running)).Inc()
			return domain.Stay(pi).WithDiagnostics(summary, raw), nil
		}
	}
}

func (r *Reconciler) registerStep(
	ctx context.Context, pi domain.PluginInstance, status compute.StructuredStatus,
) (domain.StatusUpdate, error) {
	result, err := r.RegisterOutputs(ctx, pi, status)
	if err != nil {
		return domain.Stay(pi), err
	}
	if !result.Complete {
		metrics.Polls.WithLabelValues("partial").Inc()
		return domain.Stay(pi), nil
	}
	metrics.Polls.WithLabelValues("registered").Inc()
	return domain.Become(domain.FinishedSuccessfully), nil
}

// RegisterOutputs records outputs of the instance as its files.
//
// It is safe to call it again for the same instance.
func (r *Reconciler) RegisterOutputs(
	ctx context.Context, pi domain.PluginInstance, status compute.StructuredStatus,
) (outputs.Result, error) {
	outdir, err := r.dispatcher.OutputDir(ctx, pi.Id)
	if err != nil {
		return outputs.Result{}, err
	}
	return r.registrar.Register(ctx, pi.Id, outdir, status)
}

// Poll polls the instance until it cannot advance any more.
//
// Polling a terminal instance does nothing.
// When the instance finishes by this call, its remote job is deleted.
//
// # Returns
//
// - domain.PluginInstance: the instance after polling.
//
// - error: ErrMissing if the instance is not found, errors from database, or transport errors.
// Transport errors do not change the instance.
func (r *Reconciler) Poll(ctx context.Context, id domain.InstanceID) (domain.PluginInstance, error) {
	pi, err := r.get(ctx, id)
	if err != nil {
		return pi, err
	}
	if !pi.Status.InProgress() {
		return pi, nil
	}

	var pollErr error
	task := r.Guard(ctx, domain.Poll, r.PollTask(ctx, func(err error) { pollErr = err }))
	for pi.Status.InProgress() && pollErr == nil {
		changed, err := r.db.LockAndSetStatus(ctx, id, task)
		if err != nil {
			return pi, err
		}
		if pi, err = r.get(ctx, id); err != nil {
			return pi, err
		}
		if !changed {
			break
		}
		if pi.Status == domain.FinishedSuccessfully || pi.Status == domain.FinishedWithError {
			r.DeleteRemoteJob(ctx, pi)
			return r.get(ctx, id)
		}
	}
	return pi, pollErr
}

// Finalize deletes the remote job of the instance if it has just finished.
//
// Call this after a poll step changes the status.
func (r *Reconciler) Finalize(ctx context.Context, id domain.InstanceID) error {
	pi, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	switch pi.Status {
	case domain.FinishedSuccessfully, domain.FinishedWithError:
		r.DeleteRemoteJob(ctx, pi)
	}
	return nil
}

// Cancel cancels the instance by request of a client.
//
// Local status is changed first, and then the remote job is deleted in best effort.
// Cancelling a cancelled instance does nothing.
// While a task (dispatch or poll) is working on the instance, Cancel waits for it,
// so that the job submitted by the task is deleted.
//
// # Returns
//
// - bool: true if the instance is cancelled by this call.
//
// - error: InvalidTransitionError for finished instances, ErrMissing,
// ErrLocked when the task does not end in time, or errors from database.
func (r *Reconciler) Cancel(ctx context.Context, id domain.InstanceID) (bool, error) {
	wait := r.lockBackoff()
	for moved := 0; moved < cancelAttempts; {
		pi, err := r.get(ctx, id)
		if err != nil {
			return false, err
		}
		needed, err := domain.ValidateRequest(pi.Status, domain.Cancelled)
		if err != nil || !needed {
			return false, err
		}

		changed, err := r.db.CompareAndSetStatus(ctx, id, pi.Status, domain.Become(domain.Cancelled))
		if errors.Is(err, domerr.ErrLocked) {
			if werr := wait(ctx); werr != nil {
				return false, errors.Join(err, werr)
			}
			continue
		}
		if err != nil {
			return false, err
		}
		if !changed {
			// status has moved. look again.
			moved += 1
			continue
		}

		switch pi.Status {
		case domain.Scheduled, domain.Started, domain.RegisteringFiles:
			pi.Status = domain.Cancelled
			r.DeleteRemoteJob(ctx, pi)
		}
		return true, nil
	}
	return false, fmt.Errorf("%w: instance %d keeps changing its status", domain.ErrInvalidTransition, id)
}

// DeleteRemoteJob removes the job of the instance from its compute resource, in best effort.
//
// On failure, the instance gets error code remoteDeleteFailed so that cleanup sweeps retry.
// On success, remoteDeleteFailed is cleared.
// Instances carrying other codes keep them.
//
// Errors are logged and returned. Callers may ignore them.
func (r *Reconciler) DeleteRemoteJob(ctx context.Context, pi domain.PluginInstance) error {
	jid := r.dispatcher.JobId(pi.Id)
	err := r.deleteJob(ctx, pi)
	if err != nil {
		metrics.RemoteDeletes.WithLabelValues(metrics.Failed).Inc()
		r.logger.Printf("instance %d: cannot delete job %s: %s", pi.Id, jid, err)
		if markable(pi.ErrorCode) && pi.ErrorCode != domain.RemoteDeleteFailed {
			if serr := r.db.SetErrorCode(ctx, pi.Id, domain.RemoteDeleteFailed); serr != nil {
				return errors.Join(err, serr)
			}
		}
		return err
	}

	metrics.RemoteDeletes.WithLabelValues(metrics.Ok).Inc()
	if pi.ErrorCode == domain.RemoteDeleteFailed {
		return r.db.SetErrorCode(ctx, pi.Id, domain.NoError)
	}
	return nil
}

func (r *Reconciler) deleteJob(ctx context.Context, pi domain.PluginInstance) error {
	client, err := r.computes.Resolve(pi.ComputeResource)
	if err != nil {
		return err
	}
	// the job has gone already.
	if err := client.Delete(ctx, r.dispatcher.JobId(pi.Id)); err != nil && !errors.Is(err, compute.ErrJobNotFound) {
		return err
	}
	return nil
}

// markable is true when the code can be replaced with remoteDeleteFailed.
//
// Other codes tell why the instance has ended, and they are kept.
func markable(code domain.ErrorCode) bool {
	switch code {
	case domain.NoError, domain.RemoteDeleteFailed:
		return true
	default:
		return false
	}
}

// RecoverStuck cancels instances staying started or registeringFiles longer than the threshold.
//
// Recovered instances get error code stuckInLock, and their remote jobs are deleted in best effort.
//
// # Returns
//
// - []domain.InstanceID: instances cancelled by this call.
//
// - error
func (r *Reconciler) RecoverStuck(ctx context.Context) ([]domain.InstanceID, error) {
	before := r.now().Add(-r.config.StuckThreshold)
	ids, err := r.db.Find(ctx, domain.InstanceFindQuery{
		Status:              domain.InProgressStatuses(),
		StatusChangedBefore: &before,
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.InstanceID{}, nil
	}

	found, err := r.db.Get(ctx, ids)
	if err != nil {
		return nil, err
	}

	recovered := []domain.InstanceID{}
	for _, id := range ids {
		pi, ok := found[id]
		if !ok || !pi.Status.InProgress() {
			continue
		}
		changed, err := r.db.CompareAndSetStatus(
			ctx, id, pi.Status,
			domain.Become(domain.Cancelled).WithErrorCode(domain.StuckInLock),
		)
		if errors.Is(err, domerr.ErrLocked) {
			// a task is working on it. it is not stuck now.
			continue
		}
		if err != nil {
			return recovered, err
		}
		if !changed {
			// it has moved by itself.
			continue
		}
		metrics.StuckCancels.Inc()
		r.logger.Printf(
			"instance %d: stuck in %s since %s. cancelled",
			id, pi.Status, pi.StatusChangedAt.Format(time.RFC3339),
		)
		recovered = append(recovered, id)

		pi.Status = domain.Cancelled
		pi.ErrorCode = domain.StuckInLock
		r.DeleteRemoteJob(ctx, pi)
	}
	return recovered, nil
}

// CleanupRemote retries deleting remote jobs of terminal instances with error code remoteDeleteFailed.
//
// # Returns
//
// - int: number of jobs deleted by this call.
//
// - error: errors from database. Failures of deletion are not.
func (r *Reconciler) CleanupRemote(ctx context.Context) (int, error) {
	ids, err := r.db.Find(ctx, domain.InstanceFindQuery{
		Status:    domain.TerminalStatuses(),
		ErrorCode: []domain.ErrorCode{domain.RemoteDeleteFailed},
	})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	found, err := r.db.Get(ctx, ids)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		pi, ok := found[id]
		if !ok {
			continue
		}
		if err := r.DeleteRemoteJob(ctx, pi); err != nil {
			if ctx.Err() != nil {
				return deleted, ctx.Err()
			}
			continue
		}
		deleted += 1
	}
	return deleted, nil
}

// Guard wraps task to cancel the instance when task panics.
//
// The crashed instance gets error code taskCrashed, and its remote job is deleted in best effort.
// Panics on terminal instances leave them as they are.
func (r *Reconciler) Guard(ctx context.Context, loop domain.LoopType, task kdb.Task) kdb.Task {
	return func(pi domain.PluginInstance) (update domain.StatusUpdate, err error) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			metrics.TaskCrashes.WithLabelValues(loop.String()).Inc()
			r.logger.Printf("instance %d: %s task has crashed: %v", pi.Id, loop, p)

			if pi.Status.Terminal() {
				update, err = domain.Stay(pi), nil
				return
			}
			if pi.Status == domain.Scheduled || pi.Status.InProgress() {
				// database should not be touched here. the instance is locked by the caller.
				if derr := r.deleteJob(ctx, pi); derr != nil {
					r.logger.Printf("instance %d: cannot delete job: %s", pi.Id, derr)
				}
			}
			update, err = domain.Become(domain.Cancelled).WithErrorCode(domain.TaskCrashed), nil
		}()
		return task(pi)
	}
}

func (r *Reconciler) get(ctx context.Context, id domain.InstanceID) (domain.PluginInstance, error) {
	found, err := r.db.Get(ctx, []domain.InstanceID{id})
	if err != nil {
		return domain.PluginInstance{}, err
	}
	pi, ok := found[id]
	if !ok {
		return domain.PluginInstance{}, missing(id)
	}
	return pi, nil
}

func missing(id domain.InstanceID) error {
	return dberrors.Missing{Table: "plugin_instance", Identity: fmt.Sprintf("id = %d", id)}
}
