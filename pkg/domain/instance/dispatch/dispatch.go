// Package dispatch builds remote jobs from plugin instances, and submits them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/fnndsc/plinst/pkg/domain"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	xe "github.com/fnndsc/plinst/pkg/errors"
	"github.com/fnndsc/plinst/pkg/metrics"
	"github.com/fnndsc/plinst/pkg/workloads/compute"
	"github.com/fnndsc/plinst/pkg/workloads/storage"
	"github.com/google/go-containerregistry/pkg/name"
)

// Mount points of inputs and outputs in job containers.
const (
	IncomingMount = "/share/incoming"
	OutgoingMount = "/share/outgoing"
)

const placeholderObject = "squashEmptyDir.txt"

var (
	// ErrInvalidJob is returned when an instance cannot be a job.
	ErrInvalidJob = errors.New("invalid job")
)

type Config struct {
	// prefix of job ids. Job ids are prefix + instance id.
	JobIdPrefix string

	// storage directory where synthetic input placeholders are put.
	PlaceholderRoot string
}

// JobId derives the job id of the instance.
func JobId(prefix string, id domain.InstanceID) string {
	return prefix + id.String()
}

// OutputDir is the storage directory for outputs of the last instance of ancestry.
//
// ancestry should be what kdb.Interface.Ancestry returns: root first.
// The path is "<owner>/feed_<feed id>/<root name>_<root id>/.../<name>_<id>/data".
func OutputDir(ancestry []domain.PluginInstance) (string, error) {
	if len(ancestry) == 0 {
		return "", fmt.Errorf("%w: empty ancestry", ErrInvalidJob)
	}
	if ancestry[0].Plugin.Type != domain.FS {
		return "", fmt.Errorf(
			"%w: ancestry of instance %d does not start with fs",
			ErrInvalidJob, ancestry[len(ancestry)-1].Id,
		)
	}
	last := ancestry[len(ancestry)-1]

	elems := make([]string, 0, len(ancestry)+3)
	elems = append(elems, last.Owner, fmt.Sprintf("feed_%d", last.Feed.Id))
	for _, pi := range ancestry {
		elems = append(elems, fmt.Sprintf("%s_%d", pi.Plugin.Name, pi.Id))
	}
	elems = append(elems, "data")
	return strings.Join(elems, "/"), nil
}

// SyntheticInputPlaceholder is an input directory made for fs jobs without path parameters.
//
// The directory has only a small descriptive object, so the job cannot see unrelated data.
type SyntheticInputPlaceholder struct {
	Dir string
}

func (p SyntheticInputPlaceholder) object() string {
	return p.Dir + "/" + placeholderObject
}

// Inputs are storage directories given to a job.
type Inputs struct {
	Dirs []string

	// non nil if Dirs is the placeholder.
	Placeholder *SyntheticInputPlaceholder
}

// CommandLine builds entrypoint and args of the job for the instance.
//
// Values of path parameters are replaced with IncomingMount.
// Real storage paths are passed as input directories.
func CommandLine(pi domain.PluginInstance) ([]string, []string, error) {
	if pi.Plugin.SelfExec == "" {
		return nil, nil, fmt.Errorf("%w: plugin %s has no executable", ErrInvalidJob, pi.Plugin.Name)
	}
	entrypoint := []string{}
	if pi.Plugin.ExecShell != "" {
		entrypoint = append(entrypoint, pi.Plugin.ExecShell)
	}
	entrypoint = append(entrypoint, path.Join(pi.Plugin.SelfPath, pi.Plugin.SelfExec))

	bound := map[string]domain.ParameterValue{}
	for _, p := range pi.Parameters {
		bound[p.Spec.Name] = p
	}

	args := []string{}
	for _, ps := range pi.Plugin.Parameters {
		p, ok := bound[ps.Name]
		if !ok {
			continue
		}
		switch {
		case ps.Type.IsPath():
			args = append(args, ps.Flag, IncomingMount)
		case ps.Action == "store_true":
			if strings.EqualFold(p.Value, "true") {
				args = append(args, ps.Flag)
			}
		case ps.Action == "store_false":
			if strings.EqualFold(p.Value, "false") {
				args = append(args, ps.Flag)
			}
		default:
			args = append(args, ps.Flag, p.Value)
		}
	}

	switch pi.Plugin.Type {
	case domain.FS:
		args = append(args, OutgoingMount)
	case domain.DS, domain.TS:
		args = append(args, IncomingMount, OutgoingMount)
	default:
		return nil, nil, fmt.Errorf("%w: unknown plugin type %q", ErrInvalidJob, pi.Plugin.Type)
	}
	return entrypoint, args, nil
}

// Dispatcher submits jobs of scheduled instances.
type Dispatcher struct {
	config   Config
	db       kdb.Interface
	store    storage.Store
	computes compute.Resolver
	logger   *log.Logger
}

func New(
	config Config,
	db kdb.Interface,
	store storage.Store,
	computes compute.Resolver,
	logger *log.Logger,
) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		config: config, db: db, store: store, computes: computes, logger: logger,
	}
}

func (d *Dispatcher) JobId(id domain.InstanceID) string {
	return JobId(d.config.JobIdPrefix, id)
}

// OutputDir is the storage directory for outputs of the instance.
func (d *Dispatcher) OutputDir(ctx context.Context, id domain.InstanceID) (string, error) {
	ancestry, err := d.db.Ancestry(ctx, id)
	if err != nil {
		return "", err
	}
	return OutputDir(ancestry)
}

// Placeholder makes sure the synthetic input placeholder of the instance exists.
//
// Calling twice is fine. The existing placeholder is kept as is.
func (d *Dispatcher) Placeholder(ctx context.Context, pi domain.PluginInstance) (SyntheticInputPlaceholder, error) {
	p := SyntheticInputPlaceholder{
		Dir: path.Join(d.config.PlaceholderRoot, pi.Owner, fmt.Sprintf("instance_%d", pi.Id)),
	}
	exists, err := d.store.Exists(ctx, p.object())
	if err != nil {
		return p, err
	}
	if exists {
		return p, nil
	}
	content := fmt.Sprintf(
		"Placeholder input for plugin instance %d (%s), which has no input paths.\n",
		pi.Id, pi.Plugin.Name,
	)
	if err := d.store.Put(ctx, p.object(), []byte(content), "text/plain"); err != nil {
		return p, err
	}
	return p, nil
}

// Inputs resolves input directories of the instance.
//
// fs instances get values of their path parameters, or the placeholder if none.
// ds instances get the output directory of the previous.
// ts instances get output directories of all upstreams.
func (d *Dispatcher) Inputs(ctx context.Context, pi domain.PluginInstance) (Inputs, error) {
	deps, err := pi.Dependencies()
	if err != nil {
		return Inputs{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	switch deps.Type {
	case domain.FS:
		dirs := []string{}
		for _, p := range pi.Parameters {
			if !p.Spec.Type.IsPath() {
				continue
			}
			for _, v := range strings.Split(p.Value, ",") {
				if v = strings.Trim(strings.TrimSpace(v), "/"); v != "" {
					dirs = append(dirs, v)
				}
			}
		}
		if len(dirs) != 0 {
			return Inputs{Dirs: dirs}, nil
		}
		ph, err := d.Placeholder(ctx, pi)
		if err != nil {
			return Inputs{}, err
		}
		return Inputs{Dirs: []string{ph.Dir}, Placeholder: &ph}, nil
	case domain.DS, domain.TS:
		dirs := make([]string, 0, len(deps.Upstreams))
		for _, u := range deps.Upstreams {
			dir, err := d.OutputDir(ctx, u)
			if err != nil {
				return Inputs{}, err
			}
			dirs = append(dirs, dir)
		}
		return Inputs{Dirs: dirs}, nil
	default:
		return Inputs{}, fmt.Errorf("%w: unknown plugin type %q", ErrInvalidJob, deps.Type)
	}
}

// JobSpec builds the job of the instance.
func (d *Dispatcher) JobSpec(ctx context.Context, pi domain.PluginInstance) (compute.JobSpec, error) {
	if _, err := name.ParseReference(pi.Plugin.Image); err != nil {
		return compute.JobSpec{}, fmt.Errorf("%w: image %q: %w", ErrInvalidJob, pi.Plugin.Image, err)
	}

	entrypoint, args, err := CommandLine(pi)
	if err != nil {
		return compute.JobSpec{}, err
	}
	inputs, err := d.Inputs(ctx, pi)
	if err != nil {
		return compute.JobSpec{}, err
	}
	outdir, err := d.OutputDir(ctx, pi.Id)
	if err != nil {
		return compute.JobSpec{}, err
	}

	return compute.JobSpec{
		JobId:           d.JobId(pi.Id),
		Entrypoint:      entrypoint,
		Args:            args,
		Image:           pi.Plugin.Image,
		Type:            compute.JobType(pi.Plugin.Type),
		Owner:           pi.Owner,
		NumberOfWorkers: pi.Limits.Workers,
		CPULimit:        pi.Limits.CPU,
		MemoryLimit:     pi.Limits.Memory,
		GPULimit:        pi.Limits.GPU,
		InputDirs:       inputs.Dirs,
		OutputDir:       outdir,
	}, nil
}

// Submit is a task submitting the job of a scheduled instance.
//
// It moves the instance to started when the compute resource accepts the job,
// or knows the job already.
// Transport errors keep the instance scheduled, and they are reported to onError.
// Instances which cannot be a job are cancelled with error code invalidJob.
func (d *Dispatcher) Submit(ctx context.Context, onError func(error)) kdb.Task {
	return func(pi domain.PluginInstance) (domain.StatusUpdate, error) {
		if pi.Status != domain.Scheduled {
			return domain.Stay(pi), nil
		}

		client, err := d.computes.Resolve(pi.ComputeResource)
		if err != nil {
			if errors.Is(err, compute.ErrUnknownComputeResource) {
				metrics.Dispatches.WithLabelValues("unknown_compute").Inc()
				onError(err)
				return domain.Stay(pi).WithErrorCode(domain.ComputeResourceUnknown), nil
			}
			return domain.Stay(pi), err
		}

		jid := d.JobId(pi.Id)
		started := domain.Become(domain.Started)
		if pi.ErrorCode != domain.NoError {
			started = started.WithErrorCode(domain.NoError)
		}

		// submitted by an earlier attempt, which has not saved its result.
		if _, err := client.Status(ctx, jid); err == nil {
			metrics.Dispatches.WithLabelValues("resumed").Inc()
			return started, nil
		} else if !errors.Is(err, compute.ErrJobNotFound) {
			metrics.Dispatches.WithLabelValues(metrics.Failed).Inc()
			onError(xe.WrapWithNote(jid, err))
			return domain.Stay(pi), nil
		}

		spec, err := d.JobSpec(ctx, pi)
		if err != nil {
			if errors.Is(err, ErrInvalidJob) {
				metrics.Dispatches.WithLabelValues("invalid").Inc()
				d.logger.Printf("instance %d cannot be a job: %s", pi.Id, err)
				return domain.Become(domain.Cancelled).WithErrorCode(domain.InvalidJob), nil
			}
			metrics.Dispatches.WithLabelValues(metrics.Failed).Inc()
			onError(xe.WrapWithNote(jid, err))
			return domain.Stay(pi), nil
		}

		if err := client.Submit(ctx, spec); err != nil {
			metrics.Dispatches.WithLabelValues(metrics.Failed).Inc()
			onError(xe.WrapWithNote(jid, err))
			return domain.Stay(pi), nil
		}
		metrics.Dispatches.WithLabelValues("submitted").Inc()
		return started, nil
	}
}

// Dispatch submits the job of the instance right now, if it is scheduled.
//
// # Returns
//
// - bool: true if the instance has been started.
//
// - error: transport errors, or errors from database.
// The instance stays scheduled when error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, id domain.InstanceID) (bool, error) {
	var submitErr error
	changed, err := d.db.LockAndSetStatus(ctx, id, d.Submit(ctx, func(err error) {
		submitErr = err
	}))
	if err != nil {
		return false, err
	}
	if submitErr != nil {
		return changed, submitErr
	}
	return changed, nil
}
