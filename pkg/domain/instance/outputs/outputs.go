// Package outputs registers objects pushed by finished jobs as instance files.
package outputs

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/fnndsc/plinst/pkg/domain"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/metrics"
	"github.com/fnndsc/plinst/pkg/utils/retry"
	"github.com/fnndsc/plinst/pkg/workloads/compute"
	"github.com/fnndsc/plinst/pkg/workloads/storage"
)

type Config struct {
	// total listings while waiting storage to catch up, including the first one.
	MaxAttempts int

	// interval between listings.
	Interval time.Duration
}

// Result is the outcome of a registration.
type Result struct {
	// objects resolved for the instance.
	Objects []string

	// number of files registered newly by this registration.
	Registered int

	// number of objects which could not be registered.
	Failed int

	// true when storage has all objects the compute resource has reported,
	// and all of them are recorded.
	Complete bool
}

type Registrar struct {
	config Config
	db     kdb.Interface
	store  storage.Store
	logger *log.Logger
}

func New(config Config, db kdb.Interface, store storage.Store, logger *log.Logger) *Registrar {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registrar{config: config, db: db, store: store, logger: logger}
}

// Resolve decides objects to be registered in outputDir.
//
// When status enumerates objects, they are preferred.
// Otherwise objects are listed from storage.
//
// Storage listings may lag behind pushes, so it lists outputDir again
// until it finds as many objects as the compute resource has reported,
// or attempts run out.
//
// # Returns
//
// - []string: objects to be registered. When attempts have run out,
// they are only the objects found in storage.
//
// - bool: true if storage has caught up.
//
// - error
func (r *Registrar) Resolve(ctx context.Context, outputDir string, status compute.StructuredStatus) ([]string, bool, error) {
	reported := normalize(status.Objects)
	dir := storage.Dir(outputDir)

	listing, err := retry.Blocking(
		ctx,
		retry.Limit(r.config.MaxAttempts-1, retry.StaticBackoff(r.config.Interval)),
		func() ([]string, error) {
			found, err := r.store.List(ctx, dir)
			if err != nil {
				return nil, err
			}
			if len(found) < len(reported) {
				return found, retry.ErrRetry
			}
			return found, nil
		},
	)
	caughtUp := true
	if err != nil {
		if !errors.Is(err, retry.ErrExhausted) {
			return nil, false, err
		}
		caughtUp = false
	}

	if status.Objects == nil {
		return listing, caughtUp, nil
	}
	if caughtUp {
		return reported, true, nil
	}

	found := map[string]struct{}{}
	for _, o := range listing {
		found[o] = struct{}{}
	}
	visible := []string{}
	for _, o := range reported {
		if _, ok := found[o]; ok {
			visible = append(visible, o)
		}
	}
	return visible, false, nil
}

// Register records objects in outputDir as files of the instance.
//
// Objects recorded already are skipped, so calling it again is safe.
// Failures on each object are logged, and do not stop others.
// The registration is not complete until they are recorded by a later call.
func (r *Registrar) Register(
	ctx context.Context, id domain.InstanceID, outputDir string, status compute.StructuredStatus,
) (Result, error) {
	objects, caughtUp, err := r.Resolve(ctx, outputDir, status)
	if err != nil {
		return Result{}, err
	}

	result := Result{Objects: objects}
	for _, o := range objects {
		created, err := r.db.AddFile(ctx, id, o)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed += 1
			r.logger.Printf("instance %d: cannot register %s: %s", id, o, err)
			continue
		}
		if created {
			result.Registered += 1
		}
	}
	metrics.RegisteredFiles.Add(float64(result.Registered))

	result.Complete = caughtUp && result.Failed == 0
	if !caughtUp {
		r.logger.Printf(
			"instance %d: storage has %d of %d reported objects yet",
			id, len(objects), len(status.Objects),
		)
	}
	return result, nil
}

func normalize(objects []string) []string {
	ret := make([]string, 0, len(objects))
	seen := map[string]struct{}{}
	for _, o := range objects {
		o = strings.TrimPrefix(o, "/")
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		ret = append(ret, o)
	}
	return ret
}
