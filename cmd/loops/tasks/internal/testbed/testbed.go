// Package testbed wires domain services on an in-memory store for tests of sweep tasks.
package testbed

import (
	"bytes"
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/domain/instance/db/gormdb/testenv"
	"github.com/fnndsc/plinst/pkg/domain/instance/dispatch"
	"github.com/fnndsc/plinst/pkg/domain/instance/gate"
	"github.com/fnndsc/plinst/pkg/domain/instance/outputs"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
	"github.com/fnndsc/plinst/pkg/utils/try"
	"github.com/fnndsc/plinst/pkg/workloads/compute"
	cmock "github.com/fnndsc/plinst/pkg/workloads/compute/mock"
	"github.com/fnndsc/plinst/pkg/workloads/storage/memory"
)

type Bed struct {
	testenv.Fixture

	Store      *memory.Store
	Client     *cmock.Client
	Gate       *gate.Gate
	Dispatcher *dispatch.Dispatcher
	Reconciler *reconcile.Reconciler
	Logger     *log.Logger
	Logs       *Buffer
}

// Buffer is a goroutine safe bytes.Buffer.
type Buffer struct {
	mux sync.Mutex
	buf bytes.Buffer
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.buf.Write(p)
}

func (b *Buffer) String() string {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.buf.String()
}

func Setup(t *testing.T, options ...reconcile.Option) *Bed {
	t.Helper()
	fx := testenv.Setup(t)
	store := memory.New()
	client := cmock.NewClient()
	computes := compute.NewResolver(map[string]compute.Client{"host": client})
	logs := new(Buffer)
	logger := log.New(logs, "", 0)

	d := dispatch.New(
		dispatch.Config{JobIdPrefix: "chris-jid-", PlaceholderRoot: "SERVICES/PLACEHOLDERS"},
		fx.Instances, store, computes, logger,
	)
	reg := outputs.New(outputs.Config{MaxAttempts: 2, Interval: time.Millisecond}, fx.Instances, store, logger)
	r := reconcile.New(
		reconcile.Config{StuckThreshold: 240 * time.Minute},
		fx.Instances, d, reg, computes, logger, options...,
	)
	return &Bed{
		Fixture:    fx,
		Store:      store,
		Client:     client,
		Gate:       gate.New(fx.Instances, logger),
		Dispatcher: d,
		Reconciler: r,
		Logger:     logger,
		Logs:       logs,
	}
}

// Waiting creates an instance in waiting.
func (b *Bed) Waiting(t *testing.T, spec domain.InstanceSpec) domain.InstanceID {
	t.Helper()
	id := b.New(t, spec)
	if ok := try.To(b.Instances.CompareAndSetStatus(
		context.Background(), id, domain.Created, domain.Become(domain.Waiting),
	)).OrFatal(t); !ok {
		t.Fatalf("instance %d is not waiting", id)
	}
	return id
}

// Jobs fakes a compute resource which remembers submitted jobs.
//
// Submitted jobs are reported with status.
func (b *Bed) Jobs(status func(jid string) compute.StructuredStatus) {
	var mux sync.Mutex
	known := map[string]struct{}{}
	b.Client.Impl.Submit = func(ctx context.Context, spec compute.JobSpec) error {
		mux.Lock()
		defer mux.Unlock()
		known[spec.JobId] = struct{}{}
		return nil
	}
	b.Client.Impl.Status = func(ctx context.Context, jobId string) (compute.StructuredStatus, error) {
		mux.Lock()
		defer mux.Unlock()
		if _, ok := known[jobId]; !ok {
			return compute.StructuredStatus{}, compute.ErrJobNotFound
		}
		return status(jobId), nil
	}
	b.Client.Impl.Delete = func(ctx context.Context, jobId string) error {
		return nil
	}
}

// Running is a status of a job still computing.
func Running(jid string) compute.StructuredStatus {
	return compute.StructuredStatus{
		JobId: jid,
		Stages: map[compute.Stage]compute.StageStatus{
			compute.PushInput:     {Status: compute.Ok},
			compute.ComputeSubmit: {Status: compute.Ok},
		},
	}
}

// Succeeded is a status of a job finished with objects.
func Succeeded(objects ...string) func(string) compute.StructuredStatus {
	return func(jid string) compute.StructuredStatus {
		stages := map[compute.Stage]compute.StageStatus{}
		for _, s := range compute.Stages() {
			stages[s] = compute.StageStatus{Status: compute.Ok}
		}
		return compute.StructuredStatus{JobId: jid, Stages: stages, Objects: objects}
	}
}
