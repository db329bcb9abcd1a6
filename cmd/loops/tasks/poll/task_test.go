package poll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fnndsc/plinst/cmd/loops/hook"
	"github.com/fnndsc/plinst/cmd/loops/tasks/internal/testbed"
	"github.com/fnndsc/plinst/cmd/loops/tasks/poll"
	apiinstances "github.com/fnndsc/plinst/pkg/api/types/instances"
	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/utils/cmp"
	"github.com/fnndsc/plinst/pkg/utils/try"
	"github.com/fnndsc/plinst/pkg/workloads/compute"
)

func TestTask(t *testing.T) {
	ctx := context.Background()

	started := func(t *testing.T, b *testbed.Bed) domain.InstanceID {
		t.Helper()
		id := b.New(t, domain.InstanceSpec{PluginId: b.FS, FeedName: "scan"})
		b.Force(t, id, domain.Started, time.Now())
		return id
	}

	t.Run("running job keeps the instance started", func(t *testing.T) {
		b := testbed.Setup(t)
		id := started(t, b)
		b.Client.Impl.Status = func(ctx context.Context, jobId string) (compute.StructuredStatus, error) {
			return testbed.Running(jobId), nil
		}

		testee := poll.Task(b.Instances, b.Reconciler, hook.None[apiinstances.Detail]{}, b.Logger)
		if _, _, err := testee(ctx, poll.Seed(0)); err != nil {
			t.Fatal(err)
		}
		got := b.Get(t, id)
		if got.Status != domain.Started {
			t.Errorf("status: (actual, expected) = (%s, %s)", got.Status, domain.Started)
		}
		if len(got.Summary) == 0 {
			t.Errorf("summary should be recorded")
		}
		if calls := b.Client.DeleteCalls(); len(calls) != 0 {
			t.Errorf("delete calls: %v", calls)
		}
	})

	t.Run("succeeded job finishes the instance in two steps", func(t *testing.T) {
		b := testbed.Setup(t)
		id := started(t, b)
		outdir := try.To(b.Dispatcher.OutputDir(ctx, id)).OrFatal(t)
		objects := []string{outdir + "/out.txt", outdir + "/log/stdout.txt"}
		for _, o := range objects {
			if err := b.Store.Put(ctx, o, []byte(o), "text/plain"); err != nil {
				t.Fatal(err)
			}
		}
		b.Client.Impl.Status = func(ctx context.Context, jobId string) (compute.StructuredStatus, error) {
			return testbed.Succeeded(objects...)(jobId), nil
		}
		b.Client.Impl.Delete = func(ctx context.Context, jobId string) error {
			return nil
		}

		notified := []string{}
		h := hook.Func[apiinstances.Detail]{
			AfterFn: func(_ context.Context, d apiinstances.Detail) error {
				notified = append(notified, d.Status)
				return nil
			},
		}
		testee := poll.Task(b.Instances, b.Reconciler, h, b.Logger)

		cursor := poll.Seed(0)
		for range 2 {
			next, _, err := testee(ctx, cursor)
			if err != nil {
				t.Fatal(err)
			}
			cursor = next
		}

		if got := b.Get(t, id).Status; got != domain.FinishedSuccessfully {
			t.Errorf("status: (actual, expected) = (%s, %s)", got, domain.FinishedSuccessfully)
		}
		want := []string{outdir + "/log/stdout.txt", outdir + "/out.txt"}
		if got := b.Files(t, id); !cmp.SliceEq(got, want) {
			t.Errorf("files: (actual, expected) = (%v, %v)", got, want)
		}
		if calls := b.Client.DeleteCalls(); !cmp.SliceEq(calls, []string{"chris-jid-" + id.String()}) {
			t.Errorf("delete calls: %v", calls)
		}
		if !cmp.SliceEq(notified, []string{"registeringFiles", "finishedSuccessfully"}) {
			t.Errorf("after hooks: %v", notified)
		}
	})

	t.Run("lost job finishes the instance with error", func(t *testing.T) {
		b := testbed.Setup(t)
		id := started(t, b)
		b.Client.Impl.Status = func(ctx context.Context, jobId string) (compute.StructuredStatus, error) {
			return compute.StructuredStatus{}, compute.ErrJobNotFound
		}
		b.Client.Impl.Delete = func(ctx context.Context, jobId string) error {
			return compute.ErrJobNotFound
		}

		testee := poll.Task(b.Instances, b.Reconciler, hook.None[apiinstances.Detail]{}, b.Logger)
		if _, _, err := testee(ctx, poll.Seed(0)); err != nil {
			t.Fatal(err)
		}
		got := b.Get(t, id)
		if got.Status != domain.FinishedWithError || got.ErrorCode != domain.RemoteExecutionFailed {
			t.Errorf("(status, code) = (%s, %s)", got.Status, got.ErrorCode)
		}
	})

	t.Run("transport error keeps the instance", func(t *testing.T) {
		b := testbed.Setup(t)
		id := started(t, b)
		b.Client.Impl.Status = func(ctx context.Context, jobId string) (compute.StructuredStatus, error) {
			return compute.StructuredStatus{}, errors.New("connection reset")
		}

		testee := poll.Task(b.Instances, b.Reconciler, hook.None[apiinstances.Detail]{}, b.Logger)
		if _, _, err := testee(ctx, poll.Seed(0)); err != nil {
			t.Fatal(err)
		}
		if got := b.Get(t, id).Status; got != domain.Started {
			t.Errorf("status: (actual, expected) = (%s, %s)", got, domain.Started)
		}
	})
}
