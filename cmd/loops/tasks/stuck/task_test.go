package stuck_test

import (
	"context"
	"testing"
	"time"

	"github.com/fnndsc/plinst/cmd/loops/hook"
	"github.com/fnndsc/plinst/cmd/loops/tasks/internal/testbed"
	"github.com/fnndsc/plinst/cmd/loops/tasks/stuck"
	apiinstances "github.com/fnndsc/plinst/pkg/api/types/instances"
	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/utils/cmp"
)

func TestTask(t *testing.T) {
	ctx := context.Background()

	b := testbed.Setup(t)
	b.Client.Impl.Delete = func(ctx context.Context, jobId string) error {
		return nil
	}

	stale := b.New(t, domain.InstanceSpec{PluginId: b.FS, FeedName: "stale"})
	b.Force(t, stale, domain.Started, time.Now().Add(-5*time.Hour))
	fresh := b.New(t, domain.InstanceSpec{PluginId: b.FS, FeedName: "fresh"})
	b.Force(t, fresh, domain.RegisteringFiles, time.Now().Add(-time.Hour))
	old := b.New(t, domain.InstanceSpec{PluginId: b.FS, FeedName: "old"})
	b.Force(t, old, domain.FinishedSuccessfully, time.Now().Add(-5*time.Hour))

	notified := []int64{}
	h := hook.Func[apiinstances.Detail]{
		AfterFn: func(_ context.Context, d apiinstances.Detail) error {
			notified = append(notified, d.Id)
			return nil
		},
	}
	testee := stuck.Task(b.Instances, b.Reconciler, h, b.Logger)

	_, updated, err := testee(ctx, stuck.Seed())
	if err != nil {
		t.Fatal(err)
	}
	if !updated {
		t.Errorf("it should report recovery")
	}

	got := b.Get(t, stale)
	if got.Status != domain.Cancelled || got.ErrorCode != domain.StuckInLock {
		t.Errorf("stale: (status, code) = (%s, %s)", got.Status, got.ErrorCode)
	}
	if got := b.Get(t, fresh).Status; got != domain.RegisteringFiles {
		t.Errorf("fresh: (actual, expected) = (%s, %s)", got, domain.RegisteringFiles)
	}
	if got := b.Get(t, old).Status; got != domain.FinishedSuccessfully {
		t.Errorf("old: (actual, expected) = (%s, %s)", got, domain.FinishedSuccessfully)
	}
	if calls := b.Client.DeleteCalls(); !cmp.SliceEq(calls, []string{"chris-jid-" + stale.String()}) {
		t.Errorf("delete calls: %v", calls)
	}
	if !cmp.SliceEq(notified, []int64{int64(stale)}) {
		t.Errorf("after hooks: %v", notified)
	}

	_, updated, err = testee(ctx, stuck.Seed())
	if err != nil {
		t.Fatal(err)
	}
	if updated {
		t.Errorf("nothing should be recovered twice")
	}
}
