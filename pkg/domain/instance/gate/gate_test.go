package gate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/domain/instance/db/mock"
	"github.com/fnndsc/plinst/pkg/domain/instance/gate"
	"github.com/fnndsc/plinst/pkg/utils/try"
)

func ids(i ...domain.InstanceID) []domain.InstanceID {
	return i
}

func TestEvaluate(t *testing.T) {
	type When struct {
		Deps     domain.Dependencies
		Statuses map[domain.InstanceID]domain.InstanceStatus
	}

	theory := func(when When, then gate.Verdict) func(*testing.T) {
		return func(t *testing.T) {
			if got := gate.Evaluate(when.Deps, when.Statuses); got != then {
				t.Errorf("(actual, expected) = (%s, %s)", got, then)
			}
		}
	}

	ds := func(prev domain.InstanceStatus) When {
		return When{
			Deps:     domain.Dependencies{Type: domain.DS, Upstreams: ids(1)},
			Statuses: map[domain.InstanceID]domain.InstanceStatus{1: prev},
		}
	}
	ts := func(a, b domain.InstanceStatus) When {
		return When{
			Deps:     domain.Dependencies{Type: domain.TS, Upstreams: ids(1, 2)},
			Statuses: map[domain.InstanceID]domain.InstanceStatus{1: a, 2: b},
		}
	}

	t.Run("fs has nothing to wait", theory(
		When{Deps: domain.Dependencies{Type: domain.FS, Upstreams: ids()}},
		gate.Runnable,
	))

	t.Run("ds: previous succeeded", theory(ds(domain.FinishedSuccessfully), gate.Runnable))
	t.Run("ds: previous failed", theory(ds(domain.FinishedWithError), gate.Unrunnable))
	t.Run("ds: previous cancelled", theory(ds(domain.Cancelled), gate.Unrunnable))
	for _, st := range []domain.InstanceStatus{
		domain.Created, domain.Waiting, domain.Scheduled, domain.Started, domain.RegisteringFiles,
	} {
		t.Run("ds: previous is "+st.String(), theory(ds(st), gate.StillWaiting))
	}
	t.Run("ds: previous has gone", theory(
		When{Deps: domain.Dependencies{Type: domain.DS, Upstreams: ids(1)}},
		gate.Unrunnable,
	))

	t.Run("ts: all succeeded", theory(
		ts(domain.FinishedSuccessfully, domain.FinishedSuccessfully), gate.Runnable,
	))
	t.Run("ts: one succeeded, other failed", theory(
		ts(domain.FinishedSuccessfully, domain.FinishedWithError), gate.Unrunnable,
	))
	t.Run("ts: one failed, other succeeded", theory(
		ts(domain.FinishedWithError, domain.FinishedSuccessfully), gate.Unrunnable,
	))
	t.Run("ts: one running, other failed", theory(
		ts(domain.Started, domain.Cancelled), gate.Unrunnable,
	))
	t.Run("ts: one running, other succeeded", theory(
		ts(domain.Started, domain.FinishedSuccessfully), gate.StillWaiting,
	))
}

func instance(id domain.InstanceID, typ domain.PluginType, status domain.InstanceStatus, prev *domain.InstanceID, params ...domain.ParameterValue) domain.PluginInstance {
	return domain.PluginInstance{
		Id:         id,
		Status:     status,
		Plugin:     domain.Plugin{Id: 1, Name: "pl-" + typ.String(), Type: typ},
		Previous:   prev,
		Feed:       domain.Feed{Id: 7},
		Parameters: params,
	}
}

func ref(id domain.InstanceID) *domain.InstanceID {
	return &id
}

func TestGate_Tasks(t *testing.T) {
	type When struct {
		Instance  domain.PluginInstance
		Upstreams map[domain.InstanceID]domain.PluginInstance
	}
	type Then struct {
		Promote          domain.InstanceStatus
		CancelUnrunnable domain.InstanceStatus
		Settle           domain.InstanceStatus
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			ctx := context.Background()
			db := mock.NewInstanceInterface()
			db.Impl.Get = func(ctx context.Context, ids []domain.InstanceID) (map[domain.InstanceID]domain.PluginInstance, error) {
				ret := map[domain.InstanceID]domain.PluginInstance{}
				for _, id := range ids {
					if u, ok := when.Upstreams[id]; ok {
						ret[id] = u
					}
				}
				return ret, nil
			}
			testee := gate.New(db, nil)

			for name, task := range map[string]struct {
				task func(domain.PluginInstance) (domain.StatusUpdate, error)
				want domain.InstanceStatus
			}{
				"Promote":          {testee.Promote(ctx), then.Promote},
				"CancelUnrunnable": {testee.CancelUnrunnable(ctx), then.CancelUnrunnable},
				"Settle":           {testee.Settle(ctx), then.Settle},
			} {
				got := try.To(task.task(when.Instance)).OrFatal(t)
				if got.Status != task.want {
					t.Errorf("%s: (actual, expected) = (%s, %s)", name, got.Status, task.want)
				}
			}
		}
	}

	t.Run("waiting fs", theory(
		When{Instance: instance(1, domain.FS, domain.Waiting, nil)},
		Then{Promote: domain.Scheduled, CancelUnrunnable: domain.Waiting, Settle: domain.Scheduled},
	))

	t.Run("waiting ds after succeeded", theory(
		When{
			Instance: instance(2, domain.DS, domain.Waiting, ref(1)),
			Upstreams: map[domain.InstanceID]domain.PluginInstance{
				1: instance(1, domain.FS, domain.FinishedSuccessfully, nil),
			},
		},
		Then{Promote: domain.Scheduled, CancelUnrunnable: domain.Waiting, Settle: domain.Scheduled},
	))

	t.Run("waiting ds after failed", theory(
		When{
			Instance: instance(2, domain.DS, domain.Waiting, ref(1)),
			Upstreams: map[domain.InstanceID]domain.PluginInstance{
				1: instance(1, domain.FS, domain.FinishedWithError, nil),
			},
		},
		Then{Promote: domain.Waiting, CancelUnrunnable: domain.Cancelled, Settle: domain.Cancelled},
	))

	t.Run("waiting ds after started", theory(
		When{
			Instance: instance(2, domain.DS, domain.Waiting, ref(1)),
			Upstreams: map[domain.InstanceID]domain.PluginInstance{
				1: instance(1, domain.FS, domain.Started, nil),
			},
		},
		Then{Promote: domain.Waiting, CancelUnrunnable: domain.Waiting, Settle: domain.Waiting},
	))

	t.Run("waiting ts, fan-in with a failed ancestor", theory(
		When{
			Instance: instance(
				4, domain.TS, domain.Waiting, ref(2),
				domain.ParameterValue{
					Spec:  domain.ParameterSpec{Name: domain.ParamPluginInstances, Type: domain.StringParam},
					Value: "2,3",
				},
			),
			Upstreams: map[domain.InstanceID]domain.PluginInstance{
				2: instance(2, domain.DS, domain.FinishedSuccessfully, ref(1)),
				3: instance(3, domain.DS, domain.FinishedWithError, ref(1)),
			},
		},
		Then{Promote: domain.Waiting, CancelUnrunnable: domain.Cancelled, Settle: domain.Cancelled},
	))

	t.Run("waiting ts, fan-in all succeeded", theory(
		When{
			Instance: instance(
				4, domain.TS, domain.Waiting, ref(2),
				domain.ParameterValue{
					Spec:  domain.ParameterSpec{Name: domain.ParamPluginInstances, Type: domain.StringParam},
					Value: "2, 3",
				},
			),
			Upstreams: map[domain.InstanceID]domain.PluginInstance{
				2: instance(2, domain.DS, domain.FinishedSuccessfully, ref(1)),
				3: instance(3, domain.DS, domain.FinishedSuccessfully, ref(1)),
			},
		},
		Then{Promote: domain.Scheduled, CancelUnrunnable: domain.Waiting, Settle: domain.Scheduled},
	))

	t.Run("waiting ds with upstream in other feed", theory(
		When{
			Instance: instance(2, domain.DS, domain.Waiting, ref(1)),
			Upstreams: map[domain.InstanceID]domain.PluginInstance{
				1: func() domain.PluginInstance {
					pi := instance(1, domain.FS, domain.FinishedSuccessfully, nil)
					pi.Feed.Id = 8
					return pi
				}(),
			},
		},
		Then{Promote: domain.Waiting, CancelUnrunnable: domain.Cancelled, Settle: domain.Cancelled},
	))

	t.Run("malformed ts is unrunnable", theory(
		When{
			Instance: instance(
				4, domain.TS, domain.Waiting, ref(2),
				domain.ParameterValue{
					Spec:  domain.ParameterSpec{Name: domain.ParamPluginInstances, Type: domain.StringParam},
					Value: "2,x",
				},
			),
		},
		Then{Promote: domain.Waiting, CancelUnrunnable: domain.Cancelled, Settle: domain.Cancelled},
	))

	t.Run("not waiting", theory(
		When{Instance: instance(1, domain.FS, domain.Scheduled, nil)},
		Then{Promote: domain.Scheduled, CancelUnrunnable: domain.Scheduled, Settle: domain.Scheduled},
	))
}

func TestGate_Judge_DBError(t *testing.T) {
	ctx := context.Background()
	expectedErr := errors.New("fake error")
	db := mock.NewInstanceInterface()
	db.Impl.Get = func(ctx context.Context, ids []domain.InstanceID) (map[domain.InstanceID]domain.PluginInstance, error) {
		return nil, expectedErr
	}
	testee := gate.New(db, nil)

	got, err := testee.Promote(ctx)(instance(2, domain.DS, domain.Waiting, ref(1)))
	if !errors.Is(err, expectedErr) {
		t.Errorf("unexpected error: %v", err)
	}
	if got.Status != domain.Waiting {
		t.Errorf("status: %s", got.Status)
	}
}
