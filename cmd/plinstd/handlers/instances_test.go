package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fnndsc/plinst/cmd/plinstd/handlers"
	httptestutil "github.com/fnndsc/plinst/internal/testutils/http"
	apiinstances "github.com/fnndsc/plinst/pkg/api/types/instances"
	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/domain/instance/create"
	"github.com/fnndsc/plinst/pkg/domain/instance/db/gormdb/testenv"
	"github.com/fnndsc/plinst/pkg/domain/instance/dispatch"
	"github.com/fnndsc/plinst/pkg/domain/instance/gate"
	"github.com/fnndsc/plinst/pkg/domain/instance/outputs"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
	"github.com/fnndsc/plinst/pkg/utils/try"
	"github.com/fnndsc/plinst/pkg/workloads/compute"
	cmock "github.com/fnndsc/plinst/pkg/workloads/compute/mock"
	"github.com/fnndsc/plinst/pkg/workloads/storage/memory"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/singleflight"
)

type env struct {
	testenv.Fixture
	store      *memory.Store
	client     *cmock.Client
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
	creator    *create.Creator
}

func setup(t *testing.T) env {
	t.Helper()
	fx := testenv.Setup(t)
	store := memory.New()
	client := cmock.NewClient()
	computes := compute.NewResolver(map[string]compute.Client{"host": client})
	logger := log.New(new(strings.Builder), "", 0)

	d := dispatch.New(
		dispatch.Config{JobIdPrefix: "chris-jid-", PlaceholderRoot: "SERVICES/PLACEHOLDERS"},
		fx.Instances, store, computes, logger,
	)
	reg := outputs.New(outputs.Config{MaxAttempts: 2, Interval: time.Millisecond}, fx.Instances, store, logger)
	r := reconcile.New(reconcile.Config{StuckThreshold: time.Hour}, fx.Instances, d, reg, computes, logger)
	return env{
		Fixture:    fx,
		store:      store,
		client:     client,
		dispatcher: d,
		reconciler: r,
		creator:    create.New(fx.Instances, fx.Plugins, gate.New(fx.Instances, logger)),
	}
}

func withId(c echo.Context, id domain.InstanceID) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return c
}

func httpError(t *testing.T, err error) *echo.HTTPError {
	t.Helper()
	var herr *echo.HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("error should be *echo.HTTPError: %v", err)
	}
	return herr
}

func detail(t *testing.T, body []byte) apiinstances.Detail {
	t.Helper()
	d := apiinstances.Detail{}
	if err := json.Unmarshal(body, &d); err != nil {
		t.Fatalf("response is not a detail: %s", body)
	}
	return d
}

func TestCreateInstanceHandler(t *testing.T) {
	type When struct {
		owner string
		body  string
	}
	type Then struct {
		code   int
		status string
	}

	theory := func(when func(env) When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			en := setup(t)
			w := when(en)
			e := echo.New()

			opts := []httptestutil.RequestOption{httptestutil.ContentType("application/json")}
			if w.owner != "" {
				opts = append(opts, httptestutil.WithHeader(handlers.OwnerHeader, w.owner))
			}
			c, resp := httptestutil.Post(e, "/api/v1/instances/", strings.NewReader(w.body), opts...)

			err := handlers.CreateInstanceHandler(en.creator)(c)
			if then.code != http.StatusCreated {
				if got := httpError(t, err).Code; got != then.code {
					t.Errorf("code: (actual, expected) = (%d, %d)", got, then.code)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if resp.Code != http.StatusCreated {
				t.Errorf("code: (actual, expected) = (%d, %d)", resp.Code, http.StatusCreated)
			}
			got := detail(t, resp.Body.Bytes())
			if got.Status != then.status || got.Owner != w.owner {
				t.Errorf("detail: %+v", got)
			}
		}
	}

	t.Run("fs instance is scheduled", theory(
		func(en env) When {
			return When{
				owner: "chris",
				body:  fmt.Sprintf(`{"pluginId": %d, "computeResource": "host", "feedName": "scan"}`, en.FS),
			}
		},
		Then{code: http.StatusCreated, status: "scheduled"},
	))
	t.Run("ds instance without previous is rejected", theory(
		func(en env) When {
			return When{
				owner: "chris",
				body:  fmt.Sprintf(`{"pluginId": %d, "computeResource": "host"}`, en.DS),
			}
		},
		Then{code: http.StatusBadRequest},
	))
	t.Run("limits out of range are rejected", theory(
		func(en env) When {
			return When{
				owner: "chris",
				body:  fmt.Sprintf(`{"pluginId": %d, "computeResource": "host", "cpuLimit": "8000m"}`, en.FS),
			}
		},
		Then{code: http.StatusBadRequest},
	))
	t.Run("broken body is rejected", theory(
		func(en env) When {
			return When{owner: "chris", body: `{"pluginId": `}
		},
		Then{code: http.StatusBadRequest},
	))
	t.Run("anonymous request is rejected", theory(
		func(en env) When {
			return When{body: fmt.Sprintf(`{"pluginId": %d, "computeResource": "host"}`, en.FS)}
		},
		Then{code: http.StatusUnauthorized},
	))
}

func TestGetInstanceHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("it polls before responding", func(t *testing.T) {
		en := setup(t)
		id := en.New(t, domain.InstanceSpec{PluginId: en.FS, FeedName: "scan"})
		en.Force(t, id, domain.Started, time.Now())

		outdir := try.To(en.dispatcher.OutputDir(ctx, id)).OrFatal(t)
		if err := en.store.Put(ctx, outdir+"/out.txt", []byte("out"), "text/plain"); err != nil {
			t.Fatal(err)
		}
		en.client.Impl.Status = func(ctx context.Context, jobId string) (compute.StructuredStatus, error) {
			stages := map[compute.Stage]compute.StageStatus{}
			for _, s := range compute.Stages() {
				stages[s] = compute.StageStatus{Status: compute.Ok}
			}
			return compute.StructuredStatus{JobId: jobId, Stages: stages, Objects: []string{outdir + "/out.txt"}}, nil
		}
		en.client.Impl.Delete = func(ctx context.Context, jobId string) error { return nil }

		e := echo.New()
		c, resp := httptestutil.Get(e, "/api/v1/instances/"+id.String()+"/")
		testee := handlers.GetInstanceHandler(en.Instances, en.reconciler, new(singleflight.Group), "id")
		if err := testee(withId(c, id)); err != nil {
			t.Fatal(err)
		}
		if got := detail(t, resp.Body.Bytes()); got.Status != "finishedSuccessfully" {
			t.Errorf("status: (actual, expected) = (%s, %s)", got.Status, "finishedSuccessfully")
		}
		if got := en.Files(t, id); len(got) != 1 || got[0] != outdir+"/out.txt" {
			t.Errorf("files: %v", got)
		}
	})

	t.Run("poll failure does not fail the read", func(t *testing.T) {
		en := setup(t)
		id := en.New(t, domain.InstanceSpec{PluginId: en.FS, FeedName: "scan"})
		en.Force(t, id, domain.Started, time.Now())
		en.client.Impl.Status = func(ctx context.Context, jobId string) (compute.StructuredStatus, error) {
			return compute.StructuredStatus{}, errors.New("connection refused")
		}

		e := echo.New()
		c, resp := httptestutil.Get(e, "/api/v1/instances/"+id.String()+"/")
		testee := handlers.GetInstanceHandler(en.Instances, en.reconciler, new(singleflight.Group), "id")
		if err := testee(withId(c, id)); err != nil {
			t.Fatal(err)
		}
		if resp.Code != http.StatusOK {
			t.Errorf("code: (actual, expected) = (%d, %d)", resp.Code, http.StatusOK)
		}
		if got := detail(t, resp.Body.Bytes()); got.Status != "started" {
			t.Errorf("status: (actual, expected) = (%s, %s)", got.Status, "started")
		}
	})

	t.Run("concurrent reads share a poll", func(t *testing.T) {
		en := setup(t)
		id := en.New(t, domain.InstanceSpec{PluginId: en.FS, FeedName: "scan"})
		en.Force(t, id, domain.Started, time.Now())

		release := make(chan struct{})
		entered := make(chan struct{}, 8)
		en.client.Impl.Status = func(ctx context.Context, jobId string) (compute.StructuredStatus, error) {
			entered <- struct{}{}
			<-release
			return compute.StructuredStatus{JobId: jobId}, nil
		}

		e := echo.New()
		testee := handlers.GetInstanceHandler(en.Instances, en.reconciler, new(singleflight.Group), "id")

		wg := new(sync.WaitGroup)
		first, _ := httptestutil.Get(e, "/api/v1/instances/"+id.String()+"/")
		wg.Add(1)
		go func() {
			defer wg.Done()
			testee(withId(first, id))
		}()
		<-entered

		second, resp := httptestutil.Get(e, "/api/v1/instances/"+id.String()+"/")
		wg.Add(1)
		go func() {
			defer wg.Done()
			testee(withId(second, id))
		}()
		// let the second request join the first.
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		if resp.Code != http.StatusOK {
			t.Errorf("code: (actual, expected) = (%d, %d)", resp.Code, http.StatusOK)
		}
		if n := len(entered); n != 0 {
			t.Errorf("status calls after the first: (actual, expected) = (%d, %d)", n, 0)
		}
	})

	t.Run("missing instance is 404", func(t *testing.T) {
		en := setup(t)
		e := echo.New()
		c, _ := httptestutil.Get(e, "/api/v1/instances/99/")
		testee := handlers.GetInstanceHandler(en.Instances, en.reconciler, new(singleflight.Group), "id")
		if got := httpError(t, testee(withId(c, 99))).Code; got != http.StatusNotFound {
			t.Errorf("code: (actual, expected) = (%d, %d)", got, http.StatusNotFound)
		}
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		en := setup(t)
		e := echo.New()
		c, _ := httptestutil.Get(e, "/api/v1/instances/abc/")
		c.SetParamNames("id")
		c.SetParamValues("abc")
		testee := handlers.GetInstanceHandler(en.Instances, en.reconciler, new(singleflight.Group), "id")
		if got := httpError(t, testee(c)).Code; got != http.StatusBadRequest {
			t.Errorf("code: (actual, expected) = (%d, %d)", got, http.StatusBadRequest)
		}
	})
}

func TestUpdateInstanceHandler(t *testing.T) {
	type When struct {
		status domain.InstanceStatus
		body   string
	}
	type Then struct {
		code    int
		status  domain.InstanceStatus
		deleted bool
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			en := setup(t)
			id := en.New(t, domain.InstanceSpec{PluginId: en.FS, FeedName: "scan"})
			en.Force(t, id, when.status, time.Now())
			en.client.Impl.Delete = func(ctx context.Context, jobId string) error { return nil }

			e := echo.New()
			c, resp := httptestutil.Put(
				e, "/api/v1/instances/"+id.String()+"/", strings.NewReader(when.body),
				httptestutil.ContentType("application/json"),
			)
			err := handlers.UpdateInstanceHandler(en.Instances, en.reconciler, "id")(withId(c, id))

			if then.code == http.StatusOK {
				if err != nil {
					t.Fatal(err)
				}
				if got := detail(t, resp.Body.Bytes()); got.Status != then.status.String() {
					t.Errorf("status: (actual, expected) = (%s, %s)", got.Status, then.status)
				}
			} else if got := httpError(t, err).Code; got != then.code {
				t.Errorf("code: (actual, expected) = (%d, %d)", got, then.code)
			}

			if got := en.Get(t, id).Status; got != then.status {
				t.Errorf("stored status: (actual, expected) = (%s, %s)", got, then.status)
			}
			if deleted := len(en.client.DeleteCalls()) != 0; deleted != then.deleted {
				t.Errorf("remote delete: (actual, expected) = (%v, %v)", deleted, then.deleted)
			}
		}
	}

	t.Run("waiting instance is cancelled", theory(
		When{status: domain.Waiting, body: `{"status": "cancelled"}`},
		Then{code: http.StatusOK, status: domain.Cancelled},
	))
	t.Run("started instance is cancelled with its job", theory(
		When{status: domain.Started, body: `{"status": "cancelled"}`},
		Then{code: http.StatusOK, status: domain.Cancelled, deleted: true},
	))
	t.Run("cancelled instance stays", theory(
		When{status: domain.Cancelled, body: `{"status": "cancelled"}`},
		Then{code: http.StatusOK, status: domain.Cancelled},
	))
	t.Run("finished instance is conflict", theory(
		When{status: domain.FinishedSuccessfully, body: `{"status": "cancelled"}`},
		Then{code: http.StatusConflict, status: domain.FinishedSuccessfully},
	))
	t.Run("other status is bad request", theory(
		When{status: domain.Waiting, body: `{"status": "started"}`},
		Then{code: http.StatusBadRequest, status: domain.Waiting},
	))
	t.Run("unknown status is bad request", theory(
		When{status: domain.Waiting, body: `{"status": "paused"}`},
		Then{code: http.StatusBadRequest, status: domain.Waiting},
	))
}

func TestGetInstanceFilesHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("it lists files", func(t *testing.T) {
		en := setup(t)
		id := en.New(t, domain.InstanceSpec{PluginId: en.FS, FeedName: "scan"})
		for _, p := range []string{"chris/feed_1/pl-dircopy_1/data/a.txt", "chris/feed_1/pl-dircopy_1/data/b.txt"} {
			if _, err := en.Instances.AddFile(ctx, id, p); err != nil {
				t.Fatal(err)
			}
		}

		e := echo.New()
		c, resp := httptestutil.Get(e, "/api/v1/instances/"+id.String()+"/files/")
		if err := handlers.GetInstanceFilesHandler(en.Instances, "id")(withId(c, id)); err != nil {
			t.Fatal(err)
		}
		got := []apiinstances.File{}
		if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].Path != "chris/feed_1/pl-dircopy_1/data/a.txt" {
			t.Errorf("files: %+v", got)
		}
	})

	t.Run("missing instance is 404", func(t *testing.T) {
		en := setup(t)
		e := echo.New()
		c, _ := httptestutil.Get(e, "/api/v1/instances/99/files/")
		if got := httpError(t, handlers.GetInstanceFilesHandler(en.Instances, "id")(withId(c, 99))).Code; got != http.StatusNotFound {
			t.Errorf("code: (actual, expected) = (%d, %d)", got, http.StatusNotFound)
		}
	})
}
