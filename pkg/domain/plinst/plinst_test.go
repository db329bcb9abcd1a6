package plinst_test

import (
	"context"
	"errors"
	"testing"

	bconf "github.com/fnndsc/plinst/pkg/configs/backend"
	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/domain/instance/create"
	"github.com/fnndsc/plinst/pkg/domain/plinst"
	kgormschema "github.com/fnndsc/plinst/pkg/domain/schema/db/gormdb"
	"github.com/fnndsc/plinst/pkg/utils/try"
	"github.com/fnndsc/plinst/pkg/workloads/compute"
)

func TestNew(t *testing.T) {
	ctx := context.Background()
	config := try.To(bconf.Unmarshal([]byte(`
database:
  driver: sqlite
  url: "file::memory:"
storage:
  type: memory
compute:
  - name: host
    url: http://pfcon:30005/api/v1
    user: pfcon
    password: pfcon1234
`))).OrFatal(t)

	testee := try.To(plinst.New(ctx, config)).OrFatal(t)
	defer testee.Close()

	if err := testee.Schema().Database().Upgrade(ctx); err != nil {
		t.Fatal(err)
	}
	if v := try.To(testee.Schema().Database().Version(ctx)).OrFatal(t); v != kgormschema.Latest {
		t.Errorf("schema version: (actual, expected) = (%d, %d)", v, kgormschema.Latest)
	}

	t.Run("compute resources are resolved by name", func(t *testing.T) {
		if _, err := testee.Computes().Resolve("host"); err != nil {
			t.Errorf("host: %v", err)
		}
		if _, err := testee.Computes().Resolve("moc"); !errors.Is(err, compute.ErrUnknownComputeResource) {
			t.Errorf("moc: %v", err)
		}
	})

	t.Run("services share the database", func(t *testing.T) {
		pid := try.To(testee.Database().Plugins().Register(ctx, domain.PluginSpec{
			Name: "pl-dircopy", Version: "2.1.1", Type: domain.FS, Image: "fnndsc/pl-dircopy:2.1.1",
			SelfPath: "/usr/local/bin", SelfExec: "dircopy",
			Limits: domain.LimitRange{
				Min: domain.ResourceLimits{CPU: 1000, Memory: 200, Workers: 1},
				Max: domain.ResourceLimits{CPU: 2000, Memory: 400, Workers: 2},
			},
		})).OrFatal(t)

		pi := try.To(testee.Creator().Create(ctx, create.Request{
			PluginId: pid, Owner: "chris", ComputeResource: "host", FeedName: "scan",
		})).OrFatal(t)

		if pi.Status != domain.Scheduled {
			t.Errorf("status: (actual, expected) = (%s, %s)", pi.Status, domain.Scheduled)
		}
		got := try.To(testee.Database().Instances().Get(ctx, []domain.InstanceID{pi.Id})).OrFatal(t)
		if _, ok := got[pi.Id]; !ok {
			t.Errorf("instance %d is not stored", pi.Id)
		}
	})
}
