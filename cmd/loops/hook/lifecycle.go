package hook

import (
	"context"
	"log"

	apiinstances "github.com/fnndsc/plinst/pkg/api/types/instances"
	cfg_hook "github.com/fnndsc/plinst/pkg/configs/hook"
	"github.com/fnndsc/plinst/pkg/domain"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
)

// Lifecycle is a hook around status changes of instances.
type Lifecycle = Hook[apiinstances.Detail]

func Build(cfg cfg_hook.WebHook) Web[apiinstances.Detail] {
	return Web[apiinstances.Detail]{
		BeforeURL: cfg.Before,
		AfterURL:  cfg.After,
	}
}

// Around makes a task which calls h.Before when task changes status of the instance.
//
// The payload is the instance before the change.
// When Before fails, the change is given up and the instance stays.
func Around(ctx context.Context, h Lifecycle, logger *log.Logger, task kdb.Task) kdb.Task {
	return func(pi domain.PluginInstance) (domain.StatusUpdate, error) {
		update, err := task(pi)
		if err != nil || update.Status == pi.Status {
			return update, err
		}
		if err := h.Before(ctx, apiinstances.ComposeDetail(pi)); err != nil {
			logger.Printf(
				"instance %d: change to %s is given up by hook: %s",
				pi.Id, update.Status, err,
			)
			return domain.Stay(pi), nil
		}
		return update, nil
	}
}

// Notify calls h.After with the latest state of the instance.
//
// Errors are logged, and not returned.
func Notify(ctx context.Context, h Lifecycle, db kdb.Interface, logger *log.Logger, id domain.InstanceID) {
	found, err := db.Get(ctx, []domain.InstanceID{id})
	if err != nil {
		logger.Printf("instance %d: failed to read for after-hook: %s", id, err)
		return
	}
	pi, ok := found[id]
	if !ok {
		return
	}
	if err := h.After(ctx, apiinstances.ComposeDetail(pi)); err != nil {
		logger.Printf("instance %d: after-hook failed: %s", id, err)
	}
}
