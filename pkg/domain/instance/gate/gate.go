// Package gate decides whether waiting instances can run.
package gate

import (
	"context"
	"errors"
	"log"

	"github.com/fnndsc/plinst/pkg/domain"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
)

// Verdict is the judgement on dependencies of an instance.
type Verdict string

const (
	// All upstreams have finished successfully.
	Runnable Verdict = "runnable"

	// Some upstream has failed, or has gone. It never gets runnable.
	Unrunnable Verdict = "unrunnable"

	// Upstreams are not finished yet.
	StillWaiting Verdict = "waiting"
)

func (v Verdict) String() string {
	return string(v)
}

// Evaluate judges dependencies by statuses of upstreams.
//
// Upstreams missing in statuses are treated as failed.
func Evaluate(deps domain.Dependencies, statuses map[domain.InstanceID]domain.InstanceStatus) Verdict {
	allSucceeded := true
	anyFailed := false
	for _, id := range deps.Upstreams {
		st, ok := statuses[id]
		if !ok || st.Failed() {
			anyFailed = true
		}
		if !ok || st != domain.FinishedSuccessfully {
			allSucceeded = false
		}
	}

	switch {
	case anyFailed:
		return Unrunnable
	case allSucceeded:
		return Runnable
	default:
		return StillWaiting
	}
}

// Gate judges instances with their upstreams stored in database.
type Gate struct {
	db     kdb.Interface
	logger *log.Logger
}

func New(db kdb.Interface, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.Default()
	}
	return &Gate{db: db, logger: logger}
}

// Judge evaluates dependencies of pi.
//
// Instances with malformed dependencies are unrunnable.
func (g *Gate) Judge(ctx context.Context, pi domain.PluginInstance) (Verdict, error) {
	deps, err := pi.Dependencies()
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			g.logger.Printf("instance %d has malformed dependencies: %s", pi.Id, err)
			return Unrunnable, nil
		}
		return "", err
	}
	if len(deps.Upstreams) == 0 {
		return Runnable, nil
	}

	upstreams, err := g.db.Get(ctx, deps.Upstreams)
	if err != nil {
		return "", err
	}
	statuses := make(map[domain.InstanceID]domain.InstanceStatus, len(upstreams))
	for id, u := range upstreams {
		if u.Feed.Id != pi.Feed.Id {
			// upstreams in other feeds are never satisfied.
			continue
		}
		statuses[id] = u.Status
	}
	return Evaluate(deps, statuses), nil
}

// Promote is a task moving runnable waiting instances to scheduled.
//
// Other instances stay.
func (g *Gate) Promote(ctx context.Context) kdb.Task {
	return func(pi domain.PluginInstance) (domain.StatusUpdate, error) {
		if pi.Status != domain.Waiting {
			return domain.Stay(pi), nil
		}
		v, err := g.Judge(ctx, pi)
		if err != nil {
			return domain.Stay(pi), err
		}
		if v != Runnable {
			return domain.Stay(pi), nil
		}
		return domain.Become(domain.Scheduled), nil
	}
}

// CancelUnrunnable is a task cancelling waiting instances which never get runnable.
//
// Other instances stay.
func (g *Gate) CancelUnrunnable(ctx context.Context) kdb.Task {
	return func(pi domain.PluginInstance) (domain.StatusUpdate, error) {
		if pi.Status != domain.Waiting {
			return domain.Stay(pi), nil
		}
		v, err := g.Judge(ctx, pi)
		if err != nil {
			return domain.Stay(pi), err
		}
		if v != Unrunnable {
			return domain.Stay(pi), nil
		}
		return domain.Become(domain.Cancelled), nil
	}
}

// Settle moves a waiting instance to where its verdict leads: scheduled, cancelled or nowhere.
func (g *Gate) Settle(ctx context.Context) kdb.Task {
	return func(pi domain.PluginInstance) (domain.StatusUpdate, error) {
		if pi.Status != domain.Waiting {
			return domain.Stay(pi), nil
		}
		v, err := g.Judge(ctx, pi)
		if err != nil {
			return domain.Stay(pi), err
		}
		switch v {
		case Runnable:
			return domain.Become(domain.Scheduled), nil
		case Unrunnable:
			return domain.Become(domain.Cancelled), nil
		default:
			return domain.Stay(pi), nil
		}
	}
}
