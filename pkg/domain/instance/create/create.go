// Package create validates instance requests, records them and settles their first status.
package create

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fnndsc/plinst/pkg/domain"
	domerr "github.com/fnndsc/plinst/pkg/domain/errors"
	"github.com/fnndsc/plinst/pkg/domain/errors/dberrors"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/domain/instance/gate"
	plugindb "github.com/fnndsc/plinst/pkg/domain/plugin/db"
	"github.com/fnndsc/plinst/pkg/metrics"
)

// Request is an instance requested by a client.
type Request struct {
	PluginId domain.PluginID
	Title    string
	Owner    string

	// required for ds and ts. It should be empty for fs.
	Previous *domain.InstanceID

	ComputeResource string
	Limits          domain.LimitRequest

	// parameter name to value.
	Parameters map[string]string

	// name of the new feed, for fs. The title or the plugin name is used if empty.
	FeedName string
}

type Creator struct {
	instances kdb.Interface
	plugins   plugindb.Interface
	gate      *gate.Gate
}

func New(instances kdb.Interface, plugins plugindb.Interface, g *gate.Gate) *Creator {
	return &Creator{instances: instances, plugins: plugins, gate: g}
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, fmt.Sprintf(format, a...))
}

// Validate checks req and resolves it into an instance spec.
//
// # Returns
//
// - domain.InstanceSpec: spec with resolved limits and parameters, including defaults.
//
// - error: ErrInvalidRequest when req is rejected. Errors from database otherwise.
func (c *Creator) Validate(ctx context.Context, req Request) (domain.InstanceSpec, error) {
	found, err := c.plugins.Get(ctx, []domain.PluginID{req.PluginId})
	if err != nil {
		return domain.InstanceSpec{}, err
	}
	plugin, ok := found[req.PluginId]
	if !ok {
		return domain.InstanceSpec{}, invalid("plugin %d is not found", req.PluginId)
	}
	if strings.TrimSpace(req.Owner) == "" {
		return domain.InstanceSpec{}, invalid("owner is required")
	}

	limits, err := req.Limits.Resolve(plugin.Limits)
	if err != nil {
		return domain.InstanceSpec{}, err
	}

	params, err := bindParameters(plugin, req.Parameters)
	if err != nil {
		return domain.InstanceSpec{}, err
	}

	spec := domain.InstanceSpec{
		PluginId:        plugin.Id,
		Title:           req.Title,
		Owner:           req.Owner,
		Previous:        req.Previous,
		ComputeResource: req.ComputeResource,
		Limits:          limits,
		Parameters:      params,
	}

	switch plugin.Type {
	case domain.FS:
		if req.Previous != nil {
			return domain.InstanceSpec{}, invalid("fs plugin %s cannot have previous", plugin.Name)
		}
		spec.FeedName = req.FeedName
		if spec.FeedName == "" {
			spec.FeedName = req.Title
		}
		if spec.FeedName == "" {
			spec.FeedName = plugin.Name
		}
		return spec, nil
	case domain.DS, domain.TS:
		if req.Previous == nil {
			return domain.InstanceSpec{}, invalid("%s plugin %s requires previous", plugin.Type, plugin.Name)
		}
		if err := c.validateUpstreams(ctx, plugin, *req.Previous, params[domain.ParamPluginInstances]); err != nil {
			return domain.InstanceSpec{}, err
		}
		return spec, nil
	default:
		return domain.InstanceSpec{}, invalid("unknown plugin type %q", plugin.Type)
	}
}

// validateUpstreams checks that previous and ts ancestors exist in a feed.
func (c *Creator) validateUpstreams(ctx context.Context, plugin domain.Plugin, previous domain.InstanceID, ancestors string) error {
	upstreams := []domain.InstanceID{previous}
	if plugin.Type == domain.TS {
		ids, err := domain.ParseInstanceIDs(ancestors)
		if err != nil {
			return err
		}
		if len(ids) != 0 {
			contains := false
			for _, id := range ids {
				contains = contains || id == previous
			}
			if !contains {
				return invalid(
					"%s (%s) should contain previous (%d)",
					domain.ParamPluginInstances, ancestors, previous,
				)
			}
			upstreams = ids
		}
	}

	found, err := c.instances.Get(ctx, upstreams)
	if err != nil {
		return err
	}
	prev, ok := found[previous]
	if !ok {
		return invalid("previous instance %d is not found", previous)
	}
	for _, id := range upstreams {
		u, ok := found[id]
		if !ok {
			return invalid("instance %d is not found", id)
		}
		if u.Feed.Id != prev.Feed.Id {
			return invalid("instance %d is in another feed from previous (%d)", id, previous)
		}
	}
	return nil
}

// bindParameters checks values against declarations of plugin, and fills defaults.
func bindParameters(plugin domain.Plugin, values map[string]string) (map[string]string, error) {
	bound := map[string]string{}
	for name := range values {
		if _, ok := plugin.ParameterByName(name); !ok {
			return nil, invalid("plugin %s has no parameter %q", plugin.Name, name)
		}
	}

	for _, ps := range plugin.Parameters {
		v, ok := values[ps.Name]
		if !ok {
			if ps.Default != nil {
				bound[ps.Name] = *ps.Default
				continue
			}
			if !ps.Optional {
				return nil, invalid("parameter %q is required", ps.Name)
			}
			continue
		}
		if err := checkValue(ps, v); err != nil {
			return nil, err
		}
		bound[ps.Name] = v
	}
	return bound, nil
}

func checkValue(ps domain.ParameterSpec, v string) error {
	var err error
	switch ps.Type {
	case domain.IntegerParam:
		_, err = strconv.ParseInt(v, 10, 64)
	case domain.FloatParam:
		_, err = strconv.ParseFloat(v, 64)
	case domain.BooleanParam:
		_, err = strconv.ParseBool(v)
	case domain.PathParam, domain.UnextPathParam:
		if strings.TrimSpace(v) == "" {
			err = errors.New("empty path")
		}
	}
	if err != nil {
		return invalid("parameter %q (%s): %q: %s", ps.Name, ps.Type, v, err)
	}
	return nil
}

// Create validates req, records the instance, and settles its first status.
//
// The new instance moves created -> waiting, and then to scheduled if it is runnable,
// or to cancelled if it never gets runnable.
// Jobs are not submitted here.
func (c *Creator) Create(ctx context.Context, req Request) (domain.PluginInstance, error) {
	spec, err := c.Validate(ctx, req)
	if err != nil {
		return domain.PluginInstance{}, err
	}

	id, err := c.instances.New(ctx, spec)
	if err != nil {
		if errors.Is(err, domerr.ErrMissing) {
			// upstreams have gone since validation.
			return domain.PluginInstance{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
		}
		return domain.PluginInstance{}, err
	}

	// when locked, the promote sweep is moving it.
	if _, err := c.instances.CompareAndSetStatus(
		ctx, id, domain.Created, domain.Become(domain.Waiting),
	); err != nil && !errors.Is(err, domerr.ErrLocked) {
		return domain.PluginInstance{}, err
	}
	changed, err := c.instances.LockAndSetStatus(ctx, id, c.gate.Settle(ctx))
	if err != nil {
		return domain.PluginInstance{}, err
	}

	found, err := c.instances.Get(ctx, []domain.InstanceID{id})
	if err != nil {
		return domain.PluginInstance{}, err
	}
	pi, ok := found[id]
	if !ok {
		return domain.PluginInstance{}, dberrors.Missing{Table: "plugin_instance", Identity: fmt.Sprintf("id = %d", id)}
	}
	if changed {
		switch pi.Status {
		case domain.Scheduled:
			metrics.Promotions.Inc()
		case domain.Cancelled:
			metrics.UnrunnableCancels.Inc()
		}
	}
	return pi, nil
}
