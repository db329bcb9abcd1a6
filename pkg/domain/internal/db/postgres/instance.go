// Package postgres holds queries shared by postgres database implementations.
package postgres

import (
	"context"
	"time"

	kpool "github.com/fnndsc/plinst/pkg/conn/db/postgres/pool"
	"github.com/fnndsc/plinst/pkg/conn/db/postgres/scanner"
	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/utils/compress"
	"github.com/fnndsc/plinst/pkg/utils/slices"
)

type instanceRow struct {
	Id              int64
	Title           string
	Status          string
	StatusChangedAt time.Time
	StartDate       time.Time
	EndDate         *time.Time
	Owner           string
	ComputeResource string
	CpuLimit        int64
	MemoryLimit     int64
	NumberOfWorkers int64
	GpuLimit        int64
	ErrorCode       string
	Summary         []byte
	Raw             []byte
	PluginId        int64
	PreviousId      *int64
	FeedId          int64
	FeedName        string
	FeedOwner       string
}

func (r instanceRow) toDomain() (domain.PluginInstance, error) {
	summary, err := compress.Unpack(r.Summary)
	if err != nil {
		return domain.PluginInstance{}, err
	}
	raw, err := compress.Unpack(r.Raw)
	if err != nil {
		return domain.PluginInstance{}, err
	}
	pi := domain.PluginInstance{
		Id:              domain.InstanceID(r.Id),
		Title:           r.Title,
		Status:          domain.InstanceStatus(r.Status),
		StatusChangedAt: r.StatusChangedAt,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		Owner:           r.Owner,
		ComputeResource: r.ComputeResource,
		Limits: domain.ResourceLimits{
			CPU: r.CpuLimit, Memory: r.MemoryLimit, Workers: r.NumberOfWorkers, GPU: r.GpuLimit,
		},
		ErrorCode: domain.ErrorCode(r.ErrorCode),
		Summary:   summary,
		Raw:       raw,
		Feed:      domain.Feed{Id: domain.FeedID(r.FeedId), Name: r.FeedName, Owner: r.FeedOwner},
	}
	if r.PreviousId != nil {
		prev := domain.InstanceID(*r.PreviousId)
		pi.Previous = &prev
	}
	return pi, nil
}

type parameterValueRow struct {
	PluginInstanceId  int64
	PluginParameterId int64
	Value             string
}

// GetInstances retrieves instances with their plugins, feeds and parameters.
func GetInstances(ctx context.Context, conn kpool.Queryer, ids []domain.InstanceID) (map[domain.InstanceID]domain.PluginInstance, error) {
	ret := map[domain.InstanceID]domain.PluginInstance{}
	if len(ids) == 0 {
		return ret, nil
	}
	rawIds := slices.Map(ids, func(id domain.InstanceID) int64 { return int64(id) })

	rows, err := scanner.New[instanceRow]().QueryAll(
		ctx, conn,
		`
		select
			"pi"."id", "pi"."title", "pi"."status", "pi"."status_changed_at",
			"pi"."start_date", "pi"."end_date", "pi"."owner", "pi"."compute_resource",
			"pi"."cpu_limit", "pi"."memory_limit", "pi"."number_of_workers", "pi"."gpu_limit",
			"pi"."error_code", "pi"."summary", "pi"."raw",
			"pi"."plugin_id", "pi"."previous_id", "pi"."feed_id",
			"feed"."name" as "feed_name", "feed"."owner" as "feed_owner"
		from "plugin_instance" as "pi"
		inner join "feed" on "feed"."id" = "pi"."feed_id"
		where "pi"."id" = any($1::bigint[])
		`,
		rawIds,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return ret, nil
	}

	plugins, err := GetPlugins(
		ctx, conn,
		slices.Uniq(slices.Map(rows, func(r instanceRow) domain.PluginID { return domain.PluginID(r.PluginId) })),
	)
	if err != nil {
		return nil, err
	}

	values, err := scanner.New[parameterValueRow]().QueryAll(
		ctx, conn,
		`
		select "plugin_instance_id", "plugin_parameter_id", "value"
		from "plugin_instance_parameter"
		where "plugin_instance_id" = any($1::bigint[])
		order by "id"
		`,
		rawIds,
	)
	if err != nil {
		return nil, err
	}
	valuesByInstance := map[int64][]parameterValueRow{}
	for _, v := range values {
		valuesByInstance[v.PluginInstanceId] = append(valuesByInstance[v.PluginInstanceId], v)
	}

	for _, r := range rows {
		pi, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		pi.Plugin = plugins[domain.PluginID(r.PluginId)]
		for _, v := range valuesByInstance[r.Id] {
			spec, ok := slices.First(pi.Plugin.Parameters, func(ps domain.ParameterSpec) bool {
				return ps.Id == v.PluginParameterId
			})
			if !ok {
				continue
			}
			pi.Parameters = append(pi.Parameters, domain.ParameterValue{Spec: spec, Value: v.Value})
		}
		ret[pi.Id] = pi
	}
	return ret, nil
}

type pluginRow struct {
	Id         int64
	Name       string
	Version    string
	Type       string
	Image      string
	ExecShell  string
	SelfPath   string
	SelfExec   string
	MinCpu     int64
	MaxCpu     int64
	MinMemory  int64
	MaxMemory  int64
	MinWorkers int64
	MaxWorkers int64
	MinGpu     int64
	MaxGpu     int64
}

type parameterRow struct {
	Id       int64
	PluginId int64
	Name     string
	Flag     string
	Type     string
	Action   string
	Optional bool
	Default  *string `sql:"default"`
}

// GetPlugins retrieves plugins with their parameters.
func GetPlugins(ctx context.Context, conn kpool.Queryer, ids []domain.PluginID) (map[domain.PluginID]domain.Plugin, error) {
	ret := map[domain.PluginID]domain.Plugin{}
	if len(ids) == 0 {
		return ret, nil
	}
	rawIds := slices.Map(ids, func(id domain.PluginID) int64 { return int64(id) })

	rows, err := scanner.New[pluginRow]().QueryAll(
		ctx, conn,
		`
		select
			"id", "name", "version", "type", "image", "exec_shell", "self_path", "self_exec",
			"min_cpu", "max_cpu", "min_memory", "max_memory",
			"min_workers", "max_workers", "min_gpu", "max_gpu"
		from "plugin"
		where "id" = any($1::bigint[])
		`,
		rawIds,
	)
	if err != nil {
		return nil, err
	}

	params, err := scanner.New[parameterRow]().QueryAll(
		ctx, conn,
		`
		select "id", "plugin_id", "name", "flag", "type", "action", "optional", "default"
		from "plugin_parameter"
		where "plugin_id" = any($1::bigint[])
		order by "id"
		`,
		rawIds,
	)
	if err != nil {
		return nil, err
	}
	paramsByPlugin := map[int64][]domain.ParameterSpec{}
	for _, p := range params {
		paramsByPlugin[p.PluginId] = append(paramsByPlugin[p.PluginId], domain.ParameterSpec{
			Id:       p.Id,
			Name:     p.Name,
			Flag:     p.Flag,
			Type:     domain.ParameterType(p.Type),
			Action:   p.Action,
			Optional: p.Optional,
			Default:  p.Default,
		})
	}

	for _, r := range rows {
		ret[domain.PluginID(r.Id)] = domain.Plugin{
			Id:        domain.PluginID(r.Id),
			Name:      r.Name,
			Version:   r.Version,
			Type:      domain.PluginType(r.Type),
			Image:     r.Image,
			ExecShell: r.ExecShell,
			SelfPath:  r.SelfPath,
			SelfExec:  r.SelfExec,
			Limits: domain.LimitRange{
				Min: domain.ResourceLimits{CPU: r.MinCpu, Memory: r.MinMemory, Workers: r.MinWorkers, GPU: r.MinGpu},
				Max: domain.ResourceLimits{CPU: r.MaxCpu, Memory: r.MaxMemory, Workers: r.MaxWorkers, GPU: r.MaxGpu},
			},
			Parameters: paramsByPlugin[r.Id],
		}
	}
	return ret, nil
}
