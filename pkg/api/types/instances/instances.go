// Package instances holds payloads of plugin instances in the HTTP API and hooks.
package instances

import (
	"encoding/json"

	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/utils/rfctime"
)

type Plugin struct {
	Id      int64  `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Type    string `json:"type"`
}

type Feed struct {
	Id   int64  `json:"id"`
	Name string `json:"name"`
}

type Limits struct {
	// millicores
	CPU int64 `json:"cpuLimit"`

	// MiB
	Memory int64 `json:"memoryLimit"`

	Workers int64 `json:"numberOfWorkers"`
	GPU     int64 `json:"gpuLimit"`
}

type Parameter struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type Detail struct {
	Id              int64            `json:"id"`
	Title           string           `json:"title"`
	Status          string           `json:"status"`
	StatusChangedAt rfctime.RFC3339  `json:"statusChangedAt"`
	StartDate       rfctime.RFC3339  `json:"startDate"`
	EndDate         *rfctime.RFC3339 `json:"endDate,omitempty"`
	Owner           string           `json:"owner"`
	ComputeResource string           `json:"computeResource"`
	Limits          Limits           `json:"limits"`
	ErrorCode       string           `json:"errorCode,omitempty"`

	// structured status summary from the compute resource. Omitted unless it is JSON.
	Summary json.RawMessage `json:"summary,omitempty"`

	Plugin     Plugin      `json:"plugin"`
	PreviousId *int64      `json:"previousId,omitempty"`
	Feed       Feed        `json:"feed"`
	Parameters []Parameter `json:"parameters"`
}

// ComposeDetail converts an instance into its payload.
//
// Raw diagnostics are left out. They can be large and are for operators.
func ComposeDetail(pi domain.PluginInstance) Detail {
	var end *rfctime.RFC3339
	if pi.EndDate != nil {
		e := rfctime.RFC3339(*pi.EndDate)
		end = &e
	}
	var prev *int64
	if pi.Previous != nil {
		p := int64(*pi.Previous)
		prev = &p
	}
	var summary json.RawMessage
	if len(pi.Summary) != 0 && json.Valid(pi.Summary) {
		summary = json.RawMessage(pi.Summary)
	}

	params := make([]Parameter, 0, len(pi.Parameters))
	for _, p := range pi.Parameters {
		params = append(params, Parameter{Name: p.Spec.Name, Type: p.Spec.Type.String(), Value: p.Value})
	}

	return Detail{
		Id:              int64(pi.Id),
		Title:           pi.Title,
		Status:          pi.Status.String(),
		StatusChangedAt: rfctime.RFC3339(pi.StatusChangedAt),
		StartDate:       rfctime.RFC3339(pi.StartDate),
		EndDate:         end,
		Owner:           pi.Owner,
		ComputeResource: pi.ComputeResource,
		Limits: Limits{
			CPU:     pi.Limits.CPU,
			Memory:  pi.Limits.Memory,
			Workers: pi.Limits.Workers,
			GPU:     pi.Limits.GPU,
		},
		ErrorCode: pi.ErrorCode.String(),
		Summary:   summary,
		Plugin: Plugin{
			Id:      int64(pi.Plugin.Id),
			Name:    pi.Plugin.Name,
			Version: pi.Plugin.Version,
			Type:    pi.Plugin.Type.String(),
		},
		PreviousId: prev,
		Feed:       Feed{Id: int64(pi.Feed.Id), Name: pi.Feed.Name},
		Parameters: params,
	}
}

type File struct {
	Id           int64           `json:"id"`
	Path         string          `json:"path"`
	CreationDate rfctime.RFC3339 `json:"creationDate"`
}

func ComposeFile(f domain.InstanceFile) File {
	return File{Id: f.Id, Path: f.Path, CreationDate: rfctime.RFC3339(f.CreationDate)}
}

// CreateRequest is the body of creating an instance.
type CreateRequest struct {
	PluginId        int64             `json:"pluginId"`
	Title           string            `json:"title"`
	Previous        *int64            `json:"previousId,omitempty"`
	ComputeResource string            `json:"computeResource"`
	CPU             *string           `json:"cpuLimit,omitempty"`
	Memory          *string           `json:"memoryLimit,omitempty"`
	Workers         *int64            `json:"numberOfWorkers,omitempty"`
	GPU             *int64            `json:"gpuLimit,omitempty"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	FeedName        string            `json:"feedName,omitempty"`
}

// UpdateRequest is the body of updating an instance. Only "cancelled" is accepted as status.
type UpdateRequest struct {
	Status string `json:"status"`
}
