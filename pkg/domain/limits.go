package domain

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
)

// LimitRequest is a resource request given by clients.
//
// Each field is optional. Unset fields default to the minimum of the plugin.
type LimitRequest struct {
	// cpu quantity, like "1000m" or "2".
	CPU *string

	// memory quantity, like "200Mi" or "1Gi".
	Memory *string

	Workers *int64
	GPU     *int64
}

// Resolve resolves the request within the plugin's range.
//
// # Returns
//
// - ResourceLimits: resolved limits, cpu in millicores and memory in MiB.
//
// - error: ErrInvalidRequest when a quantity is malformed or out of range.
func (lr LimitRequest) Resolve(rng LimitRange) (ResourceLimits, error) {
	ret := rng.Min

	if lr.CPU != nil {
		q, err := resource.ParseQuantity(*lr.CPU)
		if err != nil {
			return ResourceLimits{}, fmt.Errorf("%w: cpu: %s", ErrInvalidRequest, err)
		}
		ret.CPU = q.MilliValue()
	}
	if lr.Memory != nil {
		q, err := resource.ParseQuantity(*lr.Memory)
		if err != nil {
			return ResourceLimits{}, fmt.Errorf("%w: memory: %s", ErrInvalidRequest, err)
		}
		// round up to MiB
		ret.Memory = (q.Value() + (1<<20 - 1)) >> 20
	}
	if lr.Workers != nil {
		ret.Workers = *lr.Workers
	}
	if lr.GPU != nil {
		ret.GPU = *lr.GPU
	}

	for _, c := range []struct {
		name        string
		v, min, max int64
	}{
		{name: "cpu (millicores)", v: ret.CPU, min: rng.Min.CPU, max: rng.Max.CPU},
		{name: "memory (MiB)", v: ret.Memory, min: rng.Min.Memory, max: rng.Max.Memory},
		{name: "workers", v: ret.Workers, min: rng.Min.Workers, max: rng.Max.Workers},
		{name: "gpu", v: ret.GPU, min: rng.Min.GPU, max: rng.Max.GPU},
	} {
		if c.v < c.min || c.max < c.v {
			return ResourceLimits{}, fmt.Errorf(
				"%w: %s should be in [%d, %d], but %d",
				ErrInvalidRequest, c.name, c.min, c.max, c.v,
			)
		}
	}

	return ret, nil
}
