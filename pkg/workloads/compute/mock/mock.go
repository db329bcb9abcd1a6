package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/fnndsc/plinst/pkg/workloads/compute"
)

type Client struct {
	Impl struct {
		Submit func(ctx context.Context, spec compute.JobSpec) error
		Status func(ctx context.Context, jobId string) (compute.StructuredStatus, error)
		Delete func(ctx context.Context, jobId string) error
	}

	Calls struct {
		Submit []compute.JobSpec
		Status []string
		Delete []string
	}

	mux sync.Mutex
}

var _ compute.Client = &Client{}

func NewClient() *Client {
	return &Client{}
}

func (m *Client) Submit(ctx context.Context, spec compute.JobSpec) error {
	m.mux.Lock()
	m.Calls.Submit = append(m.Calls.Submit, spec)
	m.mux.Unlock()
	if m.Impl.Submit != nil {
		return m.Impl.Submit(ctx, spec)
	}
	panic(errors.New("it should not be called"))
}

func (m *Client) Status(ctx context.Context, jobId string) (compute.StructuredStatus, error) {
	m.mux.Lock()
	m.Calls.Status = append(m.Calls.Status, jobId)
	m.mux.Unlock()
	if m.Impl.Status != nil {
		return m.Impl.Status(ctx, jobId)
	}
	panic(errors.New("it should not be called"))
}

func (m *Client) Delete(ctx context.Context, jobId string) error {
	m.mux.Lock()
	m.Calls.Delete = append(m.Calls.Delete, jobId)
	m.mux.Unlock()
	if m.Impl.Delete != nil {
		return m.Impl.Delete(ctx, jobId)
	}
	panic(errors.New("it should not be called"))
}

// SubmitCalls returns a snapshot of Calls.Submit.
func (m *Client) SubmitCalls() []compute.JobSpec {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]compute.JobSpec{}, m.Calls.Submit...)
}

// DeleteCalls returns a snapshot of Calls.Delete.
func (m *Client) DeleteCalls() []string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]string{}, m.Calls.Delete...)
}

// Resolver resolves any name in Clients.
type Resolver struct {
	Clients map[string]compute.Client
}

func (r Resolver) Resolve(name string) (compute.Client, error) {
	return compute.NewResolver(r.Clients).Resolve(name)
}
