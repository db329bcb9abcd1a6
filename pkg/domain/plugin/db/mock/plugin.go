package mock

import (
	"context"
	"errors"

	"github.com/fnndsc/plinst/pkg/domain"
	dbmock "github.com/fnndsc/plinst/pkg/domain/internal/db/mock"
	kdb "github.com/fnndsc/plinst/pkg/domain/plugin/db"
)

type PluginInterface struct {
	Impl struct {
		Register func(ctx context.Context, spec domain.PluginSpec) (domain.PluginID, error)
		Get      func(ctx context.Context, ids []domain.PluginID) (map[domain.PluginID]domain.Plugin, error)
	}
	Calls struct {
		Register dbmock.CallLog[domain.PluginSpec]
		Get      dbmock.CallLog[[]domain.PluginID]
	}
}

func NewPluginInterface() *PluginInterface {
	return &PluginInterface{}
}

var _ kdb.Interface = &PluginInterface{}

func (m *PluginInterface) Register(ctx context.Context, spec domain.PluginSpec) (domain.PluginID, error) {
	m.Calls.Register = append(m.Calls.Register, spec)
	if m.Impl.Register != nil {
		return m.Impl.Register(ctx, spec)
	}
	panic(errors.New("it should not be called"))
}

func (m *PluginInterface) Get(ctx context.Context, ids []domain.PluginID) (map[domain.PluginID]domain.Plugin, error) {
	m.Calls.Get = append(m.Calls.Get, ids)
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, ids)
	}
	panic(errors.New("it should not be called"))
}
