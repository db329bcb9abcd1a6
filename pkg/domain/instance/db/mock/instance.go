package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/fnndsc/plinst/pkg/domain"
	dbmock "github.com/fnndsc/plinst/pkg/domain/internal/db/mock"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
)

type InstanceInterface struct {
	Impl struct {
		New                 func(ctx context.Context, spec domain.InstanceSpec) (domain.InstanceID, error)
		Get                 func(ctx context.Context, ids []domain.InstanceID) (map[domain.InstanceID]domain.PluginInstance, error)
		Find                func(ctx context.Context, query domain.InstanceFindQuery) ([]domain.InstanceID, error)
		Ancestry            func(ctx context.Context, id domain.InstanceID) ([]domain.PluginInstance, error)
		PickAndSetStatus    func(ctx context.Context, cursor domain.InstanceCursor, task kdb.Task) (domain.InstanceCursor, bool, error)
		LockAndSetStatus    func(ctx context.Context, id domain.InstanceID, task kdb.Task) (bool, error)
		CompareAndSetStatus func(ctx context.Context, id domain.InstanceID, expected domain.InstanceStatus, update domain.StatusUpdate) (bool, error)
		SetErrorCode        func(ctx context.Context, id domain.InstanceID, code domain.ErrorCode) error
		AddFile             func(ctx context.Context, id domain.InstanceID, path string) (bool, error)
		Files               func(ctx context.Context, id domain.InstanceID) ([]domain.InstanceFile, error)
	}

	Calls struct {
		New                 dbmock.CallLog[domain.InstanceSpec]
		Get                 dbmock.CallLog[[]domain.InstanceID]
		Find                dbmock.CallLog[domain.InstanceFindQuery]
		Ancestry            dbmock.CallLog[domain.InstanceID]
		PickAndSetStatus    dbmock.CallLog[domain.InstanceCursor]
		LockAndSetStatus    dbmock.CallLog[domain.InstanceID]
		CompareAndSetStatus dbmock.CallLog[CompareAndSetStatusArgs]
		SetErrorCode        dbmock.CallLog[SetErrorCodeArgs]
		AddFile             dbmock.CallLog[AddFileArgs]
		Files               dbmock.CallLog[domain.InstanceID]
	}

	mux sync.Mutex
}

type CompareAndSetStatusArgs struct {
	Id       domain.InstanceID
	Expected domain.InstanceStatus
	Update   domain.StatusUpdate
}

type SetErrorCodeArgs struct {
	Id   domain.InstanceID
	Code domain.ErrorCode
}

type AddFileArgs struct {
	Id   domain.InstanceID
	Path string
}

func NewInstanceInterface() *InstanceInterface {
	return &InstanceInterface{}
}

var _ kdb.Interface = &InstanceInterface{}

func (m *InstanceInterface) New(ctx context.Context, spec domain.InstanceSpec) (domain.InstanceID, error) {
	m.mux.Lock()
	m.Calls.New = append(m.Calls.New, spec)
	m.mux.Unlock()
	if m.Impl.New != nil {
		return m.Impl.New(ctx, spec)
	}
	panic(errors.New("it should not be called"))
}

func (m *InstanceInterface) Get(ctx context.Context, ids []domain.InstanceID) (map[domain.InstanceID]domain.PluginInstance, error) {
	m.mux.Lock()
	m.Calls.Get = append(m.Calls.Get, ids)
	m.mux.Unlock()
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, ids)
	}
	panic(errors.New("it should not be called"))
}

func (m *InstanceInterface) Find(ctx context.Context, query domain.InstanceFindQuery) ([]domain.InstanceID, error) {
	m.mux.Lock()
	m.Calls.Find = append(m.Calls.Find, query)
	m.mux.Unlock()
	if m.Impl.Find != nil {
		return m.Impl.Find(ctx, query)
	}
	panic(errors.New("it should not be called"))
}

func (m *InstanceInterface) Ancestry(ctx context.Context, id domain.InstanceID) ([]domain.PluginInstance, error) {
	m.mux.Lock()
	m.Calls.Ancestry = append(m.Calls.Ancestry, id)
	m.mux.Unlock()
	if m.Impl.Ancestry != nil {
		return m.Impl.Ancestry(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *InstanceInterface) PickAndSetStatus(ctx context.Context, cursor domain.InstanceCursor, task kdb.Task) (domain.InstanceCursor, bool, error) {
	m.mux.Lock()
	m.Calls.PickAndSetStatus = append(m.Calls.PickAndSetStatus, cursor)
	m.mux.Unlock()
	if m.Impl.PickAndSetStatus != nil {
		return m.Impl.PickAndSetStatus(ctx, cursor, task)
	}
	panic(errors.New("it should not be called"))
}

func (m *InstanceInterface) LockAndSetStatus(ctx context.Context, id domain.InstanceID, task kdb.Task) (bool, error) {
	m.mux.Lock()
	m.Calls.LockAndSetStatus = append(m.Calls.LockAndSetStatus, id)
	m.mux.Unlock()
	if m.Impl.LockAndSetStatus != nil {
		return m.Impl.LockAndSetStatus(ctx, id, task)
	}
	panic(errors.New("it should not be called"))
}

func (m *InstanceInterface) CompareAndSetStatus(ctx context.Context, id domain.InstanceID, expected domain.InstanceStatus, update domain.StatusUpdate) (bool, error) {
	m.mux.Lock()
	m.Calls.CompareAndSetStatus = append(
		m.Calls.CompareAndSetStatus,
		CompareAndSetStatusArgs{Id: id, Expected: expected, Update: update},
	)
	m.mux.Unlock()
	if m.Impl.CompareAndSetStatus != nil {
		return m.Impl.CompareAndSetStatus(ctx, id, expected, update)
	}
	panic(errors.New("it should not be called"))
}

func (m *InstanceInterface) SetErrorCode(ctx context.Context, id domain.InstanceID, code domain.ErrorCode) error {
	m.mux.Lock()
	m.Calls.SetErrorCode = append(m.Calls.SetErrorCode, SetErrorCodeArgs{Id: id, Code: code})
	m.mux.Unlock()
	if m.Impl.SetErrorCode != nil {
		return m.Impl.SetErrorCode(ctx, id, code)
	}
	panic(errors.New("it should not be called"))
}

func (m *InstanceInterface) AddFile(ctx context.Context, id domain.InstanceID, path string) (bool, error) {
	m.mux.Lock()
	m.Calls.AddFile = append(m.Calls.AddFile, AddFileArgs{Id: id, Path: path})
	m.mux.Unlock()
	if m.Impl.AddFile != nil {
		return m.Impl.AddFile(ctx, id, path)
	}
	panic(errors.New("it should not be called"))
}

func (m *InstanceInterface) Files(ctx context.Context, id domain.InstanceID) ([]domain.InstanceFile, error) {
	m.mux.Lock()
	m.Calls.Files = append(m.Calls.Files, id)
	m.mux.Unlock()
	if m.Impl.Files != nil {
		return m.Impl.Files(ctx, id)
	}
	panic(errors.New("it should not be called"))
}
