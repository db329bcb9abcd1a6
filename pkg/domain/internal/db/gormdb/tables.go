// Package gormdb holds gorm models shared by gorm-backed database implementations.
package gormdb

import (
	"database/sql"
	"time"

	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/utils/compress"
	"gorm.io/gorm"
)

type Feed struct {
	ID        int64 `gorm:"primaryKey"`
	Name      string
	Owner     string `gorm:"index;size:255"`
	CreatedAt time.Time
}

func (*Feed) TableName() string {
	return "feed"
}

type Plugin struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex:idx_plugin_name_version;size:255"`
	Version   string `gorm:"uniqueIndex:idx_plugin_name_version;size:64"`
	Type      string `gorm:"size:8"`
	Image     string
	ExecShell string
	SelfPath  string
	SelfExec  string

	MinCPU     int64
	MaxCPU     int64
	MinMemory  int64
	MaxMemory  int64
	MinWorkers int64
	MaxWorkers int64
	MinGPU     int64
	MaxGPU     int64

	Parameters []PluginParameter `gorm:"foreignKey:PluginID"`
}

func (*Plugin) TableName() string {
	return "plugin"
}

type PluginParameter struct {
	ID       int64  `gorm:"primaryKey"`
	PluginID int64  `gorm:"uniqueIndex:idx_plugin_parameter_name"`
	Name     string `gorm:"uniqueIndex:idx_plugin_parameter_name;size:255"`
	Flag     string
	Type     string `gorm:"size:16"`
	Action   string `gorm:"size:16"`
	Optional bool
	Default  sql.NullString
}

func (*PluginParameter) TableName() string {
	return "plugin_parameter"
}

type PluginInstance struct {
	ID              int64  `gorm:"primaryKey"`
	Title           string
	Status          string    `gorm:"index;size:32"`
	StatusChangedAt time.Time `gorm:"index"`
	StartDate       time.Time
	EndDate         sql.NullTime
	Owner           string `gorm:"size:255"`
	ComputeResource string `gorm:"size:255"`

	CPULimit        int64
	MemoryLimit     int64
	NumberOfWorkers int64
	GPULimit        int64

	ErrorCode string `gorm:"index;size:32"`

	// zstd compressed
	Summary []byte
	Raw     []byte

	PluginID   int64
	PreviousID sql.NullInt64 `gorm:"index"`
	FeedID     int64         `gorm:"index"`

	// picked again only after this time.
	SuspendUntil time.Time `gorm:"index"`

	// who has claimed the row. Claims older than the claim lifetime are void.
	LockOwner sql.NullString `gorm:"index;size:36"`
	LockedAt  sql.NullTime
}

func (*PluginInstance) TableName() string {
	return "plugin_instance"
}

type PluginInstanceParameter struct {
	ID                int64 `gorm:"primaryKey"`
	PluginInstanceID  int64 `gorm:"uniqueIndex:idx_instance_parameter"`
	PluginParameterID int64 `gorm:"uniqueIndex:idx_instance_parameter"`
	Value             string
}

func (*PluginInstanceParameter) TableName() string {
	return "plugin_instance_parameter"
}

type PluginInstanceFile struct {
	ID               int64  `gorm:"primaryKey"`
	PluginInstanceID int64  `gorm:"uniqueIndex:idx_instance_file_path"`
	Path             string `gorm:"uniqueIndex:idx_instance_file_path;size:768"`
	CreatedAt        time.Time
}

func (*PluginInstanceFile) TableName() string {
	return "plugin_instance_file"
}

// Migrate creates or alters tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Feed{}, &Plugin{}, &PluginParameter{},
		&PluginInstance{}, &PluginInstanceParameter{}, &PluginInstanceFile{},
	)
}

func (p PluginParameter) ToDomain() domain.ParameterSpec {
	ps := domain.ParameterSpec{
		Id:       p.ID,
		Name:     p.Name,
		Flag:     p.Flag,
		Type:     domain.ParameterType(p.Type),
		Action:   p.Action,
		Optional: p.Optional,
	}
	if p.Default.Valid {
		d := p.Default.String
		ps.Default = &d
	}
	return ps
}

func (p Plugin) ToDomain() domain.Plugin {
	params := make([]domain.ParameterSpec, 0, len(p.Parameters))
	for _, pp := range p.Parameters {
		params = append(params, pp.ToDomain())
	}
	return domain.Plugin{
		Id:        domain.PluginID(p.ID),
		Name:      p.Name,
		Version:   p.Version,
		Type:      domain.PluginType(p.Type),
		Image:     p.Image,
		ExecShell: p.ExecShell,
		SelfPath:  p.SelfPath,
		SelfExec:  p.SelfExec,
		Limits: domain.LimitRange{
			Min: domain.ResourceLimits{CPU: p.MinCPU, Memory: p.MinMemory, Workers: p.MinWorkers, GPU: p.MinGPU},
			Max: domain.ResourceLimits{CPU: p.MaxCPU, Memory: p.MaxMemory, Workers: p.MaxWorkers, GPU: p.MaxGPU},
		},
		Parameters: params,
	}
}

// ToDomain converts the row into domain model.
//
// Plugin, Feed and Parameters are left empty. Fill them by yourself.
func (pi PluginInstance) ToDomain() (domain.PluginInstance, error) {
	summary, err := compress.Unpack(pi.Summary)
	if err != nil {
		return domain.PluginInstance{}, err
	}
	raw, err := compress.Unpack(pi.Raw)
	if err != nil {
		return domain.PluginInstance{}, err
	}

	ret := domain.PluginInstance{
		Id:              domain.InstanceID(pi.ID),
		Title:           pi.Title,
		Status:          domain.InstanceStatus(pi.Status),
		StatusChangedAt: pi.StatusChangedAt,
		StartDate:       pi.StartDate,
		Owner:           pi.Owner,
		ComputeResource: pi.ComputeResource,
		Limits: domain.ResourceLimits{
			CPU:     pi.CPULimit,
			Memory:  pi.MemoryLimit,
			Workers: pi.NumberOfWorkers,
			GPU:     pi.GPULimit,
		},
		ErrorCode: domain.ErrorCode(pi.ErrorCode),
		Summary:   summary,
		Raw:       raw,
		Plugin:    domain.Plugin{Id: domain.PluginID(pi.PluginID)},
		Feed:      domain.Feed{Id: domain.FeedID(pi.FeedID)},
	}
	if pi.EndDate.Valid {
		end := pi.EndDate.Time
		ret.EndDate = &end
	}
	if pi.PreviousID.Valid {
		prev := domain.InstanceID(pi.PreviousID.Int64)
		ret.Previous = &prev
	}
	return ret, nil
}

func (f PluginInstanceFile) ToDomain() domain.InstanceFile {
	return domain.InstanceFile{
		Id:           f.ID,
		InstanceId:   domain.InstanceID(f.PluginInstanceID),
		Path:         f.Path,
		CreationDate: f.CreatedAt,
	}
}
