package backend

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
//
// All types named `pkg/configs/backend.XxxMarshall` are `Marshalled[*Xxx]` .
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

type BackendConfigMarshall struct {
	Port       int32                     `yaml:"port"`
	Database   *DatabaseConfigMarshall   `yaml:"database"`
	Storage    *StorageConfigMarshall    `yaml:"storage"`
	Compute    []*ComputeConfigMarshall  `yaml:"compute"`
	Scheduling *SchedulingConfigMarshall `yaml:"scheduling,omitempty"`
}

var _ Marshalled[*BackendConfig] = &BackendConfigMarshall{}

func (b *BackendConfigMarshall) trySeal(path string) *BackendConfig {
	port := b.Port
	if port == 0 {
		port = 8080
	}

	compute := make([]*ComputeConfig, len(b.Compute))
	names := map[string]struct{}{}
	for i, c := range b.Compute {
		p := fmt.Sprintf("%s.compute[%d]", path, i)
		compute[i] = nonnil(c, p).trySeal(p)
		if _, ok := names[compute[i].name]; ok {
			panic(fmt.Sprintf("%s.name is duplicated: %s", p, compute[i].name))
		}
		names[compute[i].name] = struct{}{}
	}
	if len(compute) == 0 {
		panic(path + ".compute is required")
	}

	scheduling := b.Scheduling
	if scheduling == nil {
		scheduling = &SchedulingConfigMarshall{}
	}

	return &BackendConfig{
		port:       port,
		database:   nonnil(b.Database, path+".database").trySeal(path + ".database"),
		storage:    nonnil(b.Storage, path+".storage").trySeal(path + ".storage"),
		compute:    compute,
		scheduling: scheduling.trySeal(path + ".scheduling"),
	}
}

type DatabaseConfigMarshall struct {
	Driver string `yaml:"driver,omitempty"`
	URL    string `yaml:"url"`
}

func (d *DatabaseConfigMarshall) trySeal(path string) *DatabaseConfig {
	driver := DatabaseDriver(d.Driver)
	switch driver {
	case "":
		driver = Postgres
	case Postgres, Sqlite, Mysql:
	default:
		panic(fmt.Sprintf("%s.driver should be one of postgres, sqlite or mysql: %s", path, d.Driver))
	}
	return &DatabaseConfig{
		driver: driver,
		url:    required(d.URL, path+".url"),
	}
}

type StorageConfigMarshall struct {
	Type string            `yaml:"type"`
	S3   *S3ConfigMarshall `yaml:"s3,omitempty"`
}

func (s *StorageConfigMarshall) trySeal(path string) *StorageConfig {
	switch typ := StorageType(required(s.Type, path+".type")); typ {
	case S3Storage:
		return &StorageConfig{
			typ: typ,
			s3:  nonnil(s.S3, path+".s3").trySeal(path + ".s3"),
		}
	case MemoryStorage:
		return &StorageConfig{typ: typ}
	default:
		panic(fmt.Sprintf("%s.type should be s3 or memory: %s", path, s.Type))
	}
}

type S3ConfigMarshall struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL,omitempty"`
	Region    string `yaml:"region,omitempty"`
}

func (s *S3ConfigMarshall) trySeal(path string) *S3Config {
	return &S3Config{
		endpoint:  required(s.Endpoint, path+".endpoint"),
		bucket:    required(s.Bucket, path+".bucket"),
		accessKey: required(s.AccessKey, path+".accessKey"),
		secretKey: required(s.SecretKey, path+".secretKey"),
		useSSL:    s.UseSSL,
		region:    s.Region,
	}
}

type ComputeConfigMarshall struct {
	Name              string               `yaml:"name"`
	URL               string               `yaml:"url"`
	User              string               `yaml:"user"`
	Password          string               `yaml:"password"`
	Timeout           string               `yaml:"timeout,omitempty"`
	RequestsPerSecond float64              `yaml:"requestsPerSecond,omitempty"`
	Retry             *RetryConfigMarshall `yaml:"retry,omitempty"`
}

func (c *ComputeConfigMarshall) trySeal(path string) *ComputeConfig {
	u := required(c.URL, path+".url")
	if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		panic(fmt.Sprintf("%s.url should be an absolute url: %s", path, u))
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	if c.RequestsPerSecond < 0 {
		panic(path + ".requestsPerSecond should not be negative")
	}

	retry := c.Retry
	if retry == nil {
		retry = &RetryConfigMarshall{}
	}

	return &ComputeConfig{
		name:              required(c.Name, path+".name"),
		url:               u,
		user:              required(c.User, path+".user"),
		password:          required(c.Password, path+".password"),
		timeout:           duration(c.Timeout, 30*time.Second, path+".timeout"),
		requestsPerSecond: c.RequestsPerSecond,
		retry:             retry.trySeal(path + ".retry"),
	}
}

type RetryConfigMarshall struct {
	MaxAttempts     uint64 `yaml:"maxAttempts,omitempty"`
	InitialInterval string `yaml:"initialInterval,omitempty"`
}

func (r *RetryConfigMarshall) trySeal(path string) *RetryConfig {
	attempts := r.MaxAttempts
	if attempts == 0 {
		attempts = 5
	}
	return &RetryConfig{
		maxAttempts:     attempts,
		initialInterval: duration(r.InitialInterval, 200*time.Millisecond, path+".initialInterval"),
	}
}

type SchedulingConfigMarshall struct {
	JobIdPrefix     string                      `yaml:"jobIdPrefix,omitempty"`
	Debounce        string                      `yaml:"debounce,omitempty"`
	StuckThreshold  string                      `yaml:"stuckThreshold,omitempty"`
	Registration    *RegistrationConfigMarshall `yaml:"registration,omitempty"`
	PlaceholderRoot string                      `yaml:"placeholderRoot,omitempty"`
}

func (s *SchedulingConfigMarshall) trySeal(path string) *SchedulingConfig {
	prefix := s.JobIdPrefix
	if prefix == "" {
		prefix = "chris-jid-"
	}
	root := strings.Trim(s.PlaceholderRoot, "/")
	if root == "" {
		root = "SERVICES/PLACEHOLDERS"
	}
	reg := s.Registration
	if reg == nil {
		reg = &RegistrationConfigMarshall{}
	}

	return &SchedulingConfig{
		jobIdPrefix:     prefix,
		debounce:        duration(s.Debounce, 5*time.Second, path+".debounce"),
		stuckThreshold:  duration(s.StuckThreshold, 240*time.Minute, path+".stuckThreshold"),
		registration:    reg.trySeal(path + ".registration"),
		placeholderRoot: root,
	}
}

type RegistrationConfigMarshall struct {
	MaxAttempts int    `yaml:"maxAttempts,omitempty"`
	Interval    string `yaml:"interval,omitempty"`
}

func (r *RegistrationConfigMarshall) trySeal(path string) *RegistrationConfig {
	attempts := r.MaxAttempts
	if attempts < 0 {
		panic(path + ".maxAttempts should not be negative")
	}
	if attempts == 0 {
		attempts = 10
	}
	return &RegistrationConfig{
		maxAttempts: attempts,
		interval:    duration(r.Interval, 200*time.Millisecond, path+".interval"),
	}
}

// duration parses v, or returns defaultValue when v is empty.
func duration(v string, defaultValue time.Duration, path string) time.Duration {
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed: %w", path, err))
	}
	if d < 0 {
		panic(path + " should not be negative")
	}
	return d
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}
