package backend

import (
	"time"
)

type BackendConfig struct {
	port       int32
	database   *DatabaseConfig
	storage    *StorageConfig
	compute    []*ComputeConfig
	scheduling *SchedulingConfig
}

// port where the API server listens on.
func (c *BackendConfig) Port() int32 {
	return c.port
}

func (c *BackendConfig) Database() *DatabaseConfig {
	return c.database
}

func (c *BackendConfig) Storage() *StorageConfig {
	return c.storage
}

// Compute resources. Each of them has an unique name.
func (c *BackendConfig) Compute() []*ComputeConfig {
	return c.compute
}

func (c *BackendConfig) Scheduling() *SchedulingConfig {
	return c.scheduling
}

type DatabaseDriver string

const (
	Postgres DatabaseDriver = "postgres"
	Sqlite   DatabaseDriver = "sqlite"
	Mysql    DatabaseDriver = "mysql"
)

type DatabaseConfig struct {
	driver DatabaseDriver
	url    string
}

// Driver of database. default = "postgres"
func (d *DatabaseConfig) Driver() DatabaseDriver {
	return d.driver
}

// Connection string for database.
func (d *DatabaseConfig) URL() string {
	return d.url
}

type StorageType string

const (
	S3Storage     StorageType = "s3"
	MemoryStorage StorageType = "memory"
)

type StorageConfig struct {
	typ StorageType
	s3  *S3Config
}

func (s *StorageConfig) Type() StorageType {
	return s.typ
}

// S3 settings. This is nil unless Type() is "s3".
func (s *StorageConfig) S3() *S3Config {
	return s.s3
}

type S3Config struct {
	endpoint  string
	bucket    string
	accessKey string
	secretKey string
	useSSL    bool
	region    string
}

func (s *S3Config) Endpoint() string {
	return s.endpoint
}

func (s *S3Config) Bucket() string {
	return s.bucket
}

func (s *S3Config) AccessKey() string {
	return s.accessKey
}

func (s *S3Config) SecretKey() string {
	return s.secretKey
}

func (s *S3Config) UseSSL() bool {
	return s.useSSL
}

func (s *S3Config) Region() string {
	return s.region
}

// Configuration for a compute resource.
type ComputeConfig struct {
	name              string
	url               string
	user              string
	password          string
	timeout           time.Duration
	requestsPerSecond float64
	retry             *RetryConfig
}

// Name of compute resource. Instances refer compute resources with this.
func (c *ComputeConfig) Name() string {
	return c.name
}

// Base url of the compute service, ending with "/".
func (c *ComputeConfig) URL() string {
	return c.url
}

func (c *ComputeConfig) User() string {
	return c.user
}

func (c *ComputeConfig) Password() string {
	return c.password
}

// Timeout per request. default = 30s
func (c *ComputeConfig) Timeout() time.Duration {
	return c.timeout
}

// Zero means no limit.
func (c *ComputeConfig) RequestsPerSecond() float64 {
	return c.requestsPerSecond
}

func (c *ComputeConfig) Retry() *RetryConfig {
	return c.retry
}

type RetryConfig struct {
	maxAttempts     uint64
	initialInterval time.Duration
}

// default = 5
func (r *RetryConfig) MaxAttempts() uint64 {
	return r.maxAttempts
}

// default = 200ms
func (r *RetryConfig) InitialInterval() time.Duration {
	return r.initialInterval
}

type SchedulingConfig struct {
	jobIdPrefix     string
	debounce        time.Duration
	stuckThreshold  time.Duration
	registration    *RegistrationConfig
	placeholderRoot string
}

// default = "chris-jid-"
func (s *SchedulingConfig) JobIdPrefix() string {
	return s.jobIdPrefix
}

// How long a sweep waits before picking an unchanged instance again. default = 5s
func (s *SchedulingConfig) Debounce() time.Duration {
	return s.debounce
}

// Instances in progress longer than this are cancelled. default = 240m
func (s *SchedulingConfig) StuckThreshold() time.Duration {
	return s.stuckThreshold
}

func (s *SchedulingConfig) Registration() *RegistrationConfig {
	return s.registration
}

// Storage directory of synthetic input placeholders. default = "SERVICES/PLACEHOLDERS"
func (s *SchedulingConfig) PlaceholderRoot() string {
	return s.placeholderRoot
}

type RegistrationConfig struct {
	maxAttempts int
	interval    time.Duration
}

// default = 10
func (r *RegistrationConfig) MaxAttempts() int {
	return r.maxAttempts
}

// default = 200ms
func (r *RegistrationConfig) Interval() time.Duration {
	return r.interval
}
