package backend_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	kback "github.com/fnndsc/plinst/pkg/configs/backend"
)

func TestConfigMarshall(t *testing.T) {
	t.Run("it loads config from yaml: ", func(t *testing.T) {
		backendYml := []byte(`
port: 12345
database:
  driver: sqlite
  url: file:plinst.db
storage:
  type: s3
  s3:
    endpoint: minio:9000
    bucket: chris
    accessKey: minio
    secretKey: minio1234
    region: us-east-1
compute:
  - name: host
    url: http://pfcon:30005/api/v1
    user: pfcon
    password: pfcon1234
    timeout: 10s
    requestsPerSecond: 5
    retry:
      maxAttempts: 3
      initialInterval: 100ms
  - name: moc
    url: https://pfcon.example.com/api/v1/
    user: moc
    password: moc1234
scheduling:
  jobIdPrefix: test-jid-
  debounce: 1s
  stuckThreshold: 30m
  registration:
    maxAttempts: 4
    interval: 50ms
  placeholderRoot: /SERVICES/EMPTY/
`)
		result, err := kback.Unmarshal(backendYml)
		if err != nil {
			t.Fatalf("failed to parse config.: %v", err)
		}

		t.Run(".port", func(t *testing.T) {
			if actual, expected := result.Port(), int32(12345); actual != expected {
				t.Errorf("mismatch. (actual, expected) = (%d, %d)", actual, expected)
			}
		})

		t.Run(".database", func(t *testing.T) {
			db := result.Database()
			if db.Driver() != kback.Sqlite || db.URL() != "file:plinst.db" {
				t.Errorf("mismatch. (actual, expected) = (%s %s, %s %s)", db.Driver(), db.URL(), kback.Sqlite, "file:plinst.db")
			}
		})

		t.Run(".storage", func(t *testing.T) {
			st := result.Storage()
			if st.Type() != kback.S3Storage {
				t.Errorf("type: (actual, expected) = (%s, %s)", st.Type(), kback.S3Storage)
			}
			s3 := st.S3()
			if s3.Endpoint() != "minio:9000" || s3.Bucket() != "chris" ||
				s3.AccessKey() != "minio" || s3.SecretKey() != "minio1234" ||
				s3.UseSSL() || s3.Region() != "us-east-1" {
				t.Errorf("unexpected s3 config: %+v", s3)
			}
		})

		t.Run(".compute[0]", func(t *testing.T) {
			c := result.Compute()[0]
			if c.Name() != "host" || c.User() != "pfcon" || c.Password() != "pfcon1234" {
				t.Errorf("unexpected compute: %+v", c)
			}
			if actual, expected := c.URL(), "http://pfcon:30005/api/v1/"; actual != expected {
				t.Errorf("url: (actual, expected) = (%s, %s)", actual, expected)
			}
			if c.Timeout() != 10*time.Second || c.RequestsPerSecond() != 5 {
				t.Errorf("unexpected limits: timeout=%s, rps=%f", c.Timeout(), c.RequestsPerSecond())
			}
			if c.Retry().MaxAttempts() != 3 || c.Retry().InitialInterval() != 100*time.Millisecond {
				t.Errorf("unexpected retry: %+v", c.Retry())
			}
		})

		t.Run(".compute[1] has defaults", func(t *testing.T) {
			c := result.Compute()[1]
			if c.Timeout() != 30*time.Second || c.RequestsPerSecond() != 0 {
				t.Errorf("unexpected limits: timeout=%s, rps=%f", c.Timeout(), c.RequestsPerSecond())
			}
			if c.Retry().MaxAttempts() != 5 || c.Retry().InitialInterval() != 200*time.Millisecond {
				t.Errorf("unexpected retry: %+v", c.Retry())
			}
		})

		t.Run(".scheduling", func(t *testing.T) {
			s := result.Scheduling()
			if s.JobIdPrefix() != "test-jid-" || s.Debounce() != time.Second || s.StuckThreshold() != 30*time.Minute {
				t.Errorf("unexpected scheduling: %+v", s)
			}
			if s.Registration().MaxAttempts() != 4 || s.Registration().Interval() != 50*time.Millisecond {
				t.Errorf("unexpected registration: %+v", s.Registration())
			}
			if actual, expected := s.PlaceholderRoot(), "SERVICES/EMPTY"; actual != expected {
				t.Errorf("placeholderRoot: (actual, expected) = (%s, %s)", actual, expected)
			}
		})
	})

	t.Run("it fills defaults", func(t *testing.T) {
		result, err := kback.Unmarshal([]byte(`
database:
  url: postgres://chris:chris1234@db:5432/chris
storage:
  type: memory
compute:
  - name: host
    url: http://pfcon:30005/api/v1/
    user: pfcon
    password: pfcon1234
`))
		if err != nil {
			t.Fatal(err)
		}
		if result.Port() != 8080 {
			t.Errorf("port: (actual, expected) = (%d, %d)", result.Port(), 8080)
		}
		if result.Database().Driver() != kback.Postgres {
			t.Errorf("driver: (actual, expected) = (%s, %s)", result.Database().Driver(), kback.Postgres)
		}
		if result.Storage().S3() != nil {
			t.Errorf("s3 should be nil for memory storage")
		}

		s := result.Scheduling()
		if s.JobIdPrefix() != "chris-jid-" ||
			s.Debounce() != 5*time.Second ||
			s.StuckThreshold() != 240*time.Minute ||
			s.Registration().MaxAttempts() != 10 ||
			s.Registration().Interval() != 200*time.Millisecond ||
			s.PlaceholderRoot() != "SERVICES/PLACEHOLDERS" {
			t.Errorf("unexpected defaults: %+v / %+v", s, s.Registration())
		}
	})

	theory := func(yml string, wantPath string) func(*testing.T) {
		return func(t *testing.T) {
			_, err := kback.Unmarshal([]byte(yml))
			if !errors.Is(err, kback.ErrMisconfigured) {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(err.Error(), wantPath) {
				t.Errorf("error should point %s: %v", wantPath, err)
			}
		}
	}

	const validStorage = `
storage:
  type: memory
`
	const validCompute = `
compute:
  - name: host
    url: http://pfcon:30005/api/v1/
    user: pfcon
    password: pfcon1234
`
	t.Run("missing database", theory(validStorage+validCompute, "(root).database"))
	t.Run("unknown driver", theory(`
database:
  driver: oracle
  url: x
`+validStorage+validCompute, "(root).database.driver"))
	t.Run("s3 without settings", theory(`
database: {url: x}
storage:
  type: s3
`+validCompute, "(root).storage.s3"))
	t.Run("no compute", theory(`
database: {url: x}
`+validStorage, "(root).compute"))
	t.Run("compute without user", theory(`
database: {url: x}
`+validStorage+`
compute:
  - name: host
    url: http://pfcon:30005/api/v1/
    password: pfcon1234
`, "(root).compute[0].user"))
	t.Run("relative compute url", theory(`
database: {url: x}
`+validStorage+`
compute:
  - name: host
    url: pfcon/api/v1/
    user: pfcon
    password: pfcon1234
`, "(root).compute[0].url"))
	t.Run("duplicated compute", theory(`
database: {url: x}
`+validStorage+validCompute+`
  - name: host
    url: http://other:30005/api/v1/
    user: pfcon
    password: pfcon1234
`, "(root).compute[1].name"))
	t.Run("malformed duration", theory(`
database: {url: x}
`+validStorage+validCompute+`
scheduling:
  stuckThreshold: four hours
`, "(root).scheduling.stuckThreshold"))
}
