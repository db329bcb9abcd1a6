package config_test

import (
	"os"
	"path/filepath"
	"testing"

	config "github.com/fnndsc/plinst/pkg/configs/hook"
	"github.com/fnndsc/plinst/pkg/utils/try"
)

func TestLoad(t *testing.T) {
	write := func(t *testing.T, content string) string {
		t.Helper()
		p := filepath.Join(t.TempDir(), "hooks.yaml")
		if err := os.WriteFile(p, []byte(content), os.FileMode(0o600)); err != nil {
			t.Fatal(err)
		}
		return p
	}

	t.Run("it loads lifecycle hooks", func(t *testing.T) {
		p := write(t, `
lifecycle-hooks:
  before:
    - http://audit.example.com/before
  after:
    - https://notify.example.com/after
    - http://audit.example.com/after
`)
		got := try.To(config.Load(p)).OrFatal(t)

		if len(got.Lifecycle.Before) != 1 || got.Lifecycle.Before[0].String() != "http://audit.example.com/before" {
			t.Errorf("before: %v", got.Lifecycle.Before)
		}
		if len(got.Lifecycle.After) != 2 || got.Lifecycle.After[1].Host != "audit.example.com" {
			t.Errorf("after: %v", got.Lifecycle.After)
		}
	})

	t.Run("empty file means no hooks", func(t *testing.T) {
		got := try.To(config.Load(write(t, ""))).OrFatal(t)
		if len(got.Lifecycle.Before) != 0 || len(got.Lifecycle.After) != 0 {
			t.Errorf("unexpected hooks: %+v", got)
		}
	})

	t.Run("non http url is rejected", func(t *testing.T) {
		if _, err := config.Load(write(t, `
lifecycle-hooks:
  before:
    - ftp://audit.example.com/before
`)); err == nil {
			t.Error("expected error, but nil")
		}
	})
}
