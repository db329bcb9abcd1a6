package backend

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrMisconfigured is returned when the config has missing or malformed values.
var ErrMisconfigured = errors.New("misconfigured")

// load backend config from a file.
//
// args:
//   - filepath: filepath refers a config file.
//
// returns *BackendConfig, error:
//
//	When loading success, returns `(*BackendConfig, nil)`.
//	Otherwise, returns `(nil, error)`.
func LoadBackendConfig(filepath string) (*BackendConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

// Unmarshal parses yaml and seals it.
//
// Misconfigurations are reported as ErrMisconfigured with the path of the offending key.
func Unmarshal(conf []byte) (out *BackendConfig, err error) {
	var _out *BackendConfigMarshall
	if err := yaml.Unmarshal(conf, &_out); err != nil {
		return nil, err
	}
	if _out == nil {
		return nil, fmt.Errorf("%w: empty config", ErrMisconfigured)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		out = nil
		switch x := r.(type) {
		case error:
			err = fmt.Errorf("%w: %w", ErrMisconfigured, x)
		default:
			err = fmt.Errorf("%w: %v", ErrMisconfigured, x)
		}
	}()
	out = TrySeal(_out)
	return out, nil
}
