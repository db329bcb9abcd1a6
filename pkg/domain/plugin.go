package domain

import (
	"fmt"
)

type PluginID int64

// PluginType decides what a plugin instance depends on.
type PluginType string

const (
	// feed source: root of a feed. No previous.
	FS PluginType = "fs"

	// single previous instance.
	DS PluginType = "ds"

	// fan-in: all instances listed in the "plugininstances" parameter.
	TS PluginType = "ts"
)

func (t PluginType) String() string {
	return string(t)
}

func AsPluginType(s string) (PluginType, error) {
	switch t := PluginType(s); t {
	case FS, DS, TS:
		return t, nil
	default:
		return "", fmt.Errorf("'%s' is not PluginType", s)
	}
}

// ParamPluginInstances is the name of the string parameter of ts plugins
// listing ancestor instance ids, comma separated.
const ParamPluginInstances = "plugininstances"

type ParameterType string

const (
	StringParam    ParameterType = "string"
	IntegerParam   ParameterType = "integer"
	FloatParam     ParameterType = "float"
	BooleanParam   ParameterType = "boolean"
	PathParam      ParameterType = "path"
	UnextPathParam ParameterType = "unextpath"
)

func (t ParameterType) String() string {
	return string(t)
}

// IsPath is true for parameters referring storage paths.
func (t ParameterType) IsPath() bool {
	return t == PathParam || t == UnextPathParam
}

func AsParameterType(s string) (ParameterType, error) {
	switch t := ParameterType(s); t {
	case StringParam, IntegerParam, FloatParam, BooleanParam, PathParam, UnextPathParam:
		return t, nil
	default:
		return "", fmt.Errorf("'%s' is not ParameterType", s)
	}
}

type ParameterSpec struct {
	Id   int64
	Name string

	// command line flag, like "--dir".
	Flag string
	Type ParameterType

	// "store" (default), "store_true" or "store_false". Only boolean parameters use the latter two.
	Action string

	Optional bool
	Default  *string
}

// LimitRange is min/max resource limits declared by a plugin.
type LimitRange struct {
	Min ResourceLimits
	Max ResourceLimits
}

type Plugin struct {
	Id      PluginID
	Name    string
	Version string
	Type    PluginType

	// container image reference
	Image string

	// interpreter of the app, like "python3". Can be empty.
	ExecShell string

	// directory containing the app executable in the image.
	SelfPath string

	// the app executable.
	SelfExec string

	Limits LimitRange

	Parameters []ParameterSpec
}

// ParameterByName finds a declared parameter.
func (p Plugin) ParameterByName(name string) (ParameterSpec, bool) {
	for _, ps := range p.Parameters {
		if ps.Name == name {
			return ps, true
		}
	}
	return ParameterSpec{}, false
}

// PluginSpec is a plugin to be registered.
type PluginSpec struct {
	Name       string
	Version    string
	Type       PluginType
	Image      string
	ExecShell  string
	SelfPath   string
	SelfExec   string
	Limits     LimitRange
	Parameters []ParameterSpec
}
