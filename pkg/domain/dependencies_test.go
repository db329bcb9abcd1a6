package domain_test

import (
	"errors"
	"testing"

	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/utils/cmp"
)

func TestParseInstanceIDs(t *testing.T) {
	for name, testcase := range map[string]struct {
		when     string
		expected []domain.InstanceID
		err      error
	}{
		"empty string":          {when: "", expected: []domain.InstanceID{}},
		"blank string":          {when: "  ", expected: []domain.InstanceID{}},
		"single id":             {when: "3", expected: []domain.InstanceID{3}},
		"ids with spaces":       {when: "1, 2 ,3", expected: []domain.InstanceID{1, 2, 3}},
		"duplicated ids":        {when: "2,1,2", expected: []domain.InstanceID{2, 1}},
		"non numeric id":        {when: "1,x", err: domain.ErrInvalidRequest},
		"empty item":            {when: "1,,2", err: domain.ErrInvalidRequest},
		"zero is not an id":     {when: "0", err: domain.ErrInvalidRequest},
		"negative is not an id": {when: "-1", err: domain.ErrInvalidRequest},
	} {
		t.Run(name, func(t *testing.T) {
			actual, err := domain.ParseInstanceIDs(testcase.when)
			if testcase.err != nil {
				if !errors.Is(err, testcase.err) {
					t.Errorf("error: (actual, expected) = (%v, %v)", err, testcase.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !cmp.SliceEq(actual, testcase.expected) {
				t.Errorf("(actual, expected) = (%v, %v)", actual, testcase.expected)
			}
		})
	}
}

func TestPluginInstance_Dependencies(t *testing.T) {
	ptr := func(id domain.InstanceID) *domain.InstanceID { return &id }

	instance := func(typ domain.PluginType, previous *domain.InstanceID, plugininstances *string) domain.PluginInstance {
		pi := domain.PluginInstance{
			Id:       10,
			Plugin:   domain.Plugin{Name: "pl-test", Type: typ},
			Previous: previous,
		}
		if plugininstances != nil {
			pi.Parameters = []domain.ParameterValue{
				{
					Spec:  domain.ParameterSpec{Name: domain.ParamPluginInstances, Type: domain.StringParam},
					Value: *plugininstances,
				},
			}
		}
		return pi
	}
	str := func(s string) *string { return &s }

	type Then struct {
		upstreams []domain.InstanceID
		err       error
	}
	theory := func(when domain.PluginInstance, then Then) func(*testing.T) {
		return func(t *testing.T) {
			actual, err := when.Dependencies()
			if then.err != nil {
				if !errors.Is(err, then.err) {
					t.Errorf("error: (actual, expected) = (%v, %v)", err, then.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if actual.Type != when.Plugin.Type {
				t.Errorf("type: (actual, expected) = (%s, %s)", actual.Type, when.Plugin.Type)
			}
			if !cmp.SliceEq(actual.Upstreams, then.upstreams) {
				t.Errorf("upstreams: (actual, expected) = (%v, %v)", actual.Upstreams, then.upstreams)
			}
		}
	}

	t.Run("fs has no upstreams", theory(
		instance(domain.FS, nil, nil),
		Then{upstreams: []domain.InstanceID{}},
	))
	t.Run("fs with previous is invalid", theory(
		instance(domain.FS, ptr(1), nil),
		Then{err: domain.ErrInvalidRequest},
	))
	t.Run("ds depends on its previous", theory(
		instance(domain.DS, ptr(3), nil),
		Then{upstreams: []domain.InstanceID{3}},
	))
	t.Run("ds without previous is invalid", theory(
		instance(domain.DS, nil, nil),
		Then{err: domain.ErrInvalidRequest},
	))
	t.Run("ts depends on all listed ancestors", theory(
		instance(domain.TS, ptr(3), str("3,4,5")),
		Then{upstreams: []domain.InstanceID{3, 4, 5}},
	))
	t.Run("ts without ancestor list depends on its previous", theory(
		instance(domain.TS, ptr(3), str("")),
		Then{upstreams: []domain.InstanceID{3}},
	))
	t.Run("ts without plugininstances parameter depends on its previous", theory(
		instance(domain.TS, ptr(3), nil),
		Then{upstreams: []domain.InstanceID{3}},
	))
	t.Run("ts whose ancestors miss its previous is invalid", theory(
		instance(domain.TS, ptr(3), str("4,5")),
		Then{err: domain.ErrInvalidRequest},
	))
	t.Run("ts with malformed ancestor list is invalid", theory(
		instance(domain.TS, ptr(3), str("3,four")),
		Then{err: domain.ErrInvalidRequest},
	))
	t.Run("unknown plugin type is invalid", theory(
		instance(domain.PluginType("xs"), ptr(3), nil),
		Then{err: domain.ErrInvalidRequest},
	))
}
