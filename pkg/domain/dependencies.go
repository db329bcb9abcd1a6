package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Dependencies is what an instance waits for, resolved from its plugin type.
type Dependencies struct {
	Type PluginType

	// instances which must finish successfully before this instance can run.
	//
	// Empty for fs. The previous instance for ds, and for ts without ancestor list.
	// The ancestor list for ts otherwise.
	Upstreams []InstanceID
}

// ParseInstanceIDs parses comma separated instance ids, like "1,2, 3".
//
// Empty or blank string is parsed into an empty list.
func ParseInstanceIDs(s string) ([]InstanceID, error) {
	if strings.TrimSpace(s) == "" {
		return []InstanceID{}, nil
	}

	items := strings.Split(s, ",")
	ids := make([]InstanceID, 0, len(items))
	seen := map[InstanceID]struct{}{}
	for _, item := range items {
		i, err := strconv.ParseInt(strings.TrimSpace(item), 10, 64)
		if err != nil || i <= 0 {
			return nil, fmt.Errorf("%w: %q is not an instance id", ErrInvalidRequest, item)
		}
		id := InstanceID(i)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// Dependencies resolves what the instance depends on.
//
// The "plugininstances" parameter is parsed here, once.
func (pi PluginInstance) Dependencies() (Dependencies, error) {
	deps := Dependencies{Type: pi.Plugin.Type}

	switch pi.Plugin.Type {
	case FS:
		if pi.Previous != nil {
			return deps, fmt.Errorf("%w: fs instance %d has previous", ErrInvalidRequest, pi.Id)
		}
		deps.Upstreams = []InstanceID{}
		return deps, nil
	case DS:
		if pi.Previous == nil {
			return deps, fmt.Errorf("%w: ds instance %d has no previous", ErrInvalidRequest, pi.Id)
		}
		deps.Upstreams = []InstanceID{*pi.Previous}
		return deps, nil
	case TS:
		if pi.Previous == nil {
			return deps, fmt.Errorf("%w: ts instance %d has no previous", ErrInvalidRequest, pi.Id)
		}
		ancestors := []InstanceID{}
		if p, ok := pi.Parameter(ParamPluginInstances); ok {
			parsed, err := ParseInstanceIDs(p.Value)
			if err != nil {
				return deps, err
			}
			ancestors = parsed
		}
		if len(ancestors) == 0 {
			deps.Upstreams = []InstanceID{*pi.Previous}
			return deps, nil
		}
		if !containsID(ancestors, *pi.Previous) {
			return deps, fmt.Errorf(
				"%w: %s of ts instance %d should contain its previous (%d)",
				ErrInvalidRequest, ParamPluginInstances, pi.Id, *pi.Previous,
			)
		}
		deps.Upstreams = ancestors
		return deps, nil
	default:
		return deps, fmt.Errorf("%w: unknown plugin type %q", ErrInvalidRequest, pi.Plugin.Type)
	}
}

func containsID(ids []InstanceID, id InstanceID) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}
