// Package domain has the models of plugin instance execution.
//
// `domain/ENTITY.go` has entities and their pure rules.
// For example, `domain/transition.go` is the state machine of plugin instances.
//
// `domain/ENTITY/` has collaborators around the entity:
// `domain/instance/db` persists instances, and `domain/instance/gate`,
// `domain/instance/dispatch`, `domain/instance/outputs` and `domain/instance/reconcile`
// drive instances through their lifecycle.
//
// # Entities
//
// - `plugin`: a versioned containerized app with declared parameters and resource bounds.
// Plugins are of one of types fs (feed source), ds (one predecessor) or ts (fan-in of many ancestors).
//
// - `instance`: one execution of a plugin.
// It is created as "created", waits for its dependencies ("waiting"),
// gets "scheduled" when they are satisfied, "started" when the compute resource accepts the job,
// and ends as "finishedSuccessfully", "finishedWithError" or "cancelled".
//
// - `feed`: a workspace which a chain of instances belongs to.
// A fs instance starts a new feed, and others inherit the feed of their previous.
//
// - `loop`: recurring sweeps driving instances. Implementations are in `cmd/loops/tasks/`.
package domain
