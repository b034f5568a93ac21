package project

import "strings"

// ActorKind distinguishes a human user from background/system execution.
type ActorKind int

const (
	ActorSystem ActorKind = iota
	ActorUser
)

// Actor identifies who performed a mutation. It is passed explicitly into
// every mutating operation; the zero value is the system actor.
type Actor struct {
	kind ActorKind
	id   string
}

// System returns the actor used for console and background work.
func System() Actor { return Actor{kind: ActorSystem} }

// User returns an actor for an authenticated user. An empty id yields System.
func User(id string) Actor {
	id = strings.TrimSpace(id)
	if id == "" {
		return System()
	}
	return Actor{kind: ActorUser, id: id}
}

// Kind returns the actor kind.
func (a Actor) Kind() ActorKind { return a.kind }

// ID returns the user ID, or "" for the system actor.
func (a Actor) ID() string { return a.id }

// IsSystem reports whether a is the system actor.
func (a Actor) IsSystem() bool { return a.kind == ActorSystem }

// String renders "user:<id>" or "system".
func (a Actor) String() string {
	if a.kind == ActorUser {
		return "user:" + a.id
	}
	return "system"
}

// ParseActor is the inverse of String.
func ParseActor(s string) Actor {
	if id, ok := strings.CutPrefix(s, "user:"); ok {
		return User(id)
	}
	return System()
}
