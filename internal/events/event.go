// Package events defines the domain events emitted by the planning engines
// and the publishers that carry them: an in-process Bus plus NATS and
// RabbitMQ sinks for downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names a domain event.
type Type string

const (
	TaskCreated          Type = "task.created"
	TaskUpdated          Type = "task.updated"
	TaskDeleted          Type = "task.deleted"
	ComponentCreated     Type = "component.created"
	ComponentUpdated     Type = "component.updated"
	ComponentDeleted     Type = "component.deleted"
	ProgressChanged      Type = "progress.changed"
	CostChanged          Type = "cost.changed"
	ProjectStatusChanged Type = "project.status_changed"
	ProjectUpdated       Type = "project.updated"
	BaselineCreated      Type = "baseline.created"
	TemplateApplied      Type = "template.applied"
)

// Entity types carried in Event.EntityType.
const (
	EntityTask      = "task"
	EntityComponent = "component"
	EntityProject   = "project"
	EntityBaseline  = "baseline"
	EntityTemplate  = "template"
)

// Event is a fire-and-forget notification of a committed change.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	ProjectID  string    `json:"project_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Actor      string    `json:"actor"` // "user:<id>" or "system"
	OccurredAt time.Time `json:"occurred_at"`

	OldProgress   *float64       `json:"old_progress,omitempty"`
	NewProgress   *float64       `json:"new_progress,omitempty"`
	OldCost       *float64       `json:"old_cost,omitempty"`
	NewCost       *float64       `json:"new_cost,omitempty"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// New builds an event with a fresh ID and timestamp.
func New(t Type, projectID, entityType, entityID, actor string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		ProjectID:  projectID,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
	}
}

// WithProgress sets the old/new progress values.
func (e Event) WithProgress(oldV, newV float64) Event {
	e.OldProgress, e.NewProgress = &oldV, &newV
	return e
}

// WithCost sets the old/new cost values.
func (e Event) WithCost(oldV, newV float64) Event {
	e.OldCost, e.NewCost = &oldV, &newV
	return e
}

// WithFields sets the list of changed fields.
func (e Event) WithFields(fields ...string) Event {
	e.ChangedFields = append([]string(nil), fields...)
	return e
}

// WithPayload attaches an extra key/value.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	} else {
		cp := make(map[string]any, len(e.Payload)+1)
		for k, v := range e.Payload {
			cp[k] = v
		}
		e.Payload = cp
	}
	e.Payload[key] = value
	return e
}

// Emit publishes evts on pub and logs a failure instead of returning it.
// Services call it after their transaction has committed.
func Emit(ctx context.Context, pub Publisher, log *zap.Logger, evts ...Event) {
	if pub == nil || len(evts) == 0 {
		return
	}
	if err := pub.Publish(ctx, evts...); err != nil && log != nil {
		log.Error("Failed to publish events", zap.Int("count", len(evts)), zap.Error(err))
	}
}

// Publisher delivers events. Callers treat delivery as fire-and-forget:
// a returned error is logged, never used to roll back committed work.
type Publisher interface {
	Publish(ctx context.Context, evts ...Event) error
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, ...Event) error { return nil }
