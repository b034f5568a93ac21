package project_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/memory/memtest"
	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/validate"
)

func newService(t *testing.T) (*project.Service, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	return project.NewService(memtest.Open(t), rec, nil, nil), rec
}

func TestCreate_Defaults(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p := &project.Project{Name: "  Riverside Tower ", Tags: []string{"Residential", "residential", " "}}
	require.NoError(t, svc.Create(ctx, project.User("u1"), p))

	assert.Contains(t, p.ID, "proj-")
	assert.Equal(t, "Riverside Tower", p.Name)
	assert.Equal(t, project.StatusPlanning, p.Status)
	assert.Equal(t, []string{"residential"}, p.Tags)

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
}

func TestCreate_Rejects(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, -1, 0)

	tests := []struct {
		name string
		p    *project.Project
	}{
		{"empty name", &project.Project{Name: " "}},
		{"bad status", &project.Project{Name: "x", Status: "archived"}},
		{"end before start", &project.Project{Name: "x", StartDate: &start, EndDate: &end}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Create(ctx, project.System(), tt.p)
			assert.ErrorIs(t, err, validate.ErrInvalidInput)
		})
	}
}

func TestUpdateStatus_EmitsOnChangeOnly(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()
	p := &project.Project{Name: "Depot"}
	require.NoError(t, svc.Create(ctx, project.System(), p))

	got, err := svc.UpdateStatus(ctx, project.User("pm"), p.ID, project.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, project.StatusInProgress, got.Status)

	evts := rec.OfType(events.ProjectStatusChanged)
	require.Len(t, evts, 1)
	assert.Equal(t, "user:pm", evts[0].Actor)
	assert.Equal(t, "planning", evts[0].Payload["old_status"])
	assert.Equal(t, "in_progress", evts[0].Payload["new_status"])

	_, err = svc.UpdateStatus(ctx, project.System(), p.ID, project.StatusInProgress)
	require.NoError(t, err)
	assert.Len(t, rec.OfType(events.ProjectStatusChanged), 1)
}

func TestUpdateStatus_Errors(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, project.System(), "proj-missing", project.StatusDesign)
	assert.ErrorIs(t, err, project.ErrProjectNotFound)

	_, err = svc.UpdateStatus(ctx, project.System(), "proj-missing", "paused")
	assert.ErrorIs(t, err, project.ErrInvalidStatus)
	assert.Empty(t, rec.Events())
}

func TestSetTags(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()
	p := &project.Project{Name: "Clinic", Tags: []string{"healthcare"}}
	require.NoError(t, svc.Create(ctx, project.System(), p))

	got, err := svc.SetTags(ctx, project.System(), p.ID, []string{"Hospital", "HOSPITAL", "public"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hospital", "public"}, got.Tags)
	assert.True(t, got.HasTag("Public"))

	evts := rec.OfType(events.ProjectUpdated)
	require.Len(t, evts, 1)
	assert.Equal(t, []string{"tags"}, evts[0].ChangedFields)
}

func TestActor_RoundTrip(t *testing.T) {
	assert.Equal(t, "system", project.System().String())
	assert.Equal(t, "user:42", project.User("42").String())
	assert.Equal(t, project.User("42"), project.ParseActor("user:42"))
	assert.True(t, project.ParseActor("anything").IsSystem())
}
