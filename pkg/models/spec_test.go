package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected models.Requirement
		err      error
	}{
		{name: "bare node id", raw: "start", expected: models.AnyOutcome("start")},
		{name: "node with outcome", raw: "review:approved", expected: models.WithOutcome("review", "approved")},
		{name: "surrounding whitespace", raw: "  review:ok ", expected: models.WithOutcome("review", "ok")},
		{name: "empty", raw: "", err: models.ErrEmptyRequirement},
		{name: "missing node id", raw: ":ok", err: models.ErrEmptyRequirement},
		{name: "dangling separator", raw: "review:", err: models.ErrEmptyRequirementOutcome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.ParseRequirement(tt.raw)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRequirement_Key(t *testing.T) {
	assert.Equal(t, "start", models.AnyOutcome("start").Key())
	assert.Equal(t, "start:ok", models.WithOutcome("start", "ok").Key())
	assert.False(t, models.AnyOutcome("start").IsSpecific())
	assert.True(t, models.WithOutcome("start", "ok").IsSpecific())
}

func TestWorkflowSpec_DecodeJSON(t *testing.T) {
	raw := `{"nodes":[
		{"id":"intake","type":"form","title":"Intake"},
		{"id":"review","type":"approval","title":"Review","role":"Manager","requires":["intake"],"outputs":["approved","changes_requested"]},
		{"id":"publish","title":"Publish","requires":["review:approved"]}
	]}`

	var spec models.WorkflowSpec
	require.NoError(t, json.Unmarshal([]byte(raw), &spec))

	require.Len(t, spec.Nodes, 3)
	assert.Equal(t, []models.Requirement{models.WithOutcome("review", "approved")}, spec.Node("publish").Requires)
	assert.Equal(t, models.NodeTypeTask, spec.Node("publish").EffectiveType())

	starts := spec.StartNodes()
	require.Len(t, starts, 1)
	assert.Equal(t, "intake", starts[0].ID)

	encoded, err := json.Marshal(spec.Node("publish"))
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"requires":["review:approved"]`)
}

func TestWorkflowSpec_DecodeJSON_MalformedRequirement(t *testing.T) {
	raw := `{"nodes":[{"id":"a","title":"A","requires":["b:"]}]}`

	var spec models.WorkflowSpec
	err := json.Unmarshal([]byte(raw), &spec)
	require.ErrorIs(t, err, models.ErrEmptyRequirementOutcome)
}

func TestWorkflowTemplate_DecodeYAML(t *testing.T) {
	raw := `
id: onboarding
name: Client onboarding
domain: design
spec:
  nodes:
    - id: kickoff
      title: Kickoff call
      role: Account Manager
      sla_hours: 24
    - id: brief
      type: form
      title: Design brief
      requires: [kickoff]
    - id: signoff
      type: approval
      title: Sign-off
      requires: ["brief"]
      outputs: [approved, rejected]
    - id: archive
      title: Archive
      requires: ["signoff:approved"]
`

	var tpl models.WorkflowTemplate
	require.NoError(t, yaml.Unmarshal([]byte(raw), &tpl))

	assert.Equal(t, "Client onboarding", tpl.Name)
	require.Len(t, tpl.Spec.Nodes, 4)
	require.NotNil(t, tpl.Spec.Node("kickoff").SLAHours)
	assert.Equal(t, 24, *tpl.Spec.Node("kickoff").SLAHours)
	assert.Equal(t, []models.Requirement{models.WithOutcome("signoff", "approved")}, tpl.Spec.Node("archive").Requires)
	assert.True(t, tpl.Spec.Node("signoff").AllowsOutcome("approved"))
	assert.False(t, tpl.Spec.Node("signoff").AllowsOutcome("maybe"))
	assert.True(t, tpl.Spec.Node("brief").AllowsOutcome("anything"))
}

func TestTaskInput_ApplyDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	sla := 48

	in := &models.TaskInput{WorkflowInstanceID: "i-1", NodeID: "n", Title: "N", SLAHours: &sla}
	in.ApplyDefaults(now)

	assert.Equal(t, models.TaskStatusOpen, in.Status)
	assert.Equal(t, models.PriorityNormal, in.Priority)
	assert.Equal(t, models.NodeTypeTask, in.Type)
	require.NotNil(t, in.DueAt)
	assert.Equal(t, now.Add(48*time.Hour), *in.DueAt)
}

func TestTaskPatch_Apply(t *testing.T) {
	task := &models.Task{ID: "t-1", Status: models.TaskStatusOpen}

	status := models.TaskStatusDone
	outcome := "approved"
	assignee := "user-b"

	models.TaskPatch{
		Status:         &status,
		Outcome:        &outcome,
		AssigneeUserID: &assignee,
		Attributes:     map[string]any{"notes": "looks good"},
	}.Apply(task)

	assert.Equal(t, models.TaskStatusDone, task.Status)
	assert.Equal(t, "approved", task.Fields.Outcome)
	assert.Equal(t, "user-b", task.AssigneeUserID)
	assert.Equal(t, "looks good", task.Fields.Attributes["notes"])
	assert.True(t, task.Status.IsTerminal())
	assert.False(t, task.IsAdHoc())
}

func TestIsAdHocNodeID(t *testing.T) {
	assert.True(t, models.IsAdHocNodeID(models.AdHocNodePrefix+"123"))
	assert.False(t, models.IsAdHocNodeID("review"))
}
