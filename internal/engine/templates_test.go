package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/graph"
	"github.com/fablab/autonomy-core/internal/model"
)

func TestBuildTemplateEveryGoalTypeFormsAValidChain(t *testing.T) {
	for _, gt := range []model.GoalType{
		model.GoalResearch, model.GoalImprovement, model.GoalOptimization,
		model.GoalLearning, model.GoalExploration,
	} {
		goal := &model.Goal{ID: "g1", GoalType: gt, EstimatedCostUSD: 40}
		tasks, err := buildTemplate(gt, goal)
		require.NoError(t, err, gt)
		require.NotEmpty(t, tasks, gt)

		nodes := make([]string, len(tasks))
		edges := make(map[string][]string, len(tasks))
		for i, spec := range tasks {
			nodes[i] = spec.ID
			edges[spec.ID] = spec.DependsOn
		}
		require.NoError(t, graph.Validate(nodes, edges), gt)

		var total float64
		for _, spec := range tasks {
			total += spec.EstimatedCost
		}
		require.InDelta(t, 40, total, 1e-9, gt)
	}
}

func TestResearchTemplateMarksLastTaskProjectCritical(t *testing.T) {
	goal := &model.Goal{ID: "g1", GoalType: model.GoalResearch, EstimatedCostUSD: 10}
	tasks, err := buildTemplate(model.GoalResearch, goal)
	require.NoError(t, err)
	require.Equal(t, "research_gather", tasks[0].TaskType)
	require.Equal(t, "review_commit", tasks[len(tasks)-1].TaskType)
	require.True(t, tasks[len(tasks)-1].ProjectCrit)
	require.False(t, tasks[0].ProjectCrit)
}

func TestResearchTemplateCarriesSlugPayload(t *testing.T) {
	goal := &model.Goal{ID: "g1", GoalType: model.GoalResearch, Metadata: map[string]any{"slug": "bed-leveling"}}
	tasks, err := buildTemplate(model.GoalResearch, goal)
	require.NoError(t, err)
	require.Equal(t, "bed-leveling", tasks[0].Payload["slug"])
}

func TestSlugOfFallsBackToGoalID(t *testing.T) {
	goal := &model.Goal{ID: "g1"}
	require.Equal(t, "g1", slugOf(goal))
}
