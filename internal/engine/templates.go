package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fablab/autonomy-core/internal/model"
	"github.com/fablab/autonomy-core/internal/store"
)

// buildTemplate instantiates the fixed task sequence for a goal type.
// Every template produces a linear chain unless noted; dependencies are
// non-strict by default, so a skipped upstream task still unblocks its
// successor.
func buildTemplate(goalType model.GoalType, goal *model.Goal) ([]store.TaskSpec, error) {
	switch goalType {
	case model.GoalResearch:
		return researchTemplate(goal), nil
	case model.GoalImprovement:
		return improvementTemplate(goal), nil
	case model.GoalOptimization:
		return optimizationTemplate(goal), nil
	case model.GoalLearning:
		return learningTemplate(goal), nil
	case model.GoalExploration:
		return explorationTemplate(goal), nil
	default:
		return nil, fmt.Errorf("engine: no task template for goal type %q", goalType)
	}
}

// chain links each task to the one before it as a non-strict
// dependency and distributes the goal's estimated cost evenly across
// the template's steps.
func chain(goal *model.Goal, taskTypes []string, projectCriticalLast bool, payload map[string]any) []store.TaskSpec {
	specs := make([]store.TaskSpec, len(taskTypes))
	perStep := goal.EstimatedCostUSD / float64(len(taskTypes))
	var prev string
	for i, taskType := range taskTypes {
		id := uuid.NewString()
		spec := store.TaskSpec{
			ID:            id,
			TaskType:      taskType,
			Priority:      model.PriorityMedium,
			EstimatedCost: perStep,
			Payload:       payload,
			ProjectCrit:   projectCriticalLast && i == len(taskTypes)-1,
		}
		if prev != "" {
			spec.DependsOn = []string{prev}
		}
		specs[i] = spec
		prev = id
	}
	return specs
}

func researchTemplate(goal *model.Goal) []store.TaskSpec {
	return chain(goal, []string{
		"research_gather",
		"research_synthesize",
		"kb_create",
		"review_commit",
	}, true, map[string]any{"slug": slugOf(goal)})
}

func improvementTemplate(goal *model.Goal) []store.TaskSpec {
	return chain(goal, []string{
		"improvement_diagnose",
		"improvement_apply",
		"improvement_verify",
	}, true, map[string]any{"reason": metadataString(goal, "failure_reason")})
}

func optimizationTemplate(goal *model.Goal) []store.TaskSpec {
	return chain(goal, []string{
		"optimization_analyze",
		"optimization_apply_routing",
		"optimization_verify",
	}, true, map[string]any{"tier": metadataString(goal, "tier")})
}

func learningTemplate(goal *model.Goal) []store.TaskSpec {
	return chain(goal, []string{
		"learning_collect",
		"learning_summarize",
	}, false, nil)
}

func explorationTemplate(goal *model.Goal) []store.TaskSpec {
	return chain(goal, []string{
		"exploration_probe",
		"exploration_report",
	}, false, nil)
}

func slugOf(goal *model.Goal) string {
	if v := metadataString(goal, "slug"); v != "" {
		return v
	}
	return goal.ID
}

func metadataString(goal *model.Goal, key string) string {
	if goal.Metadata == nil {
		return ""
	}
	if v, ok := goal.Metadata[key].(string); ok {
		return v
	}
	return ""
}
