// Package taskhandlers maps every task type a goal template can emit
// (internal/engine's templates) to the internal/executor.Handler that
// runs it. Each handler is a thin translation from the collaborator
// contracts in internal/collab to a model.TaskOutcome — no handler
// talks to the store directly beyond the side-effect calls collab
// itself requires (RecordKBArticle, RecordPrintOutcome); task and
// budget bookkeeping stays the executor's and engine's job.
package taskhandlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fablab/autonomy-core/internal/collab"
	"github.com/fablab/autonomy-core/internal/executor"
	"github.com/fablab/autonomy-core/internal/model"
)

// KBStore is the subset of *store.Store a research goal's kb_create
// step persists to, beyond what the KnowledgeBaseWriter itself returns.
type KBStore interface {
	RecordKBArticle(slug, path, versionTag string) error
}

// PrintStore is the subset of *store.Store an optimization/exploration
// fabrication step records its outcome to.
type PrintStore interface {
	RecordPrintOutcome(failureReason string, costUSD float64) error
}

type Deps struct {
	Research    collab.ResearchCollaborator
	KB          collab.KnowledgeBaseWriter
	Fabrication collab.FabricationCollaborator
	KBStore     KBStore
	PrintStore  PrintStore
	Log         *slog.Logger
}

// Build returns the full task-type handler map without installing it
// anywhere, so internal/workflowrt's Temporal activities can run the
// identical handlers a poll-based internal/executor.Executor would.
func Build(deps Deps) map[string]executor.Handler {
	return map[string]executor.Handler{
		"research_gather":            researchGather(deps.Research),
		"research_synthesize":        researchSynthesize(deps.Research),
		"kb_create":                  kbCreate(deps.KB, deps.KBStore),
		"review_commit":              reviewCommit(deps.KB),
		"improvement_diagnose":       noopStep("diagnosed"),
		"improvement_apply":         noopStep("applied"),
		"improvement_verify":        noopStep("verified"),
		"optimization_analyze":       noopStep("analyzed"),
		"optimization_apply_routing": noopStep("routing_applied"),
		"optimization_verify":        fabricationVerify(deps.Fabrication, deps.PrintStore),
		"learning_collect":           noopStep("collected"),
		"learning_summarize":         noopStep("summarized"),
		"exploration_probe":          fabricationProbe(deps.Fabrication, deps.PrintStore),
		"exploration_report":         noopStep("reported"),
	}
}

// Register installs every task type the goal templates in
// internal/engine emit onto exec, so a project approved from any of
// the five goal types has a handler for each of its steps.
func Register(exec *executor.Executor, deps Deps) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	handlers := Build(deps)
	for taskType, h := range handlers {
		exec.RegisterHandler(taskType, h)
	}

	log.Info("taskhandlers.registered", "count", len(handlers))
}

func researchGather(r collab.ResearchCollaborator) executor.Handler {
	return func(ctx context.Context, task *model.Task) model.TaskOutcome {
		query, _ := task.Payload["query"].(string)
		if query == "" {
			query = fmt.Sprintf("goal:%s", task.ProjectID)
		}
		res, err := r.Gather(ctx, query, task.EstimatedCost)
		if err != nil {
			return model.TaskOutcome{Status: model.TaskFailed, Err: err, Retryable: true}
		}
		return model.TaskOutcome{
			Status:  model.TaskCompleted,
			CostUSD: res.CostUSD,
			Result:  map[string]any{"citations": res.Citations, "raw_text": res.RawText},
		}
	}
}

func researchSynthesize(r collab.ResearchCollaborator) executor.Handler {
	return func(ctx context.Context, task *model.Task) model.TaskOutcome {
		inputs := []string{fmt.Sprintf("task:%s", task.ID)}
		res, err := r.Synthesize(ctx, inputs, "default")
		if err != nil {
			return model.TaskOutcome{Status: model.TaskFailed, Err: err, Retryable: true}
		}
		return model.TaskOutcome{
			Status:  model.TaskCompleted,
			CostUSD: res.CostUSD,
			Result:  map[string]any{"article_markdown": res.ArticleMarkdown},
		}
	}
}

func kbCreate(w collab.KnowledgeBaseWriter, st KBStore) executor.Handler {
	return func(ctx context.Context, task *model.Task) model.TaskOutcome {
		slug, _ := task.Payload["slug"].(string)
		if slug == "" {
			slug = task.ProjectID
		}
		markdown, _ := task.Payload["article_markdown"].(string)
		res, err := w.CreateArticle(ctx, slug, markdown, map[string]any{"project_id": task.ProjectID})
		if err != nil {
			return model.TaskOutcome{Status: model.TaskFailed, Err: err, Retryable: true}
		}
		if st != nil {
			if err := st.RecordKBArticle(slug, res.Path, res.VersionTag); err != nil {
				return model.TaskOutcome{Status: model.TaskFailed, Err: err, Retryable: false}
			}
		}
		return model.TaskOutcome{
			Status: model.TaskCompleted,
			Result: map[string]any{"path": res.Path, "version": res.VersionTag},
		}
	}
}

func reviewCommit(w collab.KnowledgeBaseWriter) executor.Handler {
	return func(ctx context.Context, task *model.Task) model.TaskOutcome {
		msg := fmt.Sprintf("autonomy-core: project %s task %s", task.ProjectID, task.ID)
		commit, err := w.AppendCommit(ctx, msg)
		if err != nil {
			return model.TaskOutcome{Status: model.TaskFailed, Err: err, Retryable: true}
		}
		return model.TaskOutcome{Status: model.TaskCompleted, Result: map[string]any{"commit": commit}}
	}
}

func fabricationProbe(f collab.FabricationCollaborator, st PrintStore) executor.Handler {
	return func(ctx context.Context, task *model.Task) model.TaskOutcome {
		jobID, err := f.QueuePrint(ctx, task.Payload)
		if err != nil {
			return model.TaskOutcome{Status: model.TaskFailed, Err: err, Retryable: true}
		}
		outcome, err := f.PrintOutcome(ctx, jobID)
		if err != nil {
			return model.TaskOutcome{Status: model.TaskFailed, Err: err, Retryable: true}
		}
		if st != nil {
			if err := st.RecordPrintOutcome(outcome.FailureReason, outcome.CostUSD); err != nil {
				return model.TaskOutcome{Status: model.TaskFailed, Err: err, Retryable: false}
			}
		}
		if !outcome.Success {
			return model.TaskOutcome{
				Status:  model.TaskFailed,
				CostUSD: outcome.CostUSD,
				Err:     errors.New(outcome.FailureReason),
			}
		}
		return model.TaskOutcome{
			Status:  model.TaskCompleted,
			CostUSD: outcome.CostUSD,
			Result:  map[string]any{"job_id": jobID, "duration_hours": outcome.DurationHours, "material_grams": outcome.MaterialGrams},
		}
	}
}

func fabricationVerify(f collab.FabricationCollaborator, st PrintStore) executor.Handler {
	return fabricationProbe(f, st)
}

func noopStep(result string) executor.Handler {
	return func(ctx context.Context, task *model.Task) model.TaskOutcome {
		return model.TaskOutcome{Status: model.TaskCompleted, Result: map[string]any{"step": result}}
	}
}
