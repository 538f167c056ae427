// Package collab defines the external collaborator contracts Task
// Executor handlers call into, and the default in-process
// implementations used when no sandboxed backend is configured. No
// collaborator exception type is allowed to leak past these adapters —
// callers translate failures into the coreerr taxonomy themselves.
package collab

import "context"

// ResearchCollaborator gathers and synthesizes material for a research goal.
type ResearchCollaborator interface {
	Gather(ctx context.Context, query string, budgetUSD float64) (GatherResult, error)
	Synthesize(ctx context.Context, inputs []string, modelHint string) (SynthesizeResult, error)
}

type GatherResult struct {
	Citations []string
	RawText   string
	CostUSD   float64
}

type SynthesizeResult struct {
	ArticleMarkdown string
	CostUSD         float64
}

// KnowledgeBaseWriter persists a synthesized article.
type KnowledgeBaseWriter interface {
	CreateArticle(ctx context.Context, slug, markdown string, frontmatter map[string]any) (CreateArticleResult, error)
	AppendCommit(ctx context.Context, message string) (string, error)
}

type CreateArticleResult struct {
	Path      string
	VersionTag string
}

// FabricationCollaborator queues and reports on print jobs, for goal
// templates that include a physical fabrication step.
type FabricationCollaborator interface {
	QueuePrint(ctx context.Context, spec map[string]any) (string, error)
	PrintOutcome(ctx context.Context, jobID string) (PrintOutcome, error)
}

type PrintOutcome struct {
	Success       bool
	FailureReason string
	DurationHours float64
	MaterialGrams float64
	CostUSD       float64
}

// MetricsProbe supplies the goal-type-specific metric functions the
// Outcome Tracker samples at baseline capture and at measurement.
type MetricsProbe interface {
	MaterialsCountForSlug(ctx context.Context, slug string) (int, error)
	FailuresByReason(ctx context.Context, since, until string) (map[string]int, error)
	TierSpendFraction(ctx context.Context, since, until string) (float64, error)
	TotalSpend(ctx context.Context, since, until string) (float64, error)
}
