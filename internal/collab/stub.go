package collab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InProcess is the default, no-external-dependency implementation of
// every collaborator interface. It never leaves the process: research
// gather returns a synthetic snippet, knowledge-base writes go to an
// in-memory map, and print jobs complete instantly. It exists so the
// engine and executor have something to run against before a real
// fabrication-lab integration (Docker sandbox, actual KB repo, actual
// search API) is configured.
type InProcess struct {
	log *slog.Logger

	mu      sync.Mutex
	kb      map[string]kbEntry
	jobs    map[string]map[string]any
	version int
}

type kbEntry struct {
	markdown string
	version  string
}

func NewInProcess(log *slog.Logger) *InProcess {
	if log == nil {
		log = slog.Default()
	}
	return &InProcess{
		log:  log,
		kb:   make(map[string]kbEntry),
		jobs: make(map[string]map[string]any),
	}
}

func (p *InProcess) Gather(ctx context.Context, query string, budgetUSD float64) (GatherResult, error) {
	p.log.Info("collab.gather", "query", query, "budget_usd", budgetUSD)
	cost := budgetUSD * 0.1
	if cost > budgetUSD {
		cost = budgetUSD
	}
	return GatherResult{
		Citations: []string{fmt.Sprintf("local-stub:%s", query)},
		RawText:   fmt.Sprintf("stub research notes for %q", query),
		CostUSD:   cost,
	}, nil
}

func (p *InProcess) Synthesize(ctx context.Context, inputs []string, modelHint string) (SynthesizeResult, error) {
	p.log.Info("collab.synthesize", "inputs", len(inputs), "model_hint", modelHint)
	return SynthesizeResult{
		ArticleMarkdown: fmt.Sprintf("# Synthesized article\n\n%d source(s) combined.\n", len(inputs)),
		CostUSD:         0.02 * float64(len(inputs)),
	}, nil
}

func (p *InProcess) CreateArticle(ctx context.Context, slug, markdown string, frontmatter map[string]any) (CreateArticleResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.version++
	tag := fmt.Sprintf("v%d", p.version)
	p.kb[slug] = kbEntry{markdown: markdown, version: tag}
	p.log.Info("collab.create_article", "slug", slug, "version", tag)
	return CreateArticleResult{Path: fmt.Sprintf("kb/%s.md", slug), VersionTag: tag}, nil
}

func (p *InProcess) AppendCommit(ctx context.Context, message string) (string, error) {
	p.log.Info("collab.append_commit", "message", message)
	return fmt.Sprintf("stub-commit-%d", len(message)), nil
}

func (p *InProcess) QueuePrint(ctx context.Context, spec map[string]any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("job-%d", len(p.jobs)+1)
	p.jobs[id] = spec
	p.log.Info("collab.queue_print", "job_id", id)
	return id, nil
}

func (p *InProcess) PrintOutcome(ctx context.Context, jobID string) (PrintOutcome, error) {
	p.mu.Lock()
	_, ok := p.jobs[jobID]
	p.mu.Unlock()
	if !ok {
		return PrintOutcome{}, fmt.Errorf("collab: unknown print job %q", jobID)
	}
	return PrintOutcome{Success: true, DurationHours: 1.5, MaterialGrams: 20, CostUSD: 1.5}, nil
}

func (p *InProcess) MaterialsCountForSlug(ctx context.Context, slug string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.kb[slug]; ok {
		return 1, nil
	}
	return 0, nil
}

func (p *InProcess) FailuresByReason(ctx context.Context, since, until string) (map[string]int, error) {
	return map[string]int{}, nil
}

func (p *InProcess) TierSpendFraction(ctx context.Context, since, until string) (float64, error) {
	return 0, nil
}

func (p *InProcess) TotalSpend(ctx context.Context, since, until string) (float64, error) {
	return 0, nil
}
