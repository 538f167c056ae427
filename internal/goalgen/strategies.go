package goalgen

import (
	"context"
	"fmt"
	"time"

	"github.com/fablab/autonomy-core/internal/model"
)

// printFailureCandidates implements the print-failure clustering
// strategy: any failure reason with at least MinClusterSize prints in
// the lookback window becomes an improvement candidate.
func (g *Generator) printFailureCandidates() []candidate {
	clusters, totalPrints, err := g.store.FailureClusters(g.cfg.LookbackDays)
	if err != nil || totalPrints == 0 {
		if err != nil {
			g.log.Error("goalgen.print_failure_strategy_failed", "error", err)
		}
		return nil
	}

	var out []candidate
	for _, c := range clusters {
		if c.Count < g.cfg.MinClusterSize {
			continue
		}
		frequency := float64(c.Count) / float64(totalPrints)
		severity := 0.0
		if g.cfg.ReferenceCostUSD > 0 {
			severity = c.MeanCostPerFailure / g.cfg.ReferenceCostUSD
		}
		out = append(out, candidate{
			goalType:       model.GoalImprovement,
			title:          fmt.Sprintf("Reduce %s print failures", c.Reason),
			description:    fmt.Sprintf("%d prints failed with reason %q in the last %d days", c.Count, c.Reason, g.cfg.LookbackDays),
			frequency:      frequency,
			severity:       severity,
			strategicValue: 0.5,
			evidenceAt:     time.Now().UTC(),
			metadata:       map[string]any{"failure_reason": c.Reason},
		})
	}
	return out
}

// knowledgeGapCandidates implements the knowledge-gap strategy:
// configured topic slugs missing a knowledge-base article become
// research candidates with a high knowledge_gap component.
func (g *Generator) knowledgeGapCandidates() []candidate {
	existing, err := g.store.ExistingKBSlugs()
	if err != nil {
		g.log.Error("goalgen.knowledge_gap_strategy_failed", "error", err)
		return nil
	}

	var out []candidate
	for _, slug := range g.cfg.KnowledgeTopicSlugs {
		if existing[slug] {
			continue
		}
		out = append(out, candidate{
			goalType:       model.GoalResearch,
			title:          fmt.Sprintf("Research %s", slug),
			description:    fmt.Sprintf("no knowledge-base article exists for topic %q", slug),
			knowledgeGap:   1.0,
			strategicValue: 0.8,
			evidenceAt:     time.Now().UTC(),
			metadata:       map[string]any{"slug": slug},
		})
	}
	return out
}

// spendMixCandidate implements the spend-mix anomaly strategy: if more
// than the configured threshold of LLM spend over the window went to
// the most expensive tier, and total spend clears the configured
// floor, propose an optimization candidate sized by potential savings.
func (g *Generator) spendMixCandidate(ctx context.Context) (candidate, bool, error) {
	if g.metrics == nil {
		return candidate{}, false, nil
	}

	until := time.Now().UTC()
	since := until.AddDate(0, 0, -30)
	sinceStr, untilStr := since.Format(time.RFC3339), until.Format(time.RFC3339)

	fraction, err := g.metrics.TierSpendFraction(ctx, sinceStr, untilStr)
	if err != nil {
		return candidate{}, false, err
	}
	total, err := g.metrics.TotalSpend(ctx, sinceStr, untilStr)
	if err != nil {
		return candidate{}, false, err
	}

	if fraction <= g.cfg.SpendFractionThreshold || total <= g.cfg.SpendFloorUSD {
		return candidate{}, false, nil
	}

	potentialSavings := fraction - g.cfg.SpendFractionThreshold
	return candidate{
		goalType:       model.GoalOptimization,
		title:          "Rebalance LLM tier routing",
		description:    fmt.Sprintf("%.0f%% of spend over the last 30 days went to the most expensive tier", fraction*100),
		costSavings:    potentialSavings,
		strategicValue: 0.6,
		evidenceAt:     since,
		metadata:       map[string]any{"tier_spend_fraction": fraction, "total_spend": total},
	}, true, nil
}
