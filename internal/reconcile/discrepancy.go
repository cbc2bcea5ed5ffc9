package reconcile

import (
	"sort"

	"github.com/rs/zerolog"

	"docmatch/internal/logger"
	"docmatch/pkg/models"
)

// engine aggregates discrepancies into the final ranked result and scores
// the overall match confidence.
type engine struct {
	log zerolog.Logger
}

func newEngine() *engine {
	return &engine{log: logger.WithComponent("discrepancy_engine")}
}

// Confidence weights. Line-item agreement dominates; extraction quality and
// the absence of severe findings temper it.
const (
	weightMatched    = 0.5
	weightExtraction = 0.3
	weightSeverity   = 0.2
)

// finalize ranks discrepancies, computes the confidence score, and marks
// perfect matches. It mutates the result in place and is the last step of
// every reconciliation.
func (e *engine) finalize(result *models.MatchingResult, po, inv *models.ExtractedData) {
	sortDiscrepancies(result.Discrepancies)

	result.MatchConfidence = models.MatchConfidence{
		Overall: e.overallConfidence(result, po, inv),
		Fields:  fieldConfidences(po, inv),
	}
	result.PerfectMatch = len(result.Discrepancies) == 0 &&
		totalsPresent(po, inv) &&
		result.TotalDifference.IsZero()

	e.log.Info().
		Int("discrepancies", len(result.Discrepancies)).
		Float64("confidence", result.MatchConfidence.Overall).
		Bool("perfect_match", result.PerfectMatch).
		Msg("Reconciliation finalized")
}

// sortDiscrepancies orders by severity (critical first), then by absolute
// monetary impact descending, then by type for a stable presentation.
func sortDiscrepancies(ds []models.Discrepancy) {
	sort.SliceStable(ds, func(a, b int) bool {
		if ds[a].Severity.Rank() != ds[b].Severity.Rank() {
			return ds[a].Severity.Rank() > ds[b].Severity.Rank()
		}
		impactA, impactB := ds[a].MonetaryImpact.Abs(), ds[b].MonetaryImpact.Abs()
		if !impactA.Equal(impactB) {
			return impactA.GreaterThan(impactB)
		}
		return ds[a].Type < ds[b].Type
	})
}

// totalsPresent reports whether both documents carry an extracted or
// calculated total. Without both, a zero TotalDifference only means the
// comparison was skipped.
func totalsPresent(po, inv *models.ExtractedData) bool {
	return po != nil && inv != nil && po.TotalAmount != nil && inv.TotalAmount != nil
}

// overallConfidence is a 0-100 weighted average of the matched line-item
// fraction, the mean extraction confidence across both documents, and a
// penalty term for high or critical findings. A discrepancy-free result
// with every line item paired scores at least 95 regardless of how the
// fields were extracted.
func (e *engine) overallConfidence(result *models.MatchingResult, po, inv *models.ExtractedData) float64 {
	matched, total := 0, 0
	for _, pair := range result.LineItemPairs {
		total++
		if pair.POItem != nil && pair.InvoiceItem != nil {
			matched++
		}
	}
	matchedFraction := 1.0
	if total > 0 {
		matchedFraction = float64(matched) / float64(total)
	}

	extraction := meanConfidence(po, inv)

	severe := 0
	for _, d := range result.Discrepancies {
		if d.Severity == models.SeverityHigh || d.Severity == models.SeverityCritical {
			severe++
		}
	}
	severityScore := 1.0 - 0.25*float64(severe)
	if severityScore < 0 {
		severityScore = 0
	}

	score := 100 * (weightMatched*matchedFraction + weightExtraction*extraction + weightSeverity*severityScore)
	if len(result.Discrepancies) == 0 && matched == total && score < 95 {
		score = 95
	}
	if score > 100 {
		score = 100
	}
	return score
}

func meanConfidence(docs ...*models.ExtractedData) float64 {
	sum, n := 0.0, 0
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		for _, c := range doc.ConfidenceScores {
			sum += c
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

// fieldConfidences flattens both documents' per-field confidences into one
// role-prefixed map for the result payload.
func fieldConfidences(po, inv *models.ExtractedData) map[string]float64 {
	out := make(map[string]float64)
	add := func(prefix string, doc *models.ExtractedData) {
		if doc == nil {
			return
		}
		for field, c := range doc.ConfidenceScores {
			out[prefix+"."+field] = c
		}
	}
	add("po", po)
	add("invoice", inv)
	return out
}
