package answer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/executor"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

// fallbackRecordLines caps the records listed in a templated answer.
const fallbackRecordLines = 10

// TokenCounter returns the number of model tokens of a text.
type TokenCounter func(string) int

type grounding struct {
	text string
	// records is the number of records included; citations beyond it are
	// dropped from the model answer.
	records int
}

// buildContext renders records and scores in the prompt format and trims
// them to the token budget. Scores take at most half of the budget, records
// fill the rest in order.
func (s *Synthesizer) buildContext(records []executor.Record, scores []risk.RiskScore) grounding {
	budget := s.cfg.TokenBudget

	var scoreBlock strings.Builder
	scoreTokens := 0
	for _, sc := range scores {
		block := scoreLines(sc)
		n := s.count(block)
		if scoreTokens+n > budget/2 {
			break
		}
		scoreBlock.WriteString(block)
		scoreTokens += n
	}

	var recordBlock strings.Builder
	used := scoreTokens
	included := 0
	for i, r := range records {
		line := fmt.Sprintf("[%d] %s\n", i+1, r.String())
		n := s.count(line)
		if used+n > budget {
			break
		}
		recordBlock.WriteString(line)
		used += n
		included++
	}
	if omitted := len(records) - included; omitted > 0 {
		fmt.Fprintf(&recordBlock, "(%d more records omitted)\n", omitted)
		logger.Debug("[Answer] Trimmed grounding context", "included", included, "omitted", omitted, "tokens", used)
	}

	var b strings.Builder
	b.WriteString("Records:\n")
	b.WriteString(recordBlock.String())
	if scoreBlock.Len() > 0 {
		b.WriteString("\nRisk Scores:\n")
		b.WriteString(scoreBlock.String())
	}
	return grounding{text: b.String(), records: included}
}

func scoreLines(s risk.RiskScore) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: overall=%s (%s)", s.EntityID, formatNumber(s.OverallScore), s.Level())
	for _, cat := range risk.Categories {
		v, ok := s.CategoryScores[cat]
		value := "n/a"
		if ok {
			value = formatNumber(v)
		}
		fmt.Fprintf(&b, " %s=%s", strings.ToLower(string(cat)), value)
	}
	if s.Degraded {
		missing := make([]string, 0, len(s.MissingCategories))
		for _, c := range s.MissingCategories {
			missing = append(missing, string(c))
		}
		fmt.Fprintf(&b, " [degraded: missing %s]", strings.Join(missing, ", "))
	}
	b.WriteByte('\n')
	for _, f := range s.Factors {
		if f.Contribution <= 0 {
			continue
		}
		fmt.Fprintf(&b, "  - %s: raw=%s contribution=%s (%s)\n", f.Name, formatNumber(f.RawValue), formatNumber(f.Contribution), f.Detail)
	}
	return b.String()
}

// templateBody lists records and scores without a model.
func templateBody(question string, records []executor.Record, scores []risk.RiskScore) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching records for %q:", len(records), question)
	for i, r := range records {
		if i == fallbackRecordLines {
			fmt.Fprintf(&b, "\n... and %d more", len(records)-fallbackRecordLines)
			break
		}
		fmt.Fprintf(&b, "\n[%d] %s", i+1, r.String())
	}
	if len(scores) > 0 {
		b.WriteString("\n\nRisk scores:")
		for _, s := range scores {
			fmt.Fprintf(&b, "\n- %s: %s (%s)", s.EntityID, formatNumber(s.OverallScore), s.Level())
		}
	}
	return b.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
