package alertengine_test

import (
	"testing"

	"github.com/tripwire/agent/internal/alertengine"
)

func TestParseExpressionSingleClause(t *testing.T) {
	conds := alertengine.ParseExpression("cpu.usage > 80", nil)
	if len(conds) != 1 {
		t.Fatalf("len(conds) = %d, want 1", len(conds))
	}
	c := conds[0]
	if c.Component != "cpu" || c.Metric != "usage" || c.Operator != alertengine.GreaterThan || c.Value != 80 {
		t.Errorf("unexpected condition: %+v", c)
	}
	if c.NextLogical != "" {
		t.Errorf("NextLogical = %q, want empty on the only clause", c.NextLogical)
	}
}

// TestParseExpressionTwoClauses is spec.md §8's worked example:
// "cpu.usage > 80 AND memory.usage < 90".
func TestParseExpressionTwoClauses(t *testing.T) {
	conds := alertengine.ParseExpression("cpu.usage > 80 AND memory.usage < 90", nil)
	if len(conds) != 2 {
		t.Fatalf("len(conds) = %d, want 2", len(conds))
	}
	if conds[0].NextLogical != alertengine.And {
		t.Errorf("conds[0].NextLogical = %q, want AND", conds[0].NextLogical)
	}
	if conds[1].NextLogical != "" {
		t.Errorf("conds[1].NextLogical = %q, want empty on last clause", conds[1].NextLogical)
	}
}

func TestParseExpressionMalformedClauseIsSkipped(t *testing.T) {
	conds := alertengine.ParseExpression("cpu.usage >>> 80 AND memory.usage < 90", nil)
	if len(conds) != 1 {
		t.Fatalf("len(conds) = %d, want 1 (malformed clause skipped)", len(conds))
	}
	if conds[0].Component != "memory" {
		t.Errorf("surviving clause = %+v, want memory.usage", conds[0])
	}
}
