package alertengine

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// clauseRe matches one clause: "component.metric op number". Ported from
// rules.rs's COMPONENT_RE, anchored per clause per spec.md §4.7.
var clauseRe = regexp.MustCompile(`^([a-zA-Z0-9_]+)\.([a-zA-Z0-9_]+)\s*([<>!=]+)\s*([a-zA-Z0-9_.]+)$`)

// logicalRe splits an expression on its logical-operator joins, matching
// rules.rs's LOGICAL_RE.
var logicalRe = regexp.MustCompile(`\s+(AND|OR)\s+`)

// ParseExpression parses a rule expression into an ordered list of
// Conditions per the grammar in spec.md §4.7:
//
//	expr := clause ((AND|OR) clause)*
//	clause := component "." metric op number
//	op := > | < | >= | <= | == | !=
//
// A single anchored regex parses each clause; a second regex splits the
// expression on logical operators, preserving the matched operator as the
// *preceding* clause's NextLogical. Malformed clauses are skipped with a
// warning (via logger, if non-nil); a rule with zero parsed clauses is not
// triggered (the caller must check len(conditions) == 0).
func ParseExpression(expr string, logger *slog.Logger) []Condition {
	segments, ops := splitOnLogicalOperators(expr)

	var conditions []Condition
	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		m := clauseRe.FindStringSubmatch(seg)
		if m == nil {
			logWarn(logger, "alertengine: malformed clause, skipping", "clause", seg)
			continue
		}
		op, err := ParseOperator(m[3])
		if err != nil {
			logWarn(logger, "alertengine: malformed operator, skipping clause", "clause", seg, "error", err)
			continue
		}
		value, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			logWarn(logger, "alertengine: malformed value, skipping clause", "clause", seg, "error", err)
			continue
		}

		cond := Condition{
			Component: m[1],
			Metric:    m[2],
			Operator:  op,
			Value:     value,
		}
		if i < len(ops) {
			logicalOp, err := ParseLogicalOperator(ops[i])
			if err != nil {
				logWarn(logger, "alertengine: malformed logical operator", "operator", ops[i], "error", err)
			} else {
				cond.NextLogical = logicalOp
			}
		}
		conditions = append(conditions, cond)
	}
	return conditions
}

// splitOnLogicalOperators splits expr into clause segments and returns the
// matched operator tokens found *between* them, in order.
func splitOnLogicalOperators(expr string) (segments []string, ops []string) {
	loc := logicalRe.FindAllStringSubmatchIndex(expr, -1)
	if len(loc) == 0 {
		return []string{expr}, nil
	}

	prev := 0
	for _, m := range loc {
		segments = append(segments, expr[prev:m[0]])
		ops = append(ops, expr[m[2]:m[3]])
		prev = m[1]
	}
	segments = append(segments, expr[prev:])
	return segments, ops
}

func logWarn(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Warn(msg, args...)
}
