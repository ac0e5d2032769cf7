package workflow

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/mmdatafocus/recipe_integrity/models"
)

const (
	InsightFailureRisk = "failure_risk"

	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var defaultPatternSeverities = []string{SeverityHigh, SeverityCritical}

// Compare applies one of the comparators > < >= <= ==. An empty operator means >.
func Compare(value float64, operator string, target float64) (bool, error) {
	switch operator {
	case ">", "":
		return value > target, nil
	case "<":
		return value < target, nil
	case ">=":
		return value >= target, nil
	case "<=":
		return value <= target, nil
	case "==":
		return math.Abs(value-target) < 1e-9, nil
	}
	return false, fmt.Errorf("unknown operator %q", operator)
}

func (e *Engine) thresholdFired(t models.RuleTrigger) bool {
	if e.deps.Metrics == nil {
		return false
	}
	v, ok := e.deps.Metrics.Metric(t.Metric)
	if !ok {
		return false
	}
	fired, err := Compare(v, t.Operator, t.Value)
	return err == nil && fired
}

func (e *Engine) patternFired(ctx context.Context, t models.RuleTrigger) bool {
	if e.deps.Insights == nil {
		return false
	}
	kind := t.InsightType
	if kind == "" {
		kind = InsightFailureRisk
	}
	severities := t.Severities
	if len(severities) == 0 {
		severities = defaultPatternSeverities
	}
	for _, in := range e.deps.Insights.Insights(ctx) {
		if in.Type == kind && slices.Contains(severities, in.Severity) {
			return true
		}
	}
	return false
}

// conditionHolds returns a reason when the condition does not hold.
func (e *Engine) conditionHolds(c models.RuleCondition) (bool, string) {
	switch c.Type {
	case models.ConditionTypeTimeWindow:
		now := e.now()
		if !InTimeWindow(now.Hour(), c.StartHour, c.EndHour) {
			return false, fmt.Sprintf("outside time window %02d:00-%02d:00", c.StartHour, c.EndHour)
		}
		if len(c.Weekdays) > 0 && !slices.Contains(c.Weekdays, int(now.Weekday())) {
			return false, fmt.Sprintf("%s is not an allowed weekday", now.Weekday())
		}
		return true, ""
	case models.ConditionTypeMetricCheck:
		if e.deps.Metrics == nil {
			return false, "no metrics source"
		}
		v, ok := e.deps.Metrics.Metric(c.Metric)
		if !ok {
			return false, fmt.Sprintf("metric %s unavailable", c.Metric)
		}
		held, err := Compare(v, c.Operator, c.Value)
		if err != nil {
			return false, err.Error()
		}
		if !held {
			return false, fmt.Sprintf("metric %s=%g fails %s %g", c.Metric, v, operatorOrDefault(c.Operator), c.Value)
		}
		return true, ""
	}
	return false, fmt.Sprintf("unknown condition %q", c.Type)
}

// InTimeWindow reports whether hour lies in [start, end). A window whose end is not
// after its start wraps midnight; start == end covers the whole day.
func InTimeWindow(hour, start, end int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

func operatorOrDefault(op string) string {
	if op == "" {
		return ">"
	}
	return op
}
