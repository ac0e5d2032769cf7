package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/notifier"
)

var actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "integrity_workflow_actions_total",
	Help: "Automation actions by type and result.",
}, []string{"type", "result"})

// Repair scopes accepted by the repair action's "scope" param.
const (
	RepairScopeStore       = "store"
	RepairScopeAll         = "all"
	RepairScopeCluster     = "cluster"
	RepairScopeHealthCheck = "health_check"
)

const escalationPrefix = "[ESCALATION]"

func (e *Engine) runAction(ctx context.Context, rule models.AutomationRule, a models.RuleAction) models.ActionResult {
	started := time.Now()
	var (
		msg string
		err error
	)
	switch a.Type {
	case models.ActionTypeRepair:
		msg, err = e.repairAction(ctx, a.Params)
	case models.ActionTypeNotify:
		level := notifier.ParseLevel(a.Params["level"])
		text := messageOrDefault(a.Params, fmt.Sprintf("automation rule %s fired", ruleName(rule)))
		err = e.deps.Notifier.Notify(ctx, level, text)
		msg = "notified: " + text
	case models.ActionTypeEscalate:
		text := fmt.Sprintf("%s rule %s: %s", escalationPrefix, ruleName(rule), messageOrDefault(a.Params, "needs operator attention"))
		err = e.deps.Notifier.Notify(ctx, notifier.LevelError, text)
		msg = "escalated: " + text
	case models.ActionTypeScheduleMaintenance:
		msg, err = e.scheduleAction(rule, a.Params)
	case models.ActionTypeAdjustSettings:
		msg, err = e.adjustAction(a.Params)
	default:
		err = fmt.Errorf("unknown action %q", a.Type)
	}

	res := models.ActionResult{
		Type:       a.Type,
		Success:    err == nil,
		Message:    msg,
		DurationMs: time.Since(started).Milliseconds(),
	}
	result := "success"
	if err != nil {
		res.Error = err.Error()
		result = "failure"
	}
	actionsTotal.WithLabelValues(string(a.Type), result).Inc()
	return res
}

func ruleName(rule models.AutomationRule) string {
	if rule.Name != "" {
		return rule.Name
	}
	return rule.ID
}

func messageOrDefault(params map[string]string, def string) string {
	if m := params["message"]; m != "" {
		return m
	}
	return def
}

func intParam(params map[string]string, name string) (int, error) {
	raw, ok := params[name]
	if !ok || raw == "" {
		return 0, fmt.Errorf("missing param %s", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", name, err)
	}
	return v, nil
}

func (e *Engine) repairAction(ctx context.Context, params map[string]string) (string, error) {
	if e.deps.Repairer == nil {
		return "", errors.New("repair engine not configured")
	}
	storeIds, err := e.repairTargets(ctx, params)
	if err != nil {
		return "", err
	}

	var repaired, unresolved int
	var errs []error
	for _, id := range storeIds {
		s := e.deps.Repairer.RepairStore(ctx, id)
		repaired += s.Successful
		unresolved += len(s.Unresolved)
		for _, entry := range s.Log {
			if entry.ProductId == 0 && entry.Outcome == models.RepairOutcomeFailed {
				errs = append(errs, fmt.Errorf("store %d: %s", id, entry.Error))
			}
		}
	}
	msg := fmt.Sprintf("repaired %d products across %d stores, %d unresolved", repaired, len(storeIds), unresolved)
	return msg, errors.Join(errs...)
}

func (e *Engine) repairTargets(ctx context.Context, params map[string]string) ([]int, error) {
	scope := params["scope"]
	switch scope {
	case RepairScopeStore, "":
		id, err := intParam(params, "store_id")
		if err != nil {
			return nil, err
		}
		return []int{id}, nil

	case RepairScopeAll:
		if e.deps.Stores == nil {
			return nil, errors.New("store listing not configured")
		}
		stores, err := e.deps.Stores.GetActiveStores(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]int, 0, len(stores))
		for _, s := range stores {
			ids = append(ids, s.ID)
		}
		return ids, nil

	case RepairScopeCluster:
		if e.deps.Syncer == nil {
			return nil, errors.New("store sync not configured")
		}
		c, ok := e.deps.Syncer.Cluster(params["cluster_id"])
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrClusterNotFound, params["cluster_id"])
		}
		return c.StoreIds, nil

	case RepairScopeHealthCheck:
		if e.deps.Health == nil {
			return nil, errors.New("health monitor not configured")
		}
		threshold := e.deps.Runtime.DeterioratingBelow()
		if _, ok := params["threshold"]; ok {
			v, err := intParam(params, "threshold")
			if err != nil {
				return nil, err
			}
			threshold = v
		}
		var ids []int
		for _, m := range e.deps.Health.Sweep(ctx) {
			if !m.Degraded() && m.HealthPct < threshold {
				ids = append(ids, m.StoreId)
			}
		}
		return ids, nil
	}
	return nil, fmt.Errorf("unknown repair scope %q", scope)
}

func (e *Engine) scheduleAction(rule models.AutomationRule, params map[string]string) (string, error) {
	if e.deps.Scheduler == nil {
		return "", errors.New("maintenance scheduler not configured")
	}
	task := MaintenanceTask{
		Type:        params["task"],
		ClusterId:   params["cluster_id"],
		RequestedBy: "rule:" + rule.ID,
	}
	if _, ok := params["store_id"]; ok {
		id, err := intParam(params, "store_id")
		if err != nil {
			return "", err
		}
		task.StoreId = id
	}
	delay := 0
	if _, ok := params["delay_minutes"]; ok {
		v, err := intParam(params, "delay_minutes")
		if err != nil {
			return "", err
		}
		delay = v
	}
	task.DueAt = e.now().Add(time.Duration(delay) * time.Minute)

	scheduled, err := e.deps.Scheduler.Schedule(task)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("scheduled %s task %s for %s", scheduled.Type, scheduled.ID, scheduled.DueAt.Format(time.RFC3339)), nil
}

func (e *Engine) adjustAction(params map[string]string) (string, error) {
	if e.deps.Runtime == nil {
		return "", errors.New("runtime settings not configured")
	}
	name := params["setting"]
	raw, ok := params["value"]
	if name == "" || !ok {
		return "", errors.New("adjust_settings needs setting and value params")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", fmt.Errorf("param value: %w", err)
	}
	prev, err := e.deps.Runtime.Set(name, v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %g -> %g", name, prev, v), nil
}
