// Package workflow runs declarative automation rules: a trigger, optional
// conditions and an ordered list of repair and alerting actions.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/notifier"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

var executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "integrity_workflow_executions_total",
	Help: "Automation rule executions by final status.",
}, []string{"status"})

const executionHistoryCap = 100

// MetricsSource serves live performance metrics to threshold triggers and metric checks.
type MetricsSource interface {
	Metric(name string) (float64, bool)
}

// InsightProvider serves predictive insights to failure-pattern triggers.
type InsightProvider interface {
	Insights(ctx context.Context) []Insight
}

type Repairer interface {
	RepairStore(ctx context.Context, storeId int) models.RepairSummary
}

type HealthChecker interface {
	Sweep(ctx context.Context) []models.HealthMetrics
}

type ClusterSyncer interface {
	Cluster(id string) (models.StoreCluster, bool)
	Sync(ctx context.Context, clusterId string, strategy models.SyncStrategy) (*models.CrossStoreSync, error)
}

type StoreLister interface {
	GetActiveStores(ctx context.Context) ([]models.Store, error)
}

// Recorder persists finished executions.
type Recorder interface {
	RecordExecution(ctx context.Context, e *models.WorkflowExecution) error
}

// Dependencies wires the engine to the rest of the service. Every field but
// Notifier may be nil; actions that need a missing dependency fail.
type Dependencies struct {
	Repairer  Repairer
	Health    HealthChecker
	Syncer    ClusterSyncer
	Stores    StoreLister
	Notifier  notifier.Notifier
	Runtime   *config.Runtime
	Metrics   MetricsSource
	Insights  InsightProvider
	Scheduler *MaintenanceScheduler
	Recorder  Recorder
}

type Engine struct {
	deps   Dependencies
	logger *logrus.Logger
	now    func() time.Time

	mu        sync.RWMutex
	rules     map[string]*models.AutomationRule
	schedules map[string]context.CancelFunc
	runCtx    context.Context

	runningMu sync.Mutex
	running   map[string]struct{}

	execMu     sync.RWMutex
	executions []models.WorkflowExecution
}

func NewEngine(deps Dependencies, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = config.NopLogger()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.NewLogNotifier(logger)
	}
	return &Engine{
		deps:      deps,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		rules:     make(map[string]*models.AutomationRule),
		schedules: make(map[string]context.CancelFunc),
		running:   make(map[string]struct{}),
	}
}

// RegisterRule adds or replaces a rule. Replacing keeps the previous lastExecuted
// so a redefinition cannot bypass the cooldown.
func (e *Engine) RegisterRule(rule models.AutomationRule) error {
	if err := config.ValidateRule(rule); err != nil {
		return err
	}
	r := rule
	r.Conditions = append([]models.RuleCondition(nil), rule.Conditions...)
	r.Actions = append([]models.RuleAction(nil), rule.Actions...)

	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.rules[r.ID]; ok && r.LastExecuted == nil {
		r.LastExecuted = prev.LastExecuted
	}
	e.rules[r.ID] = &r
	if cancel, ok := e.schedules[r.ID]; ok {
		cancel()
		delete(e.schedules, r.ID)
	}
	if e.runCtx != nil && r.Trigger.Type == models.TriggerTypeSchedule {
		e.startScheduleLocked(r.ID, r.Trigger.IntervalMinutes)
	}
	e.logger.WithFields(logrus.Fields{
		"field":   "Automation",
		"ruleId":  r.ID,
		"trigger": r.Trigger.Type,
		"active":  r.IsActive,
	}).Info("automation rule registered")
	return nil
}

func (e *Engine) Rule(id string) (models.AutomationRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	if !ok {
		return models.AutomationRule{}, false
	}
	return *r, true
}

func (e *Engine) Rules() []models.AutomationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.AutomationRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Executions returns the last executions, oldest first.
func (e *Engine) Executions() []models.WorkflowExecution {
	e.execMu.RLock()
	defer e.execMu.RUnlock()
	out := make([]models.WorkflowExecution, len(e.executions))
	copy(out, e.executions)
	return out
}

// Running reports whether the rule has an execution in progress.
func (e *Engine) Running(ruleId string) bool {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	_, ok := e.running[ruleId]
	return ok
}

func (e *Engine) tryStart(ruleId string) bool {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	if _, ok := e.running[ruleId]; ok {
		return false
	}
	e.running[ruleId] = struct{}{}
	return true
}

func (e *Engine) done(ruleId string) {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	delete(e.running, ruleId)
}

// EvaluateAndRun checks the threshold and failure-pattern triggers of every active
// rule and executes the ones that fire. Schedule and event rules are driven by Run
// and HandleEvent.
func (e *Engine) EvaluateAndRun(ctx context.Context) []models.WorkflowExecution {
	var out []models.WorkflowExecution
	for _, rule := range e.Rules() {
		if !rule.IsActive {
			continue
		}
		var fired bool
		switch rule.Trigger.Type {
		case models.TriggerTypeThreshold:
			fired = e.thresholdFired(rule.Trigger)
		case models.TriggerTypeFailurePattern:
			fired = e.patternFired(ctx, rule.Trigger)
		}
		if !fired {
			continue
		}
		if exec, err := e.ExecuteRule(ctx, rule.ID, string(rule.Trigger.Type)); err == nil {
			out = append(out, *exec)
		}
	}
	return out
}

// HandleEvent executes the active rules whose event trigger matches name.
func (e *Engine) HandleEvent(ctx context.Context, name string) []models.WorkflowExecution {
	var out []models.WorkflowExecution
	for _, rule := range e.Rules() {
		if !rule.IsActive || rule.Trigger.Type != models.TriggerTypeEvent || rule.Trigger.Event != name {
			continue
		}
		if exec, err := e.ExecuteRule(ctx, rule.ID, "event:"+name); err == nil {
			out = append(out, *exec)
		}
	}
	return out
}

// ExecuteRule runs the rule once if it is eligible: active, not already running and
// out of its cooldown. Ineligibility is reported as an error and leaves no execution.
func (e *Engine) ExecuteRule(ctx context.Context, ruleId, triggeredBy string) (*models.WorkflowExecution, error) {
	if _, ok := e.Rule(ruleId); !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrRuleNotFound, ruleId)
	}
	if !e.tryStart(ruleId) {
		return nil, fmt.Errorf("%w: %s", models.ErrRuleRunning, ruleId)
	}
	defer e.done(ruleId)

	// re-read under the running guard so the cooldown sees the latest stamp
	rule, ok := e.Rule(ruleId)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrRuleNotFound, ruleId)
	}
	if !rule.IsActive {
		return nil, fmt.Errorf("%w: %s", models.ErrRuleInactive, ruleId)
	}
	if rule.LastExecuted != nil {
		cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
		if next := rule.LastExecuted.Add(cooldown); e.now().Before(next) {
			return nil, fmt.Errorf("%w: %s until %s", models.ErrRuleCoolingDown, ruleId, next.Format(time.RFC3339))
		}
	}

	if triggeredBy == "" {
		triggeredBy = utils.GetTriggerFromContext(ctx)
	}
	exec := e.run(utils.SetTriggerInContext(ctx, "rule:"+rule.ID), rule, triggeredBy)
	return &exec, nil
}

func (e *Engine) run(ctx context.Context, rule models.AutomationRule, triggeredBy string) (exec models.WorkflowExecution) {
	exec = models.WorkflowExecution{
		ID:          uuid.NewString(),
		RuleId:      rule.ID,
		Status:      models.ExecutionStatusRunning,
		TriggeredBy: triggeredBy,
		Results:     []models.ActionResult{},
		StartTime:   e.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"field":  "Automation",
				"ruleId": rule.ID,
			}).Errorf("panic executing rule: %v\n%s", r, debug.Stack())
			exec.Status = models.ExecutionStatusFailed
			exec.Error = fmt.Sprintf("panic: %v", r)
		}
		end := e.now()
		exec.EndTime = &end
		if exec.Status != models.ExecutionStatusCancelled {
			e.stamp(rule.ID, end)
		}
		e.record(ctx, exec)
	}()

	for _, c := range rule.Conditions {
		if held, why := e.conditionHolds(c); !held {
			exec.Status = models.ExecutionStatusCancelled
			exec.Error = why
			return exec
		}
	}

	failures := 0
	for _, a := range rule.Actions {
		res := e.runAction(ctx, rule, a)
		if !res.Success {
			failures++
		}
		exec.Results = append(exec.Results, res)
	}
	switch {
	case failures == 0:
		exec.Status = models.ExecutionStatusCompleted
	case failures == len(rule.Actions):
		exec.Status = models.ExecutionStatusFailed
	default:
		exec.Status = models.ExecutionStatusCompletedWithErrors
	}
	return exec
}

func (e *Engine) stamp(ruleId string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rules[ruleId]; ok {
		t := at
		r.LastExecuted = &t
	}
}

func (e *Engine) record(ctx context.Context, exec models.WorkflowExecution) {
	executionsTotal.WithLabelValues(exec.Status).Inc()

	e.execMu.Lock()
	e.executions = append(e.executions, exec)
	if len(e.executions) > executionHistoryCap {
		e.executions = e.executions[len(e.executions)-executionHistoryCap:]
	}
	e.execMu.Unlock()

	if e.deps.Recorder != nil {
		if err := e.deps.Recorder.RecordExecution(ctx, &exec); err != nil {
			config.LogError(e.logger, "workflow", "record", "record execution", exec.ID, err)
		}
	}

	entry := e.logger.WithFields(logrus.Fields{
		"field":       "Automation",
		"executionId": exec.ID,
		"ruleId":      exec.RuleId,
		"status":      exec.Status,
		"actions":     len(exec.Results),
		"triggeredBy": exec.TriggeredBy,
	})
	switch exec.Status {
	case models.ExecutionStatusCompleted, models.ExecutionStatusCancelled:
		entry.Info("rule execution finished")
	default:
		entry.Warn("rule execution finished with failures")
	}
}

// Run drives schedule rules with one ticker each and re-evaluates threshold and
// failure-pattern rules every evalInterval until ctx is done.
func (e *Engine) Run(ctx context.Context, evalInterval time.Duration) {
	if evalInterval <= 0 {
		evalInterval = time.Minute
	}
	e.mu.Lock()
	e.runCtx = ctx
	for id, r := range e.rules {
		if r.Trigger.Type == models.TriggerTypeSchedule {
			e.startScheduleLocked(id, r.Trigger.IntervalMinutes)
		}
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		for id, cancel := range e.schedules {
			cancel()
			delete(e.schedules, id)
		}
		e.runCtx = nil
		e.mu.Unlock()
	}()

	ticker := time.NewTicker(evalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.safely("evaluate", func() { e.EvaluateAndRun(ctx) })
		}
	}
}

// startScheduleLocked must be called with e.mu held.
func (e *Engine) startScheduleLocked(ruleId string, intervalMinutes int) {
	if intervalMinutes <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(e.runCtx)
	e.schedules[ruleId] = cancel
	interval := time.Duration(intervalMinutes) * time.Minute
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.safely("schedule", func() {
					_, err := e.ExecuteRule(ctx, ruleId, string(models.TriggerTypeSchedule))
					if err != nil && !errors.Is(err, models.ErrRuleCoolingDown) && !errors.Is(err, models.ErrRuleRunning) && !errors.Is(err, models.ErrRuleInactive) {
						config.LogError(e.logger, "workflow", "schedule", "execute rule", ruleId, err)
					}
				})
			}
		}
	}()
}

// safely keeps a scheduler loop alive across a panic in one tick.
func (e *Engine) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("field", "Automation").Errorf("panic in %s tick: %v", what, r)
		}
	}()
	fn()
}
