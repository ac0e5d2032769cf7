package models

import "time"

type TriggerType string

const (
	TriggerTypeSchedule       TriggerType = "schedule"
	TriggerTypeEvent          TriggerType = "event"
	TriggerTypeThreshold      TriggerType = "threshold"
	TriggerTypeFailurePattern TriggerType = "failure_pattern"
)

type ConditionType string

const (
	ConditionTypeTimeWindow  ConditionType = "time_window"
	ConditionTypeMetricCheck ConditionType = "metric_check"
)

type ActionType string

const (
	ActionTypeRepair              ActionType = "repair"
	ActionTypeNotify              ActionType = "notify"
	ActionTypeEscalate            ActionType = "escalate"
	ActionTypeScheduleMaintenance ActionType = "schedule_maintenance"
	ActionTypeAdjustSettings      ActionType = "adjust_settings"
)

type RuleTrigger struct {
	Type            TriggerType `json:"type" yaml:"type" validate:"required,oneof=schedule event threshold failure_pattern"`
	IntervalMinutes int         `json:"interval_minutes,omitempty" yaml:"intervalMinutes" validate:"required_if=Type schedule,gte=0"`
	Event           string      `json:"event,omitempty" yaml:"event" validate:"required_if=Type event"`
	Metric          string      `json:"metric,omitempty" yaml:"metric" validate:"required_if=Type threshold"`
	Operator        string      `json:"operator,omitempty" yaml:"operator" validate:"omitempty,oneof=> < >= <= =="`
	Value           float64     `json:"value,omitempty" yaml:"value"`
	InsightType     string      `json:"insight_type,omitempty" yaml:"insightType"`
	Severities      []string    `json:"severities,omitempty" yaml:"severities"`
}

type RuleCondition struct {
	Type      ConditionType `json:"type" yaml:"type" validate:"required,oneof=time_window metric_check"`
	StartHour int           `json:"start_hour,omitempty" yaml:"startHour" validate:"gte=0,lte=23"`
	EndHour   int           `json:"end_hour,omitempty" yaml:"endHour" validate:"gte=0,lte=24"`
	Weekdays  []int         `json:"weekdays,omitempty" yaml:"weekdays" validate:"dive,gte=0,lte=6"`
	Metric    string        `json:"metric,omitempty" yaml:"metric" validate:"required_if=Type metric_check"`
	Operator  string        `json:"operator,omitempty" yaml:"operator" validate:"omitempty,oneof=> < >= <= =="`
	Value     float64       `json:"value,omitempty" yaml:"value"`
}

type RuleAction struct {
	Type   ActionType        `json:"type" yaml:"type" validate:"required,oneof=repair notify escalate schedule_maintenance adjust_settings"`
	Params map[string]string `json:"params,omitempty" yaml:"params"`
}

// AutomationRule is a declarative repair/alert policy. A rule never runs twice concurrently.
type AutomationRule struct {
	ID              string          `json:"id" yaml:"id" validate:"required"`
	Name            string          `json:"name" yaml:"name"`
	Trigger         RuleTrigger     `json:"trigger" yaml:"trigger"`
	Conditions      []RuleCondition `json:"conditions" yaml:"conditions" validate:"dive"`
	Actions         []RuleAction    `json:"actions" yaml:"actions" validate:"min=1,dive"`
	CooldownMinutes int             `json:"cooldown_minutes" yaml:"cooldownMinutes" validate:"gte=0"`
	LastExecuted    *time.Time      `json:"last_executed,omitempty" yaml:"-"`
	IsActive        bool            `json:"is_active" yaml:"isActive"`
}

const (
	ExecutionStatusRunning             = "running"
	ExecutionStatusCompleted           = "completed"
	ExecutionStatusCompletedWithErrors = "completed_with_errors"
	ExecutionStatusFailed              = "failed"
	ExecutionStatusCancelled           = "cancelled"
)

type ActionResult struct {
	Type       ActionType `json:"type"`
	Success    bool       `json:"success"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// WorkflowExecution is one run of a rule.
type WorkflowExecution struct {
	ID          string         `json:"id"`
	RuleId      string         `json:"rule_id"`
	Status      string         `json:"status"`
	TriggeredBy string         `json:"triggered_by"`
	Results     []ActionResult `json:"results"`
	Error       string         `json:"error,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
}
