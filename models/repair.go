package models

import "time"

// RepairOutcome keeps "no safe fix exists" apart from "the fix was attempted and failed".
type RepairOutcome string

const (
	RepairOutcomeSuccess    RepairOutcome = "success"
	RepairOutcomeUnresolved RepairOutcome = "unresolved"
	RepairOutcomeFailed     RepairOutcome = "failed"
)

const (
	RepairActionCreateRecipe = "create_recipe"
	RepairActionLinkTemplate = "link_template"
	RepairActionSwapTemplate = "swap_inactive_template"
	RepairActionAcquireLock  = "acquire_store_lock"
	RepairActionLoadStore    = "load_store"
)

type RepairLogEntry struct {
	ProductId  int              `json:"product_id"`
	StoreId    int              `json:"store_id"`
	IssueType  ValidationStatus `json:"issue_type"`
	Action     string           `json:"action"`
	Outcome    RepairOutcome    `json:"outcome"`
	Success    bool             `json:"success"`
	TemplateId *int             `json:"template_id,omitempty"`
	RecipeId   *int             `json:"recipe_id,omitempty"`
	Error      string           `json:"error,omitempty"`
	At         time.Time        `json:"at"`
}

type RepairSummary struct {
	StoreId    int              `json:"store_id"`
	Attempted  int              `json:"attempted"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Unresolved []int            `json:"unresolved"`
	Log        []RepairLogEntry `json:"log"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Add records one attempt and keeps the counters consistent with the log.
func (s *RepairSummary) Add(entry RepairLogEntry) {
	entry.Success = entry.Outcome == RepairOutcomeSuccess
	s.Log = append(s.Log, entry)
	s.Attempted++
	switch entry.Outcome {
	case RepairOutcomeSuccess:
		s.Successful++
	case RepairOutcomeUnresolved:
		s.Unresolved = append(s.Unresolved, entry.ProductId)
	default:
		s.Failed++
	}
}

// RepairedProduct reports whether the summary holds a successful entry for productId.
func (s *RepairSummary) RepairedProduct(productId int) bool {
	for _, e := range s.Log {
		if e.ProductId == productId && e.Outcome == RepairOutcomeSuccess {
			return true
		}
	}
	return false
}
