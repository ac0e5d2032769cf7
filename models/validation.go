package models

import "time"

type ValidationStatus string

const (
	ValidationStatusValid            ValidationStatus = "valid"
	ValidationStatusInactive         ValidationStatus = "inactive"
	ValidationStatusNoRecipe         ValidationStatus = "no_recipe"
	ValidationStatusNoTemplate       ValidationStatus = "no_template"
	ValidationStatusInactiveTemplate ValidationStatus = "inactive_template"
)

// ValidationResult is derived on every call from the current product/recipe/template state.
type ValidationResult struct {
	ProductId   int              `json:"product_id"`
	ProductName string           `json:"product_name,omitempty"`
	StoreId     int              `json:"store_id,omitempty"`
	Status      ValidationStatus `json:"status"`
	CanDeduct   bool             `json:"can_deduct"`
	Reason      string           `json:"reason,omitempty"`
	RecipeId    *int             `json:"recipe_id,omitempty"`
	TemplateId  *int             `json:"template_id,omitempty"`
}

type ValidationEventType string

const (
	ValidationEventProductUpsert  ValidationEventType = "product_upsert"
	ValidationEventRecipeUpsert   ValidationEventType = "recipe_upsert"
	ValidationEventTemplateUpsert ValidationEventType = "template_upsert"
	ValidationEventManual         ValidationEventType = "manual"
)

// ValidationEvent is a queued change notification. Result and Repaired are filled once processed.
type ValidationEvent struct {
	EventType   ValidationEventType `json:"event_type"`
	ProductId   int                 `json:"product_id"`
	StoreId     int                 `json:"store_id"`
	Timestamp   time.Time           `json:"timestamp"`
	Result      *ValidationResult   `json:"result,omitempty"`
	Repaired    bool                `json:"repaired"`
	ProcessedAt *time.Time          `json:"processed_at,omitempty"`
	Error       string              `json:"error,omitempty"`
}
