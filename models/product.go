package models

import "time"

const (
	TableStores          = "stores"
	TableProducts        = "products"
	TableRecipes         = "recipes"
	TableRecipeTemplates = "recipe_templates"
)

type Product struct {
	ID        int       `gorm:"primary_key" json:"id"`
	StoreId   int       `gorm:"index;not null" json:"store_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Sku       string    `gorm:"size:100" json:"sku"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	RecipeId  *int      `gorm:"index" json:"recipe_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Recipe binds a product of one store to at most one template.
type Recipe struct {
	ID         int       `gorm:"primary_key" json:"id"`
	ProductId  int       `gorm:"index;not null" json:"product_id"`
	StoreId    int       `gorm:"index;not null" json:"store_id"`
	TemplateId *int      `gorm:"index" json:"template_id"`
	Name       string    `gorm:"size:255" json:"name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecipeTemplate is the canonical preparation definition shared across stores.
type RecipeTemplate struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"index;size:255;not null" json:"name"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Product) Active() bool {
	return p != nil && p.IsActive != nil && *p.IsActive
}

func (t *RecipeTemplate) Active() bool {
	return t != nil && t.IsActive != nil && *t.IsActive
}

// ProductWithLinks is a product joined with its recipe and that recipe's template.
// Recipe and Template are nil when the link is missing.
type ProductWithLinks struct {
	Product  Product         `json:"product"`
	Recipe   *Recipe         `json:"recipe,omitempty"`
	Template *RecipeTemplate `json:"template,omitempty"`
}

type NewProduct struct {
	ID       int    `json:"id"`
	StoreId  int    `json:"store_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Sku      string `json:"sku"`
	IsActive *bool  `json:"is_active"`
	RecipeId *int   `json:"recipe_id"`
}

type NewRecipe struct {
	ID         int    `json:"id"`
	ProductId  int    `json:"product_id" validate:"required"`
	StoreId    int    `json:"store_id" validate:"required"`
	TemplateId *int   `json:"template_id"`
	Name       string `json:"name"`
}

type NewRecipeTemplate struct {
	ID       int    `json:"id"`
	Name     string `json:"name" validate:"required"`
	IsActive *bool  `json:"is_active"`
}
