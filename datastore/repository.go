// Package datastore is the data-access collaborator of the integrity engine:
// product/recipe/template lookups, the narrow mutations used by auto-repair,
// source-of-truth writes, and the change feed those writes produce.
package datastore

import (
	"context"

	"github.com/mmdatafocus/recipe_integrity/models"
)

// ProductReader resolves products together with their recipe and template.
// A missing product is reported as models.ErrNotFound.
type ProductReader interface {
	GetProduct(ctx context.Context, id int) (*models.ProductWithLinks, error)
}

// Repository is everything the integrity services read, plus the mutations auto-repair needs.
type Repository interface {
	ProductReader
	// GetProducts returns the found products keyed by id; missing ids are absent.
	GetProducts(ctx context.Context, ids []int) (map[int]*models.ProductWithLinks, error)
	GetProductsByStore(ctx context.Context, storeId int, activeOnly bool) ([]*models.ProductWithLinks, error)
	GetProductIdsByRecipe(ctx context.Context, recipeId int) ([]int, error)
	GetProductIdsByTemplate(ctx context.Context, templateId int) ([]int, error)

	GetActiveTemplates(ctx context.Context) ([]models.RecipeTemplate, error)
	// FindTemplateByName matches active templates case-insensitively.
	FindTemplateByName(ctx context.Context, name string) (*models.RecipeTemplate, error)

	CreateRecipe(ctx context.Context, productId, storeId, templateId int, name string) (*models.Recipe, error)
	UpdateRecipeTemplate(ctx context.Context, recipeId, templateId int) error
	LinkProductRecipe(ctx context.Context, productId, recipeId int) error

	GetStore(ctx context.Context, id int) (*models.Store, error)
	GetActiveStores(ctx context.Context) ([]models.Store, error)
}

// Writer is the source-of-truth write path. Every successful write emits a ChangeEvent.
type Writer interface {
	UpsertStore(ctx context.Context, input models.Store) (*models.Store, error)
	UpsertProduct(ctx context.Context, input models.NewProduct) (*models.Product, error)
	UpsertRecipe(ctx context.Context, input models.NewRecipe) (*models.Recipe, error)
	UpsertTemplate(ctx context.Context, input models.NewRecipeTemplate) (*models.RecipeTemplate, error)
}

// ChangeFeed delivers row changes for the named tables until ctx is done.
// The returned channel is closed when the subscription ends.
type ChangeFeed interface {
	SubscribeToChanges(ctx context.Context, tables ...string) (<-chan models.ChangeEvent, error)
}

type Publisher interface {
	PublishChange(ctx context.Context, ev models.ChangeEvent) error
}

// Store is a full datastore: reads, repairs and source-of-truth writes.
type Store interface {
	Repository
	Writer
}

func publish(ctx context.Context, pub Publisher, table, op string, before, after any) error {
	if pub == nil {
		return nil
	}
	return pub.PublishChange(ctx, models.NewChangeEvent(table, op, before, after))
}

func uniqueIds(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
