package datastore

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/mmdatafocus/recipe_integrity/models"
)

// ProductLoader batches concurrent single-product lookups into one GetProducts call.
// Results are not cached between batches so every lookup sees current state.
type ProductLoader struct {
	repo   Repository
	loader *dataloader.Loader[int, *models.ProductWithLinks]
}

func NewProductLoader(repo Repository, wait time.Duration) *ProductLoader {
	if wait <= 0 {
		wait = time.Millisecond
	}
	l := &ProductLoader{repo: repo}
	l.loader = dataloader.NewBatchedLoader(
		l.getProducts,
		dataloader.WithWait[int, *models.ProductWithLinks](wait),
		dataloader.WithCache[int, *models.ProductWithLinks](&dataloader.NoCache[int, *models.ProductWithLinks]{}),
	)
	return l
}

func (l *ProductLoader) getProducts(ctx context.Context, ids []int) []*dataloader.Result[*models.ProductWithLinks] {
	found, err := l.repo.GetProducts(ctx, ids)
	if err != nil {
		return handleError[*models.ProductWithLinks](len(ids), err)
	}
	results := make([]*dataloader.Result[*models.ProductWithLinks], 0, len(ids))
	for _, id := range ids {
		p, ok := found[id]
		if !ok {
			results = append(results, &dataloader.Result[*models.ProductWithLinks]{Error: models.ErrNotFound})
			continue
		}
		results = append(results, &dataloader.Result[*models.ProductWithLinks]{Data: p})
	}
	return results
}

func (l *ProductLoader) GetProduct(ctx context.Context, id int) (*models.ProductWithLinks, error) {
	return l.loader.Load(ctx, id)()
}

func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}
