// Package validator classifies whether a product can currently drive inventory deduction.
package validator

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/models"
)

var validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "integrity_validations_total",
	Help: "Product validations by resulting status.",
}, []string{"status"})

const (
	ReasonInactive     = "product is inactive"
	ReasonNoRecipe     = "product has no recipe"
	ReasonNoTemplate   = "recipe has no template"
	ReasonNotFound     = "not found"
	ReasonAmbiguous    = "classification ambiguity"
	reasonInactiveTmpl = "template %q is inactive"
)

// Classify maps the current product/recipe/template state to a result.
// The first matching rule wins: inactive, no_recipe, no_template, inactive_template, valid.
func Classify(p *models.ProductWithLinks) models.ValidationResult {
	if p == nil {
		return models.ValidationResult{Status: models.ValidationStatusNoTemplate, Reason: ReasonAmbiguous}
	}
	res := models.ValidationResult{
		ProductId:   p.Product.ID,
		ProductName: p.Product.Name,
		StoreId:     p.Product.StoreId,
	}
	if p.Recipe != nil {
		id := p.Recipe.ID
		res.RecipeId = &id
	}
	if p.Template != nil {
		id := p.Template.ID
		res.TemplateId = &id
	}

	switch {
	case !p.Product.Active():
		res.Status, res.Reason = models.ValidationStatusInactive, ReasonInactive
	case p.Recipe == nil:
		res.Status, res.Reason = models.ValidationStatusNoRecipe, ReasonNoRecipe
	case p.Template == nil:
		res.Status, res.Reason = models.ValidationStatusNoTemplate, ReasonNoTemplate
	case !p.Template.Active():
		res.Status, res.Reason = models.ValidationStatusInactiveTemplate, fmt.Sprintf(reasonInactiveTmpl, p.Template.Name)
	default:
		res.Status = models.ValidationStatusValid
	}
	res.CanDeduct = res.Status == models.ValidationStatusValid
	return res
}

// Failed is the degraded result for a product that could not be classified.
func Failed(productId int, reason string) models.ValidationResult {
	return models.ValidationResult{
		ProductId: productId,
		Status:    models.ValidationStatusNoTemplate,
		CanDeduct: false,
		Reason:    reason,
	}
}

type Validator struct {
	repo   datastore.Repository
	reader datastore.ProductReader
	logger *logrus.Logger
}

// New builds a validator. reader serves single lookups (a ProductLoader batches them);
// nil falls back to repo.
func New(repo datastore.Repository, reader datastore.ProductReader, logger *logrus.Logger) *Validator {
	if reader == nil {
		reader = repo
	}
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Validator{repo: repo, reader: reader, logger: logger}
}

// Validate always returns a populated result. The error is models.ErrNotFound or a
// data access error when the product could not be read.
func (v *Validator) Validate(ctx context.Context, productId int) (models.ValidationResult, error) {
	p, err := v.reader.GetProduct(ctx, productId)
	if err != nil {
		var res models.ValidationResult
		if errors.Is(err, models.ErrNotFound) {
			res = Failed(productId, ReasonNotFound)
		} else {
			res = Failed(productId, "lookup failed: "+err.Error())
			config.LogError(v.logger, "validator", "Validate", "get product", productId, err)
		}
		validationsTotal.WithLabelValues(string(res.Status)).Inc()
		return res, err
	}
	res := Classify(p)
	validationsTotal.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

// ValidateBatch returns a result for every distinct id with one batch fetch.
// A failed fetch degrades every id instead of failing the batch.
func (v *Validator) ValidateBatch(ctx context.Context, productIds []int) map[int]models.ValidationResult {
	out := make(map[int]models.ValidationResult, len(productIds))
	if len(productIds) == 0 {
		return out
	}

	found, err := v.repo.GetProducts(ctx, productIds)
	if err != nil {
		config.LogError(v.logger, "validator", "ValidateBatch", "get products", len(productIds), err)
		for _, id := range productIds {
			out[id] = Failed(id, "batch lookup failed: "+err.Error())
		}
		validationsTotal.WithLabelValues(string(models.ValidationStatusNoTemplate)).Add(float64(len(out)))
		return out
	}

	for _, id := range productIds {
		if _, done := out[id]; done {
			continue
		}
		p, ok := found[id]
		if !ok {
			out[id] = Failed(id, ReasonNotFound)
		} else {
			out[id] = Classify(p)
		}
		validationsTotal.WithLabelValues(string(out[id].Status)).Inc()
	}
	return out
}

// ValidateStore classifies products of one store, joined in a single fetch.
func (v *Validator) ValidateStore(ctx context.Context, storeId int, activeOnly bool) ([]models.ValidationResult, error) {
	products, err := v.repo.GetProductsByStore(ctx, storeId, activeOnly)
	if err != nil {
		return nil, err
	}
	results := make([]models.ValidationResult, 0, len(products))
	for _, p := range products {
		res := Classify(p)
		validationsTotal.WithLabelValues(string(res.Status)).Inc()
		results = append(results, res)
	}
	return results, nil
}
