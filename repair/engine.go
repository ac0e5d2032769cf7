// Package repair heals products whose recipe/template links are broken by
// relinking them to a matching active template.
package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/utils"
	"github.com/mmdatafocus/recipe_integrity/validator"
)

var (
	tracer = otel.Tracer("github.com/mmdatafocus/recipe_integrity/repair")

	repairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_repairs_total",
		Help: "Repair attempts by issue type and outcome.",
	}, []string{"issue", "outcome"})
)

// Recorder persists repair attempts.
type Recorder interface {
	RecordRepairs(ctx context.Context, summary models.RepairSummary) error
}

type Engine struct {
	repo       datastore.Repository
	locker     StoreLocker
	runtime    *config.Runtime
	recorder   Recorder
	onRepaired func(ctx context.Context, storeId int)
	logger     *logrus.Logger
	now        func() time.Time
}

func NewEngine(repo datastore.Repository, locker StoreLocker, runtime *config.Runtime, logger *logrus.Logger) *Engine {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Engine{
		repo:    repo,
		locker:  locker,
		runtime: runtime,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) SetRecorder(r Recorder) { e.recorder = r }

// OnRepaired registers a hook run after a pass that repaired at least one product.
func (e *Engine) OnRepaired(fn func(ctx context.Context, storeId int)) { e.onRepaired = fn }

// RepairStore repairs every defective active product of the store. It never
// returns an error: lock, lookup and write failures all appear as log entries.
func (e *Engine) RepairStore(ctx context.Context, storeId int) models.RepairSummary {
	ctx, span := tracer.Start(ctx, "repair.RepairStore", trace.WithAttributes(attribute.Int("store.id", storeId)))
	defer span.End()

	summary := models.RepairSummary{StoreId: storeId, Unresolved: []int{}, Log: []models.RepairLogEntry{}, StartedAt: e.now()}

	unlock, err := e.locker.Lock(ctx, storeId)
	if err != nil {
		summary.Add(e.storeFailure(storeId, models.RepairActionAcquireLock, err))
		return e.finish(ctx, summary)
	}
	defer unlock()

	products, err := e.repo.GetProductsByStore(ctx, storeId, true)
	if err != nil {
		summary.Add(e.storeFailure(storeId, models.RepairActionLoadStore, err))
		return e.finish(ctx, summary)
	}
	e.repairAll(ctx, &summary, products)
	span.SetAttributes(
		attribute.Int("repair.attempted", summary.Attempted),
		attribute.Int("repair.successful", summary.Successful),
	)
	return e.finish(ctx, summary)
}

// RepairProduct repairs a single product under its store's lock.
func (e *Engine) RepairProduct(ctx context.Context, productId int) models.RepairSummary {
	summary := models.RepairSummary{Unresolved: []int{}, Log: []models.RepairLogEntry{}, StartedAt: e.now()}

	p, err := e.repo.GetProduct(ctx, productId)
	if err != nil {
		entry := e.storeFailure(0, models.RepairActionLoadStore, err)
		entry.ProductId = productId
		summary.Add(entry)
		return e.finish(ctx, summary)
	}
	summary.StoreId = p.Product.StoreId

	unlock, err := e.locker.Lock(ctx, p.Product.StoreId)
	if err != nil {
		summary.Add(e.storeFailure(p.Product.StoreId, models.RepairActionAcquireLock, err))
		return e.finish(ctx, summary)
	}
	defer unlock()

	// re-read under the lock; a concurrent run may already have fixed it
	if p, err = e.repo.GetProduct(ctx, productId); err != nil {
		entry := e.storeFailure(summary.StoreId, models.RepairActionLoadStore, err)
		entry.ProductId = productId
		summary.Add(entry)
		return e.finish(ctx, summary)
	}
	e.repairAll(ctx, &summary, []*models.ProductWithLinks{p})
	return e.finish(ctx, summary)
}

func (e *Engine) repairAll(ctx context.Context, summary *models.RepairSummary, products []*models.ProductWithLinks) {
	var (
		templates    []models.RecipeTemplate
		templatesErr error
		loaded       bool
	)
	for _, p := range products {
		res := validator.Classify(p)
		if !repairable(res.Status) {
			continue
		}
		if !loaded {
			templates, templatesErr = e.repo.GetActiveTemplates(ctx)
			loaded = true
		}
		var entry models.RepairLogEntry
		if templatesErr != nil {
			entry = e.entry(p, res.Status, actionFor(res.Status))
			entry.Outcome = models.RepairOutcomeFailed
			entry.Error = "load templates: " + templatesErr.Error()
		} else {
			entry = e.repairOne(ctx, p, res.Status, templates)
		}
		summary.Add(entry)
		e.logEntry(entry)
	}
}

func repairable(status models.ValidationStatus) bool {
	switch status {
	case models.ValidationStatusNoRecipe, models.ValidationStatusNoTemplate, models.ValidationStatusInactiveTemplate:
		return true
	}
	return false
}

func actionFor(status models.ValidationStatus) string {
	switch status {
	case models.ValidationStatusNoRecipe:
		return models.RepairActionCreateRecipe
	case models.ValidationStatusNoTemplate:
		return models.RepairActionLinkTemplate
	default:
		return models.RepairActionSwapTemplate
	}
}

func (e *Engine) entry(p *models.ProductWithLinks, issue models.ValidationStatus, action string) models.RepairLogEntry {
	return models.RepairLogEntry{
		ProductId: p.Product.ID,
		StoreId:   p.Product.StoreId,
		IssueType: issue,
		Action:    action,
		At:        e.now(),
	}
}

func (e *Engine) repairOne(ctx context.Context, p *models.ProductWithLinks, issue models.ValidationStatus, templates []models.RecipeTemplate) models.RepairLogEntry {
	entry := e.entry(p, issue, actionFor(issue))
	threshold := e.runtime.SimilarityThreshold()

	switch issue {
	case models.ValidationStatusNoRecipe:
		match, err := FindMatch(p.Product.Name, templates, threshold)
		if err != nil {
			return failed(entry, err)
		}
		entry.TemplateId = utils.NewInt(match.Template.ID)
		recipe, err := e.repo.CreateRecipe(ctx, p.Product.ID, p.Product.StoreId, match.Template.ID, p.Product.Name)
		if err != nil {
			return failed(entry, fmt.Errorf("create recipe: %w", err))
		}
		entry.RecipeId = utils.NewInt(recipe.ID)
		if err := e.repo.LinkProductRecipe(ctx, p.Product.ID, recipe.ID); err != nil {
			return failed(entry, fmt.Errorf("recipe %d created but linking product failed: %w", recipe.ID, err))
		}

	case models.ValidationStatusNoTemplate:
		match, err := FindMatch(p.Product.Name, templates, threshold)
		if err != nil {
			return failed(entry, err)
		}
		entry.TemplateId = utils.NewInt(match.Template.ID)
		entry.RecipeId = utils.NewInt(p.Recipe.ID)
		if err := e.repo.UpdateRecipeTemplate(ctx, p.Recipe.ID, match.Template.ID); err != nil {
			return failed(entry, fmt.Errorf("update recipe template: %w", err))
		}

	case models.ValidationStatusInactiveTemplate:
		entry.RecipeId = utils.NewInt(p.Recipe.ID)
		match, err := e.activeReplacement(p, templates, threshold)
		if err != nil {
			entry.Outcome = models.RepairOutcomeUnresolved
			entry.Error = fmt.Sprintf("%v: %v", models.ErrRepairUnresolved, err)
			return entry
		}
		entry.TemplateId = utils.NewInt(match.Template.ID)
		if err := e.repo.UpdateRecipeTemplate(ctx, p.Recipe.ID, match.Template.ID); err != nil {
			return failed(entry, fmt.Errorf("update recipe template: %w", err))
		}
	}

	entry.Outcome = models.RepairOutcomeSuccess
	return entry
}

// activeReplacement matches the retired template's name first, then the product name.
func (e *Engine) activeReplacement(p *models.ProductWithLinks, templates []models.RecipeTemplate, threshold float64) (*Match, error) {
	var firstErr error
	for _, name := range []string{p.Template.Name, p.Product.Name} {
		match, err := FindMatch(name, templates, threshold)
		if err == nil && match.Template.ID != p.Template.ID {
			return match, nil
		}
		if firstErr == nil && err != nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = errors.New("no active replacement template")
	}
	return nil, firstErr
}

func failed(entry models.RepairLogEntry, err error) models.RepairLogEntry {
	entry.Outcome = models.RepairOutcomeFailed
	entry.Error = err.Error()
	return entry
}

func (e *Engine) storeFailure(storeId int, action string, err error) models.RepairLogEntry {
	return models.RepairLogEntry{
		StoreId: storeId,
		Action:  action,
		Outcome: models.RepairOutcomeFailed,
		Error:   err.Error(),
		At:      e.now(),
	}
}

func (e *Engine) logEntry(entry models.RepairLogEntry) {
	repairsTotal.WithLabelValues(string(entry.IssueType), string(entry.Outcome)).Inc()
	fields := logrus.Fields{
		"field":     "AutoRepair",
		"storeId":   entry.StoreId,
		"productId": entry.ProductId,
		"issue":     entry.IssueType,
		"action":    entry.Action,
		"outcome":   entry.Outcome,
	}
	if entry.TemplateId != nil {
		fields["templateId"] = *entry.TemplateId
	}
	if entry.Outcome == models.RepairOutcomeSuccess {
		e.logger.WithFields(fields).Info("product repaired")
		return
	}
	e.logger.WithFields(fields).Warn(entry.Error)
}

func (e *Engine) finish(ctx context.Context, summary models.RepairSummary) models.RepairSummary {
	summary.FinishedAt = e.now()
	if summary.Attempted == 0 {
		return summary
	}
	if e.recorder != nil {
		if err := e.recorder.RecordRepairs(ctx, summary); err != nil {
			config.LogError(e.logger, "repair", "finish", "record repairs", summary.StoreId, err)
		}
	}
	if summary.Successful > 0 && e.onRepaired != nil {
		e.onRepaired(ctx, summary.StoreId)
	}
	e.logger.WithFields(logrus.Fields{
		"field":      "AutoRepair",
		"storeId":    summary.StoreId,
		"attempted":  summary.Attempted,
		"successful": summary.Successful,
		"failed":     summary.Failed,
		"unresolved": len(summary.Unresolved),
	}).Info("repair pass finished")
	return summary
}
