package datastore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

// GormRepository is the relational implementation (MySQL in production, SQLite in tests).
type GormRepository struct {
	db        *gorm.DB
	publisher Publisher
	logger    *logrus.Logger
}

func NewGormRepository(db *gorm.DB, publisher Publisher, logger *logrus.Logger) *GormRepository {
	if logger == nil {
		logger = config.NopLogger()
	}
	return &GormRepository{db: db, publisher: publisher, logger: logger}
}

func (r *GormRepository) DB() *gorm.DB { return r.db }

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return models.NewDataAccessError(op, err)
}

func (r *GormRepository) GetProduct(ctx context.Context, id int) (*models.ProductWithLinks, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, translate("GetProduct", err)
	}
	linked, err := r.attachLinks(ctx, []models.Product{product})
	if err != nil {
		return nil, err
	}
	return linked[0], nil
}

func (r *GormRepository) GetProducts(ctx context.Context, ids []int) (map[int]*models.ProductWithLinks, error) {
	ids = uniqueIds(ids)
	out := make(map[int]*models.ProductWithLinks, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var products []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, translate("GetProducts", err)
	}
	linked, err := r.attachLinks(ctx, products)
	if err != nil {
		return nil, err
	}
	for _, p := range linked {
		out[p.Product.ID] = p
	}
	return out, nil
}

func (r *GormRepository) GetProductsByStore(ctx context.Context, storeId int, activeOnly bool) ([]*models.ProductWithLinks, error) {
	dbCtx := r.db.WithContext(ctx).Where("store_id = ?", storeId)
	if activeOnly {
		dbCtx = dbCtx.Where("is_active = ?", true)
	}
	var products []models.Product
	if err := dbCtx.Order("id").Find(&products).Error; err != nil {
		return nil, translate("GetProductsByStore", err)
	}
	return r.attachLinks(ctx, products)
}

// attachLinks joins recipes and templates in two extra queries, whatever the product count.
func (r *GormRepository) attachLinks(ctx context.Context, products []models.Product) ([]*models.ProductWithLinks, error) {
	out := make([]*models.ProductWithLinks, 0, len(products))
	if len(products) == 0 {
		return out, nil
	}

	var productIds, recipeIds []int
	for _, p := range products {
		productIds = append(productIds, p.ID)
		if p.RecipeId != nil {
			recipeIds = append(recipeIds, *p.RecipeId)
		}
	}

	var recipes []models.Recipe
	query := r.db.WithContext(ctx).Where("product_id IN ?", productIds)
	if len(recipeIds) > 0 {
		query = query.Or("id IN ?", recipeIds)
	}
	if err := query.Order("id").Find(&recipes).Error; err != nil {
		return nil, translate("GetRecipes", err)
	}

	var templateIds []int
	for _, rc := range recipes {
		if rc.TemplateId != nil {
			templateIds = append(templateIds, *rc.TemplateId)
		}
	}
	var templates []models.RecipeTemplate
	if len(templateIds) > 0 {
		if err := r.db.WithContext(ctx).Where("id IN ?", uniqueIds(templateIds)).Find(&templates).Error; err != nil {
			return nil, translate("GetTemplates", err)
		}
	}

	return joinLinks(products, recipes, templates), nil
}

// joinLinks resolves each product's recipe: the one it references, or else the
// newest recipe created for it.
func joinLinks(products []models.Product, recipes []models.Recipe, templates []models.RecipeTemplate) []*models.ProductWithLinks {
	recipeById := make(map[int]*models.Recipe, len(recipes))
	recipeByProduct := make(map[int]*models.Recipe, len(recipes))
	for i := range recipes {
		rc := &recipes[i]
		recipeById[rc.ID] = rc
		if prev, ok := recipeByProduct[rc.ProductId]; !ok || rc.ID > prev.ID {
			recipeByProduct[rc.ProductId] = rc
		}
	}
	templateById := make(map[int]*models.RecipeTemplate, len(templates))
	for i := range templates {
		templateById[templates[i].ID] = &templates[i]
	}

	out := make([]*models.ProductWithLinks, 0, len(products))
	for _, p := range products {
		linked := &models.ProductWithLinks{Product: p}
		if p.RecipeId != nil {
			linked.Recipe = cloneRecipe(recipeById[*p.RecipeId])
		} else {
			linked.Recipe = cloneRecipe(recipeByProduct[p.ID])
		}
		if linked.Recipe != nil && linked.Recipe.TemplateId != nil {
			linked.Template = cloneTemplate(templateById[*linked.Recipe.TemplateId])
		}
		out = append(out, linked)
	}
	return out
}

func cloneRecipe(r *models.Recipe) *models.Recipe {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func cloneTemplate(t *models.RecipeTemplate) *models.RecipeTemplate {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (r *GormRepository) GetProductIdsByRecipe(ctx context.Context, recipeId int) ([]int, error) {
	var ids []int
	err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("recipe_id = ?", recipeId).
		Or("id IN (?)", r.db.Model(&models.Recipe{}).Select("product_id").Where("id = ?", recipeId)).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, translate("GetProductIdsByRecipe", err)
	}
	sort.Ints(ids)
	return uniqueIds(ids), nil
}

func (r *GormRepository) GetProductIdsByTemplate(ctx context.Context, templateId int) ([]int, error) {
	recipeIds := r.db.Model(&models.Recipe{}).Select("id").Where("template_id = ?", templateId)
	recipeProducts := r.db.Model(&models.Recipe{}).Select("product_id").Where("template_id = ?", templateId)

	var ids []int
	err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("recipe_id IN (?)", recipeIds).
		Or("id IN (?)", recipeProducts).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, translate("GetProductIdsByTemplate", err)
	}
	sort.Ints(ids)
	return uniqueIds(ids), nil
}

func (r *GormRepository) GetActiveTemplates(ctx context.Context) ([]models.RecipeTemplate, error) {
	var templates []models.RecipeTemplate
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&templates).Error; err != nil {
		return nil, translate("GetActiveTemplates", err)
	}
	return templates, nil
}

func (r *GormRepository) FindTemplateByName(ctx context.Context, name string) (*models.RecipeTemplate, error) {
	var template models.RecipeTemplate
	err := r.db.WithContext(ctx).
		Where("LOWER(name) = ? AND is_active = ?", strings.ToLower(strings.TrimSpace(name)), true).
		Order("id").
		First(&template).Error
	if err != nil {
		return nil, translate("FindTemplateByName", err)
	}
	return &template, nil
}

func (r *GormRepository) CreateRecipe(ctx context.Context, productId, storeId, templateId int, name string) (*models.Recipe, error) {
	recipe := models.Recipe{
		ProductId:  productId,
		StoreId:    storeId,
		TemplateId: utils.NewInt(templateId),
		Name:       name,
	}
	if err := r.db.WithContext(ctx).Create(&recipe).Error; err != nil {
		return nil, translate("CreateRecipe", err)
	}
	return &recipe, nil
}

func (r *GormRepository) UpdateRecipeTemplate(ctx context.Context, recipeId, templateId int) error {
	res := r.db.WithContext(ctx).Model(&models.Recipe{}).Where("id = ?", recipeId).Update("template_id", templateId)
	if res.Error != nil {
		return translate("UpdateRecipeTemplate", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *GormRepository) LinkProductRecipe(ctx context.Context, productId, recipeId int) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", productId).Update("recipe_id", recipeId)
	if res.Error != nil {
		return translate("LinkProductRecipe", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *GormRepository) GetStore(ctx context.Context, id int) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).First(&store, id).Error; err != nil {
		return nil, translate("GetStore", err)
	}
	return &store, nil
}

func (r *GormRepository) GetActiveStores(ctx context.Context) ([]models.Store, error) {
	var stores []models.Store
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&stores).Error; err != nil {
		return nil, translate("GetActiveStores", err)
	}
	return stores, nil
}

func (r *GormRepository) UpsertStore(ctx context.Context, input models.Store) (*models.Store, error) {
	if input.IsActive == nil {
		input.IsActive = utils.NewTrue()
	}
	var before *models.Store
	if input.ID > 0 {
		var existing models.Store
		err := r.db.WithContext(ctx).First(&existing, input.ID).Error
		if err == nil {
			before = &existing
			input.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, translate("UpsertStore", err)
		}
	}
	if err := r.db.WithContext(ctx).Save(&input).Error; err != nil {
		return nil, translate("UpsertStore", err)
	}
	r.emit(ctx, models.TableStores, before, &input)
	return &input, nil
}

func (r *GormRepository) UpsertProduct(ctx context.Context, input models.NewProduct) (*models.Product, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	product := models.Product{
		ID:       input.ID,
		StoreId:  input.StoreId,
		Name:     input.Name,
		Sku:      input.Sku,
		IsActive: input.IsActive,
		RecipeId: input.RecipeId,
	}
	if product.IsActive == nil {
		product.IsActive = utils.NewTrue()
	}

	var before *models.Product
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.ID > 0 {
			var existing models.Product
			err := tx.First(&existing, input.ID).Error
			if err == nil {
				before = &existing
				product.CreatedAt = existing.CreatedAt
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		return tx.Save(&product).Error
	})
	if err != nil {
		return nil, translate("UpsertProduct", err)
	}
	r.emit(ctx, models.TableProducts, before, &product)
	return &product, nil
}

func (r *GormRepository) UpsertRecipe(ctx context.Context, input models.NewRecipe) (*models.Recipe, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	recipe := models.Recipe{
		ID:         input.ID,
		ProductId:  input.ProductId,
		StoreId:    input.StoreId,
		TemplateId: input.TemplateId,
		Name:       input.Name,
	}

	var before *models.Recipe
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.ID > 0 {
			var existing models.Recipe
			err := tx.First(&existing, input.ID).Error
			if err == nil {
				before = &existing
				recipe.CreatedAt = existing.CreatedAt
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		return tx.Save(&recipe).Error
	})
	if err != nil {
		return nil, translate("UpsertRecipe", err)
	}
	r.emit(ctx, models.TableRecipes, before, &recipe)
	return &recipe, nil
}

func (r *GormRepository) UpsertTemplate(ctx context.Context, input models.NewRecipeTemplate) (*models.RecipeTemplate, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	template := models.RecipeTemplate{
		ID:       input.ID,
		Name:     input.Name,
		IsActive: input.IsActive,
	}
	if template.IsActive == nil {
		template.IsActive = utils.NewTrue()
	}

	var before *models.RecipeTemplate
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.ID > 0 {
			var existing models.RecipeTemplate
			err := tx.First(&existing, input.ID).Error
			if err == nil {
				before = &existing
				template.CreatedAt = existing.CreatedAt
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		return tx.Save(&template).Error
	})
	if err != nil {
		return nil, translate("UpsertTemplate", err)
	}
	r.emit(ctx, models.TableRecipeTemplates, before, &template)
	return &template, nil
}

// emit publishes after the write committed. A publish failure is logged, not returned:
// the row is already the source of truth.
func (r *GormRepository) emit(ctx context.Context, table string, before, after any) {
	op := models.ChangeOpInsert
	if !isNilPointer(before) {
		op = models.ChangeOpUpdate
	} else {
		before = nil
	}
	if err := publish(ctx, r.publisher, table, op, before, after); err != nil {
		config.LogError(r.logger, "datastore", "emit", table, op, err)
	}
}
