package datastore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

// HookFunc runs before every MemoryRepository call. op is the method name and arg its
// leading id argument (0 when there is none). A non-nil error fails the call.
type HookFunc func(op string, arg int) error

// MemoryRepository keeps everything in process memory. It backs the memory driver and tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	stores    map[int]models.Store
	products  map[int]models.Product
	recipes   map[int]models.Recipe
	templates map[int]models.RecipeTemplate
	nextId    map[string]int
	calls     map[string]int

	publisher Publisher
	hook      HookFunc
}

func NewMemoryRepository(publisher Publisher) *MemoryRepository {
	return &MemoryRepository{
		stores:    make(map[int]models.Store),
		products:  make(map[int]models.Product),
		recipes:   make(map[int]models.Recipe),
		templates: make(map[int]models.RecipeTemplate),
		nextId:    make(map[string]int),
		calls:     make(map[string]int),
		publisher: publisher,
	}
}

func (r *MemoryRepository) SetHook(hook HookFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

// Calls reports how many times op was invoked.
func (r *MemoryRepository) Calls(op string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[op]
}

func (r *MemoryRepository) enter(op string, arg int) error {
	r.mu.Lock()
	r.calls[op]++
	hook := r.hook
	r.mu.Unlock()
	if hook == nil {
		return nil
	}
	if err := hook(op, arg); err != nil {
		return models.NewDataAccessError(op, err)
	}
	return nil
}

func (r *MemoryRepository) allocate(table string, requested int) int {
	if requested > 0 {
		if requested > r.nextId[table] {
			r.nextId[table] = requested
		}
		return requested
	}
	r.nextId[table]++
	return r.nextId[table]
}

func (r *MemoryRepository) GetProduct(ctx context.Context, id int) (*models.ProductWithLinks, error) {
	if err := r.enter("GetProduct", id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.link(p), nil
}

func (r *MemoryRepository) GetProducts(ctx context.Context, ids []int) (map[int]*models.ProductWithLinks, error) {
	if err := r.enter("GetProducts", len(ids)); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]*models.ProductWithLinks, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out[id] = r.link(p)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetProductsByStore(ctx context.Context, storeId int, activeOnly bool) ([]*models.ProductWithLinks, error) {
	if err := r.enter("GetProductsByStore", storeId); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.ProductWithLinks
	for _, p := range r.products {
		if p.StoreId != storeId {
			continue
		}
		if activeOnly && !p.Active() {
			continue
		}
		out = append(out, r.link(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product.ID < out[j].Product.ID })
	return out, nil
}

// link must be called with r.mu held.
func (r *MemoryRepository) link(p models.Product) *models.ProductWithLinks {
	var recipes []models.Recipe
	if p.RecipeId != nil {
		if rc, ok := r.recipes[*p.RecipeId]; ok {
			recipes = append(recipes, rc)
		}
	} else {
		for _, rc := range r.recipes {
			if rc.ProductId == p.ID {
				recipes = append(recipes, rc)
			}
		}
	}
	var templates []models.RecipeTemplate
	for _, rc := range recipes {
		if rc.TemplateId != nil {
			if t, ok := r.templates[*rc.TemplateId]; ok {
				templates = append(templates, t)
			}
		}
	}
	return joinLinks([]models.Product{p}, recipes, templates)[0]
}

func (r *MemoryRepository) GetProductIdsByRecipe(ctx context.Context, recipeId int) ([]int, error) {
	if err := r.enter("GetProductIdsByRecipe", recipeId); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []int
	if rc, ok := r.recipes[recipeId]; ok {
		if _, exists := r.products[rc.ProductId]; exists {
			ids = append(ids, rc.ProductId)
		}
	}
	for _, p := range r.products {
		if p.RecipeId != nil && *p.RecipeId == recipeId {
			ids = append(ids, p.ID)
		}
	}
	sort.Ints(ids)
	return uniqueIds(ids), nil
}

func (r *MemoryRepository) GetProductIdsByTemplate(ctx context.Context, templateId int) ([]int, error) {
	if err := r.enter("GetProductIdsByTemplate", templateId); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	recipeIds := make(map[int]struct{})
	var ids []int
	for _, rc := range r.recipes {
		if rc.TemplateId != nil && *rc.TemplateId == templateId {
			recipeIds[rc.ID] = struct{}{}
			if _, exists := r.products[rc.ProductId]; exists {
				ids = append(ids, rc.ProductId)
			}
		}
	}
	for _, p := range r.products {
		if p.RecipeId == nil {
			continue
		}
		if _, ok := recipeIds[*p.RecipeId]; ok {
			ids = append(ids, p.ID)
		}
	}
	sort.Ints(ids)
	return uniqueIds(ids), nil
}

func (r *MemoryRepository) GetActiveTemplates(ctx context.Context) ([]models.RecipeTemplate, error) {
	if err := r.enter("GetActiveTemplates", 0); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.RecipeTemplate
	for _, t := range r.templates {
		if t.Active() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) FindTemplateByName(ctx context.Context, name string) (*models.RecipeTemplate, error) {
	if err := r.enter("FindTemplateByName", 0); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := strings.ToLower(strings.TrimSpace(name))
	var found *models.RecipeTemplate
	for _, t := range r.templates {
		if !t.Active() || strings.ToLower(t.Name) != want {
			continue
		}
		if found == nil || t.ID < found.ID {
			c := t
			found = &c
		}
	}
	if found == nil {
		return nil, models.ErrNotFound
	}
	return found, nil
}

func (r *MemoryRepository) CreateRecipe(ctx context.Context, productId, storeId, templateId int, name string) (*models.Recipe, error) {
	if err := r.enter("CreateRecipe", productId); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	rc := models.Recipe{
		ID:         r.allocate(models.TableRecipes, 0),
		ProductId:  productId,
		StoreId:    storeId,
		TemplateId: utils.NewInt(templateId),
		Name:       name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.recipes[rc.ID] = rc
	return &rc, nil
}

func (r *MemoryRepository) UpdateRecipeTemplate(ctx context.Context, recipeId, templateId int) error {
	if err := r.enter("UpdateRecipeTemplate", recipeId); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.recipes[recipeId]
	if !ok {
		return models.ErrNotFound
	}
	rc.TemplateId = utils.NewInt(templateId)
	rc.UpdatedAt = time.Now().UTC()
	r.recipes[recipeId] = rc
	return nil
}

func (r *MemoryRepository) LinkProductRecipe(ctx context.Context, productId, recipeId int) error {
	if err := r.enter("LinkProductRecipe", productId); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productId]
	if !ok {
		return models.ErrNotFound
	}
	p.RecipeId = utils.NewInt(recipeId)
	p.UpdatedAt = time.Now().UTC()
	r.products[productId] = p
	return nil
}

func (r *MemoryRepository) GetStore(ctx context.Context, id int) (*models.Store, error) {
	if err := r.enter("GetStore", id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) GetActiveStores(ctx context.Context) ([]models.Store, error) {
	if err := r.enter("GetActiveStores", 0); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Store
	for _, s := range r.stores {
		if s.Active() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) UpsertStore(ctx context.Context, input models.Store) (*models.Store, error) {
	if err := r.enter("UpsertStore", input.ID); err != nil {
		return nil, err
	}
	if input.IsActive == nil {
		input.IsActive = utils.NewTrue()
	}
	r.mu.Lock()
	input.ID = r.allocate(models.TableStores, input.ID)
	before, existed := r.stores[input.ID]
	now := time.Now().UTC()
	input.UpdatedAt = now
	if existed {
		input.CreatedAt = before.CreatedAt
	} else {
		input.CreatedAt = now
	}
	r.stores[input.ID] = input
	r.mu.Unlock()

	r.emit(ctx, models.TableStores, existed, before, input)
	return &input, nil
}

func (r *MemoryRepository) UpsertProduct(ctx context.Context, input models.NewProduct) (*models.Product, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := r.enter("UpsertProduct", input.ID); err != nil {
		return nil, err
	}
	p := models.Product{
		StoreId:  input.StoreId,
		Name:     input.Name,
		Sku:      input.Sku,
		IsActive: input.IsActive,
		RecipeId: input.RecipeId,
	}
	if p.IsActive == nil {
		p.IsActive = utils.NewTrue()
	}
	r.mu.Lock()
	p.ID = r.allocate(models.TableProducts, input.ID)
	before, existed := r.products[p.ID]
	now := time.Now().UTC()
	p.UpdatedAt = now
	if existed {
		p.CreatedAt = before.CreatedAt
	} else {
		p.CreatedAt = now
	}
	r.products[p.ID] = p
	r.mu.Unlock()

	r.emit(ctx, models.TableProducts, existed, before, p)
	return &p, nil
}

func (r *MemoryRepository) UpsertRecipe(ctx context.Context, input models.NewRecipe) (*models.Recipe, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := r.enter("UpsertRecipe", input.ID); err != nil {
		return nil, err
	}
	rc := models.Recipe{
		ProductId:  input.ProductId,
		StoreId:    input.StoreId,
		TemplateId: input.TemplateId,
		Name:       input.Name,
	}
	r.mu.Lock()
	rc.ID = r.allocate(models.TableRecipes, input.ID)
	before, existed := r.recipes[rc.ID]
	now := time.Now().UTC()
	rc.UpdatedAt = now
	if existed {
		rc.CreatedAt = before.CreatedAt
	} else {
		rc.CreatedAt = now
	}
	r.recipes[rc.ID] = rc
	r.mu.Unlock()

	r.emit(ctx, models.TableRecipes, existed, before, rc)
	return &rc, nil
}

func (r *MemoryRepository) UpsertTemplate(ctx context.Context, input models.NewRecipeTemplate) (*models.RecipeTemplate, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := r.enter("UpsertTemplate", input.ID); err != nil {
		return nil, err
	}
	t := models.RecipeTemplate{
		Name:     input.Name,
		IsActive: input.IsActive,
	}
	if t.IsActive == nil {
		t.IsActive = utils.NewTrue()
	}
	r.mu.Lock()
	t.ID = r.allocate(models.TableRecipeTemplates, input.ID)
	before, existed := r.templates[t.ID]
	now := time.Now().UTC()
	t.UpdatedAt = now
	if existed {
		t.CreatedAt = before.CreatedAt
	} else {
		t.CreatedAt = now
	}
	r.templates[t.ID] = t
	r.mu.Unlock()

	r.emit(ctx, models.TableRecipeTemplates, existed, before, t)
	return &t, nil
}

func (r *MemoryRepository) emit(ctx context.Context, table string, existed bool, before, after any) {
	if existed {
		_ = publish(ctx, r.publisher, table, models.ChangeOpUpdate, before, after)
		return
	}
	_ = publish(ctx, r.publisher, table, models.ChangeOpInsert, nil, after)
}
