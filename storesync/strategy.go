package storesync

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mmdatafocus/recipe_integrity/models"
)

// runLoadBalanced syncs stores in batches of at most BatchConcurrency. Stores in a
// batch run concurrently and the next batch starts only when the whole batch is done.
func (o *Orchestrator) runLoadBalanced(ctx context.Context, run *models.CrossStoreSync, cluster models.StoreCluster, storeIds []int) {
	width := o.runtime.BatchConcurrency()
	for start := 0; start < len(storeIds); start += width {
		end := min(start+width, len(storeIds))
		var g errgroup.Group
		g.SetLimit(width)
		for _, storeId := range storeIds[start:end] {
			storeId := storeId
			g.Go(func() error {
				o.setResult(run, o.syncStore(ctx, cluster, storeId, false, nil))
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (o *Orchestrator) runSequential(ctx context.Context, run *models.CrossStoreSync, cluster models.StoreCluster, storeIds []int, healthBefore map[int]int, repairFirst bool) {
	for _, storeId := range storeIds {
		var before *int
		if pct, ok := healthBefore[storeId]; ok {
			before = &pct
		}
		o.setResult(run, o.syncStore(ctx, cluster, storeId, repairFirst, before))
	}
}

func (o *Orchestrator) storeHealth(ctx context.Context, storeIds []int) map[int]int {
	out := make(map[int]int, len(storeIds))
	for _, id := range storeIds {
		out[id] = o.health.StoreHealth(ctx, id).HealthPct
	}
	return out
}

// runPriorityFirst syncs sequentially, healthiest store first.
func (o *Orchestrator) runPriorityFirst(ctx context.Context, run *models.CrossStoreSync, cluster models.StoreCluster) {
	pct := o.storeHealth(ctx, cluster.StoreIds)
	ordered := append([]int(nil), cluster.StoreIds...)
	sort.SliceStable(ordered, func(i, j int) bool { return pct[ordered[i]] > pct[ordered[j]] })
	o.runSequential(ctx, run, cluster, ordered, pct, false)
}

// runHealthBased load-balances the stores at or above the cluster threshold, then
// walks the ones below it one at a time, repairing each before it is synced.
func (o *Orchestrator) runHealthBased(ctx context.Context, run *models.CrossStoreSync, cluster models.StoreCluster) {
	pct := o.storeHealth(ctx, cluster.StoreIds)
	var healthy, unhealthy []int
	for _, id := range cluster.StoreIds {
		if pct[id] >= cluster.HealthThreshold {
			healthy = append(healthy, id)
		} else {
			unhealthy = append(unhealthy, id)
		}
	}
	o.runLoadBalanced(ctx, run, cluster, healthy)
	o.runSequential(ctx, run, cluster, unhealthy, pct, true)

	o.mu.Lock()
	for id, p := range pct {
		if r, ok := run.PerStoreResults[id]; ok && r.HealthBefore == nil {
			v := p
			r.HealthBefore = &v
		}
	}
	o.mu.Unlock()
}

// syncStore validates the active products of one store and repairs the broken ones
// when the cluster allows it. A failure or panic marks only this store as failed.
func (o *Orchestrator) syncStore(ctx context.Context, cluster models.StoreCluster, storeId int, repairFirst bool, healthBefore *int) (res *models.StoreSyncResult) {
	ctx, span := tracer.Start(ctx, "storesync.store", trace.WithAttributes(attribute.Int("store.id", storeId)))

	res = &models.StoreSyncResult{
		StoreId:       storeId,
		StartedAt:     o.now(),
		Errors:        []string{},
		RepairActions: []models.RepairLogEntry{},
		HealthBefore:  healthBefore,
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("field", "StoreSync").Errorf("panic syncing store %d: %v\n%s", storeId, r, debug.Stack())
			res.Success = false
			res.Errors = append(res.Errors, fmt.Sprintf("panic: %v", r))
		}
		res.FinishedAt = o.now()
		span.SetAttributes(attribute.Bool("store.success", res.Success))
		span.End()
	}()

	if repairFirst {
		if !o.repair(ctx, res) {
			return res
		}
	}

	results, err := o.validator.ValidateStore(ctx, storeId, true)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	res.ItemsProcessed = len(results)

	if !repairFirst && cluster.AutoRepairEnabled && hasRepairable(results) {
		if !o.repair(ctx, res) {
			return res
		}
	}
	if len(res.RepairActions) > 0 && o.health != nil {
		o.health.Invalidate(ctx, storeId)
	}
	res.Success = true
	return res
}

// repair reports false when the store could not be repaired at all (lock or load
// failure). Individual product failures are kept as errors on a successful store.
func (o *Orchestrator) repair(ctx context.Context, res *models.StoreSyncResult) bool {
	if o.repairer == nil {
		return true
	}
	summary := o.repairer.RepairStore(ctx, res.StoreId)
	res.RepairActions = append(res.RepairActions, summary.Log...)
	ok := true
	for _, e := range summary.Log {
		if e.Outcome != models.RepairOutcomeFailed {
			continue
		}
		res.Errors = append(res.Errors, e.Error)
		if e.ProductId == 0 {
			ok = false
		}
	}
	return ok
}

func hasRepairable(results []models.ValidationResult) bool {
	for _, r := range results {
		if !r.CanDeduct && r.Status != models.ValidationStatusInactive {
			return true
		}
	}
	return false
}
