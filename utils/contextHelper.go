package utils

import (
	"context"

	"github.com/mmdatafocus/recipe_integrity/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyTrigger       = appctx.ContextKeyTrigger
)

const (
	TriggerApi       = "api"
	TriggerScheduler = "scheduler"
	TriggerQueue     = "queue"
	TriggerCli       = "cli"
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// GetTriggerFromContext defaults to "api" when nothing was recorded.
func GetTriggerFromContext(ctx context.Context) string {
	if v, ok := appctx.GetString(ctx, ContextKeyTrigger); ok && v != "" {
		return v
	}
	return TriggerApi
}

func SetTriggerInContext(ctx context.Context, trigger string) context.Context {
	return appctx.Set(ctx, ContextKeyTrigger, trigger)
}
