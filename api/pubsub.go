package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

// PubSubPush feeds pushed change events to the revalidation queue. It always
// answers 204 so Pub/Sub never redelivers a message that cannot be processed.
func (h *Handler) PubSubPush() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.svc.Settings.PubSub.PushEndpoint {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope datastore.PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(h.svc.Logger, "api", "PubSubPush", "decode envelope", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		change, err := datastore.DecodeChangeEvent(envelope.Message.Data)
		if err != nil {
			config.LogError(h.svc.Logger, "api", "PubSubPush", "decode change event", envelope.Message.ID, err)
			c.Status(http.StatusNoContent)
			return
		}

		ctx := utils.SetTriggerInContext(c.Request.Context(), utils.TriggerQueue)
		if err := h.svc.Queue.HandleChange(ctx, change); err != nil {
			config.LogError(h.svc.Logger, "api", "PubSubPush", "handle change", change.Table, err)
		} else {
			h.svc.Logger.WithFields(logrus.Fields{
				"field":     "PubSubPush",
				"messageId": envelope.Message.ID,
				"table":     change.Table,
				"op":        change.Op,
			}).Debug("change event queued")
		}
		c.Status(http.StatusNoContent)
	}
}
