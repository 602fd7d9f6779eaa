package main

import (
	"context"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"github.com/pagecraft/sitegov_backend/workflow"
	"github.com/sirupsen/logrus"
)

func ensureBusinessContext(ctx context.Context, businessId string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if businessId == "" {
		return ctx
	}
	if _, ok := utils.GetBusinessIdFromContext(ctx); !ok {
		ctx = context.WithValue(ctx, utils.ContextKeyBusinessId, businessId)
	}
	return ctx
}

// revertGenerationOnDead moves a generation job whose message can never be
// processed into failed, so the page does not sit in limbo forever.
func revertGenerationOnDead(ctx context.Context, logger *logrus.Logger, msg config.PubSubMessage) {
	if msg.ReferenceType != string(models.GovernanceReferenceTypeGeneration) {
		return
	}
	if msg.ReferenceId <= 0 {
		return
	}

	ctx = ensureBusinessContext(ctx, msg.BusinessId)

	rec := models.PubSubMessageRecord{
		ID:            msg.ID,
		BusinessId:    msg.BusinessId,
		ReferenceId:   msg.ReferenceId,
		ReferenceType: models.GovernanceReferenceType(msg.ReferenceType),
	}
	if err := workflow.RevertDeadGenerationMessage(ctx, config.GetDB(), rec); err != nil {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":          "OutboxDeadRevert",
				"business_id":    msg.BusinessId,
				"reference_type": msg.ReferenceType,
				"reference_id":   msg.ReferenceId,
			}).Warn("failed to revert generation job after DEAD processing: " + err.Error())
		}
		return
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":          "OutboxDeadRevert",
			"business_id":    msg.BusinessId,
			"reference_type": msg.ReferenceType,
			"reference_id":   msg.ReferenceId,
		}).Info("reverted generation job to failed after DEAD processing")
	}
}
