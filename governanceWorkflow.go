package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"github.com/pagecraft/sitegov_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	businessMutexMap = make(map[string]*sync.Mutex)
	globalMutex      = &sync.Mutex{}
)

func RunGovernanceWorkflow() error {
	logger := config.GetLogger()
	ctx := context.Background()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, os.Getenv("PUBSUB_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("PUBSUB_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	// Specify the number of concurrent processes
	sub.ReceiveSettings.MaxOutstandingMessages = config.GenerationConcurrency()

	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := config.PubSubMessage{}
		err := json.Unmarshal(msg.Data, &m)
		if err != nil {
			config.LogError(logger, "governanceWorkflow.go", "RunGovernanceWorkflow", "Unmarshaling pubsub message", msg.Data, err)
			return
		}

		// Get or create the mutex for the current BusinessId
		globalMutex.Lock()
		mutex, exists := businessMutexMap[m.BusinessId]
		if !exists {
			mutex = &sync.Mutex{}
			businessMutexMap[m.BusinessId] = mutex
		}
		globalMutex.Unlock()

		mutex.Lock()
		defer mutex.Unlock()

		ctx = context.WithValue(ctx, utils.ContextKeyBusinessId, m.BusinessId)
		ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
		ctx = context.WithValue(ctx, utils.ContextKeyUserName, "System")
		if err := ProcessMessage(ctx, logger, m); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "GovernanceWorkflow",
				"business_id":    m.BusinessId,
				"reference_type": m.ReferenceType,
				"reference_id":   m.ReferenceId,
				"message_id":     msg.ID,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		err := sub.Receive(ctx, callback)
		if err != nil {
			config.LogError(logger, "governanceWorkflow.go", "RunGovernanceWorkflow", "Failed to receive messages", nil, err)
		}
	}()

	return nil
}

// ProcessMessage runs one governance message in a single transaction under
// the per-business advisory lock, with DB-backed idempotency.
func ProcessMessage(ctx context.Context, logger *logrus.Logger, m config.PubSubMessage) error {
	markOutboxProcessing(ctx, m.ID)

	db := config.GetDB()
	err := db.Transaction(func(tx *gorm.DB) error {
		// Enforce strict per-business ordering across instances.
		if err := workflow.AcquireBusinessGovernanceLock(tx.WithContext(ctx), m.BusinessId); err != nil {
			return err
		}
		defer workflow.ReleaseBusinessGovernanceLock(tx.WithContext(ctx), m.BusinessId)

		// Worker-side gate: a page that was blocked or decommissioned after
		// the message was queued must not be mutated by it.
		if err := workflow.EnforceGovernanceGate(ctx, m); err != nil {
			now := time.Now().UTC()
			gateMsg := err.Error()
			_ = tx.WithContext(ctx).Model(&models.PubSubMessageRecord{}).
				Where("id = ?", m.ID).
				Updates(map[string]interface{}{
					"is_processed":       true,
					"processing_status":  models.OutboxProcessStatusDead,
					"last_process_error": &gateMsg,
					"processed_at":       &now,
				}).Error

			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":          "GovernanceGate",
					"business_id":    m.BusinessId,
					"reference_type": m.ReferenceType,
					"reference_id":   m.ReferenceId,
					"message_id":     m.ID,
				}).Warn("governance gate blocked message: " + err.Error())
			}
			// Ack/drop permanently (do not retry); message would otherwise loop forever.
			return nil
		}

		handlerName := m.ReferenceType
		messageId := strconv.Itoa(m.ID)

		skip, err := workflow.BeginIdempotency(tx.WithContext(ctx), m.BusinessId, handlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		if err := ProcessWorkflow(tx.WithContext(ctx), logger, m); err != nil {
			_ = workflow.MarkIdempotencyFailed(tx.WithContext(ctx), m.BusinessId, handlerName, messageId, err)
			return err
		}
		if err := workflow.MarkIdempotencySucceeded(tx.WithContext(ctx), m.BusinessId, handlerName, messageId); err != nil {
			return err
		}

		now := time.Now().UTC()
		return tx.WithContext(ctx).Model(&models.PubSubMessageRecord{}).
			Where("id = ?", m.ID).
			Updates(map[string]interface{}{
				"is_processed": true,
				"processed_at": &now,
			}).Error
	})
	if err != nil {
		if dead := markOutboxProcessFailure(ctx, logger, m, err); dead {
			revertGenerationOnDead(ctx, logger, m)
		}
		return err
	}

	markOutboxProcessSuccess(ctx, logger, m)
	return nil
}

func ProcessWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {
	switch models.GovernanceReferenceType(msg.ReferenceType) {
	case models.GovernanceReferenceTypeGeneration:
		return workflow.ProcessGenerationWorkflow(tx, logger, msg)
	case models.GovernanceReferenceTypePage:
		return workflow.ProcessPageSyncWorkflow(tx, logger, msg)
	case models.GovernanceReferenceTypeDecommission:
		return workflow.ProcessDecommissionWorkflow(tx, logger, msg)
	case models.GovernanceReferenceTypeDecaySweep:
		return workflow.ProcessDecaySweepWorkflow(tx, logger, msg)
	}
	return nil
}
