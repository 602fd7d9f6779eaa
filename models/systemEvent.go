package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SystemEvent is the append-only audit record. Rows are never updated or
// deleted; payload_hash lets auditors detect after-the-fact tampering.
type SystemEvent struct {
	ID            int            `gorm:"primary_key" json:"id"`
	BusinessId    string         `gorm:"size:64;index;not null" json:"business_id"`
	EventType     string         `gorm:"size:100;not null;index" json:"event_type"`
	EntityType    string         `gorm:"size:100;not null;index:idx_event_entity,priority:1" json:"entity_type"`
	EntityId      int            `gorm:"index:idx_event_entity,priority:2" json:"entity_id"`
	Severity      EventSeverity  `gorm:"type:enum('INFO','WARN','BLOCK','CRITICAL');not null;index" json:"severity"`
	Payload       datatypes.JSON `json:"payload"`
	PayloadHash   string         `gorm:"size:64;not null" json:"payload_hash"`
	ActorId       int            `json:"actor_id"`
	ActorName     string         `gorm:"size:100" json:"actor_name"`
	CorrelationId string         `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// LogSystemEvent writes the audit row within the caller's transaction, so the
// decision and its audit trail commit or roll back together.
func LogSystemEvent(ctx context.Context, tx *gorm.DB, businessId string, eventType string, entityType string, entityId int, severity EventSeverity, payload map[string]interface{}) error {

	payloadInByte, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(payloadInByte)

	event := SystemEvent{
		BusinessId:    businessId,
		EventType:     eventType,
		EntityType:    entityType,
		EntityId:      entityId,
		Severity:      severity,
		Payload:       datatypes.JSON(payloadInByte),
		PayloadHash:   hex.EncodeToString(hash[:]),
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	event.ActorName = "System"
	if ctx != nil {
		if id, ok := utils.GetUserIdFromContext(ctx); ok {
			event.ActorId = id
		}
		if name, ok := utils.GetUserNameFromContext(ctx); ok && name != "" {
			event.ActorName = name
		}
	}
	return tx.Create(&event).Error
}

// GetSystemEvents lists audit rows for one entity, newest first.
func GetSystemEvents(ctx context.Context, entityType string, entityId int) ([]*SystemEvent, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*SystemEvent
	err := db.WithContext(ctx).
		Where("business_id = ? AND entity_type = ? AND entity_id = ?", businessId, entityType, entityId).
		Order("id DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
