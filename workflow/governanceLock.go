package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireBusinessGovernanceLock serializes governance processing per business
// across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will do the processing transaction.
func AcquireBusinessGovernanceLock(tx *gorm.DB, businessId string) error {
	lockName := fmt.Sprintf("governance:%s", businessId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire governance lock for business_id=%s", businessId)
	}
	return nil
}

func ReleaseBusinessGovernanceLock(tx *gorm.DB, businessId string) {
	lockName := fmt.Sprintf("governance:%s", businessId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
