package utils

import (
	"context"

	"github.com/pagecraft/sitegov_backend/config"
)

// FetchModel loads a row by primary key, tenant-scoped. A miss (including a
// row owned by a different business) comes back as ErrorRecordNotFound.
func FetchModel[T any](ctx context.Context, businessId string, id int, associations ...string) (*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	if err := dbCtx.First(&result, id).Error; err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}
