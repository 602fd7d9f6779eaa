package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pagecraft/sitegov_backend/config"
)

type Business struct {
	ID          uuid.UUID `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName string    `gorm:"size:100" json:"contact_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Timezone    string    `gorm:"size:50" json:"timezone"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name        string `json:"name" binding:"required"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email"`
	Timezone    string `json:"timezone"`
}

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {

	business := Business{
		ID:          uuid.New(),
		Name:        input.Name,
		ContactName: input.ContactName,
		Email:       input.Email,
		Timezone:    input.Timezone,
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&business).Error
	if err != nil {
		return nil, err
	}

	return &business, nil
}

func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	id, err := uuid.Parse(businessId)
	if err != nil {
		return nil, errors.New("invalid business id")
	}

	db := config.GetDB()
	var business Business
	if err := db.WithContext(ctx).Where("id = ?", id).First(&business).Error; err != nil {
		return nil, errors.New("business not found")
	}
	return &business, nil
}
