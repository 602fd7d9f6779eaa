// seed-admin creates or updates the console admin user (username: sitegovAdmin)
// together with a demo business and site, so a fresh database is usable
// immediately after migration.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "sitegovAdmin"
	adminPassword = "S!tegovAdmin"
	adminName     = "Sitegov Admin"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	// Audit hooks require business_id + user info in context; attach the first
	// business in the DB, or create a demo one on an empty database.
	var biz models.Business
	err := db.WithContext(ctx).Model(&models.Business{}).First(&biz).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup business: %v\n", err)
			os.Exit(1)
		}
		created, createErr := models.CreateBusiness(ctx, &models.NewBusiness{
			Name:     "Demo Business",
			Timezone: "UTC",
		})
		if createErr != nil {
			fmt.Fprintf(os.Stderr, "failed to create demo business: %v\n", createErr)
			os.Exit(1)
		}
		biz = *created
		fmt.Printf("Created demo business %s\n", biz.ID)
	}

	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetUsernameInContext(ctx, adminUsername)
	ctx = utils.SetIsAdminInContext(ctx, true)

	// Seed a demo site (born with the three default silos) if none exists yet.
	var siteCount int64
	if err := db.WithContext(ctx).Model(&models.Site{}).Where("business_id = ?", businessID).Count(&siteCount).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to count sites: %v\n", err)
		os.Exit(1)
	}
	if siteCount == 0 {
		site, err := models.CreateSite(ctx, &models.NewSite{
			Name:   "Demo Site",
			Domain: "demo.example.com",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create demo site: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created demo site %d (%s)\n", site.ID, site.Domain)
	}

	hashed, err := utils.HashPassword(adminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username:   adminUsername,
			Name:       adminName,
			Password:   hashed,
			IsActive:   utils.NewTrue(),
			Role:       models.UserRoleAdmin,
			BusinessId: businessID,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=Admin)\n", adminUsername)
		return
	}

	// Update existing user: ensure password and admin role.
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]any{
		"password":    hashed,
		"name":        adminName,
		"is_active":   utils.NewTrue(),
		"business_id": businessID,
		"role":        models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin user: username=%q (role=Admin)\n", adminUsername)
}
