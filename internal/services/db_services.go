package services

import (
	"context"

	"gorm.io/gorm"

	"reactivator/internal/repositories"
)

// DbServices aggregates the services backed by the application database.
type DbServices struct {
	AppSettings AppSettingsService
	History     HistoryService
}

// NewDbServices constructs the service container using repositories backed by db.
// The history store shares db and leaves closing it to the caller.
func NewDbServices(db *gorm.DB, catalog CatalogService) *DbServices {
	appSettingsRepo := repositories.NewAppSettingsRepository(db)

	return &DbServices{
		AppSettings: NewAppSettingsService(appSettingsRepo, len(catalog.Milestones())),
		History:     NewHistoryService(SharedDB(db), catalog.SlotCount()),
	}
}

func (d *DbServices) StartDbServices(ctx context.Context) {
	d.AppSettings.Startup(ctx)
}
