package repositories

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"reactivator/internal/models"
)

// ErrRecordNotFound is returned by lookups and updates that target a missing id.
var ErrRecordNotFound = errors.New("history record not found")

type HistoryRepository interface {
	Create(ctx context.Context, record *models.HistoryRecord) error
	List(ctx context.Context) ([]models.HistoryRecord, error)
	GetByID(ctx context.Context, id string) (*models.HistoryRecord, error)
	FindPaid(ctx context.Context, sourceHash string, milestoneIndex int) (*models.HistoryRecord, error)
	Update(ctx context.Context, id string, update models.HistoryUpdate) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

type historyRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Create(ctx context.Context, record *models.HistoryRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.Wrap(err, "history repository: create")
	}
	return nil
}

func (r *historyRepository) List(ctx context.Context) ([]models.HistoryRecord, error) {
	records := []models.HistoryRecord{}
	if err := r.db.WithContext(ctx).Order("created_at desc, id desc").Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "history repository: list")
	}
	return records, nil
}

func (r *historyRepository) GetByID(ctx context.Context, id string) (*models.HistoryRecord, error) {
	var record models.HistoryRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrRecordNotFound, "id %s", id)
		}
		return nil, errors.Wrapf(err, "history repository: get %s", id)
	}
	return &record, nil
}

// FindPaid returns the paid record for a source/milestone pair, or nil when there is none.
func (r *historyRepository) FindPaid(ctx context.Context, sourceHash string, milestoneIndex int) (*models.HistoryRecord, error) {
	var record models.HistoryRecord
	res := r.db.WithContext(ctx).
		Where("source_hash = ? AND milestone_index = ? AND is_paid = ?", sourceHash, milestoneIndex, true).
		Take(&record)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(res.Error, "history repository: find paid")
	}
	return &record, nil
}

// Update merges the set fields of update into the record. The read and write happen in
// one transaction so a concurrent delete cannot slip between them.
func (r *historyRepository) Update(ctx context.Context, id string, update models.HistoryUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.HistoryRecord
		if err := tx.Where("id = ?", id).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(ErrRecordNotFound, "id %s", id)
			}
			return errors.Wrapf(err, "history repository: load %s", id)
		}

		columns := make([]string, 0, 3)
		if update.Favorite != nil || update.ClearFavorite {
			record.FavoriteIndex = models.FavoritePtr(update.Favorite)
			columns = append(columns, "FavoriteIndex")
		}
		if update.GeneratedSlots != nil {
			record.GeneratedSlots = models.CloneSlots(update.GeneratedSlots)
			columns = append(columns, "GeneratedSlots")
		}
		if update.MilestoneLabel != nil {
			record.MilestoneLabel = *update.MilestoneLabel
			columns = append(columns, "MilestoneLabel")
		}
		if len(columns) == 0 {
			return nil
		}

		if err := tx.Model(&record).Select(columns).Updates(&record).Error; err != nil {
			return errors.Wrapf(err, "history repository: update %s", id)
		}
		return nil
	})
}

// Delete removes the record. Deleting an id that does not exist is not an error.
func (r *historyRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.HistoryRecord{}).Error; err != nil {
		return errors.Wrapf(err, "history repository: delete %s", id)
	}
	return nil
}

func (r *historyRepository) DeleteAll(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.HistoryRecord{}).Error; err != nil {
		return errors.Wrap(err, "history repository: delete all")
	}
	return nil
}
