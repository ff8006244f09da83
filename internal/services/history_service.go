package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"reactivator/internal/database"
	"reactivator/internal/models"
	"reactivator/internal/repositories"
)

type HistoryService interface {
	Initialize(ctx context.Context) error
	Save(ctx context.Context, draft models.HistoryDraft) (string, error)
	GetAll(ctx context.Context) ([]models.HistoryRecord, error)
	GetByID(ctx context.Context, id string) (*models.HistoryRecord, error)
	FindPaid(ctx context.Context, sourceHash string, milestoneIndex int) (*models.HistoryRecord, error)
	Update(ctx context.Context, id string, update models.HistoryUpdate) error
	Delete(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
	Close() error
}

// HistoryOpener opens the backing database. The returned func releases it.
type HistoryOpener func(ctx context.Context) (*gorm.DB, func() error, error)

// OpenSQLite opens and migrates a dedicated SQLite file on first use.
func OpenSQLite(cfg database.Config) HistoryOpener {
	return func(context.Context) (*gorm.DB, func() error, error) {
		db, err := database.Init(cfg)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return db, sqlDB.Close, nil
	}
}

// SharedDB reuses a database opened elsewhere. Closing the store leaves it open.
func SharedDB(db *gorm.DB) HistoryOpener {
	return func(context.Context) (*gorm.DB, func() error, error) {
		if db == nil {
			return nil, nil, errors.New("database is not open")
		}
		return db, func() error { return nil }, nil
	}
}

type historyService struct {
	open      HistoryOpener
	slotCount int
	now       func() time.Time

	mu     sync.Mutex
	repo   repositories.HistoryRepository
	closer func() error
}

// NewHistoryService returns a store that opens its database lazily on first use.
func NewHistoryService(open HistoryOpener, slotCount int) HistoryService {
	return &historyService{open: open, slotCount: slotCount, now: time.Now}
}

// NewHistoryServiceWithRepository returns a store over an already initialized repository.
func NewHistoryServiceWithRepository(repo repositories.HistoryRepository, slotCount int) HistoryService {
	return &historyService{repo: repo, slotCount: slotCount, now: time.Now}
}

// Initialize opens the store. It is safe to call repeatedly and concurrently; a failed
// attempt is retried on the next call.
func (s *historyService) Initialize(ctx context.Context) error {
	_, err := s.repository(ctx)
	return err
}

func (s *historyService) repository(ctx context.Context) (repositories.HistoryRepository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo != nil {
		return s.repo, nil
	}
	if s.open == nil {
		return nil, ErrStoreUnavailable
	}
	db, closer, err := s.open(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "history").Msg("failed to open history store")
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s.repo = repositories.NewHistoryRepository(db)
	s.closer = closer
	log.Debug().Str("component", "history").Msg("history store opened")
	return s.repo, nil
}

func (s *historyService) Save(ctx context.Context, draft models.HistoryDraft) (string, error) {
	if !draft.IsPaid {
		return "", ErrNotPaid
	}
	if draft.Source.IsEmpty() {
		return "", ErrNoSourceImage
	}
	if len(draft.GeneratedSlots) != s.slotCount {
		return "", fmt.Errorf("history: expected %d slots, got %d", s.slotCount, len(draft.GeneratedSlots))
	}
	if err := s.checkFavorite(draft.Favorite); err != nil {
		return "", err
	}

	repo, err := s.repository(ctx)
	if err != nil {
		return "", err
	}

	now := s.now()
	id := fmt.Sprintf("gen_%d_%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
	record := &models.HistoryRecord{
		ID:             id,
		CreatedAt:      now,
		Source:         draft.Source,
		SourceHash:     draft.Source.Hash(),
		MilestoneIndex: draft.MilestoneIndex,
		MilestoneLabel: strings.TrimSpace(draft.MilestoneLabel),
		IsPaid:         true,
		GeneratedSlots: models.CloneSlots(draft.GeneratedSlots),
		FavoriteIndex:  models.FavoritePtr(draft.Favorite),
	}
	if err := repo.Create(ctx, record); err != nil {
		return "", fmt.Errorf("%w: save %s: %w", ErrStoreUnavailable, id, err)
	}
	log.Info().Str("component", "history").Str("id", id).Int("milestone", draft.MilestoneIndex).Msg("history entry saved")
	return id, nil
}

func (s *historyService) GetAll(ctx context.Context) ([]models.HistoryRecord, error) {
	repo, err := s.repository(ctx)
	if err != nil {
		return nil, err
	}
	records, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if records == nil {
		records = []models.HistoryRecord{}
	}
	return records, nil
}

func (s *historyService) GetByID(ctx context.Context, id string) (*models.HistoryRecord, error) {
	repo, err := s.repository(ctx)
	if err != nil {
		return nil, err
	}
	record, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(id, err)
	}
	return record, nil
}

func (s *historyService) FindPaid(ctx context.Context, sourceHash string, milestoneIndex int) (*models.HistoryRecord, error) {
	repo, err := s.repository(ctx)
	if err != nil {
		return nil, err
	}
	record, err := repo.FindPaid(ctx, sourceHash, milestoneIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return record, nil
}

// Update merges the set fields of update into the entry. A missing id is rejected and
// leaves the store unchanged.
func (s *historyService) Update(ctx context.Context, id string, update models.HistoryUpdate) error {
	if update.GeneratedSlots != nil && len(update.GeneratedSlots) != s.slotCount {
		return fmt.Errorf("history: expected %d slots, got %d", s.slotCount, len(update.GeneratedSlots))
	}
	if err := s.checkFavorite(update.Favorite); err != nil {
		return err
	}
	repo, err := s.repository(ctx)
	if err != nil {
		return err
	}
	if err := repo.Update(ctx, id, update); err != nil {
		return mapRepositoryError(id, err)
	}
	return nil
}

// Delete removes an entry. Deleting an unknown id succeeds.
func (s *historyService) Delete(ctx context.Context, id string) error {
	repo, err := s.repository(ctx)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *historyService) ClearAll(ctx context.Context) error {
	repo, err := s.repository(ctx)
	if err != nil {
		return err
	}
	if err := repo.DeleteAll(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	log.Info().Str("component", "history").Msg("history cleared")
	return nil
}

// Close releases the database. A later call reopens it.
func (s *historyService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return nil
	}
	closer := s.closer
	s.repo, s.closer = nil, nil
	if closer != nil {
		return closer()
	}
	return nil
}

func (s *historyService) checkFavorite(f *models.FavoriteSelector) error {
	if f != nil && (f.Index < 0 || f.Index >= s.slotCount) {
		return fmt.Errorf("%w: favorite %d", ErrSlotOutOfRange, f.Index)
	}
	return nil
}

func mapRepositoryError(id string, err error) error {
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrHistoryNotFound, id)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
