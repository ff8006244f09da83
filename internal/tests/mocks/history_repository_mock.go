package mocks

import (
	"context"

	"reactivator/internal/models"
)

type HistoryRepositoryMock struct {
	CreateFunc    func(ctx context.Context, record *models.HistoryRecord) error
	ListFunc      func(ctx context.Context) ([]models.HistoryRecord, error)
	GetByIDFunc   func(ctx context.Context, id string) (*models.HistoryRecord, error)
	FindPaidFunc  func(ctx context.Context, sourceHash string, milestoneIndex int) (*models.HistoryRecord, error)
	UpdateFunc    func(ctx context.Context, id string, update models.HistoryUpdate) error
	DeleteFunc    func(ctx context.Context, id string) error
	DeleteAllFunc func(ctx context.Context) error
}

func (m *HistoryRepositoryMock) Create(ctx context.Context, record *models.HistoryRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, record)
	}
	return nil
}

func (m *HistoryRepositoryMock) List(ctx context.Context) ([]models.HistoryRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return []models.HistoryRecord{}, nil
}

func (m *HistoryRepositoryMock) GetByID(ctx context.Context, id string) (*models.HistoryRecord, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *HistoryRepositoryMock) FindPaid(ctx context.Context, sourceHash string, milestoneIndex int) (*models.HistoryRecord, error) {
	if m.FindPaidFunc != nil {
		return m.FindPaidFunc(ctx, sourceHash, milestoneIndex)
	}
	return nil, nil
}

func (m *HistoryRepositoryMock) Update(ctx context.Context, id string, update models.HistoryUpdate) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, update)
	}
	return nil
}

func (m *HistoryRepositoryMock) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *HistoryRepositoryMock) DeleteAll(ctx context.Context) error {
	if m.DeleteAllFunc != nil {
		return m.DeleteAllFunc(ctx)
	}
	return nil
}
