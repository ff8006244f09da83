package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reactivator/internal/models"
	"reactivator/internal/repositories"
)

const (
	maxPaymentGateDelayMs = 60_000
	maxConcurrentLimit    = 8
)

type AppSettingsService interface {
	Get() (*models.AppSettings, error)
	Update(defaultMilestoneIndex, paymentGateDelayMs, maxConcurrent int, imageModel string) (*models.AppSettings, error)
	Startup(ctx context.Context)
}

type appSettingsService struct {
	appSettings    repositories.AppSettingsRepository
	milestoneCount int
	context        context.Context
}

func (s *appSettingsService) Startup(ctx context.Context) {
	s.context = ctx
}

func NewAppSettingsService(appSettings repositories.AppSettingsRepository, milestoneCount int) AppSettingsService {
	return &appSettingsService{appSettings: appSettings, milestoneCount: milestoneCount}
}

func (s *appSettingsService) ctx() context.Context {
	if s.context != nil {
		return s.context
	}
	return context.Background()
}

func (s *appSettingsService) Get() (*models.AppSettings, error) {
	settings, err := s.appSettings.Get(s.ctx())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(settings.ImageModel) == "" {
		settings.ImageModel = repositories.DefaultImageModel
	}
	if settings.MaxConcurrent <= 0 {
		settings.MaxConcurrent = defaultMaxConcurrent
	}
	return settings, nil
}

func (s *appSettingsService) Update(defaultMilestoneIndex, paymentGateDelayMs, maxConcurrent int, imageModel string) (*models.AppSettings, error) {
	imageModel = strings.TrimSpace(imageModel)
	if imageModel == "" {
		return nil, errors.New("image model is required")
	}
	if defaultMilestoneIndex < 0 || defaultMilestoneIndex >= s.milestoneCount {
		return nil, fmt.Errorf("%w: %d", ErrMilestoneOutOfRange, defaultMilestoneIndex)
	}
	if paymentGateDelayMs < 0 || paymentGateDelayMs > maxPaymentGateDelayMs {
		return nil, fmt.Errorf("payment gate delay must be between 0 and %d ms", maxPaymentGateDelayMs)
	}
	if maxConcurrent < 1 || maxConcurrent > maxConcurrentLimit {
		return nil, fmt.Errorf("max concurrent generations must be between 1 and %d", maxConcurrentLimit)
	}

	current, err := s.appSettings.Get(s.ctx())
	if err != nil {
		return nil, err
	}

	current.DefaultMilestoneIndex = defaultMilestoneIndex
	current.PaymentGateDelayMs = paymentGateDelayMs
	current.MaxConcurrent = maxConcurrent
	current.ImageModel = imageModel
	current.UpdatedAt = time.Now()

	if err := s.appSettings.Update(s.ctx(), current); err != nil {
		return nil, err
	}

	return current, nil
}
