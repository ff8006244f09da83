package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reactivator/internal/models"
)

// PriceCents is the price of one generated image.
const PriceCents = 10

const (
	mockIntentPrefix   = "pi_mock_"
	mockCurrency       = "usd"
	defaultMockLatency = 500 * time.Millisecond
)

var ErrInvalidAmount = errors.New("payment amount must be positive")

type PaymentService interface {
	Quote(batch models.GenerationBatch) models.Quote
	CreateIntent(ctx context.Context, amountCents int) (*models.PaymentIntent, error)
	Confirm(ctx context.Context, clientSecret string) (*models.PaymentResult, error)
}

type mockPaymentService struct {
	latency time.Duration
	now     func() time.Time
}

// NewMockPaymentService returns a payment flow that never leaves the process. latency
// simulates the provider round trip; a negative value uses the default.
func NewMockPaymentService(latency time.Duration) PaymentService {
	if latency < 0 {
		latency = defaultMockLatency
	}
	return &mockPaymentService{latency: latency, now: time.Now}
}

func (s *mockPaymentService) Quote(batch models.GenerationBatch) models.Quote {
	n := batch.SucceededCount()
	return models.Quote{Images: n, AmountCents: n * PriceCents}
}

func (s *mockPaymentService) CreateIntent(ctx context.Context, amountCents int) (*models.PaymentIntent, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.wait(ctx); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return &models.PaymentIntent{
		ClientSecret: fmt.Sprintf("%s%d_secret_%s", mockIntentPrefix, s.now().UnixMilli(), suffix),
		AmountCents:  amountCents,
		Currency:     mockCurrency,
	}, nil
}

func (s *mockPaymentService) Confirm(ctx context.Context, clientSecret string) (*models.PaymentResult, error) {
	if err := s.wait(ctx); err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	if !strings.HasPrefix(clientSecret, mockIntentPrefix) || !strings.Contains(clientSecret, "_secret") {
		log.Warn().Str("component", "payment").Msg("rejected unknown client secret")
		return &models.PaymentResult{Success: false, Error: "Unknown payment intent"}, nil
	}
	return &models.PaymentResult{Success: true}, nil
}

func (s *mockPaymentService) wait(ctx context.Context) error {
	if s.latency == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
