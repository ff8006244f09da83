package client

import (
	"context"
	"strings"
	"sync"

	"reactivator/internal/models"
)

// LazyGeminiImageClient builds the Gemini client on first use and rebuilds it when the
// API key or model changes, so keys saved at runtime take effect without a restart.
type LazyGeminiImageClient struct {
	apiKey     func() (string, error)
	model      func() string
	milestones []models.Milestone
	build      func(ctx context.Context, apiKey, model string, milestones []models.Milestone) (ImageGenerator, error)

	mu      sync.Mutex
	current ImageGenerator
	key     string
	name    string
}

func NewLazyGeminiImageClient(apiKey func() (string, error), model func() string, milestones []models.Milestone) *LazyGeminiImageClient {
	return &LazyGeminiImageClient{
		apiKey:     apiKey,
		model:      model,
		milestones: milestones,
		build: func(ctx context.Context, apiKey, model string, milestones []models.Milestone) (ImageGenerator, error) {
			return NewGeminiImageClient(ctx, apiKey, model, milestones)
		},
	}
}

func (l *LazyGeminiImageClient) Generate(ctx context.Context, sourceBase64, mimeType, milestoneKey, styleModifier string) (string, error) {
	gen, err := l.client(ctx)
	if err != nil {
		return "", err
	}
	return gen.Generate(ctx, sourceBase64, mimeType, milestoneKey, styleModifier)
}

func (l *LazyGeminiImageClient) client(ctx context.Context) (ImageGenerator, error) {
	key, err := l.apiKey()
	if err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	model := strings.TrimSpace(l.model())

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil && l.key == key && l.name == model {
		return l.current, nil
	}
	// The client outlives the call that created it.
	gen, err := l.build(context.WithoutCancel(ctx), key, model, l.milestones)
	if err != nil {
		return nil, err
	}
	l.current, l.key, l.name = gen, key, model
	return gen, nil
}
