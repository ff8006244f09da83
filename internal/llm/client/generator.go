package client

import (
	"context"
	"errors"
)

var (
	ErrMissingAPIKey = errors.New("gemini api key is not configured")
	ErrNoImage       = errors.New("model response contained no image")
)

// ImageGenerator produces one stylised variation of a source image.
// It returns the raw base64 PNG payload without a data URI header.
type ImageGenerator interface {
	Generate(ctx context.Context, sourceBase64, mimeType, milestoneKey, styleModifier string) (string, error)
}

// GeneratorFunc adapts a plain function to ImageGenerator.
type GeneratorFunc func(ctx context.Context, sourceBase64, mimeType, milestoneKey, styleModifier string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, sourceBase64, mimeType, milestoneKey, styleModifier string) (string, error) {
	return f(ctx, sourceBase64, mimeType, milestoneKey, styleModifier)
}
