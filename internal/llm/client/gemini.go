package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"reactivator/internal/models"
)

// contentGenerator is the slice of *genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiImageClient generates variations with a Gemini image model.
type GeminiImageClient struct {
	models     contentGenerator
	model      string
	milestones map[string]models.Milestone
}

// NewGeminiImageClient creates a client for the Gemini API. milestones is used to turn a
// milestone key into the label and mood used in the prompt.
func NewGeminiImageClient(ctx context.Context, apiKey, model string, milestones []models.Milestone) (*GeminiImageClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGeminiImageClient(c.Models, model, milestones), nil
}

func newGeminiImageClient(gen contentGenerator, model string, milestones []models.Milestone) *GeminiImageClient {
	byKey := make(map[string]models.Milestone, len(milestones))
	for _, m := range milestones {
		byKey[m.Key] = m
	}
	return &GeminiImageClient{models: gen, model: model, milestones: byKey}
}

func (c *GeminiImageClient) Generate(ctx context.Context, sourceBase64, mimeType, milestoneKey, styleModifier string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sourceBase64)
	if err != nil {
		return "", fmt.Errorf("decode source image: %w", err)
	}

	prompt, err := RenderDecayPrompt(c.promptInput(milestoneKey, styleModifier))
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	img, text := firstInlineImage(resp)
	if img == nil {
		if text != "" {
			log.Debug().Str("component", "gemini").Str("milestone", milestoneKey).Str("text", text).Msg("model answered without an image")
		}
		return "", ErrNoImage
	}
	return base64.StdEncoding.EncodeToString(img), nil
}

func (c *GeminiImageClient) promptInput(milestoneKey, style string) PromptInput {
	in := PromptInput{Label: strings.ReplaceAll(milestoneKey, "_", " "), Mood: "neglected", Style: style}
	if m, ok := c.milestones[milestoneKey]; ok {
		in.Label = m.Label
		if m.Mood != "" {
			in.Mood = m.Mood
		}
	}
	return in
}

// firstInlineImage returns the first image part of resp and any text seen before it.
func firstInlineImage(resp *genai.GenerateContentResponse) ([]byte, string) {
	if resp == nil {
		return nil, ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 && strings.HasPrefix(part.InlineData.MIMEType, "image/") {
				return part.InlineData.Data, text.String()
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
	}
	return nil, text.String()
}
