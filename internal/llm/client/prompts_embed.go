package client

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

// embeddedPrompts holds the built-in prompt templates so packaged executables
// can load them without needing access to the source tree.
//
//go:embed prompts/*.txt
var embeddedPrompts embed.FS

// PromptInput fills the decay prompt template.
type PromptInput struct {
	Label string
	Mood  string
	Style string
}

var decayPrompt = template.Must(loadPrompt("decay"))

func loadPrompt(name string) (*template.Template, error) {
	b, err := embeddedPrompts.ReadFile(fmt.Sprintf("prompts/%s.txt", name))
	if err != nil {
		return nil, fmt.Errorf("read prompt %s: %w", name, err)
	}
	return template.New(name).Option("missingkey=error").Parse(string(b))
}

// RenderDecayPrompt renders the generation prompt for one milestone and style.
func RenderDecayPrompt(in PromptInput) (string, error) {
	var buf bytes.Buffer
	if err := decayPrompt.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("render decay prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
