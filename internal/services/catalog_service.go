package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"reactivator/internal/models"
)

type CatalogService interface {
	Catalog() models.Catalog
	Styles() []models.StyleModifier
	Milestones() []models.Milestone
	Milestone(index int) (models.Milestone, error)
	SlotCount() int
	DefaultMilestoneIndex() int
}

type catalogService struct {
	catalog models.Catalog
}

// NewCatalogService parses and validates the embedded catalog JSON.
func NewCatalogService(data []byte) (CatalogService, error) {
	var parsed models.Catalog
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse catalog asset: %w", err)
	}
	if err := validateCatalog(&parsed); err != nil {
		return nil, err
	}
	return &catalogService{catalog: parsed}, nil
}

func validateCatalog(c *models.Catalog) error {
	if len(c.Styles) == 0 {
		return errors.New("catalog: at least one style is required")
	}
	if len(c.Milestones) == 0 {
		return errors.New("catalog: at least one milestone is required")
	}
	seen := make(map[string]struct{}, len(c.Styles)+len(c.Milestones))
	for i := range c.Styles {
		s := &c.Styles[i]
		s.Key = strings.TrimSpace(s.Key)
		if s.Key == "" || strings.TrimSpace(s.Prompt) == "" {
			return fmt.Errorf("catalog: style %d needs a key and a prompt", i)
		}
		if _, dup := seen["style:"+s.Key]; dup {
			return fmt.Errorf("catalog: duplicate style %q", s.Key)
		}
		seen["style:"+s.Key] = struct{}{}
	}
	for i := range c.Milestones {
		m := &c.Milestones[i]
		m.Key = strings.TrimSpace(m.Key)
		if m.Key == "" || strings.TrimSpace(m.Label) == "" {
			return fmt.Errorf("catalog: milestone %d needs a key and a label", i)
		}
		if _, dup := seen["milestone:"+m.Key]; dup {
			return fmt.Errorf("catalog: duplicate milestone %q", m.Key)
		}
		seen["milestone:"+m.Key] = struct{}{}
	}
	if c.DefaultMilestoneIndex < 0 || c.DefaultMilestoneIndex >= len(c.Milestones) {
		return fmt.Errorf("catalog: default milestone %d out of range", c.DefaultMilestoneIndex)
	}
	return nil
}

func (s *catalogService) Catalog() models.Catalog {
	return models.Catalog{
		Styles:                s.Styles(),
		Milestones:            s.Milestones(),
		DefaultMilestoneIndex: s.catalog.DefaultMilestoneIndex,
	}
}

func (s *catalogService) Styles() []models.StyleModifier {
	out := make([]models.StyleModifier, len(s.catalog.Styles))
	copy(out, s.catalog.Styles)
	return out
}

func (s *catalogService) Milestones() []models.Milestone {
	out := make([]models.Milestone, len(s.catalog.Milestones))
	copy(out, s.catalog.Milestones)
	return out
}

func (s *catalogService) Milestone(index int) (models.Milestone, error) {
	if index < 0 || index >= len(s.catalog.Milestones) {
		return models.Milestone{}, fmt.Errorf("%w: %d", ErrMilestoneOutOfRange, index)
	}
	return s.catalog.Milestones[index], nil
}

func (s *catalogService) SlotCount() int {
	return len(s.catalog.Styles)
}

func (s *catalogService) DefaultMilestoneIndex() int {
	return s.catalog.DefaultMilestoneIndex
}
