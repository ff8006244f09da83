package models

import "time"

// HistoryRecord is a persisted snapshot of a paid batch.
type HistoryRecord struct {
	ID             string           `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt      time.Time        `gorm:"not null;index:idx_history_created_at" json:"createdAt"`
	Source         SourceImage      `gorm:"embedded;embeddedPrefix:source_" json:"originalImage"`
	SourceHash     string           `gorm:"size:64;not null;uniqueIndex:idx_history_identity,priority:1" json:"sourceHash"`
	MilestoneIndex int              `gorm:"not null;uniqueIndex:idx_history_identity,priority:2" json:"milestoneIndex"`
	IsPaid         bool             `gorm:"not null;uniqueIndex:idx_history_identity,priority:3" json:"isPaid"`
	MilestoneLabel string           `gorm:"size:64;not null" json:"milestoneLabel"`
	GeneratedSlots []GenerationSlot `gorm:"type:text;serializer:json" json:"generatedImages"`
	FavoriteIndex  *int             `json:"favoritedIndex"`
}

// Favorite returns the stored favorite as a selector.
func (r *HistoryRecord) Favorite() *FavoriteSelector {
	if r == nil || r.FavoriteIndex == nil {
		return nil
	}
	return &FavoriteSelector{Index: *r.FavoriteIndex}
}

// Timestamp returns the creation time in Unix milliseconds.
func (r *HistoryRecord) Timestamp() int64 {
	return r.CreatedAt.UnixMilli()
}

// HistoryDraft carries everything Save needs; id and timestamp are assigned by the store.
type HistoryDraft struct {
	Source         SourceImage
	GeneratedSlots []GenerationSlot
	MilestoneIndex int
	MilestoneLabel string
	Favorite       *FavoriteSelector
	IsPaid         bool
}

// HistoryUpdate lists the fields to merge into an existing record. Unset fields are kept.
type HistoryUpdate struct {
	Favorite       *FavoriteSelector
	ClearFavorite  bool
	GeneratedSlots []GenerationSlot
	MilestoneLabel *string
}

// IsEmpty reports whether the update would change nothing.
func (u HistoryUpdate) IsEmpty() bool {
	return u.Favorite == nil && !u.ClearFavorite && u.GeneratedSlots == nil && u.MilestoneLabel == nil
}

// FavoritePtr converts a selector into the nullable column value.
func FavoritePtr(f *FavoriteSelector) *int {
	if f == nil {
		return nil
	}
	i := f.Index
	return &i
}
