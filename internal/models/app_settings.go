package models

import "time"

type AppSettings struct {
	ID                    uint   `gorm:"primaryKey"` // single-row table (ID=1)
	Version               int    `gorm:"not null;default:1"`
	DefaultMilestoneIndex int    `gorm:"not null;default:5"`
	PaymentGateDelayMs    int    `gorm:"not null;default:5000"`
	ImageModel            string `gorm:"size:120;not null"`
	MaxConcurrent         int    `gorm:"not null;default:3"`
	UpdatedAt             time.Time
}

// PaymentGateDelay returns the configured delay as a duration.
func (s *AppSettings) PaymentGateDelay() time.Duration {
	return time.Duration(s.PaymentGateDelayMs) * time.Millisecond
}
