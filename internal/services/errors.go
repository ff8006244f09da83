package services

import "errors"

var (
	ErrHistoryNotFound     = errors.New("entry not found")
	ErrStoreUnavailable    = errors.New("history store unavailable")
	ErrNoSourceImage       = errors.New("no source image")
	ErrNoBatch             = errors.New("no active batch")
	ErrSlotOutOfRange      = errors.New("slot index out of range")
	ErrSlotNotSucceeded    = errors.New("slot has no image")
	ErrMilestoneOutOfRange = errors.New("milestone index out of range")
	ErrNotPaid             = errors.New("batch is not paid")
	ErrNothingToPersist    = errors.New("batch has no generated images")
)
