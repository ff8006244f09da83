package models

import "strings"

// SlotState is the lifecycle position of one generation slot.
type SlotState string

const (
	SlotPending   SlotState = "pending"
	SlotInFlight  SlotState = "in_flight"
	SlotSucceeded SlotState = "succeeded"
	SlotFailed    SlotState = "failed"
)

const pngDataURIPrefix = "data:image/png;base64,"

// GenerationSlot holds the outcome for one style modifier index.
// Image is only set when State is SlotSucceeded.
type GenerationSlot struct {
	State SlotState `json:"state"`
	Image string    `json:"image,omitempty"`
}

func PendingSlot() GenerationSlot  { return GenerationSlot{State: SlotPending} }
func InFlightSlot() GenerationSlot { return GenerationSlot{State: SlotInFlight} }
func FailedSlot() GenerationSlot   { return GenerationSlot{State: SlotFailed} }

// SucceededSlot wraps raw base64 PNG bytes into a displayable data URI.
func SucceededSlot(pngBase64 string) GenerationSlot {
	image := pngBase64
	if !strings.HasPrefix(image, "data:") {
		image = pngDataURIPrefix + image
	}
	return GenerationSlot{State: SlotSucceeded, Image: image}
}

// Terminal reports whether the slot has resolved one way or the other.
func (s GenerationSlot) Terminal() bool {
	return s.State == SlotSucceeded || s.State == SlotFailed
}

// Payload returns the base64 bytes of a succeeded slot without the data URI header.
func (s GenerationSlot) Payload() string {
	if s.State != SlotSucceeded {
		return ""
	}
	if _, payload, ok := strings.Cut(s.Image, ","); ok {
		return payload
	}
	return s.Image
}

// FavoriteSelector points at the favorited slot of a batch.
type FavoriteSelector struct {
	Index int `json:"index"`
}

// GenerationBatch is a read-only snapshot of the live batch.
type GenerationBatch struct {
	Source         *SourceImage      `json:"sourceImage"`
	MilestoneIndex int               `json:"milestoneIndex"`
	Slots          []GenerationSlot  `json:"slots"`
	Favorite       *FavoriteSelector `json:"favorite"`
	Epoch          uint64            `json:"epoch"`
}

// SucceededCount returns the number of slots holding an image.
func (b GenerationBatch) SucceededCount() int {
	n := 0
	for _, s := range b.Slots {
		if s.State == SlotSucceeded {
			n++
		}
	}
	return n
}

// Settled reports whether every slot is terminal.
func (b GenerationBatch) Settled() bool {
	if len(b.Slots) == 0 {
		return false
	}
	for _, s := range b.Slots {
		if !s.Terminal() {
			return false
		}
	}
	return true
}

// InFlight reports whether any slot is still waiting on the generator.
func (b GenerationBatch) InFlight() bool {
	for _, s := range b.Slots {
		if s.State == SlotInFlight {
			return true
		}
	}
	return false
}

// CloneSlots returns a copy of slots so callers cannot alias live state.
func CloneSlots(slots []GenerationSlot) []GenerationSlot {
	if slots == nil {
		return nil
	}
	out := make([]GenerationSlot, len(slots))
	copy(out, slots)
	return out
}

// CloneFavorite copies a favorite selector.
func CloneFavorite(f *FavoriteSelector) *FavoriteSelector {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}
