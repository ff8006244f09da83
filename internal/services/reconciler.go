package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"reactivator/internal/models"
)

// Reconciler keeps the history store in step with the live batch. Writes are
// serialized so a double confirmation cannot insert two records.
type Reconciler struct {
	history HistoryService
	catalog CatalogService

	mu sync.Mutex
}

func NewReconciler(history HistoryService, catalog CatalogService) *Reconciler {
	return &Reconciler{history: history, catalog: catalog}
}

// OnPaymentConfirmed persists the paid batch and returns the record id. A record for
// the same source and milestone is reused: confirming the same batch again changes
// nothing, while a newer batch overwrites its images and favorite.
func (r *Reconciler) OnPaymentConfirmed(ctx context.Context, batch models.GenerationBatch) (string, error) {
	if batch.Source.IsEmpty() {
		return "", ErrNoSourceImage
	}
	if batch.SucceededCount() == 0 {
		return "", ErrNothingToPersist
	}
	milestone, err := r.catalog.Milestone(batch.MilestoneIndex)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.history.FindPaid(ctx, batch.Source.Hash(), batch.MilestoneIndex)
	if err != nil {
		return "", fmt.Errorf("look up paid entry: %w", err)
	}
	slots := settledSlots(batch.Slots, r.catalog.SlotCount())
	if existing != nil {
		if sameSlots(existing.GeneratedSlots, slots) && sameFavorite(existing.Favorite(), batch.Favorite) {
			log.Debug().Str("component", "reconciler").Str("id", existing.ID).Msg("batch already persisted")
			return existing.ID, nil
		}
		// A newer paid batch for the same source and milestone replaces the stored images.
		update := models.HistoryUpdate{
			GeneratedSlots: slots,
			Favorite:       models.CloneFavorite(batch.Favorite),
			ClearFavorite:  batch.Favorite == nil,
		}
		if err := r.history.Update(ctx, existing.ID, update); err != nil {
			return "", fmt.Errorf("update paid batch: %w", err)
		}
		log.Info().Str("component", "reconciler").Str("id", existing.ID).Msg("paid entry replaced by newer batch")
		return existing.ID, nil
	}

	id, err := r.history.Save(ctx, models.HistoryDraft{
		Source:         *batch.Source,
		GeneratedSlots: slots,
		MilestoneIndex: batch.MilestoneIndex,
		MilestoneLabel: milestone.Label,
		Favorite:       models.CloneFavorite(batch.Favorite),
		IsPaid:         true,
	})
	if err != nil {
		return "", fmt.Errorf("save paid batch: %w", err)
	}
	return id, nil
}

// OnFavoriteChanged mirrors a favorite change into the paid record for the batch, if
// one exists. Unpaid batches are left alone.
func (r *Reconciler) OnFavoriteChanged(ctx context.Context, batch models.GenerationBatch, favorite *models.FavoriteSelector) error {
	if batch.Source.IsEmpty() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.history.FindPaid(ctx, batch.Source.Hash(), batch.MilestoneIndex)
	if err != nil {
		return fmt.Errorf("look up paid entry: %w", err)
	}
	if record == nil || sameFavorite(record.Favorite(), favorite) {
		return nil
	}

	update := models.HistoryUpdate{Favorite: models.CloneFavorite(favorite), ClearFavorite: favorite == nil}
	if err := r.history.Update(ctx, record.ID, update); err != nil {
		return fmt.Errorf("update favorite: %w", err)
	}
	return nil
}

// RestoreFromRecord turns a stored record back into a batch. Slots that were in flight
// when saved come back as pending.
func (r *Reconciler) RestoreFromRecord(record *models.HistoryRecord) (models.GenerationBatch, *models.FavoriteSelector) {
	if record == nil {
		return models.GenerationBatch{}, nil
	}
	src := record.Source
	favorite := record.Favorite()
	if favorite != nil && (favorite.Index < 0 || favorite.Index >= r.catalog.SlotCount()) {
		favorite = nil
	}
	return models.GenerationBatch{
		Source:         &src,
		MilestoneIndex: record.MilestoneIndex,
		Slots:          settledSlots(record.GeneratedSlots, r.catalog.SlotCount()),
		Favorite:       models.CloneFavorite(favorite),
	}, favorite
}

// settledSlots returns exactly n slots with in-flight entries mapped to pending.
func settledSlots(slots []models.GenerationSlot, n int) []models.GenerationSlot {
	out := make([]models.GenerationSlot, n)
	for i := range out {
		if i < len(slots) && slots[i].State != models.SlotInFlight && slots[i].State != "" {
			out[i] = slots[i]
			continue
		}
		out[i] = models.PendingSlot()
	}
	return out
}

func sameSlots(a, b []models.GenerationSlot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameFavorite(a, b *models.FavoriteSelector) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Index == b.Index
}
