package services

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"reactivator/internal/database"
	"reactivator/internal/models"
)

func newTestHistory(t *testing.T) HistoryService {
	t.Helper()
	h := NewHistoryService(OpenSQLite(database.Config{Path: filepath.Join(t.TempDir(), "history.db")}), 3)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func paidDraft(source string, milestone int) models.HistoryDraft {
	return models.HistoryDraft{
		Source:         *testSource(source),
		GeneratedSlots: []models.GenerationSlot{models.SucceededSlot("A"), models.FailedSlot(), models.SucceededSlot("C")},
		MilestoneIndex: milestone,
		MilestoneLabel: "30 Days",
		IsPaid:         true,
	}
}

func TestHistoryService_SaveThenGetAll(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)

	id, err := h.Save(ctx, paidDraft("SRC", 5))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^gen_\d+_[0-9a-f]{9}$`), id)

	all, err := h.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "SRC", got.Source.Bytes)
	assert.Equal(t, testSource("SRC").Hash(), got.SourceHash)
	assert.Equal(t, paidDraft("SRC", 5).GeneratedSlots, got.GeneratedSlots)
	assert.Equal(t, "30 Days", got.MilestoneLabel)
	assert.True(t, got.IsPaid)
	assert.Nil(t, got.Favorite())
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
}

func TestHistoryService_GetAllIsNewestFirstAndRepeatable(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	hs := h.(*historyService)

	base := time.UnixMilli(1_700_000_000_000)
	var ids []string
	for i, src := range []string{"A", "B", "C"} {
		at := base.Add(time.Duration(i) * time.Second)
		hs.now = func() time.Time { return at }
		id, err := h.Save(ctx, paidDraft(src, 5))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	first, err := h.GetAll(ctx)
	require.NoError(t, err)
	second, err := h.GetAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{first[0].ID, first[1].ID, first[2].ID})
}

func TestHistoryService_GetAllEmpty(t *testing.T) {
	all, err := newTestHistory(t).GetAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestHistoryService_RejectsUnpaidAndMalformedDrafts(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)

	unpaid := paidDraft("SRC", 5)
	unpaid.IsPaid = false
	_, err := h.Save(ctx, unpaid)
	assert.ErrorIs(t, err, ErrNotPaid)

	short := paidDraft("SRC", 5)
	short.GeneratedSlots = short.GeneratedSlots[:2]
	_, err = h.Save(ctx, short)
	assert.Error(t, err)

	noSource := paidDraft("SRC", 5)
	noSource.Source = models.SourceImage{}
	_, err = h.Save(ctx, noSource)
	assert.ErrorIs(t, err, ErrNoSourceImage)

	badFav := paidDraft("SRC", 5)
	badFav.Favorite = &models.FavoriteSelector{Index: 3}
	_, err = h.Save(ctx, badFav)
	assert.ErrorIs(t, err, ErrSlotOutOfRange)

	all, err := h.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHistoryService_GetByID(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	id, err := h.Save(ctx, paidDraft("SRC", 5))
	require.NoError(t, err)

	got, err := h.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = h.GetByID(ctx, "gen_0_missing")
	assert.ErrorIs(t, err, ErrHistoryNotFound)
}

func TestHistoryService_UpdateMergesFavorite(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	id, err := h.Save(ctx, paidDraft("SRC", 5))
	require.NoError(t, err)

	require.NoError(t, h.Update(ctx, id, models.HistoryUpdate{Favorite: &models.FavoriteSelector{Index: 2}}))

	got, err := h.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &models.FavoriteSelector{Index: 2}, got.Favorite())
	assert.Equal(t, paidDraft("SRC", 5).GeneratedSlots, got.GeneratedSlots)

	require.NoError(t, h.Update(ctx, id, models.HistoryUpdate{ClearFavorite: true}))
	got, err = h.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.Favorite())
}

func TestHistoryService_UpdateMissingLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	_, err := h.Save(ctx, paidDraft("SRC", 5))
	require.NoError(t, err)
	before, err := h.GetAll(ctx)
	require.NoError(t, err)

	err = h.Update(ctx, "gen_0_nope", models.HistoryUpdate{Favorite: &models.FavoriteSelector{Index: 1}})
	assert.ErrorIs(t, err, ErrHistoryNotFound)

	after, err := h.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestHistoryService_DeleteMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	id, err := h.Save(ctx, paidDraft("SRC", 5))
	require.NoError(t, err)

	require.NoError(t, h.Delete(ctx, "gen_0_nope"))
	all, err := h.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, h.Delete(ctx, id))
	all, err = h.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHistoryService_ClearAll(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	_, err := h.Save(ctx, paidDraft("A", 5))
	require.NoError(t, err)
	_, err = h.Save(ctx, paidDraft("B", 5))
	require.NoError(t, err)

	require.NoError(t, h.ClearAll(ctx))
	all, err := h.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHistoryService_FindPaid(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	id, err := h.Save(ctx, paidDraft("SRC", 5))
	require.NoError(t, err)

	rec, err := h.FindPaid(ctx, testSource("SRC").Hash(), 5)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)

	rec, err = h.FindPaid(ctx, testSource("OTHER").Hash(), 5)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHistoryService_InitializeIsIdempotentUnderConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	var opens atomic.Int32
	inner := OpenSQLite(database.Config{Path: path})
	h := NewHistoryService(func(ctx context.Context) (*gorm.DB, func() error, error) {
		opens.Add(1)
		return inner(ctx)
	}, 3)
	t.Cleanup(func() { _ = h.Close() })

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.Initialize(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), opens.Load())
}

func TestHistoryService_OpenFailureSurfacesAndRetries(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	inner := OpenSQLite(database.Config{Path: filepath.Join(t.TempDir(), "history.db")})
	h := NewHistoryService(func(ctx context.Context) (*gorm.DB, func() error, error) {
		if fail.Load() {
			return nil, nil, errors.New("disk unavailable")
		}
		return inner(ctx)
	}, 3)
	t.Cleanup(func() { _ = h.Close() })

	_, err := h.GetAll(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	fail.Store(false)
	_, err = h.GetAll(context.Background())
	assert.NoError(t, err)
}

func TestHistoryService_CloseThenReopen(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	_, err := h.Save(ctx, paidDraft("SRC", 5))
	require.NoError(t, err)

	require.NoError(t, h.Close())

	all, err := h.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
