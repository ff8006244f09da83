package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactivator/internal/assets"
	"reactivator/internal/llm/client"
	"reactivator/internal/models"
)

type settleCall struct {
	batch   models.GenerationBatch
	initial bool
}

type recordingObserver struct {
	mu      sync.Mutex
	updates []SlotUpdate
	settles []settleCall
	settled chan settleCall
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{settled: make(chan settleCall, 16)}
}

func (r *recordingObserver) SlotChanged(u SlotUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recordingObserver) BatchSettled(b models.GenerationBatch, initial bool) {
	r.mu.Lock()
	r.settles = append(r.settles, settleCall{batch: b, initial: initial})
	r.mu.Unlock()
	r.settled <- settleCall{batch: b, initial: initial}
}

func (r *recordingObserver) terminalOrder() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var order []int
	for _, u := range r.updates {
		if u.Slot.Terminal() {
			order = append(order, u.Index)
		}
	}
	return order
}

func (r *recordingObserver) settleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.settles)
}

func waitSettled(t *testing.T, obs *recordingObserver) settleCall {
	t.Helper()
	select {
	case s := <-obs.settled:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch to settle")
		return settleCall{}
	}
}

func testCatalog(t *testing.T) CatalogService {
	t.Helper()
	c, err := NewCatalogService(assets.CatalogData)
	require.NoError(t, err)
	return c
}

// styleIndexer maps a style prompt back to its slot index.
func styleIndexer(t *testing.T, c CatalogService) func(string) int {
	t.Helper()
	idx := make(map[string]int)
	for i, s := range c.Styles() {
		idx[s.Prompt] = i
	}
	return func(prompt string) int {
		i, ok := idx[prompt]
		require.True(t, ok, "unknown style prompt %q", prompt)
		return i
	}
}

func testSource(payload string) *models.SourceImage {
	return &models.SourceImage{Bytes: payload, MimeType: "image/png", DisplayURL: "data:image/png;base64," + payload}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestStartBatch_SlotsResolveIndependently(t *testing.T) {
	cat := testCatalog(t)
	slotOf := styleIndexer(t, cat)
	delays := []time.Duration{50 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond}

	gen := client.GeneratorFunc(func(ctx context.Context, _, _, _, style string) (string, error) {
		i := slotOf(style)
		if err := sleepCtx(ctx, delays[i]); err != nil {
			return "", err
		}
		switch i {
		case 0:
			return "", errors.New("generator refused")
		case 1:
			return "AAAA", nil
		default:
			return "BBBB", nil
		}
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs))

	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	assert.True(t, o.IsGenerating())

	settled := waitSettled(t, obs)
	o.Wait()

	assert.True(t, settled.initial)
	assert.Equal(t, []models.GenerationSlot{
		models.FailedSlot(),
		models.SucceededSlot("AAAA"),
		models.SucceededSlot("BBBB"),
	}, settled.batch.Slots)
	assert.Equal(t, []int{1, 2, 0}, obs.terminalOrder())
	assert.Equal(t, 1, obs.settleCount())
	assert.False(t, o.IsGenerating())
}

func TestStartBatch_PassesSourceAndMilestoneToGenerator(t *testing.T) {
	cat := testCatalog(t)
	var mu sync.Mutex
	var calls [][4]string
	gen := client.GeneratorFunc(func(_ context.Context, src, mime, milestone, style string) (string, error) {
		mu.Lock()
		calls = append(calls, [4]string{src, mime, milestone, style})
		mu.Unlock()
		return "OK", nil
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs))

	require.NoError(t, o.StartBatch(testSource("SRC"), 6))
	waitSettled(t, obs)
	o.Wait()

	require.Len(t, calls, cat.SlotCount())
	styles := map[string]bool{}
	for _, c := range calls {
		assert.Equal(t, "SRC", c[0])
		assert.Equal(t, "image/png", c[1])
		assert.Equal(t, "3_months", c[2])
		styles[c[3]] = true
	}
	assert.Len(t, styles, cat.SlotCount())
}

func TestStartBatch_SupersedesPreviousBatch(t *testing.T) {
	cat := testCatalog(t)
	release := make(chan struct{})
	var oldEntered, oldReturned atomic.Int32

	gen := client.GeneratorFunc(func(_ context.Context, src, _, _, _ string) (string, error) {
		if src == "OLD" {
			oldEntered.Add(1)
			<-release
			oldReturned.Add(1)
			return "OLD-RESULT", nil
		}
		return "NEW-RESULT", nil
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs), WithMaxConcurrent(cat.SlotCount()*2))

	require.NoError(t, o.StartBatch(testSource("OLD"), 5))
	first := o.Snapshot().Epoch
	require.Eventually(t, func() bool {
		return oldEntered.Load() == int32(cat.SlotCount())
	}, time.Second, time.Millisecond)
	require.NoError(t, o.StartBatch(testSource("NEW"), 5))

	settled := waitSettled(t, obs)
	close(release)
	o.Wait()

	assert.Equal(t, int32(cat.SlotCount()), oldReturned.Load())
	assert.Greater(t, settled.batch.Epoch, first)
	for _, s := range o.Snapshot().Slots {
		assert.Equal(t, models.SucceededSlot("NEW-RESULT"), s)
	}
	for _, u := range obs.updates {
		if u.Epoch == first {
			assert.Equal(t, models.SlotInFlight, u.Slot.State, "superseded batch must not publish results")
		}
	}
	assert.Equal(t, 1, obs.settleCount())
}

// blockingObserver stalls delivery on the first terminal slot update until unblock is
// closed.
type blockingObserver struct {
	*recordingObserver
	once    sync.Once
	blocked chan struct{}
	unblock chan struct{}
}

func (b *blockingObserver) SlotChanged(u SlotUpdate) {
	b.recordingObserver.SlotChanged(u)
	if u.Slot.Terminal() {
		b.once.Do(func() {
			close(b.blocked)
			<-b.unblock
		})
	}
}

func TestStartBatch_DropsQueuedNotificationsOfSupersededBatch(t *testing.T) {
	cat := testCatalog(t)
	releaseOne, releaseTwo := make(chan struct{}), make(chan struct{})
	gen := client.GeneratorFunc(func(_ context.Context, src, _, _, _ string) (string, error) {
		if src == "ONE" {
			<-releaseOne
		} else {
			<-releaseTwo
		}
		return src, nil
	})
	obs := &blockingObserver{
		recordingObserver: newRecordingObserver(),
		blocked:           make(chan struct{}),
		unblock:           make(chan struct{}),
	}
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs))

	require.NoError(t, o.StartBatch(testSource("ONE"), 5))
	first := o.Snapshot().Epoch
	close(releaseOne)
	select {
	case <-obs.blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("observer never saw a terminal slot")
	}
	// Batch one finishes while its notifications are still queued behind the observer.
	require.Eventually(t, func() bool { return o.Snapshot().Settled() }, time.Second, time.Millisecond)

	require.NoError(t, o.StartBatch(testSource("TWO"), 5))
	second := o.Snapshot().Epoch
	close(obs.unblock)

	close(releaseTwo)
	settled := waitSettled(t, obs.recordingObserver)
	o.Wait()

	assert.Equal(t, second, settled.batch.Epoch)
	assert.Equal(t, "TWO", settled.batch.Source.Bytes)
	assert.Equal(t, 1, obs.settleCount())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	terminalFromFirst := 0
	for _, u := range obs.updates {
		if u.Epoch == first && u.Slot.Terminal() {
			terminalFromFirst++
		}
	}
	assert.Equal(t, 1, terminalFromFirst, "only the update being delivered when batch two started may belong to batch one")
	last := obs.updates[len(obs.updates)-1]
	assert.Equal(t, second, last.Epoch)
}

func TestStartBatch_ClearsFavorite(t *testing.T) {
	cat := testCatalog(t)
	gen := client.GeneratorFunc(func(context.Context, string, string, string, string) (string, error) {
		return "IMG", nil
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs))

	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	waitSettled(t, obs)
	require.NoError(t, o.SetFavorite(&models.FavoriteSelector{Index: 2}))
	require.NotNil(t, o.Snapshot().Favorite)

	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	assert.Nil(t, o.Snapshot().Favorite)
	waitSettled(t, obs)
	o.Wait()
}

func TestStartBatch_Validation(t *testing.T) {
	cat := testCatalog(t)
	o := NewBatchOrchestrator(client.GeneratorFunc(func(context.Context, string, string, string, string) (string, error) {
		t.Fatal("generator must not be called")
		return "", nil
	}), cat)

	assert.ErrorIs(t, o.StartBatch(nil, 5), ErrNoSourceImage)
	assert.ErrorIs(t, o.StartBatch(&models.SourceImage{}, 5), ErrNoSourceImage)
	assert.ErrorIs(t, o.StartBatch(testSource("X"), -1), ErrMilestoneOutOfRange)
	assert.ErrorIs(t, o.StartBatch(testSource("X"), len(cat.Milestones())), ErrMilestoneOutOfRange)

	assert.ErrorIs(t, o.RecreateSlot(0), ErrNoBatch)
	assert.ErrorIs(t, o.SetFavorite(&models.FavoriteSelector{Index: 0}), ErrNoBatch)
	assert.False(t, o.IsGenerating())
}

func TestRecreateSlot_LeavesSiblingsAndFavorite(t *testing.T) {
	cat := testCatalog(t)
	slotOf := styleIndexer(t, cat)
	var round atomic.Int32
	round.Store(1)

	gen := client.GeneratorFunc(func(_ context.Context, _, _, _, style string) (string, error) {
		return fmt.Sprintf("%d-round%d", slotOf(style), round.Load()), nil
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs))

	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	initial := waitSettled(t, obs)
	require.True(t, initial.initial)
	require.NoError(t, o.SetFavorite(&models.FavoriteSelector{Index: 0}))

	round.Store(2)
	require.NoError(t, o.RecreateSlot(1))
	again := waitSettled(t, obs)
	o.Wait()

	assert.False(t, again.initial)
	assert.Equal(t, initial.batch.Slots[0], again.batch.Slots[0])
	assert.Equal(t, models.SucceededSlot("1-round2"), again.batch.Slots[1])
	assert.Equal(t, initial.batch.Slots[2], again.batch.Slots[2])
	assert.Equal(t, &models.FavoriteSelector{Index: 0}, again.batch.Favorite)
	assert.Equal(t, initial.batch.Epoch, again.batch.Epoch)
}

func TestRecreateSlot_OutOfRange(t *testing.T) {
	cat := testCatalog(t)
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(client.GeneratorFunc(func(context.Context, string, string, string, string) (string, error) {
		return "IMG", nil
	}), cat, WithObserver(obs))

	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	waitSettled(t, obs)

	assert.ErrorIs(t, o.RecreateSlot(-1), ErrSlotOutOfRange)
	assert.ErrorIs(t, o.RecreateSlot(cat.SlotCount()), ErrSlotOutOfRange)
	o.Wait()
}

func TestRecreateSlot_LatestRecreateWins(t *testing.T) {
	cat := testCatalog(t)
	slotOf := styleIndexer(t, cat)
	releaseStale := make(chan struct{})
	staleEntered := make(chan struct{}, 1)
	var recreates atomic.Int32
	var staleCtxErr atomic.Value

	gen := client.GeneratorFunc(func(ctx context.Context, _, _, _, style string) (string, error) {
		if slotOf(style) != 0 || recreates.Load() == 0 {
			return "INITIAL", nil
		}
		if recreates.Load() == 1 {
			staleEntered <- struct{}{}
			<-releaseStale
			if ctx.Err() != nil {
				staleCtxErr.Store(ctx.Err())
			}
			return "STALE", nil
		}
		return "FRESH", nil
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs), WithMaxConcurrent(cat.SlotCount()*2))

	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	waitSettled(t, obs)
	o.Wait()

	recreates.Store(1)
	require.NoError(t, o.RecreateSlot(0))
	select {
	case <-staleEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("first recreate never reached the generator")
	}

	recreates.Store(2)
	require.NoError(t, o.RecreateSlot(0))
	settled := waitSettled(t, obs)
	assert.Equal(t, models.SucceededSlot("FRESH"), settled.batch.Slots[0])

	close(releaseStale)
	o.Wait()

	assert.Equal(t, models.SucceededSlot("FRESH"), o.Snapshot().Slots[0])
	assert.Equal(t, context.Canceled, staleCtxErr.Load())
	assert.Equal(t, 2, obs.settleCount())
}

func TestCancelAll_DiscardsLateResults(t *testing.T) {
	cat := testCatalog(t)
	release := make(chan struct{})
	gen := client.GeneratorFunc(func(context.Context, string, string, string, string) (string, error) {
		<-release
		return "LATE", nil
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs))

	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	o.CancelAll()
	assert.False(t, o.IsGenerating())

	close(release)
	o.Wait()

	for _, s := range o.Snapshot().Slots {
		assert.Equal(t, models.SlotInFlight, s.State)
	}
	assert.Equal(t, 0, obs.settleCount())
}

func TestCancelAll_ThenRecreateStillWorks(t *testing.T) {
	cat := testCatalog(t)
	var block atomic.Bool
	block.Store(true)
	release := make(chan struct{})
	gen := client.GeneratorFunc(func(ctx context.Context, _, _, _, _ string) (string, error) {
		if block.Load() {
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "IMG", nil
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs))

	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	o.CancelAll()
	o.Wait()

	block.Store(false)
	for i := 0; i < cat.SlotCount(); i++ {
		require.NoError(t, o.RecreateSlot(i))
	}
	settled := waitSettled(t, obs)
	o.Wait()
	close(release)

	assert.True(t, settled.initial)
	assert.Equal(t, cat.SlotCount(), settled.batch.SucceededCount())
}

func TestWithMaxConcurrent_CapsGeneratorCalls(t *testing.T) {
	cat := testCatalog(t)
	var running, peak atomic.Int32
	gen := client.GeneratorFunc(func(ctx context.Context, _, _, _, _ string) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		_ = sleepCtx(ctx, 5*time.Millisecond)
		running.Add(-1)
		return "IMG", nil
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs), WithMaxConcurrent(1))

	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	waitSettled(t, obs)
	o.Wait()

	assert.Equal(t, int32(1), peak.Load())
}

func TestSetFavorite_RequiresSucceededSlot(t *testing.T) {
	cat := testCatalog(t)
	slotOf := styleIndexer(t, cat)
	gen := client.GeneratorFunc(func(_ context.Context, _, _, _, style string) (string, error) {
		if slotOf(style) == 1 {
			return "", errors.New("nope")
		}
		return "IMG", nil
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs))
	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	waitSettled(t, obs)
	o.Wait()

	assert.ErrorIs(t, o.SetFavorite(&models.FavoriteSelector{Index: 1}), ErrSlotNotSucceeded)
	assert.ErrorIs(t, o.SetFavorite(&models.FavoriteSelector{Index: 9}), ErrSlotOutOfRange)
	require.NoError(t, o.SetFavorite(&models.FavoriteSelector{Index: 2}))
	assert.Equal(t, 2, o.Snapshot().Favorite.Index)
	require.NoError(t, o.SetFavorite(nil))
	assert.Nil(t, o.Snapshot().Favorite)
}

func TestLoad_RestoresBatchAndDropsInFlight(t *testing.T) {
	cat := testCatalog(t)
	release := make(chan struct{})
	gen := client.GeneratorFunc(func(context.Context, string, string, string, string) (string, error) {
		<-release
		return "LATE", nil
	})
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(gen, cat, WithObserver(obs))
	require.NoError(t, o.StartBatch(testSource("RUNNING"), 5))

	restored, err := o.Load(models.GenerationBatch{
		Source:         testSource("RESTORED"),
		MilestoneIndex: 2,
		Slots:          []models.GenerationSlot{models.SucceededSlot("A"), models.InFlightSlot(), models.FailedSlot()},
		Favorite:       &models.FavoriteSelector{Index: 0},
	})
	require.NoError(t, err)
	close(release)
	o.Wait()

	assert.Equal(t, "RESTORED", restored.Source.Bytes)
	assert.Equal(t, 2, restored.MilestoneIndex)
	assert.Equal(t, []models.GenerationSlot{models.SucceededSlot("A"), models.PendingSlot(), models.FailedSlot()}, o.Snapshot().Slots)
	assert.Equal(t, &models.FavoriteSelector{Index: 0}, o.Snapshot().Favorite)
	assert.Equal(t, 0, obs.settleCount())

	_, err = o.Load(models.GenerationBatch{MilestoneIndex: 2})
	assert.ErrorIs(t, err, ErrNoSourceImage)
}

func TestReset_ClearsEverything(t *testing.T) {
	cat := testCatalog(t)
	obs := newRecordingObserver()
	o := NewBatchOrchestrator(client.GeneratorFunc(func(context.Context, string, string, string, string) (string, error) {
		return "IMG", nil
	}), cat, WithObserver(obs))
	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	waitSettled(t, obs)
	require.NoError(t, o.SetFavorite(&models.FavoriteSelector{Index: 0}))

	o.Reset()
	o.Wait()

	snap := o.Snapshot()
	assert.Nil(t, snap.Source)
	assert.Nil(t, snap.Favorite)
	for _, s := range snap.Slots {
		assert.Equal(t, models.SlotPending, s.State)
	}
	assert.ErrorIs(t, o.RecreateSlot(0), ErrNoBatch)
}

type reentrantObserver struct {
	o       *BatchOrchestrator
	settled chan models.GenerationBatch
}

func (r *reentrantObserver) SlotChanged(SlotUpdate) {
	_ = r.o.Snapshot()
}

func (r *reentrantObserver) BatchSettled(b models.GenerationBatch, _ bool) {
	_ = r.o.IsGenerating()
	r.settled <- b
}

func TestObserver_CanCallBackIntoOrchestrator(t *testing.T) {
	cat := testCatalog(t)
	o := NewBatchOrchestrator(client.GeneratorFunc(func(context.Context, string, string, string, string) (string, error) {
		return "IMG", nil
	}), cat)
	obs := &reentrantObserver{o: o, settled: make(chan models.GenerationBatch, 1)}
	o.SetObserver(obs)

	require.NoError(t, o.StartBatch(testSource("SRC"), 5))
	select {
	case b := <-obs.settled:
		assert.Equal(t, cat.SlotCount(), b.SucceededCount())
	case <-time.After(2 * time.Second):
		t.Fatal("observer deadlocked")
	}
	o.Wait()
}
