package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"reactivator/internal/llm/client"
	"reactivator/internal/models"
)

const defaultMaxConcurrent = 3

// SlotUpdate reports the new state of one slot.
type SlotUpdate struct {
	Epoch uint64                `json:"epoch"`
	Index int                   `json:"index"`
	Slot  models.GenerationSlot `json:"slot"`
}

// BatchObserver receives orchestrator notifications. Calls are made outside the
// orchestrator lock, one at a time, in the order they were produced.
type BatchObserver interface {
	SlotChanged(update SlotUpdate)
	// BatchSettled fires when every slot is terminal. initial is true only for the
	// first settle after StartBatch.
	BatchSettled(batch models.GenerationBatch, initial bool)
}

type OrchestratorOption func(*BatchOrchestrator)

// WithMaxConcurrent caps the number of generator calls running at once.
func WithMaxConcurrent(n int) OrchestratorOption {
	return func(o *BatchOrchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithObserver(obs BatchObserver) OrchestratorOption {
	return func(o *BatchOrchestrator) {
		o.observer = obs
	}
}

type notification struct {
	epoch   uint64
	update  *SlotUpdate
	settled *models.GenerationBatch
	initial bool
}

// BatchOrchestrator owns the live generation batch. Every result is tagged with the
// batch epoch and the slot token current at launch and is applied only if both still
// match when it arrives.
type BatchOrchestrator struct {
	gen      client.ImageGenerator
	styles   []models.StyleModifier
	mileKeys []string
	sem      *semaphore.Weighted
	observer BatchObserver
	wg       sync.WaitGroup

	mu          sync.Mutex
	baseCtx     context.Context
	source      *models.SourceImage
	milestone   int
	slots       []models.GenerationSlot
	favorite    *models.FavoriteSelector
	epoch       uint64
	tokens      []uint64
	batchCtx    context.Context
	cancelBatch context.CancelFunc
	slotCancel  []context.CancelFunc
	initial     bool
	queue       []notification
	dispatching bool
}

func NewBatchOrchestrator(gen client.ImageGenerator, catalog CatalogService, opts ...OrchestratorOption) *BatchOrchestrator {
	n := catalog.SlotCount()
	milestones := catalog.Milestones()
	keys := make([]string, len(milestones))
	for i, m := range milestones {
		keys[i] = m.Key
	}
	o := &BatchOrchestrator{
		gen:        gen,
		styles:     catalog.Styles(),
		mileKeys:   keys,
		sem:        semaphore.NewWeighted(defaultMaxConcurrent),
		baseCtx:    context.Background(),
		milestone:  catalog.DefaultMilestoneIndex(),
		slots:      pendingSlots(n),
		tokens:     make([]uint64, n),
		slotCancel: make([]context.CancelFunc, n),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Startup sets the context every batch context derives from.
func (o *BatchOrchestrator) Startup(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ctx != nil {
		o.baseCtx = ctx
	}
}

// SetObserver replaces the observer. Pass nil to stop notifications.
func (o *BatchOrchestrator) SetObserver(obs BatchObserver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observer = obs
}

func pendingSlots(n int) []models.GenerationSlot {
	slots := make([]models.GenerationSlot, n)
	for i := range slots {
		slots[i] = models.PendingSlot()
	}
	return slots
}

// StartBatch supersedes whatever is running and launches one generation per style.
// It returns as soon as the calls are launched.
func (o *BatchOrchestrator) StartBatch(source *models.SourceImage, milestoneIndex int) error {
	if source.IsEmpty() {
		return ErrNoSourceImage
	}
	if milestoneIndex < 0 || milestoneIndex >= len(o.mileKeys) {
		return fmt.Errorf("%w: %d", ErrMilestoneOutOfRange, milestoneIndex)
	}

	src := *source

	o.mu.Lock()
	o.cancelLocked()
	o.epoch++
	epoch := o.epoch
	o.batchCtx, o.cancelBatch = context.WithCancel(o.baseCtx)
	o.source = &src
	o.milestone = milestoneIndex
	o.favorite = nil
	o.initial = true

	launches := make([]launch, len(o.slots))
	for i := range o.slots {
		o.tokens[i]++
		o.slots[i] = models.InFlightSlot()
		launches[i] = o.prepareLocked(epoch, i)
		o.enqueueSlotLocked(i)
	}
	o.mu.Unlock()

	log.Debug().Str("component", "orchestrator").Uint64("epoch", epoch).Int("milestone", milestoneIndex).Msg("batch started")

	o.flush()
	for _, l := range launches {
		o.run(l, &src)
	}
	return nil
}

// RecreateSlot regenerates a single slot. Sibling slots and the favorite are untouched
// and an earlier recreate of the same slot is cancelled.
func (o *BatchOrchestrator) RecreateSlot(index int) error {
	o.mu.Lock()
	if o.source == nil {
		o.mu.Unlock()
		return ErrNoBatch
	}
	if index < 0 || index >= len(o.slots) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, index)
	}

	if cancel := o.slotCancel[index]; cancel != nil {
		cancel()
		o.slotCancel[index] = nil
	}
	if o.batchCtx == nil || o.batchCtx.Err() != nil {
		o.batchCtx, o.cancelBatch = context.WithCancel(o.baseCtx)
	}
	o.tokens[index]++
	o.slots[index] = models.InFlightSlot()
	l := o.prepareLocked(o.epoch, index)
	src := *o.source
	o.enqueueSlotLocked(index)
	o.mu.Unlock()

	log.Debug().Str("component", "orchestrator").Uint64("epoch", l.epoch).Int("slot", index).Uint64("token", l.token).Msg("slot recreate started")

	o.flush()
	o.run(l, &src)
	return nil
}

// CancelAll abandons every in-flight call. Slots keep their current state and any
// result that still arrives is discarded.
func (o *BatchOrchestrator) CancelAll() {
	o.mu.Lock()
	o.cancelLocked()
	o.epoch++
	o.mu.Unlock()
}

// Reset cancels in-flight work and clears the batch.
func (o *BatchOrchestrator) Reset() {
	o.mu.Lock()
	o.cancelLocked()
	o.epoch++
	o.source = nil
	o.favorite = nil
	o.initial = false
	o.slots = pendingSlots(len(o.slots))
	o.mu.Unlock()
}

// Load replaces the live batch with a restored one. In-flight slots in the input are
// treated as pending since no call backs them.
func (o *BatchOrchestrator) Load(batch models.GenerationBatch) (models.GenerationBatch, error) {
	if batch.Source.IsEmpty() {
		return models.GenerationBatch{}, ErrNoSourceImage
	}
	if batch.MilestoneIndex < 0 || batch.MilestoneIndex >= len(o.mileKeys) {
		return models.GenerationBatch{}, fmt.Errorf("%w: %d", ErrMilestoneOutOfRange, batch.MilestoneIndex)
	}
	src := *batch.Source

	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked()
	o.epoch++
	o.source = &src
	o.milestone = batch.MilestoneIndex
	o.initial = false
	o.slots = pendingSlots(len(o.slots))
	for i := 0; i < len(o.slots) && i < len(batch.Slots); i++ {
		if batch.Slots[i].State != models.SlotInFlight {
			o.slots[i] = batch.Slots[i]
		}
	}
	o.favorite = nil
	if f := batch.Favorite; f != nil && f.Index >= 0 && f.Index < len(o.slots) {
		o.favorite = models.CloneFavorite(f)
	}
	return o.snapshotLocked(), nil
}

// SetFavorite marks one succeeded slot as the favorite, or clears it when f is nil.
func (o *BatchOrchestrator) SetFavorite(f *models.FavoriteSelector) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.source == nil {
		return ErrNoBatch
	}
	if f == nil {
		o.favorite = nil
		return nil
	}
	if f.Index < 0 || f.Index >= len(o.slots) {
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, f.Index)
	}
	if o.slots[f.Index].State != models.SlotSucceeded {
		return fmt.Errorf("%w: %d", ErrSlotNotSucceeded, f.Index)
	}
	o.favorite = models.CloneFavorite(f)
	return nil
}

func (o *BatchOrchestrator) Snapshot() models.GenerationBatch {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// IsGenerating reports whether a current call is still outstanding.
func (o *BatchOrchestrator) IsGenerating() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.batchCtx == nil {
		return false
	}
	for _, s := range o.slots {
		if s.State == models.SlotInFlight {
			return true
		}
	}
	return false
}

// Shutdown cancels in-flight work and waits for every worker to return.
func (o *BatchOrchestrator) Shutdown() {
	o.CancelAll()
	o.wg.Wait()
}

// Wait blocks until every launched call has returned.
func (o *BatchOrchestrator) Wait() {
	o.wg.Wait()
}

func (o *BatchOrchestrator) snapshotLocked() models.GenerationBatch {
	var src *models.SourceImage
	if o.source != nil {
		c := *o.source
		src = &c
	}
	return models.GenerationBatch{
		Source:         src,
		MilestoneIndex: o.milestone,
		Slots:          models.CloneSlots(o.slots),
		Favorite:       models.CloneFavorite(o.favorite),
		Epoch:          o.epoch,
	}
}

func (o *BatchOrchestrator) cancelLocked() {
	if o.cancelBatch != nil {
		o.cancelBatch()
	}
	o.batchCtx, o.cancelBatch = nil, nil
	for i := range o.slotCancel {
		o.slotCancel[i] = nil
	}
}

type launch struct {
	ctx          context.Context
	cancel       context.CancelFunc
	epoch        uint64
	token        uint64
	index        int
	milestoneKey string
	style        string
}

func (o *BatchOrchestrator) prepareLocked(epoch uint64, index int) launch {
	ctx, cancel := context.WithCancel(o.batchCtx)
	o.slotCancel[index] = cancel
	return launch{
		ctx:          ctx,
		cancel:       cancel,
		epoch:        epoch,
		token:        o.tokens[index],
		index:        index,
		milestoneKey: o.mileKeys[o.milestone],
		style:        o.styles[index].Prompt,
	}
}

func (o *BatchOrchestrator) run(l launch, src *models.SourceImage) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer l.cancel()
		img, err := o.generate(l, src)
		o.complete(l, img, err)
	}()
}

func (o *BatchOrchestrator) generate(l launch, src *models.SourceImage) (string, error) {
	if err := o.sem.Acquire(l.ctx, 1); err != nil {
		return "", err
	}
	defer o.sem.Release(1)
	return o.gen.Generate(l.ctx, src.Bytes, src.MimeType, l.milestoneKey, l.style)
}

func (o *BatchOrchestrator) complete(l launch, img string, err error) {
	o.mu.Lock()
	if l.epoch != o.epoch || l.token != o.tokens[l.index] {
		o.mu.Unlock()
		log.Debug().Str("component", "orchestrator").Uint64("epoch", l.epoch).Int("slot", l.index).Uint64("token", l.token).Msg("dropping superseded result")
		return
	}

	if err != nil {
		o.slots[l.index] = models.FailedSlot()
		log.Warn().Err(err).Str("component", "orchestrator").Uint64("epoch", l.epoch).Int("slot", l.index).Msg("generation failed")
	} else {
		o.slots[l.index] = models.SucceededSlot(img)
	}
	o.slotCancel[l.index] = nil
	o.enqueueSlotLocked(l.index)

	snap := o.snapshotLocked()
	if snap.Settled() {
		o.queue = append(o.queue, notification{epoch: o.epoch, settled: &snap, initial: o.initial})
		o.initial = false
	}
	o.mu.Unlock()

	o.flush()
}

func (o *BatchOrchestrator) enqueueSlotLocked(index int) {
	o.queue = append(o.queue, notification{epoch: o.epoch, update: &SlotUpdate{
		Epoch: o.epoch,
		Index: index,
		Slot:  o.slots[index],
	}})
}

// flush delivers queued notifications. Only one goroutine delivers at a time; others
// leave their items for it to pick up. An item whose epoch was superseded while it sat
// in the queue is dropped.
func (o *BatchOrchestrator) flush() {
	o.mu.Lock()
	if o.dispatching {
		o.mu.Unlock()
		return
	}
	o.dispatching = true
	for len(o.queue) > 0 {
		n := o.queue[0]
		o.queue = o.queue[1:]
		obs := o.observer
		if n.epoch != o.epoch || obs == nil {
			if n.epoch != o.epoch {
				log.Debug().Str("component", "orchestrator").Uint64("epoch", n.epoch).Uint64("current", o.epoch).Msg("dropping superseded notification")
			}
			continue
		}
		o.mu.Unlock()

		if n.update != nil {
			obs.SlotChanged(*n.update)
		}
		if n.settled != nil {
			obs.BatchSettled(*n.settled, n.initial)
		}

		o.mu.Lock()
	}
	o.queue = nil
	o.dispatching = false
	o.mu.Unlock()
}
