package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reactivator/internal/events"
	"reactivator/internal/models"
)

type Step string

const (
	StepUpload  Step = "upload"
	StepSlider  Step = "slider"
	StepDisplay Step = "display"
)

const maxRecentFavorites = 20

// RecentFavorite is a favorite kept in memory when the user starts over.
type RecentFavorite struct {
	Source         models.SourceImage `json:"originalImage"`
	Image          string             `json:"generatedImage"`
	MilestoneLabel string             `json:"milestoneLabel"`
}

// SessionState is everything the frontend needs to render the current session.
type SessionState struct {
	Step            Step                   `json:"step"`
	Source          *models.SourceImage    `json:"originalImage"`
	MilestoneIndex  int                    `json:"milestoneIndex"`
	Milestone       models.Milestone       `json:"milestone"`
	Batch           models.GenerationBatch `json:"batch"`
	IsGenerating    bool                   `json:"isGenerating"`
	IsPaid          bool                   `json:"isPaid"`
	PaymentRequired bool                   `json:"paymentRequired"`
	HistoryID       string                 `json:"historyId,omitempty"`
	Recent          []RecentFavorite       `json:"recent"`
}

// HistorySummary is one row of the history sidebar.
type HistorySummary struct {
	ID             string `json:"id"`
	Timestamp      int64  `json:"timestamp"`
	MilestoneLabel string `json:"milestoneLabel"`
	Summary        string `json:"summary"`
	Thumbnail      string `json:"thumbnail"`
	IsPaid         bool   `json:"isPaid"`
}

// SessionService is the frontend-facing shell around the orchestrator, the payment gate
// and the history store.
type SessionService struct {
	ctx          context.Context
	catalog      CatalogService
	orchestrator *BatchOrchestrator
	history      HistoryService
	reconciler   *Reconciler
	gate         *PaymentGate
	payments     PaymentService
	email        *EmailService
	settings     AppSettingsService

	mu               sync.Mutex
	source           *models.SourceImage
	milestone        int
	defaultMilestone int
	step             Step
	historyID        string
	recent           []RecentFavorite
}

type SessionDeps struct {
	Catalog      CatalogService
	Orchestrator *BatchOrchestrator
	History      HistoryService
	Reconciler   *Reconciler
	Payments     PaymentService
	Email        *EmailService
	Settings     AppSettingsService
	GateDelay    time.Duration
}

func NewSessionService(deps SessionDeps) *SessionService {
	s := &SessionService{
		ctx:              context.Background(),
		catalog:          deps.Catalog,
		orchestrator:     deps.Orchestrator,
		history:          deps.History,
		reconciler:       deps.Reconciler,
		payments:         deps.Payments,
		email:            deps.Email,
		settings:         deps.Settings,
		milestone:        deps.Catalog.DefaultMilestoneIndex(),
		defaultMilestone: deps.Catalog.DefaultMilestoneIndex(),
		step:             StepUpload,
	}
	if s.reconciler == nil {
		s.reconciler = NewReconciler(deps.History, deps.Catalog)
	}
	if s.email == nil {
		s.email = NewEmailService(nil)
	}
	s.gate = NewPaymentGate(deps.GateDelay, s.paymentRequired)
	s.orchestrator.SetObserver(sessionObserver{s})
	return s
}

// Startup is called by Wails with the application context.
func (s *SessionService) Startup(ctx context.Context) {
	s.ctx = events.WithSession(ctx, uuid.NewString())
	s.orchestrator.Startup(ctx)

	if s.settings != nil {
		if settings, err := s.settings.Get(); err != nil {
			log.Warn().Err(err).Str("component", "session").Msg("could not load settings, using defaults")
		} else {
			s.gate.SetDelay(settings.PaymentGateDelay())
			if settings.DefaultMilestoneIndex >= 0 && settings.DefaultMilestoneIndex < len(s.catalog.Milestones()) {
				s.mu.Lock()
				s.defaultMilestone = settings.DefaultMilestoneIndex
				s.milestone = settings.DefaultMilestoneIndex
				s.mu.Unlock()
			}
		}
	}

	if err := s.history.Initialize(ctx); err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("history store unavailable at startup")
	}
}

// Shutdown stops in-flight work and closes the history store.
func (s *SessionService) Shutdown() {
	s.orchestrator.Shutdown()
	s.gate.Reset()
	if err := s.history.Close(); err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("closing history store")
	}
}

func (s *SessionService) Catalog() models.Catalog {
	return s.catalog.Catalog()
}

// UploadImage replaces the source image and discards any current batch.
func (s *SessionService) UploadImage(dataURL string) (SessionState, error) {
	src, err := models.SourceImageFromDataURL(dataURL)
	if err != nil {
		return s.State(), fmt.Errorf("failed to process the image file: %w", err)
	}
	s.orchestrator.Reset()
	s.gate.Begin(s.orchestrator.Snapshot().Epoch)

	s.mu.Lock()
	s.source = src
	s.step = StepSlider
	s.historyID = ""
	s.mu.Unlock()
	return s.State(), nil
}

func (s *SessionService) SetMilestone(index int) error {
	if _, err := s.catalog.Milestone(index); err != nil {
		return err
	}
	s.mu.Lock()
	s.milestone = index
	s.mu.Unlock()
	return nil
}

// Generate starts a full batch for the current image and milestone.
func (s *SessionService) Generate() (SessionState, error) {
	s.mu.Lock()
	src, milestone := s.source, s.milestone
	s.mu.Unlock()
	if src == nil {
		return s.State(), ErrNoSourceImage
	}

	if err := s.orchestrator.StartBatch(src, milestone); err != nil {
		return s.State(), err
	}
	s.gate.Begin(s.orchestrator.Snapshot().Epoch)

	s.mu.Lock()
	s.step = StepDisplay
	s.historyID = ""
	s.mu.Unlock()
	return s.State(), nil
}

func (s *SessionService) Recreate(index int) error {
	return s.orchestrator.RecreateSlot(index)
}

// SetFavorite favorites slot index, or clears the favorite when index is negative. A
// paid record is updated to match; failures there are logged only.
func (s *SessionService) SetFavorite(index int) error {
	var fav *models.FavoriteSelector
	if index >= 0 {
		fav = &models.FavoriteSelector{Index: index}
	}
	if err := s.orchestrator.SetFavorite(fav); err != nil {
		return err
	}
	if !s.gate.Paid() {
		return nil
	}
	if err := s.reconciler.OnFavoriteChanged(s.ctx, s.orchestrator.Snapshot(), fav); err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("could not sync favorite to history")
		return nil
	}
	s.emitHistoryChanged()
	return nil
}

// ImageClicked raises the payment prompt early for an unpaid batch with results.
func (s *SessionService) ImageClicked() bool {
	if s.orchestrator.Snapshot().SucceededCount() == 0 {
		return false
	}
	return s.gate.Trigger()
}

func (s *SessionService) Quote() models.Quote {
	return s.payments.Quote(s.orchestrator.Snapshot())
}

// Pay runs the mock payment for the current batch and persists it on success.
func (s *SessionService) Pay() (*models.PaymentResult, error) {
	batch := s.orchestrator.Snapshot()
	quote := s.payments.Quote(batch)
	if quote.AmountCents == 0 {
		return nil, ErrNothingToPersist
	}

	intent, err := s.payments.CreateIntent(s.ctx, quote.AmountCents)
	if err != nil {
		return nil, err
	}
	result, err := s.payments.Confirm(s.ctx, intent.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}
	s.gate.MarkPaid()

	id, err := s.reconciler.OnPaymentConfirmed(s.ctx, s.orchestrator.Snapshot())
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("paid batch was not saved to history")
		return result, nil
	}
	s.mu.Lock()
	s.historyID = id
	s.mu.Unlock()
	s.emitHistoryChanged()
	return result, nil
}

// StartOver clears the session. A favorited image is kept in the recent list.
func (s *SessionService) StartOver() SessionState {
	batch := s.orchestrator.Snapshot()
	s.orchestrator.Reset()
	s.gate.Begin(s.orchestrator.Snapshot().Epoch)

	s.mu.Lock()
	if f := batch.Favorite; batch.Source != nil && f != nil && f.Index < len(batch.Slots) && batch.Slots[f.Index].State == models.SlotSucceeded {
		label := ""
		if m, err := s.catalog.Milestone(batch.MilestoneIndex); err == nil {
			label = m.Label
		}
		s.recent = append([]RecentFavorite{{
			Source:         *batch.Source,
			Image:          batch.Slots[f.Index].Image,
			MilestoneLabel: label,
		}}, s.recent...)
		if len(s.recent) > maxRecentFavorites {
			s.recent = s.recent[:maxRecentFavorites]
		}
	}
	s.source = nil
	s.milestone = s.defaultMilestone
	s.step = StepUpload
	s.historyID = ""
	s.mu.Unlock()
	return s.State()
}

func (s *SessionService) State() SessionState {
	batch := s.orchestrator.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()

	milestone, _ := s.catalog.Milestone(s.milestone)
	var src *models.SourceImage
	if s.source != nil {
		c := *s.source
		src = &c
	}
	recent := make([]RecentFavorite, len(s.recent))
	copy(recent, s.recent)
	return SessionState{
		Step:            s.step,
		Source:          src,
		MilestoneIndex:  s.milestone,
		Milestone:       milestone,
		Batch:           batch,
		IsGenerating:    s.orchestrator.IsGenerating(),
		IsPaid:          s.gate.Paid(),
		PaymentRequired: s.gate.Required(),
		HistoryID:       s.historyID,
		Recent:          recent,
	}
}

func (s *SessionService) ListHistory() ([]HistorySummary, error) {
	records, err := s.history.GetAll(s.ctx)
	if err != nil {
		return nil, err
	}
	out := make([]HistorySummary, 0, len(records))
	for i := range records {
		out = append(out, summarize(&records[i]))
	}
	return out, nil
}

func summarize(r *models.HistoryRecord) HistorySummary {
	valid := 0
	thumb := ""
	for _, slot := range r.GeneratedSlots {
		if slot.State == models.SlotSucceeded {
			valid++
			if thumb == "" {
				thumb = slot.Image
			}
		}
	}
	if f := r.Favorite(); f != nil && f.Index < len(r.GeneratedSlots) && r.GeneratedSlots[f.Index].State == models.SlotSucceeded {
		thumb = r.GeneratedSlots[f.Index].Image
	}
	return HistorySummary{
		ID:             r.ID,
		Timestamp:      r.Timestamp(),
		MilestoneLabel: r.MilestoneLabel,
		Summary:        fmt.Sprintf("%d variations • %s", valid, r.MilestoneLabel),
		Thumbnail:      thumb,
		IsPaid:         r.IsPaid,
	}
}

// OpenHistory restores a saved batch as the current session. It is already paid for.
func (s *SessionService) OpenHistory(id string) (SessionState, error) {
	record, err := s.history.GetByID(s.ctx, id)
	if err != nil {
		return s.State(), err
	}
	batch, _ := s.reconciler.RestoreFromRecord(record)
	restored, err := s.orchestrator.Load(batch)
	if err != nil {
		return s.State(), err
	}
	s.gate.Begin(restored.Epoch)
	s.gate.MarkPaid()

	s.mu.Lock()
	s.source = restored.Source
	s.milestone = restored.MilestoneIndex
	s.step = StepDisplay
	s.historyID = record.ID
	s.mu.Unlock()
	return s.State(), nil
}

func (s *SessionService) DeleteHistory(id string) error {
	if err := s.history.Delete(s.ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	if s.historyID == id {
		s.historyID = ""
	}
	s.mu.Unlock()
	s.emitHistoryChanged()
	return nil
}

func (s *SessionService) ClearHistory() error {
	if err := s.history.ClearAll(s.ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.historyID = ""
	s.mu.Unlock()
	s.emitHistoryChanged()
	return nil
}

// SendEmail shares one generated image of a paid batch.
func (s *SessionService) SendEmail(recipients, subject, message string, slotIndex int, senderName string) (*EmailReport, error) {
	if !s.gate.Paid() {
		return nil, ErrNotPaid
	}
	batch := s.orchestrator.Snapshot()
	if slotIndex < 0 || slotIndex >= len(batch.Slots) {
		return nil, fmt.Errorf("%w: %d", ErrSlotOutOfRange, slotIndex)
	}
	slot := batch.Slots[slotIndex]
	if slot.State != models.SlotSucceeded {
		return nil, fmt.Errorf("%w: %d", ErrSlotNotSucceeded, slotIndex)
	}
	return s.email.SendImage(s.ctx, models.EmailRequest{
		Recipients: ParseEmailList(recipients),
		Subject:    subject,
		Message:    message,
		ImageURL:   slot.Image,
		SenderName: senderName,
	})
}

func (s *SessionService) paymentRequired() {
	quote := s.payments.Quote(s.orchestrator.Snapshot())
	events.Emit(s.ctx, events.PaymentRequired, events.NewWarn("payment required").WithPayload(quote))
}

func (s *SessionService) emitHistoryChanged() {
	events.Emit(s.ctx, events.HistoryChanged, events.NewSuccess("history updated"))
}

// sessionObserver keeps the observer callbacks off the bound SessionService method set.
type sessionObserver struct {
	s *SessionService
}

func (o sessionObserver) SlotChanged(u SlotUpdate) {
	evt := events.NewInfo("slot updated").
		WithMeta("slot", strconv.Itoa(u.Index)).
		WithMeta("state", string(u.Slot.State)).
		WithPayload(u)
	if u.Slot.State == models.SlotFailed {
		evt.Type = events.EventError
		evt.Message = "generation failed"
	}
	events.Emit(o.s.ctx, events.GenerationSlot, evt)
}

func (o sessionObserver) BatchSettled(batch models.GenerationBatch, initial bool) {
	events.Emit(o.s.ctx, events.GenerationSettled, events.NewSuccess("batch settled").
		WithMeta("initial", strconv.FormatBool(initial)).
		WithPayload(batch))
	if initial && batch.SucceededCount() > 0 {
		o.s.gate.Arm(batch.Epoch)
	}
}

var _ BatchObserver = sessionObserver{}
