package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"reactivator/internal/imaging"
	"reactivator/internal/models"
)

const (
	maxEmailAttachmentBytes = 40_000
	maxEmailMessageRunes    = 1000
	maxParallelEmails       = 4
	defaultSenderName       = "Reactivator User"
	defaultEmailSubject     = "Check out my reactivated logo!"
	downloadInstructions    = "The image was too large to include in this email. Open Reactivator, find this logo in your history and use Download to save the full-size image."
)

var (
	ErrNoRecipients        = errors.New("no valid email recipients")
	ErrNoImageToShare      = errors.New("no image to share")
	ErrEmailNotConfigured  = errors.New("email delivery is not configured")
	emailPattern           = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	emailListSeparatorExpr = regexp.MustCompile(`[,\n\r]+`)
)

// Mailer delivers one message to one recipient.
type Mailer interface {
	Send(ctx context.Context, msg models.EmailMessage) error
}

// IsValidEmail applies a deliberately loose address check.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ParseEmailList splits a comma or newline separated list and keeps the valid addresses.
func ParseEmailList(text string) []models.EmailRecipient {
	parts := emailListSeparatorExpr.Split(text, -1)
	out := make([]models.EmailRecipient, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || !IsValidEmail(p) {
			continue
		}
		out = append(out, models.EmailRecipient{Email: p})
	}
	return out
}

// EmailReport summarises a share.
type EmailReport struct {
	Sent         int  `json:"sent"`
	WithImage    bool `json:"withImage"`
	ImageBytes   int  `json:"imageBytes"`
	TextFallback bool `json:"textFallback"`
}

type EmailService struct {
	mailer Mailer
}

func NewEmailService(mailer Mailer) *EmailService {
	if mailer == nil {
		mailer = unconfiguredMailer{}
	}
	return &EmailService{mailer: mailer}
}

// SendImage sends the image to every recipient in parallel. Images that stay too large
// after compression are replaced by download instructions.
func (s *EmailService) SendImage(ctx context.Context, req models.EmailRequest) (*EmailReport, error) {
	recipients := validRecipients(req.Recipients)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return nil, ErrNoImageToShare
	}

	report := &EmailReport{}
	attachment, err := imaging.CompressForEmail(req.ImageURL)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("component", "email").Msg("could not compress image, sending text only")
		report.TextFallback = true
	case len(attachment) > maxEmailAttachmentBytes:
		log.Info().Str("component", "email").Int("bytes", len(attachment)).Msg("compressed image too large, sending text only")
		report.ImageBytes = len(attachment)
		report.TextFallback = true
		attachment = nil
	default:
		report.WithImage = true
		report.ImageBytes = len(attachment)
	}

	base := models.EmailMessage{
		FromName: firstNonEmpty(strings.TrimSpace(req.SenderName), defaultSenderName),
		Subject:  firstNonEmpty(strings.TrimSpace(req.Subject), defaultEmailSubject),
		Body:     truncateRunes(strings.TrimSpace(req.Message), maxEmailMessageRunes),
	}
	if report.WithImage {
		base.Attachment = attachment
		base.AttachmentMime = "image/jpeg"
	} else {
		base.DownloadInstructions = downloadInstructions
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelEmails)
	for _, r := range recipients {
		msg := base
		msg.To = r
		g.Go(func() error {
			if err := s.mailer.Send(gctx, msg); err != nil {
				return fmt.Errorf("send to %s: %w", r.Email, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Sent = len(recipients)
	log.Info().Str("component", "email").Int("recipients", report.Sent).Bool("image", report.WithImage).Msg("image shared")
	return report, nil
}

func validRecipients(in []models.EmailRecipient) []models.EmailRecipient {
	seen := make(map[string]struct{}, len(in))
	out := make([]models.EmailRecipient, 0, len(in))
	for _, r := range in {
		r.Email = strings.TrimSpace(r.Email)
		r.Name = strings.TrimSpace(r.Name)
		key := strings.ToLower(r.Email)
		if !IsValidEmail(r.Email) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type unconfiguredMailer struct{}

func (unconfiguredMailer) Send(context.Context, models.EmailMessage) error {
	return ErrEmailNotConfigured
}
