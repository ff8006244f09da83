package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"os"
	"strconv"
	"strings"

	"reactivator/internal/models"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPConfigFromEnv reads SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD and
// SMTP_FROM. ok is false when host or sender are missing.
func SMTPConfigFromEnv() (cfg SMTPConfig, ok bool) {
	cfg = SMTPConfig{
		Host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		Port:     587,
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     strings.TrimSpace(os.Getenv("SMTP_FROM")),
	}
	if p, err := strconv.Atoi(strings.TrimSpace(os.Getenv("SMTP_PORT"))); err == nil && p > 0 {
		cfg.Port = p
	}
	return cfg, cfg.Host != "" && cfg.From != ""
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	send sendMailFunc
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, msg models.EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.cfg.Host == "" || m.cfg.From == "" {
		return ErrEmailNotConfigured
	}
	raw, err := buildMIMEMessage(m.cfg.From, msg)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To.Email}, raw); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMIMEMessage(from string, msg models.EmailMessage) ([]byte, error) {
	if msg.To.Email == "" {
		return nil, errors.New("message has no recipient")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fromAddr := mail.Address{Name: msg.FromName, Address: from}
	toAddr := mail.Address{Name: msg.To.Name, Address: msg.To.Email}

	var head bytes.Buffer
	fmt.Fprintf(&head, "From: %s\r\n", fromAddr.String())
	fmt.Fprintf(&head, "To: %s\r\n", toAddr.String())
	fmt.Fprintf(&head, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	head.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&head, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(plainTextBody(msg))); err != nil {
		return nil, err
	}

	if len(msg.Attachment) > 0 {
		att, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {msg.AttachmentMime},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {`attachment; filename="reactivated.jpg"`},
		})
		if err != nil {
			return nil, err
		}
		enc := base64.StdEncoding.EncodeToString(msg.Attachment)
		for len(enc) > 76 {
			if _, err := att.Write([]byte(enc[:76] + "\r\n")); err != nil {
				return nil, err
			}
			enc = enc[76:]
		}
		if _, err := att.Write([]byte(enc + "\r\n")); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return append(head.Bytes(), buf.Bytes()...), nil
}

func plainTextBody(msg models.EmailMessage) string {
	var b strings.Builder
	if msg.Body != "" {
		b.WriteString(msg.Body)
		b.WriteString("\r\n\r\n")
	}
	b.WriteString("I made this with Reactivator: my logo, after being ignored for a while.\r\n")
	if msg.DownloadInstructions != "" {
		b.WriteString("\r\n")
		b.WriteString(msg.DownloadInstructions)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(msg.FromName)
	b.WriteString("\r\n")
	return b.String()
}
