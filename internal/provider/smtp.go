// internal/provider/smtp.go
package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"mailcourier/internal/common/errors"
	"mailcourier/internal/models"
)

type smtpConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	UseTLS    bool   `json:"use_tls"`
	FromEmail string `json:"from_email"`
}

type smtpAdapter struct {
	cfg smtpConfig
}

func newSMTPAdapter(raw json.RawMessage) (Adapter, error) {
	var cfg smtpConfig
	if err := decodeConfig(models.ProviderSMTP, raw, &cfg); err != nil {
		return nil, err
	}
	return &smtpAdapter{cfg: cfg}, nil
}

func (a *smtpAdapter) Kind() models.ProviderKind { return models.ProviderSMTP }

func (a *smtpAdapter) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewProviderTimeoutError("smtp")
	}

	from := msg.From
	if from == "" {
		from = a.cfg.FromEmail
	}

	messageID := a.generateMessageID(msg.To[0])
	body := buildMIME(from, messageID, msg)

	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)

	var auth smtp.Auth
	if a.cfg.Username != "" && a.cfg.Password != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.Host)
	}

	var err error
	if a.cfg.UseTLS {
		err = a.sendWithTLS(addr, auth, from, msg.To, body)
	} else {
		err = smtp.SendMail(addr, auth, from, msg.To, body)
	}
	if err != nil {
		return nil, a.classify(err)
	}

	return &SendResult{ProviderMessageID: messageID}, nil
}

func (a *smtpAdapter) Verify(ctx context.Context) (*VerifyResult, error) {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)

	client, err := smtp.Dial(addr)
	if err != nil {
		return &VerifyResult{OK: false, Detail: fmt.Sprintf("connect failed: %v", err)}, nil
	}
	defer client.Close()

	if a.cfg.UseTLS {
		tlsConfig := &tls.Config{ServerName: a.cfg.Host}
		if err = client.StartTLS(tlsConfig); err != nil {
			return &VerifyResult{OK: false, Detail: fmt.Sprintf("starttls failed: %v", err)}, nil
		}
	}

	if err := client.Quit(); err != nil {
		return &VerifyResult{OK: false, Detail: err.Error()}, nil
	}
	return &VerifyResult{OK: true, Detail: "connection established"}, nil
}

func (a *smtpAdapter) sendWithTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{
		ServerName:         a.cfg.Host,
		InsecureSkipVerify: false,
	}

	if err = client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err = client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}

	for _, addr := range to {
		if err = client.Rcpt(addr); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", addr, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}

	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

func (a *smtpAdapter) generateMessageID(to string) string {
	timestamp := time.Now().UnixNano()
	return fmt.Sprintf("<%d.%s@%s>", timestamp, sanitizeLocalPart(to), a.cfg.Host)
}

func (a *smtpAdapter) classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "535"):
		return errors.NewProviderAuthError("smtp", err)
	case strings.Contains(msg, "recipient"),
		strings.Contains(msg, "550"),
		strings.Contains(msg, "553"):
		return errors.NewProviderRejectedError("smtp", msg)
	case strings.Contains(msg, "failed to connect"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "i/o timeout"):
		return errors.NewProviderUnavailableError("smtp", err)
	}
	return errors.NewProviderUnknownError("smtp", msg)
}

func sanitizeLocalPart(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) > 0 {
		local := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, parts[0])

		if len(local) > 10 {
			local = local[:10]
		}
		return local
	}
	return "user"
}
