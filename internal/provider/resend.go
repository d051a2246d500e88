// internal/provider/resend.go
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	commonhttp "mailcourier/internal/common/http"
	"mailcourier/internal/models"
)

const defaultResendBaseURL = "https://api.resend.com"

type resendConfig struct {
	APIKey    string `json:"api_key"`
	FromEmail string `json:"from_email"`
}

type resendAdapter struct {
	cfg        resendConfig
	httpClient *commonhttp.Client
	baseURL    string
}

func newResendAdapter(raw json.RawMessage, client *commonhttp.Client) (Adapter, error) {
	var cfg resendConfig
	if err := decodeConfig(models.ProviderResend, raw, &cfg); err != nil {
		return nil, err
	}
	return &resendAdapter{
		cfg:        cfg,
		httpClient: client,
		baseURL:    defaultResendBaseURL,
	}, nil
}

func (a *resendAdapter) Kind() models.ProviderKind { return models.ProviderResend }

type resendSendRequest struct {
	From        string             `json:"from"`
	To          []string           `json:"to"`
	ReplyTo     string             `json:"reply_to,omitempty"`
	Subject     string             `json:"subject"`
	HTML        string             `json:"html,omitempty"`
	Text        string             `json:"text,omitempty"`
	Headers     map[string]string  `json:"headers,omitempty"`
	Attachments []resendAttachment `json:"attachments,omitempty"`
}

type resendAttachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

func (a *resendAdapter) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	from := msg.From
	if from == "" {
		from = a.cfg.FromEmail
	}

	payload := resendSendRequest{
		From:    from,
		To:      msg.To,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Headers: msg.Headers,
	}
	for _, att := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, resendAttachment{
			Filename:    att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			ContentType: att.ContentType,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resend payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if msg.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	}

	resp, err := a.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return nil, classifyTransportError("resend", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return &SendResult{Raw: string(respBody)}, nil
		}
		return &SendResult{
			ProviderMessageID: parsed.ID,
			Raw:               string(respBody),
		}, nil
	}
	return nil, classifyHTTPStatus("resend", resp.StatusCode, string(respBody))
}

func (a *resendAdapter) Verify(ctx context.Context) (*VerifyResult, error) {
	req, err := http.NewRequest(http.MethodGet, a.baseURL+"/domains", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return &VerifyResult{OK: false, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return &VerifyResult{OK: true, Detail: "api key accepted"}, nil
	}
	return &VerifyResult{OK: false, Detail: fmt.Sprintf("status %d", resp.StatusCode)}, nil
}
