// internal/provider/sendgrid.go
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

const defaultSendGridBaseURL = "https://api.sendgrid.com"

type sendGridConfig struct {
	APIKey    string `json:"api_key"`
	FromEmail string `json:"from_email"`
}

type sendGridAdapter struct {
	cfg        sendGridConfig
	httpClient *commonhttp.Client
	baseURL    string
}

func newSendGridAdapter(raw json.RawMessage, client *commonhttp.Client) (Adapter, error) {
	var cfg sendGridConfig
	if err := decodeConfig(models.ProviderSendGrid, raw, &cfg); err != nil {
		return nil, err
	}
	return &sendGridAdapter{
		cfg:        cfg,
		httpClient: client,
		baseURL:    defaultSendGridBaseURL,
	}, nil
}

func (a *sendGridAdapter) Kind() models.ProviderKind { return models.ProviderSendGrid }

func (a *sendGridAdapter) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	from := msg.From
	if from == "" {
		from = a.cfg.FromEmail
	}

	tos := make([]map[string]string, 0, len(msg.To))
	for _, addr := range msg.To {
		tos = append(tos, map[string]string{"email": addr})
	}

	content := make([]map[string]string, 0, 2)
	if msg.Text != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": msg.Text})
	}
	if msg.HTML != "" {
		content = append(content, map[string]string{"type": "text/html", "value": msg.HTML})
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{{"to": tos}},
		"from":             map[string]string{"email": from},
		"subject":          msg.Subject,
		"content":          content,
	}
	if msg.ReplyTo != "" {
		payload["reply_to"] = map[string]string{"email": msg.ReplyTo}
	}
	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}
	if len(msg.Attachments) > 0 {
		atts := make([]map[string]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			entry := map[string]string{
				"content":  base64.StdEncoding.EncodeToString(att.Content),
				"filename": att.Filename,
			}
			if att.ContentType != "" {
				entry["type"] = att.ContentType
			}
			atts = append(atts, entry)
		}
		payload["attachments"] = atts
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sendgrid payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sendgrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return nil, classifyTransportError("sendgrid", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &SendResult{
			ProviderMessageID: resp.Header.Get("X-Message-Id"),
			Raw:               string(respBody),
		}, nil
	}
	return nil, classifyHTTPStatus("sendgrid", resp.StatusCode, string(respBody))
}

// Verify probes the scopes endpoint, which any valid key can read.
func (a *sendGridAdapter) Verify(ctx context.Context) (*VerifyResult, error) {
	req, err := http.NewRequest(http.MethodGet, a.baseURL+"/v3/scopes", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sendgrid request: %w", err)
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
