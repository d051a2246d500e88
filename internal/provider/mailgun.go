// internal/provider/mailgun.go
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	commonhttp "mailcourier/internal/common/http"
	"mailcourier/internal/models"
)

const (
	mailgunBaseURLUS = "https://api.mailgun.net"
	mailgunBaseURLEU = "https://api.eu.mailgun.net"
)

type mailgunConfig struct {
	APIKey    string `json:"api_key"`
	Domain    string `json:"domain"`
	Region    string `json:"region"`
	FromEmail string `json:"from_email"`
}

type mailgunAdapter struct {
	cfg        mailgunConfig
	httpClient *commonhttp.Client
	baseURL    string
}

func newMailgunAdapter(raw json.RawMessage, client *commonhttp.Client) (Adapter, error) {
	var cfg mailgunConfig
	if err := decodeConfig(models.ProviderMailgun, raw, &cfg); err != nil {
		return nil, err
	}
	baseURL := mailgunBaseURLUS
	if cfg.Region == "eu" {
		baseURL = mailgunBaseURLEU
	}
	return &mailgunAdapter{
		cfg:        cfg,
		httpClient: client,
		baseURL:    baseURL,
	}, nil
}

func (a *mailgunAdapter) Kind() models.ProviderKind { return models.ProviderMailgun }

func (a *mailgunAdapter) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	from := msg.From
	if from == "" {
		from = a.cfg.FromEmail
	}

	body, contentType, err := a.encodeSend(from, msg)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v3/%s/messages", a.baseURL, a.cfg.Domain)
	req, err := http.NewRequest(http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build mailgun request: %w", err)
	}
	req.SetBasicAuth("api", a.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := a.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return nil, classifyTransportError("mailgun", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed struct {
			ID      string `json:"id"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return &SendResult{Raw: string(respBody)}, nil
		}
		return &SendResult{
			ProviderMessageID: strings.Trim(parsed.ID, "<>"),
			Raw:               string(respBody),
		}, nil
	}
	return nil, classifyHTTPStatus("mailgun", resp.StatusCode, string(respBody))
}

// encodeSend produces the request body: urlencoded normally, multipart when
// attachments ride along (the messages API only takes files that way).
func (a *mailgunAdapter) encodeSend(from string, msg *Message) (io.Reader, string, error) {
	if len(msg.Attachments) == 0 {
		form := url.Values{}
		form.Set("from", from)
		for _, addr := range msg.To {
			form.Add("to", addr)
		}
		form.Set("subject", msg.Subject)
		if msg.HTML != "" {
			form.Set("html", msg.HTML)
		}
		if msg.Text != "" {
			form.Set("text", msg.Text)
		}
		if msg.ReplyTo != "" {
			form.Set("h:Reply-To", msg.ReplyTo)
		}
		for k, v := range msg.Headers {
			form.Set("h:"+k, v)
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("from", from)
	for _, addr := range msg.To {
		w.WriteField("to", addr)
	}
	w.WriteField("subject", msg.Subject)
	if msg.HTML != "" {
		w.WriteField("html", msg.HTML)
	}
	if msg.Text != "" {
		w.WriteField("text", msg.Text)
	}
	if msg.ReplyTo != "" {
		w.WriteField("h:Reply-To", msg.ReplyTo)
	}
	for k, v := range msg.Headers {
		w.WriteField("h:"+k, v)
	}
	for _, att := range msg.Attachments {
		part, err := w.CreateFormFile("attachment", att.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode mailgun attachment %s: %w", att.Filename, err)
		}
		if _, err := part.Write(att.Content); err != nil {
			return nil, "", fmt.Errorf("failed to encode mailgun attachment %s: %w", att.Filename, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to encode mailgun form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// Verify fetches the sending domain record to confirm both the key and the
// configured domain.
func (a *mailgunAdapter) Verify(ctx context.Context) (*VerifyResult, error) {
	endpoint := fmt.Sprintf("%s/v4/domains/%s", a.baseURL, a.cfg.Domain)
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build mailgun request: %w", err)
	}
	req.SetBasicAuth("api", a.cfg.APIKey)

	resp, err := a.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return &VerifyResult{OK: false, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return &VerifyResult{OK: true, Detail: "domain verified"}, nil
	case http.StatusNotFound:
		return &VerifyResult{OK: false, Detail: fmt.Sprintf("domain %s not found", a.cfg.Domain)}, nil
	default:
		return &VerifyResult{OK: false, Detail: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
}
