// internal/provider/postmark.go
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	commonhttp "mailcourier/internal/common/http"
	"mailcourier/internal/models"
)

const defaultPostmarkBaseURL = "https://api.postmarkapp.com"

type postmarkConfig struct {
	ServerToken   string `json:"server_token"`
	MessageStream string `json:"message_stream"`
	FromEmail     string `json:"from_email"`
}

type postmarkAdapter struct {
	cfg        postmarkConfig
	httpClient *commonhttp.Client
	baseURL    string
}

func newPostmarkAdapter(raw json.RawMessage, client *commonhttp.Client) (Adapter, error) {
	var cfg postmarkConfig
	if err := decodeConfig(models.ProviderPostmark, raw, &cfg); err != nil {
		return nil, err
	}
	return &postmarkAdapter{
		cfg:        cfg,
		httpClient: client,
		baseURL:    defaultPostmarkBaseURL,
	}, nil
}

func (a *postmarkAdapter) Kind() models.ProviderKind { return models.ProviderPostmark }

type postmarkSendRequest struct {
	From          string               `json:"From"`
	To            string               `json:"To"`
	ReplyTo       string               `json:"ReplyTo,omitempty"`
	Subject       string               `json:"Subject"`
	HtmlBody      string               `json:"HtmlBody,omitempty"`
	TextBody      string               `json:"TextBody,omitempty"`
	MessageStream string               `json:"MessageStream"`
	Headers       []postmarkHeader     `json:"Headers,omitempty"`
	Attachments   []postmarkAttachment `json:"Attachments,omitempty"`
}

type postmarkHeader struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type postmarkAttachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
}

type postmarkSendResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

func (a *postmarkAdapter) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	from := msg.From
	if from == "" {
		from = a.cfg.FromEmail
	}

	payload := postmarkSendRequest{
		From:          from,
		To:            strings.Join(msg.To, ","),
		ReplyTo:       msg.ReplyTo,
		Subject:       msg.Subject,
		HtmlBody:      msg.HTML,
		TextBody:      msg.Text,
		MessageStream: a.cfg.MessageStream,
	}
	for k, v := range msg.Headers {
		payload.Headers = append(payload.Headers, postmarkHeader{Name: k, Value: v})
	}
	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		payload.Attachments = append(payload.Attachments, postmarkAttachment{
			Name:        att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			ContentType: contentType,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal postmark payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build postmark request: %w", err)
	}
	req.Header.Set("X-Postmark-Server-Token", a.cfg.ServerToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return nil, classifyTransportError("postmark", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusOK {
		var parsed postmarkSendResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return &SendResult{Raw: string(respBody)}, nil
		}
		return &SendResult{
			ProviderMessageID: parsed.MessageID,
			Raw:               string(respBody),
		}, nil
	}
	return nil, classifyHTTPStatus("postmark", resp.StatusCode, string(respBody))
}

func (a *postmarkAdapter) Verify(ctx context.Context) (*VerifyResult, error) {
	req, err := http.NewRequest(http.MethodGet, a.baseURL+"/server", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build postmark request: %w", err)
	}
	req.Header.Set("X-Postmark-Server-Token", a.cfg.ServerToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return &VerifyResult{OK: false, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return &VerifyResult{OK: true, Detail: "server token accepted"}, nil
	}
	return &VerifyResult{OK: false, Detail: fmt.Sprintf("status %d", resp.StatusCode)}, nil
}
