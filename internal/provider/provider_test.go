// internal/provider/provider_test.go
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcourier/internal/common/errors"
	commonhttp "mailcourier/internal/common/http"
	"mailcourier/internal/common/logger"
	"mailcourier/internal/models"
)

func testRegistry() *Registry {
	return NewRegistry(logger.NewNoOpLogger(), 5*time.Second)
}

func testMessage() *Message {
	return &Message{
		To:      []string{"dana@example.com"},
		From:    "noreply@acme.test",
		Subject: "Welcome",
		HTML:    "<p>Hello Dana</p>",
		Text:    "Hello Dana",
	}
}

func testAttachment() models.Attachment {
	return models.Attachment{
		Filename:    "invoice.pdf",
		ContentType: "application/pdf",
		Content:     []byte("%PDF-1.4 fake invoice body"),
	}
}

// ==========================
// Config validation
// ==========================

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		kind     models.ProviderKind
		config   string
		wantErr  bool
		contains string
	}{
		{
			name:   "valid sendgrid config",
			kind:   models.ProviderSendGrid,
			config: `{"api_key":"SG.abc","from_email":"noreply@acme.test"}`,
		},
		{
			name:     "missing required field",
			kind:     models.ProviderSendGrid,
			config:   `{"from_email":"noreply@acme.test"}`,
			wantErr:  true,
			contains: "api_key",
		},
		{
			name:     "empty required string",
			kind:     models.ProviderResend,
			config:   `{"api_key":"","from_email":"noreply@acme.test"}`,
			wantErr:  true,
			contains: "api_key",
		},
		{
			name:     "unknown extra field",
			kind:     models.ProviderPostmark,
			config:   `{"server_token":"tok","from_email":"x@y.test","bogus":true}`,
			wantErr:  true,
			contains: "bogus",
		},
		{
			name:     "invalid enum value",
			kind:     models.ProviderMailgun,
			config:   `{"api_key":"key","domain":"mg.acme.test","region":"apac","from_email":"x@y.test"}`,
			wantErr:  true,
			contains: "region",
		},
		{
			name:   "optional fields omitted",
			kind:   models.ProviderSMTP,
			config: `{"host":"mail.acme.test","port":25,"from_email":"x@y.test"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.kind, json.RawMessage(tt.config))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeAdapterConfigInvalid, errors.CodeOf(err))
			assert.Equal(t, errors.ClassPermanent, errors.Classify(err))
			if tt.contains != "" {
				assert.Contains(t, err.Error()+errorDetails(err), tt.contains)
			}
		})
	}
}

func errorDetails(err error) string {
	if se, ok := err.(*errors.StandardError); ok {
		return se.Details
	}
	return ""
}

func TestKindSchemaUnknownKind(t *testing.T) {
	_, err := KindSchema(models.ProviderKind("carrier-pigeon"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAdapterConfigInvalid, errors.CodeOf(err))
}

func TestRegistryBuildRejectsInvalidConfig(t *testing.T) {
	reg := testRegistry()
	_, err := reg.Build(&models.AdapterConfig{
		Kind:   models.ProviderSendGrid,
		Config: json.RawMessage(`{"from_email":"x@y.test"}`),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAdapterConfigInvalid, errors.CodeOf(err))
}

func TestRegistryBuildAppliesDefaults(t *testing.T) {
	reg := testRegistry()
	adapter, err := reg.Build(&models.AdapterConfig{
		Kind:   models.ProviderSMTP,
		Config: json.RawMessage(`{"host":"mail.acme.test","port":587,"from_email":"x@y.test"}`),
	})
	require.NoError(t, err)
	require.Equal(t, models.ProviderSMTP, adapter.Kind())

	smtp, ok := adapter.(*smtpAdapter)
	require.True(t, ok)
	assert.True(t, smtp.cfg.UseTLS, "use_tls defaults on")
}

func TestRegistryBuildMailgunRegions(t *testing.T) {
	reg := testRegistry()

	adapter, err := reg.Build(&models.AdapterConfig{
		Kind:   models.ProviderMailgun,
		Config: json.RawMessage(`{"api_key":"key","domain":"mg.acme.test","from_email":"x@y.test"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, mailgunBaseURLUS, adapter.(*mailgunAdapter).baseURL)

	adapter, err = reg.Build(&models.AdapterConfig{
		Kind:   models.ProviderMailgun,
		Config: json.RawMessage(`{"api_key":"key","domain":"mg.acme.test","region":"eu","from_email":"x@y.test"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, mailgunBaseURLEU, adapter.(*mailgunAdapter).baseURL)
}

func TestRegistryBuildCachesUnrevisedConfig(t *testing.T) {
	reg := testRegistry()
	revised := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := &models.AdapterConfig{
		ID:        "ad-1",
		Kind:      models.ProviderSendGrid,
		Config:    json.RawMessage(`{"api_key":"SG.abc","from_email":"noreply@acme.test"}`),
		UpdatedAt: revised,
	}

	first, err := reg.Build(cfg)
	require.NoError(t, err)
	second, err := reg.Build(cfg)
	require.NoError(t, err)
	assert.Same(t, first, second, "an unrevised config reuses the built adapter")

	cfg.UpdatedAt = revised.Add(time.Minute)
	third, err := reg.Build(cfg)
	require.NoError(t, err)
	assert.NotSame(t, first, third, "a revised config is rebuilt")

	// subsequent builds reuse the replacement
	fourth, err := reg.Build(cfg)
	require.NoError(t, err)
	assert.Same(t, third, fourth)
}

// ==========================
// HTTP adapters
// ==========================

func TestSendGridSend(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("X-Message-Id", "sg-msg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	adapter := &sendGridAdapter{
		cfg:        sendGridConfig{APIKey: "SG.abc", FromEmail: "noreply@acme.test"},
		httpClient: commonhttp.NewClient(5 * time.Second),
		baseURL:    srv.URL,
	}

	result, err := adapter.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "sg-msg-123", result.ProviderMessageID)
	assert.Equal(t, "Bearer SG.abc", gotAuth)
	assert.Equal(t, "Welcome", gotBody["subject"])
}

func TestSendGridSendAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	adapter := &sendGridAdapter{
		cfg:        sendGridConfig{APIKey: "bad"},
		httpClient: commonhttp.NewClient(5 * time.Second),
		baseURL:    srv.URL,
	}

	_, err := adapter.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeProviderAuthFailed, errors.CodeOf(err))
	assert.Equal(t, errors.ClassPermanent, errors.Classify(err))
}

func TestSendGridSendWithAttachments(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("X-Message-Id", "sg-msg-456")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	adapter := &sendGridAdapter{
		cfg:        sendGridConfig{APIKey: "SG.abc", FromEmail: "noreply@acme.test"},
		httpClient: commonhttp.NewClient(5 * time.Second),
		baseURL:    srv.URL,
	}

	msg := testMessage()
	msg.Attachments = []models.Attachment{testAttachment()}
	_, err := adapter.Send(context.Background(), msg)
	require.NoError(t, err)

	atts, ok := gotBody["attachments"].([]interface{})
	require.True(t, ok, "request carries an attachments array")
	require.Len(t, atts, 1)
	att := atts[0].(map[string]interface{})
	assert.Equal(t, "invoice.pdf", att["filename"])
	assert.Equal(t, "application/pdf", att["type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 fake invoice body")), att["content"])
}

func TestMailgunSendParsesMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "api", user)
		assert.Equal(t, "key-123", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dana@example.com", r.PostForm.Get("to"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"<20260901.abc@mg.acme.test>","message":"Queued. Thank you."}`))
	}))
	defer srv.Close()

	adapter := &mailgunAdapter{
		cfg:        mailgunConfig{APIKey: "key-123", Domain: "mg.acme.test"},
		httpClient: commonhttp.NewClient(5 * time.Second),
		baseURL:    srv.URL,
	}

	result, err := adapter.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "20260901.abc@mg.acme.test", result.ProviderMessageID)
}

func TestMailgunSendWithAttachmentsUsesMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "dana@example.com", r.FormValue("to"))
		assert.Equal(t, "Welcome", r.FormValue("subject"))

		file, header, err := r.FormFile("attachment")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "invoice.pdf", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.4 fake invoice body"), content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"<20260901.def@mg.acme.test>","message":"Queued. Thank you."}`))
	}))
	defer srv.Close()

	adapter := &mailgunAdapter{
		cfg:        mailgunConfig{APIKey: "key-123", Domain: "mg.acme.test"},
		httpClient: commonhttp.NewClient(5 * time.Second),
		baseURL:    srv.URL,
	}

	msg := testMessage()
	msg.Attachments = []models.Attachment{testAttachment()}
	result, err := adapter.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "20260901.def@mg.acme.test", result.ProviderMessageID)
}

func TestPostmarkSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-1", r.Header.Get("X-Postmark-Server-Token"))
		var req postmarkSendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "outbound", req.MessageStream)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"MessageID":"pm-550e8400","ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	adapter := &postmarkAdapter{
		cfg:        postmarkConfig{ServerToken: "tok-1", MessageStream: "outbound", FromEmail: "x@y.test"},
		httpClient: commonhttp.NewClient(5 * time.Second),
		baseURL:    srv.URL,
	}

	result, err := adapter.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "pm-550e8400", result.ProviderMessageID)
}

func TestResendSendSetsIdempotencyKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"re-1234"}`))
	}))
	defer srv.Close()

	adapter := &resendAdapter{
		cfg:        resendConfig{APIKey: "re_key"},
		httpClient: commonhttp.NewClient(5 * time.Second),
		baseURL:    srv.URL,
	}

	msg := testMessage()
	msg.IdempotencyKey = "team-1:welcome-42"
	result, err := adapter.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "re-1234", result.ProviderMessageID)
	assert.Equal(t, "team-1:welcome-42", gotKey)
}

func TestHTTPAdapterRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := &resendAdapter{
		cfg:        resendConfig{APIKey: "re_key"},
		httpClient: commonhttp.NewClient(5 * time.Second),
		baseURL:    srv.URL,
	}

	_, err := adapter.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeProviderRateLimited, errors.CodeOf(err))
	assert.Equal(t, errors.ClassTransient, errors.Classify(err))
}

func TestHTTPAdapterServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := &postmarkAdapter{
		cfg:        postmarkConfig{ServerToken: "tok", MessageStream: "outbound"},
		httpClient: commonhttp.NewClient(5 * time.Second),
		baseURL:    srv.URL,
	}

	_, err := adapter.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeProviderUnavailable, errors.CodeOf(err))
	assert.Equal(t, errors.ClassTransient, errors.Classify(err))
}

func TestVerifyReportsFailureWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	adapter := &sendGridAdapter{
		cfg:        sendGridConfig{APIKey: "revoked"},
		httpClient: commonhttp.NewClient(5 * time.Second),
		baseURL:    srv.URL,
	}

	result, err := adapter.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Contains(t, result.Detail, "401")
}

// ==========================
// Classification
// ==========================

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantCode  errors.ErrorCode
		wantClass errors.Classification
	}{
		{429, errors.ErrCodeProviderRateLimited, errors.ClassTransient},
		{401, errors.ErrCodeProviderAuthFailed, errors.ClassPermanent},
		{403, errors.ErrCodeProviderAuthFailed, errors.ClassPermanent},
		{400, errors.ErrCodeProviderRejected, errors.ClassPermanent},
		{422, errors.ErrCodeProviderRejected, errors.ClassPermanent},
		{500, errors.ErrCodeProviderUnavailable, errors.ClassTransient},
		{503, errors.ErrCodeProviderUnavailable, errors.ClassTransient},
		{418, errors.ErrCodeProviderUnknownResponse, errors.ClassUnknown},
	}

	for _, tt := range tests {
		err := classifyHTTPStatus("test", tt.status, "")
		assert.Equal(t, tt.wantCode, errors.CodeOf(err), "status %d", tt.status)
		assert.Equal(t, tt.wantClass, errors.Classify(err), "status %d", tt.status)
	}
}

func TestClassifyTransportErrorDeadline(t *testing.T) {
	err := classifyTransportError("test", context.DeadlineExceeded)
	assert.Equal(t, errors.ErrCodeProviderTimeout, errors.CodeOf(err))
	assert.Equal(t, errors.ClassTransient, errors.Classify(err))
}

func TestSMTPClassify(t *testing.T) {
	a := &smtpAdapter{cfg: smtpConfig{Host: "mail.acme.test"}}

	err := a.classify(stderr("SMTP authentication failed: 535 5.7.8"))
	assert.Equal(t, errors.ErrCodeProviderAuthFailed, errors.CodeOf(err))
	assert.Equal(t, errors.ClassPermanent, errors.Classify(err))

	err = a.classify(stderr("550 no such user"))
	assert.Equal(t, errors.ErrCodeProviderRejected, errors.CodeOf(err))

	err = a.classify(stderr("failed to connect to SMTP server: dial tcp: connection refused"))
	assert.Equal(t, errors.ErrCodeProviderUnavailable, errors.CodeOf(err))
	assert.Equal(t, errors.ClassTransient, errors.Classify(err))
}

type stderr string

func (e stderr) Error() string { return string(e) }

// ==========================
// MIME building
// ==========================

func TestBuildMIMESinglePart(t *testing.T) {
	raw := buildMIME("noreply@acme.test", "", testMessage())
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "noreply@acme.test", parsed.Header.Get("From"))
	assert.Equal(t, "Welcome", parsed.Header.Get("Subject"))
	assert.Contains(t, parsed.Header.Get("Content-Type"), "text/html")

	body, err := io.ReadAll(parsed.Body)
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello Dana</p>", string(body))
}

func TestBuildMIMEWithAttachments(t *testing.T) {
	msg := testMessage()
	msg.Attachments = []models.Attachment{testAttachment()}

	raw := buildMIME("noreply@acme.test", "<msg-1@acme.test>", msg)
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/mixed", mediaType)
	require.NotEmpty(t, params["boundary"])

	mr := multipart.NewReader(parsed.Body, params["boundary"])

	body, err := mr.NextPart()
	require.NoError(t, err)
	assert.Contains(t, body.Header.Get("Content-Type"), "text/html")
	content, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Hello Dana")

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", att.Header.Get("Content-Type"))
	assert.Equal(t, "base64", att.Header.Get("Content-Transfer-Encoding"))
	assert.Equal(t, `attachment; filename="invoice.pdf"`, att.Header.Get("Content-Disposition"))

	encoded, err := io.ReadAll(att)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 fake invoice body"), decoded)

	_, err = mr.NextPart()
	assert.Equal(t, io.EOF, err)
}

func TestWrapBase64FoldsLongContent(t *testing.T) {
	wrapped := string(wrapBase64(bytes.Repeat([]byte{0xAB}, 300)))
	for _, line := range strings.Split(wrapped, "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(wrapped, "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, 300), decoded)
}
