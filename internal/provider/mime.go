// internal/provider/mime.go
package provider

import (
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// buildMIME renders msg as a complete RFC 5322 message. With attachments the
// body is multipart/mixed with base64-encoded parts; without them it is a
// single html or text part. Used by the SMTP adapter and the SES raw path.
func buildMIME(from, messageID string, msg *Message) []byte {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	if msg.ReplyTo != "" {
		b.WriteString(fmt.Sprintf("Reply-To: %s\r\n", msg.ReplyTo))
	}
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	if messageID != "" {
		b.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	}
	for k, v := range msg.Headers {
		b.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	b.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 {
		if msg.HTML != "" {
			b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
			b.WriteString(msg.HTML)
		} else {
			b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
			b.WriteString(msg.Text)
		}
		return []byte(b.String())
	}

	var body strings.Builder
	w := multipart.NewWriter(&body)
	b.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q\r\n\r\n", w.Boundary()))

	bodyHeader := textproto.MIMEHeader{}
	bodyContent := msg.Text
	bodyHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	if msg.HTML != "" {
		bodyContent = msg.HTML
		bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
	}
	part, _ := w.CreatePart(bodyHeader)
	part.Write([]byte(bodyContent))

	for _, att := range msg.Attachments {
		h := textproto.MIMEHeader{}
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		part, _ := w.CreatePart(h)
		part.Write(wrapBase64(att.Content))
	}
	w.Close()

	b.WriteString(body.String())
	return []byte(b.String())
}

// wrapBase64 encodes data folded at the RFC 2045 line limit.
func wrapBase64(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	var out strings.Builder
	for len(encoded) > 76 {
		out.WriteString(encoded[:76])
		out.WriteString("\r\n")
		encoded = encoded[76:]
	}
	out.WriteString(encoded)
	return []byte(out.String())
}
