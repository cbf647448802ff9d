package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode"
)

// DefaultWhatsAppURL is the Graph API root for the WhatsApp Business Cloud API.
const DefaultWhatsAppURL = "https://graph.facebook.com/v18.0"

// WhatsAppSender sends text messages through the WhatsApp Business Cloud API.
type WhatsAppSender struct {
	accessToken   string
	phoneNumberID string
	opts          options
}

// NewWhatsAppSender creates a WhatsApp adapter. Empty credentials are
// accepted; every Send then fails with ErrNotConfigured.
func NewWhatsAppSender(accessToken, phoneNumberID string, opts ...Option) *WhatsAppSender {
	o := defaultOptions(DefaultWhatsAppURL)
	for _, fn := range opts {
		fn(&o)
	}
	return &WhatsAppSender{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		opts:          o,
	}
}

// Configured reports whether credentials are present.
func (s *WhatsAppSender) Configured() bool {
	return s.accessToken != "" && s.phoneNumberID != ""
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send posts body to the recipient. The provider only accepts digits, so
// every other character is stripped from to. Success requires a 2xx status
// and a message id in the response.
func (s *WhatsAppSender) Send(ctx context.Context, to, body string) error {
	if !s.Configured() {
		s.opts.logger.Warn().Str("channel", "whatsapp").Msg("whatsapp credentials missing, message not sent")
		return fmt.Errorf("whatsapp: %w", ErrNotConfigured)
	}

	recipient := digitsOnly(to)
	if recipient == "" {
		return fmt.Errorf("whatsapp: recipient %q has no digits", to)
	}

	payload, err := json.Marshal(whatsAppRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "text",
		Text:             whatsAppText{Body: body},
	})
	if err != nil {
		return fmt.Errorf("whatsapp: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", strings.TrimRight(s.opts.baseURL, "/"), s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.opts.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp: non-2xx response: %d: %s", resp.StatusCode, truncate(respBody))
	}

	var out whatsAppResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fmt.Errorf("whatsapp: decode response: %w", err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return fmt.Errorf("whatsapp: response carried no message id")
	}

	s.opts.logger.Debug().
		Str("channel", "whatsapp").
		Str("message_id", out.Messages[0].ID).
		Msg("message accepted")
	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}
