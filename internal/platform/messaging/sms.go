package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultSMSURL is the aggregator's bulk messaging endpoint.
const DefaultSMSURL = "https://api.africastalking.com/version1/messaging"

// StatusSubmitted is the per-recipient status code the aggregator returns
// when a message has been handed to the carrier for delivery.
const StatusSubmitted = 101

// SMSSender sends text messages through an SMS aggregator that reports
// per-recipient outcomes in the JSON body.
type SMSSender struct {
	apiKey   string
	username string
	senderID string
	opts     options
}

// NewSMSSender creates an SMS adapter. Empty credentials are accepted;
// every Send then fails with ErrNotConfigured.
func NewSMSSender(apiKey, username, senderID string, opts ...Option) *SMSSender {
	o := defaultOptions(DefaultSMSURL)
	for _, fn := range opts {
		fn(&o)
	}
	return &SMSSender{
		apiKey:   apiKey,
		username: username,
		senderID: senderID,
		opts:     o,
	}
}

// Configured reports whether credentials are present.
func (s *SMSSender) Configured() bool {
	return s.apiKey != "" && s.username != ""
}

type smsRecipient struct {
	StatusCode int    `json:"statusCode"`
	Number     string `json:"number"`
	Status     string `json:"status"`
	MessageID  string `json:"messageId"`
}

type smsResponse struct {
	SMSMessageData struct {
		Message    string         `json:"Message"`
		Recipients []smsRecipient `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// Send submits body for the recipient. A leading "+" is removed from to.
// Only a recipient status of StatusSubmitted counts as success; an HTTP 200
// carrying any other status is a failure.
func (s *SMSSender) Send(ctx context.Context, to, body string) error {
	if !s.Configured() {
		s.opts.logger.Warn().Str("channel", "sms").Msg("sms credentials missing, message not sent")
		return fmt.Errorf("sms: %w", ErrNotConfigured)
	}

	recipient := strings.TrimPrefix(strings.TrimSpace(to), "+")
	if recipient == "" {
		return fmt.Errorf("sms: empty recipient")
	}

	form := url.Values{}
	form.Set("username", s.username)
	form.Set("to", recipient)
	form.Set("message", body)
	if s.senderID != "" {
		form.Set("from", s.senderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", s.apiKey)

	resp, err := s.opts.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms: non-2xx response: %d: %s", resp.StatusCode, truncate(respBody))
	}

	var out smsResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fmt.Errorf("sms: decode response: %w", err)
	}
	recipients := out.SMSMessageData.Recipients
	if len(recipients) == 0 {
		return fmt.Errorf("sms: no recipients in response: %s", out.SMSMessageData.Message)
	}
	if rc := recipients[0]; rc.StatusCode != StatusSubmitted {
		return fmt.Errorf("sms: provider status %d (%s)", rc.StatusCode, rc.Status)
	}

	s.opts.logger.Debug().
		Str("channel", "sms").
		Str("message_id", recipients[0].MessageID).
		Msg("message accepted")
	return nil
}
